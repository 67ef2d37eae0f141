package notifications

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/ziadkadry99/bms-assistant/internal/session"
	"go.uber.org/zap"
)

// Inbox is the per-user session queue notifications are pushed to.
type Inbox interface {
	Context(ctx context.Context, userID string) session.Context
	EnqueueNotification(ctx context.Context, userID string, payload any)
}

// Digest summarises a user's notifications over a time period.
type Digest struct {
	UserID        string           `json:"user_id"`
	Period        string           `json:"period"`
	Notifications []Notification   `json:"notifications"`
	ByPriority    map[Priority]int `json:"by_priority"`
	Summary       string           `json:"summary"`
}

// Dispatcher evaluates events, persists the resulting notifications and
// delivers them to the session inbox and webhook subscribers.
type Dispatcher struct {
	engine *Engine
	store  *Store
	inbox  Inbox
	client *http.Client
	logger *zap.Logger
}

// NewDispatcher creates a Dispatcher. store and inbox may be nil.
func NewDispatcher(engine *Engine, store *Store, inbox Inbox, logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		engine: engine,
		store:  store,
		inbox:  inbox,
		client: &http.Client{Timeout: 10 * time.Second},
		logger: logger,
	}
}

// Notify evaluates ev for userID. It returns nil when no rule fires.
// Delivery failures are logged, not returned.
func (d *Dispatcher) Notify(ctx context.Context, userID string, ev Event) (*Notification, error) {
	n, ok := d.engine.Evaluate(ev)
	if !ok {
		return nil, nil
	}
	n.UserID = userID
	n.CreatedAt = time.Now()

	if d.store != nil {
		stored, err := d.store.Create(ctx, n)
		if err != nil {
			return nil, fmt.Errorf("creating notification: %w", err)
		}
		n = stored
	}

	delivered := false
	if d.inbox != nil && userID != "" {
		role := d.inbox.Context(ctx, userID).Role
		d.inbox.EnqueueNotification(ctx, userID, map[string]any{
			"id":              n.ID,
			"rule":            n.Rule,
			"priority":        n.Priority,
			"channels":        n.Channels,
			"action_required": n.ActionRequired,
			"message":         FormatForRole(n, role),
		})
		delivered = true
	}
	if d.deliverWebhooks(ctx, n) {
		delivered = true
	}

	if delivered && d.store != nil {
		if err := d.store.MarkDelivered(ctx, n.ID); err != nil {
			d.logger.Warn("marking notification delivered", zap.String("id", n.ID), zap.Error(err))
		} else {
			n.Delivered = true
		}
	}

	d.logger.Info("notification raised",
		zap.String("rule", n.Rule),
		zap.String("priority", string(n.Priority)),
		zap.String("device", n.DeviceName),
		zap.String("user", userID))
	return &n, nil
}

func (d *Dispatcher) deliverWebhooks(ctx context.Context, n Notification) bool {
	if d.store == nil || n.UserID == "" {
		return false
	}
	prefs, err := d.store.GetPreferences(ctx, n.UserID)
	if err != nil {
		d.logger.Warn("loading notification preferences", zap.String("user", n.UserID), zap.Error(err))
		return false
	}

	payload, err := json.Marshal(n)
	if err != nil {
		return false
	}
	sent := false
	for _, pref := range prefs {
		if !pref.Enabled || pref.WebhookURL == "" || !n.Priority.AtLeast(pref.MinPriority) {
			continue
		}
		if err := d.SendWebhook(ctx, pref.WebhookURL, payload); err != nil {
			d.logger.Warn("webhook delivery failed", zap.String("url", pref.WebhookURL), zap.Error(err))
			continue
		}
		sent = true
	}
	return sent
}

// GenerateDigest summarises a user's notifications since the given time.
func (d *Dispatcher) GenerateDigest(ctx context.Context, userID string, since time.Time) (*Digest, error) {
	if d.store == nil {
		return nil, fmt.Errorf("notification store not configured")
	}
	matched, err := d.store.List(ctx, ListFilter{UserID: userID, Since: since})
	if err != nil {
		return nil, fmt.Errorf("listing notifications for digest: %w", err)
	}

	byPriority := make(map[Priority]int)
	for _, n := range matched {
		byPriority[n.Priority]++
	}

	return &Digest{
		UserID: userID,
		Period: fmt.Sprintf("%s to %s",
			since.UTC().Format(time.RFC3339),
			time.Now().UTC().Format(time.RFC3339)),
		Notifications: matched,
		ByPriority:    byPriority,
		Summary: fmt.Sprintf("%d notification(s) for %s: %d high, %d medium, %d low",
			len(matched), userID, byPriority[PriorityHigh], byPriority[PriorityMedium], byPriority[PriorityLow]),
	}, nil
}

// SendWebhook POSTs payload to the given URL.
func (d *Dispatcher) SendWebhook(ctx context.Context, url string, payload []byte) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("creating webhook request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := d.client.Do(req)
	if err != nil {
		return fmt.Errorf("sending webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
