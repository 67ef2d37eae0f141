package notifications

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/ziadkadry99/bms-assistant/internal/db"
)

// ErrNotFound is returned when a notification does not exist.
var ErrNotFound = errors.New("notification not found")

// ListFilter controls which notifications are returned by List.
type ListFilter struct {
	UserID    string
	Type      EventType
	Priority  Priority
	Delivered *bool
	Since     time.Time
	Limit     int
	Offset    int
}

// Store persists notifications and delivery preferences.
type Store struct {
	db *db.DB
}

// NewStore creates a Store backed by the given database.
func NewStore(database *db.DB) *Store {
	return &Store{db: database}
}

const notificationColumns = `id, user_id, rule, type, priority, device_id, device_name, message, channels, action_required, delivered, created_at`

// Create inserts n, filling ID and CreatedAt when empty, and returns the
// stored record.
func (s *Store) Create(ctx context.Context, n Notification) (Notification, error) {
	if n.ID == "" {
		n.ID = uuid.New().String()
	}
	if n.CreatedAt.IsZero() {
		n.CreatedAt = time.Now()
	}
	n.CreatedAt = n.CreatedAt.UTC()

	channels, err := json.Marshal(n.Channels)
	if err != nil {
		return n, fmt.Errorf("marshalling channels: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO notifications (`+notificationColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		n.ID, n.UserID, n.Rule, string(n.Type), string(n.Priority), n.DeviceID, n.DeviceName,
		n.Message, string(channels), boolInt(n.ActionRequired), boolInt(n.Delivered), n.CreatedAt,
	)
	if err != nil {
		return n, fmt.Errorf("inserting notification: %w", err)
	}
	return n, nil
}

// GetByID retrieves a single notification.
func (s *Store) GetByID(ctx context.Context, id string) (*Notification, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+notificationColumns+` FROM notifications WHERE id = ?`, id)
	n, err := scanInto(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	return n, err
}

// List returns notifications matching the filter, newest first.
func (s *Store) List(ctx context.Context, filter ListFilter) ([]Notification, error) {
	var (
		clauses []string
		args    []any
	)

	if filter.UserID != "" {
		clauses = append(clauses, "user_id = ?")
		args = append(args, filter.UserID)
	}
	if filter.Type != "" {
		clauses = append(clauses, "type = ?")
		args = append(args, string(filter.Type))
	}
	if filter.Priority != "" {
		clauses = append(clauses, "priority = ?")
		args = append(args, string(filter.Priority))
	}
	if filter.Delivered != nil {
		clauses = append(clauses, "delivered = ?")
		args = append(args, boolInt(*filter.Delivered))
	}
	if !filter.Since.IsZero() {
		clauses = append(clauses, "created_at >= ?")
		args = append(args, filter.Since.UTC())
	}

	query := "SELECT " + notificationColumns + " FROM notifications"
	if len(clauses) > 0 {
		query += " WHERE " + strings.Join(clauses, " AND ")
	}
	query += " ORDER BY created_at DESC, rowid DESC"

	if filter.Limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", filter.Limit)
		if filter.Offset > 0 {
			query += fmt.Sprintf(" OFFSET %d", filter.Offset)
		}
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying notifications: %w", err)
	}
	defer rows.Close()

	var result []Notification
	for rows.Next() {
		n, err := scanInto(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, *n)
	}
	return result, rows.Err()
}

// MarkDelivered sets delivered=1 for the given notification.
func (s *Store) MarkDelivered(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "UPDATE notifications SET delivered = 1 WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("marking notification delivered: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	return nil
}

// GetPending returns all undelivered notifications.
func (s *Store) GetPending(ctx context.Context) ([]Notification, error) {
	delivered := false
	return s.List(ctx, ListFilter{Delivered: &delivered})
}

// SetPreference upserts a delivery preference.
func (s *Store) SetPreference(ctx context.Context, pref Preference) error {
	if pref.MinPriority == "" {
		pref.MinPriority = PriorityLow
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_preferences (user_id, channel, webhook_url, min_priority, enabled)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id, channel) DO UPDATE SET
			webhook_url = excluded.webhook_url,
			min_priority = excluded.min_priority,
			enabled = excluded.enabled`,
		pref.UserID, pref.Channel, pref.WebhookURL, string(pref.MinPriority), boolInt(pref.Enabled),
	)
	if err != nil {
		return fmt.Errorf("upserting preference: %w", err)
	}
	return nil
}

// GetPreferences returns all delivery preferences for a user.
func (s *Store) GetPreferences(ctx context.Context, userID string) ([]Preference, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT user_id, channel, webhook_url, min_priority, enabled
		FROM notification_preferences WHERE user_id = ? ORDER BY channel`, userID)
	if err != nil {
		return nil, fmt.Errorf("querying preferences: %w", err)
	}
	defer rows.Close()

	var prefs []Preference
	for rows.Next() {
		var (
			p       Preference
			minP    string
			enabled int
		)
		if err := rows.Scan(&p.UserID, &p.Channel, &p.WebhookURL, &minP, &enabled); err != nil {
			return nil, fmt.Errorf("scanning preference: %w", err)
		}
		p.MinPriority = Priority(minP)
		p.Enabled = enabled != 0
		prefs = append(prefs, p)
	}
	return prefs, rows.Err()
}

// scanner is implemented by both *sql.Row and *sql.Rows.
type scanner interface {
	Scan(dest ...any) error
}

func scanInto(sc scanner) (*Notification, error) {
	var (
		n                         Notification
		ntype, priority, channels string
		action, delivered         int
	)
	err := sc.Scan(&n.ID, &n.UserID, &n.Rule, &ntype, &priority, &n.DeviceID, &n.DeviceName,
		&n.Message, &channels, &action, &delivered, &n.CreatedAt)
	if err != nil {
		return nil, err
	}
	n.Type = EventType(ntype)
	n.Priority = Priority(priority)
	n.ActionRequired = action != 0
	n.Delivered = delivered != 0
	if err := json.Unmarshal([]byte(channels), &n.Channels); err != nil {
		n.Channels = nil
	}
	return &n, nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
