package dispatch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/bms-assistant/internal/audit"
	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/intent"
	"github.com/ziadkadry99/bms-assistant/internal/notifications"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

// DefaultUserID owns turns that arrive without a user.
const DefaultUserID = "default"

const (
	handlerHistory    = 5
	auditSummaryLimit = 200
)

var (
	// ErrEmptyInput is returned for blank text.
	ErrEmptyInput = errors.New("empty input")
	// ErrUnknownIntent is returned when a request forces an intent outside
	// the closed set.
	ErrUnknownIntent = errors.New("unknown intent")
)

// Auditor records audit entries.
type Auditor interface {
	Log(ctx context.Context, entry audit.Entry) error
}

// Notifier turns events into user notifications.
type Notifier interface {
	Notify(ctx context.Context, userID string, ev notifications.Event) (*notifications.Notification, error)
}

// Request is one inbound turn.
type Request struct {
	UserID string `json:"user_id"`
	Text   string `json:"text"`
	// Device optionally pins the turn to a device ID or name.
	Device string `json:"device,omitempty"`
	// Intent optionally bypasses routing. It must name a known intent.
	Intent string `json:"intent,omitempty"`
}

// Reply is the outcome of a turn.
type Reply struct {
	TurnID   string          `json:"turn_id"`
	Intent   intent.Intent   `json:"intent"`
	Rule     string          `json:"rule,omitempty"`
	Tool     string          `json:"tool"`
	Result   string          `json:"result"`
	Device   string          `json:"device,omitempty"`
	DeviceID string          `json:"device_id,omitempty"`
	Entities entity.Entities `json:"entities"`
	// Notifications are the user's queued notifications, drained by this
	// turn.
	Notifications []session.Notification `json:"notifications,omitempty"`
	Duration      time.Duration          `json:"duration"`
}

// Engine runs turns: extract, route, dispatch, then record the turn,
// audit it and raise notifications. Turns for the same user run one at a
// time; different users proceed concurrently.
type Engine struct {
	sessions  *session.Store
	table     Table
	extractor *entity.Extractor
	router    *intent.Router
	auditor   Auditor
	notifier  Notifier
	logger    *zap.Logger
	now       func() time.Time
	locks     userLocks
}

// EngineOption configures an Engine.
type EngineOption func(*Engine)

// WithRouter replaces the default rule cascade.
func WithRouter(r *intent.Router) EngineOption {
	return func(e *Engine) { e.router = r }
}

// WithExtractor replaces the default extractor.
func WithExtractor(x *entity.Extractor) EngineOption {
	return func(e *Engine) { e.extractor = x }
}

// WithAuditor records every turn and side effect.
func WithAuditor(a Auditor) EngineOption {
	return func(e *Engine) { e.auditor = a }
}

// WithNotifier feeds handler events to the notification rules.
func WithNotifier(n Notifier) EngineOption {
	return func(e *Engine) { e.notifier = n }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) EngineOption {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) { e.now = now }
}

// NewEngine creates an engine over sessions and table.
func NewEngine(sessions *session.Store, table Table, opts ...EngineOption) *Engine {
	e := &Engine{
		sessions:  sessions,
		table:     table,
		extractor: entity.NewExtractor(),
		router:    intent.NewRouter(),
		logger:    zap.NewNop(),
		now:       time.Now,
		locks:     userLocks{m: make(map[string]*userLock)},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Sessions returns the session store the engine records turns in.
func (e *Engine) Sessions() *session.Store { return e.sessions }

// Route extracts entities and resolves the intent for text as the user's
// next turn would, without dispatching.
func (e *Engine) Route(ctx context.Context, userID, text string) (entity.Entities, intent.Intent, string) {
	if userID == "" {
		userID = DefaultUserID
	}
	ents := e.extractor.Extract(text)
	var c session.Context
	if snap, err := e.sessions.Get(userID); err == nil {
		c = snap.Context
	}
	in, rule := e.router.Explain(text, ents, routeContext(c))
	return ents, in, rule
}

func routeContext(c session.Context) intent.Context {
	return intent.Context{AlarmFollowUp: c.LastAlarmQuery != nil}
}

// Handle runs one turn. Only malformed requests return an error; every
// handler outcome, including collaborator failures, is a Reply.
func (e *Engine) Handle(ctx context.Context, req Request) (*Reply, error) {
	text := strings.TrimSpace(req.Text)
	if text == "" {
		return nil, ErrEmptyInput
	}
	var forced intent.Intent
	if req.Intent != "" {
		in, ok := intent.Parse(req.Intent)
		if !ok {
			return nil, fmt.Errorf("%w: %q", ErrUnknownIntent, req.Intent)
		}
		forced = in
	}
	user := req.UserID
	if user == "" {
		user = DefaultUserID
	}

	unlock := e.locks.lock(user)
	defer unlock()

	start := e.now()
	sctx := e.sessions.Context(ctx, user)
	ents := e.extractor.Extract(text)

	in, rule := forced, "explicit"
	if forced == "" {
		in, rule = e.router.Explain(text, ents, routeContext(sctx))
	}

	st := e.table.Dispatch(ctx, State{
		Input:    text,
		UserID:   user,
		Entities: ents,
		Intent:   in,
		Device:   strings.TrimSpace(req.Device),
		Session:  sctx,
		History:  e.sessions.GetRecent(ctx, user, handlerHistory),
	})
	if st.Err != nil {
		e.logger.Warn("handler failed",
			zap.String("user_id", user),
			zap.String("intent", in.String()),
			zap.Error(st.Err))
	}

	if st.AlarmQuery != nil {
		q := st.AlarmQuery
		e.sessions.UpdateContext(ctx, user, func(c *session.Context) { c.LastAlarmQuery = q })
	}

	var device, deviceID string
	if st.Resolved != nil {
		device, deviceID = st.Resolved.Name, st.Resolved.ID
	}
	turn := e.sessions.RecordTurn(ctx, user, session.Turn{
		Query:    text,
		Response: st.Result,
		Device:   device,
		Intent:   in.String(),
	})
	elapsed := e.now().Sub(start)

	e.logger.Info("turn handled",
		zap.String("user_id", user),
		zap.String("intent", in.String()),
		zap.String("rule", rule),
		zap.String("device", device),
		zap.Bool("failed", st.Failed),
		zap.Duration("duration", elapsed))

	e.record(ctx, user, text, st, deviceID, elapsed)
	e.raise(ctx, user, st.Events)

	return &Reply{
		TurnID:        turn.ID,
		Intent:        in,
		Rule:          rule,
		Tool:          st.Tool,
		Result:        st.Result,
		Device:        device,
		DeviceID:      deviceID,
		Entities:      ents,
		Notifications: e.sessions.DrainNotifications(ctx, user),
		Duration:      elapsed,
	}, nil
}

func (e *Engine) record(ctx context.Context, user, text string, st State, deviceID string, elapsed time.Duration) {
	if e.auditor == nil {
		return
	}
	action := audit.ActionTurn
	if st.Failed {
		action = audit.ActionFailure
	}
	entries := []audit.Entry{{
		UserID:   user,
		Action:   action,
		Intent:   st.Intent.String(),
		Query:    text,
		DeviceID: deviceID,
		Summary:  summarize(st.Result),
		Duration: elapsed,
	}}
	for _, fx := range st.Effects {
		entries = append(entries, audit.Entry{
			UserID:   user,
			Action:   fx.Action,
			Intent:   st.Intent.String(),
			Query:    text,
			DeviceID: fx.DeviceID,
			Summary:  fx.Summary,
		})
	}
	for _, en := range entries {
		if err := e.auditor.Log(ctx, en); err != nil {
			e.logger.Warn("writing audit entry", zap.String("action", string(en.Action)), zap.Error(err))
		}
	}
}

func (e *Engine) raise(ctx context.Context, user string, events []notifications.Event) {
	if e.notifier == nil {
		return
	}
	for _, ev := range events {
		if _, err := e.notifier.Notify(ctx, user, ev); err != nil {
			e.logger.Warn("raising notification",
				zap.String("device", ev.DeviceName),
				zap.String("type", string(ev.Type)),
				zap.Error(err))
		}
	}
}

// summarize keeps the first line of a result, truncated for the audit log.
func summarize(result string) string {
	line, _, _ := strings.Cut(result, "\n")
	line = strings.Trim(line, "* ")
	if r := []rune(line); len(r) > auditSummaryLimit {
		line = string(r[:auditSummaryLimit]) + "..."
	}
	return line
}

// userLocks serializes turns per user. Entries are dropped once no turn
// holds or waits on them.
type userLocks struct {
	mu sync.Mutex
	m  map[string]*userLock
}

type userLock struct {
	mu   sync.Mutex
	refs int
}

func (l *userLocks) lock(user string) func() {
	l.mu.Lock()
	ul, ok := l.m[user]
	if !ok {
		ul = &userLock{}
		l.m[user] = ul
	}
	ul.refs++
	l.mu.Unlock()

	ul.mu.Lock()
	return func() {
		ul.mu.Unlock()
		l.mu.Lock()
		ul.refs--
		if ul.refs == 0 {
			delete(l.m, user)
		}
		l.mu.Unlock()
	}
}
