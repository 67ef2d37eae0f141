// Package session keeps per-user conversational memory: turn history,
// remembered context and queued notifications.
package session

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// Session is one user's conversation. All access goes through the Store,
// which serializes turns for the same user on the session's own mutex.
type Session struct {
	mu            sync.Mutex
	userID        string
	createdAt     time.Time
	lastActivity  time.Time
	ctx           Context
	history       []Turn
	notifications []Notification
	evicted       bool
}

// UserID returns the identifier the session was created for.
func (s *Session) UserID() string { return s.userID }

// Snapshot returns a copy of the session's current state.
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshotLocked()
}

func (s *Session) snapshotLocked() Snapshot {
	return Snapshot{
		UserID:        s.userID,
		CreatedAt:     s.createdAt,
		LastActivity:  s.lastActivity,
		Context:       s.ctx.clone(),
		History:       append([]Turn(nil), s.history...),
		Notifications: append([]Notification(nil), s.notifications...),
	}
}

// Store owns every live session. Construct one per process and pass it to
// the components that need it.
type Store struct {
	mu           sync.Mutex
	sessions     map[string]*Session
	historyLimit int
	timeout      time.Duration
	now          func() time.Time
	journal      Journal
	logger       *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithHistoryLimit sets how many turns each session keeps.
func WithHistoryLimit(n int) Option {
	return func(s *Store) {
		if n > 0 {
			s.historyLimit = n
		}
	}
}

// WithTimeout sets the idle time after which Sweep evicts a session.
// Zero disables eviction.
func WithTimeout(d time.Duration) Option {
	return func(s *Store) { s.timeout = d }
}

// WithClock replaces time.Now.
func WithClock(now func() time.Time) Option {
	return func(s *Store) { s.now = now }
}

// WithJournal persists turns and context so sessions survive restarts.
func WithJournal(j Journal) Option {
	return func(s *Store) { s.journal = j }
}

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewStore creates an empty session store.
func NewStore(opts ...Option) *Store {
	s := &Store{
		sessions:     make(map[string]*Session),
		historyLimit: DefaultHistoryLimit,
		timeout:      DefaultTimeout,
		now:          time.Now,
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// GetOrCreate returns the session for userID, creating it on first use.
// Every call refreshes the session's last activity time. A new session is
// hydrated from the journal when one is configured.
func (s *Store) GetOrCreate(ctx context.Context, userID string) *Session {
	s.mu.Lock()
	sess, ok := s.sessions[userID]
	if !ok {
		now := s.now()
		sess = &Session{
			userID:       userID,
			createdAt:    now,
			lastActivity: now,
			ctx:          newContext(),
		}
		s.sessions[userID] = sess
		// Lock order is store then session; hydration runs after the
		// store lock is released so other users are not blocked on I/O.
		sess.mu.Lock()
		s.mu.Unlock()
		s.hydrate(ctx, sess)
		sess.mu.Unlock()
		return sess
	}
	s.mu.Unlock()

	sess.mu.Lock()
	sess.lastActivity = s.now()
	sess.mu.Unlock()
	return sess
}

func (s *Store) hydrate(ctx context.Context, sess *Session) {
	if s.journal == nil {
		return
	}
	if c, found, err := s.journal.LoadContext(ctx, sess.userID); err != nil {
		s.logger.Warn("loading session context", zap.String("user_id", sess.userID), zap.Error(err))
	} else if found {
		if c.Role == "" {
			c.Role = DefaultRole
		}
		if c.Preferences == nil {
			c.Preferences = map[string]string{}
		}
		sess.ctx = c
	}
	turns, err := s.journal.RecentTurns(ctx, sess.userID, s.historyLimit)
	if err != nil {
		s.logger.Warn("loading session history", zap.String("user_id", sess.userID), zap.Error(err))
		return
	}
	sess.history = turns
}

// with runs fn holding the user's session lock. A session evicted between
// lookup and lock is replaced by a fresh one.
func (s *Store) with(ctx context.Context, userID string, fn func(*Session)) {
	for {
		sess := s.GetOrCreate(ctx, userID)
		sess.mu.Lock()
		if sess.evicted {
			sess.mu.Unlock()
			continue
		}
		fn(sess)
		sess.mu.Unlock()
		return
	}
}

// RecordTurn appends a turn to the user's history and trims it to the
// history limit, oldest first, as one atomic step. The turn's device, if
// any, becomes the session's last device. The stored turn is returned with
// its ID and timestamp filled in.
func (s *Store) RecordTurn(ctx context.Context, userID string, t Turn) Turn {
	if t.ID == "" {
		t.ID = uuid.New().String()
	}
	if t.Timestamp.IsZero() {
		t.Timestamp = s.now()
	}
	s.with(ctx, userID, func(sess *Session) {
		sess.history = append(sess.history, t)
		if over := len(sess.history) - s.historyLimit; over > 0 {
			sess.history = append([]Turn(nil), sess.history[over:]...)
		}
		sess.ctx.rememberDevice(t.Device)
		if t.Intent != "" {
			sess.ctx.LastQueryType = t.Intent
		}
		if s.journal != nil {
			if err := s.journal.AppendTurn(ctx, userID, t); err != nil {
				s.logger.Warn("journaling turn", zap.String("user_id", userID), zap.Error(err))
			}
			s.saveContextLocked(ctx, sess)
		}
	})
	return t
}

// GetRecent returns up to limit of the most recent turns, oldest first.
// A non-positive limit returns the whole history.
func (s *Store) GetRecent(ctx context.Context, userID string, limit int) []Turn {
	var out []Turn
	s.with(ctx, userID, func(sess *Session) {
		h := sess.history
		if limit > 0 && len(h) > limit {
			h = h[len(h)-limit:]
		}
		out = append([]Turn(nil), h...)
	})
	return out
}

// Context returns a copy of the user's remembered context.
func (s *Store) Context(ctx context.Context, userID string) Context {
	var out Context
	s.with(ctx, userID, func(sess *Session) {
		out = sess.ctx.clone()
	})
	return out
}

// UpdateContext applies fn to the user's context under the session lock.
func (s *Store) UpdateContext(ctx context.Context, userID string, fn func(*Context)) {
	s.with(ctx, userID, func(sess *Session) {
		fn(&sess.ctx)
		if sess.ctx.Role == "" {
			sess.ctx.Role = DefaultRole
		}
		if s.journal != nil {
			s.saveContextLocked(ctx, sess)
		}
	})
}

func (s *Store) saveContextLocked(ctx context.Context, sess *Session) {
	if err := s.journal.SaveContext(ctx, sess.userID, sess.ctx, sess.createdAt, sess.lastActivity); err != nil {
		s.logger.Warn("saving session context", zap.String("user_id", sess.userID), zap.Error(err))
	}
}

// EnqueueNotification queues payload for the user. The queue keeps the
// newest entries when it overflows.
func (s *Store) EnqueueNotification(ctx context.Context, userID string, payload any) {
	n := Notification{Timestamp: s.now(), Payload: payload}
	s.with(ctx, userID, func(sess *Session) {
		sess.notifications = append(sess.notifications, n)
		if over := len(sess.notifications) - maxNotifications; over > 0 {
			sess.notifications = append([]Notification(nil), sess.notifications[over:]...)
		}
	})
}

// Notifications returns the queued notifications without removing them.
func (s *Store) Notifications(ctx context.Context, userID string) []Notification {
	var out []Notification
	s.with(ctx, userID, func(sess *Session) {
		out = append([]Notification(nil), sess.notifications...)
	})
	return out
}

// DrainNotifications returns and clears the queued notifications.
func (s *Store) DrainNotifications(ctx context.Context, userID string) []Notification {
	var out []Notification
	s.with(ctx, userID, func(sess *Session) {
		out = sess.notifications
		sess.notifications = nil
	})
	return out
}

// ErrUnknownUser is returned by Get for users without a live session.
var ErrUnknownUser = errors.New("unknown user")

// Get returns a snapshot of userID's session without creating one.
func (s *Store) Get(userID string) (Snapshot, error) {
	sess, ok := s.Lookup(userID)
	if !ok {
		return Snapshot{}, ErrUnknownUser
	}
	return sess.Snapshot(), nil
}

// Lookup returns the session for userID without creating or touching it.
func (s *Store) Lookup(userID string) (*Session, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	sess, ok := s.sessions[userID]
	return sess, ok
}

// Len returns the number of live sessions.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.sessions)
}

// Sweep evicts sessions idle for longer than the timeout and returns how
// many were removed. Sessions busy with a turn are skipped. A zero timeout
// disables eviction.
func (s *Store) Sweep(now time.Time) int {
	if s.timeout <= 0 {
		return 0
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for id, sess := range s.sessions {
		if !sess.mu.TryLock() {
			continue
		}
		if now.Sub(sess.lastActivity) > s.timeout {
			sess.evicted = true
			delete(s.sessions, id)
			removed++
		}
		sess.mu.Unlock()
	}
	return removed
}

// Run sweeps every interval until ctx is cancelled.
func (s *Store) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 || s.timeout <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := s.Sweep(s.now()); n > 0 {
				s.logger.Debug("evicted idle sessions", zap.Int("count", n))
			}
		}
	}
}
