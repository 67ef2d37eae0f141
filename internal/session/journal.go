package session

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ziadkadry99/bms-assistant/internal/db"
)

// Journal persists sessions outside the process.
type Journal interface {
	AppendTurn(ctx context.Context, userID string, t Turn) error
	RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error)
	SaveContext(ctx context.Context, userID string, c Context, createdAt, lastActivity time.Time) error
	LoadContext(ctx context.Context, userID string) (Context, bool, error)
}

// SQLJournal stores turns and contexts in SQLite.
type SQLJournal struct {
	db *db.DB
}

// NewSQLJournal creates a journal backed by database.
func NewSQLJournal(database *db.DB) *SQLJournal {
	return &SQLJournal{db: database}
}

// AppendTurn inserts a turn.
func (j *SQLJournal) AppendTurn(ctx context.Context, userID string, t Turn) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO turns (id, user_id, timestamp, query, response, device, intent)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		t.ID, userID, t.Timestamp.UTC(), t.Query, t.Response, t.Device, t.Intent,
	)
	if err != nil {
		return fmt.Errorf("inserting turn: %w", err)
	}
	return nil
}

// RecentTurns returns up to limit of the user's latest turns, oldest first.
func (j *SQLJournal) RecentTurns(ctx context.Context, userID string, limit int) ([]Turn, error) {
	if limit <= 0 {
		limit = DefaultHistoryLimit
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, query, response, device, intent FROM (
		     SELECT id, timestamp, query, response, device, intent, rowid AS seq
		     FROM turns WHERE user_id = ? ORDER BY timestamp DESC, seq DESC LIMIT ?
		 ) ORDER BY timestamp ASC, seq ASC`,
		userID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("querying turns: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Query, &t.Response, &t.Device, &t.Intent); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// History returns a page of the user's turns, newest first.
func (j *SQLJournal) History(ctx context.Context, userID string, limit, offset int) ([]Turn, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, timestamp, query, response, device, intent FROM turns
		 WHERE user_id = ? ORDER BY timestamp DESC, rowid DESC LIMIT ? OFFSET ?`,
		userID, limit, offset,
	)
	if err != nil {
		return nil, fmt.Errorf("querying history: %w", err)
	}
	defer rows.Close()

	var turns []Turn
	for rows.Next() {
		var t Turn
		if err := rows.Scan(&t.ID, &t.Timestamp, &t.Query, &t.Response, &t.Device, &t.Intent); err != nil {
			return nil, fmt.Errorf("scanning turn: %w", err)
		}
		turns = append(turns, t)
	}
	return turns, rows.Err()
}

// SaveContext upserts the user's context.
func (j *SQLJournal) SaveContext(ctx context.Context, userID string, c Context, createdAt, lastActivity time.Time) error {
	data, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshaling context: %w", err)
	}
	_, err = j.db.ExecContext(ctx,
		`INSERT INTO sessions (user_id, role, context, created_at, last_activity)
		 VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
		     role = excluded.role,
		     context = excluded.context,
		     last_activity = excluded.last_activity`,
		userID, c.Role, string(data), createdAt.UTC(), lastActivity.UTC(),
	)
	if err != nil {
		return fmt.Errorf("saving context: %w", err)
	}
	return nil
}

// LoadContext returns the user's saved context, if any.
func (j *SQLJournal) LoadContext(ctx context.Context, userID string) (Context, bool, error) {
	var raw string
	err := j.db.QueryRowContext(ctx,
		`SELECT context FROM sessions WHERE user_id = ?`, userID,
	).Scan(&raw)
	if err == sql.ErrNoRows {
		return Context{}, false, nil
	}
	if err != nil {
		return Context{}, false, fmt.Errorf("loading context: %w", err)
	}
	var c Context
	if err := json.Unmarshal([]byte(raw), &c); err != nil {
		return Context{}, false, fmt.Errorf("parsing context: %w", err)
	}
	return c, true, nil
}
