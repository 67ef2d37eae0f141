// Package audit records every handled turn and every side effect on the
// building, so operators can trace which rule routed a request and what it
// changed.
package audit

import "time"

// Action describes what was done.
type Action string

const (
	ActionTurn        Action = "turn_handled"
	ActionCommand     Action = "command_sent"
	ActionAcknowledge Action = "alarm_acknowledged"
	ActionFailure     Action = "turn_failed"
)

// Entry is a single audit trail record.
type Entry struct {
	ID        string        `json:"id"`
	Timestamp time.Time     `json:"timestamp"`
	UserID    string        `json:"user_id"`
	Action    Action        `json:"action"`
	Intent    string        `json:"intent,omitempty"`
	Query     string        `json:"query,omitempty"`
	DeviceID  string        `json:"device_id,omitempty"`
	Summary   string        `json:"summary,omitempty"`
	Duration  time.Duration `json:"duration"`
}

// IntentCount is the number of turns routed to one intent.
type IntentCount struct {
	Intent string `json:"intent"`
	Count  int    `json:"count"`
}
