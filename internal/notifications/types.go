package notifications

import (
	"fmt"
	"time"
)

// Priority indicates how urgently a notification must reach people.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

var priorityRank = map[Priority]int{
	PriorityLow:    0,
	PriorityMedium: 1,
	PriorityHigh:   2,
}

// AtLeast reports whether p meets or exceeds min. An empty min admits all.
func (p Priority) AtLeast(min Priority) bool {
	return priorityRank[p] >= priorityRank[min]
}

// EventType categorises the building event that may trigger a notification.
type EventType string

const (
	EventAlarm        EventType = "alarm"
	EventDeviceStatus EventType = "device_status"
	EventBattery      EventType = "battery"
)

// Delivery channels named by the rules. Webhook delivery is configured per
// user through preferences.
const (
	ChannelImmediate = "immediate"
	ChannelEmail     = "email"
	ChannelSMS       = "sms"
	ChannelWebhook   = "webhook"
)

// Event is an observation about a device fed to the rule engine.
type Event struct {
	Type       EventType     `json:"type"`
	DeviceID   string        `json:"device_id"`
	DeviceName string        `json:"device_name"`
	Severity   string        `json:"severity,omitempty"`
	Status     string        `json:"status,omitempty"`
	Battery    *float64      `json:"battery,omitempty"`
	OfflineFor time.Duration `json:"offline_for,omitempty"`
	Message    string        `json:"message,omitempty"`
}

func (e Event) deviceName() string {
	if e.DeviceName == "" {
		return "Unknown Device"
	}
	return e.DeviceName
}

func (e Event) offlineFor() string {
	if e.OfflineFor <= 0 {
		return "unknown"
	}
	h := int(e.OfflineFor.Hours())
	if h >= 24 {
		return fmt.Sprintf("%dd %dh", h/24, h%24)
	}
	if h > 0 {
		return fmt.Sprintf("%dh", h)
	}
	return fmt.Sprintf("%dm", int(e.OfflineFor.Minutes()))
}

// Notification is a persisted notification record.
type Notification struct {
	ID             string    `json:"id"`
	UserID         string    `json:"user_id,omitempty"`
	Rule           string    `json:"rule"`
	Type           EventType `json:"type"`
	Priority       Priority  `json:"priority"`
	DeviceID       string    `json:"device_id,omitempty"`
	DeviceName     string    `json:"device_name,omitempty"`
	Message        string    `json:"message"`
	Channels       []string  `json:"channels"`
	ActionRequired bool      `json:"action_required"`
	Delivered      bool      `json:"delivered"`
	CreatedAt      time.Time `json:"created_at"`
}

// Preference stores a user's delivery settings for one channel.
type Preference struct {
	UserID      string   `json:"user_id"`
	Channel     string   `json:"channel"`
	WebhookURL  string   `json:"webhook_url,omitempty"`
	MinPriority Priority `json:"min_priority"`
	Enabled     bool     `json:"enabled"`
}
