package session

import "time"

// DefaultHistoryLimit is how many turns a session keeps.
const DefaultHistoryLimit = 20

// DefaultTimeout is how long a session may sit idle before Sweep evicts it.
const DefaultTimeout = time.Hour

// maxNotifications bounds the per-session notification queue.
const maxNotifications = 100

// maxRecentDevices bounds Context.RecentDevices.
const maxRecentDevices = 5

// DefaultRole is the role of a session nobody has assigned one to.
const DefaultRole = "user"

// Turn is one request/response exchange.
type Turn struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	Device    string    `json:"device,omitempty"`
	Intent    string    `json:"intent,omitempty"`
}

// Notification is a queued message for the user, shown on their next turn
// or fetched by a client.
type Notification struct {
	Timestamp time.Time `json:"timestamp"`
	Payload   any       `json:"payload"`
}

// AlarmRef is the part of an alarm a follow-up query needs.
type AlarmRef struct {
	ID         string    `json:"id"`
	Severity   string    `json:"severity"`
	Type       string    `json:"type"`
	Originator string    `json:"originator"`
	CreatedAt  time.Time `json:"created_at"`
}

// AlarmQuery remembers the last alarm-scoped query so that "give the
// details" can expand it.
type AlarmQuery struct {
	DeviceID string     `json:"device_id,omitempty"`
	Device   string     `json:"device,omitempty"`
	Building string     `json:"building,omitempty"`
	Severity string     `json:"severity,omitempty"`
	Alarms   []AlarmRef `json:"alarms,omitempty"`
}

// Context is the remembered state of a conversation.
type Context struct {
	LastDevice     string            `json:"last_device,omitempty"`
	LastQueryType  string            `json:"last_query_type,omitempty"`
	RecentDevices  []string          `json:"recent_devices,omitempty"`
	Role           string            `json:"role"`
	Preferences    map[string]string `json:"preferences,omitempty"`
	LastAlarmQuery *AlarmQuery       `json:"last_alarm_query,omitempty"`
}

func newContext() Context {
	return Context{Role: DefaultRole, Preferences: map[string]string{}}
}

// clone returns a deep copy so callers never share slices or maps with
// the session.
func (c Context) clone() Context {
	out := c
	out.RecentDevices = append([]string(nil), c.RecentDevices...)
	out.Preferences = make(map[string]string, len(c.Preferences))
	for k, v := range c.Preferences {
		out.Preferences[k] = v
	}
	if c.LastAlarmQuery != nil {
		q := *c.LastAlarmQuery
		q.Alarms = append([]AlarmRef(nil), c.LastAlarmQuery.Alarms...)
		out.LastAlarmQuery = &q
	}
	return out
}

// rememberDevice moves device to the front of RecentDevices.
func (c *Context) rememberDevice(device string) {
	if device == "" {
		return
	}
	c.LastDevice = device
	out := []string{device}
	for _, d := range c.RecentDevices {
		if d != device && len(out) < maxRecentDevices {
			out = append(out, d)
		}
	}
	c.RecentDevices = out
}

// Snapshot is a point-in-time copy of a session.
type Snapshot struct {
	UserID        string         `json:"user_id"`
	CreatedAt     time.Time      `json:"created_at"`
	LastActivity  time.Time      `json:"last_activity"`
	Context       Context        `json:"context"`
	History       []Turn         `json:"history"`
	Notifications []Notification `json:"notifications"`
}
