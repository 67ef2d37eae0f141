package entity

// Severity is an alarm severity as reported by the platform.
type Severity string

const (
	SeverityCritical      Severity = "CRITICAL"
	SeverityMajor         Severity = "MAJOR"
	SeverityMinor         Severity = "MINOR"
	SeverityWarning       Severity = "WARNING"
	SeverityIndeterminate Severity = "INDETERMINATE"
)

// SeverityOrder lists severities from most to least severe. Extraction
// scans in this order.
var SeverityOrder = []Severity{
	SeverityCritical,
	SeverityMajor,
	SeverityMinor,
	SeverityWarning,
	SeverityIndeterminate,
}

// Action is a control verb found in a command.
type Action string

const (
	ActionNone     Action = ""
	ActionTurnOff  Action = "turn_off"
	ActionTurnOn   Action = "turn_on"
	ActionAdjust   Action = "adjust"
	ActionSchedule Action = "schedule"
)

// Entities is the structured bag extracted from one turn. Fields that were
// not found are left at their zero value.
type Entities struct {
	// DeviceToken is the raw device reference as typed. It is only an
	// identifier when IsCanonicalID reports true.
	DeviceToken string `json:"device_token,omitempty"`
	// Location is the canonical name of the first matching named location.
	Location string `json:"location,omitempty"`
	// NamePhrase is the trailing "for/in/at/of X" phrase, a candidate
	// device name when no token was given.
	NamePhrase string   `json:"name_phrase,omitempty"`
	Severity   Severity `json:"severity,omitempty"`
	Timeframe  string   `json:"timeframe,omitempty"`
	Schedule   string   `json:"schedule,omitempty"`
	Metric     string   `json:"metric,omitempty"`
	Action     Action   `json:"action,omitempty"`
	AlarmID    string   `json:"alarm_id,omitempty"`
	Degrees    *int     `json:"degrees,omitempty"`
	// Delta is a signed relative change, negative for "lower ... by N".
	Delta *int `json:"delta,omitempty"`
	// Bulk is set when the query targets "all" or "every" device.
	Bulk bool `json:"bulk,omitempty"`
}

// HasDeviceReference reports whether any device-identifying field is set.
func (e Entities) HasDeviceReference() bool {
	return e.DeviceToken != "" || e.NamePhrase != "" || e.Location != ""
}

// DeviceReference returns the most specific device reference available:
// the token, then the name phrase, then the location.
func (e Entities) DeviceReference() string {
	switch {
	case e.DeviceToken != "":
		return e.DeviceToken
	case e.NamePhrase != "":
		return e.NamePhrase
	default:
		return e.Location
	}
}
