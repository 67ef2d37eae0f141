package intent

import (
	"strings"

	"github.com/ziadkadry99/bms-assistant/internal/entity"
)

// Context is the session state the cascade may consult. Only the
// follow-up rule reads it.
type Context struct {
	// AlarmFollowUp is set when the session remembers an alarm query
	// that a "give the details" turn can expand.
	AlarmFollowUp bool
}

// Query is the input a rule predicate sees.
type Query struct {
	Lower    string
	Entities entity.Entities
	Context  Context
}

// Rule routes to Intent when Match returns true.
type Rule struct {
	Name   string
	Intent Intent
	Match  func(Query) bool
}

// Router evaluates rules top to bottom; the first match wins.
type Router struct {
	rules []Rule
}

// NewRouter builds a router. With no rules it uses DefaultRules.
func NewRouter(rules ...Rule) *Router {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	return &Router{rules: rules}
}

// Rules returns a copy of the cascade in evaluation order.
func (r *Router) Rules() []Rule {
	return append([]Rule(nil), r.rules...)
}

// Resolve returns the intent for text. It is total: when no rule matches,
// or a rule produces an intent outside the closed set, it returns Fallback.
func (r *Router) Resolve(text string, ents entity.Entities, ctx Context) Intent {
	in, _ := r.Explain(text, ents, ctx)
	return in
}

// Explain is Resolve plus the name of the rule that fired, "" for the
// fallback.
func (r *Router) Explain(text string, ents entity.Entities, ctx Context) (Intent, string) {
	q := Query{Lower: strings.ToLower(text), Entities: ents, Context: ctx}
	for _, rule := range r.rules {
		if rule.Match == nil || !rule.Match(q) {
			continue
		}
		if !rule.Intent.Valid() {
			continue
		}
		return rule.Intent, rule.Name
	}
	return Fallback, ""
}

// Keywords returns a predicate matching when any keyword is a substring of
// the lowercased query.
func Keywords(words ...string) func(Query) bool {
	return func(q Query) bool {
		return containsAny(q.Lower, words)
	}
}

var (
	alarmTerms  = []string{"alarm", "alarms", "alert", "alerts"}
	deviceTerms = []string{"device", "sensor", "tower", "room", "iaq", "rh/t", "hvac", "thermostat", "controller", "pir"}
	followUps   = []string{"give the details", "show more", "details please", "expand", "more info"}
)

// DefaultRules is the production cascade. The order encodes priority:
// scenario phrases first, then follow-ups, device-scoped alarms before
// generic alarms, and telemetry before the narrower temperature branch.
func DefaultRules() []Rule {
	return []Rule{
		{Name: "energy", Intent: EnergyOptimization, Match: Keywords("turn off hvac", "dim lights", "energy optimization", "weekend schedule", "energy savings")},
		{Name: "comfort", Intent: ComfortAdjustment, Match: Keywords("lower temperature", "comfort", "conference room", "townhall", "environmental control")},
		{Name: "predictive_maintenance", Intent: PredictiveMaintenance, Match: Keywords("likely to fail", "predictive maintenance", "system health", "maintenance schedule", "compressor strain")},
		{Name: "esg", Intent: ESGReporting, Match: Keywords("carbon emissions", "co2", "esg", "sustainability", "green building", "q3 target")},
		{Name: "cleaning", Intent: CleaningOptimization, Match: Keywords("least used restrooms", "cleaning schedule", "restroom usage", "cleaning routes")},
		{Name: "root_cause", Intent: RootCauseIdentification, Match: Keywords("why is", "warm and noisy", "environmental discomfort", "root cause", "chiller underperformance")},
		{Name: "follow_up_device", Intent: AlarmsByDevice, Match: func(q Query) bool {
			return q.Context.AlarmFollowUp && containsAny(q.Lower, followUps)
		}},
		{Name: "follow_up", Intent: Alarms, Match: Keywords(followUps...)},
		{Name: "device_alarms", Intent: AlarmsByDevice, Match: func(q Query) bool {
			if !containsAny(q.Lower, alarmTerms) {
				return false
			}
			return containsAny(q.Lower, deviceTerms) || q.Entities.DeviceToken != ""
		}},
		{Name: "alarms", Intent: Alarms, Match: Keywords("alarm", "alarms", "alert", "alerts", "issue", "problem")},
		{Name: "telemetry", Intent: Telemetry, Match: Keywords("telemetry", "sensor", "humidity", "occupancy", "motion", "reading", "readings", "sensor data", "measurements")},
		{Name: "temperature", Intent: Temperature, Match: Keywords("temperature", "temp", "thermal", "heat", "cooling")},
		{Name: "low_battery", Intent: LowBattery, Match: Keywords("low battery", "battery low", "devices with low battery", "battery status", "low power")},
		{Name: "devices", Intent: Devices, Match: Keywords("device", "devices", "list devices", "show devices", "all devices")},
		{Name: "alarm_types", Intent: AlarmTypes, Match: Keywords("alarm types", "top 3 alarm types", "most common alarms", "alarm categories")},
		{Name: "summarize_alarms", Intent: SummarizeAlarms, Match: Keywords("summarize alarms", "summary of alarms", "alarms in last 24 hours", "alarm summary", "recent alarms")},
		{Name: "is_online", Intent: IsOnline, Match: Keywords("is online", "online status", "is device online", "device status", "connection status")},
		{Name: "telemetry_health", Intent: TelemetryHealth, Match: Keywords("not sending telemetry", "disconnected", "telemetry health", "data transmission", "sensor data")},
		{Name: "health", Intent: Health, Match: Keywords("health", "health check", "device health", "system health", "status check")},
		{Name: "predict", Intent: Predict, Match: Keywords("predict", "prediction", "overheat", "risk", "forecast", "future")},
		{Name: "acknowledge", Intent: Acknowledge, Match: Keywords("acknowledge", "ack", "resolve", "clear alarm", "mark as resolved")},
		{Name: "severity", Intent: Severity, Match: Keywords("highest severity", "most severe", "worst alarm", "critical level")},
	}
}

// IsFollowUp reports whether text asks to expand the previous answer.
func IsFollowUp(text string) bool {
	return containsAny(strings.ToLower(text), followUps)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}
