// Package intent maps a turn's text and entities to exactly one named
// action using an ordered rule cascade.
package intent

// Intent is a named action. The set is closed: every value the router
// returns is listed in All.
type Intent string

const (
	EnergyOptimization      Intent = "energy_optimization"
	ComfortAdjustment       Intent = "comfort_adjustment"
	PredictiveMaintenance   Intent = "predictive_maintenance"
	ESGReporting            Intent = "esg_reporting"
	CleaningOptimization    Intent = "cleaning_optimization"
	RootCauseIdentification Intent = "root_cause_identification"
	AlarmsByDevice          Intent = "alarms_by_device"
	Alarms                  Intent = "alarms"
	Telemetry               Intent = "telemetry"
	Temperature             Intent = "temperature"
	LowBattery              Intent = "low_battery"
	Devices                 Intent = "devices"
	AlarmTypes              Intent = "alarm_types"
	SummarizeAlarms         Intent = "summarize_alarms"
	IsOnline                Intent = "is_online"
	TelemetryHealth         Intent = "telemetry_health"
	Health                  Intent = "health"
	Predict                 Intent = "predict"
	Acknowledge             Intent = "acknowledge"
	Severity                Intent = "severity"
	Fallback                Intent = "fallback"
)

// All lists every intent in cascade order, fallback last.
var All = []Intent{
	EnergyOptimization,
	ComfortAdjustment,
	PredictiveMaintenance,
	ESGReporting,
	CleaningOptimization,
	RootCauseIdentification,
	AlarmsByDevice,
	Alarms,
	Telemetry,
	Temperature,
	LowBattery,
	Devices,
	AlarmTypes,
	SummarizeAlarms,
	IsOnline,
	TelemetryHealth,
	Health,
	Predict,
	Acknowledge,
	Severity,
	Fallback,
}

func (i Intent) String() string { return string(i) }

// Valid reports whether i is a member of the closed set.
func (i Intent) Valid() bool {
	for _, v := range All {
		if v == i {
			return true
		}
	}
	return false
}

// Parse returns the intent with the given name.
func Parse(name string) (Intent, bool) {
	i := Intent(name)
	return i, i.Valid()
}

// AlarmScoped reports whether a turn routed to i should be remembered as
// the target of a later "give the details" follow-up.
func (i Intent) AlarmScoped() bool {
	return i == Alarms || i == AlarmsByDevice
}
