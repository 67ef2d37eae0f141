// Package diagnose evaluates fixed rules over a device snapshot and its
// recent telemetry. Every function here is pure.
package diagnose

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Issue types with canned remediation sequences.
const (
	IssueDeviceOffline      = "device_offline"
	IssueHighTemperature    = "high_temperature"
	IssueCommunicationError = "communication_error"
	IssueDataAnomaly        = "data_anomaly"
)

// Severities used for issues and anomalies.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
	SeverityLow    = "low"
)

const (
	// HighTemperatureC is the average above which a device runs hot.
	HighTemperatureC = 30.0
	// trendReadings is how many temperature readings the trend rule averages.
	trendReadings = 5

	offlineWeight         = 0.8
	highTemperatureWeight = 0.6
	escalationThreshold   = 0.7
)

// Strategies maps an issue type to its remediation steps, in order.
var Strategies = map[string][]string{
	IssueDeviceOffline: {
		"check_network_connectivity",
		"restart_device",
		"check_power_supply",
		"escalate_to_technician",
	},
	IssueHighTemperature: {
		"adjust_hvac_settings",
		"check_ventilation",
		"verify_sensor_accuracy",
		"schedule_maintenance",
	},
	IssueCommunicationError: {
		"retry_connection",
		"check_api_endpoints",
		"verify_authentication",
		"restart_service",
	},
	IssueDataAnomaly: {
		"validate_sensor_data",
		"check_calibration",
		"compare_with_historical",
		"flag_for_review",
	},
}

// Snapshot is what the platform reports about a device.
type Snapshot struct {
	DeviceID string
	Name     string
	Status   string // "online" or "offline"
	// Battery is the battery voltage, nil when the device reports none.
	Battery  *float64
	LastSeen time.Time
}

// Reading is one telemetry sample. Values arrive as strings and are
// skipped when they do not parse as numbers.
type Reading struct {
	Timestamp time.Time
	Value     string
}

// Window is recent telemetry keyed by metric name, newest reading first.
type Window map[string][]Reading

// Issue is one problem the rules found.
type Issue struct {
	Type        string `json:"type"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// Diagnosis is the result of Diagnose.
type Diagnosis struct {
	Issues         []Issue  `json:"issues_found"`
	HealingActions []string `json:"healing_actions"`
	// Confidence is the sum of the weights of every rule that fired. It is
	// not normalized and can exceed 1.
	Confidence                float64 `json:"confidence"`
	RequiresHumanIntervention bool    `json:"requires_human_intervention"`
}

// Diagnose runs the connectivity and temperature trend rules in order.
// Human intervention is required only when confidence exceeds 0.7 and at
// least one issue is high severity.
func Diagnose(snap Snapshot, w Window) Diagnosis {
	var d Diagnosis

	if strings.EqualFold(snap.Status, "offline") {
		d.add(Issue{
			Type:        IssueDeviceOffline,
			Severity:    SeverityHigh,
			Description: "Device is not responding",
		}, offlineWeight)
	}

	if temps := numericValues(w["temperature"], trendReadings); len(temps) > 0 {
		if avg := mean(temps); avg > HighTemperatureC {
			d.add(Issue{
				Type:        IssueHighTemperature,
				Severity:    SeverityMedium,
				Description: fmt.Sprintf("Average temperature is %.1f°C", avg),
			}, highTemperatureWeight)
		}
	}

	if d.Confidence > escalationThreshold && d.hasSeverity(SeverityHigh) {
		d.RequiresHumanIntervention = true
	}
	return d
}

func (d *Diagnosis) add(issue Issue, weight float64) {
	d.Issues = append(d.Issues, issue)
	d.HealingActions = append(d.HealingActions, Strategies[issue.Type]...)
	d.Confidence += weight
}

func (d *Diagnosis) hasSeverity(sev string) bool {
	for _, is := range d.Issues {
		if is.Severity == sev {
			return true
		}
	}
	return false
}

// numericValues parses up to the first n readings, skipping bad values.
func numericValues(readings []Reading, n int) []float64 {
	if len(readings) > n {
		readings = readings[:n]
	}
	out := make([]float64, 0, len(readings))
	for _, r := range readings {
		v, err := strconv.ParseFloat(strings.TrimSpace(r.Value), 64)
		if err != nil {
			continue
		}
		out = append(out, v)
	}
	return out
}

func mean(vs []float64) float64 {
	var sum float64
	for _, v := range vs {
		sum += v
	}
	return sum / float64(len(vs))
}
