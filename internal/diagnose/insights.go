package diagnose

import (
	"fmt"
	"math"
	"time"
)

const (
	anomalyReadings   = 10
	anomalyMinSamples = 3
	anomalyToleranceC = 5.0
	expectedBandC     = 2.0

	monitorBatteryV = 3.5
	staleAfter      = 24 * time.Hour
)

// LowBatteryVolts is the voltage below which a battery needs replacing.
const LowBatteryVolts = 3.0

// Anomaly is a temperature reading far from the window mean.
type Anomaly struct {
	Type        string  `json:"type"`
	DeviceID    string  `json:"device_id"`
	Value       float64 `json:"value"`
	ExpectedLow float64 `json:"expected_low"`
	ExpectedHi  float64 `json:"expected_high"`
	Severity    string  `json:"severity"`
}

// ExpectedRange formats the band a normal reading falls in.
func (a Anomaly) ExpectedRange() string {
	return fmt.Sprintf("%.1f°C - %.1f°C", a.ExpectedLow, a.ExpectedHi)
}

// DetectAnomalies flags readings among the first ten that deviate from
// their mean by more than 5°C. Fewer than three usable readings yield
// nothing.
func DetectAnomalies(deviceID string, readings []Reading) []Anomaly {
	temps := numericValues(readings, anomalyReadings)
	if len(temps) < anomalyMinSamples {
		return nil
	}
	avg := mean(temps)

	var out []Anomaly
	for _, v := range temps {
		if math.Abs(v-avg) > anomalyToleranceC {
			out = append(out, Anomaly{
				Type:        "temperature_anomaly",
				DeviceID:    deviceID,
				Value:       v,
				ExpectedLow: avg - expectedBandC,
				ExpectedHi:  avg + expectedBandC,
				Severity:    SeverityMedium,
			})
		}
	}
	return out
}

// Insights is a health verdict with its supporting messages.
type Insights struct {
	Status          string   `json:"status"` // "healthy" or "warning"
	Warnings        []string `json:"warnings"`
	Recommendations []string `json:"recommendations"`
}

// AnalyzeHealth checks battery voltage and staleness as of now.
func AnalyzeHealth(snap Snapshot, now time.Time) Insights {
	in := Insights{Status: "healthy"}

	if b := snap.Battery; b != nil {
		switch {
		case *b < LowBatteryVolts:
			in.Status = "warning"
			in.Warnings = append(in.Warnings, fmt.Sprintf("Battery level is low (%.2fV)", *b))
			in.Recommendations = append(in.Recommendations, "Consider replacing battery soon")
		case *b < monitorBatteryV:
			in.Recommendations = append(in.Recommendations, fmt.Sprintf("Monitor battery level (%.2fV)", *b))
		}
	}

	if !snap.LastSeen.IsZero() {
		if age := now.Sub(snap.LastSeen); age > staleAfter {
			in.Status = "warning"
			in.Warnings = append(in.Warnings, fmt.Sprintf("Device hasn't reported in %d days", int(age.Hours()/24)))
			in.Recommendations = append(in.Recommendations, "Check device connectivity")
		}
	}
	return in
}
