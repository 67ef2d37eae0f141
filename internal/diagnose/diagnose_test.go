package diagnose

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func readings(vals ...string) []Reading {
	out := make([]Reading, len(vals))
	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	for i, v := range vals {
		out[i] = Reading{Timestamp: base.Add(-time.Duration(i) * time.Minute), Value: v}
	}
	return out
}

func ptr(f float64) *float64 { return &f }

func TestDiagnoseOffline(t *testing.T) {
	d := Diagnose(Snapshot{Status: "offline"}, nil)

	require.Len(t, d.Issues, 1)
	assert.Equal(t, IssueDeviceOffline, d.Issues[0].Type)
	assert.Equal(t, SeverityHigh, d.Issues[0].Severity)
	assert.InDelta(t, 0.8, d.Confidence, 1e-9)
	assert.True(t, d.RequiresHumanIntervention)
	assert.Equal(t, Strategies[IssueDeviceOffline], d.HealingActions)
}

func TestDiagnoseHighTemperature(t *testing.T) {
	d := Diagnose(Snapshot{Status: "online"}, Window{"temperature": readings("31", "30.5", "31.5", "31", "31")})

	require.Len(t, d.Issues, 1)
	assert.Equal(t, IssueHighTemperature, d.Issues[0].Type)
	assert.Equal(t, "Average temperature is 31.0°C", d.Issues[0].Description)
	assert.InDelta(t, 0.6, d.Confidence, 1e-9)
	assert.False(t, d.RequiresHumanIntervention)
}

func TestDiagnoseUsesFirstFiveReadings(t *testing.T) {
	w := Window{"temperature": readings("22", "22", "22", "22", "22", "90", "90")}
	d := Diagnose(Snapshot{Status: "online"}, w)
	assert.Empty(t, d.Issues)
	assert.Zero(t, d.Confidence)
}

func TestDiagnoseSkipsBadValues(t *testing.T) {
	w := Window{"temperature": readings("n/a", "35", "", "33")}
	d := Diagnose(Snapshot{Status: "online"}, w)
	require.Len(t, d.Issues, 1)
	assert.Equal(t, "Average temperature is 34.0°C", d.Issues[0].Description)
}

func TestDiagnoseConfidenceIsNotNormalized(t *testing.T) {
	d := Diagnose(Snapshot{Status: "OFFLINE"}, Window{"temperature": readings("40", "40", "40")})
	require.Len(t, d.Issues, 2)
	assert.InDelta(t, 1.4, d.Confidence, 1e-9)
	assert.True(t, d.RequiresHumanIntervention)
	assert.Len(t, d.HealingActions, 8)
}

func TestDetectAnomalies(t *testing.T) {
	got := DetectAnomalies("dev-1", readings("20", "21", "19", "28", "20"))
	require.Len(t, got, 1)
	assert.Equal(t, 28.0, got[0].Value)
	assert.Equal(t, "temperature_anomaly", got[0].Type)
	assert.Equal(t, "dev-1", got[0].DeviceID)
	assert.Equal(t, SeverityMedium, got[0].Severity)
	assert.Equal(t, "19.6°C - 23.6°C", got[0].ExpectedRange())
}

func TestDetectAnomaliesNeedsThreeReadings(t *testing.T) {
	assert.Empty(t, DetectAnomalies("d", readings("20", "90")))
	assert.Empty(t, DetectAnomalies("d", readings("20", "x", "90")))
	assert.Empty(t, DetectAnomalies("d", nil))
}

func TestDetectAnomaliesLooksAtTenReadings(t *testing.T) {
	vals := []string{"20", "20", "20", "20", "20", "20", "20", "20", "20", "20", "60"}
	assert.Empty(t, DetectAnomalies("d", readings(vals...)))
}

func TestAnalyzeHealth(t *testing.T) {
	now := time.Date(2026, 3, 5, 12, 0, 0, 0, time.UTC)

	tests := []struct {
		name     string
		snap     Snapshot
		status   string
		warnings []string
		recs     []string
	}{
		{
			name:   "healthy",
			snap:   Snapshot{Battery: ptr(3.9), LastSeen: now.Add(-time.Hour)},
			status: "healthy",
		},
		{
			name:     "low battery",
			snap:     Snapshot{Battery: ptr(2.85)},
			status:   "warning",
			warnings: []string{"Battery level is low (2.85V)"},
			recs:     []string{"Consider replacing battery soon"},
		},
		{
			name:   "monitor battery",
			snap:   Snapshot{Battery: ptr(3.2)},
			status: "healthy",
			recs:   []string{"Monitor battery level (3.20V)"},
		},
		{
			name:     "stale",
			snap:     Snapshot{LastSeen: now.Add(-73 * time.Hour)},
			status:   "warning",
			warnings: []string{"Device hasn't reported in 3 days"},
			recs:     []string{"Check device connectivity"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			in := AnalyzeHealth(tt.snap, now)
			assert.Equal(t, tt.status, in.Status)
			assert.Equal(t, tt.warnings, in.Warnings)
			assert.Equal(t, tt.recs, in.Recommendations)
		})
	}
}

func TestHealingPlan(t *testing.T) {
	assert.Equal(t, "No issues detected. Device is operating normally.", HealingPlan(Diagnosis{}))

	d := Diagnose(Snapshot{Status: "offline"}, Window{"temperature": readings("40", "40", "40")})
	plan := HealingPlan(d)

	assert.Contains(t, plan, "Issues Found: 2")
	assert.Contains(t, plan, "Confidence: 140.0%")
	assert.Contains(t, plan, "Human Intervention Required: Yes")
	assert.Contains(t, plan, "[high] Device Offline")
	assert.Contains(t, plan, "1. Check Network Connectivity")
	assert.Contains(t, plan, "5. Adjust Hvac Settings")
	assert.NotContains(t, plan, "6.")
	assert.True(t, strings.HasSuffix(plan, "Human intervention recommended for critical issues."))
}
