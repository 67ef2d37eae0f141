package format

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

func TestDeviceSummary(t *testing.T) {
	assert.Equal(t, "No devices found.", DeviceSummary(nil))

	var devices []platform.Device
	for i := 1; i <= 7; i++ {
		devices = append(devices, platform.Device{Name: fmt.Sprintf("Thermostat %d", i), Type: "Thermostat", Active: i%2 == 1})
	}
	devices = append(devices, platform.Device{Name: "Pump 3", Type: "Pump"})

	got := DeviceSummary(devices)
	assert.True(t, strings.HasPrefix(got, "**8 Devices Found:**"))
	assert.Contains(t, got, "**Thermostat (7):**")
	assert.Contains(t, got, "- Thermostat 1 (online)")
	assert.Contains(t, got, "- Thermostat 5 (online)")
	assert.NotContains(t, got, "Thermostat 6")
	assert.Contains(t, got, "- ... and 2 more")
	assert.Contains(t, got, "- Pump 3 (offline)")
	assert.Less(t, strings.Index(got, "Thermostat (7)"), strings.Index(got, "Pump (1)"))
}

func TestAlarmSummaryOrdersBySeverity(t *testing.T) {
	assert.Equal(t, "No active alarms found.", AlarmSummary(nil))

	alarms := []platform.Alarm{
		{Type: "Low Battery", Severity: "WARNING", Originator: "PIR"},
		{Type: "High Temperature", Severity: "critical", Originator: "Chiller 1"},
		{Type: "CO2 High", Severity: "MINOR"},
	}
	for i := 0; i < 4; i++ {
		alarms = append(alarms, platform.Alarm{Type: "Offline", Severity: "MAJOR", Originator: fmt.Sprintf("Pump %d", i)})
	}

	got := AlarmSummary(alarms)
	assert.Contains(t, got, "**7 Active Alarms:**")
	assert.Contains(t, got, "- Chiller 1: High Temperature")
	assert.Contains(t, got, "- Unknown Device: CO2 High")
	assert.Contains(t, got, "- ... and 1 more")
	assert.NotContains(t, got, "Pump 3")

	crit := strings.Index(got, "CRITICAL (1)")
	major := strings.Index(got, "MAJOR (4)")
	minor := strings.Index(got, "MINOR (1)")
	warn := strings.Index(got, "WARNING (1)")
	assert.True(t, crit < major && major < minor && minor < warn, got)
}

func TestAlarmList(t *testing.T) {
	assert.Equal(t, "Alarms\n\nNo alarms found.", AlarmList("Alarms", nil))

	got := AlarmList("**Alarms for Chiller 1:**", []platform.Alarm{
		{Type: "High Temperature", Severity: "CRITICAL", Status: "ACTIVE_UNACK", Originator: "Chiller 1"},
		{Type: "Vibration", Severity: "MAJOR", Originator: "Chiller 1"},
	})
	lines := strings.Split(got, "\n")
	require.Len(t, lines, 4)
	assert.Equal(t, "1. [CRITICAL] Chiller 1: High Temperature (?, ACTIVE_UNACK)", lines[2])
	assert.True(t, strings.HasPrefix(lines[3], "2. [MAJOR] Chiller 1: Vibration"))
}

func TestHighestSeverity(t *testing.T) {
	sev, top := HighestSeverity([]platform.Alarm{
		{ID: "1", Severity: "MINOR"},
		{ID: "2", Severity: "MAJOR"},
		{ID: "3", Severity: "major"},
	})
	assert.Equal(t, entity.SeverityMajor, sev)
	require.Len(t, top, 2)
	assert.Equal(t, "2", top[0].ID)

	sev, top = HighestSeverity(nil)
	assert.Empty(t, sev)
	assert.Empty(t, top)
}

func TestAlarmTable(t *testing.T) {
	assert.Contains(t, AlarmTable("Chiller 1", nil), "**Chiller 1 is functioning properly!**")
	assert.Contains(t, AlarmTable("", nil), "all systems")

	created := time.Date(2024, 5, 1, 10, 30, 0, 0, time.Local)
	got := AlarmTable("Chiller 1", []platform.Alarm{
		{Type: "Temperature", Severity: "CRITICAL", Status: "ACTIVE_UNACK", Originator: "Chiller 1", CreatedAt: created},
		{Type: "Vibration", Severity: "MINOR", Originator: "Chiller 1"},
	})
	assert.Contains(t, got, "**Critical Alarms:**")
	assert.Contains(t, got, "| Time | Device Name | Type | Severity | Status |")
	assert.Contains(t, got, "| 2024-05-01 10:30 | Chiller 1 | Temperature (°C) | CRITICAL | ACTIVE_UNACK |")
	assert.NotContains(t, got, "Vibration")
}

func TestTable(t *testing.T) {
	got := Table([]string{"A", "B"}, [][]string{{"x|y"}, {"1", "2", "3"}})
	assert.Equal(t, "| A | B |\n| --- | --- |\n| x\\|y |  |\n| 1 | 2 |", got)
}

func TestRenderers(t *testing.T) {
	md := "**Chiller 1:**\n\n| A | B |\n| --- | --- |\n| `1` | 2 |"

	r, err := ForName("")
	require.NoError(t, err)
	out, err := r.Render(md)
	require.NoError(t, err)
	assert.Equal(t, md, out)

	r, err = ForName("plain")
	require.NoError(t, err)
	out, err = r.Render(md)
	require.NoError(t, err)
	assert.Equal(t, "Chiller 1:\n\n| A | B |\n| 1 | 2 |", out)
	assert.Equal(t, "text/plain; charset=utf-8", r.ContentType())

	r, err = ForName("HTML")
	require.NoError(t, err)
	out, err = r.Render(md)
	require.NoError(t, err)
	assert.Contains(t, out, "<strong>Chiller 1:</strong>")
	assert.Contains(t, out, "<table>")
	assert.Contains(t, out, "<code>1</code>")

	out, err = r.Render("<script>alert(1)</script>")
	require.NoError(t, err)
	assert.NotContains(t, out, "<script>")

	_, err = ForName("pdf")
	assert.Error(t, err)
}
