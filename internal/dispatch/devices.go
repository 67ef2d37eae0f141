package dispatch

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/bms-assistant/internal/diagnose"
	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/format"
	"github.com/ziadkadry99/bms-assistant/internal/notifications"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

const (
	healthReadings  = 5
	predictReadings = 10
	staleAfter      = 24 * time.Hour
)

// Overheat risk thresholds on the current temperature, °C.
const (
	overheatHigh   = 80.0
	overheatMedium = 70.0
	overheatLow    = 60.0
)

var units = map[string]string{
	"temperature": "°C",
	"humidity":    "%",
	"battery":     "V",
}

// Temperature reports the latest temperature of one device, or of every
// targeted device when the text says "all" or "every".
func (h *Handlers) Temperature(ctx context.Context, st State) State {
	if st.Entities.Bulk && st.Device == "" {
		return h.bulkTemperature(ctx, st)
	}
	d, msg := h.resolve(ctx, st)
	if msg != "" {
		st.Result = msg
		return st
	}
	st = withDevice(st, d)

	series, err := h.platform.GetTelemetry(ctx, d.ID, []string{"temperature"}, platform.Window{Limit: 1})
	if err != nil {
		return h.failure(st, "fetch temperature for "+d.Name, err)
	}
	v := latest(series, "temperature")
	if v == "" {
		st.Result = fmt.Sprintf("No temperature data found for %s. Please check if the device supports this metric or try another device.", d.Name)
		return st
	}
	st.Result = fmt.Sprintf("Temperature for %s: %s°C", d.Name, v)
	return st
}

func (h *Handlers) bulkTemperature(ctx context.Context, st State) State {
	devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
	if err != nil {
		return h.failure(st, "list devices", err)
	}
	byID := make(map[string]platform.Device, len(devices))
	cands := make([]entity.Candidate, len(devices))
	for i, d := range devices {
		byID[d.ID] = d
		cands[i] = entity.Candidate{ID: d.ID, Name: d.Name}
	}
	ids := h.extractor.Targets(st.Input, cands)

	values := make([]string, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, id := range ids {
		g.Go(func() error {
			series, err := h.platform.GetTelemetry(gctx, id, []string{"temperature"}, platform.Window{Limit: 1})
			if err != nil {
				h.logger.Debug("bulk temperature fetch", zap.String("device_id", id), zap.Error(err))
				return nil
			}
			values[i] = latest(series, "temperature")
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return h.failure(st, "fetch temperatures", err)
	}

	var rows [][]string
	for i, id := range ids {
		if values[i] != "" {
			rows = append(rows, []string{byID[id].Name, values[i] + "°C"})
		}
	}
	if len(rows) == 0 {
		st.Result = "No temperature data found for the selected devices."
		return st
	}
	st.Result = fmt.Sprintf("**Temperature for %d devices:**\n\n%s", len(rows), format.Table([]string{"Device", "Temperature"}, rows))
	return st
}

// Telemetry reports the latest value of the named metric, or lists the
// device's telemetry keys when no metric was named.
func (h *Handlers) Telemetry(ctx context.Context, st State) State {
	d, msg := h.resolve(ctx, st)
	if msg != "" {
		st.Result = msg
		return st
	}
	st = withDevice(st, d)

	key := st.Entities.Metric
	if key == "" {
		keys, err := h.platform.TelemetryKeys(ctx, d.ID)
		if err != nil {
			return h.failure(st, "list telemetry for "+d.Name, err)
		}
		if len(keys) == 0 {
			st.Result = fmt.Sprintf("No telemetry data found for %s. Please check if the device is online or try another device.", d.Name)
			return st
		}
		st.Result = fmt.Sprintf("Available telemetry types for %s: %s. Please specify one (e.g., 'Show %s for %s').",
			d.Name, strings.Join(keys, ", "), keys[0], d.Name)
		return st
	}

	series, err := h.platform.GetTelemetry(ctx, d.ID, []string{key}, platform.Window{Limit: 1})
	if err != nil {
		return h.failure(st, "fetch "+key+" for "+d.Name, err)
	}
	v := latest(series, key)
	if v == "" {
		st.Result = fmt.Sprintf("No %s data found for %s. Please check if the device supports this metric or try another device.", key, d.Name)
		return st
	}
	st.Result = fmt.Sprintf("%s for %s: %s%s", titleCase(key), d.Name, v, units[key])
	return st
}

// IsOnline reports connectivity from the directory's activity flag.
func (h *Handlers) IsOnline(ctx context.Context, st State) State {
	d, msg := h.resolve(ctx, st)
	if msg != "" {
		st.Result = msg
		return st
	}
	st = withDevice(st, d)

	if d.Active {
		st.Result = fmt.Sprintf("Device %s is online.", d.Name)
		return st
	}
	st.Result = fmt.Sprintf("Device %s is offline.", d.Name)
	if !d.LastActivity.IsZero() {
		st.Result = fmt.Sprintf("Device %s is offline (last seen %s ago).", d.Name, ago(h.now().Sub(d.LastActivity)))
	}
	st.Events = append(st.Events, h.offlineEvent(d))
	return st
}

// TelemetryHealth reports whether a device is still sending data.
func (h *Handlers) TelemetryHealth(ctx context.Context, st State) State {
	d, msg := h.resolve(ctx, st)
	if msg != "" {
		st.Result = msg
		return st
	}
	st = withDevice(st, d)

	keys, err := h.platform.TelemetryKeys(ctx, d.ID)
	if err != nil {
		return h.failure(st, "check telemetry for "+d.Name, err)
	}
	if len(keys) == 0 {
		st.Result = fmt.Sprintf("Device %s is NOT sending telemetry.", d.Name)
		return st
	}
	if silent := h.now().Sub(d.LastActivity); !d.LastActivity.IsZero() && silent > staleAfter {
		st.Result = fmt.Sprintf("Device %s has telemetry (keys: %s) but has not reported for %s.", d.Name, strings.Join(keys, ", "), ago(silent))
		return st
	}
	st.Result = fmt.Sprintf("Device %s is sending telemetry (keys: %s).", d.Name, strings.Join(keys, ", "))
	return st
}

// Health combines status, health insights and the self-healing plan.
func (h *Handlers) Health(ctx context.Context, st State) State {
	d, msg := h.resolve(ctx, st)
	if msg != "" {
		st.Result = msg
		return st
	}
	st = withDevice(st, d)

	snap, window, err := h.snapshot(ctx, d, healthReadings)
	if err != nil {
		return h.failure(st, "check health of "+d.Name, err)
	}
	diag := diagnose.Diagnose(snap, window)
	in := diagnose.AnalyzeHealth(snap, h.now())

	var b strings.Builder
	fmt.Fprintf(&b, "**Device %s health status: %s**\n", d.Name, d.Status())
	if len(in.Warnings) > 0 {
		b.WriteString("\nWarnings:\n")
		for _, w := range in.Warnings {
			fmt.Fprintf(&b, "- %s\n", w)
		}
	}
	if len(in.Recommendations) > 0 {
		b.WriteString("\nRecommendations:\n")
		for _, r := range in.Recommendations {
			fmt.Fprintf(&b, "- %s\n", r)
		}
	}
	b.WriteString("\n")
	b.WriteString(diagnose.HealingPlan(diag))
	st.Result = b.String()

	if !d.Active {
		st.Events = append(st.Events, h.offlineEvent(d))
	}
	if snap.Battery != nil {
		st.Events = append(st.Events, notifications.Event{
			Type:       notifications.EventBattery,
			DeviceID:   d.ID,
			DeviceName: d.Name,
			Battery:    snap.Battery,
		})
	}
	return st
}

// Predict grades overheat risk from the current temperature and flags
// anomalous readings in the recent window.
func (h *Handlers) Predict(ctx context.Context, st State) State {
	d, msg := h.resolve(ctx, st)
	if msg != "" {
		st.Result = msg
		return st
	}
	st = withDevice(st, d)

	series, err := h.platform.GetTelemetry(ctx, d.ID, []string{"temperature"}, platform.Window{Limit: predictReadings})
	if err != nil {
		return h.failure(st, "predict overheat risk for "+d.Name, err)
	}
	readings := toReadings(series["temperature"])

	var b strings.Builder
	fmt.Fprintf(&b, "**Overheat Risk Prediction for %s:**\n", d.Name)
	current, ok := 0.0, false
	if len(readings) > 0 {
		current, ok = parseFloat(readings[0].Value)
	}
	if !ok {
		b.WriteString("- Status: No temperature data available\n")
		b.WriteString("- Recommendation: Check device connectivity and sensor status")
		st.Result = b.String()
		return st
	}

	level, assessment := overheatRisk(current)
	fmt.Fprintf(&b, "- Current Temperature: %.1f°C\n", current)
	fmt.Fprintf(&b, "- Risk Level: %s\n", level)
	fmt.Fprintf(&b, "- Assessment: %s", assessment)
	if anomalies := diagnose.DetectAnomalies(d.ID, readings); len(anomalies) > 0 {
		fmt.Fprintf(&b, "\n- Anomalies: %d reading(s) outside the expected range", len(anomalies))
		for _, a := range anomalies {
			fmt.Fprintf(&b, "\n  - %.1f°C (expected %s)", a.Value, a.ExpectedRange())
		}
	}
	st.Result = b.String()
	return st
}

func overheatRisk(c float64) (level, assessment string) {
	switch {
	case c > overheatHigh:
		return "HIGH", "Immediate attention required"
	case c > overheatMedium:
		return "MEDIUM", "Monitor closely"
	case c > overheatLow:
		return "LOW", "Normal operation"
	default:
		return "NONE", "Optimal temperature"
	}
}

type batteryReading struct {
	device platform.Device
	volts  float64
}

// LowBattery scans every device's latest battery voltage concurrently and
// lists those under the replacement threshold. Devices whose telemetry
// cannot be read are skipped.
func (h *Handlers) LowBattery(ctx context.Context, st State) State {
	devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
	if err != nil {
		return h.failure(st, "check battery levels", err)
	}

	found := make([]*batteryReading, len(devices))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, d := range devices {
		g.Go(func() error {
			series, err := h.platform.GetTelemetry(gctx, d.ID, []string{"battery"}, platform.Window{Limit: 1})
			if err != nil {
				h.logger.Debug("battery fetch", zap.String("device", d.Name), zap.Error(err))
				return nil
			}
			if v, ok := parseFloat(latest(series, "battery")); ok && v < diagnose.LowBatteryVolts {
				found[i] = &batteryReading{device: d, volts: v}
			}
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return h.failure(st, "check battery levels", err)
	}

	var low []string
	for _, r := range found {
		if r == nil {
			continue
		}
		v := r.volts
		low = append(low, fmt.Sprintf("%s (%.2fV)", r.device.Name, v))
		st.Events = append(st.Events, notifications.Event{
			Type:       notifications.EventBattery,
			DeviceID:   r.device.ID,
			DeviceName: r.device.Name,
			Battery:    &v,
		})
	}
	if len(low) == 0 {
		st.Result = "No devices with low battery found."
		return st
	}
	st.Result = fmt.Sprintf("Devices with low battery (< %.1fV): %s", diagnose.LowBatteryVolts, strings.Join(low, ", "))
	return st
}

// Devices summarizes the directory, narrowed to a named location when
// the text mentions one.
func (h *Handlers) Devices(ctx context.Context, st State) State {
	devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
	if err != nil {
		return h.failure(st, "fetch devices", err)
	}
	loc := st.Entities.Location
	if loc == "" {
		st.Result = format.DeviceSummary(devices)
		return st
	}

	var kept []platform.Device
	for _, d := range devices {
		if inLocation(d, loc) {
			kept = append(kept, d)
		}
	}
	if len(kept) == 0 {
		st.Result = fmt.Sprintf("No devices found in %s.", loc)
		return st
	}
	st.Result = format.DeviceSummary(kept)
	return st
}

func inLocation(d platform.Device, loc string) bool {
	loc = strings.ToLower(loc)
	if strings.Contains(strings.ToLower(d.Label), loc) || strings.Contains(strings.ToLower(d.Name), loc) {
		return true
	}
	norm := entity.NormalizeLocation(loc)
	return norm != "" && entity.NormalizeLocation(d.Label) == norm
}

// snapshot gathers what the diagnostic rules need about d: status, last
// activity, the latest battery voltage and up to n temperature readings.
func (h *Handlers) snapshot(ctx context.Context, d platform.Device, n int) (diagnose.Snapshot, diagnose.Window, error) {
	snap := diagnose.Snapshot{DeviceID: d.ID, Name: d.Name, Status: d.Status(), LastSeen: d.LastActivity}
	series, err := h.platform.GetTelemetry(ctx, d.ID, []string{"temperature", "battery"}, platform.Window{Limit: n})
	if err != nil {
		return snap, nil, err
	}
	if v, ok := parseFloat(latest(series, "battery")); ok {
		snap.Battery = &v
	}
	return snap, diagnose.Window{"temperature": toReadings(series["temperature"])}, nil
}

func toReadings(pts []platform.Point) []diagnose.Reading {
	out := make([]diagnose.Reading, len(pts))
	for i, p := range pts {
		out[i] = diagnose.Reading{Timestamp: p.Timestamp, Value: p.Value}
	}
	return out
}

func (h *Handlers) offlineEvent(d platform.Device) notifications.Event {
	ev := notifications.Event{
		Type:       notifications.EventDeviceStatus,
		DeviceID:   d.ID,
		DeviceName: d.Name,
		Status:     platform.StatusOffline,
	}
	if !d.LastActivity.IsZero() {
		ev.OfflineFor = h.now().Sub(d.LastActivity)
	}
	return ev
}
