package dispatch

import (
	"context"
	"fmt"
	"regexp"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ziadkadry99/bms-assistant/internal/audit"
	"github.com/ziadkadry99/bms-assistant/internal/diagnose"
	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/knowledge"
	"github.com/ziadkadry99/bms-assistant/internal/llm"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

// Setpoint limits accepted by comfort adjustments, °C.
const (
	MinSetpoint = 16.0
	MaxSetpoint = 28.0
)

const (
	dimLevel = 30

	healthScoreFloor   = 70.0
	serviceDueHours    = 4000.0
	maintenanceWindow  = "the next 7 days"
	rootCauseResults   = 3
	fallbackHistory    = 4
	fallbackMaxTokens  = 600
	fallbackSystemText = "You are a building management assistant for facility managers. " +
		"Answer briefly and practically. If the question needs live device data you do not have, " +
		"say which device or metric the user should ask about."
)

var conferenceRoomRe = regexp.MustCompile(`conference room\s*([a-z])\b`)

// climateTypes are device types that accept temperature setpoints.
var climateTypes = []string{"hvac", "thermostat", "fcu"}

// EnergyOptimization switches HVAC on or off, or dims lighting, in a
// named zone.
func (h *Handlers) EnergyOptimization(ctx context.Context, st State) State {
	lower := strings.ToLower(st.Input)
	zone := st.Entities.Location

	var system, state string
	switch {
	case strings.Contains(lower, "dim light"):
		system, state = "lighting", "dim"
	case strings.Contains(lower, "hvac"):
		system = "hvac"
		switch {
		case st.Entities.Action == entity.ActionTurnOff || strings.Contains(lower, "hvac off"):
			state = "off"
		case st.Entities.Action == entity.ActionTurnOn || strings.Contains(lower, "hvac on"):
			state = "on"
		}
	}
	if zone == "" || state == "" {
		st.Result = "Please specify both zone and action (e.g., 'Turn off HVAC in east wing' or 'Dim lights in main hall')."
		return st
	}

	devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
	if err != nil {
		return h.failure(st, "list devices", err)
	}
	var target *platform.Device
	for i, d := range devices {
		if inLocation(d, zone) && strings.Contains(strings.ToLower(d.Type), system) {
			target = &devices[i]
			break
		}
	}
	if target == nil {
		st.Result = fmt.Sprintf("No %s device found for %s.", system, zone)
		return st
	}
	st = withDevice(st, *target)

	method, params := "setHVAC", map[string]any{"state": state}
	if system == "lighting" {
		method, params = "setLightLevel", map[string]any{"level": dimLevel}
	}
	if st.Entities.Schedule != "" {
		params["schedule"] = st.Entities.Schedule
	}
	resp, err := h.platform.SendCommand(ctx, target.ID, method, params)
	if err != nil {
		return h.failure(st, fmt.Sprintf("send %s to %s", method, target.Name), err)
	}

	summary := fmt.Sprintf("%s in %s set to %s", strings.ToUpper(system), titleCase(zone), state)
	if st.Entities.Schedule != "" {
		summary += " (schedule: " + st.Entities.Schedule + ")"
	}
	st.Result = fmt.Sprintf("%s via %s. Device response: %s", summary, target.Name, string(resp))
	st.Effects = append(st.Effects, Effect{Action: audit.ActionCommand, DeviceID: target.ID, Summary: method + ": " + summary})
	return st
}

// ValidateSetpoint reports whether t is an allowed setpoint. The message
// explains the outcome either way.
func ValidateSetpoint(t float64) (bool, string) {
	switch {
	case t < MinSetpoint:
		return false, fmt.Sprintf("Temperature %.1f°C is below the minimum allowed temperature of %.0f°C. Please set a temperature between %.0f°C and %.0f°C.", t, MinSetpoint, MinSetpoint, MaxSetpoint)
	case t > MaxSetpoint:
		return false, fmt.Sprintf("Temperature %.1f°C is above the maximum allowed temperature of %.0f°C. Please set a temperature between %.0f°C and %.0f°C.", t, MaxSetpoint, MinSetpoint, MaxSetpoint)
	}
	return true, fmt.Sprintf("Temperature %.1f°C is within the allowed range (%.0f°C to %.0f°C).", t, MinSetpoint, MaxSetpoint)
}

// ComfortAdjustment changes the temperature of a zone's climate device,
// either by a relative amount or to an absolute setpoint. The new
// setpoint is validated before any command is sent.
func (h *Handlers) ComfortAdjustment(ctx context.Context, st State) State {
	lower := strings.ToLower(st.Input)
	zone := st.Entities.Location
	if m := conferenceRoomRe.FindStringSubmatch(lower); m != nil {
		zone = "conference room " + m[1]
	}

	var target platform.Device
	if zone != "" {
		devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
		if err != nil {
			return h.failure(st, "list devices", err)
		}
		found := false
		for _, d := range devices {
			if inLocation(d, zone) && isClimate(d) {
				target, found = d, true
				break
			}
		}
		if !found {
			st.Result = fmt.Sprintf("No HVAC device found for %s.", zone)
			return st
		}
	} else {
		d, msg := h.resolve(ctx, st)
		if msg != "" {
			st.Result = msg
			return st
		}
		target = d
	}
	st = withDevice(st, target)

	series, err := h.platform.GetTelemetry(ctx, target.ID, []string{"temperature", "setpoint"}, platform.Window{Limit: 1})
	if err != nil {
		return h.failure(st, "read temperature for "+target.Name, err)
	}
	current, haveCurrent := parseFloat(latest(series, "temperature"))

	var next float64
	switch {
	case st.Entities.Delta != nil:
		if !haveCurrent {
			st.Result = "Unable to determine current temperature for comfort adjustment. Please check the device telemetry data."
			return st
		}
		next = current + float64(*st.Entities.Delta)
	case st.Entities.Degrees != nil:
		next = float64(*st.Entities.Degrees)
	default:
		var b strings.Builder
		if haveCurrent {
			fmt.Fprintf(&b, "%s is currently at %.1f°C", target.Name, current)
			if sp := latest(series, "setpoint"); sp != "" {
				fmt.Fprintf(&b, " (setpoint %s°C)", sp)
			}
			b.WriteString(". ")
		}
		b.WriteString("Tell me how to adjust it, e.g. 'lower the temperature by 2 degrees'.")
		st.Result = b.String()
		return st
	}

	if ok, msg := ValidateSetpoint(next); !ok {
		st.Result = msg
		return st
	}
	resp, err := h.platform.SendCommand(ctx, target.ID, "setTemperature", map[string]any{"value": next})
	if err != nil {
		return h.failure(st, "set temperature on "+target.Name, err)
	}
	place := target.Name
	if zone != "" {
		place = titleCase(zone)
	}
	summary := fmt.Sprintf("Temperature in %s set to %.1f°C", place, next)
	st.Result = fmt.Sprintf("%s. Device response: %s", summary, string(resp))
	st.Effects = append(st.Effects, Effect{Action: audit.ActionCommand, DeviceID: target.ID, Summary: "setTemperature: " + summary})
	return st
}

func isClimate(d platform.Device) bool {
	t := strings.ToLower(d.Type)
	for _, c := range climateTypes {
		if strings.Contains(t, c) {
			return true
		}
	}
	return false
}

// PredictiveMaintenance checks HVAC, lighting and chiller equipment for
// low health scores, overdue service, active alarms and anomalous
// temperatures.
func (h *Handlers) PredictiveMaintenance(ctx context.Context, st State) State {
	lower := strings.ToLower(st.Input)
	var systems []string
	for _, s := range []string{"hvac", "lighting", "chiller"} {
		if strings.Contains(lower, s) {
			systems = append(systems, s)
		}
	}
	if len(systems) == 0 {
		systems = []string{"hvac", "lighting", "chiller"}
	}

	devices, err := h.platform.ListDevices(ctx, platform.DeviceFilter{})
	if err != nil {
		return h.failure(st, "run predictive maintenance", err)
	}
	var relevant []platform.Device
	for _, d := range devices {
		t, n := strings.ToLower(d.Type), strings.ToLower(d.Name)
		for _, s := range systems {
			if strings.Contains(t, s) || strings.Contains(n, s) {
				relevant = append(relevant, d)
				break
			}
		}
	}

	findings := make([][]string, len(relevant))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxConcurrentFetches)
	for i, d := range relevant {
		g.Go(func() error {
			out, err := h.maintenanceFindings(gctx, d)
			if err != nil {
				h.logger.Warn("predictive maintenance check", zap.String("device", d.Name), zap.Error(err))
				out = []string{fmt.Sprintf("%s could not be checked: %v", d.Name, err)}
			}
			findings[i] = out
			return nil
		})
	}
	_ = g.Wait()
	if err := ctx.Err(); err != nil {
		return h.failure(st, "run predictive maintenance", err)
	}

	var issues []string
	for _, f := range findings {
		issues = append(issues, f...)
	}
	if len(issues) == 0 {
		st.Result = fmt.Sprintf("All relevant systems are operating within normal parameters. No maintenance required in %s.", maintenanceWindow)
		return st
	}
	st.Result = "**Predictive Maintenance Issues Found:**\n- " + strings.Join(issues, "\n- ")
	return st
}

func (h *Handlers) maintenanceFindings(ctx context.Context, d platform.Device) ([]string, error) {
	series, err := h.platform.GetTelemetry(ctx, d.ID, []string{"health_score", "maintenance_hours", "temperature"}, platform.Window{Limit: predictReadings})
	if err != nil {
		return nil, err
	}
	alarms, err := h.platform.GetAlarms(ctx, platform.AlarmFilter{OriginatorID: d.ID, ActiveOnly: true})
	if err != nil {
		return nil, err
	}

	var out []string
	if raw := latest(series, "health_score"); raw != "" {
		if v, ok := parseFloat(raw); ok {
			if v < healthScoreFloor {
				out = append(out, fmt.Sprintf("%s health score is %.0f (below %.0f)", d.Name, v, healthScoreFloor))
			}
		} else if !healthyWord(raw) {
			out = append(out, fmt.Sprintf("%s reports health: %s", d.Name, raw))
		}
	}
	if v, ok := parseFloat(latest(series, "maintenance_hours")); ok && v >= serviceDueHours {
		out = append(out, fmt.Sprintf("%s has run %.0f hours since its last service (due every %.0f)", d.Name, v, serviceDueHours))
	}
	for _, a := range alarms {
		switch entity.Severity(strings.ToUpper(a.Severity)) {
		case entity.SeverityCritical, entity.SeverityMajor, entity.SeverityMinor:
			out = append(out, fmt.Sprintf("%s has active alarm: %s (%s)", d.Name, a.Type, strings.ToUpper(a.Severity)))
		}
	}
	if n := len(diagnose.DetectAnomalies(d.ID, toReadings(series["temperature"]))); n > 0 {
		out = append(out, fmt.Sprintf("%s has %d anomalous temperature reading(s)", d.Name, n))
	}
	return out, nil
}

func healthyWord(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "ok", "normal", "healthy", "none":
		return true
	}
	return false
}

// ESGReporting is declined: the platform exposes no emissions data.
func (h *Handlers) ESGReporting(_ context.Context, st State) State {
	st.Result = "ESG reporting is not supported: the building platform exposes no emissions or energy-mix data."
	return st
}

// CleaningOptimization is declined: the platform exposes no usage data
// per restroom.
func (h *Handlers) CleaningOptimization(_ context.Context, st State) State {
	st.Result = "Cleaning optimization is not supported: the building platform exposes no restroom usage history."
	return st
}

// RootCause searches the fault knowledge base for likely causes of the
// described symptom.
func (h *Handlers) RootCause(ctx context.Context, st State) State {
	if h.knowledge == nil {
		st.Result = "Root cause identification is not available: the fault knowledge base is not loaded."
		return st
	}
	hits, err := h.knowledge.Search(ctx, st.Input, rootCauseResults, knowledge.EquipmentFor(st.Input))
	if err != nil {
		return h.failure(st, "search the fault knowledge base", err)
	}
	if len(hits) == 0 {
		st.Result = "I couldn't find a matching fault in the knowledge base. Try naming the equipment (chiller, pump, TFA or air quality sensor) and the symptom."
		return st
	}

	var b strings.Builder
	b.WriteString("**Likely causes:**\n")
	for i, r := range hits {
		f := r.Fault
		fmt.Fprintf(&b, "\n%d. **%s: %s** (%s)\n", i+1, f.Equipment, f.Fault, f.Parameter)
		fmt.Fprintf(&b, "   - Possible cause: %s\n", f.Possibility)
		fmt.Fprintf(&b, "   - Suggestion: %s\n", f.Suggestion)
	}
	st.Result = strings.TrimRight(b.String(), "\n")
	return st
}

const cannedHelp = "I couldn't understand your request.\n\n" +
	"**What you can do:**\n" +
	"- Please rephrase your question with more details or specific terms.\n" +
	"- Try asking about a specific device, location, or metric.\n" +
	"- Here are some example queries you can try:\n" +
	"  - 'Show temperature for Conference Room B'\n" +
	"  - 'Check device health for IAQ Sensor V2 - 300186'\n" +
	"  - 'Show all critical alarms'\n" +
	"  - 'List devices with low battery'\n\n" +
	"If you continue to have trouble, please contact your system administrator."

// Fallback answers free-form questions with the language model, using
// the last few turns as context. Without a model, or when it fails, the
// reply is canned help with example queries.
func (h *Handlers) Fallback(ctx context.Context, st State) State {
	if h.llm == nil {
		st.Result = cannedHelp
		return st
	}

	var b strings.Builder
	hist := st.History
	if len(hist) > fallbackHistory {
		hist = hist[len(hist)-fallbackHistory:]
	}
	if len(hist) > 0 {
		b.WriteString("Recent conversation:\n")
		for _, t := range hist {
			fmt.Fprintf(&b, "User: %s\nAssistant: %s\n", t.Query, t.Response)
		}
		b.WriteString("\n")
	}
	b.WriteString("User: ")
	b.WriteString(st.Input)

	reply, err := llm.Ask(ctx, h.llm, fallbackSystemText, b.String(), fallbackMaxTokens)
	if err != nil {
		h.logger.Warn("llm fallback failed", zap.Error(err))
		st.Result = cannedHelp
		return st
	}
	st.Result = reply
	st.Tool = "llm"
	return st
}
