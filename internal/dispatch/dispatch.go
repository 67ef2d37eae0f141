// Package dispatch runs one conversational turn: it maps the routed intent
// to exactly one handler and folds the outcome back into the session.
package dispatch

import (
	"context"
	"fmt"
	"runtime/debug"

	"github.com/ziadkadry99/bms-assistant/internal/audit"
	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/intent"
	"github.com/ziadkadry99/bms-assistant/internal/notifications"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

// Effect is a side effect on the building that must be audited.
type Effect struct {
	Action   audit.Action
	DeviceID string
	Summary  string
}

// State carries a turn through its handler. Handlers receive a copy and
// return the copy with Result and Tool filled in.
type State struct {
	Input    string
	UserID   string
	Entities entity.Entities
	Intent   intent.Intent
	// Device is an explicit device reference supplied with the request,
	// such as a client-side device picker. It overrides the text.
	Device string
	// Session is a copy of the remembered context taken before routing.
	Session session.Context
	History []session.Turn

	Result string
	Tool   string
	// Resolved is the device the handler acted on, if any.
	Resolved *platform.Device
	// AlarmQuery replaces the remembered alarm query when set.
	AlarmQuery *session.AlarmQuery
	Events     []notifications.Event
	Effects    []Effect
	// Failed marks results that report a failure; Err holds the cause.
	Failed bool
	Err    error
}

// Handler produces the result for one intent. Handlers never return
// errors: every failure becomes user-facing text in Result.
type Handler func(ctx context.Context, st State) State

// Table maps every intent to its handler.
type Table map[intent.Intent]Handler

// Dispatch invokes the handler for st.Intent. Intents without a handler
// go to the fallback handler. A handler panic is recovered and reported as
// a generic failure with the panic in Err.
func (t Table) Dispatch(ctx context.Context, st State) (out State) {
	h, ok := t[st.Intent]
	if !ok {
		h, ok = t[intent.Fallback]
	}
	if !ok {
		st.Result = cannedHelp
		st.Tool = string(intent.Fallback)
		return st
	}

	defer func() {
		if r := recover(); r != nil {
			out = st
			out.Err = fmt.Errorf("handler panic: %v\n%s", r, debug.Stack())
			out.Result = fmt.Sprintf("Sorry, something went wrong while handling your %s request. Please try again.", humanize(st.Intent))
			out.Tool = st.Intent.String()
			out.Failed = true
		}
	}()

	out = h(ctx, st)
	if out.Tool == "" {
		out.Tool = st.Intent.String()
	}
	return out
}

// NewTable wires every intent to a method on h.
func NewTable(h *Handlers) Table {
	return Table{
		intent.EnergyOptimization:      h.EnergyOptimization,
		intent.ComfortAdjustment:       h.ComfortAdjustment,
		intent.PredictiveMaintenance:   h.PredictiveMaintenance,
		intent.ESGReporting:            h.ESGReporting,
		intent.CleaningOptimization:    h.CleaningOptimization,
		intent.RootCauseIdentification: h.RootCause,
		intent.AlarmsByDevice:          h.AlarmsByDevice,
		intent.Alarms:                  h.Alarms,
		intent.Telemetry:               h.Telemetry,
		intent.Temperature:             h.Temperature,
		intent.LowBattery:              h.LowBattery,
		intent.Devices:                 h.Devices,
		intent.AlarmTypes:              h.AlarmTypes,
		intent.SummarizeAlarms:         h.SummarizeAlarms,
		intent.IsOnline:                h.IsOnline,
		intent.TelemetryHealth:         h.TelemetryHealth,
		intent.Health:                  h.Health,
		intent.Predict:                 h.Predict,
		intent.Acknowledge:             h.Acknowledge,
		intent.Severity:                h.Severity,
		intent.Fallback:                h.Fallback,
	}
}
