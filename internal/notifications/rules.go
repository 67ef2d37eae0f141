package notifications

import (
	"fmt"
	"reflect"
	"strings"

	"github.com/google/cel-go/cel"
)

// defaultBattery is assumed when a battery event carries no reading.
const defaultBattery = 4.2

// Rule turns a matching Event into a notification. Condition is a CEL
// expression over the event variables kind, severity, status, battery and
// offline_hours.
type Rule struct {
	Name           string
	Condition      string
	Priority       Priority
	Channels       []string
	ActionRequired bool
	Message        func(Event) string
}

// DefaultRules returns the built-in rules in evaluation order.
func DefaultRules() []Rule {
	return []Rule{
		{
			Name:           "critical_alarm",
			Condition:      `kind == "alarm" && severity == "CRITICAL"`,
			Priority:       PriorityHigh,
			Channels:       []string{ChannelImmediate, ChannelEmail, ChannelSMS},
			ActionRequired: true,
			Message: func(e Event) string {
				msg := e.Message
				if msg == "" {
					msg = "Critical issue detected"
				}
				return fmt.Sprintf("CRITICAL ALARM: %s - %s", e.deviceName(), msg)
			},
		},
		{
			Name:           "device_offline",
			Condition:      `kind == "device_status" && status == "offline"`,
			Priority:       PriorityMedium,
			Channels:       []string{ChannelImmediate, ChannelEmail},
			ActionRequired: true,
			Message: func(e Event) string {
				return fmt.Sprintf("Device Offline: %s has been offline for %s", e.deviceName(), e.offlineFor())
			},
		},
		{
			Name:      "battery_low",
			Condition: `kind == "battery" && battery < 3.0`,
			Priority:  PriorityLow,
			Channels:  []string{ChannelEmail},
			Message: func(e Event) string {
				return fmt.Sprintf("Low Battery: %s battery at %.2fV", e.deviceName(), batteryOf(e))
			},
		},
	}
}

func batteryOf(e Event) float64 {
	if e.Battery == nil {
		return defaultBattery
	}
	return *e.Battery
}

type compiledRule struct {
	Rule
	prg cel.Program
}

// Engine evaluates events against compiled rules. The first matching rule
// wins.
type Engine struct {
	rules []compiledRule
}

func newEnv() (*cel.Env, error) {
	return cel.NewEnv(
		cel.Variable("kind", cel.StringType),
		cel.Variable("severity", cel.StringType),
		cel.Variable("status", cel.StringType),
		cel.Variable("battery", cel.DoubleType),
		cel.Variable("offline_hours", cel.DoubleType),
	)
}

// NewEngine compiles rules. With no rules it uses DefaultRules.
func NewEngine(rules ...Rule) (*Engine, error) {
	if len(rules) == 0 {
		rules = DefaultRules()
	}
	env, err := newEnv()
	if err != nil {
		return nil, fmt.Errorf("creating cel env: %w", err)
	}

	e := &Engine{}
	for _, r := range rules {
		ast, iss := env.Compile(r.Condition)
		if iss != nil && iss.Err() != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, iss.Err())
		}
		if !reflect.DeepEqual(ast.OutputType(), cel.BoolType) {
			return nil, fmt.Errorf("rule %s: condition must be boolean, got %v", r.Name, ast.OutputType())
		}
		prg, err := env.Program(ast)
		if err != nil {
			return nil, fmt.Errorf("rule %s: %w", r.Name, err)
		}
		if r.Message == nil {
			r.Message = func(e Event) string { return e.Message }
		}
		e.rules = append(e.rules, compiledRule{Rule: r, prg: prg})
	}
	return e, nil
}

// Evaluate returns the notification for ev, or false when no rule fires.
// Rules that fail to evaluate are skipped.
func (e *Engine) Evaluate(ev Event) (Notification, bool) {
	vars := map[string]any{
		"kind":          string(ev.Type),
		"severity":      strings.ToUpper(ev.Severity),
		"status":        strings.ToLower(ev.Status),
		"battery":       batteryOf(ev),
		"offline_hours": ev.OfflineFor.Hours(),
	}
	for _, r := range e.rules {
		out, _, err := r.prg.Eval(vars)
		if err != nil {
			continue
		}
		if match, ok := out.Value().(bool); !ok || !match {
			continue
		}
		return Notification{
			Rule:           r.Name,
			Type:           ev.Type,
			Priority:       r.Priority,
			DeviceID:       ev.DeviceID,
			DeviceName:     ev.DeviceName,
			Message:        r.Message(ev),
			Channels:       append([]string(nil), r.Channels...),
			ActionRequired: r.ActionRequired,
		}, true
	}
	return Notification{}, false
}

// FormatForRole appends the follow-up actions available to role.
func FormatForRole(n Notification, role string) string {
	var b strings.Builder
	b.WriteString(n.Message)
	switch role {
	case "admin":
		b.WriteString("\n\nAdmin Actions Available:")
		b.WriteString("\n- Acknowledge alarm")
		b.WriteString("\n- View device details")
		b.WriteString("\n- Check system health")
	case "technician":
		b.WriteString("\n\nTechnician Actions Available:")
		b.WriteString("\n- View troubleshooting guide")
		b.WriteString("\n- Check maintenance schedule")
		b.WriteString("\n- Request parts")
	}
	return b.String()
}
