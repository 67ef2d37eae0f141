package dispatch

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/ziadkadry99/bms-assistant/internal/audit"
	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/format"
	"github.com/ziadkadry99/bms-assistant/internal/intent"
	"github.com/ziadkadry99/bms-assistant/internal/llm"
	"github.com/ziadkadry99/bms-assistant/internal/notifications"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
	"github.com/ziadkadry99/bms-assistant/internal/session"
)

const (
	summaryWindow   = 24 * time.Hour
	summaryMaxLines = 10
	topAlarmTypes   = 3
)

var buildingRe = regexp.MustCompile(`\btower [a-z]\b`)

// Alarms lists active alarms of one severity, CRITICAL unless the text
// names another, optionally narrowed to a "tower X" building.
func (h *Handlers) Alarms(ctx context.Context, st State) State {
	building := buildingRe.FindString(strings.ToLower(st.Input))
	sev := st.Entities.Severity
	if sev == "" {
		sev = entity.SeverityCritical
	}

	alarms, err := h.platform.GetAlarms(ctx, platform.AlarmFilter{Severity: string(sev), ActiveOnly: true})
	if err != nil {
		return h.failure(st, "fetch alarms", err)
	}
	if building != "" {
		alarms = inArea(alarms, []string{building})
	}

	st.AlarmQuery = &session.AlarmQuery{Building: building, Severity: string(sev), Alarms: alarmRefs(alarms)}
	st.Events = append(st.Events, alarmEvents(alarms)...)

	level := strings.ToLower(string(sev))
	if len(alarms) == 0 {
		if building != "" {
			st.Result = fmt.Sprintf("No %s alarms found in %s. If you expected alarms, please check the building name or try another filter.", level, titleCase(building))
		} else {
			st.Result = fmt.Sprintf("No %s alarms found. If you expected alarms, please check your filters or try another query.", level)
		}
		return st
	}
	title := fmt.Sprintf("**Found %d %s alarms", len(alarms), level)
	if building != "" {
		title += " in " + titleCase(building)
	}
	st.Result = format.AlarmList(title+":**", alarms)
	return st
}

// AlarmsByDevice lists alarms for the referenced device, or expands the
// remembered alarm query when the turn is a follow-up.
func (h *Handlers) AlarmsByDevice(ctx context.Context, st State) State {
	if q := st.Session.LastAlarmQuery; q != nil && intent.IsFollowUp(st.Input) {
		st.Result = alarmDetails(q)
		return st
	}

	filter := platform.AlarmFilter{Severity: string(st.Entities.Severity), ActiveOnly: true}
	if area, ok := h.alarmArea(st); ok {
		return h.areaAlarms(ctx, st, filter, area)
	}
	var target *platform.Device
	if deviceReference(st) != "" {
		d, msg := h.resolve(ctx, st)
		if msg != "" {
			st.Result = msg
			return st
		}
		target = &d
		filter.OriginatorID = d.ID
		st = withDevice(st, d)
	}

	alarms, err := h.platform.GetAlarms(ctx, filter)
	if err != nil {
		return h.failure(st, "fetch device alarms", err)
	}
	alarms = inTimeframe(alarms, st.Entities.Timeframe, h.now())

	q := &session.AlarmQuery{Severity: string(st.Entities.Severity), Alarms: alarmRefs(alarms)}
	name := "any device"
	if target != nil {
		q.DeviceID, q.Device = target.ID, target.Name
		name = target.Name
	}
	st.AlarmQuery = q
	st.Events = append(st.Events, alarmEvents(alarms)...)

	if len(alarms) == 0 {
		if target != nil {
			st.Result = format.AlarmTable(target.Name, nil)
			return st
		}
		st.Result = "No active alarms found. Please check the device name, date or severity and try again."
		return st
	}

	qual := describeFilter(st.Entities)
	st.Result = format.AlarmList(fmt.Sprintf("**Found %d alarms for %s%s:**", len(alarms), name, qual), alarms)
	return st
}

// alarmArea reports the building or named location an alarm query is
// scoped to when the text names a place rather than a device. Explicit
// device tokens and name phrases that go beyond the place keep the
// single-device path.
func (h *Handlers) alarmArea(st State) (entity.Location, bool) {
	if st.Device != "" || st.Entities.DeviceToken != "" {
		return entity.Location{}, false
	}
	phrase := strings.ToLower(strings.TrimSpace(st.Entities.NamePhrase))
	if b := buildingRe.FindString(strings.ToLower(st.Input)); b != "" && (phrase == "" || phrase == b) {
		return entity.Location{Name: b, Aliases: []string{b}}, true
	}
	loc, ok := h.extractor.Location(st.Input)
	if !ok {
		return entity.Location{}, false
	}
	if phrase == "" || phrase == loc.Name {
		return loc, true
	}
	for _, a := range loc.Aliases {
		if phrase == a {
			return loc, true
		}
	}
	return entity.Location{}, false
}

// areaAlarms lists active alarms raised by any device whose name carries
// one of the area's aliases.
func (h *Handlers) areaAlarms(ctx context.Context, st State, filter platform.AlarmFilter, area entity.Location) State {
	alarms, err := h.platform.GetAlarms(ctx, filter)
	if err != nil {
		return h.failure(st, "fetch alarms", err)
	}
	alarms = inTimeframe(inArea(alarms, area.Aliases), st.Entities.Timeframe, h.now())

	st.AlarmQuery = &session.AlarmQuery{Building: area.Name, Severity: string(st.Entities.Severity), Alarms: alarmRefs(alarms)}
	st.Events = append(st.Events, alarmEvents(alarms)...)

	place := titleCase(area.Name)
	qual := describeFilter(st.Entities)
	if len(alarms) == 0 {
		st.Result = fmt.Sprintf("No active alarms found in %s%s. Please check the building or location name and try again.", place, qual)
		return st
	}
	st.Result = format.AlarmList(fmt.Sprintf("**Found %d alarms in %s%s:**", len(alarms), place, qual), alarms)
	return st
}

// inArea keeps alarms whose originator name contains any alias.
func inArea(alarms []platform.Alarm, aliases []string) []platform.Alarm {
	kept := alarms[:0]
	for _, a := range alarms {
		name := strings.ToLower(a.Originator)
		for _, alias := range aliases {
			if strings.Contains(name, alias) {
				kept = append(kept, a)
				break
			}
		}
	}
	return kept
}

// Severity reports the most severe level among active alarms and tables
// the alarms at that level.
func (h *Handlers) Severity(ctx context.Context, st State) State {
	alarms, err := h.platform.GetAlarms(ctx, platform.AlarmFilter{ActiveOnly: true})
	if err != nil {
		return h.failure(st, "fetch alarms", err)
	}
	if len(alarms) == 0 {
		st.Result = "No active alarms."
		return st
	}
	sev, _ := format.HighestSeverity(alarms)
	if sev == "" {
		st.Result = fmt.Sprintf("There are %d active alarms but none with a recognised severity.", len(alarms))
		return st
	}
	st.Result = fmt.Sprintf("Highest active alarm severity: **%s**\n\n%s", sev, format.AlarmTable("", alarms))
	return st
}

// AlarmTypes reports the most common alarm types.
func (h *Handlers) AlarmTypes(ctx context.Context, st State) State {
	alarms, err := h.platform.GetAlarms(ctx, platform.AlarmFilter{})
	if err != nil {
		return h.failure(st, "fetch alarm types", err)
	}

	counts := make(map[string]int)
	for _, a := range alarms {
		if a.Type != "" {
			counts[a.Type]++
		}
	}
	if len(counts) == 0 {
		st.Result = "No alarm types found."
		return st
	}
	types := make([]string, 0, len(counts))
	for t := range counts {
		types = append(types, t)
	}
	sort.Slice(types, func(i, j int) bool {
		if counts[types[i]] != counts[types[j]] {
			return counts[types[i]] > counts[types[j]]
		}
		return types[i] < types[j]
	})

	parts := make([]string, 0, topAlarmTypes)
	for _, t := range types[:min(topAlarmTypes, len(types))] {
		parts = append(parts, fmt.Sprintf("%s (%d)", t, counts[t]))
	}
	st.Result = fmt.Sprintf("Top %d alarm types: %s", len(parts), strings.Join(parts, ", "))
	return st
}

const summarySystemPrompt = "You are a building operations assistant. Summarize alarm lists for facility managers in a concise, professional manner. Group related alarms and call out anything critical."

// SummarizeAlarms summarizes the last 24 hours of alarms. The language
// model writes the summary when one is configured; otherwise, or when it
// fails, the grouped severity summary is used.
func (h *Handlers) SummarizeAlarms(ctx context.Context, st State) State {
	alarms, err := h.platform.GetAlarms(ctx, platform.AlarmFilter{Since: h.now().Add(-summaryWindow)})
	if err != nil {
		return h.failure(st, "summarize alarms", err)
	}
	if len(alarms) == 0 {
		st.Result = "No alarms in the last 24 hours."
		return st
	}

	const title = "**Summary of alarms in the last 24 hours:**\n\n"
	if h.llm != nil {
		lines := make([]string, 0, summaryMaxLines)
		for _, a := range alarms[:min(summaryMaxLines, len(alarms))] {
			lines = append(lines, fmt.Sprintf("- %s: %s - %s (%s)",
				a.CreatedAt.Local().Format("2006-01-02 15:04"), a.Originator, a.Type, a.Severity))
		}
		prompt := "Summarize the following alarms from the last 24 hours:\n" + strings.Join(lines, "\n")
		summary, err := llm.Ask(ctx, h.llm, summarySystemPrompt, prompt, 400)
		if err == nil {
			st.Result = title + summary
			return st
		}
		h.logger.Warn("llm alarm summary failed, using grouped summary", zap.Error(err))
	}
	st.Result = title + format.AlarmSummary(alarms)
	return st
}

// Acknowledge acknowledges an alarm by ID. A small number refers to an
// entry of the last numbered alarm list.
func (h *Handlers) Acknowledge(ctx context.Context, st State) State {
	id := st.Entities.AlarmID
	if id == "" {
		st.Result = "Please specify an alarm ID to acknowledge."
		return st
	}

	var ref *session.AlarmRef
	if q := st.Session.LastAlarmQuery; q != nil {
		if n, err := strconv.Atoi(id); err == nil && n >= 1 && n <= len(q.Alarms) {
			ref = &q.Alarms[n-1]
			id = ref.ID
		}
	}

	if err := h.platform.AcknowledgeAlarm(ctx, id); err != nil {
		if errors.Is(err, platform.ErrAlarmNotFound) {
			st.Result = fmt.Sprintf("Alarm %s not found. Please check the alarm ID.", id)
			return st
		}
		return h.failure(st, "acknowledge alarm "+id, err)
	}

	summary := fmt.Sprintf("Alarm %s acknowledged successfully.", id)
	if ref != nil {
		summary = fmt.Sprintf("Alarm %s (%s on %s) acknowledged successfully.", id, ref.Type, ref.Originator)
	}
	st.Result = summary
	st.Effects = append(st.Effects, Effect{Action: audit.ActionAcknowledge, Summary: summary})
	return st
}

func alarmRefs(alarms []platform.Alarm) []session.AlarmRef {
	refs := make([]session.AlarmRef, len(alarms))
	for i, a := range alarms {
		refs[i] = session.AlarmRef{ID: a.ID, Severity: a.Severity, Type: a.Type, Originator: a.Originator, CreatedAt: a.CreatedAt}
	}
	return refs
}

// alarmEvents raises an event for every unacknowledged alarm so the
// notification rules can decide which deserve attention.
func alarmEvents(alarms []platform.Alarm) []notifications.Event {
	var out []notifications.Event
	for _, a := range alarms {
		if a.Acknowledged || !a.Active() {
			continue
		}
		out = append(out, notifications.Event{
			Type:       notifications.EventAlarm,
			DeviceID:   a.OriginatorID,
			DeviceName: a.Originator,
			Severity:   a.Severity,
			Message:    a.Type,
		})
	}
	return out
}

func alarmDetails(q *session.AlarmQuery) string {
	scope := make([]string, 0, 3)
	if q.Device != "" {
		scope = append(scope, q.Device)
	}
	if q.Building != "" {
		scope = append(scope, titleCase(q.Building))
	}
	if q.Severity != "" {
		scope = append(scope, strings.ToLower(q.Severity))
	}
	label := "your last alarm query"
	if len(scope) > 0 {
		label += " (" + strings.Join(scope, ", ") + ")"
	}
	if len(q.Alarms) == 0 {
		return fmt.Sprintf("There are no alarms to expand: %s returned none.", label)
	}

	rows := make([][]string, len(q.Alarms))
	for i, a := range q.Alarms {
		when := "?"
		if !a.CreatedAt.IsZero() {
			when = a.CreatedAt.Local().Format("2006-01-02 15:04")
		}
		rows[i] = []string{strconv.Itoa(i + 1), when, a.Originator, a.Type, a.Severity, a.ID}
	}
	return fmt.Sprintf("**Details for %s:**\n\n%s", label,
		format.Table([]string{"#", "Time", "Device", "Type", "Severity", "Alarm ID"}, rows))
}

// inTimeframe keeps alarms raised inside the named timeframe. Unknown or
// empty timeframes keep everything.
func inTimeframe(alarms []platform.Alarm, timeframe string, now time.Time) []platform.Alarm {
	now = now.Local()
	midnight := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, now.Location())
	var start, end time.Time
	switch timeframe {
	case "today":
		start, end = midnight, now
	case "yesterday":
		start, end = midnight.AddDate(0, 0, -1), midnight
	case "last_24h":
		start, end = now.Add(-summaryWindow), now
	default:
		return alarms
	}
	var out []platform.Alarm
	for _, a := range alarms {
		if !a.CreatedAt.Before(start) && a.CreatedAt.Before(end.Add(time.Nanosecond)) {
			out = append(out, a)
		}
	}
	return out
}

func describeFilter(e entity.Entities) string {
	var parts []string
	if e.Severity != "" {
		parts = append(parts, "severity "+string(e.Severity))
	}
	if e.Timeframe != "" {
		parts = append(parts, strings.ReplaceAll(e.Timeframe, "_", " "))
	}
	if len(parts) == 0 {
		return ""
	}
	return " (" + strings.Join(parts, ", ") + ")"
}

func titleCase(s string) string {
	words := strings.Fields(s)
	for i, w := range words {
		words[i] = strings.ToUpper(w[:1]) + w[1:]
	}
	return strings.Join(words, " ")
}
