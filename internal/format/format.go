// Package format renders handler results as Markdown and converts that
// Markdown for the client at hand.
package format

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ziadkadry99/bms-assistant/internal/entity"
	"github.com/ziadkadry99/bms-assistant/internal/platform"
)

const (
	devicesPerType     = 5
	alarmsPerSeverity  = 3
	alarmTimeLayout    = "2006-01-02 15:04"
	unknownSeverityKey = "UNKNOWN"
)

// DeviceSummary lists devices grouped by type, at most five per type.
// Types appear in order of first occurrence.
func DeviceSummary(devices []platform.Device) string {
	if len(devices) == 0 {
		return "No devices found."
	}

	var order []string
	byType := make(map[string][]platform.Device)
	for _, d := range devices {
		t := d.Type
		if t == "" {
			t = "Unknown"
		}
		if _, seen := byType[t]; !seen {
			order = append(order, t)
		}
		byType[t] = append(byType[t], d)
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**%d Devices Found:**\n\n", len(devices))
	for _, t := range order {
		list := byType[t]
		fmt.Fprintf(&b, "**%s (%d):**\n", t, len(list))
		for _, d := range list[:min(len(list), devicesPerType)] {
			fmt.Fprintf(&b, "- %s (%s)\n", d.Name, d.Status())
		}
		if len(list) > devicesPerType {
			fmt.Fprintf(&b, "- ... and %d more\n", len(list)-devicesPerType)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

func severityKey(s string) string {
	s = strings.ToUpper(s)
	if s == "" {
		return unknownSeverityKey
	}
	return s
}

// severitySort orders severity keys from most to least severe, unknown
// values last in name order.
func severitySort(keys []string) {
	rank := make(map[string]int, len(entity.SeverityOrder))
	for i, s := range entity.SeverityOrder {
		rank[string(s)] = i
	}
	sort.SliceStable(keys, func(i, j int) bool {
		ri, iok := rank[keys[i]]
		rj, jok := rank[keys[j]]
		switch {
		case iok && jok:
			return ri < rj
		case iok != jok:
			return iok
		default:
			return keys[i] < keys[j]
		}
	})
}

// AlarmSummary groups active alarms by severity, at most three per severity.
func AlarmSummary(alarms []platform.Alarm) string {
	if len(alarms) == 0 {
		return "No active alarms found."
	}

	bySeverity := make(map[string][]platform.Alarm)
	var keys []string
	for _, a := range alarms {
		k := severityKey(a.Severity)
		if _, seen := bySeverity[k]; !seen {
			keys = append(keys, k)
		}
		bySeverity[k] = append(bySeverity[k], a)
	}
	severitySort(keys)

	var b strings.Builder
	fmt.Fprintf(&b, "**%d Active Alarms:**\n\n", len(alarms))
	for _, k := range keys {
		list := bySeverity[k]
		fmt.Fprintf(&b, "**%s (%d):**\n", k, len(list))
		for _, a := range list[:min(len(list), alarmsPerSeverity)] {
			fmt.Fprintf(&b, "- %s: %s\n", originator(a), orUnknown(a.Type))
		}
		if len(list) > alarmsPerSeverity {
			fmt.Fprintf(&b, "- ... and %d more\n", len(list)-alarmsPerSeverity)
		}
		b.WriteString("\n")
	}
	return strings.TrimRight(b.String(), "\n")
}

// AlarmList renders a numbered list under title. Follow-up questions refer
// to alarms by these numbers.
func AlarmList(title string, alarms []platform.Alarm) string {
	if len(alarms) == 0 {
		return title + "\n\nNo alarms found."
	}
	var b strings.Builder
	b.WriteString(title)
	b.WriteString("\n\n")
	for i, a := range alarms {
		fmt.Fprintf(&b, "%d. [%s] %s: %s (%s, %s)\n",
			i+1, severityKey(a.Severity), originator(a), orUnknown(a.Type),
			alarmTime(a.CreatedAt), orUnknown(a.Status))
	}
	return strings.TrimRight(b.String(), "\n")
}

// HighestSeverity returns the alarms of the most severe level present.
func HighestSeverity(alarms []platform.Alarm) (entity.Severity, []platform.Alarm) {
	for _, sev := range entity.SeverityOrder {
		var out []platform.Alarm
		for _, a := range alarms {
			if strings.EqualFold(a.Severity, string(sev)) {
				out = append(out, a)
			}
		}
		if len(out) > 0 {
			return sev, out
		}
	}
	return "", nil
}

// AlarmTable renders the highest-severity alarms as a table. An empty list
// reports target as healthy.
func AlarmTable(target string, alarms []platform.Alarm) string {
	if target == "" {
		target = "all systems"
	}
	sev, top := HighestSeverity(alarms)
	if len(top) == 0 {
		return fmt.Sprintf("**%s is functioning properly!**\n\nNo active alarms found.", target)
	}

	rows := make([][]string, 0, len(top))
	for _, a := range top {
		t := orUnknown(a.Type)
		switch strings.ToLower(t) {
		case "temperature", "room temperature", "temp":
			t += " (°C)"
		}
		rows = append(rows, []string{alarmTime(a.CreatedAt), originator(a), t, string(sev), orUnknown(a.Status)})
	}
	title := strings.ToUpper(string(sev[:1])) + strings.ToLower(string(sev[1:]))
	return fmt.Sprintf("**%s Alarms:**\n\n%s", title,
		Table([]string{"Time", "Device Name", "Type", "Severity", "Status"}, rows))
}

// Table renders a GitHub-flavoured Markdown table. Pipes in cells are escaped.
func Table(headers []string, rows [][]string) string {
	var b strings.Builder
	writeRow := func(cells []string) {
		b.WriteString("|")
		for i := range headers {
			cell := ""
			if i < len(cells) {
				cell = strings.ReplaceAll(cells[i], "|", `\|`)
			}
			b.WriteString(" " + cell + " |")
		}
		b.WriteString("\n")
	}
	writeRow(headers)
	b.WriteString("|")
	for range headers {
		b.WriteString(" --- |")
	}
	b.WriteString("\n")
	for _, r := range rows {
		writeRow(r)
	}
	return strings.TrimRight(b.String(), "\n")
}

func originator(a platform.Alarm) string {
	if a.Originator == "" {
		return "Unknown Device"
	}
	return a.Originator
}

func orUnknown(s string) string {
	if s == "" {
		return "Unknown"
	}
	return s
}

func alarmTime(t time.Time) string {
	if t.IsZero() {
		return "?"
	}
	return t.Local().Format(alarmTimeLayout)
}
