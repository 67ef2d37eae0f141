package entity

import (
	"regexp"
	"strconv"
	"strings"
)

type phrase struct {
	match string
	value string
}

var defaultTimeframes = []phrase{
	{"last 24 hours", "last_24h"},
	{"yesterday", "yesterday"},
	{"today", "today"},
	{"this week", "this_week"},
	{"last week", "last_week"},
	{"this month", "this_month"},
	{"this quarter", "this_quarter"},
	{"weekend", "weekend"},
	{"next 3 hours", "next_3h"},
	{"next 7 days", "next_7d"},
}

// Schedules are scanned in full and the last match wins.
var defaultSchedules = []phrase{
	{"after 8pm", "20:00"},
	{"before 6am", "06:00"},
	{"weekends", "weekend"},
	{"weekdays", "weekday"},
	{"every monday", "monday"},
	{"daily", "daily"},
}

var defaultMetrics = []string{"temperature", "humidity", "battery", "occupancy", "motion"}

var actionWords = []struct {
	action Action
	words  []string
}{
	{ActionTurnOff, []string{"turn off", "shut down", "disable"}},
	{ActionTurnOn, []string{"turn on", "enable", "activate"}},
	{ActionAdjust, []string{"adjust", "set", "change"}},
	{ActionSchedule, []string{"schedule", "plan"}},
}

var (
	uuidRe       = regexp.MustCompile(`[A-Za-z0-9]{8}-[A-Za-z0-9]{4}-[A-Za-z0-9]{4}-[A-Za-z0-9]{4}-[A-Za-z0-9]{12}`)
	deviceIDRe   = regexp.MustCompile(`(?i)\bdevice\s+id\s+([A-Za-z0-9][\w\-]*)`)
	deviceWordRe = regexp.MustCompile(`(?i)\bdevice\s+([A-Za-z0-9][\w\-]*)`)
	longNumberRe = regexp.MustCompile(`\b(\d{6,})\b`)
	alarmWordRe  = regexp.MustCompile(`(?i)\balarm\s+(?:id\s+)?([A-Za-z0-9][\w\-]*)`)
	numberRe     = regexp.MustCompile(`\b\d+\b`)
	degreesRe    = regexp.MustCompile(`(?:^|[^\d.])(\d+)\s*degrees?`)
	lowerByRe    = regexp.MustCompile(`\b(?:lower|reduce|decrease|drop)\b.*?\bby\s+(\d+)`)
	raiseByRe    = regexp.MustCompile(`\b(?:raise|increase)\b.*?\bby\s+(\d+)`)
	prepRe       = regexp.MustCompile(`(?i)\b(?:for|in|at|of|on)\s+`)
	phraseStopRe = regexp.MustCompile(`(?i)\s+(?:for|in|at|on|with|during|over|today|yesterday|this|last|since)\b|[?.,!]`)
)

// genericPhrases are prepositional objects that never name a device.
var genericPhrases = map[string]bool{
	"all": true, "all devices": true, "devices": true, "every device": true,
	"building": true, "the building": true, "me": true, "now": true,
}

// Extractor pulls entities out of free text. It holds the lookup tables
// and is safe for concurrent use once constructed.
type Extractor struct {
	locations []Location
	groups    []Location
}

// Option configures an Extractor.
type Option func(*Extractor)

// WithLocations replaces the named location table.
func WithLocations(locs []Location) Option {
	return func(x *Extractor) { x.locations = locs }
}

// WithDeviceGroups replaces the multi-target device group table.
func WithDeviceGroups(groups []Location) Option {
	return func(x *Extractor) { x.groups = groups }
}

// NewExtractor returns an Extractor using the default tables.
func NewExtractor(opts ...Option) *Extractor {
	x := &Extractor{
		locations: DefaultLocations(),
		groups:    DefaultDeviceGroups(),
	}
	for _, opt := range opts {
		opt(x)
	}
	return x
}

// Extract returns the entities found in text. It never fails: fields that
// are not present are simply left empty.
func (x *Extractor) Extract(text string) Entities {
	lower := strings.ToLower(text)
	e := Entities{
		DeviceToken: extractDeviceToken(text),
		NamePhrase:  extractNamePhrase(text),
		Severity:    extractSeverity(lower),
		Timeframe:   firstPhrase(lower, defaultTimeframes),
		Schedule:    lastPhrase(lower, defaultSchedules),
		Metric:      firstContained(lower, defaultMetrics),
		Action:      extractAction(lower),
		AlarmID:     extractAlarmID(text),
		Degrees:     extractInt(degreesRe, lower),
		Delta:       extractDelta(lower),
		Bulk:        hasBulkQualifier(lower),
	}
	for _, loc := range x.locations {
		if loc.matches(lower) {
			e.Location = loc.Name
			break
		}
	}
	return e
}

// Location returns the first location table entry mentioned in text.
func (x *Extractor) Location(text string) (Location, bool) {
	lower := strings.ToLower(text)
	for _, loc := range x.locations {
		if loc.matches(lower) {
			return loc, true
		}
	}
	return Location{}, false
}

func extractSeverity(lower string) Severity {
	for _, s := range SeverityOrder {
		if strings.Contains(lower, strings.ToLower(string(s))) {
			return s
		}
	}
	return ""
}

func extractDeviceToken(text string) string {
	if m := uuidRe.FindString(text); m != "" {
		return m
	}
	if m := deviceIDRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	for _, m := range deviceWordRe.FindAllStringSubmatch(text, -1) {
		if containsDigit(m[1]) {
			return m[1]
		}
	}
	if m := longNumberRe.FindStringSubmatch(text); m != nil {
		return m[1]
	}
	return ""
}

func extractAlarmID(text string) string {
	for _, m := range alarmWordRe.FindAllStringSubmatch(text, -1) {
		if containsDigit(m[1]) {
			return m[1]
		}
	}
	if m := uuidRe.FindString(text); m != "" {
		return m
	}
	return numberRe.FindString(text)
}

func extractNamePhrase(text string) string {
	loc := prepRe.FindStringIndex(text)
	if loc == nil {
		return ""
	}
	rest := text[loc[1]:]
	if stop := phraseStopRe.FindStringIndex(rest); stop != nil {
		rest = rest[:stop[0]]
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimPrefix(rest, "the ")
	rest = strings.TrimPrefix(rest, "The ")
	if rest == "" || genericPhrases[strings.ToLower(rest)] {
		return ""
	}
	return rest
}

func extractAction(lower string) Action {
	for _, aw := range actionWords {
		for _, w := range aw.words {
			if strings.Contains(lower, w) {
				return aw.action
			}
		}
	}
	return ActionNone
}

func extractDelta(lower string) *int {
	if v := extractInt(lowerByRe, lower); v != nil {
		n := -*v
		return &n
	}
	return extractInt(raiseByRe, lower)
}

func extractInt(re *regexp.Regexp, s string) *int {
	m := re.FindStringSubmatch(s)
	if m == nil {
		return nil
	}
	n, err := strconv.Atoi(m[len(m)-1])
	if err != nil {
		return nil
	}
	return &n
}

func firstPhrase(lower string, table []phrase) string {
	for _, p := range table {
		if strings.Contains(lower, p.match) {
			return p.value
		}
	}
	return ""
}

func lastPhrase(lower string, table []phrase) string {
	var out string
	for _, p := range table {
		if strings.Contains(lower, p.match) {
			out = p.value
		}
	}
	return out
}

func firstContained(lower string, words []string) string {
	for _, w := range words {
		if strings.Contains(lower, w) {
			return w
		}
	}
	return ""
}

func containsDigit(s string) bool {
	return strings.ContainsAny(s, "0123456789")
}
