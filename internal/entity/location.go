package entity

import (
	"regexp"
	"strings"
)

// Location is a named place with the substrings that refer to it.
type Location struct {
	Name    string
	Aliases []string
}

// matches reports whether any alias occurs in the lowercased text.
func (l Location) matches(lower string) bool {
	for _, a := range l.Aliases {
		if strings.Contains(lower, a) {
			return true
		}
	}
	return false
}

// DefaultLocations is the ordered location table. The first location with
// a matching alias wins, so wings and floors are listed before the
// building-specific names.
func DefaultLocations() []Location {
	return []Location{
		{Name: "east wing", Aliases: []string{"east", "east wing"}},
		{Name: "west wing", Aliases: []string{"west", "west wing"}},
		{Name: "north wing", Aliases: []string{"north", "north wing"}},
		{Name: "south wing", Aliases: []string{"south", "south wing"}},
		{Name: "2nd floor", Aliases: []string{"2nd", "second", "floor 2"}},
		{Name: "3rd floor", Aliases: []string{"3rd", "third", "floor 3"}},
		{Name: "1st floor", Aliases: []string{"1st floor", "first floor", "floor 1"}},
		{Name: "main lobby", Aliases: []string{"main lobby"}},
		{Name: "conference room b", Aliases: []string{"conference room b"}},
		{Name: "main hall", Aliases: []string{"main hall"}},
		{Name: "tower a", Aliases: []string{"tower a"}},
		{Name: "office", Aliases: []string{"office"}},
		{Name: "restrooms", Aliases: []string{"restrooms"}},
		{Name: "basement", Aliases: []string{"basement"}},
	}
}

// DefaultDeviceGroups are type-based groups used only in multi-target mode.
func DefaultDeviceGroups() []Location {
	return []Location{
		{Name: "all thermostats", Aliases: []string{"thermostat", "all thermostat"}},
		{Name: "all sensors", Aliases: []string{"sensor", "all sensor"}},
		{Name: "all hvac", Aliases: []string{"hvac", "all hvac"}},
	}
}

// MaxBulkTargets caps how many devices an "all"/"every" query expands to.
const MaxBulkTargets = 10

// Candidate is a device the multi-target expansion can select.
type Candidate struct {
	ID   string
	Name string
}

// Targets expands a multi-device query into device IDs. Devices whose
// name carries an alias of a location or group mentioned in the query are
// selected; only when nothing matched does a bulk qualifier fall back to
// the first candidates. Either way at most MaxBulkTargets IDs are
// returned, once each, in selection order.
func (x *Extractor) Targets(text string, candidates []Candidate) []string {
	lower := strings.ToLower(text)
	seen := make(map[string]bool)
	var ids []string
	add := func(id string) bool {
		if len(ids) >= MaxBulkTargets {
			return false
		}
		if id != "" && !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
		return true
	}

	groups := append(append([]Location{}, x.locations...), x.groups...)
	for _, g := range groups {
		if !g.matches(lower) {
			continue
		}
		for _, c := range candidates {
			if g.matches(strings.ToLower(c.Name)) && !add(c.ID) {
				return ids
			}
		}
	}

	if len(ids) == 0 && hasBulkQualifier(lower) {
		for _, c := range candidates {
			if !add(c.ID) {
				break
			}
		}
	}
	return ids
}

var bulkPattern = regexp.MustCompile(`\b(all|every)\b`)

func hasBulkQualifier(lower string) bool {
	return bulkPattern.MatchString(lower)
}

type floorAlias struct {
	re   *regexp.Regexp
	repl string
}

var floorAliases = buildFloorAliases([][2]string{
	{"ground floor", "0f"}, {"gf", "0f"}, {"basement", "b"},
	{"first floor", "1f"}, {"1st floor", "1f"},
	{"second floor", "2f"}, {"2nd floor", "2f"},
	{"third floor", "3f"}, {"3rd floor", "3f"},
	{"fourth floor", "4f"}, {"4th floor", "4f"},
	{"fifth floor", "5f"}, {"5th floor", "5f"},
	{"sixth floor", "6f"}, {"6th floor", "6f"},
	{"seventh floor", "7f"}, {"7th floor", "7f"},
	{"eighth floor", "8f"}, {"8th floor", "8f"},
	{"ninth floor", "9f"}, {"9th floor", "9f"},
	{"tenth floor", "10f"}, {"10th floor", "10f"},
})

func buildFloorAliases(pairs [][2]string) []floorAlias {
	out := make([]floorAlias, len(pairs))
	for i, p := range pairs {
		out[i] = floorAlias{re: regexp.MustCompile(`\b` + regexp.QuoteMeta(p[0]) + `\b`), repl: p[1]}
	}
	return out
}

var (
	devanagariDigits = strings.NewReplacer("०", "0", "१", "1", "२", "2", "३", "3", "४", "4", "५", "5", "६", "6", "७", "7", "८", "8", "९", "9")
	roomNoRe         = regexp.MustCompile(`room\s*no\.?`)
	letterDigitRe    = regexp.MustCompile(`([a-z])([0-9])`)
	digitLetterRe    = regexp.MustCompile(`([0-9])([a-z])`)
	nonAlnumRe       = regexp.MustCompile(`[^a-z0-9 ]`)
	spacesRe         = regexp.MustCompile(`\s+`)
	floorTightRe     = regexp.MustCompile(`(\d+)f`)
	floorLooseRe     = regexp.MustCompile(`(\d+)\s*f`)
	roomRe           = regexp.MustCompile(`room\s*(\d+)`)
	roomOnFloorRe    = regexp.MustCompile(`room\s*(\d+)\s*(?:on|at|in)?\s*(\d+)f`)
	lotRe            = regexp.MustCompile(`lot\s*(\d+)`)
	plantRe          = regexp.MustCompile(`plant\s*(\d+)`)
)

// NormalizeLocation reduces a device or place name to a canonical key so
// that "Second Floor Room 50", "room no. 50 2nd floor" and "2F-Room50"
// all become "2froom50". Names without floor, room, lot or plant numbers
// collapse to their alphanumerics.
func NormalizeLocation(text string) string {
	text = strings.TrimSpace(strings.ToLower(text))
	if text == "" {
		return ""
	}
	text = devanagariDigits.Replace(text)
	for _, fa := range floorAliases {
		text = fa.re.ReplaceAllString(text, fa.repl)
	}
	text = roomNoRe.ReplaceAllString(text, "room")
	text = letterDigitRe.ReplaceAllString(text, "$1 $2")
	text = digitLetterRe.ReplaceAllString(text, "$1 $2")
	text = nonAlnumRe.ReplaceAllString(text, "")
	text = spacesRe.ReplaceAllString(text, " ")

	floor := floorTightRe.FindStringSubmatch(text)
	room := roomRe.FindStringSubmatch(text)
	if floor != nil && room != nil {
		return floor[1] + "froom" + room[1]
	}
	if m := roomOnFloorRe.FindStringSubmatch(text); m != nil {
		return m[2] + "froom" + m[1]
	}

	var b strings.Builder
	if m := floorLooseRe.FindStringSubmatch(text); m != nil {
		b.WriteString(m[1] + "f")
	}
	if room != nil {
		b.WriteString("room" + room[1])
	}
	if m := lotRe.FindStringSubmatch(text); m != nil {
		b.WriteString("lot" + m[1])
	}
	if m := plantRe.FindStringSubmatch(text); m != nil {
		b.WriteString("plant" + m[1])
	}
	if b.Len() == 0 {
		return strings.ReplaceAll(text, " ", "")
	}
	return b.String()
}
