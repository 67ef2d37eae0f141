// Package knowledge is a searchable catalogue of HVAC equipment faults,
// their likely causes and the recommended checks.
package knowledge

import (
	"context"
	_ "embed"
	"fmt"
	"runtime"
	"strconv"
	"strings"

	chromem "github.com/philippgille/chromem-go"
	"gopkg.in/yaml.v3"
)

//go:embed faults.yaml
var faultsYAML []byte

const collectionName = "hvac_faults"

// Fault is one catalogue entry.
type Fault struct {
	Equipment   string `yaml:"equipment" json:"equipment"`
	Fault       string `yaml:"fault" json:"fault"`
	Parameter   string `yaml:"parameter" json:"parameter"`
	Possibility string `yaml:"possibility" json:"possibility"`
	Suggestion  string `yaml:"suggestion" json:"suggestion"`
}

func (f Fault) document() string {
	return fmt.Sprintf("%s: %s. %s. Possible cause: %s. Suggestion: %s",
		f.Equipment, f.Fault, f.Parameter, f.Possibility, f.Suggestion)
}

// Result is a search hit.
type Result struct {
	Fault      Fault   `json:"fault"`
	Similarity float32 `json:"similarity"`
}

// Faults returns the built-in catalogue.
func Faults() ([]Fault, error) {
	var doc struct {
		Faults []Fault `yaml:"faults"`
	}
	if err := yaml.Unmarshal(faultsYAML, &doc); err != nil {
		return nil, fmt.Errorf("parsing fault catalogue: %w", err)
	}
	return doc.Faults, nil
}

// Base indexes the catalogue for similarity search.
type Base struct {
	faults     []Fault
	collection *chromem.Collection
}

// New embeds every fault with embedder and returns a searchable base.
func New(ctx context.Context, embedder Embedder) (*Base, error) {
	faults, err := Faults()
	if err != nil {
		return nil, err
	}
	return NewFromFaults(ctx, embedder, faults)
}

// NewFromFaults indexes a custom catalogue.
func NewFromFaults(ctx context.Context, embedder Embedder, faults []Fault) (*Base, error) {
	db := chromem.NewDB()
	col, err := db.GetOrCreateCollection(collectionName, nil, ToChromemFunc(embedder))
	if err != nil {
		return nil, fmt.Errorf("create collection: %w", err)
	}

	docs := make([]chromem.Document, len(faults))
	for i, f := range faults {
		docs[i] = chromem.Document{
			ID:      strconv.Itoa(i),
			Content: f.document(),
			Metadata: map[string]string{
				"equipment": strings.ToLower(f.Equipment),
			},
		}
	}
	if len(docs) > 0 {
		if err := col.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
			return nil, fmt.Errorf("indexing faults: %w", err)
		}
	}
	return &Base{faults: faults, collection: col}, nil
}

// Len returns the number of indexed faults.
func (b *Base) Len() int { return len(b.faults) }

// Lookup returns faults whose name equals fault, case-insensitively. A
// non-empty parameter must also appear in the entry's parameter text.
func (b *Base) Lookup(fault, parameter string) []Fault {
	var out []Fault
	p := strings.ToLower(parameter)
	for _, f := range b.faults {
		if !strings.EqualFold(f.Fault, fault) {
			continue
		}
		if p != "" && !strings.Contains(strings.ToLower(f.Parameter), p) {
			continue
		}
		out = append(out, f)
	}
	return out
}

// Search returns up to n faults most similar to query. A non-empty
// equipment restricts results to that equipment class.
func (b *Base) Search(ctx context.Context, query string, n int, equipment string) ([]Result, error) {
	if n <= 0 {
		n = 3
	}
	if strings.TrimSpace(query) == "" {
		return nil, nil
	}
	var where map[string]string
	limit := b.collection.Count()
	if equipment != "" {
		eq := strings.ToLower(equipment)
		where = map[string]string{"equipment": eq}
		limit = 0
		for _, f := range b.faults {
			if strings.ToLower(f.Equipment) == eq {
				limit++
			}
		}
	}
	// chromem-go requires nResults <= the number of candidate documents.
	if n > limit {
		n = limit
	}
	if n == 0 {
		return nil, nil
	}

	hits, err := b.collection.Query(ctx, query, n, where, nil)
	if err != nil {
		return nil, fmt.Errorf("chromem query: %w", err)
	}

	out := make([]Result, 0, len(hits))
	for _, h := range hits {
		i, err := strconv.Atoi(h.ID)
		if err != nil || i < 0 || i >= len(b.faults) {
			continue
		}
		out = append(out, Result{Fault: b.faults[i], Similarity: h.Similarity})
	}
	return out, nil
}

// EquipmentFor guesses the equipment class a free-text question is about.
func EquipmentFor(text string) string {
	lower := strings.ToLower(text)
	switch {
	case strings.Contains(lower, "chiller"):
		return "Chiller"
	case strings.Contains(lower, "pump"):
		return "Pump"
	case strings.Contains(lower, "tfa"), strings.Contains(lower, "fresh air"), strings.Contains(lower, "ahu"):
		return "TFA"
	case strings.Contains(lower, "aqi"), strings.Contains(lower, "iaq"), strings.Contains(lower, "air quality"):
		return "AQI Sensor"
	}
	return ""
}
