// Package intent maps classified intent labels to severity weights.
//
// The weight (0–8) orders interactions by how urgently a human reviewer
// should see them; it feeds the descending-severity persistence keys and the
// per-session intensity average. Weights are ordering/scoring data only —
// an unmapped label is simply weight 0, never an error.
package intent

import (
	"encoding/json"
	"fmt"
	"sort"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"gopkg.in/yaml.v3"
)

const (
	// MinWeight is the weight assigned to unmapped intents.
	MinWeight = 0
	// MaxWeight is the highest severity a pack may assign.
	MaxWeight = 8
)

// defaultWeights is the built-in table for the wellbeing intent set.
var defaultWeights = map[string]int{
	"mood.positive": 1,
	"mood.neutral":  2,
	"mood.tired":    3,
	"mood.angry":    4,
	"mood.low":      5,
	"mood.anxious":  6,
	"mood.hopeless": 7,
	"crisis.help":   8,
}

// packSchema validates a decoded intent pack before it replaces the built-in
// table. Weights outside [0,8] would corrupt the severity key ordering, so
// they are rejected at load time rather than clamped.
const packSchema = `{
	"type": "object",
	"required": ["intents"],
	"additionalProperties": false,
	"properties": {
		"intents": {
			"type": "object",
			"minProperties": 1,
			"propertyNames": {"minLength": 1},
			"additionalProperties": {
				"type": "integer",
				"minimum": 0,
				"maximum": 8
			}
		}
	}
}`

var compiledPackSchema = jsonschema.MustCompileString("intentpack.schema.json", packSchema)

// Table is a static intent label → severity weight mapping.
// It is immutable after construction and safe for concurrent use.
type Table struct {
	weights map[string]int
}

// Default returns the built-in wellbeing table.
func Default() *Table {
	w := make(map[string]int, len(defaultWeights))
	for k, v := range defaultWeights {
		w[k] = v
	}
	return &Table{weights: w}
}

// LoadPack parses a YAML intent pack of the form
//
//	intents:
//	  mood.low: 5
//	  crisis.help: 8
//
// and returns a Table built from it. The pack fully replaces the built-in
// table; it does not merge with it.
func LoadPack(data []byte) (*Table, error) {
	var doc any
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("intent: parse pack: %w", err)
	}

	// jsonschema validates values as decoded by encoding/json, so round-trip
	// the YAML document through JSON before validating.
	raw, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("intent: normalise pack: %w", err)
	}
	var jsonDoc any
	if err := json.Unmarshal(raw, &jsonDoc); err != nil {
		return nil, fmt.Errorf("intent: normalise pack: %w", err)
	}

	if err := compiledPackSchema.Validate(jsonDoc); err != nil {
		return nil, fmt.Errorf("intent: invalid pack: %w", err)
	}

	var pack struct {
		Intents map[string]int `yaml:"intents"`
	}
	if err := yaml.Unmarshal(data, &pack); err != nil {
		return nil, fmt.Errorf("intent: decode pack: %w", err)
	}

	return &Table{weights: pack.Intents}, nil
}

// Weight returns the severity weight for label, or MinWeight when the label
// is not in the table.
func (t *Table) Weight(label string) int {
	return t.weights[label]
}

// Labels returns the mapped intent labels in sorted order.
func (t *Table) Labels() []string {
	labels := make([]string, 0, len(t.weights))
	for l := range t.weights {
		labels = append(labels, l)
	}
	sort.Strings(labels)
	return labels
}
