// Package nlp provides the intent classification layer for Tachikoma.
//
// The classifier sits between the raw channel message and the turn router.
// Its sole responsibility is translation: convert a free-form utterance into
// a Classification (top intent label + confidence + entities) that the
// dispatch pipeline can record and route on. It never composes replies —
// reply text always comes from the answer service.
package nlp

import (
	"context"
	"errors"
)

// DispatchThreshold is the minimum confidence at which a classification is
// treated as a structured intent match. Below it the turn is still answered
// (the open-domain responder fires on every turn) but no structured
// telemetry is recorded for it.
const DispatchThreshold = 0.5

// ErrMalformedOutput is returned when the upstream model produces a
// structurally valid HTTP response whose body cannot be interpreted as a
// Classification (JSON parse failure, unexpected schema).
var ErrMalformedOutput = errors.New("nlp: malformed response from classifier")

// Entity is one extracted span from the utterance.
type Entity struct {
	// Name is the entity type, e.g. "subject".
	Name string `json:"name"`
	// Value is the extracted text.
	Value string `json:"value"`
}

// Classification is the structured output of a single classify call.
type Classification struct {
	// Intent is the top-ranked intent label, e.g. "mood.low".
	Intent string `json:"intent"`
	// Score is the model's confidence in [0,1].
	Score float64 `json:"score"`
	// Entities are the extracted spans, possibly empty.
	Entities []Entity `json:"entities,omitempty"`
}

// Structured reports whether the classification clears the dispatch
// threshold and carries a non-empty intent label.
func (c *Classification) Structured() bool {
	return c.Intent != "" && c.Score >= DispatchThreshold
}

// Provider classifies free-form utterances.
//
// Implementations must be safe for concurrent use. A classify failure is
// fatal to the turn that triggered it — callers propagate it rather than
// degrading to a guess.
type Provider interface {
	Classify(ctx context.Context, text string) (*Classification, error)
}
