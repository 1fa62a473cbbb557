// Package dispatch drives one turn through Tachikoma: classify, record,
// answer, and — on the termination signal — reduce the session into its
// summary and merge it into the durable store.
package dispatch

import (
	"context"
	"fmt"
	"strings"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/nlp"
)

// FinishKeyword is the literal text that terminates a session. Channels with
// richer affordances (webchat postbacks) set the Postback marker instead.
const FinishKeyword = "finish"

// TurnEvent is one inbound message as delivered by a channel adapter.
type TurnEvent struct {
	// Text is the raw utterance.
	Text string
	// Postback is the channel-specific termination marker (e.g. a webchat
	// postback frame). Plain-text channels leave it false and rely on the
	// finish keyword.
	Postback bool
	// ConversationID scopes the session.
	ConversationID string
	// UserID identifies the human participant.
	UserID string
}

// Terminal reports whether the event carries the termination signal.
func (ev TurnEvent) Terminal() bool {
	return ev.Postback || strings.EqualFold(strings.TrimSpace(ev.Text), FinishKeyword)
}

// Kind is the routing outcome for a turn.
type Kind int

const (
	// Continue routes the turn through record-and-answer.
	Continue Kind = iota
	// Terminate closes the session; the classifier is never consulted.
	Terminate
)

// Decision is the router's verdict on one turn. The two sub-decisions are
// deliberately independent: RecordStructured selects the telemetry level,
// while the reply text always comes from the open-domain answer lookup —
// a confident structured match does not suppress it.
type Decision struct {
	Kind Kind

	// Classification is the classifier output; nil for Terminate decisions.
	Classification *nlp.Classification

	// RecordStructured is true when the classification clears the dispatch
	// threshold, i.e. the turn counts as a structured intent match.
	RecordStructured bool
}

// Router classifies non-termination turns and decides their path.
type Router struct {
	provider nlp.Provider
}

// NewRouter creates a Router backed by the given classifier.
func NewRouter(provider nlp.Provider) *Router {
	return &Router{provider: provider}
}

// Route inspects the turn and, unless it is the termination signal, runs the
// classifier before any branching. A classifier failure is fatal to the
// turn and propagates untouched.
func (r *Router) Route(ctx context.Context, ev TurnEvent) (Decision, error) {
	if ev.Terminal() {
		return Decision{Kind: Terminate}, nil
	}

	classification, err := r.provider.Classify(ctx, ev.Text)
	if err != nil {
		return Decision{}, fmt.Errorf("dispatch: classify turn: %w", err)
	}

	return Decision{
		Kind:             Continue,
		Classification:   classification,
		RecordStructured: classification.Structured(),
	}, nil
}
