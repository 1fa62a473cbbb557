// Package session holds the working memory of in-progress conversations:
// one ordered interaction log per conversation, accumulated turn by turn and
// reduced to a single per-user summary when the conversation ends.
//
// Nothing in this package is durable. A process restart loses every open
// session; only the reduced summaries and the per-turn archive records
// written by the archive package survive.
package session

// InteractionRecord is one classified turn. Records are immutable once
// created; the tracker owns them until the session is cleared.
type InteractionRecord struct {
	// Utterance is the raw text the user sent.
	Utterance string `json:"utterance"`
	// Intent is the top intent label returned by the classifier.
	Intent string `json:"intent"`
	// Score is the classifier's confidence in [0,1].
	Score float64 `json:"score"`
	// Intensity is the severity weight from the intent table (0 when the
	// intent is unmapped).
	Intensity int `json:"intensity"`
	// UserID identifies the human participant.
	UserID string `json:"user_id"`
}

// Summary is the aggregate produced when a session terminates. It is derived
// once and never mutated; the store holds at most one summary per user.
type Summary struct {
	// AvgIntensity is the arithmetic mean of the session's intensities.
	AvgIntensity float64 `json:"avg_intensity"`
	// AvgScore is the arithmetic mean of the session's confidence scores.
	AvgScore float64 `json:"avg_score"`
	// Keywords are the session's utterances in original turn order.
	Keywords []string `json:"keywords"`
	// UserID identifies the user the summary belongs to.
	UserID string `json:"user_id"`
}
