package archive

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/bdobrica/Tachikoma/common/crypto"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/intent"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/nlp"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/session"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

// Recorder turns a classified utterance into an InteractionRecord, appends
// it to the session log, and persists a sealed copy individually.
type Recorder struct {
	table   *intent.Table
	tracker *session.Tracker
	store   DocumentStore
	sealer  *crypto.Sealer
	logger  *slog.Logger
}

// NewRecorder creates a Recorder. If logger is nil, the default slog logger
// is used.
func NewRecorder(table *intent.Table, tracker *session.Tracker, docs DocumentStore, sealer *crypto.Sealer, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{
		table:   table,
		tracker: tracker,
		store:   docs,
		sealer:  sealer,
		logger:  logger,
	}
}

// Record builds the record for one classified turn, appends it to the
// conversation's session log, and writes a sealed copy to the interactions
// collection under a severity-ranked key.
//
// The in-memory append happens first and is not rolled back when the store
// write fails — session memory may lead the durable store, never trail it.
func (r *Recorder) Record(ctx context.Context, conversationID, userID, utterance string, c *nlp.Classification) (session.InteractionRecord, error) {
	rec := session.InteractionRecord{
		Utterance: utterance,
		Intent:    c.Intent,
		Score:     c.Score,
		Intensity: r.table.Weight(c.Intent),
		UserID:    userID,
	}

	r.tracker.Append(conversationID, rec)

	blob, err := r.sealer.Seal(rec)
	if err != nil {
		return rec, fmt.Errorf("archive: seal interaction: %w", err)
	}

	key := interactionKey(rec.Intensity)
	if err := r.store.AddWithID(ctx, store.Interactions, key, blob); err != nil {
		return rec, fmt.Errorf("archive: persist interaction: %w", err)
	}

	r.logger.Debug("interaction recorded",
		"conversation_id", conversationID,
		"intent", rec.Intent,
		"intensity", rec.Intensity,
		"key", key,
	)

	return rec, nil
}

// interactionKey builds the persistence key for a record. The severity rank
// is inverted (8 - intensity) so a lexicographic scan of the collection
// yields the most severe interactions first: intensity 8 keys start with
// "0_", intensity 0 keys with "8_". The random suffix keeps keys unique
// within a rank.
func interactionKey(intensity int) string {
	return fmt.Sprintf("%d_%s", intent.MaxWeight-intensity, uuid.NewString())
}
