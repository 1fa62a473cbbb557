package archive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/bdobrica/Tachikoma/common/crypto"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/session"
	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

// Merger upserts session summaries into the summaries collection, keyed by
// the user identity sealed inside each document rather than by storage id.
//
// The store cannot look a summary up by user — payloads are opaque blobs —
// so the merge fetches the full snapshot and unseals candidates one by one
// until it finds a match. O(N) unseals per termination is the accepted cost:
// summaries are written once per session and N is the number of distinct
// users ever summarised.
type Merger struct {
	store  DocumentStore
	sealer *crypto.Sealer
	logger *slog.Logger

	// Upserts for the same user serialize through a per-user lock so two
	// racing terminations cannot both miss the scan and insert twice.
	mu    sync.Mutex
	users map[string]*sync.Mutex
}

// NewMerger creates a Merger. If logger is nil, the default slog logger is
// used.
func NewMerger(docs DocumentStore, sealer *crypto.Sealer, logger *slog.Logger) *Merger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Merger{
		store:  docs,
		sealer: sealer,
		logger: logger,
		users:  make(map[string]*sync.Mutex),
	}
}

// Upsert writes the summary as the single record for its user: the first
// stored summary that unseals to the same UserID is overwritten in place
// (full replace), and only when the whole scan misses is a new record
// inserted. Documents that fail to unseal are skipped — a foreign or corrupt
// blob must not block every user's merge.
func (m *Merger) Upsert(ctx context.Context, summary session.Summary) error {
	lock := m.userLock(summary.UserID)
	lock.Lock()
	defer lock.Unlock()

	blob, err := m.sealer.Seal(summary)
	if err != nil {
		return fmt.Errorf("archive: seal summary: %w", err)
	}

	docs, err := m.store.ListAll(ctx, store.Summaries)
	if err != nil {
		return fmt.Errorf("archive: snapshot summaries: %w", err)
	}

	for _, doc := range docs {
		var existing session.Summary
		if err := m.sealer.Unseal(doc.Payload, &existing); err != nil {
			m.logger.Warn("summary merge: skipping undecryptable document",
				"id", doc.ID, "err", err)
			continue
		}
		if existing.UserID != summary.UserID {
			continue
		}

		if err := m.store.Set(ctx, store.Summaries, doc.ID, blob); err != nil {
			return fmt.Errorf("archive: overwrite summary: %w", err)
		}
		m.logger.Info("session summary merged",
			"user_id", summary.UserID, "keywords", len(summary.Keywords))
		return nil
	}

	id, err := m.store.Add(ctx, store.Summaries, blob)
	if err != nil {
		return fmt.Errorf("archive: insert summary: %w", err)
	}
	m.logger.Info("session summary inserted",
		"user_id", summary.UserID, "id", id, "keywords", len(summary.Keywords))
	return nil
}

// userLock returns the serialization lock for a user, creating it on first
// use. Locks are never released back; the per-user footprint is one mutex.
func (m *Merger) userLock(userID string) *sync.Mutex {
	m.mu.Lock()
	defer m.mu.Unlock()

	lock, ok := m.users[userID]
	if !ok {
		lock = &sync.Mutex{}
		m.users[userID] = lock
	}
	return lock
}
