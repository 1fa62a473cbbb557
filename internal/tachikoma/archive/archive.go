// Package archive persists Tachikoma's records to the durable store:
// per-turn interaction records under descending-severity keys, per-user
// summary aggregates merged by decrypted identity, and best-effort presence
// flags on externally owned user profiles.
package archive

import (
	"context"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

// DocumentStore is the slice of the durable store the archive layer uses.
// *store.Store satisfies it; tests substitute fakes for fault injection.
type DocumentStore interface {
	Add(ctx context.Context, collection string, payload []byte) (string, error)
	AddWithID(ctx context.Context, collection, id string, payload []byte) error
	Get(ctx context.Context, collection, id string) ([]byte, error)
	Set(ctx context.Context, collection, id string, payload []byte) error
	ListAll(ctx context.Context, collection string) ([]store.Document, error)
}
