package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Collection names used by Tachikoma. Declared here so callers do not
// scatter string literals.
const (
	// Interactions holds one wrapped record per classified turn, keyed by
	// descending severity rank.
	Interactions = "interactions"
	// Summaries holds at most one wrapped aggregate per user.
	Summaries = "summaries"
	// Profiles holds user profile documents owned by the surrounding
	// platform; Tachikoma only toggles their active flag.
	Profiles = "profiles"
)

// ErrNotFound is returned by Get and Set when no document exists under the
// requested (collection, id).
var ErrNotFound = errors.New("store: document not found")

// Document is one entry of a collection snapshot.
type Document struct {
	ID      string
	Payload []byte
}

// Add inserts payload under a generated random id and returns the id.
// Use AddWithID when the caller constructs the id (severity-ranked
// interaction keys).
func (s *Store) Add(ctx context.Context, collection string, payload []byte) (string, error) {
	id := uuid.NewString()
	if err := s.AddWithID(ctx, collection, id, payload); err != nil {
		return "", err
	}
	return id, nil
}

// AddWithID inserts payload under the given id. Inserting an id that already
// exists in the collection is an error.
func (s *Store) AddWithID(ctx context.Context, collection, id string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (collection, id, payload, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
	`, collection, id, payload, now, now)
	if err != nil {
		return fmt.Errorf("store: add %s/%s: %w", collection, id, err)
	}
	return nil
}

// Get returns the payload stored under (collection, id), or ErrNotFound.
func (s *Store) Get(ctx context.Context, collection, id string) ([]byte, error) {
	var payload []byte
	err := s.db.QueryRowContext(ctx,
		`SELECT payload FROM documents WHERE collection = ? AND id = ?`,
		collection, id,
	).Scan(&payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get %s/%s: %w", collection, id, err)
	}
	return payload, nil
}

// Set overwrites the payload of an existing document. Returns ErrNotFound
// when the document does not exist — Set never creates.
func (s *Store) Set(ctx context.Context, collection, id string, payload []byte) error {
	now := time.Now().UTC().Format(time.RFC3339)
	res, err := s.db.ExecContext(ctx, `
		UPDATE documents SET payload = ?, updated_at = ?
		WHERE collection = ? AND id = ?
	`, payload, now, collection, id)
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", collection, id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("store: set %s/%s: %w", collection, id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// ListAll returns a snapshot of the collection ordered by id. For the
// interactions collection the id embeds a descending severity rank, so this
// ordering surfaces the most severe records first; for other collections the
// ordering carries no meaning and callers must not rely on it.
func (s *Store) ListAll(ctx context.Context, collection string) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, payload FROM documents WHERE collection = ? ORDER BY id`,
		collection,
	)
	if err != nil {
		return nil, fmt.Errorf("store: list %s: %w", collection, err)
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		var d Document
		if err := rows.Scan(&d.ID, &d.Payload); err != nil {
			return nil, fmt.Errorf("store: list %s scan: %w", collection, err)
		}
		docs = append(docs, d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: list %s rows: %w", collection, err)
	}
	return docs, nil
}

// Count returns the number of documents in the collection.
func (s *Store) Count(ctx context.Context, collection string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM documents WHERE collection = ?`, collection,
	).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count %s: %w", collection, err)
	}
	return n, nil
}
