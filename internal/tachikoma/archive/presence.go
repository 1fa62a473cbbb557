package archive

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

// Presence toggles the active flag on user profile documents. Profiles are
// owned by the surrounding platform: Presence never creates one, and a
// missing profile is a silent no-op, not an error.
type Presence struct {
	store  DocumentStore
	logger *slog.Logger
}

// NewPresence creates a Presence tracker. If logger is nil, the default slog
// logger is used.
func NewPresence(docs DocumentStore, logger *slog.Logger) *Presence {
	if logger == nil {
		logger = slog.Default()
	}
	return &Presence{store: docs, logger: logger}
}

// SetActive merges the active flag over the profile's existing field set and
// writes it back. Every other field is preserved untouched.
func (p *Presence) SetActive(ctx context.Context, userID string, active bool) error {
	payload, err := p.store.Get(ctx, store.Profiles, userID)
	if errors.Is(err, store.ErrNotFound) {
		p.logger.Debug("presence: no profile, skipping", "user_id", userID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("archive: read profile: %w", err)
	}

	var profile map[string]any
	if err := json.Unmarshal(payload, &profile); err != nil {
		return fmt.Errorf("archive: decode profile: %w", err)
	}
	profile["active"] = active

	updated, err := json.Marshal(profile)
	if err != nil {
		return fmt.Errorf("archive: encode profile: %w", err)
	}

	if err := p.store.Set(ctx, store.Profiles, userID, updated); err != nil {
		return fmt.Errorf("archive: write profile: %w", err)
	}

	p.logger.Debug("presence updated", "user_id", userID, "active", active)
	return nil
}
