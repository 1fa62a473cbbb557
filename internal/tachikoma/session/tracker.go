package session

import "sync"

// Tracker maps conversation IDs to their ordered interaction logs.
// It is safe for concurrent use across conversations; serialization of turns
// within one conversation is the dispatcher's job, not the tracker's.
type Tracker struct {
	mu       sync.Mutex
	sessions map[string][]InteractionRecord
}

// NewTracker returns an empty Tracker.
func NewTracker() *Tracker {
	return &Tracker{sessions: make(map[string][]InteractionRecord)}
}

// Open creates an empty log for the conversation. It is a no-op when the
// conversation already has a log (open sessions are never truncated by a
// duplicate join event).
func (t *Tracker) Open(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.sessions[conversationID]; !ok {
		t.sessions[conversationID] = []InteractionRecord{}
	}
}

// Append adds a record to the conversation's log, creating the log if the
// conversation was never opened. Normally Open has run at session start;
// creating here keeps a missed join event from dropping turns.
func (t *Tracker) Append(conversationID string, rec InteractionRecord) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[conversationID] = append(t.sessions[conversationID], rec)
}

// Snapshot returns a copy of the conversation's log in arrival order and
// whether the conversation is known at all. Mutating the returned slice does
// not affect the tracker.
func (t *Tracker) Snapshot(conversationID string) ([]InteractionRecord, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	records, ok := t.sessions[conversationID]
	if !ok {
		return nil, false
	}
	out := make([]InteractionRecord, len(records))
	copy(out, records)
	return out, true
}

// Len returns the number of records accumulated for the conversation.
func (t *Tracker) Len(conversationID string) int {
	t.mu.Lock()
	defer t.mu.Unlock()

	return len(t.sessions[conversationID])
}

// Clear resets the conversation's log to an empty list. The key stays in the
// map: turns arriving after a termination must find an empty session, not an
// unknown one.
func (t *Tracker) Clear(conversationID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.sessions[conversationID] = []InteractionRecord{}
}
