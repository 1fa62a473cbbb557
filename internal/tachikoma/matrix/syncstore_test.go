package matrix

import (
	"context"
	"path/filepath"
	"testing"

	"maunium.net/go/mautrix/id"

	"github.com/bdobrica/Tachikoma/internal/tachikoma/store"
)

func newTestDB(t *testing.T) *DBSyncStore {
	t.Helper()
	s, err := store.New(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("store.New: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return newDBSyncStore(s.DB())
}

func TestDBSyncStore_NextBatchRoundTrip(t *testing.T) {
	ss := newTestDB(t)
	ctx := context.Background()
	user := id.UserID("@tachikoma:example.org")

	got, err := ss.LoadNextBatch(ctx, user)
	if err != nil {
		t.Fatalf("LoadNextBatch: %v", err)
	}
	if got != "" {
		t.Errorf("first run token = %q, want empty", got)
	}

	if err := ss.SaveNextBatch(ctx, user, "s123_456"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}
	// Overwrite, not duplicate.
	if err := ss.SaveNextBatch(ctx, user, "s789_000"); err != nil {
		t.Fatalf("SaveNextBatch: %v", err)
	}

	got, err = ss.LoadNextBatch(ctx, user)
	if err != nil {
		t.Fatalf("LoadNextBatch: %v", err)
	}
	if got != "s789_000" {
		t.Errorf("token = %q, want the latest save", got)
	}
}

func TestDBSyncStore_FilterIDIsPerUser(t *testing.T) {
	ss := newTestDB(t)
	ctx := context.Background()

	if err := ss.SaveFilterID(ctx, "@a:example.org", "f1"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}
	if err := ss.SaveFilterID(ctx, "@b:example.org", "f2"); err != nil {
		t.Fatalf("SaveFilterID: %v", err)
	}

	got, err := ss.LoadFilterID(ctx, "@a:example.org")
	if err != nil {
		t.Fatalf("LoadFilterID: %v", err)
	}
	if got != "f1" {
		t.Errorf("filter for @a = %q, want f1", got)
	}
}

func TestConversationID(t *testing.T) {
	got := conversationID(id.RoomID("!room:example.org"), id.UserID("@alice:example.org"))
	want := "!room:example.org/@alice:example.org"
	if got != want {
		t.Errorf("conversationID = %q, want %q", got, want)
	}
}
