package storage

import (
	"testing"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()

	dataDir := t.TempDir()
	store, _, err := Open(dataDir)
	if err != nil {
		t.Fatalf("open test store: %v", err)
	}
	t.Cleanup(func() {
		if err := store.Close(); err != nil {
			t.Fatalf("close test store: %v", err)
		}
	})

	return store
}

func strPtr(s string) *string {
	return &s
}

func mustSavePublic(t *testing.T, store *Store, id, sender, content string, ts int64) {
	t.Helper()

	err := store.SaveMessage(Message{
		MessageID:  id,
		Content:    content,
		SenderNode: sender,
		IsPublic:   true,
		Timestamp:  ts,
	})
	if err != nil {
		t.Fatalf("save public message %q: %v", id, err)
	}
}
