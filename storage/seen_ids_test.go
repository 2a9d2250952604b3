package storage

import (
	"testing"
)

func TestSeenIDLifecycle(t *testing.T) {
	store := newTestStore(t)

	seen, err := store.HasSeenID("msg-1")
	if err != nil {
		t.Fatalf("check unseen ID: %v", err)
	}
	if seen {
		t.Fatalf("expected msg-1 to be unseen")
	}

	if err := store.InsertSeenID("msg-1", 1_000); err != nil {
		t.Fatalf("insert seen ID: %v", err)
	}
	if err := store.InsertSeenID("msg-2", 10_000); err != nil {
		t.Fatalf("insert seen ID: %v", err)
	}

	seen, err = store.HasSeenID("msg-1")
	if err != nil {
		t.Fatalf("check seen ID: %v", err)
	}
	if !seen {
		t.Fatalf("expected msg-1 to be seen")
	}

	// Re-inserting refreshes received_at rather than failing.
	if err := store.InsertSeenID("msg-1", 20_000); err != nil {
		t.Fatalf("refresh seen ID: %v", err)
	}

	pruned, err := store.PruneSeenIDs(15_000)
	if err != nil {
		t.Fatalf("prune seen IDs: %v", err)
	}
	if pruned != 1 {
		t.Fatalf("expected 1 pruned row, got %d", pruned)
	}

	seen, err = store.HasSeenID("msg-1")
	if err != nil {
		t.Fatalf("check refreshed ID after prune: %v", err)
	}
	if !seen {
		t.Fatalf("expected refreshed msg-1 to survive prune")
	}
}
