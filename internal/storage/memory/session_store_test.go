package memory

import (
	"context"
	"errors"
	"testing"

	"ktrdr/internal/domain"
	"ktrdr/internal/storage"
)

func TestSessionStore_Lifecycle(t *testing.T) {
	store := NewSessionStore()
	ctx := context.Background()

	sess := &storage.Session{SessionID: "s1", StrategyName: "trend", Status: domain.StatusPending}
	if err := store.Create(ctx, sess); err != nil {
		t.Fatalf("Create failed: %v", err)
	}

	if err := store.Create(ctx, sess); !errors.Is(err, storage.ErrDuplicateKey) {
		t.Errorf("expected ErrDuplicateKey, got %v", err)
	}

	if err := store.UpdateStatus(ctx, "s1", domain.StatusRunning, 0.4); err != nil {
		t.Fatalf("UpdateStatus failed: %v", err)
	}
	if err := store.StoreResult(ctx, "s1", domain.StatusCompleted, []byte(`{"ok":true}`)); err != nil {
		t.Fatalf("StoreResult failed: %v", err)
	}

	got, err := store.Get(ctx, "s1")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if got.Status != domain.StatusCompleted || string(got.ResultJSON) != `{"ok":true}` {
		t.Errorf("unexpected session state: %+v", got)
	}

	if _, err := store.Get(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("expected ErrNotFound, got %v", err)
	}
}
