package postgres

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"ktrdr/internal/domain"
	"ktrdr/internal/storage"
)

func TestSessionStore_Integration_Lifecycle(t *testing.T) {
	pool, cleanup := setupTestDB(t)
	defer cleanup()

	store := NewSessionStore(pool)
	ctx := context.Background()

	sess := &storage.Session{
		SessionID:    "sess-1",
		StrategyName: "trend_follow",
		Status:       domain.StatusPending,
	}
	require.NoError(t, store.Create(ctx, sess))

	err := store.Create(ctx, sess)
	require.True(t, errors.Is(err, storage.ErrDuplicateKey), "expected ErrDuplicateKey, got %v", err)

	require.NoError(t, store.UpdateStatus(ctx, "sess-1", domain.StatusRunning, 0.25))

	resultJSON := []byte(`{"training_metrics":{"final_train_loss":0.42}}`)
	require.NoError(t, store.StoreResult(ctx, "sess-1", domain.StatusCompleted, resultJSON))

	got, err := store.Get(ctx, "sess-1")
	require.NoError(t, err)
	require.Equal(t, domain.StatusCompleted, got.Status)
	require.JSONEq(t, string(resultJSON), string(got.ResultJSON))

	_, err = store.Get(ctx, "missing")
	require.True(t, errors.Is(err, storage.ErrNotFound))

	err = store.UpdateStatus(ctx, "missing", domain.StatusRunning, 0)
	require.True(t, errors.Is(err, storage.ErrNotFound))
}
