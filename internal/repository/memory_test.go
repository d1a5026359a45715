package repository

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/race-economy/internal/model"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestRunInTx_DiscardsWritesOnError(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	boom := errors.New("boom")
	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		tx.PutPlayer(model.Player{ID: "p1", Gems: 500})
		return boom
	})
	require.ErrorIs(t, err, boom)

	err = repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		p, err := tx.GetPlayer(ctx, "p1")
		require.NoError(t, err)
		assert.False(t, p.Exists)
		assert.Zero(t, p.Gems)
		return nil
	})
	require.NoError(t, err)
}

func TestRunInTx_WritesAreStagedUntilCommit(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		tx.PutInventoryEntry(model.InventoryEntry{PlayerID: "p1", SkuID: "a", Quantity: 3, CreatedAt: t0, UpdatedAt: t0})

		entries, err := tx.GetInventoryEntries(ctx, "p1", []string{"a"})
		require.NoError(t, err)
		assert.Empty(t, entries)
		return nil
	})
	require.NoError(t, err)

	err = repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		entries, err := tx.GetInventoryEntries(ctx, "p1", []string{"a", "b"})
		require.NoError(t, err)
		require.Len(t, entries, 1)
		assert.Equal(t, int64(3), entries["a"].Quantity)
		return nil
	})
	require.NoError(t, err)
}

func TestRunInTx_InjectedCommitError(t *testing.T) {
	repo := NewMemoryRepository()
	repo.FailNextCommit(ErrConflict)

	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx Tx) error {
		tx.PutPlayer(model.Player{ID: "p1", Gems: 1})
		return nil
	})
	require.ErrorIs(t, err, ErrConflict)

	ids, err := repo.ListPlayerIDs(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestAcquireReceipt(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()
	lease := 2 * time.Minute

	rc := model.Receipt{PlayerID: "p1", OpID: "op", Operation: "openCrate", CreatedAt: t0, UpdatedAt: t0}
	require.NoError(t, repo.AcquireReceipt(ctx, rc, lease))

	rc.UpdatedAt = t0.Add(time.Minute)
	assert.ErrorIs(t, repo.AcquireReceipt(ctx, rc, lease), ErrReceiptInProgress)

	rc.UpdatedAt = t0.Add(3 * time.Minute)
	assert.NoError(t, repo.AcquireReceipt(ctx, rc, lease), "stale lease must be re-acquired")

	require.NoError(t, repo.MarkReceiptFailed(ctx, "p1", "op", "resource-exhausted", t0.Add(4*time.Minute)))
	got, err := repo.GetReceipt(ctx, "p1", "op")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptFailed, got.Status)
	assert.Equal(t, t0, got.CreatedAt)

	rc.UpdatedAt = t0.Add(4 * time.Minute)
	require.NoError(t, repo.AcquireReceipt(ctx, rc, lease), "failed receipt must be re-acquired")

	completedAt := t0.Add(5 * time.Minute)
	err = repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		tx.PutReceipt(model.Receipt{
			PlayerID: "p1", OpID: "op", Operation: "openCrate",
			Status: model.ReceiptCompleted, Result: []byte(`{"ok":true}`),
			CreatedAt: t0, UpdatedAt: completedAt, CompletedAt: &completedAt,
		})
		return nil
	})
	require.NoError(t, err)

	rc.UpdatedAt = t0.Add(time.Hour)
	assert.ErrorIs(t, repo.AcquireReceipt(ctx, rc, lease), ErrReceiptCompleted)

	require.NoError(t, repo.MarkReceiptFailed(ctx, "p1", "op", "internal", t0.Add(time.Hour)))
	got, err = repo.GetReceipt(ctx, "p1", "op")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptCompleted, got.Status, "completed receipts are immutable")
	assert.JSONEq(t, `{"ok":true}`, string(got.Result))
}

func TestScanQueries(t *testing.T) {
	repo := NewMemoryRepository()
	ctx := context.Background()

	err := repo.RunInTx(ctx, func(ctx context.Context, tx Tx) error {
		tx.PutScheduledTransition(model.ScheduledTransition{PlayerID: "b", FireAt: 200, Reason: model.ReasonOfferExpired})
		tx.PutScheduledTransition(model.ScheduledTransition{PlayerID: "a", FireAt: 100, Reason: model.ReasonCooldownEnd})
		tx.PutScheduledTransition(model.ScheduledTransition{PlayerID: "c", FireAt: 900, Reason: model.ReasonOfferExpired})

		tx.PutMainOffer(model.MainOffer{PlayerID: "a", State: model.OfferActive, ExpiresAt: 50})
		tx.PutMainOffer(model.MainOffer{PlayerID: "b", State: model.OfferCooldown, ExpiresAt: 50})
		tx.PutMainOffer(model.MainOffer{PlayerID: "c", State: model.OfferActive, ExpiresAt: 5000})
		tx.PutOfferFlowState(model.OfferFlowState{PlayerID: "d"})
		tx.PutPlayer(model.Player{ID: "e"})
		return nil
	})
	require.NoError(t, err)

	due, err := repo.ListDueTransitions(ctx, 500, 10)
	require.NoError(t, err)
	require.Len(t, due, 2)
	assert.Equal(t, "a", due[0].PlayerID)
	assert.Equal(t, "b", due[1].PlayerID)

	overdue, err := repo.ListOverdueActiveOffers(ctx, 1000, 10)
	require.NoError(t, err)
	require.Len(t, overdue, 1)
	assert.Equal(t, "a", overdue[0].PlayerID)

	page, err := repo.ListPlayerIDs(ctx, "", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, page)

	page, err = repo.ListPlayerIDs(ctx, "c", 3)
	require.NoError(t, err)
	assert.Equal(t, []string{"d", "e"}, page)
}
