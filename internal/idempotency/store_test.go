package idempotency

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/cache"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
)

var start = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestStore(t *testing.T) (*Store, *repository.MemoryRepository, *clock.Manual, *cache.MemoryCache) {
	t.Helper()
	repo := repository.NewMemoryRepository()
	clk := clock.NewManual(start)
	c := cache.NewMemoryCache(clk)
	return NewStore(repo, c, clk, zap.NewNop(), Options{Lease: time.Minute}), repo, clk, c
}

func complete(t *testing.T, repo *repository.MemoryRepository, playerID, opID, op, result string) {
	t.Helper()
	at := start
	err := repo.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		tx.PutReceipt(model.Receipt{
			PlayerID: playerID, OpID: opID, Operation: op,
			Status: model.ReceiptCompleted, Result: []byte(result),
			CreatedAt: at, UpdatedAt: at, CompletedAt: &at,
		})
		return nil
	})
	require.NoError(t, err)
}

func TestCheck_MissThenCompleted(t *testing.T) {
	s, repo, _, _ := newTestStore(t)
	ctx := context.Background()

	rc, err := s.Check(ctx, "p1", "op-1")
	require.NoError(t, err)
	assert.Nil(t, rc)

	require.NoError(t, s.CreateInProgress(ctx, "p1", "op-1", "openCrate"))

	rc, err = s.Check(ctx, "p1", "op-1")
	require.NoError(t, err)
	assert.Nil(t, rc, "in-progress receipts are not replayable")

	complete(t, repo, "p1", "op-1", "openCrate", `{"skuId":"sku_csm_1"}`)

	rc, err = s.Check(ctx, "p1", "op-1")
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, `{"skuId":"sku_csm_1"}`, string(rc.Result))
}

func TestCheck_UsesCacheFastPath(t *testing.T) {
	s, repo, _, c := newTestStore(t)
	ctx := context.Background()

	complete(t, repo, "p1", "op-1", "purchaseShopSku", `{"gems":200}`)

	_, err := s.Check(ctx, "p1", "op-1")
	require.NoError(t, err)

	_, err = c.Get(ctx, cacheKey("p1", "op-1"))
	require.NoError(t, err, "completed receipt must be cached after first check")

	// Кэш отвечает даже если хранилище уже пусто.
	s.repo = repository.NewMemoryRepository()
	rc, err := s.Check(ctx, "p1", "op-1")
	require.NoError(t, err)
	require.NotNil(t, rc)
	assert.Equal(t, "purchaseShopSku", rc.Operation)
	assert.Equal(t, `{"gems":200}`, string(rc.Result))
}

func TestCreateInProgress_ConcurrentDuplicate(t *testing.T) {
	s, _, clk, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInProgress(ctx, "p1", "op-1", "openCrate"))

	err := s.CreateInProgress(ctx, "p1", "op-1", "openCrate")
	require.ErrorIs(t, err, ErrInProgress)
	assert.Equal(t, apperr.CodeAborted, apperr.CodeOf(err))

	clk.Advance(2 * time.Minute)
	assert.NoError(t, s.CreateInProgress(ctx, "p1", "op-1", "openCrate"), "expired lease is re-acquired")
}

func TestMarkFailed_AllowsRetry(t *testing.T) {
	s, repo, _, _ := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.CreateInProgress(ctx, "p1", "op-1", "purchaseShopSku"))
	s.MarkFailed(ctx, "p1", "op-1", apperr.CodeResourceExhausted)

	rc, err := repo.GetReceipt(ctx, "p1", "op-1")
	require.NoError(t, err)
	assert.Equal(t, model.ReceiptFailed, rc.Status)
	assert.Equal(t, "resource-exhausted", rc.ErrorCode)

	assert.NoError(t, s.CreateInProgress(ctx, "p1", "op-1", "purchaseShopSku"))
}

func TestCreateInProgress_Completed(t *testing.T) {
	s, repo, _, _ := newTestStore(t)
	complete(t, repo, "p1", "op-1", "openCrate", `{}`)

	err := s.CreateInProgress(context.Background(), "p1", "op-1", "openCrate")
	assert.True(t, errors.Is(err, ErrCompleted))
}
