package inventory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
)

var (
	t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	t1 = t0.Add(time.Hour)
)

func snapshot(t *testing.T) *catalog.Snapshot {
	t.Helper()
	snap, err := catalog.EmbeddedSource{}.Load(context.Background())
	require.NoError(t, err)
	return snap
}

// commit выполняет одну фазу записи журнала в отдельной транзакции.
func commit(t *testing.T, repo *repository.MemoryRepository, now time.Time, skus []string, fn func(l *Ledger) error) error {
	t.Helper()
	snap := snapshot(t)
	return repo.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		states, err := LoadStates(ctx, tx, "p1", skus)
		if err != nil {
			return err
		}
		summary, err := tx.GetInventorySummary(ctx, "p1")
		if err != nil {
			return err
		}
		l := NewLedger("p1", states, summary, now)
		if err := fn(l); err != nil {
			return err
		}
		_, err = l.Flush(tx, snap)
		return err
	})
}

func read(t *testing.T, repo *repository.MemoryRepository, sku string) (model.InventoryEntry, model.InventorySummary) {
	t.Helper()
	var (
		entry   model.InventoryEntry
		summary model.InventorySummary
	)
	require.NoError(t, repo.RunInTx(context.Background(), func(ctx context.Context, tx repository.Tx) error {
		entries, err := tx.GetInventoryEntries(ctx, "p1", []string{sku})
		if err != nil {
			return err
		}
		entry = entries[sku]
		summary, err = tx.GetInventorySummary(ctx, "p1")
		return err
	}))
	return entry, summary
}

func TestLedger_IncPreservesCreatedAt(t *testing.T) {
	repo := repository.NewMemoryRepository()

	require.NoError(t, commit(t, repo, t0, []string{"sku_part_turbo"}, func(l *Ledger) error {
		return l.IncSkuQty("sku_part_turbo", 2)
	}))
	require.NoError(t, commit(t, repo, t1, []string{"sku_part_turbo"}, func(l *Ledger) error {
		return l.IncSkuQty("sku_part_turbo", 3)
	}))

	entry, summary := read(t, repo, "sku_part_turbo")
	assert.Equal(t, int64(5), entry.Quantity)
	assert.Equal(t, t0, entry.CreatedAt)
	assert.Equal(t, t1, entry.UpdatedAt)

	assert.Equal(t, model.SummaryItem{Quantity: 5, Type: catalog.TypePart, Rarity: "common"}, summary.Items["sku_part_turbo"])
	assert.Equal(t, int64(5), summary.Totals[catalog.TypePart])
}

func TestLedger_DecNeverGoesNegative(t *testing.T) {
	repo := repository.NewMemoryRepository()
	skus := []string{"sku_key_gold"}

	require.NoError(t, commit(t, repo, t0, skus, func(l *Ledger) error {
		return l.IncSkuQty("sku_key_gold", 1)
	}))

	err := commit(t, repo, t1, skus, func(l *Ledger) error {
		return l.DecSkuQty("sku_key_gold", 2)
	})
	require.ErrorIs(t, err, ErrInsufficientQuantity)
	assert.Equal(t, apperr.CodeResourceExhausted, apperr.CodeOf(err))

	entry, summary := read(t, repo, "sku_key_gold")
	assert.Equal(t, int64(1), entry.Quantity)
	assert.Equal(t, int64(1), summary.Items["sku_key_gold"].Quantity)
}

func TestLedger_SummaryMatchesEntriesAcrossSequence(t *testing.T) {
	repo := repository.NewMemoryRepository()
	skus := []string{"sku_crate_common", "sku_key_gold"}

	steps := []struct {
		sku   string
		delta int64
	}{
		{"sku_crate_common", 3},
		{"sku_key_gold", 2},
		{"sku_crate_common", -1},
		{"sku_crate_common", -5},
		{"sku_key_gold", -2},
		{"sku_crate_common", 4},
	}

	for _, st := range steps {
		_ = commit(t, repo, t0, skus, func(l *Ledger) error {
			if st.delta > 0 {
				return l.IncSkuQty(st.sku, st.delta)
			}
			return l.DecSkuQty(st.sku, -st.delta)
		})

		for _, sku := range skus {
			entry, summary := read(t, repo, sku)
			require.GreaterOrEqual(t, entry.Quantity, int64(0))
			assert.Equal(t, entry.Quantity, summary.Items[sku].Quantity, "summary diverged for %s", sku)
		}
	}

	entry, summary := read(t, repo, "sku_crate_common")
	assert.Equal(t, int64(6), entry.Quantity)
	_, hasKey := summary.Items["sku_key_gold"]
	assert.False(t, hasKey, "zero quantities are dropped from the summary")
	assert.Equal(t, int64(6), summary.Totals[catalog.TypeCrate])
}

func TestLedger_EnsureNotOwned(t *testing.T) {
	snap := snapshot(t)
	csm, err := snap.ResolveSKU("sku_csm_1")
	require.NoError(t, err)

	l := NewLedger("p1", States{"sku_csm_1": {Exists: true, Quantity: 1, CreatedAt: t0}}, model.InventorySummary{}, t1)
	err = l.Grant(csm, 1)
	require.ErrorIs(t, err, ErrAlreadyOwned)
	assert.Equal(t, apperr.CodeFailedPrecondition, apperr.CodeOf(err))

	fresh := NewLedger("p1", States{}, model.InventorySummary{}, t1)
	require.NoError(t, fresh.Grant(csm, 1))
	assert.ErrorIs(t, fresh.Grant(csm, 1), ErrAlreadyOwned, "second grant in the same batch")
	assert.ErrorIs(t, NewLedger("p1", nil, model.InventorySummary{}, t1).Grant(csm, 2), ErrNotStackable)
}

func TestUpdateSummary_UnknownSKU(t *testing.T) {
	_, err := UpdateSummary(model.InventorySummary{}, map[string]int64{"ghost": 1}, snapshot(t), t0)
	require.ErrorIs(t, err, catalog.ErrBrokenReference)
}

func TestWallet(t *testing.T) {
	p := model.Player{ID: "p1", Gems: 50, Coins: 1000}

	err := Debit(&p, catalog.CurrencyGems, 300)
	require.ErrorIs(t, err, ErrInsufficientFunds)
	assert.Equal(t, int64(50), p.Gems)

	require.NoError(t, Debit(&p, catalog.CurrencyCoins, 400))
	assert.Equal(t, int64(600), p.Coins)

	require.NoError(t, Credit(&p, 250, 0))
	assert.Equal(t, int64(300), p.Gems)
	assert.Error(t, Credit(&p, -1, 0))

	Touch(&p, t0)
	Touch(&p, t1)
	assert.Equal(t, t0, p.CreatedAt)
	assert.Equal(t, t1, p.UpdatedAt)
}
