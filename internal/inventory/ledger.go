// Package inventory: единственный путь изменения количеств SKU и сводки инвентаря.
package inventory

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
)

var (
	ErrInsufficientQuantity = apperr.ResourceExhausted("insufficient quantity")
	ErrAlreadyOwned         = apperr.FailedPrecondition("item already owned")
	ErrInvalidDelta         = apperr.InvalidArgument("quantity delta must be positive")
	ErrNotStackable         = apperr.InvalidArgument("sku is not stackable")
)

// DocState: состояние записи SKU, загруженное в фазе чтения.
type DocState struct {
	Exists    bool
	Quantity  int64
	CreatedAt time.Time
}

// States: загруженные состояния по skuId. Отсутствующий ключ означает пустую запись.
type States map[string]DocState

// LoadStates читает записи инвентаря для набора SKU.
func LoadStates(ctx context.Context, r repository.Reader, playerID string, skuIDs []string) (States, error) {
	entries, err := r.GetInventoryEntries(ctx, playerID, uniq(skuIDs))
	if err != nil {
		return nil, fmt.Errorf("load inventory entries: %w", err)
	}

	states := make(States, len(skuIDs))
	for _, id := range skuIDs {
		e, ok := entries[id]
		if !ok {
			states[id] = DocState{}
			continue
		}
		states[id] = DocState{Exists: true, Quantity: e.Quantity, CreatedAt: e.CreatedAt}
	}
	return states, nil
}

// Ledger накапливает изменения инвентаря одного игрока за фазу записи.
// Каждая запись SKU и сводка пишутся один раз при Flush.
type Ledger struct {
	playerID string
	now      time.Time
	states   States
	summary  model.InventorySummary
	deltas   map[string]int64
	order    []string
}

// NewLedger создаёт журнал поверх состояний, загруженных в фазе чтения.
func NewLedger(playerID string, states States, summary model.InventorySummary, now time.Time) *Ledger {
	cp := make(States, len(states))
	for k, v := range states {
		cp[k] = v
	}
	return &Ledger{
		playerID: playerID,
		now:      now,
		states:   cp,
		summary:  summary,
		deltas:   make(map[string]int64),
	}
}

// Quantity возвращает текущее количество с учётом накопленных изменений.
func (l *Ledger) Quantity(skuID string) int64 {
	return l.state(skuID).Quantity
}

// IncSkuQty увеличивает количество. Запись создаётся при отсутствии,
// исходное время создания сохраняется.
func (l *Ledger) IncSkuQty(skuID string, n int64) error {
	if n <= 0 {
		return ErrInvalidDelta
	}
	st := l.state(skuID)
	st.Quantity += n
	l.apply(skuID, st, n)
	return nil
}

// DecSkuQty уменьшает количество или возвращает ErrInsufficientQuantity,
// не меняя состояние.
func (l *Ledger) DecSkuQty(skuID string, n int64) error {
	if n <= 0 {
		return ErrInvalidDelta
	}
	st := l.state(skuID)
	if st.Quantity < n {
		return fmt.Errorf("%w: %s has %d, need %d", ErrInsufficientQuantity, skuID, st.Quantity, n)
	}
	st.Quantity -= n
	l.apply(skuID, st, -n)
	return nil
}

// EnsureNotOwned отклоняет повторную выдачу нештабелируемого SKU.
func (l *Ledger) EnsureNotOwned(sku catalog.SKU) error {
	if sku.Stackable {
		return nil
	}
	if l.Quantity(sku.ID) > 0 {
		return fmt.Errorf("%w: %s", ErrAlreadyOwned, sku.ID)
	}
	return nil
}

// Grant выдаёт SKU с проверкой владения для нештабелируемых предметов.
func (l *Ledger) Grant(sku catalog.SKU, n int64) error {
	if err := l.EnsureNotOwned(sku); err != nil {
		return err
	}
	if !sku.Stackable && n > 1 {
		return fmt.Errorf("%w: %s", ErrNotStackable, sku.ID)
	}
	return l.IncSkuQty(sku.ID, n)
}

// Deltas возвращает накопленные изменения по SKU.
func (l *Ledger) Deltas() map[string]int64 {
	res := make(map[string]int64, len(l.deltas))
	for k, v := range l.deltas {
		res[k] = v
	}
	return res
}

// Flush записывает затронутые записи и сводку. Сводка строится из тех же
// чисел, что и записи.
func (l *Ledger) Flush(w repository.Writer, snap *catalog.Snapshot) (model.InventorySummary, error) {
	summary, err := UpdateSummary(l.summary, l.quantities(), snap, l.now)
	if err != nil {
		return model.InventorySummary{}, err
	}
	summary.PlayerID = l.playerID

	for _, id := range l.order {
		st := l.states[id]
		w.PutInventoryEntry(model.InventoryEntry{
			PlayerID:  l.playerID,
			SkuID:     id,
			Quantity:  st.Quantity,
			CreatedAt: st.CreatedAt,
			UpdatedAt: l.now,
		})
	}
	if len(l.order) > 0 {
		w.PutInventorySummary(summary)
	}
	return summary, nil
}

func (l *Ledger) state(skuID string) DocState {
	return l.states[skuID]
}

func (l *Ledger) apply(skuID string, st DocState, delta int64) {
	if !st.Exists {
		st.Exists = true
		st.CreatedAt = l.now
	}
	l.states[skuID] = st
	if _, touched := l.deltas[skuID]; !touched {
		l.order = append(l.order, skuID)
	}
	l.deltas[skuID] += delta
}

func (l *Ledger) quantities() map[string]int64 {
	res := make(map[string]int64, len(l.order))
	for _, id := range l.order {
		res[id] = l.states[id].Quantity
	}
	return res
}

// UpdateSummary вносит итоговые количества затронутых SKU в сводку. Тип и редкость
// берутся из справочника; строки с нулевым количеством удаляются, итоги по типам
// пересчитываются.
func UpdateSummary(summary model.InventorySummary, quantities map[string]int64, snap *catalog.Snapshot, now time.Time) (model.InventorySummary, error) {
	items := make(map[string]model.SummaryItem, len(summary.Items)+len(quantities))
	for k, v := range summary.Items {
		items[k] = v
	}

	ids := make([]string, 0, len(quantities))
	for id := range quantities {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		qty := quantities[id]
		if qty < 0 {
			return model.InventorySummary{}, fmt.Errorf("%w: %s", ErrInsufficientQuantity, id)
		}
		if qty == 0 {
			delete(items, id)
			continue
		}
		sku, ok := snap.SKU(id)
		if !ok {
			return model.InventorySummary{}, fmt.Errorf("%w: sku %s", catalog.ErrBrokenReference, id)
		}
		items[id] = model.SummaryItem{Quantity: qty, Type: sku.Type, Rarity: sku.Rarity}
	}

	totals := make(map[string]int64)
	for _, it := range items {
		totals[it.Type] += it.Quantity
	}

	return model.InventorySummary{
		PlayerID:  summary.PlayerID,
		Items:     items,
		Totals:    totals,
		UpdatedAt: now,
	}, nil
}

func uniq(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	res := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		res = append(res, id)
	}
	return res
}
