package repository

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/mmeshcher/race-economy/internal/model"
)

type receiptKey struct{ player, op string }

type entryKey struct{ player, sku string }

type raceKey struct{ player, race string }

// MemoryRepository: хранилище в памяти для разработки и тестов.
// Транзакции выполняются строго последовательно.
type MemoryRepository struct {
	mu sync.Mutex

	receipts    map[receiptKey]model.Receipt
	players     map[string]model.Player
	entries     map[entryKey]model.InventoryEntry
	summaries   map[string]model.InventorySummary
	mainOffers  map[string]model.MainOffer
	flowStates  map[string]model.OfferFlowState
	transitions map[string]model.ScheduledTransition
	races       map[raceKey]model.Race

	commitErr error
}

// NewMemoryRepository создаёт пустое хранилище.
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		receipts:    make(map[receiptKey]model.Receipt),
		players:     make(map[string]model.Player),
		entries:     make(map[entryKey]model.InventoryEntry),
		summaries:   make(map[string]model.InventorySummary),
		mainOffers:  make(map[string]model.MainOffer),
		flowStates:  make(map[string]model.OfferFlowState),
		transitions: make(map[string]model.ScheduledTransition),
		races:       make(map[raceKey]model.Race),
	}
}

// Close ничего не делает.
func (m *MemoryRepository) Close() error { return nil }

func (m *MemoryRepository) Ping(context.Context) error { return nil }

// FailNextCommit заставляет следующую фиксацию вернуть err.
func (m *MemoryRepository) FailNextCommit(err error) {
	m.mu.Lock()
	m.commitErr = err
	m.mu.Unlock()
}

// RunInTx выполняет fn под эксклюзивной блокировкой хранилища.
func (m *MemoryRepository) RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memoryTx{repo: m}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	if m.commitErr != nil {
		err := m.commitErr
		m.commitErr = nil
		return err
	}
	for _, op := range tx.ops {
		op(m)
	}
	return nil
}

type memoryTx struct {
	repo *MemoryRepository
	ops  []func(*MemoryRepository)
}

func (t *memoryTx) GetReceipt(_ context.Context, playerID, opID string) (*model.Receipt, error) {
	r, ok := t.repo.receipts[receiptKey{playerID, opID}]
	if !ok {
		return nil, nil
	}
	r = copyReceipt(r)
	return &r, nil
}

func (t *memoryTx) GetPlayer(_ context.Context, playerID string) (model.Player, error) {
	p, ok := t.repo.players[playerID]
	if !ok {
		return model.Player{ID: playerID}, nil
	}
	return copyPlayer(p), nil
}

func (t *memoryTx) GetInventoryEntries(_ context.Context, playerID string, skuIDs []string) (map[string]model.InventoryEntry, error) {
	res := make(map[string]model.InventoryEntry, len(skuIDs))
	for _, id := range skuIDs {
		if e, ok := t.repo.entries[entryKey{playerID, id}]; ok {
			res[id] = e
		}
	}
	return res, nil
}

func (t *memoryTx) GetInventorySummary(_ context.Context, playerID string) (model.InventorySummary, error) {
	s, ok := t.repo.summaries[playerID]
	if !ok {
		return model.InventorySummary{
			PlayerID: playerID,
			Items:    map[string]model.SummaryItem{},
			Totals:   map[string]int64{},
		}, nil
	}
	return copySummary(s), nil
}

func (t *memoryTx) GetMainOffer(_ context.Context, playerID string) (*model.MainOffer, error) {
	o, ok := t.repo.mainOffers[playerID]
	if !ok {
		return nil, nil
	}
	o = copyMainOffer(o)
	return &o, nil
}

func (t *memoryTx) GetOfferFlowState(_ context.Context, playerID string) (*model.OfferFlowState, error) {
	s, ok := t.repo.flowStates[playerID]
	if !ok {
		return nil, nil
	}
	s = copyFlowState(s)
	return &s, nil
}

func (t *memoryTx) GetScheduledTransition(_ context.Context, playerID string) (*model.ScheduledTransition, error) {
	e, ok := t.repo.transitions[playerID]
	if !ok {
		return nil, nil
	}
	return &e, nil
}

func (t *memoryTx) GetRace(_ context.Context, playerID, raceID string) (*model.Race, error) {
	r, ok := t.repo.races[raceKey{playerID, raceID}]
	if !ok {
		return nil, nil
	}
	r = copyRace(r)
	return &r, nil
}

func (t *memoryTx) PutReceipt(r model.Receipt) {
	r = copyReceipt(r)
	t.ops = append(t.ops, func(m *MemoryRepository) { m.receipts[receiptKey{r.PlayerID, r.OpID}] = r })
}

func (t *memoryTx) PutPlayer(p model.Player) {
	p = copyPlayer(p)
	p.Exists = true
	t.ops = append(t.ops, func(m *MemoryRepository) { m.players[p.ID] = p })
}

func (t *memoryTx) PutInventoryEntry(e model.InventoryEntry) {
	t.ops = append(t.ops, func(m *MemoryRepository) { m.entries[entryKey{e.PlayerID, e.SkuID}] = e })
}

func (t *memoryTx) PutInventorySummary(s model.InventorySummary) {
	s = copySummary(s)
	t.ops = append(t.ops, func(m *MemoryRepository) { m.summaries[s.PlayerID] = s })
}

func (t *memoryTx) PutMainOffer(o model.MainOffer) {
	o = copyMainOffer(o)
	t.ops = append(t.ops, func(m *MemoryRepository) { m.mainOffers[o.PlayerID] = o })
}

func (t *memoryTx) PutOfferFlowState(s model.OfferFlowState) {
	s = copyFlowState(s)
	t.ops = append(t.ops, func(m *MemoryRepository) { m.flowStates[s.PlayerID] = s })
}

func (t *memoryTx) PutScheduledTransition(e model.ScheduledTransition) {
	t.ops = append(t.ops, func(m *MemoryRepository) { m.transitions[e.PlayerID] = e })
}

func (t *memoryTx) DeleteScheduledTransition(playerID string) {
	t.ops = append(t.ops, func(m *MemoryRepository) { delete(m.transitions, playerID) })
}

func (t *memoryTx) PutRace(r model.Race) {
	r = copyRace(r)
	t.ops = append(t.ops, func(m *MemoryRepository) { m.races[raceKey{r.PlayerID, r.RaceID}] = r })
}

// GetReceipt возвращает квитанцию вне транзакции.
func (m *MemoryRepository) GetReceipt(_ context.Context, playerID, opID string) (*model.Receipt, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.receipts[receiptKey{playerID, opID}]
	if !ok {
		return nil, nil
	}
	r = copyReceipt(r)
	return &r, nil
}

// AcquireReceipt создаёт или перезахватывает квитанцию in_progress.
func (m *MemoryRepository) AcquireReceipt(_ context.Context, r model.Receipt, lease time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := receiptKey{r.PlayerID, r.OpID}
	existing, ok := m.receipts[key]
	if ok {
		switch existing.Status {
		case model.ReceiptCompleted:
			return ErrReceiptCompleted
		case model.ReceiptInProgress:
			if r.UpdatedAt.Sub(existing.UpdatedAt) < lease {
				return ErrReceiptInProgress
			}
		}
		r.CreatedAt = existing.CreatedAt
	}

	r.Status = model.ReceiptInProgress
	r.Result = nil
	r.ErrorCode = ""
	r.CompletedAt = nil
	m.receipts[key] = r
	return nil
}

// MarkReceiptFailed переводит незавершённую квитанцию в failed.
func (m *MemoryRepository) MarkReceiptFailed(_ context.Context, playerID, opID, code string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := receiptKey{playerID, opID}
	r, ok := m.receipts[key]
	if !ok || r.Status == model.ReceiptCompleted {
		return nil
	}
	r.Status = model.ReceiptFailed
	r.ErrorCode = code
	r.UpdatedAt = at
	m.receipts[key] = r
	return nil
}

// ListDueTransitions возвращает записи с fireAt <= nowMs по возрастанию времени.
func (m *MemoryRepository) ListDueTransitions(_ context.Context, nowMs int64, limit int) ([]model.ScheduledTransition, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.ScheduledTransition
	for _, e := range m.transitions {
		if e.FireAt <= nowMs {
			res = append(res, e)
		}
	}
	sort.Slice(res, func(i, j int) bool {
		if res[i].FireAt != res[j].FireAt {
			return res[i].FireAt < res[j].FireAt
		}
		return res[i].PlayerID < res[j].PlayerID
	})
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ListOverdueActiveOffers возвращает активные предложения с expiresAt < cutoffMs.
func (m *MemoryRepository) ListOverdueActiveOffers(_ context.Context, cutoffMs int64, limit int) ([]model.MainOffer, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var res []model.MainOffer
	for _, o := range m.mainOffers {
		if o.State == model.OfferActive && o.ExpiresAt < cutoffMs {
			res = append(res, copyMainOffer(o))
		}
	}
	sort.Slice(res, func(i, j int) bool { return res[i].PlayerID < res[j].PlayerID })
	if limit > 0 && len(res) > limit {
		res = res[:limit]
	}
	return res, nil
}

// ListPlayerIDs постранично перечисляет всех известных игроков.
func (m *MemoryRepository) ListPlayerIDs(_ context.Context, afterID string, limit int) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	seen := make(map[string]struct{})
	for id := range m.players {
		seen[id] = struct{}{}
	}
	for id := range m.mainOffers {
		seen[id] = struct{}{}
	}
	for id := range m.flowStates {
		seen[id] = struct{}{}
	}

	ids := make([]string, 0, len(seen))
	for id := range seen {
		if id > afterID {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	if limit > 0 && len(ids) > limit {
		ids = ids[:limit]
	}
	return ids, nil
}

func copyReceipt(r model.Receipt) model.Receipt {
	if r.Result != nil {
		r.Result = append([]byte(nil), r.Result...)
	}
	r.CompletedAt = copyTime(r.CompletedAt)
	return r
}

func copyPlayer(p model.Player) model.Player {
	p.CoinBoosterUntil = copyTime(p.CoinBoosterUntil)
	p.ExpBoosterUntil = copyTime(p.ExpBoosterUntil)
	return p
}

func copySummary(s model.InventorySummary) model.InventorySummary {
	items := make(map[string]model.SummaryItem, len(s.Items))
	for k, v := range s.Items {
		items[k] = v
	}
	totals := make(map[string]int64, len(s.Totals))
	for k, v := range s.Totals {
		totals[k] = v
	}
	s.Items = items
	s.Totals = totals
	return s
}

func copyMainOffer(o model.MainOffer) model.MainOffer {
	o.NextOfferAt = copyInt64(o.NextOfferAt)
	if o.SpecialOffers != nil {
		specials := make([]model.SpecialOffer, len(o.SpecialOffers))
		for i, s := range o.SpecialOffers {
			if s.Metadata != nil {
				md := make(map[string]string, len(s.Metadata))
				for k, v := range s.Metadata {
					md[k] = v
				}
				s.Metadata = md
			}
			specials[i] = s
		}
		o.SpecialOffers = specials
	}
	return o
}

func copyFlowState(s model.OfferFlowState) model.OfferFlowState {
	if s.OffersPurchased != nil {
		s.OffersPurchased = append([]model.PurchaseRecord(nil), s.OffersPurchased...)
	}
	s.LastExpiredAt = copyInt64(s.LastExpiredAt)
	s.LastPurchasedAt = copyInt64(s.LastPurchasedAt)
	return s
}

func copyRace(r model.Race) model.Race {
	r.Ratings = append([]int(nil), r.Ratings...)
	if r.Result != nil {
		r.Result = append([]byte(nil), r.Result...)
	}
	r.FinishedAt = copyTime(r.FinishedAt)
	return r
}

func copyTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

func copyInt64(v *int64) *int64 {
	if v == nil {
		return nil
	}
	c := *v
	return &c
}
