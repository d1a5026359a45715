package service

import (
	"context"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/race"
	"github.com/mmeshcher/race-economy/internal/repository"
)

// InventoryView: кошелёк, прогресс и сводка инвентаря игрока.
type InventoryView struct {
	Gems             int64                        `json:"gems"`
	Coins            int64                        `json:"coins"`
	Exp              int64                        `json:"exp"`
	Trophies         int64                        `json:"trophies"`
	Rank             string                       `json:"rank"`
	CoinBoosterUntil *time.Time                   `json:"coinBoosterUntil,omitempty"`
	ExpBoosterUntil  *time.Time                   `json:"expBoosterUntil,omitempty"`
	Items            map[string]model.SummaryItem `json:"items"`
	Totals           map[string]int64             `json:"totals"`
}

// Inventory возвращает сводку игрока. Истёкшие бустеры не показываются.
func (s *Service) Inventory(ctx context.Context, playerID string) (InventoryView, error) {
	if playerID == "" {
		return InventoryView{}, apperr.Unauthenticated
	}

	var (
		p       model.Player
		summary model.InventorySummary
	)
	err := s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		var err error
		if p, err = tx.GetPlayer(ctx, playerID); err != nil {
			return err
		}
		summary, err = tx.GetInventorySummary(ctx, playerID)
		return err
	})
	if err != nil {
		return InventoryView{}, apperr.Internal(err)
	}

	now := s.clock.Now()
	view := InventoryView{
		Gems:     p.Gems,
		Coins:    p.Coins,
		Exp:      p.Exp,
		Trophies: p.Trophies,
		Rank:     race.RankFor(int(p.Trophies)),
		Items:    summary.Items,
		Totals:   summary.Totals,
	}
	if p.CoinBoosterActive(now) {
		view.CoinBoosterUntil = p.CoinBoosterUntil
	}
	if p.ExpBoosterActive(now) {
		view.ExpBoosterUntil = p.ExpBoosterUntil
	}
	if view.Items == nil {
		view.Items = map[string]model.SummaryItem{}
	}
	if view.Totals == nil {
		view.Totals = map[string]int64{}
	}
	return view, nil
}
