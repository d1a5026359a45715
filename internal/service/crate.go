package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/inventory"
	"github.com/mmeshcher/race-economy/internal/loot"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/txn"
	"github.com/mmeshcher/race-economy/internal/validation"
)

// OpenCrateResult: ответ openCrate.
type OpenCrateResult struct {
	CrateID    string    `json:"crateId"`
	Reward     loot.Pick `json:"reward"`
	Duplicate  bool      `json:"duplicate"`
	Coins      int64     `json:"coins,omitempty"`
	Quantity   int64     `json:"quantity"`
	CratesLeft int64     `json:"cratesLeft"`
}

type crateRead struct {
	states  inventory.States
	summary model.InventorySummary
	player  model.Player
}

// OpenCrate списывает ящик (и ключ, если он нужен) и выдаёт награду.
// Награда определяется зерном (игрок, opId, ящик) после проверки квитанции
// и до начала транзакции, поэтому повтор не обращается к справочнику.
// Повторная нештабелируемая награда заменяется монетами ящика, если они заданы.
func (s *Service) OpenCrate(ctx context.Context, playerID, opID, crateID string) (txn.Result[OpenCrateResult], error) {
	var res txn.Result[OpenCrateResult]
	if !validation.IsValidID(crateID) {
		return res, ErrInvalidCrateID
	}
	now := s.clock.Now()

	var (
		snap   *catalog.Snapshot
		crate  catalog.Crate
		pick   loot.Pick
		reward catalog.SKU
		skus   []string
	)
	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpOpenCrate}
	op.Prepare = func(ctx context.Context) error {
		var err error
		if snap, err = s.snapshot(ctx); err != nil {
			return err
		}
		if crate, err = snap.Crate(crateID); err != nil {
			return err
		}
		if pick, err = loot.Select(crate, snap, loot.Seed(playerID, opID, crateID)); err != nil {
			return err
		}
		var ok bool
		if reward, ok = snap.SKU(pick.SkuID); !ok {
			return fmt.Errorf("%w: sku %s", catalog.ErrBrokenReference, pick.SkuID)
		}
		skus = []string{crate.SkuID, reward.ID}
		if crate.KeySkuID != "" {
			skus = append(skus, crate.KeySkuID)
		}
		return nil
	}

	return txn.RunReadThenWrite(ctx, s.orch, op,
		func(ctx context.Context, r repository.Reader) (crateRead, error) {
			var (
				d   crateRead
				err error
			)
			if d.states, err = inventory.LoadStates(ctx, r, playerID, skus); err != nil {
				return d, err
			}
			if d.summary, err = r.GetInventorySummary(ctx, playerID); err != nil {
				return d, err
			}
			if d.player, err = r.GetPlayer(ctx, playerID); err != nil {
				return d, err
			}
			return d, nil
		},
		func(w repository.Writer, d crateRead) (OpenCrateResult, error) {
			l := inventory.NewLedger(playerID, d.states, d.summary, now)
			if err := l.DecSkuQty(crate.SkuID, 1); err != nil {
				return OpenCrateResult{}, err
			}
			if crate.KeySkuID != "" {
				if err := l.DecSkuQty(crate.KeySkuID, 1); err != nil {
					return OpenCrateResult{}, err
				}
			}

			out := OpenCrateResult{CrateID: crate.ID, Reward: pick}
			err := l.Grant(reward, 1)
			switch {
			case errors.Is(err, inventory.ErrAlreadyOwned) && crate.DuplicateCoins > 0:
				p := d.player
				if err := inventory.Credit(&p, 0, crate.DuplicateCoins); err != nil {
					return OpenCrateResult{}, err
				}
				inventory.Touch(&p, now)
				w.PutPlayer(p)
				out.Duplicate = true
				out.Coins = crate.DuplicateCoins
			case err != nil:
				return OpenCrateResult{}, err
			}

			if _, err := l.Flush(w, snap); err != nil {
				return OpenCrateResult{}, err
			}
			out.Quantity = l.Quantity(reward.ID)
			out.CratesLeft = l.Quantity(crate.SkuID)
			return out, nil
		},
	)
}
