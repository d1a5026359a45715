package service

import (
	"context"
	"fmt"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/inventory"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/txn"
	"github.com/mmeshcher/race-economy/internal/validation"
)

var (
	ErrNotForSale = apperr.FailedPrecondition("sku is not sold for gems")
	ErrNotBooster = apperr.InvalidArgument("sku is not a booster")
)

// ShopPurchaseResult: ответ purchaseShopSku.
type ShopPurchaseResult struct {
	SkuID     string `json:"skuId"`
	Quantity  int64  `json:"quantity"`
	Owned     int64  `json:"owned"`
	GemsSpent int64  `json:"gemsSpent"`
	Gems      int64  `json:"gems"`
}

type walletRead struct {
	player  model.Player
	states  inventory.States
	summary model.InventorySummary
}

func readWallet(playerID string, skus []string) func(ctx context.Context, r repository.Reader) (walletRead, error) {
	return func(ctx context.Context, r repository.Reader) (walletRead, error) {
		var (
			d   walletRead
			err error
		)
		if d.player, err = r.GetPlayer(ctx, playerID); err != nil {
			return d, err
		}
		if d.states, err = inventory.LoadStates(ctx, r, playerID, skus); err != nil {
			return d, err
		}
		if d.summary, err = r.GetInventorySummary(ctx, playerID); err != nil {
			return d, err
		}
		return d, nil
	}
}

// readWalletFor читает кошелёк и запись sku, известного только после Prepare.
func readWalletFor(playerID string, sku *catalog.SKU) func(ctx context.Context, r repository.Reader) (walletRead, error) {
	return func(ctx context.Context, r repository.Reader) (walletRead, error) {
		return readWallet(playerID, []string{sku.ID})(ctx, r)
	}
}

// PurchaseShopSku покупает quantity единиц SKU за гемы.
func (s *Service) PurchaseShopSku(ctx context.Context, playerID, opID, skuID string, quantity int64) (txn.Result[ShopPurchaseResult], error) {
	var res txn.Result[ShopPurchaseResult]
	if !validation.IsValidID(skuID) {
		return res, ErrInvalidSkuID
	}
	if !validation.IsValidQuantity(quantity) {
		return res, ErrInvalidQuantity
	}

	now := s.clock.Now()

	var (
		snap  *catalog.Snapshot
		sku   catalog.SKU
		price int64
	)
	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpPurchaseShopSku}
	op.Prepare = func(ctx context.Context) error {
		var err error
		if snap, err = s.snapshot(ctx); err != nil {
			return err
		}
		if sku, err = snap.ResolveSKU(skuID); err != nil {
			return err
		}
		if sku.GemPrice <= 0 || sku.IsDefault() {
			return fmt.Errorf("%w: %s", ErrNotForSale, skuID)
		}
		if !sku.Stackable && quantity > 1 {
			return fmt.Errorf("%w: %s", inventory.ErrNotStackable, skuID)
		}
		price = sku.GemPrice * quantity
		return nil
	}

	return txn.RunReadThenWrite(ctx, s.orch, op, readWalletFor(playerID, &sku),
		func(w repository.Writer, d walletRead) (ShopPurchaseResult, error) {
			l := inventory.NewLedger(playerID, d.states, d.summary, now)
			if err := l.Grant(sku, quantity); err != nil {
				return ShopPurchaseResult{}, err
			}

			p := d.player
			if err := inventory.Debit(&p, catalog.CurrencyGems, price); err != nil {
				return ShopPurchaseResult{}, err
			}
			inventory.Touch(&p, now)

			if _, err := l.Flush(w, snap); err != nil {
				return ShopPurchaseResult{}, err
			}
			w.PutPlayer(p)

			return ShopPurchaseResult{
				SkuID:     sku.ID,
				Quantity:  quantity,
				Owned:     l.Quantity(sku.ID),
				GemsSpent: price,
				Gems:      p.Gems,
			}, nil
		},
	)
}

// BoosterResult: ответ activateBooster.
type BoosterResult struct {
	BoosterID   string    `json:"boosterId"`
	Kind        string    `json:"kind"`
	ActiveUntil time.Time `json:"activeUntil"`
	Remaining   int64     `json:"remaining"`
}

// ActivateBooster расходует один бустер и продлевает его действие.
// Если бустер того же вида ещё активен, длительность прибавляется к остатку.
func (s *Service) ActivateBooster(ctx context.Context, playerID, opID, boosterID string) (txn.Result[BoosterResult], error) {
	var res txn.Result[BoosterResult]
	if !validation.IsValidID(boosterID) {
		return res, ErrInvalidBoosterID
	}

	now := s.clock.Now()

	var (
		snap     *catalog.Snapshot
		sku      catalog.SKU
		duration time.Duration
	)
	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpActivateBooster}
	op.Prepare = func(ctx context.Context) error {
		var err error
		if snap, err = s.snapshot(ctx); err != nil {
			return err
		}
		if sku, err = snap.ResolveSKU(boosterID); err != nil {
			return err
		}
		if sku.Type != catalog.TypeBooster || sku.Booster == nil {
			return fmt.Errorf("%w: %s", ErrNotBooster, boosterID)
		}
		duration = time.Duration(sku.Booster.DurationMinutes) * time.Minute
		return nil
	}

	return txn.RunReadThenWrite(ctx, s.orch, op, readWalletFor(playerID, &sku),
		func(w repository.Writer, d walletRead) (BoosterResult, error) {
			l := inventory.NewLedger(playerID, d.states, d.summary, now)
			if err := l.DecSkuQty(sku.ID, 1); err != nil {
				return BoosterResult{}, err
			}

			p := d.player
			var until *time.Time
			switch sku.Booster.Kind {
			case catalog.BoosterCoin:
				until = extend(p.CoinBoosterUntil, now, duration)
				p.CoinBoosterUntil = until
			case catalog.BoosterExp:
				until = extend(p.ExpBoosterUntil, now, duration)
				p.ExpBoosterUntil = until
			default:
				return BoosterResult{}, fmt.Errorf("%w: booster kind %q", catalog.ErrBrokenReference, sku.Booster.Kind)
			}
			inventory.Touch(&p, now)

			if _, err := l.Flush(w, snap); err != nil {
				return BoosterResult{}, err
			}
			w.PutPlayer(p)

			return BoosterResult{
				BoosterID:   sku.ID,
				Kind:        sku.Booster.Kind,
				ActiveUntil: *until,
				Remaining:   l.Quantity(sku.ID),
			}, nil
		},
	)
}

func extend(cur *time.Time, now time.Time, d time.Duration) *time.Time {
	start := now
	if cur != nil && cur.After(now) {
		start = *cur
	}
	until := start.Add(d)
	return &until
}

// GrantResult: ответ grantCurrency.
type GrantResult struct {
	Gems  int64 `json:"gems"`
	Coins int64 `json:"coins"`
}

// GrantCurrency начисляет валюту игроку. Используется операторами и тестовыми стендами.
func (s *Service) GrantCurrency(ctx context.Context, playerID, opID string, gems, coins int64) (txn.Result[GrantResult], error) {
	if gems < 0 || coins < 0 || gems+coins == 0 {
		return txn.Result[GrantResult]{}, ErrInvalidAmount
	}
	now := s.clock.Now()

	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpGrantCurrency}
	return txn.RunWithReceipt(ctx, s.orch, op, func(ctx context.Context, tx repository.Tx) (GrantResult, error) {
		p, err := tx.GetPlayer(ctx, playerID)
		if err != nil {
			return GrantResult{}, err
		}
		if err := inventory.Credit(&p, gems, coins); err != nil {
			return GrantResult{}, err
		}
		inventory.Touch(&p, now)
		tx.PutPlayer(p)
		return GrantResult{Gems: p.Gems, Coins: p.Coins}, nil
	})
}
