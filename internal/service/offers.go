package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/inventory"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/scheduler"
	"github.com/mmeshcher/race-economy/internal/txn"
	"github.com/mmeshcher/race-economy/internal/validation"
)

var (
	ErrPurchaseKindMismatch = apperr.InvalidArgument("isIapPurchase does not match the offer currency")
	ErrMissingPurchaseToken = apperr.InvalidArgument("purchaseToken is required for in-app purchases")
	ErrFlashNotEligible     = apperr.FailedPrecondition("flash offer conditions are not met")
)

// OfferPurchaseResult: ответ purchaseOffer.
type OfferPurchaseResult struct {
	OfferID      string                `json:"offerId"`
	IsIAP        bool                  `json:"isIap"`
	Entitlements []catalog.Entitlement `json:"entitlements"`
	GemsGranted  int64                 `json:"gemsGranted"`
	CoinsGranted int64                 `json:"coinsGranted"`
	Gems         int64                 `json:"gems"`
	Coins        int64                 `json:"coins"`
	State        model.OfferState      `json:"state"`
	Tier         int                   `json:"tier"`
	NextOfferAt  *int64                `json:"nextOfferAt,omitempty"`
}

type offerRead struct {
	main    *model.MainOffer
	flow    *model.OfferFlowState
	player  model.Player
	states  inventory.States
	summary model.InventorySummary
}

func readOffers(playerID string, skus []string) func(ctx context.Context, r repository.Reader) (offerRead, error) {
	return func(ctx context.Context, r repository.Reader) (offerRead, error) {
		var (
			d   offerRead
			err error
		)
		if d.main, err = r.GetMainOffer(ctx, playerID); err != nil {
			return d, err
		}
		if d.flow, err = r.GetOfferFlowState(ctx, playerID); err != nil {
			return d, err
		}
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

// PurchaseOffer покупает основное или специальное предложение.
// Покупка за реальные деньги сначала подтверждается верификатором,
// остальные списывают цену в валюте предложения.
func (s *Service) PurchaseOffer(ctx context.Context, playerID, opID, offerID string, isIAP bool, purchaseToken string) (txn.Result[OfferPurchaseResult], error) {
	var res txn.Result[OfferPurchaseResult]
	if !validation.IsValidID(offerID) {
		return res, ErrInvalidOfferID
	}

	now := s.clock.Now()

	var (
		snap *catalog.Snapshot
		def  catalog.Offer
		skus []string
	)
	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpPurchaseOffer}
	op.Prepare = func(ctx context.Context) error {
		var err error
		if snap, err = s.snapshot(ctx); err != nil {
			return err
		}
		if def, err = snap.Offer(offerID); err != nil {
			return err
		}
		if isIAP != (def.Currency == catalog.CurrencyIAP) {
			return fmt.Errorf("%w: %s is priced in %s", ErrPurchaseKindMismatch, def.ID, def.Currency)
		}
		for _, e := range def.Entitlements {
			skus = append(skus, e.SkuID)
		}
		if !isIAP || s.billing == nil {
			return nil
		}
		if purchaseToken == "" {
			return ErrMissingPurchaseToken
		}
		return s.billing.VerifyPurchase(ctx, def.ProductID, purchaseToken)
	}

	return txn.RunReadThenWrite(ctx, s.orch, op,
		func(ctx context.Context, r repository.Reader) (offerRead, error) {
			return readOffers(playerID, skus)(ctx, r)
		},
		func(w repository.Writer, d offerRead) (OfferPurchaseResult, error) {
			var main model.MainOffer
			if def.Type == catalog.OfferSpecial {
				if d.main == nil {
					return OfferPurchaseResult{}, fmt.Errorf("%w: %s", offer.ErrSpecialNotFound, def.ID)
				}
				if _, ok := offer.FindSpecial(d.main.SpecialOffers, def.ID, model.MillisOf(now)); !ok {
					return OfferPurchaseResult{}, fmt.Errorf("%w: %s", offer.ErrSpecialNotFound, def.ID)
				}
				main = *d.main
				main.SpecialOffers = offer.RemoveSpecial(main.SpecialOffers, def.ID)
				main.UpdatedAt = now
				w.PutMainOffer(main)
			} else {
				if d.main == nil {
					return OfferPurchaseResult{}, fmt.Errorf("%w: %s", offer.ErrOfferNotActive, def.ID)
				}
				tr, err := s.machine.Purchase(*d.main, offer.FlowFor(d.flow, d.main, playerID, now), def, isIAP, now)
				if err != nil {
					return OfferPurchaseResult{}, err
				}
				scheduler.WriteTransition(w, tr)
				main = tr.Main
			}

			p := d.player
			if !isIAP {
				if err := inventory.Debit(&p, def.Currency, def.Price); err != nil {
					return OfferPurchaseResult{}, err
				}
			}
			if err := inventory.Credit(&p, def.Gems, def.Coins); err != nil {
				return OfferPurchaseResult{}, err
			}
			inventory.Touch(&p, now)

			l := inventory.NewLedger(playerID, d.states, d.summary, now)
			granted, err := grantEntitlements(l, snap, def.Entitlements)
			if err != nil {
				return OfferPurchaseResult{}, err
			}

			if _, err := l.Flush(w, snap); err != nil {
				return OfferPurchaseResult{}, err
			}
			w.PutPlayer(p)

			return OfferPurchaseResult{
				OfferID:      def.ID,
				IsIAP:        isIAP,
				Entitlements: granted,
				GemsGranted:  def.Gems,
				CoinsGranted: def.Coins,
				Gems:         p.Gems,
				Coins:        p.Coins,
				State:        main.State,
				Tier:         main.Tier,
				NextOfferAt:  main.NextOfferAt,
			}, nil
		},
	)
}

// grantEntitlements выдаёт содержимое предложения. Уже имеющиеся
// нештабелируемые предметы пропускаются: покупка при этом не отменяется.
func grantEntitlements(l *inventory.Ledger, snap *catalog.Snapshot, ents []catalog.Entitlement) ([]catalog.Entitlement, error) {
	granted := make([]catalog.Entitlement, 0, len(ents))
	for _, e := range ents {
		sku, ok := snap.SKU(e.SkuID)
		if !ok {
			return nil, fmt.Errorf("%w: sku %s", catalog.ErrBrokenReference, e.SkuID)
		}
		err := l.Grant(sku, e.Quantity)
		if errors.Is(err, inventory.ErrAlreadyOwned) {
			continue
		}
		if err != nil {
			return nil, err
		}
		granted = append(granted, e)
	}
	return granted, nil
}

// SpecialOfferResult: ответ triggerFlashOffer.
type SpecialOfferResult struct {
	OfferID     string               `json:"offerId"`
	TriggerType model.SpecialTrigger `json:"triggerType"`
	ExpiresAt   int64                `json:"expiresAt"`
	Metadata    map[string]string    `json:"metadata,omitempty"`
}

// TriggerFlashOffer показывает срочное предложение, когда игроку не хватает
// ключа к имеющемуся ящику или ящиков вообще.
func (s *Service) TriggerFlashOffer(ctx context.Context, playerID, opID, trigger string) (txn.Result[SpecialOfferResult], error) {
	var res txn.Result[SpecialOfferResult]
	t := model.SpecialTrigger(trigger)
	if t != model.TriggerFlashMissingKey && t != model.TriggerFlashMissingCrate {
		return res, ErrInvalidTrigger
	}

	now := s.clock.Now()

	var (
		snap *catalog.Snapshot
		def  catalog.Offer
		skus []string
	)
	op := txn.Op{PlayerID: playerID, OpID: opID, Name: OpTriggerFlashOffer}
	op.Prepare = func(ctx context.Context) error {
		var err error
		if snap, err = s.snapshot(ctx); err != nil {
			return err
		}
		var ok bool
		if def, ok = snap.SpecialOffer(t); !ok {
			return fmt.Errorf("%w: trigger %s", catalog.ErrOfferNotFound, t)
		}
		for _, c := range snap.Crates {
			skus = append(skus, c.SkuID)
			if c.KeySkuID != "" {
				skus = append(skus, c.KeySkuID)
			}
		}
		return nil
	}

	return txn.RunReadThenWrite(ctx, s.orch, op,
		func(ctx context.Context, r repository.Reader) (offerRead, error) {
			return readOffers(playerID, skus)(ctx, r)
		},
		func(w repository.Writer, d offerRead) (SpecialOfferResult, error) {
			metadata, ok := flashEligible(t, snap, d.states)
			if !ok {
				return SpecialOfferResult{}, fmt.Errorf("%w: %s", ErrFlashNotEligible, t)
			}

			var added model.SpecialOffer
			err := s.withMain(w, playerID, d.main, d.flow, snap, now, func(m *model.MainOffer) error {
				list, so, err := offer.AddSpecial(m.SpecialOffers, def, metadata, now)
				if err != nil {
					return err
				}
				m.SpecialOffers = list
				added = so
				return nil
			})
			if err != nil {
				return SpecialOfferResult{}, err
			}

			return SpecialOfferResult{
				OfferID:     added.OfferID,
				TriggerType: added.TriggerType,
				ExpiresAt:   added.ExpiresAt,
				Metadata:    added.Metadata,
			}, nil
		},
	)
}

func flashEligible(t model.SpecialTrigger, snap *catalog.Snapshot, states inventory.States) (map[string]string, bool) {
	switch t {
	case model.TriggerFlashMissingKey:
		for _, c := range snap.Crates {
			if c.KeySkuID == "" {
				continue
			}
			if states[c.SkuID].Quantity > 0 && states[c.KeySkuID].Quantity == 0 {
				return map[string]string{"crateId": c.ID, "keySkuId": c.KeySkuID}, true
			}
		}
	case model.TriggerFlashMissingCrate:
		for _, c := range snap.Crates {
			if states[c.SkuID].Quantity > 0 {
				return nil, false
			}
		}
		return nil, true
	}
	return nil, false
}

// withMain применяет mutate к основному предложению игрока. Если документа нет
// или он повреждён, сначала активирует новое предложение.
func (s *Service) withMain(w repository.Writer, playerID string, main *model.MainOffer, flow *model.OfferFlowState, snap *catalog.Snapshot, now time.Time, mutate func(*model.MainOffer) error) error {
	if offer.Validate(main) == nil {
		m := *main
		if err := mutate(&m); err != nil {
			return err
		}
		m.UpdatedAt = now
		w.PutMainOffer(m)
		return nil
	}

	tr, err := s.machine.Activate(playerID, main, offer.FlowFor(flow, main, playerID, now), snap, now)
	if err != nil {
		return err
	}
	if err := mutate(&tr.Main); err != nil {
		return err
	}
	scheduler.WriteTransition(w, tr)
	return nil
}

// OfferDetails: отображаемая часть определения предложения.
type OfferDetails struct {
	ID           string                `json:"id"`
	Type         string                `json:"type"`
	Price        int64                 `json:"price"`
	Currency     string                `json:"currency"`
	ProductID    string                `json:"productId,omitempty"`
	Gems         int64                 `json:"gems,omitempty"`
	Coins        int64                 `json:"coins,omitempty"`
	Entitlements []catalog.Entitlement `json:"entitlements"`
}

func detailsOf(def catalog.Offer) OfferDetails {
	return OfferDetails{
		ID:           def.ID,
		Type:         def.Type,
		Price:        def.Price,
		Currency:     def.Currency,
		ProductID:    def.ProductID,
		Gems:         def.Gems,
		Coins:        def.Coins,
		Entitlements: def.Entitlements,
	}
}

// SpecialView: специальное предложение с деталями.
type SpecialView struct {
	model.SpecialOffer
	Offer OfferDetails `json:"offer"`
}

// OffersView: текущее состояние предложений игрока.
type OffersView struct {
	State       model.OfferState `json:"state"`
	Tier        int              `json:"tier"`
	ExpiresAt   int64            `json:"expiresAt,omitempty"`
	NextOfferAt *int64           `json:"nextOfferAt,omitempty"`
	IsStarter   bool             `json:"isStarter"`
	Offer       *OfferDetails    `json:"offer,omitempty"`
	Specials    []SpecialView    `json:"specials"`
}

// Offers возвращает предложения игрока. Игроку без основного предложения
// сразу активируется первое; существующие документы не изменяются.
func (s *Service) Offers(ctx context.Context, playerID string) (OffersView, error) {
	if playerID == "" {
		return OffersView{}, apperr.Unauthenticated
	}
	snap, err := s.snapshot(ctx)
	if err != nil {
		return OffersView{}, err
	}
	now := s.clock.Now()

	var main model.MainOffer
	err = s.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		cur, err := tx.GetMainOffer(ctx, playerID)
		if err != nil {
			return err
		}
		if cur != nil {
			main = *cur
			return nil
		}
		flow, err := tx.GetOfferFlowState(ctx, playerID)
		if err != nil {
			return err
		}
		tr, err := s.machine.Activate(playerID, nil, offer.FlowFor(flow, nil, playerID, now), snap, now)
		if err != nil {
			return err
		}
		scheduler.WriteTransition(tx, tr)
		main = tr.Main
		return nil
	})
	if err != nil {
		return OffersView{}, err
	}

	view := OffersView{
		State:       main.State,
		Tier:        main.Tier,
		NextOfferAt: main.NextOfferAt,
		IsStarter:   main.IsStarter,
		Specials:    []SpecialView{},
	}
	if main.State == model.OfferActive {
		view.ExpiresAt = main.ExpiresAt
		if def, err := snap.Offer(main.OfferID); err == nil {
			d := detailsOf(def)
			view.Offer = &d
		}
	}
	for _, so := range offer.PruneSpecials(main.SpecialOffers, model.MillisOf(now)) {
		def, err := snap.Offer(so.OfferID)
		if err != nil {
			continue
		}
		view.Specials = append(view.Specials, SpecialView{SpecialOffer: so, Offer: detailsOf(def)})
	}
	return view, nil
}
