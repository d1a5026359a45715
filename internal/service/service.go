// Package service реализует вызываемые операции экономики гоночной игры.
package service

import (
	"context"

	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/txn"
)

// Имена операций; сохраняются в квитанциях.
const (
	OpOpenCrate         = "openCrate"
	OpPurchaseShopSku   = "purchaseShopSku"
	OpPurchaseOffer     = "purchaseOffer"
	OpActivateBooster   = "activateBooster"
	OpTriggerFlashOffer = "triggerFlashOffer"
	OpStartRace         = "startRace"
	OpFinishRace        = "finishRace"
	OpGrantCurrency     = "grantCurrency"
)

var (
	ErrInvalidCrateID   = apperr.InvalidArgument("crateId is required")
	ErrInvalidSkuID     = apperr.InvalidArgument("skuId is required")
	ErrInvalidQuantity  = apperr.InvalidArgument("quantity must be between 1 and 1000")
	ErrInvalidOfferID   = apperr.InvalidArgument("offerId is required")
	ErrInvalidBoosterID = apperr.InvalidArgument("boosterId is required")
	ErrInvalidRaceID    = apperr.InvalidArgument("raceId is required")
	ErrInvalidTrigger   = apperr.InvalidArgument("unknown flash offer trigger")
	ErrInvalidAmount    = apperr.InvalidArgument("grant amounts must be non-negative and not both zero")
)

// Catalog отдаёт актуальный снимок справочника.
type Catalog interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Verifier подтверждает покупки за реальные деньги.
type Verifier interface {
	VerifyPurchase(ctx context.Context, productID, token string) error
}

// Deps: зависимости сервиса. Billing может быть nil: тогда покупки
// за реальные деньги принимаются без проверки (режим разработки).
type Deps struct {
	Store   repository.TxRunner
	Orch    *txn.Orchestrator
	Catalog Catalog
	Machine offer.Machine
	Billing Verifier
	Logger  *zap.Logger
}

// Service содержит бизнес-логику экономики.
type Service struct {
	store   repository.TxRunner
	orch    *txn.Orchestrator
	catalog Catalog
	machine offer.Machine
	billing Verifier
	clock   clock.Clock
	logger  *zap.Logger
}

// NewService создаёт сервис.
func NewService(d Deps) *Service {
	return &Service{
		store:   d.Store,
		orch:    d.Orch,
		catalog: d.Catalog,
		machine: d.Machine,
		billing: d.Billing,
		clock:   d.Orch.Clock(),
		logger:  d.Logger,
	}
}

func (s *Service) snapshot(ctx context.Context) (*catalog.Snapshot, error) {
	snap, err := s.catalog.Snapshot(ctx)
	if err != nil {
		return nil, apperr.Internal(err)
	}
	return snap, nil
}
