package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/events"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
)

const sweepSafetyNet = "safetynet"

// SafetyNet обходит всех игроков и создаёт новое активное предложение тем,
// у кого его нет, оно повреждено или зависло в cooldown/purchase_delay.
// Корректные активные предложения не трогает.
type SafetyNet struct {
	Deps
	StuckThreshold time.Duration
}

// NewSafetyNet создаёт обход; threshold <= 0 заменяется DefaultStuckThreshold.
func NewSafetyNet(d Deps, threshold time.Duration) *SafetyNet {
	if threshold <= 0 {
		threshold = DefaultStuckThreshold
	}
	return &SafetyNet{Deps: d, StuckThreshold: threshold}
}

// Run выполняет полный проход по игрокам.
func (s *SafetyNet) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "scheduler.SafetyNet")
	defer span.End()

	var rep Report
	snap, err := s.Catalog.Snapshot(ctx)
	if err != nil {
		countSweep(s.Deps, sweepSafetyNet, sweepErrors)
		return rep, fmt.Errorf("load catalog: %w", err)
	}

	after := ""
	for {
		if err := ctx.Err(); err != nil {
			return rep, err
		}

		ids, err := s.Store.ListPlayerIDs(ctx, after, s.batch())
		if err != nil {
			countSweep(s.Deps, sweepSafetyNet, sweepErrors)
			return rep, fmt.Errorf("list players: %w", err)
		}
		if len(ids) == 0 {
			break
		}

		for _, id := range ids {
			rep.Scanned++
			countSweep(s.Deps, sweepSafetyNet, sweepScanned)

			restored, err := s.check(ctx, id, snap)
			if err != nil {
				rep.Errors++
				countSweep(s.Deps, sweepSafetyNet, sweepErrors)
				s.Logger.Error("safety net check failed", zap.Error(err), zap.String("playerID", id))
				continue
			}
			if restored {
				rep.Restored++
				countSweep(s.Deps, sweepSafetyNet, sweepRestored)
			}
		}
		after = ids[len(ids)-1]
	}

	span.SetAttributes(attribute.Int("scanned", rep.Scanned), attribute.Int("restored", rep.Restored))
	s.Logger.Info("safety net sweep finished",
		zap.Int("scanned", rep.Scanned),
		zap.Int("restored", rep.Restored),
		zap.Int("errors", rep.Errors),
	)
	return rep, nil
}

// Diagnose возвращает описание проблемы или пустую строку, если документ корректен.
func (s *SafetyNet) Diagnose(main *model.MainOffer, now time.Time) string {
	if main == nil {
		return "missing main offer"
	}
	if err := offer.Validate(main); err != nil {
		return err.Error()
	}
	if main.State == model.OfferActive {
		return ""
	}

	// Запись особого предложения обновляет UpdatedAt, поэтому срок считается от NextOfferAt.
	if main.NextOfferAt == nil {
		return fmt.Sprintf("%s without next offer time", main.State)
	}
	due := time.UnixMilli(*main.NextOfferAt)
	if now.Sub(due) > s.StuckThreshold {
		return fmt.Sprintf("stuck in %s since %s", main.State, due.UTC().Format(time.RFC3339))
	}
	return ""
}

func (s *SafetyNet) check(ctx context.Context, playerID string, snap *catalog.Snapshot) (bool, error) {
	var (
		tr        offer.Transition
		condition string
	)
	err := s.Store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		condition = ""
		now := s.Clock.Now()

		main, err := tx.GetMainOffer(ctx, playerID)
		if err != nil {
			return err
		}
		condition = s.Diagnose(main, now)
		if condition == "" {
			return nil
		}

		flow, err := tx.GetOfferFlowState(ctx, playerID)
		if err != nil {
			return err
		}

		tr, err = s.Machine.Activate(playerID, main, offer.FlowFor(flow, main, playerID, now), snap, now)
		if err != nil {
			return err
		}
		WriteTransition(tx, tr)
		return nil
	})
	if err != nil || condition == "" {
		return false, err
	}

	s.Logger.Warn("safety net: offer state regenerated",
		zap.String("playerID", playerID),
		zap.String("condition", condition),
		zap.String("action", "activate "+tr.Main.OfferID),
		zap.Int("tier", tr.Flow.Tier),
	)
	s.publish(ctx, events.EventOfferRestored, tr, condition, s.Clock.Now())
	return true, nil
}
