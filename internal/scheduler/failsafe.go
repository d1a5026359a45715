package scheduler

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
)

const sweepFailSafe = "failsafe"

// FailSafe находит активные предложения, истёкшие более чем на Buffer назад,
// и принудительно ставит им переход на "сейчас".
type FailSafe struct {
	Deps
	Buffer time.Duration
}

// NewFailSafe создаёт обход; buffer <= 0 заменяется DefaultFailSafeBuffer.
func NewFailSafe(d Deps, buffer time.Duration) *FailSafe {
	if buffer <= 0 {
		buffer = DefaultFailSafeBuffer
	}
	return &FailSafe{Deps: d, Buffer: buffer}
}

// Run выполняет один проход.
func (f *FailSafe) Run(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "scheduler.FailSafe")
	defer span.End()

	var rep Report
	now := f.Clock.Now()
	cutoff := model.MillisOf(now.Add(-f.Buffer))

	overdue, err := f.Store.ListOverdueActiveOffers(ctx, cutoff, f.batch())
	if err != nil {
		f.count(sweepErrors)
		return rep, fmt.Errorf("list overdue offers: %w", err)
	}
	if len(overdue) == f.batch() {
		f.Logger.Warn("fail-safe batch is full, remaining offers are handled next run", zap.Int("batch", f.batch()))
	}

	for _, o := range overdue {
		rep.Scanned++
		f.count(sweepScanned)

		restored, err := f.restore(ctx, o.PlayerID, cutoff)
		if err != nil {
			rep.Errors++
			f.count(sweepErrors)
			f.Logger.Error("fail-safe restore failed", zap.Error(err), zap.String("playerID", o.PlayerID))
			continue
		}
		if restored {
			rep.Restored++
			f.count(sweepRestored)
		}
	}

	span.SetAttributes(attribute.Int("scanned", rep.Scanned), attribute.Int("restored", rep.Restored))
	f.Logger.Info("fail-safe sweep finished",
		zap.Int("scanned", rep.Scanned),
		zap.Int("restored", rep.Restored),
		zap.Int("errors", rep.Errors),
	)
	return rep, nil
}

func (f *FailSafe) restore(ctx context.Context, playerID string, cutoff int64) (bool, error) {
	restored := false
	err := f.Store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		restored = false
		now := f.Clock.Now()

		main, err := tx.GetMainOffer(ctx, playerID)
		if err != nil {
			return err
		}
		// Состояние могло измениться после выборки.
		if main == nil || main.State != model.OfferActive || main.ExpiresAt >= cutoff {
			return nil
		}
		flow, err := tx.GetOfferFlowState(ctx, playerID)
		if err != nil {
			return err
		}

		entry := model.ScheduledTransition{
			PlayerID:  playerID,
			FireAt:    model.MillisOf(now),
			Reason:    model.ReasonOfferExpired,
			Tier:      offer.FlowFor(flow, main, playerID, now).Tier,
			CreatedAt: now,
		}
		ScheduleTx(tx, entry)

		f.Logger.Warn("fail-safe: active offer stuck past expiry, transition rescheduled",
			zap.String("playerID", playerID),
			zap.String("offerID", main.OfferID),
			zap.Duration("overdue", now.Sub(time.UnixMilli(main.ExpiresAt))),
			zap.String("action", "schedule offer_expired now"),
		)
		restored = true
		return nil
	})
	return restored, err
}

type sweepCounter int

const (
	sweepScanned sweepCounter = iota
	sweepRestored
	sweepErrors
)

func (f *FailSafe) count(c sweepCounter) {
	countSweep(f.Deps, sweepFailSafe, c)
}

func countSweep(d Deps, sweep string, c sweepCounter) {
	if d.Metrics == nil {
		return
	}
	switch c {
	case sweepScanned:
		d.Metrics.SweepScanned.WithLabelValues(sweep).Inc()
	case sweepRestored:
		d.Metrics.SweepRestored.WithLabelValues(sweep).Inc()
	case sweepErrors:
		d.Metrics.SweepErrors.WithLabelValues(sweep).Inc()
	}
}
