package scheduler

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/events"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
)

const (
	outcomeApplied     = "applied"
	outcomeRescheduled = "rescheduled"
	outcomeSuperseded  = "superseded"
	outcomeOrphaned    = "orphaned"
	outcomeError       = "error"
)

// Processor выполняет наступившие записи планировщика.
type Processor struct {
	Deps
}

// NewProcessor создаёт обработчик записей.
func NewProcessor(d Deps) *Processor {
	return &Processor{Deps: d}
}

// RunDue обрабатывает пачку наступивших записей. Каждая запись выполняется
// в своей транзакции; ошибка одной записи не останавливает остальные.
func (p *Processor) RunDue(ctx context.Context) (Report, error) {
	ctx, span := tracer.Start(ctx, "scheduler.RunDue")
	defer span.End()

	var rep Report
	now := p.Clock.Now()

	due, err := p.Store.ListDueTransitions(ctx, model.MillisOf(now), p.batch())
	if err != nil {
		return rep, fmt.Errorf("list due transitions: %w", err)
	}
	if len(due) == 0 {
		return rep, nil
	}

	snap, err := p.Catalog.Snapshot(ctx)
	if err != nil {
		return rep, fmt.Errorf("load catalog: %w", err)
	}

	for _, e := range due {
		rep.Scanned++

		outcome, tr, err := p.process(ctx, e, snap)
		if err != nil {
			rep.Errors++
			p.observe(e.Reason, outcomeError)
			p.Logger.Error("scheduled transition failed",
				zap.Error(err),
				zap.String("playerID", e.PlayerID),
				zap.String("reason", string(e.Reason)),
			)
			continue
		}

		p.observe(e.Reason, outcome)
		switch outcome {
		case outcomeApplied:
			rep.Applied++
			p.publish(ctx, events.EventOfferTransitioned, tr, string(e.Reason), p.Clock.Now())
		case outcomeOrphaned, outcomeRescheduled:
			p.Logger.Info("scheduled transition revalidated",
				zap.String("playerID", e.PlayerID),
				zap.String("reason", string(e.Reason)),
				zap.String("outcome", outcome),
			)
		}
	}

	span.SetAttributes(
		attribute.Int("scanned", rep.Scanned),
		attribute.Int("applied", rep.Applied),
		attribute.Int("errors", rep.Errors),
	)
	return rep, nil
}

func (p *Processor) process(ctx context.Context, listed model.ScheduledTransition, snap *catalog.Snapshot) (string, offer.Transition, error) {
	var (
		outcome string
		tr      offer.Transition
	)

	err := p.Store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		outcome, tr = "", offer.Transition{}
		now := p.Clock.Now()

		cur, err := tx.GetScheduledTransition(ctx, listed.PlayerID)
		if err != nil {
			return err
		}
		if cur == nil || cur.FireAt != listed.FireAt || cur.Reason != listed.Reason {
			outcome = outcomeSuperseded
			return nil
		}

		main, err := tx.GetMainOffer(ctx, listed.PlayerID)
		if err != nil {
			return err
		}
		flow, err := tx.GetOfferFlowState(ctx, listed.PlayerID)
		if err != nil {
			return err
		}

		if err := offer.Validate(main); err != nil {
			// Документ отсутствует или повреждён: его восстановит страховочный обход.
			CancelTx(tx, listed.PlayerID)
			outcome = outcomeOrphaned
			return nil
		}

		f := offer.FlowFor(flow, main, listed.PlayerID, now)
		if offer.ReasonFor(main.State) != cur.Reason || !offer.Ready(*main, model.MillisOf(now)) {
			ScheduleTx(tx, offer.ExpectedEntry(*main, f.Tier, now))
			outcome = outcomeRescheduled
			return nil
		}

		tr, err = p.Machine.Advance(*main, f, snap, now)
		if err != nil {
			if errors.Is(err, offer.ErrNotReady) {
				outcome = outcomeRescheduled
				return nil
			}
			return err
		}
		WriteTransition(tx, tr)
		outcome = outcomeApplied
		return nil
	})
	return outcome, tr, err
}

func (p *Processor) observe(reason model.TransitionReason, outcome string) {
	if p.Metrics == nil {
		return
	}
	p.Metrics.Transitions.WithLabelValues(string(reason), outcome).Inc()
}
