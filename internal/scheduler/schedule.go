// Package scheduler выполняет запланированные переходы предложений
// и два независимых обхода восстановления.
package scheduler

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/catalog"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/events"
	"github.com/mmeshcher/race-economy/internal/metrics"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/offer"
	"github.com/mmeshcher/race-economy/internal/repository"
)

const (
	DefaultBatch          = 500
	DefaultFailSafeBuffer = 5 * time.Minute
	DefaultStuckThreshold = 48 * time.Hour
	producerName          = "race-economy-scheduler"
)

// Catalog отдаёт актуальный снимок справочника.
type Catalog interface {
	Snapshot(ctx context.Context) (*catalog.Snapshot, error)
}

// Store: то, что нужно заданиям от хранилища.
type Store interface {
	repository.TxRunner
	repository.Scanner
}

// Deps: общие зависимости заданий.
type Deps struct {
	Store     Store
	Catalog   Catalog
	Machine   offer.Machine
	Clock     clock.Clock
	Logger    *zap.Logger
	Metrics   *metrics.Metrics
	Publisher events.Publisher
	Batch     int
}

func (d Deps) batch() int {
	if d.Batch <= 0 {
		return DefaultBatch
	}
	return d.Batch
}

func (d Deps) publish(ctx context.Context, eventType string, tr offer.Transition, reason string, at time.Time) {
	if d.Publisher == nil {
		return
	}
	env, err := events.NewEnvelope(eventType, producerName, tr.Main.PlayerID, at, events.OfferTransitionedPayload{
		PlayerID: tr.Main.PlayerID,
		Reason:   reason,
		State:    string(tr.Main.State),
		Tier:     tr.Flow.Tier,
		OfferID:  tr.Main.OfferID,
	})
	if err != nil {
		d.Logger.Warn("build event", zap.Error(err))
		return
	}
	d.Publisher.Publish(ctx, tr.Main.PlayerID, env)
}

// ScheduleTx отменяет ожидающую запись игрока и ставит новую в той же транзакции.
func ScheduleTx(w repository.Writer, entry model.ScheduledTransition) {
	w.DeleteScheduledTransition(entry.PlayerID)
	w.PutScheduledTransition(entry)
}

// CancelTx отменяет ожидающую запись игрока.
func CancelTx(w repository.Writer, playerID string) {
	w.DeleteScheduledTransition(playerID)
}

// WriteTransition записывает документы перехода и следующую запись планировщика.
func WriteTransition(w repository.Writer, tr offer.Transition) {
	w.PutMainOffer(tr.Main)
	w.PutOfferFlowState(tr.Flow)
	ScheduleTx(w, tr.Next)
}

// Report: итог одного прогона задания.
type Report struct {
	Scanned  int
	Applied  int
	Restored int
	Errors   int
}

var tracer = otel.Tracer("github.com/mmeshcher/race-economy/internal/scheduler")
