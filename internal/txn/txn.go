// Package txn связывает бизнес-транзакции с жизненным циклом квитанций идемпотентности.
//
// Фаза чтения получает только repository.Reader, фаза записи только repository.Writer,
// поэтому чтение после записи внутри одной транзакции невозможно выразить.
package txn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/events"
	"github.com/mmeshcher/race-economy/internal/idempotency"
	"github.com/mmeshcher/race-economy/internal/metrics"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
	"github.com/mmeshcher/race-economy/internal/validation"
)

const producerName = "race-economy"

var ErrInvalidOpID = apperr.InvalidArgument("opId is required")

// Op идентифицирует вызов: игрок, клиентский opId и имя операции.
// Prepare, если задан, выполняется после захвата квитанции и до транзакции.
// В нём читается справочник и проверяется покупка: повтор завершённой
// операции его не вызывает и от справочника не зависит.
type Op struct {
	PlayerID string
	OpID     string
	Name     string
	Prepare  func(ctx context.Context) error
}

func (op Op) validate() error {
	if op.PlayerID == "" {
		return apperr.Unauthenticated
	}
	if !validation.IsValidID(op.OpID) {
		return ErrInvalidOpID
	}
	return nil
}

// Result: результат операции. Raw содержит JSON, сохранённый в квитанции;
// при повторе он возвращается без изменений.
type Result[T any] struct {
	Value    T
	Raw      json.RawMessage
	Replayed bool
}

// Orchestrator выполняет операции с квитанциями.
type Orchestrator struct {
	store     repository.TxRunner
	receipts  *idempotency.Store
	clock     clock.Clock
	logger    *zap.Logger
	publisher events.Publisher
	metrics   *metrics.Metrics
	tracer    trace.Tracer
}

// Option настраивает Orchestrator.
type Option func(*Orchestrator)

// WithPublisher включает публикацию событий после фиксации.
func WithPublisher(p events.Publisher) Option {
	return func(o *Orchestrator) { o.publisher = p }
}

// WithMetrics включает счётчики операций.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.metrics = m }
}

// New создаёт оркестратор.
func New(store repository.TxRunner, receipts *idempotency.Store, clk clock.Clock, logger *zap.Logger, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		store:     store,
		receipts:  receipts,
		clock:     clk,
		logger:    logger,
		publisher: events.Nop{},
		tracer:    otel.Tracer("github.com/mmeshcher/race-economy/internal/txn"),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Clock возвращает часы оркестратора; фазы чтения берут из них "сейчас".
func (o *Orchestrator) Clock() clock.Clock {
	return o.clock
}

type readView struct {
	repository.Reader
}

type writeView struct {
	repository.Writer
}

// RunReadThenWrite выполняет двухфазную операцию. read видит только чтение,
// write получает результат read и только накапливает записи. Значение write
// сохраняется в квитанции в той же транзакции.
func RunReadThenWrite[R, T any](
	ctx context.Context,
	o *Orchestrator,
	op Op,
	read func(ctx context.Context, r repository.Reader) (R, error),
	write func(w repository.Writer, data R) (T, error),
) (Result[T], error) {
	return run(ctx, o, op, func(ctx context.Context, tx repository.Tx) (T, error) {
		data, err := read(ctx, readView{tx})
		if err != nil {
			var zero T
			return zero, err
		}
		return write(writeView{tx}, data)
	})
}

// RunWithReceipt выполняет однофазную операцию. Записи body применяются только при фиксации.
func RunWithReceipt[T any](ctx context.Context, o *Orchestrator, op Op, body func(ctx context.Context, tx repository.Tx) (T, error)) (Result[T], error) {
	return run(ctx, o, op, body)
}

func run[T any](ctx context.Context, o *Orchestrator, op Op, body func(ctx context.Context, tx repository.Tx) (T, error)) (res Result[T], err error) {
	ctx, span := o.tracer.Start(ctx, "txn."+op.Name, trace.WithAttributes(
		attribute.String("player.id", op.PlayerID),
		attribute.String("op.id", op.OpID),
	))
	defer func() {
		span.SetAttributes(attribute.Bool("replayed", res.Replayed))
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, string(apperr.CodeOf(err)))
		}
		span.End()
		o.observe(op, err)
	}()

	if err := op.validate(); err != nil {
		return res, err
	}

	rc, err := o.receipts.Check(ctx, op.PlayerID, op.OpID)
	if err != nil {
		return res, apperr.Internal(err)
	}
	if rc != nil {
		return replay[T](op, rc)
	}

	if err := o.receipts.CreateInProgress(ctx, op.PlayerID, op.OpID, op.Name); err != nil {
		if errors.Is(err, idempotency.ErrCompleted) {
			return replayStored[T](ctx, o, op)
		}
		if apperr.CodeOf(err) == apperr.CodeAborted {
			return res, err
		}
		return res, apperr.Internal(err)
	}

	if op.Prepare != nil {
		if err := op.Prepare(ctx); err != nil {
			return Result[T]{}, o.fail(ctx, op, err)
		}
	}

	var committed model.Receipt
	err = o.store.RunInTx(ctx, func(ctx context.Context, tx repository.Tx) error {
		res = Result[T]{}

		cur, err := tx.GetReceipt(ctx, op.PlayerID, op.OpID)
		if err != nil {
			return err
		}
		if cur != nil && cur.Status == model.ReceiptCompleted {
			res, err = replay[T](op, cur)
			return err
		}

		value, err := body(ctx, tx)
		if err != nil {
			return err
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("encode %s result: %w", op.Name, err)
		}

		now := o.clock.Now()
		createdAt := now
		if cur != nil {
			createdAt = cur.CreatedAt
		}
		committed = model.Receipt{
			PlayerID:    op.PlayerID,
			OpID:        op.OpID,
			Operation:   op.Name,
			Status:      model.ReceiptCompleted,
			Result:      raw,
			CreatedAt:   createdAt,
			UpdatedAt:   now,
			CompletedAt: &now,
		}
		tx.PutReceipt(committed)

		res = Result[T]{Value: value, Raw: raw}
		return nil
	})
	if err != nil {
		return Result[T]{}, o.fail(ctx, op, err)
	}

	if res.Replayed {
		return res, nil
	}

	// В кэш попадает ровно та квитанция, что записана в транзакции.
	o.receipts.Remember(ctx, committed)
	o.publish(ctx, op, *committed.CompletedAt)

	return res, nil
}

// fail освобождает квитанцию для повтора и логирует непредвиденные ошибки.
func (o *Orchestrator) fail(ctx context.Context, op Op, err error) error {
	code := apperr.CodeOf(err)
	o.receipts.MarkFailed(context.WithoutCancel(ctx), op.PlayerID, op.OpID, code)
	if code == apperr.CodeInternal {
		o.logger.Error("operation failed",
			zap.Error(err),
			zap.String("operation", op.Name),
			zap.String("playerID", op.PlayerID),
			zap.String("opID", op.OpID),
		)
	}
	return err
}

// replayStored обрабатывает квитанцию, завершённую между проверкой и захватом.
func replayStored[T any](ctx context.Context, o *Orchestrator, op Op) (Result[T], error) {
	rc, err := o.receipts.Check(ctx, op.PlayerID, op.OpID)
	if err != nil {
		return Result[T]{}, apperr.Internal(err)
	}
	if rc == nil {
		return Result[T]{}, idempotency.ErrInProgress
	}
	return replay[T](op, rc)
}

func replay[T any](op Op, rc *model.Receipt) (Result[T], error) {
	if rc.Operation != op.Name {
		return Result[T]{}, fmt.Errorf("%w: %s", idempotency.ErrOperationMismatch, rc.Operation)
	}

	var value T
	if err := json.Unmarshal(rc.Result, &value); err != nil {
		return Result[T]{}, apperr.Internal(fmt.Errorf("decode stored %s result: %w", op.Name, err))
	}
	return Result[T]{Value: value, Raw: rc.Result, Replayed: true}, nil
}

func (o *Orchestrator) publish(ctx context.Context, op Op, at time.Time) {
	env, err := events.NewEnvelope(events.EventOperationCompleted, producerName, op.OpID, at, events.OperationCompletedPayload{
		PlayerID:  op.PlayerID,
		OpID:      op.OpID,
		Operation: op.Name,
	})
	if err != nil {
		o.logger.Warn("build event", zap.Error(err))
		return
	}
	o.publisher.Publish(ctx, op.PlayerID, env)
}

func (o *Orchestrator) observe(op Op, err error) {
	if o.metrics == nil {
		return
	}
	code := "ok"
	if err != nil {
		code = string(apperr.CodeOf(err))
	}
	o.metrics.Operations.WithLabelValues(op.Name, code).Inc()
}
