// Package idempotency реализует хранилище квитанций, гарантирующее однократный
// видимый эффект операции с клиентским opId.
package idempotency

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/cache"
	"github.com/mmeshcher/race-economy/internal/clock"
	"github.com/mmeshcher/race-economy/internal/model"
	"github.com/mmeshcher/race-economy/internal/repository"
)

const (
	DefaultLease    = 2 * time.Minute
	DefaultCacheTTL = 24 * time.Hour

	keyReceipt = "idem:receipt:%s:%s"
)

var (
	// ErrInProgress: параллельный вызов с тем же opId ещё выполняется.
	ErrInProgress = repository.ErrReceiptInProgress
	// ErrCompleted: квитанция уже завершена; вызывающий должен вернуть сохранённый результат.
	ErrCompleted = repository.ErrReceiptCompleted
	// ErrOperationMismatch: opId уже использован другой операцией.
	ErrOperationMismatch = apperr.InvalidArgument("opId already used by another operation")
)

// Options настраивает Store.
type Options struct {
	Lease    time.Duration
	CacheTTL time.Duration
}

// Store: проверка и создание квитанций с быстрым путём через кэш.
type Store struct {
	repo   repository.ReceiptStore
	cache  cache.Cache
	clock  clock.Clock
	logger *zap.Logger
	lease  time.Duration
	ttl    time.Duration
}

// NewStore создаёт хранилище квитанций. cache может быть nil.
func NewStore(repo repository.ReceiptStore, c cache.Cache, clk clock.Clock, logger *zap.Logger, opts Options) *Store {
	if opts.Lease <= 0 {
		opts.Lease = DefaultLease
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = DefaultCacheTTL
	}
	return &Store{
		repo:   repo,
		cache:  c,
		clock:  clk,
		logger: logger,
		lease:  opts.Lease,
		ttl:    opts.CacheTTL,
	}
}

type cachedReceipt struct {
	Operation   string          `json:"operation"`
	Result      json.RawMessage `json:"result"`
	CreatedAt   time.Time       `json:"createdAt"`
	CompletedAt time.Time       `json:"completedAt"`
}

func cacheKey(playerID, opID string) string {
	return fmt.Sprintf(keyReceipt, playerID, opID)
}

// Check возвращает завершённую квитанцию или nil, если операцию нужно выполнять.
func (s *Store) Check(ctx context.Context, playerID, opID string) (*model.Receipt, error) {
	if rc := s.fromCache(ctx, playerID, opID); rc != nil {
		return rc, nil
	}

	rc, err := s.repo.GetReceipt(ctx, playerID, opID)
	if err != nil {
		return nil, fmt.Errorf("get receipt: %w", err)
	}
	if rc == nil || rc.Status != model.ReceiptCompleted {
		return nil, nil
	}

	s.Remember(ctx, *rc)
	return rc, nil
}

// CreateInProgress создаёт квитанцию in_progress. Возвращает ErrInProgress, если
// живая попытка с тем же ключом уже выполняется, и ErrCompleted, если операция завершена.
func (s *Store) CreateInProgress(ctx context.Context, playerID, opID, operation string) error {
	now := s.clock.Now()
	err := s.repo.AcquireReceipt(ctx, model.Receipt{
		PlayerID:  playerID,
		OpID:      opID,
		Operation: operation,
		Status:    model.ReceiptInProgress,
		CreatedAt: now,
		UpdatedAt: now,
	}, s.lease)
	if err != nil {
		if errors.Is(err, repository.ErrReceiptInProgress) || errors.Is(err, repository.ErrReceiptCompleted) {
			return err
		}
		return fmt.Errorf("acquire receipt: %w", err)
	}
	return nil
}

// MarkFailed освобождает ключ для повторной попытки после отменённой транзакции.
func (s *Store) MarkFailed(ctx context.Context, playerID, opID string, code apperr.Code) {
	if err := s.repo.MarkReceiptFailed(ctx, playerID, opID, string(code), s.clock.Now()); err != nil {
		s.logger.Warn("mark receipt failed",
			zap.Error(err),
			zap.String("playerID", playerID),
			zap.String("opID", opID),
		)
	}
}

// Remember кладёт завершённую квитанцию в кэш.
func (s *Store) Remember(ctx context.Context, rc model.Receipt) {
	if s.cache == nil || rc.Status != model.ReceiptCompleted {
		return
	}

	completedAt := rc.UpdatedAt
	if rc.CompletedAt != nil {
		completedAt = *rc.CompletedAt
	}
	data, err := json.Marshal(cachedReceipt{
		Operation:   rc.Operation,
		Result:      rc.Result,
		CreatedAt:   rc.CreatedAt,
		CompletedAt: completedAt,
	})
	if err != nil {
		s.logger.Warn("encode cached receipt", zap.Error(err))
		return
	}

	if err := s.cache.Set(ctx, cacheKey(rc.PlayerID, rc.OpID), data, s.ttl); err != nil {
		s.logger.Warn("cache receipt", zap.Error(err), zap.String("playerID", rc.PlayerID), zap.String("opID", rc.OpID))
	}
}

func (s *Store) fromCache(ctx context.Context, playerID, opID string) *model.Receipt {
	if s.cache == nil {
		return nil
	}

	data, err := s.cache.Get(ctx, cacheKey(playerID, opID))
	if err != nil {
		if !errors.Is(err, cache.ErrCacheMiss) {
			s.logger.Warn("read cached receipt", zap.Error(err), zap.String("playerID", playerID))
		}
		return nil
	}

	var c cachedReceipt
	if err := json.Unmarshal(data, &c); err != nil {
		s.logger.Warn("decode cached receipt", zap.Error(err), zap.String("playerID", playerID))
		return nil
	}

	completedAt := c.CompletedAt
	return &model.Receipt{
		PlayerID:    playerID,
		OpID:        opID,
		Operation:   c.Operation,
		Status:      model.ReceiptCompleted,
		Result:      c.Result,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   completedAt,
		CompletedAt: &completedAt,
	}
}
