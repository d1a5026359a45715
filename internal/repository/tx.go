package repository

import (
	"context"
	"errors"
	"time"

	"github.com/mmeshcher/race-economy/internal/apperr"
	"github.com/mmeshcher/race-economy/internal/model"
)

var (
	// ErrConflict возвращается, если транзакция конкурировала с другой и была отменена.
	ErrConflict = apperr.Aborted("transaction conflict, retry with the same opId")
	// ErrReceiptInProgress: по ключу уже выполняется другая попытка.
	ErrReceiptInProgress = apperr.Aborted("operation already in progress")
	// ErrReceiptCompleted: квитанция уже завершена, повтор должен вернуть сохранённый результат.
	ErrReceiptCompleted = errors.New("receipt already completed")
)

// Reader: операции чтения внутри транзакции. Отсутствующие документы
// возвращаются как nil (или нулевое значение с Exists=false), а не ошибкой.
type Reader interface {
	GetReceipt(ctx context.Context, playerID, opID string) (*model.Receipt, error)
	GetPlayer(ctx context.Context, playerID string) (model.Player, error)
	GetInventoryEntries(ctx context.Context, playerID string, skuIDs []string) (map[string]model.InventoryEntry, error)
	GetInventorySummary(ctx context.Context, playerID string) (model.InventorySummary, error)
	GetMainOffer(ctx context.Context, playerID string) (*model.MainOffer, error)
	GetOfferFlowState(ctx context.Context, playerID string) (*model.OfferFlowState, error)
	GetScheduledTransition(ctx context.Context, playerID string) (*model.ScheduledTransition, error)
	GetRace(ctx context.Context, playerID, raceID string) (*model.Race, error)
}

// Writer только накапливает записи; они применяются при фиксации транзакции.
// Методы не принимают контекст и не возвращают ошибок: в фазе записи нет ввода-вывода.
type Writer interface {
	PutReceipt(r model.Receipt)
	PutPlayer(p model.Player)
	PutInventoryEntry(e model.InventoryEntry)
	PutInventorySummary(s model.InventorySummary)
	PutMainOffer(o model.MainOffer)
	PutOfferFlowState(s model.OfferFlowState)
	PutScheduledTransition(t model.ScheduledTransition)
	DeleteScheduledTransition(playerID string)
	PutRace(r model.Race)
}

// Tx: транзакция с чтением и отложенной записью.
type Tx interface {
	Reader
	Writer
}

// TxRunner выполняет функцию в изолированной транзакции. Если fn вернула ошибку,
// накопленные записи отбрасываются.
type TxRunner interface {
	RunInTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// ReceiptStore обслуживает жизненный цикл квитанций вне бизнес-транзакций.
type ReceiptStore interface {
	GetReceipt(ctx context.Context, playerID, opID string) (*model.Receipt, error)
	// AcquireReceipt создаёт квитанцию in_progress. Квитанция failed или in_progress,
	// не обновлявшаяся дольше lease, захватывается заново.
	AcquireReceipt(ctx context.Context, r model.Receipt, lease time.Duration) error
	MarkReceiptFailed(ctx context.Context, playerID, opID, code string, at time.Time) error
}

// Scanner: запросы для фоновых заданий.
type Scanner interface {
	ListDueTransitions(ctx context.Context, nowMs int64, limit int) ([]model.ScheduledTransition, error)
	ListOverdueActiveOffers(ctx context.Context, cutoffMs int64, limit int) ([]model.MainOffer, error)
	ListPlayerIDs(ctx context.Context, afterID string, limit int) ([]string, error)
}

// Store объединяет все возможности хранилища.
type Store interface {
	TxRunner
	ReceiptStore
	Scanner
	Ping(ctx context.Context) error
	Close() error
}
