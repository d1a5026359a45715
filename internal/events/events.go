// Package events публикует доменные события экономики в Kafka.
package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

const (
	EventOperationCompleted = "economy.operation.completed"
	EventOfferTransitioned  = "economy.offer.transitioned"
	EventOfferRestored      = "economy.offer.restored"
)

// Envelope: общая обёртка события.
type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

// OperationCompletedPayload публикуется после фиксации вызываемой операции.
type OperationCompletedPayload struct {
	PlayerID  string `json:"player_id"`
	OpID      string `json:"op_id"`
	Operation string `json:"operation"`
}

// OfferTransitionedPayload публикуется планировщиком и обходами восстановления.
type OfferTransitionedPayload struct {
	PlayerID string `json:"player_id"`
	Reason   string `json:"reason"`
	State    string `json:"state"`
	Tier     int    `json:"tier"`
	OfferID  string `json:"offer_id,omitempty"`
}

// Publisher отправляет события. Ошибки доставки не влияют на зафиксированные операции.
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope)
}

// NewEnvelope собирает событие с новым идентификатором.
func NewEnvelope(eventType, producer, correlationID string, at time.Time, payload any) (Envelope, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:       uuid.NewString(),
		EventType:     eventType,
		EventVersion:  1,
		OccurredAt:    at,
		Producer:      producer,
		CorrelationID: correlationID,
		Payload:       data,
	}, nil
}

// Nop отбрасывает события; используется, если брокеры не настроены.
type Nop struct{}

func (Nop) Publish(context.Context, string, Envelope) {}

// Recorder запоминает события в памяти. Используется в тестах.
type Recorder struct {
	Events []Envelope
}

func (r *Recorder) Publish(_ context.Context, _ string, env Envelope) {
	r.Events = append(r.Events, env)
}
