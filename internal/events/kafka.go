package events

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// KafkaProducer пишет события в топик асинхронно через буферизованный канал.
type KafkaProducer struct {
	w      *kafka.Writer
	inbox  chan kafka.Message
	done   chan struct{}
	logger *zap.Logger
}

// NewKafkaProducer создаёт продюсер. buf задаёт размер очереди сообщений.
func NewKafkaProducer(brokers []string, topic string, buf int, logger *zap.Logger) *KafkaProducer {
	return &KafkaProducer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			BatchTimeout: 50 * time.Millisecond,
		},
		inbox:  make(chan kafka.Message, buf),
		done:   make(chan struct{}),
		logger: logger,
	}
}

// Run отправляет сообщения до отмены ctx, затем дописывает остаток очереди и закрывает writer.
func (p *KafkaProducer) Run(ctx context.Context) error {
	defer close(p.done)
	for {
		select {
		case <-ctx.Done():
			p.drain()
			return p.w.Close()
		case m := <-p.inbox:
			p.write(m)
		}
	}
}

func (p *KafkaProducer) drain() {
	for {
		select {
		case m := <-p.inbox:
			p.write(m)
		default:
			return
		}
	}
}

func (p *KafkaProducer) write(m kafka.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := p.w.WriteMessages(ctx, m); err != nil {
		p.logger.Warn("kafka write", zap.Error(err), zap.String("key", string(m.Key)))
	}
}

// Publish ставит событие в очередь. При переполненной очереди событие отбрасывается.
func (p *KafkaProducer) Publish(ctx context.Context, key string, env Envelope) {
	if sc := trace.SpanContextFromContext(ctx); sc.HasTraceID() {
		env.TraceID = sc.TraceID().String()
	}
	value, err := json.Marshal(env)
	if err != nil {
		p.logger.Warn("encode event", zap.Error(err), zap.String("eventType", env.EventType))
		return
	}

	msg := kafka.Message{
		Key:   []byte(key),
		Value: value,
		Time:  env.OccurredAt,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(env.EventType)},
		},
	}
	select {
	case p.inbox <- msg:
	default:
		p.logger.Warn("event queue full, dropping", zap.String("eventType", env.EventType), zap.String("key", key))
	}
}

// Wait блокируется до завершения Run.
func (p *KafkaProducer) Wait() { <-p.done }
