package events

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestNewEnvelope(t *testing.T) {
	at := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	env, err := NewEnvelope(EventOperationCompleted, "economy", "op-1", at, OperationCompletedPayload{
		PlayerID: "p1", OpID: "op-1", Operation: "openCrate",
	})
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, at, env.OccurredAt)
	assert.JSONEq(t, `{"player_id":"p1","op_id":"op-1","operation":"openCrate"}`, string(env.Payload))

	other, err := NewEnvelope(EventOperationCompleted, "economy", "op-1", at, nil)
	require.NoError(t, err)
	assert.NotEqual(t, env.EventID, other.EventID)
}

func TestKafkaProducer_DropsWhenQueueFull(t *testing.T) {
	p := NewKafkaProducer([]string{"localhost:9092"}, "economy", 1, zap.NewNop())
	env := Envelope{EventType: EventOfferRestored, Payload: json.RawMessage(`{}`)}

	p.Publish(context.Background(), "p1", env)
	p.Publish(context.Background(), "p2", env)

	require.Len(t, p.inbox, 1)
	m := <-p.inbox
	assert.Equal(t, "p1", string(m.Key))
	assert.Equal(t, EventOfferRestored, string(m.Headers[0].Value))
}
