package event

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestNew_Envelope(t *testing.T) {
	env, err := New(TypeOrderCreated, OrderCreatedPayload{OrderID: 1, OrderNumber: "ORD-20260101-00001"})
	require.NoError(t, err)

	assert.NotEmpty(t, env.EventID)
	assert.Equal(t, TypeOrderCreated, env.EventType)
	assert.Equal(t, 1, env.EventVersion)
	assert.Equal(t, Producer, env.Producer)
	assert.False(t, env.OccurredAt.IsZero())

	var p OrderCreatedPayload
	require.NoError(t, json.Unmarshal(env.Payload, &p))
	assert.Equal(t, "ORD-20260101-00001", p.OrderNumber)

	other, err := New(TypeOrderCreated, nil)
	require.NoError(t, err)
	assert.NotEqual(t, env.EventID, other.EventID)
}

func TestLogPublisher_Publish(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	pub := NewLogPublisher(zap.New(core))

	env, err := New(TypeOrderCancelled, OrderStatusChangedPayload{OrderID: 3, To: "CANCELLED"})
	require.NoError(t, err)
	require.NoError(t, pub.Publish(context.Background(), "ORD-1", env))

	entries := logs.FilterMessage("event").All()
	if assert.Len(t, entries, 1) {
		assert.Equal(t, "ORD-1", entries[0].ContextMap()["key"])
		assert.Equal(t, TypeOrderCancelled, entries[0].ContextMap()["event_type"])
	}
}
