package kafka

import (
	"context"
	"encoding/json"

	"marketplace/internal/event"

	"github.com/segmentio/kafka-go"
)

// EventPublisher は event.Publisher のKafka実装。
// キー（注文番号など）でパーティションが決まるので同じ注文のイベントは順序が保たれる。
type EventPublisher struct {
	p *Producer
}

func NewEventPublisher(p *Producer) *EventPublisher {
	return &EventPublisher{p: p}
}

func (ep *EventPublisher) Publish(ctx context.Context, key string, env event.Envelope) error {
	value, err := json.Marshal(env)
	if err != nil {
		return err
	}
	return ep.p.Publish(ctx, []byte(key), value,
		kafka.Header{Key: "event_type", Value: []byte(env.EventType)},
		kafka.Header{Key: "event_id", Value: []byte(env.EventID)},
	)
}
