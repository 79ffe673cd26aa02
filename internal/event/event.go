package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	TypeOrderCreated           = "order.created"
	TypeOrderStatusChanged     = "order.status_changed"
	TypeOrderCancelled         = "order.cancelled"
	TypeOrderPaymentChanged    = "order.payment_changed"
	TypeStockReservationFailed = "stock.reservation_failed"

	TypePaymentSucceeded = "payment.succeeded"
	TypePaymentFailed    = "payment.failed"
)

const Producer = "marketplace-api"

type Envelope struct {
	EventID       string          `json:"event_id"`
	EventType     string          `json:"event_type"`
	EventVersion  int             `json:"event_version"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Producer      string          `json:"producer"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	Payload       json.RawMessage `json:"payload"`
}

func New(eventType string, payload interface{}) (Envelope, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Envelope{}, err
	}
	return Envelope{
		EventID:      uuid.NewString(),
		EventType:    eventType,
		EventVersion: 1,
		OccurredAt:   time.Now().UTC(),
		Producer:     Producer,
		Payload:      raw,
	}, nil
}

// Publisher はコミット後の通知を外へ出す。失敗しても業務処理は巻き戻さない。
type Publisher interface {
	Publish(ctx context.Context, key string, env Envelope) error
}

// LogPublisher はKafkaが無い環境用。ログに出すだけ
type LogPublisher struct {
	log *zap.Logger
}

func NewLogPublisher(log *zap.Logger) *LogPublisher {
	return &LogPublisher{log: log.Named("event")}
}

func (p *LogPublisher) Publish(ctx context.Context, key string, env Envelope) error {
	p.log.Info("event",
		zap.String("key", key),
		zap.String("event_type", env.EventType),
		zap.String("event_id", env.EventID),
		zap.ByteString("payload", env.Payload),
	)
	return nil
}

// --- payloads ---

type OrderCreatedPayload struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	UserID      int64  `json:"user_id"`
	TotalAmount string `json:"total_amount"`
	ItemCount   int    `json:"item_count"`
}

type OrderStatusChangedPayload struct {
	OrderID     int64  `json:"order_id"`
	OrderNumber string `json:"order_number"`
	From        string `json:"from"`
	To          string `json:"to"`
	ActorID     int64  `json:"actor_id"`
	Reason      string `json:"reason,omitempty"`
}

type OrderPaymentChangedPayload struct {
	OrderID       int64  `json:"order_id"`
	OrderNumber   string `json:"order_number"`
	PaymentStatus string `json:"payment_status"`
}

type StockReservationFailedPayload struct {
	VariantID int64 `json:"variant_id"`
	UserID    int64 `json:"user_id"`
	Requested int64 `json:"requested"`
	Available int64 `json:"available"`
}

// 決済サービスから届く結果
type PaymentResultPayload struct {
	OrderNumber string `json:"order_number"`
	Reference   string `json:"reference,omitempty"`
}
