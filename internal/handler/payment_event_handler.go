package handler

import (
	"context"
	"encoding/json"
	"net/http"

	"marketplace/internal/event"
	"marketplace/internal/usecase"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// 決済結果の反映先
type PaymentResultApplier interface {
	MarkPaidByNumber(ctx context.Context, orderNumber string) (usecase.OrderOutput, error)
	MarkFailedByNumber(ctx context.Context, orderNumber string) (usecase.OrderOutput, error)
}

// 決済トピックのメッセージを注文の支払いステータスに反映する
type PaymentEventHandler struct {
	uc  PaymentResultApplier
	log *zap.Logger
}

func NewPaymentEventHandler(uc PaymentResultApplier, log *zap.Logger) *PaymentEventHandler {
	return &PaymentEventHandler{uc: uc, log: log.Named("payment_listener")}
}

// nil を返すとコミットされる。直しようのないメッセージは捨てる
func (h *PaymentEventHandler) Handle(ctx context.Context, m kafka.Message) error {
	var env event.Envelope
	if err := json.Unmarshal(m.Value, &env); err != nil {
		h.log.Warn("skip malformed envelope", zap.Int64("offset", m.Offset), zap.Error(err))
		return nil
	}

	var p event.PaymentResultPayload
	if err := json.Unmarshal(env.Payload, &p); err != nil || p.OrderNumber == "" {
		h.log.Warn("skip malformed payment payload", zap.String("event_id", env.EventID))
		return nil
	}

	var err error
	switch env.EventType {
	case event.TypePaymentSucceeded:
		_, err = h.uc.MarkPaidByNumber(ctx, p.OrderNumber)
	case event.TypePaymentFailed:
		_, err = h.uc.MarkFailedByNumber(ctx, p.OrderNumber)
	default:
		h.log.Debug("ignore event", zap.String("event_type", env.EventType))
		return nil
	}

	if err != nil {
		//4xxは再送しても同じ
		if he, ok := usecase.AsHTTPError(err); ok && he.Status < http.StatusInternalServerError {
			h.log.Warn("payment result rejected",
				zap.String("order_number", p.OrderNumber),
				zap.String("event_type", env.EventType),
				zap.String("reason", he.Message),
			)
			return nil
		}
		return err
	}

	h.log.Info("payment result applied",
		zap.String("order_number", p.OrderNumber),
		zap.String("event_type", env.EventType),
		zap.String("reference", p.Reference),
	)
	return nil
}
