package usecase

import (
	"context"
	"errors"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	repo "marketplace/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 注文ステータス・支払いステータスの変更はここに集約する（顧客・管理者共通）
type orderLifecycle struct {
	tx  repo.TransactionManager
	pub event.Publisher
	log *zap.Logger
	now func() time.Time
}

type OrderItemOutput struct {
	ID           int64           `json:"id"`
	ProductID    int64           `json:"product_id"`
	VariantID    int64           `json:"variant_id"`
	ProductName  string          `json:"product_name"`
	VariantSKU   string          `json:"variant_sku"`
	VariantName  string          `json:"variant_name"`
	ProductImage string          `json:"product_image,omitempty"`
	Price        decimal.Decimal `json:"price"`
	Quantity     int64           `json:"quantity"`
	Subtotal     decimal.Decimal `json:"subtotal"`
}

type OrderOutput struct {
	ID            int64              `json:"id"`
	OrderNumber   string             `json:"order_number"`
	UserID        int64              `json:"user_id"`
	Status        string             `json:"status"`
	PaymentStatus string             `json:"payment_status"`
	PaymentMethod string             `json:"payment_method"`
	Subtotal      decimal.Decimal    `json:"subtotal"`
	ShippingFee   decimal.Decimal    `json:"shipping_fee"`
	Tax           decimal.Decimal    `json:"tax"`
	Discount      decimal.Decimal    `json:"discount"`
	TotalAmount   decimal.Decimal    `json:"total_amount"`
	Shipping      model.ShippingInfo `json:"shipping"`
	Billing       model.ShippingInfo `json:"billing"`
	Notes         string             `json:"notes,omitempty"`
	AdminNotes    string             `json:"admin_notes,omitempty"`
	ConfirmedAt   *time.Time         `json:"confirmed_at,omitempty"`
	ConfirmedBy   *int64             `json:"confirmed_by,omitempty"`
	ShippedAt     *time.Time         `json:"shipped_at,omitempty"`
	DeliveredAt   *time.Time         `json:"delivered_at,omitempty"`
	CancelledAt   *time.Time         `json:"cancelled_at,omitempty"`
	CancelledBy   *int64             `json:"cancelled_by,omitempty"`
	CancelReason  string             `json:"cancel_reason,omitempty"`
	CreatedAt     time.Time          `json:"created_at"`
	UpdatedAt     time.Time          `json:"updated_at"`
	Items         []OrderItemOutput  `json:"items"`
}

type OrderListOutput struct {
	Items []OrderOutput `json:"items"`
	Page  int           `json:"page"`
	Limit int           `json:"limit"`
	Total int64         `json:"total"`
}

func toOrderOutput(o model.Order, items []model.OrderItem) OrderOutput {
	outItems := make([]OrderItemOutput, 0, len(items))
	for _, it := range items {
		outItems = append(outItems, OrderItemOutput{
			ID:           it.ID,
			ProductID:    it.ProductID,
			VariantID:    it.VariantID,
			ProductName:  it.ProductName,
			VariantSKU:   it.VariantSKU,
			VariantName:  it.VariantName,
			ProductImage: it.ProductImage,
			Price:        it.Price,
			Quantity:     it.Quantity,
			Subtotal:     it.Subtotal,
		})
	}

	return OrderOutput{
		ID:            o.ID,
		OrderNumber:   o.OrderNumber,
		UserID:        o.UserID,
		Status:        string(o.Status),
		PaymentStatus: string(o.PaymentStatus),
		PaymentMethod: string(o.PaymentMethod),
		Subtotal:      o.Subtotal,
		ShippingFee:   o.ShippingFee,
		Tax:           o.Tax,
		Discount:      o.Discount,
		TotalAmount:   o.TotalAmount,
		Shipping:      o.Shipping,
		Billing:       o.Billing,
		Notes:         o.Notes,
		AdminNotes:    o.AdminNotes,
		ConfirmedAt:   o.ConfirmedAt,
		ConfirmedBy:   o.ConfirmedBy,
		ShippedAt:     o.ShippedAt,
		DeliveredAt:   o.DeliveredAt,
		CancelledAt:   o.CancelledAt,
		CancelledBy:   o.CancelledBy,
		CancelReason:  o.CancelReason,
		CreatedAt:     o.CreatedAt,
		UpdatedAt:     o.UpdatedAt,
		Items:         outItems,
	}
}

func loadOrderOutput(ctx context.Context, r repo.TxRepos, o model.Order) (OrderOutput, error) {
	items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
	if err != nil {
		return OrderOutput{}, err
	}
	return toOrderOutput(o, items), nil
}

// 注文の探し方（ID / 注文番号）と所有チェック
type orderTarget struct {
	id     int64
	number string
	// 0 なら所有チェックしない（管理者・システム）
	ownerID int64
}

func (t orderTarget) lock(ctx context.Context, r repo.TxRepos) (model.Order, error) {
	id := t.id
	if t.number != "" {
		o, err := r.Orders().FindByOrderNumber(ctx, t.number)
		if err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return model.Order{}, notFound("order")
			}
			return model.Order{}, err
		}
		id = o.ID
	}

	o, err := r.Orders().FindByIDForUpdate(ctx, id)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Order{}, notFound("order")
	}
	if err != nil {
		return model.Order{}, err
	}
	//他人の注文は「存在しない扱い」にする
	if t.ownerID > 0 && o.UserID != t.ownerID {
		return model.Order{}, notFound("order")
	}
	return o, nil
}

// transition は遷移表に従って注文を進め、キャンセルなら同じTxで在庫を戻す。
func (l *orderLifecycle) transition(ctx context.Context, target orderTarget, ev model.OrderEvent, p model.TransitionParams) (OrderOutput, error) {
	if p.At.IsZero() {
		p.At = l.now()
	}

	var (
		out  OrderOutput
		from model.OrderStatus
	)
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := target.lock(ctx, r)
		if err != nil {
			return err
		}

		//確認者・キャンセル者は実在するユーザー（0はシステム）
		if p.ActorID > 0 && (ev == model.OrderEventConfirm || ev == model.OrderEventCancel) {
			u, err := r.Users().FindByID(ctx, p.ActorID)
			if err != nil {
				return err
			}
			if u == nil {
				return notFound("user")
			}
		}

		from = o.Status
		if err := model.Transition(&o, ev, p); err != nil {
			return err
		}

		items, err := r.OrderItems().ListByOrderID(ctx, o.ID)
		if err != nil {
			return err
		}

		if ev == model.OrderEventCancel {
			if err := l.restock(ctx, r, items); err != nil {
				return err
			}
		}

		if err := r.Orders().Save(ctx, o); err != nil {
			return err
		}

		action := model.AuditActionUpdateOrderStatus
		if ev == model.OrderEventCancel {
			action = model.AuditActionCancelOrder
		}
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  p.ActorID,
			Action:       action,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   toJSON(map[string]string{"status": string(from)}),
			AfterJSON:    toJSON(map[string]string{"status": string(o.Status), "reason": o.CancelReason, "admin_notes": o.AdminNotes}),
			CreatedAt:    p.At,
		}); err != nil {
			return err
		}

		out = toOrderOutput(o, items)
		return nil
	})
	if err != nil {
		return OrderOutput{}, toHTTPError(l.log, "order."+string(ev), err)
	}

	l.log.Info("order status changed",
		zap.Int64("order_id", out.ID),
		zap.String("order_number", out.OrderNumber),
		zap.String("from", string(from)),
		zap.String("to", out.Status),
		zap.Int64("actor_id", p.ActorID),
	)

	eventType := event.TypeOrderStatusChanged
	if ev == model.OrderEventCancel {
		eventType = event.TypeOrderCancelled
	}
	publish(ctx, l.pub, l.log, out.OrderNumber, eventType, event.OrderStatusChangedPayload{
		OrderID:     out.ID,
		OrderNumber: out.OrderNumber,
		From:        string(from),
		To:          out.Status,
		ActorID:     p.ActorID,
		Reason:      out.CancelReason,
	})
	return out, nil
}

// キャンセル時の在庫戻し（バリアントID昇順でロック）
func (l *orderLifecycle) restock(ctx context.Context, r repo.TxRepos, items []model.OrderItem) error {
	sorted := make([]model.OrderItem, len(items))
	copy(sorted, items)
	sortOrderItemsByVariant(sorted)

	ledger := newStockLedger(r, l.log)
	for _, it := range sorted {
		if _, err := ledger.increase(ctx, it.VariantID, it.Quantity); err != nil {
			return err
		}
		if err := r.Products().AddPurchaseCount(ctx, it.ProductID, -it.Quantity); err != nil {
			return err
		}
	}
	return nil
}

// 支払いステータスだけを変える（注文ステータスとは独立）
func (l *orderLifecycle) setPayment(ctx context.Context, target orderTarget, actorID int64, status model.PaymentStatus) (OrderOutput, error) {
	var (
		out    OrderOutput
		before model.PaymentStatus
	)
	err := l.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := target.lock(ctx, r)
		if err != nil {
			return err
		}

		before = o.PaymentStatus
		switch status {
		case model.PaymentStatusPaid:
			model.MarkPaid(&o)
		case model.PaymentStatusFailed:
			model.MarkPaymentFailed(&o)
		}

		if err := r.Orders().Save(ctx, o); err != nil {
			return err
		}

		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorID,
			Action:       model.AuditActionUpdatePaymentStatus,
			ResourceType: model.AuditResourceOrder,
			ResourceID:   o.ID,
			BeforeJSON:   toJSON(map[string]string{"payment_status": string(before)}),
			AfterJSON:    toJSON(map[string]string{"payment_status": string(o.PaymentStatus)}),
			CreatedAt:    l.now(),
		}); err != nil {
			return err
		}

		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	if err != nil {
		return OrderOutput{}, toHTTPError(l.log, "order.payment", err)
	}

	l.log.Info("order payment changed",
		zap.Int64("order_id", out.ID),
		zap.String("from", string(before)),
		zap.String("to", out.PaymentStatus),
		zap.Int64("actor_id", actorID),
	)
	publish(ctx, l.pub, l.log, out.OrderNumber, event.TypeOrderPaymentChanged, event.OrderPaymentChangedPayload{
		OrderID:       out.ID,
		OrderNumber:   out.OrderNumber,
		PaymentStatus: out.PaymentStatus,
	})
	return out, nil
}
