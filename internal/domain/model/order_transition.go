package model

import (
	"strings"
	"time"
)

type OrderEvent string

const (
	OrderEventConfirm OrderEvent = "CONFIRM"
	OrderEventProcess OrderEvent = "PROCESS"
	OrderEventShip    OrderEvent = "SHIP"
	OrderEventDeliver OrderEvent = "DELIVER"
	OrderEventCancel  OrderEvent = "CANCEL"
)

type orderTransition struct {
	from []OrderStatus
	to   OrderStatus
}

// 注文ステータスの遷移表。ここに無い遷移はすべて不正。
var orderTransitions = map[OrderEvent]orderTransition{
	OrderEventConfirm: {from: []OrderStatus{OrderStatusPending}, to: OrderStatusConfirmed},
	OrderEventProcess: {from: []OrderStatus{OrderStatusConfirmed}, to: OrderStatusProcessing},
	OrderEventShip:    {from: []OrderStatus{OrderStatusConfirmed, OrderStatusProcessing}, to: OrderStatusShipped},
	OrderEventDeliver: {from: []OrderStatus{OrderStatusShipped}, to: OrderStatusDelivered},
	OrderEventCancel:  {from: []OrderStatus{OrderStatusPending, OrderStatusConfirmed}, to: OrderStatusCancelled},
}

// from から ev で遷移した先を返す
func NextStatus(from OrderStatus, ev OrderEvent) (OrderStatus, bool) {
	t, ok := orderTransitions[ev]
	if !ok {
		return "", false
	}
	for _, s := range t.from {
		if s == from {
			return t.to, true
		}
	}
	return "", false
}

// 目標ステータスに対応するイベント（CANCELLED は専用の操作で扱う）
func EventForStatus(to OrderStatus) (OrderEvent, bool) {
	for ev, t := range orderTransitions {
		if t.to == to {
			return ev, true
		}
	}
	return "", false
}

type TransitionParams struct {
	ActorID int64
	Reason  string
	// 管理者メモ。空なら既存の値を残す
	Notes string
	At    time.Time
}

// Transition は遷移表を検査してから o を書き換える唯一の入口。
// 失敗時は o を変更しない。
func Transition(o *Order, ev OrderEvent, p TransitionParams) error {
	to, ok := NextStatus(o.Status, ev)
	if !ok {
		return &InvalidTransitionError{OrderID: o.ID, From: o.Status, Event: ev}
	}

	at := p.At.UTC()
	switch ev {
	case OrderEventConfirm:
		actor := p.ActorID
		o.ConfirmedAt = &at
		o.ConfirmedBy = &actor
	case OrderEventShip:
		o.ShippedAt = &at
	case OrderEventDeliver:
		o.DeliveredAt = &at
		// 代引きは配達時に支払い済み
		if o.PaymentMethod == PaymentMethodCOD && o.PaymentStatus == PaymentStatusPending {
			o.PaymentStatus = PaymentStatusPaid
		}
	case OrderEventCancel:
		reason := strings.TrimSpace(p.Reason)
		if reason == "" {
			return ErrCancelReasonRequired
		}
		actor := p.ActorID
		o.CancelledAt = &at
		o.CancelledBy = &actor
		o.CancelReason = reason
	}

	if notes := strings.TrimSpace(p.Notes); notes != "" {
		o.AdminNotes = notes
	}
	o.Status = to
	return nil
}

// 支払いステータスは注文ステータスと独立
func MarkPaid(o *Order) {
	o.PaymentStatus = PaymentStatusPaid
}

func MarkPaymentFailed(o *Order) {
	o.PaymentStatus = PaymentStatusFailed
}
