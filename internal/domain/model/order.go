package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type OrderStatus string

const (
	OrderStatusPending    OrderStatus = "PENDING"
	OrderStatusConfirmed  OrderStatus = "CONFIRMED"
	OrderStatusProcessing OrderStatus = "PROCESSING"
	OrderStatusShipped    OrderStatus = "SHIPPED"
	OrderStatusDelivered  OrderStatus = "DELIVERED"
	OrderStatusCancelled  OrderStatus = "CANCELLED"
)

var AllOrderStatuses = []OrderStatus{
	OrderStatusPending,
	OrderStatusConfirmed,
	OrderStatusProcessing,
	OrderStatusShipped,
	OrderStatusDelivered,
	OrderStatusCancelled,
}

func ParseOrderStatus(s string) (OrderStatus, bool) {
	for _, st := range AllOrderStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

type PaymentStatus string

const (
	PaymentStatusPending  PaymentStatus = "PENDING"
	PaymentStatusPaid     PaymentStatus = "PAID"
	PaymentStatusFailed   PaymentStatus = "FAILED"
	PaymentStatusRefunded PaymentStatus = "REFUNDED"
)

type PaymentMethod string

const (
	PaymentMethodCOD          PaymentMethod = "COD"
	PaymentMethodBankTransfer PaymentMethod = "BANK_TRANSFER"
	PaymentMethodCreditCard   PaymentMethod = "CREDIT_CARD"
	PaymentMethodDebitCard    PaymentMethod = "DEBIT_CARD"
	PaymentMethodEWallet      PaymentMethod = "E_WALLET"
)

func (m PaymentMethod) Valid() bool {
	switch m {
	case PaymentMethodCOD, PaymentMethodBankTransfer, PaymentMethodCreditCard, PaymentMethodDebitCard, PaymentMethodEWallet:
		return true
	}
	return false
}

// 配送先・請求先
type ShippingInfo struct {
	Recipient string `gorm:"type:varchar(255)" json:"recipient"`
	Phone     string `gorm:"type:varchar(30)" json:"phone"`
	Address   string `gorm:"type:varchar(500)" json:"address"`
	City      string `gorm:"type:varchar(100)" json:"city"`
	District  string `gorm:"type:varchar(100)" json:"district"`
	Ward      string `gorm:"type:varchar(100)" json:"ward"`
}

type Order struct {
	Base
	OrderNumber   string        `gorm:"type:varchar(32);not null;uniqueIndex" json:"order_number"`
	UserID        int64         `gorm:"not null;index;uniqueIndex:idx_orders_user_idem" json:"user_id"`
	Status        OrderStatus   `gorm:"type:varchar(20);not null;index" json:"status"`
	PaymentStatus PaymentStatus `gorm:"type:varchar(20);not null;index" json:"payment_status"`
	PaymentMethod PaymentMethod `gorm:"type:varchar(20);not null" json:"payment_method"`

	Subtotal    decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"subtotal"`
	ShippingFee decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"shipping_fee"`
	Tax         decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"tax"`
	Discount    decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"discount"`
	TotalAmount decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"total_amount"`

	Shipping ShippingInfo `gorm:"embedded;embeddedPrefix:shipping_" json:"shipping"`
	Billing  ShippingInfo `gorm:"embedded;embeddedPrefix:billing_" json:"billing"`

	Notes      string `gorm:"type:text" json:"notes"`
	AdminNotes string `gorm:"type:text" json:"admin_notes"`

	// 同じキーなら同じ注文を返す（NULLは重複可）
	IdempotencyKey *string `gorm:"type:varchar(255);uniqueIndex:idx_orders_user_idem" json:"-"`

	ConfirmedAt  *time.Time `json:"confirmed_at,omitempty"`
	ConfirmedBy  *int64     `json:"confirmed_by,omitempty"`
	ShippedAt    *time.Time `json:"shipped_at,omitempty"`
	DeliveredAt  *time.Time `json:"delivered_at,omitempty"`
	CancelledAt  *time.Time `json:"cancelled_at,omitempty"`
	CancelledBy  *int64     `json:"cancelled_by,omitempty"`
	CancelReason string     `gorm:"type:varchar(500)" json:"cancel_reason,omitempty"`
}

// totalAmount = subtotal + shippingFee + tax − discount
func (o *Order) RecalculateTotal() {
	o.TotalAmount = o.Subtotal.Add(o.ShippingFee).Add(o.Tax).Sub(o.Discount)
}

func (o Order) IsTerminal() bool {
	return o.Status == OrderStatusDelivered || o.Status == OrderStatusCancelled
}
