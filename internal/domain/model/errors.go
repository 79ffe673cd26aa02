package model

import (
	"errors"
	"fmt"
)

var (
	// 在庫不足（InsufficientStockError がこれに一致する）
	ErrOutOfStock = errors.New("out of stock")

	// 遷移表に無い状態遷移
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// 数量は1以上
	ErrInvalidQuantity = errors.New("quantity must be positive")

	// キャンセル理由が空
	ErrCancelReasonRequired = errors.New("cancel reason is required")
)

// InsufficientStockError は要求数と引当可能数を持つ在庫不足エラー。
type InsufficientStockError struct {
	VariantID int64
	Requested int64
	Available int64
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for variant %d: requested %d, available %d", e.VariantID, e.Requested, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool {
	return target == ErrOutOfStock
}

// InvalidTransitionError は許可されない遷移を表す。
type InvalidTransitionError struct {
	OrderID int64
	From    OrderStatus
	Event   OrderEvent
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("order %d: cannot %s from %s", e.OrderID, e.Event, e.From)
}

func (e *InvalidTransitionError) Is(target error) bool {
	return target == ErrInvalidStateTransition
}
