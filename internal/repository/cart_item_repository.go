package repository

import (
	"context"

	"marketplace/internal/domain/model"

	"github.com/shopspring/decimal"
)

type CartItemRepository interface {
	ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error)
	FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error)
	FindByCartAndVariant(ctx context.Context, cartID int64, variantID int64) (model.CartItem, error)
	Create(ctx context.Context, item model.CartItem) (model.CartItem, error)
	UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error
	UpdatePrice(ctx context.Context, cartItemID int64, price decimal.Decimal) error
	DeleteByID(ctx context.Context, cartItemID int64) error

	// 明細を全削除（引当の解放はしない）
	DeleteByCartID(ctx context.Context, cartID int64) error
}
