package model

import "github.com/shopspring/decimal"

// カートの明細
// 数量は常にバリアントの reserved_stock に同数だけ反映されている。
type CartItem struct {
	Base
	CartID     int64           `gorm:"not null;uniqueIndex:idx_cart_items_cart_variant,where:deleted_at IS NULL" json:"cart_id"`
	VariantID  int64           `gorm:"not null;index;uniqueIndex:idx_cart_items_cart_variant,where:deleted_at IS NULL" json:"variant_id"`
	Quantity   int64           `gorm:"not null" json:"quantity"`
	PriceAtAdd decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"price_at_add"`
}

func (i CartItem) LineTotal() decimal.Decimal {
	return i.PriceAtAdd.Mul(decimal.NewFromInt(i.Quantity))
}
