package model

import (
	"github.com/shopspring/decimal"
)

// ProductVariant は販売単位ごとの在庫台帳。
// stock / reserved_stock は下のメソッド経由でのみ変更する。
type ProductVariant struct {
	Base
	ProductID     int64            `gorm:"not null;index" json:"product_id"`
	SKU           string           `gorm:"type:varchar(100);not null;uniqueIndex" json:"sku"`
	Name          string           `gorm:"type:varchar(255);not null" json:"name"`
	Price         *decimal.Decimal `gorm:"type:numeric(15,2)" json:"price,omitempty"`
	Stock         int64            `gorm:"not null;default:0;check:chk_variant_stock,stock >= 0" json:"stock"`
	ReservedStock int64            `gorm:"not null;default:0;check:chk_variant_reserved,reserved_stock >= 0 AND reserved_stock <= stock" json:"reserved_stock"`
	IsActive      bool             `gorm:"not null;default:true" json:"is_active"`

	Product *Product `gorm:"foreignKey:ProductID" json:"product,omitempty"`
}

func (v *ProductVariant) AvailableStock() int64 {
	return v.Stock - v.ReservedStock
}

func (v *ProductVariant) CanReserve(qty int64) bool {
	return v.AvailableStock() >= qty
}

// カート用に引当
func (v *ProductVariant) Reserve(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if !v.CanReserve(qty) {
		return &InsufficientStockError{VariantID: v.ID, Requested: qty, Available: v.AvailableStock()}
	}
	v.ReservedStock += qty
	return nil
}

// 引当解除。0未満にはしない（丸めたら true）
func (v *ProductVariant) ReleaseReserved(qty int64) bool {
	if qty <= 0 {
		return false
	}
	if v.ReservedStock < qty {
		v.ReservedStock = 0
		return true
	}
	v.ReservedStock -= qty
	return false
}

// 販売確定：在庫を減らし、同数の引当も消す
func (v *ProductVariant) Decrease(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	if v.Stock < qty {
		return &InsufficientStockError{VariantID: v.ID, Requested: qty, Available: v.Stock}
	}
	v.Stock -= qty
	v.ReservedStock -= qty
	if v.ReservedStock < 0 {
		v.ReservedStock = 0
	}
	return nil
}

// 在庫戻し（キャンセル時）
func (v *ProductVariant) Increase(qty int64) error {
	if qty <= 0 {
		return ErrInvalidQuantity
	}
	v.Stock += qty
	return nil
}

// バリアント価格が無ければ商品の基本価格
func (v *ProductVariant) EffectivePrice() decimal.Decimal {
	if v.Price != nil {
		return *v.Price
	}
	if v.Product != nil {
		return v.Product.BasePrice
	}
	return decimal.Zero
}

// バリアント自身と商品の両方が購入可能か
func (v *ProductVariant) IsPurchasable() bool {
	if !v.IsActive || v.IsDeleted() {
		return false
	}
	return v.Product != nil && v.Product.IsPurchasable()
}

// このカート明細が確保している分を差し引かずに見た引当可能数
func (v *ProductVariant) AvailableFor(heldQty int64) int64 {
	own := heldQty
	if own > v.ReservedStock {
		own = v.ReservedStock
	}
	if own < 0 {
		own = 0
	}
	return v.AvailableStock() + own
}
