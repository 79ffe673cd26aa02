package model

import (
	"github.com/shopspring/decimal"
)

type ProductStatus string

const (
	ProductStatusPending  ProductStatus = "PENDING"
	ProductStatusApproved ProductStatus = "APPROVED"
	ProductStatusRejected ProductStatus = "REJECTED"
)

type Product struct {
	Base
	Name          string          `gorm:"type:varchar(255);not null" json:"name"`
	Description   string          `gorm:"type:text" json:"description"`
	ImageURL      string          `gorm:"type:varchar(500)" json:"image_url"`
	BasePrice     decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"base_price"`
	Status        ProductStatus   `gorm:"type:varchar(20);not null;default:'PENDING';index" json:"status"`
	IsActive      bool            `gorm:"not null;default:false" json:"is_active"`
	PurchaseCount int64           `gorm:"not null;default:0" json:"purchase_count"`
}

// 購入可能（公開中・承認済み・未削除）
func (p Product) IsPurchasable() bool {
	return p.IsActive && p.Status == ProductStatusApproved && !p.IsDeleted()
}
