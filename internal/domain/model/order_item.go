package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// 注文時点の商品情報のスナップショット（後からカタログが変わっても不変）
type OrderItem struct {
	ID              int64           `gorm:"primaryKey;autoIncrement" json:"id"`
	OrderID         int64           `gorm:"not null;index" json:"order_id"`
	ProductID       int64           `gorm:"not null;index" json:"product_id"`
	VariantID       int64           `gorm:"not null;index" json:"variant_id"`
	ProductName     string          `gorm:"type:varchar(255);not null" json:"product_name"`
	VariantSKU      string          `gorm:"type:varchar(100);not null" json:"variant_sku"`
	VariantName     string          `gorm:"type:varchar(255);not null" json:"variant_name"`
	ProductImage    string          `gorm:"type:varchar(500)" json:"product_image"`
	ProductSnapshot string          `gorm:"type:text" json:"product_snapshot"`
	Price           decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"price"`
	Quantity        int64           `gorm:"not null" json:"quantity"`
	Subtotal        decimal.Decimal `gorm:"type:numeric(15,2);not null" json:"subtotal"`
	CreatedAt       time.Time       `gorm:"not null;autoCreateTime" json:"created_at"`
}
