package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

// カタログ参照（商品CRUDはこのサービスの外）
type ProductRepository interface {
	FindByID(ctx context.Context, id int64) (model.Product, error)

	// 購入数を加減算（0未満にはしない）
	AddPurchaseCount(ctx context.Context, productID int64, delta int64) error
}
