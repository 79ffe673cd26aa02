package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

// バリアント在庫台帳の永続化。
// 在庫の変更は FindVariantForUpdate でロックしてから SaveStock する。
type InventoryRepository interface {
	// Product 付きで取得
	FindVariant(ctx context.Context, variantID int64) (model.ProductVariant, error)

	// 行ロックを取って取得（論理削除済みも返す）
	FindVariantForUpdate(ctx context.Context, variantID int64) (model.ProductVariant, error)

	// stock / reserved_stock だけを保存
	SaveStock(ctx context.Context, v model.ProductVariant) error

	// 調整履歴作成
	CreateAdjustment(ctx context.Context, adjustment model.InventoryAdjustment) error
}
