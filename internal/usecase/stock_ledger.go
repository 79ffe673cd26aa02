package usecase

import (
	"context"
	"sort"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"go.uber.org/zap"
)

// 在庫台帳の読み書きはすべてここを通す。
// 行ロック → 変更 → 保存 を1Tx内で行う。
type stockLedger struct {
	inv repo.InventoryRepository
	log *zap.Logger
}

func newStockLedger(r repo.TxRepos, log *zap.Logger) stockLedger {
	return stockLedger{inv: r.Inventory(), log: log}
}

func (l stockLedger) lock(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	return l.inv.FindVariantForUpdate(ctx, variantID)
}

func (l stockLedger) save(ctx context.Context, v model.ProductVariant) error {
	return l.inv.SaveStock(ctx, v)
}

func (l stockLedger) update(ctx context.Context, variantID int64, apply func(v *model.ProductVariant) error) (model.ProductVariant, error) {
	v, err := l.lock(ctx, variantID)
	if err != nil {
		return model.ProductVariant{}, err
	}
	if err := apply(&v); err != nil {
		return v, err
	}
	if err := l.save(ctx, v); err != nil {
		return v, err
	}
	return v, nil
}

func (l stockLedger) reserve(ctx context.Context, variantID, qty int64) (model.ProductVariant, error) {
	return l.update(ctx, variantID, func(v *model.ProductVariant) error {
		return v.Reserve(qty)
	})
}

func (l stockLedger) release(ctx context.Context, variantID, qty int64) (model.ProductVariant, error) {
	return l.update(ctx, variantID, func(v *model.ProductVariant) error {
		l.releaseLocked(v, qty)
		return nil
	})
}

// ロック済みの v の引当を解除
func (l stockLedger) releaseLocked(v *model.ProductVariant, qty int64) {
	before := v.ReservedStock
	if v.ReleaseReserved(qty) {
		l.log.Debug("reserved stock clamped at zero",
			zap.Int64("variant_id", v.ID),
			zap.Int64("reserved_before", before),
			zap.Int64("release_qty", qty),
		)
	}
}

func (l stockLedger) decrease(ctx context.Context, variantID, qty int64) (model.ProductVariant, error) {
	return l.update(ctx, variantID, func(v *model.ProductVariant) error {
		return v.Decrease(qty)
	})
}

func (l stockLedger) increase(ctx context.Context, variantID, qty int64) (model.ProductVariant, error) {
	return l.update(ctx, variantID, func(v *model.ProductVariant) error {
		return v.Increase(qty)
	})
}

// デッドロック回避のため、複数バリアントはID昇順でロックする
func sortCartItemsByVariant(items []model.CartItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
}

func sortOrderItemsByVariant(items []model.OrderItem) {
	sort.SliceStable(items, func(i, j int) bool { return items[i].VariantID < items[j].VariantID })
}
