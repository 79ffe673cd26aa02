package repository

import (
	"context"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

type InventoryGormRepository struct {
	db *gorm.DB
}

func NewInventoryGormRepository(db *gorm.DB) *InventoryGormRepository {
	return &InventoryGormRepository{db: db}
}

func (r *InventoryGormRepository) FindVariant(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	var v model.ProductVariant
	err := r.db.WithContext(ctx).
		Preload("Product").
		Where("id = ?", variantID).
		First(&v).Error
	if err != nil {
		return model.ProductVariant{}, translateError(err)
	}
	return v, nil
}

// SELECT ... FOR UPDATE。Txが終わるまで他の更新を待たせる
func (r *InventoryGormRepository) FindVariantForUpdate(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	var v model.ProductVariant
	err := r.db.WithContext(ctx).
		Unscoped().
		Clauses(clause.Locking{Strength: "UPDATE"}).
		Where("id = ?", variantID).
		First(&v).Error
	if err != nil {
		return model.ProductVariant{}, translateError(err)
	}

	//商品は論理削除済みでも読む（購入可否の判定に使う）
	var p model.Product
	err = r.db.WithContext(ctx).
		Unscoped().
		Where("id = ?", v.ProductID).
		First(&p).Error
	if err == nil {
		v.Product = &p
	} else if !isNotFound(err) {
		return model.ProductVariant{}, err
	}
	return v, nil
}

// stock / reserved_stock だけ更新
func (r *InventoryGormRepository) SaveStock(ctx context.Context, v model.ProductVariant) error {
	res := r.db.WithContext(ctx).
		Unscoped().
		Model(&model.ProductVariant{}).
		Where("id = ?", v.ID).
		Updates(map[string]interface{}{
			"stock":          v.Stock,
			"reserved_stock": v.ReservedStock,
		})

	if res.Error != nil {
		return res.Error
	}
	if res.RowsAffected == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// 調整履歴作成
func (r *InventoryGormRepository) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	if err := r.db.WithContext(ctx).Create(&adj).Error; err != nil {
		return err
	}
	return nil
}
