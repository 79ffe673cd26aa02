package repository

import (
	"context"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"gorm.io/gorm"
)

type AuditLogGormRepository struct {
	db *gorm.DB
}

func NewAuditLogGormRepository(db *gorm.DB) *AuditLogGormRepository {
	return &AuditLogGormRepository{db: db}
}

func (r *AuditLogGormRepository) Create(ctx context.Context, log model.AuditLog) error {
	return r.db.WithContext(ctx).Create(&log).Error
}

func (r *AuditLogGormRepository) ListForOrder(ctx context.Context, orderID int64, p repo.AuditPage) ([]model.AuditLog, int64, error) {
	return r.listByResource(ctx, model.AuditResourceOrder, orderID, p)
}

func (r *AuditLogGormRepository) ListForVariant(ctx context.Context, variantID int64, p repo.AuditPage) ([]model.AuditLog, int64, error) {
	return r.listByResource(ctx, model.AuditResourceVariant, variantID, p)
}

func (r *AuditLogGormRepository) listByResource(ctx context.Context, rt model.AuditResourceType, id int64, p repo.AuditPage) ([]model.AuditLog, int64, error) {
	q := r.db.WithContext(ctx).
		Model(&model.AuditLog{}).
		Where("resource_type = ? AND resource_id = ?", rt, id)

	var total int64
	if err := q.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	logs := []model.AuditLog{}
	if err := q.Order("id DESC").
		Limit(p.Limit).
		Offset(p.Offset).
		Find(&logs).Error; err != nil {
		return nil, 0, err
	}
	return logs, total, nil
}
