package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

// 操作履歴の1ページ分。新しい順
type AuditPage struct {
	Limit  int
	Offset int
}

// 監査ログは追記のみ。読み出しは対象（注文・バリアント）ごとの履歴だけ
type AuditLogRepository interface {
	Create(ctx context.Context, log model.AuditLog) error

	// 注文の履歴と総件数
	ListForOrder(ctx context.Context, orderID int64, p AuditPage) ([]model.AuditLog, int64, error)
	// バリアント在庫の履歴と総件数
	ListForVariant(ctx context.Context, variantID int64, p AuditPage) ([]model.AuditLog, int64, error)
}
