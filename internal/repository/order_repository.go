package repository

import (
	"context"
	"time"

	"marketplace/internal/domain/model"

	"github.com/shopspring/decimal"
)

type AdminOrderListFilter struct {
	Page    int
	Limit   int
	Status  string
	UserID  *int64
	From    *time.Time
	To      *time.Time
	Keyword string // 注文番号・宛名
}

// 期間指定（どちらも nil 可）。件数は created_at、売上は delivered_at で絞る
type OrderStatisticsFilter struct {
	From *time.Time
	To   *time.Time
}

type OrderStatistics struct {
	TotalOrders   int64
	CountByStatus map[model.OrderStatus]int64
	// DELIVERED かつ PAID の合計
	TotalRevenue decimal.Decimal
}

type OrderRepository interface {
	FindByID(ctx context.Context, orderID int64) (model.Order, error)
	// 行ロックを取って取得
	FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error)
	FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error)
	ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error)

	// 一意制約違反は ErrConflict
	Create(ctx context.Context, order model.Order) (int64, error)
	Save(ctx context.Context, order model.Order) error

	ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error)
	CountCreatedSince(ctx context.Context, since time.Time) (int64, error)

	//検索（同じキーなら同じ結果を返す）
	FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error)
	//管理者用の注文一覧
	ListAdmin(ctx context.Context, f AdminOrderListFilter) ([]model.Order, int64, error)
	Statistics(ctx context.Context, f OrderStatisticsFilter) (OrderStatistics, error)
}
