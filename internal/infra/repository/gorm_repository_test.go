package repository_test

import (
	"context"
	"regexp"
	"testing"
	"time"

	"marketplace/internal/domain/model"
	infraRepo "marketplace/internal/infra/repository"
	repo "marketplace/internal/repository"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

func setupMockDB(t *testing.T) (*gorm.DB, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	gormDB, err := gorm.Open(postgres.New(postgres.Config{Conn: db}), &gorm.Config{})
	require.NoError(t, err)
	return gormDB, mock
}

func TestInventory_SaveStock_Success(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	r := infraRepo.NewInventoryGormRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product_variants" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	v := model.ProductVariant{Stock: 10, ReservedStock: 3}
	v.ID = 5
	err := r.SaveStock(context.Background(), v)
	assert.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestInventory_SaveStock_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	r := infraRepo.NewInventoryGormRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta(`UPDATE "product_variants" SET`)).
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	v := model.ProductVariant{Stock: 1}
	v.ID = 404
	err := r.SaveStock(context.Background(), v)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestInventory_FindVariant_NotFound(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	r := infraRepo.NewInventoryGormRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "product_variants"`)).
		WillReturnRows(sqlmock.NewRows([]string{"id"}))

	_, err := r.FindVariant(context.Background(), 99)
	assert.ErrorIs(t, err, repo.ErrNotFound)
}

func TestOrder_Create_DuplicateNumber(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	r := infraRepo.NewOrderGormRepository(gormDB)

	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta(`INSERT INTO "orders"`)).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "idx_orders_order_number"})
	mock.ExpectRollback()

	_, err := r.Create(context.Background(), model.Order{
		OrderNumber: "ORD-20260101-00001",
		UserID:      1,
		Status:      model.OrderStatusPending,
		Subtotal:    decimal.NewFromInt(100),
		TotalAmount: decimal.NewFromInt(100),
	})
	assert.ErrorIs(t, err, repo.ErrConflict)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestOrder_FindByOrderNumber(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	r := infraRepo.NewOrderGormRepository(gormDB)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "order_number", "user_id", "status", "payment_status", "created_at", "updated_at"}).
		AddRow(12, "ORD-20260101-00001", 3, "SHIPPED", "PENDING", now, now)
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT * FROM "orders"`)).
		WillReturnRows(rows)

	o, err := r.FindByOrderNumber(context.Background(), "ORD-20260101-00001")
	require.NoError(t, err)
	assert.Equal(t, int64(12), o.ID)
	assert.Equal(t, model.OrderStatusShipped, o.Status)
	assert.Equal(t, model.PaymentStatusPending, o.PaymentStatus)
}

func TestAuditLog_ListForOrder_CountThenPage(t *testing.T) {
	gormDB, mock := setupMockDB(t)
	r := infraRepo.NewAuditLogGormRepository(gormDB)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT count(*) FROM "audit_logs" WHERE resource_type = $1 AND resource_id = $2`)).
		WithArgs(string(model.AuditResourceOrder), int64(7)).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "actor_user_id", "action", "resource_type", "resource_id", "created_at"}).
		AddRow(1, 2, "UPDATE_ORDER_STATUS", "order", 7, now)
	mock.ExpectQuery(`SELECT \* FROM "audit_logs" WHERE resource_type = \$1 AND resource_id = \$2 ORDER BY id DESC LIMIT .* OFFSET`).
		WillReturnRows(rows)

	logs, total, err := r.ListForOrder(context.Background(), 7, repo.AuditPage{Limit: 2, Offset: 2})
	require.NoError(t, err)
	assert.Equal(t, int64(3), total)
	require.Len(t, logs, 1)
	assert.Equal(t, model.AuditResourceOrder, logs[0].ResourceType)
	assert.NoError(t, mock.ExpectationsWereMet())
}
