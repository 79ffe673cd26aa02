package usecase

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// stock=10: 7 は引当できて、続く 5 は在庫不足
func TestStockUsecase_Reserve_OutOfStock(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(10, "100")

	out, err := f.stock.Reserve(ctx, v.ID, 7)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.ReservedStock)
	assert.Equal(t, int64(3), out.AvailableStock)

	_, err = f.stock.Reserve(ctx, v.ID, 5)
	he := assertHTTPStatus(t, err, http.StatusConflict)
	assert.Equal(t, "out of stock", he.Message)
	assert.Equal(t, int64(3), he.Details["available"])
	assert.True(t, errors.Is(err, model.ErrOutOfStock))

	assert.Equal(t, int64(7), f.mustVariant(t, v.ID).ReservedStock)
	assert.Contains(t, f.pub.types(), event.TypeStockReservationFailed)
}

func TestStockUsecase_InvalidInput(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(10, "100")

	_, err := f.stock.Reserve(ctx, v.ID, 0)
	assertHTTPStatus(t, err, http.StatusBadRequest)

	_, err = f.stock.Increase(ctx, 0, 1)
	assertHTTPStatus(t, err, http.StatusBadRequest)

	_, err = f.stock.Reserve(ctx, 9999, 1)
	assertHTTPStatus(t, err, http.StatusNotFound)
}

// 合計が在庫を超える同時引当：成功数はちょうど満たせる最大数
func TestStockUsecase_ConcurrentReserve_NoOverReservation(t *testing.T) {
	tests := []struct {
		name    string
		stock   int64
		qty     int64
		callers int
		wantOK  int64
	}{
		{"unit", 10, 1, 25, 10},
		{"batches of 3", 10, 3, 12, 3},
		{"exact fit", 12, 4, 8, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			v := f.variant(tt.stock, "100")

			var ok, outOfStock atomic.Int64
			var wg sync.WaitGroup
			start := make(chan struct{})
			for i := 0; i < tt.callers; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					_, err := f.stock.Reserve(context.Background(), v.ID, tt.qty)
					if err == nil {
						ok.Add(1)
						return
					}
					if errors.Is(err, model.ErrOutOfStock) {
						outOfStock.Add(1)
					}
				}()
			}
			close(start)
			wg.Wait()

			assert.Equal(t, tt.wantOK, ok.Load())
			assert.Equal(t, int64(tt.callers)-tt.wantOK, outOfStock.Load())

			got := f.mustVariant(t, v.ID)
			assert.Equal(t, tt.wantOK*tt.qty, got.ReservedStock)
			assert.LessOrEqual(t, got.ReservedStock, got.Stock)
		})
	}
}

// 引当以上の解除は0で止まり、debugログが出る
func TestStockUsecase_Release_ClampLogsDebug(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	f := newFixtureWith(t, zap.New(core), nopLocker{})
	ctx := context.Background()
	v := f.variant(10, "100")

	_, err := f.stock.Reserve(ctx, v.ID, 2)
	require.NoError(t, err)

	out, err := f.stock.Release(ctx, v.ID, 5)
	require.NoError(t, err)
	assert.Equal(t, int64(0), out.ReservedStock)
	assert.Equal(t, int64(10), out.Stock)

	clamped := logs.FilterMessage("reserved stock clamped at zero").All()
	require.Len(t, clamped, 1)
	assert.Equal(t, zapcore.DebugLevel, clamped[0].Level)
}

func TestStockUsecase_DecreaseIncrease(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(5, "100")

	_, err := f.stock.Reserve(ctx, v.ID, 2)
	require.NoError(t, err)

	out, err := f.stock.Decrease(ctx, v.ID, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Stock)
	assert.Equal(t, int64(0), out.ReservedStock)

	_, err = f.stock.Decrease(ctx, v.ID, 4)
	assertHTTPStatus(t, err, http.StatusConflict)
	assert.Equal(t, int64(3), f.mustVariant(t, v.ID).Stock)

	out, err = f.stock.Increase(ctx, v.ID, 4)
	require.NoError(t, err)
	assert.Equal(t, int64(7), out.Stock)
}

func TestStockUsecase_Adjust(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(model.RoleAdmin)
	v := f.variant(10, "100")

	_, err := f.stock.Reserve(ctx, v.ID, 4)
	require.NoError(t, err)

	t.Run("below reserved", func(t *testing.T) {
		_, err := f.stock.Adjust(ctx, admin.ID, v.ID, AdjustStockInput{Stock: 3, Reason: "count"})
		he := assertHTTPStatus(t, err, http.StatusConflict)
		assert.Equal(t, int64(4), he.Details["reserved_stock"])
		assert.Equal(t, int64(10), f.mustVariant(t, v.ID).Stock)
	})

	t.Run("reason required", func(t *testing.T) {
		_, err := f.stock.Adjust(ctx, admin.ID, v.ID, AdjustStockInput{Stock: 20, Reason: " "})
		assertHTTPStatus(t, err, http.StatusBadRequest)
	})

	t.Run("ok", func(t *testing.T) {
		out, err := f.stock.Adjust(ctx, admin.ID, v.ID, AdjustStockInput{Stock: 6, Reason: "stocktake"})
		require.NoError(t, err)
		assert.Equal(t, int64(6), out.Stock)
		assert.Equal(t, int64(4), out.ReservedStock)
		assert.Equal(t, int64(2), out.AvailableStock)

		adjs := f.store.Adjustments()
		require.Len(t, adjs, 1)
		assert.Equal(t, int64(-4), adjs[0].Delta)
		assert.Equal(t, "stocktake", adjs[0].Reason)

		var stockLogs int
		for _, l := range f.store.AuditLogs() {
			if l.Action == model.AuditActionUpdateStock && l.ResourceID == v.ID {
				stockLogs++
			}
		}
		assert.Equal(t, 1, stockLogs)
	})

	t.Run("same value is a no-op", func(t *testing.T) {
		_, err := f.stock.Adjust(ctx, admin.ID, v.ID, AdjustStockInput{Stock: 6, Reason: "again"})
		require.NoError(t, err)
		assert.Len(t, f.store.Adjustments(), 1)
	})
}

// 在庫の操作履歴はバリアントごと、新しい順
func TestStockUsecase_History(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	admin := f.user(model.RoleAdmin)
	v := f.variant(10, "100")
	other := f.variant(10, "100")

	for _, n := range []int64{8, 5, 7} {
		_, err := f.stock.Adjust(ctx, admin.ID, v.ID, AdjustStockInput{Stock: n, Reason: "stocktake"})
		require.NoError(t, err)
	}
	_, err := f.stock.Adjust(ctx, admin.ID, other.ID, AdjustStockInput{Stock: 1, Reason: "damaged"})
	require.NoError(t, err)

	out, err := f.stock.History(ctx, v.ID, 1, 2)
	require.NoError(t, err)
	assert.Equal(t, int64(3), out.Total)
	require.Len(t, out.Items, 2)
	assert.JSONEq(t, `{"stock":7,"reserved_stock":0}`, out.Items[0].AfterJSON)
	assert.JSONEq(t, `{"stock":5,"reserved_stock":0}`, out.Items[1].AfterJSON)

	out, err = f.stock.History(ctx, v.ID, 2, 2)
	require.NoError(t, err)
	require.Len(t, out.Items, 1)
	assert.JSONEq(t, `{"stock":8,"reserved_stock":0}`, out.Items[0].AfterJSON)
	for _, l := range out.Items {
		assert.Equal(t, model.AuditResourceVariant, l.ResourceType)
		assert.Equal(t, v.ID, l.ResourceID)
	}

	_, err = f.stock.History(ctx, 0, 1, 2)
	assertHTTPStatus(t, err, http.StatusBadRequest)
	_, err = f.stock.History(ctx, v.ID, 1, 0)
	assertHTTPStatus(t, err, http.StatusBadRequest)
}
