package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	repo "marketplace/internal/repository"

	"go.uber.org/zap"
)

// StockUsecase はバリアント在庫台帳の操作窓口。
// カート・注文以外（運用・テスト）から在庫を触るときもここを通す。
type StockUsecase struct {
	tx  repo.TransactionManager
	pub event.Publisher
	log *zap.Logger
	now func() time.Time
}

func NewStockUsecase(tx repo.TransactionManager, pub event.Publisher, log *zap.Logger) *StockUsecase {
	return &StockUsecase{tx: tx, pub: pub, log: log.Named("stock"), now: time.Now}
}

type StockOutput struct {
	VariantID      int64  `json:"variant_id"`
	ProductID      int64  `json:"product_id"`
	SKU            string `json:"sku"`
	Stock          int64  `json:"stock"`
	ReservedStock  int64  `json:"reserved_stock"`
	AvailableStock int64  `json:"available_stock"`
	IsActive       bool   `json:"is_active"`
}

type AdjustStockInput struct {
	Stock  int64
	Reason string
}

func toStockOutput(v model.ProductVariant) StockOutput {
	return StockOutput{
		VariantID:      v.ID,
		ProductID:      v.ProductID,
		SKU:            v.SKU,
		Stock:          v.Stock,
		ReservedStock:  v.ReservedStock,
		AvailableStock: v.AvailableStock(),
		IsActive:       v.IsActive && !v.IsDeleted(),
	}
}

func (u *StockUsecase) Get(ctx context.Context, variantID int64) (StockOutput, error) {
	if variantID <= 0 {
		return StockOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out StockOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		v, err := r.Inventory().FindVariant(ctx, variantID)
		if err != nil {
			return err
		}
		out = toStockOutput(v)
		return nil
	})
	if err != nil {
		return StockOutput{}, toHTTPError(u.log, "stock.get", err)
	}
	return out, nil
}

// 在庫調整の履歴（監査ログ、新しい順）。削除済みバリアントの履歴も引ける
func (u *StockUsecase) History(ctx context.Context, variantID int64, page, limit int) (AuditHistoryOutput, error) {
	if variantID <= 0 {
		return AuditHistoryOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := auditPage(page, limit)
	if err != nil {
		return AuditHistoryOutput{}, err
	}

	out := AuditHistoryOutput{Page: page, Limit: limit}
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		var err error
		out.Items, out.Total, err = r.AuditLogs().ListForVariant(ctx, variantID, p)
		return err
	})
	if err != nil {
		return AuditHistoryOutput{}, toHTTPError(u.log, "stock.history", err)
	}
	return out, nil
}

func (u *StockUsecase) Reserve(ctx context.Context, variantID, qty int64) (StockOutput, error) {
	out, err := u.mutate(ctx, "stock.reserve", variantID, qty, func(l stockLedger) (model.ProductVariant, error) {
		return l.reserve(ctx, variantID, qty)
	})
	var stockErr *model.InsufficientStockError
	if errors.As(err, &stockErr) {
		u.log.Warn("reservation failed",
			zap.Int64("variant_id", variantID),
			zap.Int64("requested", stockErr.Requested),
			zap.Int64("available", stockErr.Available),
		)
		publish(ctx, u.pub, u.log, strconv.FormatInt(variantID, 10), event.TypeStockReservationFailed, event.StockReservationFailedPayload{
			VariantID: variantID,
			Requested: stockErr.Requested,
			Available: stockErr.Available,
		})
	}
	return out, err
}

func (u *StockUsecase) Release(ctx context.Context, variantID, qty int64) (StockOutput, error) {
	return u.mutate(ctx, "stock.release", variantID, qty, func(l stockLedger) (model.ProductVariant, error) {
		return l.release(ctx, variantID, qty)
	})
}

func (u *StockUsecase) Decrease(ctx context.Context, variantID, qty int64) (StockOutput, error) {
	return u.mutate(ctx, "stock.decrease", variantID, qty, func(l stockLedger) (model.ProductVariant, error) {
		return l.decrease(ctx, variantID, qty)
	})
}

func (u *StockUsecase) Increase(ctx context.Context, variantID, qty int64) (StockOutput, error) {
	return u.mutate(ctx, "stock.increase", variantID, qty, func(l stockLedger) (model.ProductVariant, error) {
		return l.increase(ctx, variantID, qty)
	})
}

func (u *StockUsecase) mutate(ctx context.Context, op string, variantID, qty int64, fn func(l stockLedger) (model.ProductVariant, error)) (StockOutput, error) {
	if variantID <= 0 {
		return StockOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if qty <= 0 {
		return StockOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	var out StockOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		v, err := fn(newStockLedger(r, u.log))
		if err != nil {
			return err
		}
		out = toStockOutput(v)
		return nil
	})
	if err != nil {
		return StockOutput{}, toHTTPError(u.log, op, err)
	}
	return out, nil
}

// 棚卸しなどで在庫数を直接合わせる（管理者のみ）
func (u *StockUsecase) Adjust(ctx context.Context, actorUserID int64, variantID int64, in AdjustStockInput) (StockOutput, error) {
	if actorUserID <= 0 {
		return StockOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if variantID <= 0 {
		return StockOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if in.Stock < 0 {
		return StockOutput{}, NewHTTPError(http.StatusBadRequest, "invalid stock")
	}
	reason := strings.TrimSpace(in.Reason)
	if reason == "" {
		return StockOutput{}, NewHTTPError(http.StatusBadRequest, "reason is required")
	}

	var out StockOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		l := newStockLedger(r, u.log)
		v, err := l.lock(ctx, variantID)
		if err != nil {
			return err
		}
		if v.IsDeleted() {
			return notFound("variant")
		}

		//引当中の数量を下回る在庫にはできない
		if in.Stock < v.ReservedStock {
			return &HTTPError{
				Status:  http.StatusConflict,
				Message: "stock below reserved quantity",
				Details: map[string]interface{}{
					"variant_id":     v.ID,
					"reserved_stock": v.ReservedStock,
					"requested":      in.Stock,
				},
			}
		}

		before := v.Stock
		if before == in.Stock {
			out = toStockOutput(v)
			return nil
		}
		v.Stock = in.Stock
		if err := l.save(ctx, v); err != nil {
			return err
		}

		now := u.now()
		if err := r.Inventory().CreateAdjustment(ctx, model.InventoryAdjustment{
			VariantID:   v.ID,
			ActorUserID: actorUserID,
			Delta:       in.Stock - before,
			Reason:      reason,
			CreatedAt:   now,
		}); err != nil {
			return err
		}

		// ★監査ログ（UPDATE_STOCK）
		if err := r.AuditLogs().Create(ctx, model.AuditLog{
			ActorUserID:  actorUserID,
			Action:       model.AuditActionUpdateStock,
			ResourceType: model.AuditResourceVariant,
			ResourceID:   v.ID,
			BeforeJSON:   toJSON(map[string]int64{"stock": before, "reserved_stock": v.ReservedStock}),
			AfterJSON:    toJSON(map[string]int64{"stock": v.Stock, "reserved_stock": v.ReservedStock}),
			CreatedAt:    now,
		}); err != nil {
			return err
		}

		out = toStockOutput(v)
		return nil
	})
	if err != nil {
		return StockOutput{}, toHTTPError(u.log, "stock.adjust", err)
	}

	u.log.Info("stock adjusted",
		zap.Int64("variant_id", variantID),
		zap.Int64("actor_user_id", actorUserID),
		zap.Int64("stock", out.Stock),
	)
	return out, nil
}
