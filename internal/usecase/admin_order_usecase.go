package usecase

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	repo "marketplace/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

type AdminOrderUsecase struct {
	tx   repo.TransactionManager
	life *orderLifecycle
	log  *zap.Logger
}

func NewAdminOrderUsecase(tx repo.TransactionManager, pub event.Publisher, log *zap.Logger) *AdminOrderUsecase {
	log = log.Named("admin_order")
	return &AdminOrderUsecase{
		tx:   tx,
		life: &orderLifecycle{tx: tx, pub: pub, log: log, now: time.Now},
		log:  log,
	}
}

type AdminUpdateOrderStatusInput struct {
	Status string
	Notes  string
}

type OrderStatisticsOutput struct {
	TotalOrders   int64            `json:"total_orders"`
	CountByStatus map[string]int64 `json:"count_by_status"`
	TotalRevenue  decimal.Decimal  `json:"total_revenue"`
}

// 注文一覧
func (u *AdminOrderUsecase) List(ctx context.Context, f repo.AdminOrderListFilter) (OrderListOutput, error) {
	// page/limitの最低限チェック
	if f.Page < 1 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid page")
	}
	if f.Limit < 1 || f.Limit > 100 {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid limit")
	}
	if f.Status != "" {
		if _, ok := model.ParseOrderStatus(f.Status); !ok {
			return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
		}
	}
	if f.From != nil && f.To != nil && f.From.After(*f.To) {
		return OrderListOutput{}, NewHTTPError(http.StatusBadRequest, "invalid period")
	}
	f.Keyword = strings.TrimSpace(f.Keyword)

	out := OrderListOutput{Page: f.Page, Limit: f.Limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListAdmin(ctx, f)
		if err != nil {
			return err
		}

		out.Total = total
		out.Items = make([]OrderOutput, 0, len(orders))
		for _, o := range orders {
			oo, err := loadOrderOutput(ctx, r, o)
			if err != nil {
				return err
			}
			out.Items = append(out.Items, oo)
		}
		return nil
	})
	if err != nil {
		return OrderListOutput{}, toHTTPError(u.log, "admin_order.list", err)
	}
	return out, nil
}

func (u *AdminOrderUsecase) Get(ctx context.Context, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := r.Orders().FindByID(ctx, orderID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order")
		}
		if err != nil {
			return err
		}
		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	if err != nil {
		return OrderOutput{}, toHTTPError(u.log, "admin_order.get", err)
	}
	return out, nil
}

// ステータス別件数と売上（配達済みかつ支払い済み）。from/to は省略可
func (u *AdminOrderUsecase) Statistics(ctx context.Context, from, to *time.Time) (OrderStatisticsOutput, error) {
	if from != nil && to != nil && from.After(*to) {
		return OrderStatisticsOutput{}, NewHTTPError(http.StatusBadRequest, "invalid period")
	}

	var out OrderStatisticsOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		st, err := r.Orders().Statistics(ctx, repo.OrderStatisticsFilter{From: from, To: to})
		if err != nil {
			return err
		}
		out = OrderStatisticsOutput{
			TotalOrders:   st.TotalOrders,
			CountByStatus: make(map[string]int64, len(st.CountByStatus)),
			TotalRevenue:  st.TotalRevenue,
		}
		for s, n := range st.CountByStatus {
			out.CountByStatus[string(s)] = n
		}
		return nil
	})
	if err != nil {
		return OrderStatisticsOutput{}, toHTTPError(u.log, "admin_order.statistics", err)
	}
	return out, nil
}

// 注文に対する操作履歴（監査ログ、新しい順）
func (u *AdminOrderUsecase) History(ctx context.Context, orderID int64, page, limit int) (AuditHistoryOutput, error) {
	if orderID <= 0 {
		return AuditHistoryOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	p, err := auditPage(page, limit)
	if err != nil {
		return AuditHistoryOutput{}, err
	}

	out := AuditHistoryOutput{Page: page, Limit: limit}
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		if _, err := r.Orders().FindByID(ctx, orderID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return notFound("order")
			}
			return err
		}
		var err error
		out.Items, out.Total, err = r.AuditLogs().ListForOrder(ctx, orderID, p)
		return err
	})
	if err != nil {
		return AuditHistoryOutput{}, toHTTPError(u.log, "admin_order.history", err)
	}
	return out, nil
}

// UpdateStatus は目標ステータスから遷移イベントを決めて進める。
// キャンセルは理由と在庫戻しを伴うので専用の Cancel を使う。
func (u *AdminOrderUsecase) UpdateStatus(ctx context.Context, actorUserID int64, orderID int64, in AdminUpdateOrderStatusInput) (OrderOutput, error) {
	if actorUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	to, ok := model.ParseOrderStatus(strings.ToUpper(strings.TrimSpace(in.Status)))
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}
	if to == model.OrderStatusCancelled {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "use cancel endpoint")
	}
	ev, ok := model.EventForStatus(to)
	if !ok {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid status")
	}

	return u.life.transition(ctx, orderTarget{id: orderID}, ev, model.TransitionParams{
		ActorID: actorUserID,
		Notes:   in.Notes,
	})
}

func (u *AdminOrderUsecase) Confirm(ctx context.Context, actorUserID, orderID int64) (OrderOutput, error) {
	return u.apply(ctx, actorUserID, orderID, model.OrderEventConfirm, "")
}

func (u *AdminOrderUsecase) Process(ctx context.Context, actorUserID, orderID int64) (OrderOutput, error) {
	return u.apply(ctx, actorUserID, orderID, model.OrderEventProcess, "")
}

func (u *AdminOrderUsecase) Ship(ctx context.Context, actorUserID, orderID int64) (OrderOutput, error) {
	return u.apply(ctx, actorUserID, orderID, model.OrderEventShip, "")
}

func (u *AdminOrderUsecase) Deliver(ctx context.Context, actorUserID, orderID int64) (OrderOutput, error) {
	return u.apply(ctx, actorUserID, orderID, model.OrderEventDeliver, "")
}

// キャンセル（在庫戻し）
func (u *AdminOrderUsecase) Cancel(ctx context.Context, actorUserID, orderID int64, reason string) (OrderOutput, error) {
	return u.apply(ctx, actorUserID, orderID, model.OrderEventCancel, reason)
}

func (u *AdminOrderUsecase) apply(ctx context.Context, actorUserID, orderID int64, ev model.OrderEvent, reason string) (OrderOutput, error) {
	if actorUserID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.life.transition(ctx, orderTarget{id: orderID}, ev, model.TransitionParams{
		ActorID: actorUserID,
		Reason:  reason,
	})
}

// 支払い済み。actorUserID=0 は決済連携（システム）
func (u *AdminOrderUsecase) MarkPaid(ctx context.Context, actorUserID, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.life.setPayment(ctx, orderTarget{id: orderID}, actorUserID, model.PaymentStatusPaid)
}

func (u *AdminOrderUsecase) MarkFailed(ctx context.Context, actorUserID, orderID int64) (OrderOutput, error) {
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.life.setPayment(ctx, orderTarget{id: orderID}, actorUserID, model.PaymentStatusFailed)
}

// 決済サービスからの結果（注文番号で届く）
func (u *AdminOrderUsecase) MarkPaidByNumber(ctx context.Context, orderNumber string) (OrderOutput, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order number")
	}
	return u.life.setPayment(ctx, orderTarget{number: orderNumber}, 0, model.PaymentStatusPaid)
}

func (u *AdminOrderUsecase) MarkFailedByNumber(ctx context.Context, orderNumber string) (OrderOutput, error) {
	if strings.TrimSpace(orderNumber) == "" {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order number")
	}
	return u.life.setPayment(ctx, orderTarget{number: orderNumber}, 0, model.PaymentStatusFailed)
}

// 期間パラメータ（RFC3339 か YYYY-MM-DD）
func ParseDateTime(s string) (*time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, true
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return &t, true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return &t, true
	}
	return nil, false
}
