package memstore

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"github.com/shopspring/decimal"
)

type orderRepo struct{ t *tx }

func (r orderRepo) FindByID(ctx context.Context, orderID int64) (model.Order, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	o, ok := s.orders[orderID]
	if !ok || o.IsDeleted() {
		return model.Order{}, repo.ErrNotFound
	}
	return o, nil
}

func (r orderRepo) FindByIDForUpdate(ctx context.Context, orderID int64) (model.Order, error) {
	if err := r.t.lock(ctx, fmt.Sprintf("order:%d", orderID)); err != nil {
		return model.Order{}, err
	}
	return r.FindByID(ctx, orderID)
}

func (r orderRepo) FindByOrderNumber(ctx context.Context, orderNumber string) (model.Order, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.OrderNumber == orderNumber && !o.IsDeleted() {
			return o, nil
		}
	}
	return model.Order{}, repo.ErrNotFound
}

func (r orderRepo) ListByUserID(ctx context.Context, userID int64, page int, limit int) ([]model.Order, int64, error) {
	uid := userID
	return r.ListAdmin(ctx, repo.AdminOrderListFilter{Page: page, Limit: limit, UserID: &uid})
}

func (r orderRepo) Create(ctx context.Context, order model.Order) (int64, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.OrderNumber == order.OrderNumber {
			return 0, repo.ErrConflict
		}
		if order.IdempotencyKey != nil && o.IdempotencyKey != nil &&
			o.UserID == order.UserID && *o.IdempotencyKey == *order.IdempotencyKey {
			return 0, repo.ErrConflict
		}
	}

	order.ID = s.nextID()
	stamp(&order.Base, s.now())
	s.orders[order.ID] = order
	r.t.onRollback(func() { delete(s.orders, order.ID) })
	return order.ID, nil
}

func (r orderRepo) Save(ctx context.Context, order model.Order) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.orders[order.ID]
	if order.ID == 0 || !ok || cur.IsDeleted() {
		return repo.ErrNotFound
	}

	// 作成後に変わらない列は保持
	order.CreatedAt = cur.CreatedAt
	order.DeletedAt = cur.DeletedAt
	order.OrderNumber = cur.OrderNumber
	order.UserID = cur.UserID
	order.IdempotencyKey = cur.IdempotencyKey
	order.UpdatedAt = s.now()

	s.orders[order.ID] = order
	r.t.onRollback(func() { s.orders[cur.ID] = cur })
	return nil
}

func (r orderRepo) ExistsByOrderNumber(ctx context.Context, orderNumber string) (bool, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.OrderNumber == orderNumber {
			return true, nil
		}
	}
	return false, nil
}

func (r orderRepo) CountCreatedSince(ctx context.Context, since time.Time) (int64, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	for _, o := range s.orders {
		if !o.CreatedAt.Before(since) {
			n++
		}
	}
	return n, nil
}

func (r orderRepo) FindByIdempotencyKey(ctx context.Context, userID int64, key string) (model.Order, bool, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, o := range s.orders {
		if o.UserID == userID && o.IdempotencyKey != nil && *o.IdempotencyKey == key && !o.IsDeleted() {
			return o, true, nil
		}
	}
	return model.Order{}, false, nil
}

func (r orderRepo) ListAdmin(ctx context.Context, f repo.AdminOrderListFilter) ([]model.Order, int64, error) {
	if f.Page <= 0 {
		f.Page = 1
	}
	if f.Limit <= 0 || f.Limit > 100 {
		f.Limit = 50
	}
	kw := strings.ToLower(f.Keyword)

	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	matched := []model.Order{}
	for _, o := range s.orders {
		if o.IsDeleted() {
			continue
		}
		if f.Status != "" && string(o.Status) != f.Status {
			continue
		}
		if f.UserID != nil && o.UserID != *f.UserID {
			continue
		}
		if f.From != nil && o.CreatedAt.Before(*f.From) {
			continue
		}
		if f.To != nil && o.CreatedAt.After(*f.To) {
			continue
		}
		if kw != "" &&
			!strings.Contains(strings.ToLower(o.OrderNumber), kw) &&
			!strings.Contains(strings.ToLower(o.Shipping.Recipient), kw) {
			continue
		}
		matched = append(matched, o)
	}

	//新しい順
	sort.Slice(matched, func(i, j int) bool { return matched[i].ID > matched[j].ID })

	total := int64(len(matched))
	start := (f.Page - 1) * f.Limit
	if start >= len(matched) {
		return []model.Order{}, total, nil
	}
	end := start + f.Limit
	if end > len(matched) {
		end = len(matched)
	}
	return matched[start:end], total, nil
}

func (r orderRepo) Statistics(ctx context.Context, f repo.OrderStatisticsFilter) (repo.OrderStatistics, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	stats := repo.OrderStatistics{
		CountByStatus: make(map[model.OrderStatus]int64, len(model.AllOrderStatuses)),
		TotalRevenue:  decimal.Zero,
	}
	for _, st := range model.AllOrderStatuses {
		stats.CountByStatus[st] = 0
	}
	for _, o := range s.orders {
		if o.IsDeleted() {
			continue
		}
		if inPeriod(o.CreatedAt, f.From, f.To) {
			stats.TotalOrders++
			stats.CountByStatus[o.Status]++
		}
		if o.Status == model.OrderStatusDelivered && o.PaymentStatus == model.PaymentStatusPaid &&
			o.DeliveredAt != nil && inPeriod(*o.DeliveredAt, f.From, f.To) {
			stats.TotalRevenue = stats.TotalRevenue.Add(o.TotalAmount)
		}
	}
	return stats, nil
}

func inPeriod(at time.Time, from, to *time.Time) bool {
	if from != nil && at.Before(*from) {
		return false
	}
	if to != nil && at.After(*to) {
		return false
	}
	return true
}

type orderItemRepo struct{ t *tx }

func (r orderItemRepo) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if len(items) == 0 {
		return nil
	}

	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.orders[orderID]; !ok {
		return repo.ErrNotFound
	}

	now := s.now()
	ids := make([]int64, 0, len(items))
	for _, it := range items {
		it.ID = s.nextID()
		it.OrderID = orderID
		if it.CreatedAt.IsZero() {
			it.CreatedAt = now
		}
		s.orderItems[it.ID] = it
		ids = append(ids, it.ID)
	}
	r.t.onRollback(func() {
		for _, id := range ids {
			delete(s.orderItems, id)
		}
	})
	return nil
}

func (r orderItemRepo) ListByOrderID(ctx context.Context, orderID int64) ([]model.OrderItem, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	items := []model.OrderItem{}
	for _, it := range s.orderItems {
		if it.OrderID == orderID {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}
