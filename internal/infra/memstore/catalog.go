package memstore

import (
	"context"
	"fmt"
	"sort"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"
)

type inventoryRepo struct{ t *tx }

func (r inventoryRepo) FindVariant(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantID]
	if !ok || v.IsDeleted() {
		return model.ProductVariant{}, repo.ErrNotFound
	}
	if p, ok := s.products[v.ProductID]; ok && !p.IsDeleted() {
		v.Product = &p
	}
	return v, nil
}

func (r inventoryRepo) FindVariantForUpdate(ctx context.Context, variantID int64) (model.ProductVariant, error) {
	if err := r.t.lock(ctx, fmt.Sprintf("variant:%d", variantID)); err != nil {
		return model.ProductVariant{}, err
	}

	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	v, ok := s.variants[variantID]
	if !ok {
		return model.ProductVariant{}, repo.ErrNotFound
	}
	if p, ok := s.products[v.ProductID]; ok {
		v.Product = &p
	}
	return v, nil
}

func (r inventoryRepo) SaveStock(ctx context.Context, v model.ProductVariant) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.variants[v.ID]
	if !ok {
		return repo.ErrNotFound
	}
	// DBのCHECK制約と同じ条件
	if v.Stock < 0 || v.ReservedStock < 0 || v.ReservedStock > v.Stock {
		return fmt.Errorf("variant %d: check constraint violated (stock=%d reserved=%d)", v.ID, v.Stock, v.ReservedStock)
	}

	prevStock, prevReserved := cur.Stock, cur.ReservedStock
	cur.Stock = v.Stock
	cur.ReservedStock = v.ReservedStock
	cur.UpdatedAt = s.now()
	s.variants[v.ID] = cur

	r.t.onRollback(func() {
		back := s.variants[v.ID]
		back.Stock = prevStock
		back.ReservedStock = prevReserved
		s.variants[v.ID] = back
	})
	return nil
}

func (r inventoryRepo) CreateAdjustment(ctx context.Context, adj model.InventoryAdjustment) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	adj.ID = s.nextID()
	if adj.CreatedAt.IsZero() {
		adj.CreatedAt = s.now()
	}
	s.adjustments[adj.ID] = adj
	r.t.onRollback(func() { delete(s.adjustments, adj.ID) })
	return nil
}

// 調整履歴（テスト用）
func (s *Store) Adjustments() []model.InventoryAdjustment {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]model.InventoryAdjustment, 0, len(s.adjustments))
	for _, a := range s.adjustments {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

type productRepo struct{ t *tx }

func (r productRepo) FindByID(ctx context.Context, id int64) (model.Product, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[id]
	if !ok || p.IsDeleted() {
		return model.Product{}, repo.ErrNotFound
	}
	return p, nil
}

func (r productRepo) AddPurchaseCount(ctx context.Context, productID int64, delta int64) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	p, ok := s.products[productID]
	if !ok {
		return repo.ErrNotFound
	}
	before := p.PurchaseCount
	p.PurchaseCount += delta
	if p.PurchaseCount < 0 {
		p.PurchaseCount = 0
	}
	applied := p.PurchaseCount - before
	s.products[productID] = p

	// 他Txの加算を潰さないよう差分で戻す
	r.t.onRollback(func() {
		back := s.products[productID]
		back.PurchaseCount -= applied
		if back.PurchaseCount < 0 {
			back.PurchaseCount = 0
		}
		s.products[productID] = back
	})
	return nil
}

type userRepo struct{ t *tx }

func (r userRepo) FindByID(ctx context.Context, id int64) (*model.User, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	u, ok := s.users[id]
	if !ok {
		return nil, nil
	}
	return &u, nil
}

// Store 自体もミドルウェア用の UserRepository として使える
func (s *Store) FindByID(ctx context.Context, id int64) (*model.User, error) {
	return userRepo{t: &tx{s: s}}.FindByID(ctx, id)
}

type addressRepo struct{ t *tx }

func (r addressRepo) FindByID(ctx context.Context, addressID int64) (model.Address, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	a, ok := s.addresses[addressID]
	if !ok {
		return model.Address{}, repo.ErrNotFound
	}
	return a, nil
}

func (r addressRepo) FindDefaultByUserID(ctx context.Context, userID int64) (model.Address, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	var found *model.Address
	for _, a := range s.addresses {
		if a.UserID != userID || !a.IsDefault {
			continue
		}
		if found == nil || a.ID < found.ID {
			cp := a
			found = &cp
		}
	}
	if found == nil {
		return model.Address{}, repo.ErrNotFound
	}
	return *found, nil
}
