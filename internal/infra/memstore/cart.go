package memstore

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"

	"github.com/shopspring/decimal"
)

// Cart と CartItem の両方を扱う
type cartRepo struct{ t *tx }

func (r cartRepo) GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	// ユーザー単位でロック（同時作成もここで直列化される）
	if err := r.t.lock(ctx, fmt.Sprintf("cart-user:%d", userID)); err != nil {
		return model.Cart{}, err
	}

	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.activeCartLocked(userID); ok {
		return c, nil
	}

	c := model.Cart{UserID: userID, Status: model.CartStatusActive}
	c.ID = s.nextID()
	stamp(&c.Base, s.now())
	s.carts[c.ID] = c
	r.t.onRollback(func() { delete(s.carts, c.ID) })
	return c, nil
}

func (r cartRepo) FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.activeCartLocked(userID); ok {
		return c, nil
	}
	return model.Cart{}, repo.ErrNotFound
}

func (s *Store) activeCartLocked(userID int64) (model.Cart, bool) {
	var found model.Cart
	ok := false
	for _, c := range s.carts {
		if c.UserID != userID || !c.IsOpen() {
			continue
		}
		if !ok || c.ID > found.ID {
			found, ok = c, true
		}
	}
	return found, ok
}

func (r cartRepo) UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.carts[cartID]
	if !ok || c.IsDeleted() {
		return repo.ErrNotFound
	}
	prev := c
	c.Status = status
	c.UpdatedAt = s.now()
	s.carts[cartID] = c
	r.t.onRollback(func() { s.carts[cartID] = prev })
	return nil
}

func (r cartRepo) ListByCartID(ctx context.Context, cartID int64) ([]model.CartItem, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	items := []model.CartItem{}
	for _, it := range s.cartItems {
		if it.CartID == cartID && !it.IsDeleted() {
			items = append(items, it)
		}
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, nil
}

func (r cartRepo) FindByID(ctx context.Context, cartItemID int64) (model.CartItem, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.cartItems[cartItemID]
	if !ok || it.IsDeleted() {
		return model.CartItem{}, repo.ErrNotFound
	}
	return it, nil
}

func (r cartRepo) FindByCartAndVariant(ctx context.Context, cartID int64, variantID int64) (model.CartItem, error) {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	if it, ok := s.cartItemLocked(cartID, variantID); ok {
		return it, nil
	}
	return model.CartItem{}, repo.ErrNotFound
}

func (s *Store) cartItemLocked(cartID, variantID int64) (model.CartItem, bool) {
	for _, it := range s.cartItems {
		if it.CartID == cartID && it.VariantID == variantID && !it.IsDeleted() {
			return it, true
		}
	}
	return model.CartItem{}, false
}

func (r cartRepo) Create(ctx context.Context, item model.CartItem) (model.CartItem, error) {
	if item.Quantity <= 0 {
		return model.CartItem{}, errors.New("invalid quantity")
	}

	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	// (cart_id, variant_id) の一意制約
	if _, dup := s.cartItemLocked(item.CartID, item.VariantID); dup {
		return model.CartItem{}, repo.ErrConflict
	}

	item.ID = s.nextID()
	stamp(&item.Base, s.now())
	s.cartItems[item.ID] = item
	r.t.onRollback(func() { delete(s.cartItems, item.ID) })
	return item, nil
}

func (r cartRepo) UpdateQuantity(ctx context.Context, cartItemID int64, qty int64) error {
	return r.updateItem(cartItemID, func(it *model.CartItem) { it.Quantity = qty })
}

func (r cartRepo) UpdatePrice(ctx context.Context, cartItemID int64, price decimal.Decimal) error {
	return r.updateItem(cartItemID, func(it *model.CartItem) { it.PriceAtAdd = price })
}

func (r cartRepo) updateItem(cartItemID int64, apply func(it *model.CartItem)) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.cartItems[cartItemID]
	if !ok || it.IsDeleted() {
		return repo.ErrNotFound
	}
	prev := it
	apply(&it)
	it.UpdatedAt = s.now()
	s.cartItems[cartItemID] = it
	r.t.onRollback(func() { s.cartItems[cartItemID] = prev })
	return nil
}

// 論理削除
func (r cartRepo) DeleteByID(ctx context.Context, cartItemID int64) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	it, ok := s.cartItems[cartItemID]
	if !ok || it.IsDeleted() {
		return repo.ErrNotFound
	}
	r.softDeleteLocked(it)
	return nil
}

func (r cartRepo) DeleteByCartID(ctx context.Context, cartID int64) error {
	s := r.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, it := range s.cartItems {
		if it.CartID == cartID && !it.IsDeleted() {
			r.softDeleteLocked(it)
		}
	}
	return nil
}

func (r cartRepo) softDeleteLocked(it model.CartItem) {
	s := r.t.s
	prev := it
	it.DeletedAt.Time = s.now()
	it.DeletedAt.Valid = true
	s.cartItems[it.ID] = it
	r.t.onRollback(func() { s.cartItems[prev.ID] = prev })
}
