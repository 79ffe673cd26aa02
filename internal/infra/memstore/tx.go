package memstore

import (
	"context"

	repo "marketplace/internal/repository"
)

type tx struct {
	s    *Store
	held map[string]func()
	undo []func()
}

func (t *tx) Orders() repo.OrderRepository         { return orderRepo{t} }
func (t *tx) OrderItems() repo.OrderItemRepository { return orderItemRepo{t} }
func (t *tx) Carts() repo.CartRepository           { return cartRepo{t} }
func (t *tx) CartItems() repo.CartItemRepository   { return cartRepo{t} }
func (t *tx) Inventory() repo.InventoryRepository  { return inventoryRepo{t} }
func (t *tx) Products() repo.ProductRepository     { return productRepo{t} }
func (t *tx) Users() repo.UserRepository           { return userRepo{t} }
func (t *tx) Addresses() repo.AddressRepository    { return addressRepo{t} }
func (t *tx) AuditLogs() repo.AuditLogRepository   { return auditRepo{t} }

// 行ロック相当。同じTx内で2回目は何もしない
func (t *tx) lock(ctx context.Context, key string) error {
	if _, ok := t.held[key]; ok {
		return nil
	}
	unlock, err := t.s.rows.Lock(ctx, key)
	if err != nil {
		return err
	}
	t.held[key] = unlock
	return nil
}

func (t *tx) releaseLocks() {
	for key, unlock := range t.held {
		unlock()
		delete(t.held, key)
	}
}

// s.mu を持った状態で呼ぶ
func (t *tx) onRollback(f func()) {
	t.undo = append(t.undo, f)
}

func (t *tx) rollback() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()
	for i := len(t.undo) - 1; i >= 0; i-- {
		t.undo[i]()
	}
	t.undo = nil
}
