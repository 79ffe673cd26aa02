// Package memstore はプロセス内で完結するトランザクション付きストア。
// 行ロックはキー単位のロックで、ロールバックはアンドゥログで表現する。
package memstore

import (
	"context"
	"sync"
	"time"

	"marketplace/internal/domain/model"
	repo "marketplace/internal/repository"
)

type Store struct {
	mu   sync.Mutex
	seq  int64
	rows *keyedMutex
	now  func() time.Time

	products    map[int64]model.Product
	variants    map[int64]model.ProductVariant
	users       map[int64]model.User
	addresses   map[int64]model.Address
	carts       map[int64]model.Cart
	cartItems   map[int64]model.CartItem
	orders      map[int64]model.Order
	orderItems  map[int64]model.OrderItem
	auditLogs   map[int64]model.AuditLog
	adjustments map[int64]model.InventoryAdjustment
}

func New() *Store {
	return &Store{
		rows:        newKeyedMutex(),
		now:         time.Now,
		products:    make(map[int64]model.Product),
		variants:    make(map[int64]model.ProductVariant),
		users:       make(map[int64]model.User),
		addresses:   make(map[int64]model.Address),
		carts:       make(map[int64]model.Cart),
		cartItems:   make(map[int64]model.CartItem),
		orders:      make(map[int64]model.Order),
		orderItems:  make(map[int64]model.OrderItem),
		auditLogs:   make(map[int64]model.AuditLog),
		adjustments: make(map[int64]model.InventoryAdjustment),
	}
}

var _ repo.TransactionManager = (*Store)(nil)

// WithinTx は fn をひとつのトランザクションとして実行する。
// fn がエラーを返すか ctx が切れたら、それまでの書き込みを全部戻す。
func (s *Store) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	t := &tx{s: s, held: make(map[string]func())}
	defer t.releaseLocks()
	defer func() {
		if p := recover(); p != nil {
			t.rollback()
			panic(p)
		}
	}()

	if err := fn(t); err != nil {
		t.rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		t.rollback()
		return err
	}
	return nil
}

// 呼び出し側は s.mu を持っていること
func (s *Store) nextID() int64 {
	s.seq++
	return s.seq
}

func (s *Store) bumpSeq(id int64) {
	if id > s.seq {
		s.seq = id
	}
}

// --- 初期データ投入・参照（テストと開発用） ---

func (s *Store) PutProduct(p model.Product) model.Product {
	s.mu.Lock()
	defer s.mu.Unlock()
	if p.ID == 0 {
		p.ID = s.nextID()
	}
	s.bumpSeq(p.ID)
	stamp(&p.Base, s.now())
	s.products[p.ID] = p
	return p
}

func (s *Store) PutVariant(v model.ProductVariant) model.ProductVariant {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v.ID == 0 {
		v.ID = s.nextID()
	}
	s.bumpSeq(v.ID)
	stamp(&v.Base, s.now())
	v.Product = nil
	s.variants[v.ID] = v
	return v
}

func (s *Store) PutUser(u model.User) model.User {
	s.mu.Lock()
	defer s.mu.Unlock()
	if u.ID == 0 {
		u.ID = s.nextID()
	}
	s.bumpSeq(u.ID)
	s.users[u.ID] = u
	return u
}

func (s *Store) PutAddress(a model.Address) model.Address {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a.ID == 0 {
		a.ID = s.nextID()
	}
	s.bumpSeq(a.ID)
	s.addresses[a.ID] = a
	return a
}

func (s *Store) Variant(id int64) (model.ProductVariant, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.variants[id]
	return v, ok
}

func (s *Store) Product(id int64) (model.Product, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	return p, ok
}

func (s *Store) Order(id int64) (model.Order, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[id]
	return o, ok
}

// 論理削除（商品・バリアントの非公開化）
func (s *Store) SoftDeleteVariant(id int64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if v, ok := s.variants[id]; ok {
		v.DeletedAt.Time = s.now()
		v.DeletedAt.Valid = true
		s.variants[id] = v
	}
}

func stamp(b *model.Base, now time.Time) {
	if b.CreatedAt.IsZero() {
		b.CreatedAt = now
	}
	b.UpdatedAt = now
}

// --- keyed mutex ---

type keyedMutex struct {
	mu    sync.Mutex
	locks map[string]chan struct{}
}

func newKeyedMutex() *keyedMutex {
	return &keyedMutex{locks: make(map[string]chan struct{})}
}

func (k *keyedMutex) Lock(ctx context.Context, key string) (func(), error) {
	k.mu.Lock()
	ch, ok := k.locks[key]
	if !ok {
		ch = make(chan struct{}, 1)
		k.locks[key] = ch
	}
	k.mu.Unlock()

	select {
	case ch <- struct{}{}:
		return func() { <-ch }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
