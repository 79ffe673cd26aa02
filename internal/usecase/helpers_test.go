package usecase

import (
	"context"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	"marketplace/internal/infra/memstore"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =====================
// テスト用の部品
// =====================

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Envelope
}

func (p *recordingPublisher) Publish(ctx context.Context, key string, env event.Envelope) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, env)
	return nil
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.EventType)
	}
	return out
}

type nopLocker struct{}

func (nopLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return func() {}, nil
}

type busyLocker struct{}

func (busyLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	return nil, errors.New("lock not acquired")
}

// memstore の上に全ユースケースを組む
type fixture struct {
	store   *memstore.Store
	pub     *recordingPublisher
	stock   *StockUsecase
	cart    *CartUsecase
	order   *OrderUsecase
	admin   *AdminOrderUsecase
	numbers *OrderNumberGenerator
}

func newFixture(t *testing.T) *fixture {
	return newFixtureWith(t, zap.NewNop(), nopLocker{})
}

func newFixtureWith(t *testing.T, log *zap.Logger, locker Locker) *fixture {
	t.Helper()
	s := memstore.New()
	pub := &recordingPublisher{}
	numbers := NewOrderNumberGenerator()
	return &fixture{
		store:   s,
		pub:     pub,
		stock:   NewStockUsecase(s, pub, log),
		cart:    NewCartUsecase(s, pub, log),
		order:   NewOrderUsecase(s, locker, numbers, CheckoutSettings{Shipping: DefaultShippingFeePolicy()}, pub, log),
		admin:   NewAdminOrderUsecase(s, pub, log),
		numbers: numbers,
	}
}

func (f *fixture) user(role model.Role) model.User {
	return f.store.PutUser(model.User{Email: string(role) + "@test.com", Role: role, IsActive: true})
}

// 承認済み・公開中の商品に在庫 stock のバリアントを1つ作る
func (f *fixture) variant(stock int64, price string) model.ProductVariant {
	p := f.store.PutProduct(model.Product{
		Name:      "T-shirt",
		BasePrice: dec(price),
		Status:    model.ProductStatusApproved,
		IsActive:  true,
	})
	return f.store.PutVariant(model.ProductVariant{
		ProductID: p.ID,
		SKU:       "SKU-" + strconv.FormatInt(p.ID, 10),
		Name:      "M",
		Stock:     stock,
		IsActive:  true,
	})
}

func (f *fixture) defaultAddress(userID int64, city string) model.Address {
	return f.store.PutAddress(model.Address{
		UserID:        userID,
		RecipientName: "Nguyen Van A",
		Phone:         "0900000000",
		AddressLine:   "1 Le Loi",
		City:          city,
		IsDefault:     true,
	})
}

func (f *fixture) mustVariant(t *testing.T, id int64) model.ProductVariant {
	t.Helper()
	v, ok := f.store.Variant(id)
	require.True(t, ok)
	return v
}

func (f *fixture) addToCart(t *testing.T, userID, variantID, qty int64) CartOutput {
	t.Helper()
	out, err := f.cart.AddItem(context.Background(), userID, AddCartItemInput{VariantID: variantID, Quantity: qty})
	require.NoError(t, err)
	return out
}

// カート1点から注文を作る
func (f *fixture) placeOrder(t *testing.T, userID int64, variantID, qty int64, method string) OrderOutput {
	t.Helper()
	f.addToCart(t, userID, variantID, qty)
	out, err := f.order.CreateFromCart(context.Background(), userID, CreateOrderInput{PaymentMethod: method})
	require.NoError(t, err)
	return out
}

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertHTTPStatus(t *testing.T, err error, status int) *HTTPError {
	t.Helper()
	he, ok := AsHTTPError(err)
	if assert.True(t, ok, "want HTTPError, got %v", err) {
		assert.Equal(t, status, he.Status, "message=%q", he.Message)
	}
	return he
}
