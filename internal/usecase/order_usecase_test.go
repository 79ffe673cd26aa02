package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"regexp"
	"sync"
	"testing"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	repo "marketplace/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var orderNumberPattern = regexp.MustCompile(`^ORD-\d{8}-\d{5}$`)

// A(在庫5)を2、B(在庫1)を1 → 注文後 A=3, B=0、カートは空
func TestOrderUsecase_CreateFromCart(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(model.RoleCustomer)
	f.defaultAddress(u.ID, "Hanoi")
	a := f.variant(5, "100")
	b := f.variant(1, "50")

	f.addToCart(t, u.ID, a.ID, 2)
	f.addToCart(t, u.ID, b.ID, 1)

	out, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{})
	require.NoError(t, err)

	assert.Regexp(t, orderNumberPattern, out.OrderNumber)
	assert.Equal(t, string(model.OrderStatusPending), out.Status)
	assert.Equal(t, string(model.PaymentStatusPending), out.PaymentStatus)
	assert.Equal(t, string(model.PaymentMethodCOD), out.PaymentMethod)
	assert.Equal(t, "Hanoi", out.Shipping.City)
	assert.Equal(t, out.Shipping, out.Billing)

	require.Len(t, out.Items, 2)
	assert.Equal(t, "250.00", out.Subtotal.StringFixed(2))
	assert.Equal(t, "30000.00", out.ShippingFee.StringFixed(2))
	assert.Equal(t, "30250.00", out.TotalAmount.StringFixed(2))
	for _, it := range out.Items {
		assert.True(t, it.Price.Mul(dec(fmt.Sprint(it.Quantity))).Equal(it.Subtotal))
		assert.Equal(t, "T-shirt", it.ProductName)
	}

	va := f.mustVariant(t, a.ID)
	assert.Equal(t, int64(3), va.Stock)
	assert.Equal(t, int64(0), va.ReservedStock)
	vb := f.mustVariant(t, b.ID)
	assert.Equal(t, int64(0), vb.Stock)
	assert.Equal(t, int64(0), vb.ReservedStock)

	p, ok := f.store.Product(a.ProductID)
	require.True(t, ok)
	assert.Equal(t, int64(2), p.PurchaseCount)

	cart, err := f.cart.GetCart(ctx, u.ID)
	require.NoError(t, err)
	assert.Empty(t, cart.Items)

	assert.Contains(t, f.pub.types(), event.TypeOrderCreated)
}

// 追加後に値上げしても注文はカートの価格
func TestOrderUsecase_CreateFromCart_UsesCartPrice(t *testing.T) {
	f := newFixture(t)
	u := f.user(model.RoleCustomer)
	f.defaultAddress(u.ID, "Da Nang")
	v := f.variant(5, "100")

	f.addToCart(t, u.ID, v.ID, 1)
	np := dec("150")
	cur := f.mustVariant(t, v.ID)
	cur.Price = &np
	f.store.PutVariant(cur)

	out, err := f.order.CreateFromCart(context.Background(), u.ID, CreateOrderInput{PaymentMethod: "bank_transfer"})
	require.NoError(t, err)
	assert.Equal(t, "100.00", out.Items[0].Price.StringFixed(2))
	assert.Equal(t, "50000.00", out.ShippingFee.StringFixed(2))
	assert.Equal(t, string(model.PaymentMethodBankTransfer), out.PaymentMethod)
}

func TestOrderUsecase_CreateFromCart_Tax(t *testing.T) {
	f := newFixture(t)
	u := f.user(model.RoleCustomer)
	v := f.variant(5, "33.33")

	uc := NewOrderUsecase(f.store, nopLocker{}, f.numbers, CheckoutSettings{
		Shipping: DefaultShippingFeePolicy(),
		TaxRate:  dec("0.1"),
	}, f.pub, zap.NewNop())

	f.addToCart(t, u.ID, v.ID, 1)
	out, err := uc.CreateFromCart(context.Background(), u.ID, CreateOrderInput{
		Shipping: &ShippingInput{Recipient: "B", Address: "2 Tran Phu", City: "Ho Chi Minh"},
	})
	require.NoError(t, err)
	assert.Equal(t, "3.33", out.Tax.StringFixed(2))
	assert.Equal(t, "30036.66", out.TotalAmount.StringFixed(2))
}

func TestOrderUsecase_CreateFromCart_Errors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(model.RoleCustomer)

	t.Run("empty cart", func(t *testing.T) {
		f.defaultAddress(u.ID, "Hanoi")
		_, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{})
		he := assertHTTPStatus(t, err, http.StatusBadRequest)
		assert.Equal(t, "cart is empty", he.Message)
	})

	t.Run("invalid payment method", func(t *testing.T) {
		_, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{PaymentMethod: "BITCOIN"})
		assertHTTPStatus(t, err, http.StatusBadRequest)
	})

	t.Run("other user's address", func(t *testing.T) {
		other := f.store.PutUser(model.User{Email: "o@test.com", Role: model.RoleCustomer})
		addr := f.defaultAddress(other.ID, "Hanoi")
		v := f.variant(3, "10")
		f.addToCart(t, u.ID, v.ID, 1)

		_, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{AddressID: addr.ID})
		assertHTTPStatus(t, err, http.StatusNotFound)

		//何も変わっていない
		got := f.mustVariant(t, v.ID)
		assert.Equal(t, int64(3), got.Stock)
		assert.Equal(t, int64(1), got.ReservedStock)
		require.NoError(t, f.cart.ClearCart(ctx, u.ID))
	})

	t.Run("variant no longer purchasable", func(t *testing.T) {
		v := f.variant(3, "10")
		f.addToCart(t, u.ID, v.ID, 1)
		f.store.SoftDeleteVariant(v.ID)

		_, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{})
		he := assertHTTPStatus(t, err, http.StatusBadRequest)
		assert.Equal(t, v.ID, he.Details["variant_id"])
		require.NoError(t, f.cart.ClearCart(ctx, u.ID))
	})

	t.Run("checkout in progress", func(t *testing.T) {
		busy := newFixtureWith(t, zap.NewNop(), busyLocker{})
		bu := busy.user(model.RoleCustomer)
		_, err := busy.order.CreateFromCart(ctx, bu.ID, CreateOrderInput{})
		assertHTTPStatus(t, err, http.StatusConflict)
	})
}

// 同じキーの再送は同じ注文を返し、在庫は一度しか減らない
func TestOrderUsecase_CreateFromCart_IdempotencyReplay(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(model.RoleCustomer)
	f.defaultAddress(u.ID, "Hanoi")
	v := f.variant(5, "10")

	f.addToCart(t, u.ID, v.ID, 2)
	first, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{IdempotencyKey: "k-1"})
	require.NoError(t, err)

	second, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.Equal(t, first.OrderNumber, second.OrderNumber)
	assert.Equal(t, int64(3), f.mustVariant(t, v.ID).Stock)

	list, err := f.order.ListMyOrders(ctx, u.ID, 1, 20)
	require.NoError(t, err)
	assert.Equal(t, int64(1), list.Total)
}

// 別々のユーザーが同時に注文しても在庫は過不足なく減り、番号は重複しない
func TestOrderUsecase_ConcurrentCheckout(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	v := f.variant(10, "10")

	const buyers = 5
	users := make([]model.User, 0, buyers)
	for i := 0; i < buyers; i++ {
		u := f.store.PutUser(model.User{Email: fmt.Sprintf("u%d@test.com", i), Role: model.RoleCustomer, IsActive: true})
		f.defaultAddress(u.ID, "Hanoi")
		f.addToCart(t, u.ID, v.ID, 2)
		users = append(users, u)
	}

	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		numbers = map[string]bool{}
		errs    []error
	)
	for _, u := range users {
		wg.Add(1)
		go func(userID int64) {
			defer wg.Done()
			out, err := f.order.CreateFromCart(ctx, userID, CreateOrderInput{})
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				errs = append(errs, err)
				return
			}
			numbers[out.OrderNumber] = true
		}(u.ID)
	}
	wg.Wait()

	assert.Empty(t, errs)
	assert.Len(t, numbers, buyers)
	got := f.mustVariant(t, v.ID)
	assert.Equal(t, int64(0), got.Stock)
	assert.Equal(t, int64(0), got.ReservedStock)
}

// PENDING を理由付きでキャンセル → 在庫が戻る、二度目は不正遷移
func TestOrderUsecase_CancelMyOrder(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(model.RoleCustomer)
	f.defaultAddress(u.ID, "Hanoi")
	v := f.variant(5, "10")

	o := f.placeOrder(t, u.ID, v.ID, 2, "")
	assert.Equal(t, int64(3), f.mustVariant(t, v.ID).Stock)

	_, err := f.order.CancelMyOrder(ctx, u.ID, o.ID, "")
	assertHTTPStatus(t, err, http.StatusBadRequest)

	stranger := f.store.PutUser(model.User{Email: "s@test.com", Role: model.RoleCustomer})
	_, err = f.order.CancelMyOrder(ctx, stranger.ID, o.ID, "mine now")
	assertHTTPStatus(t, err, http.StatusNotFound)

	out, err := f.order.CancelMyOrder(ctx, u.ID, o.ID, "changed mind")
	require.NoError(t, err)
	assert.Equal(t, string(model.OrderStatusCancelled), out.Status)
	assert.Equal(t, "changed mind", out.CancelReason)
	assert.NotNil(t, out.CancelledAt)
	require.NotNil(t, out.CancelledBy)
	assert.Equal(t, u.ID, *out.CancelledBy)
	assert.Equal(t, int64(5), f.mustVariant(t, v.ID).Stock)

	p, _ := f.store.Product(v.ProductID)
	assert.Equal(t, int64(0), p.PurchaseCount)

	_, err = f.order.CancelMyOrder(ctx, u.ID, o.ID, "again")
	he := assertHTTPStatus(t, err, http.StatusConflict)
	assert.Equal(t, "invalid state transition", he.Message)
	assert.Equal(t, int64(5), f.mustVariant(t, v.ID).Stock)

	assert.Contains(t, f.pub.types(), event.TypeOrderCancelled)
}

func TestOrderUsecase_GetMine(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(model.RoleCustomer)
	f.defaultAddress(u.ID, "Hanoi")
	v := f.variant(5, "10")
	o := f.placeOrder(t, u.ID, v.ID, 1, "")

	got, err := f.order.GetMyOrderDetail(ctx, u.ID, o.ID)
	require.NoError(t, err)
	assert.Equal(t, o.OrderNumber, got.OrderNumber)
	assert.Len(t, got.Items, 1)

	got, err = f.order.GetMyOrderByNumber(ctx, u.ID, o.OrderNumber)
	require.NoError(t, err)
	assert.Equal(t, o.ID, got.ID)

	stranger := f.store.PutUser(model.User{Email: "s@test.com", Role: model.RoleCustomer})
	_, err = f.order.GetMyOrderDetail(ctx, stranger.ID, o.ID)
	assertHTTPStatus(t, err, http.StatusNotFound)
	_, err = f.order.GetMyOrderByNumber(ctx, u.ID, "ORD-19700101-00001")
	assertHTTPStatus(t, err, http.StatusNotFound)
}

// 明細の保存で失敗させる。在庫減算はすでに済んでいる
type failingOrderItems struct {
	repo.OrderItemRepository
	onFail func()
}

func (r failingOrderItems) CreateBulk(ctx context.Context, orderID int64, items []model.OrderItem) error {
	if r.onFail != nil {
		r.onFail()
	}
	return errors.New("order_items: disk full")
}

type failingItemsRepos struct {
	repo.TxRepos
	items repo.OrderItemRepository
}

func (r failingItemsRepos) OrderItems() repo.OrderItemRepository { return r.items }

type failingItemsTx struct {
	repo.TransactionManager
	onFail func()
}

func (m failingItemsTx) WithinTx(ctx context.Context, fn func(r repo.TxRepos) error) error {
	return m.TransactionManager.WithinTx(ctx, func(r repo.TxRepos) error {
		return fn(failingItemsRepos{TxRepos: r, items: failingOrderItems{OrderItemRepository: r.OrderItems(), onFail: m.onFail}})
	})
}

// 2品目の在庫を減らした後で失敗したら、在庫・引当・カート・注文すべて元どおり
func TestOrderUsecase_CreateFromCart_RollsBackAfterDecrements(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := f.user(model.RoleCustomer)
	f.defaultAddress(u.ID, "Hanoi")
	a := f.variant(5, "100")
	b := f.variant(3, "40")
	f.addToCart(t, u.ID, a.ID, 2)
	f.addToCart(t, u.ID, b.ID, 3)

	beforeA, beforeB := f.mustVariant(t, a.ID), f.mustVariant(t, b.ID)
	require.Equal(t, int64(2), beforeA.ReservedStock)
	require.Equal(t, int64(3), beforeB.ReservedStock)

	var stockAtFailure []int64
	failing := NewOrderUsecase(
		failingItemsTx{TransactionManager: f.store, onFail: func() {
			stockAtFailure = []int64{f.mustVariant(t, a.ID).Stock, f.mustVariant(t, b.ID).Stock}
		}},
		nopLocker{}, f.numbers, CheckoutSettings{Shipping: DefaultShippingFeePolicy()}, f.pub, zap.NewNop(),
	)

	_, err := failing.CreateFromCart(ctx, u.ID, CreateOrderInput{PaymentMethod: "COD", IdempotencyKey: "k-1"})
	assertHTTPStatus(t, err, http.StatusInternalServerError)

	// 失敗時点では両方とも減っていた
	assert.Equal(t, []int64{3, 0}, stockAtFailure)

	afterA, afterB := f.mustVariant(t, a.ID), f.mustVariant(t, b.ID)
	assert.Equal(t, beforeA.Stock, afterA.Stock)
	assert.Equal(t, beforeA.ReservedStock, afterA.ReservedStock)
	assert.Equal(t, beforeB.Stock, afterB.Stock)
	assert.Equal(t, beforeB.ReservedStock, afterB.ReservedStock)

	st, err := f.admin.Statistics(ctx, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(0), st.TotalOrders)
	assert.Empty(t, f.store.AuditLogs())
	assert.NotContains(t, f.pub.types(), event.TypeOrderCreated)

	cart, err := f.cart.GetCart(ctx, u.ID)
	require.NoError(t, err)
	assert.Len(t, cart.Items, 2)

	// 同じキーで正常系をやり直せる
	out, err := f.order.CreateFromCart(ctx, u.ID, CreateOrderInput{PaymentMethod: "COD", IdempotencyKey: "k-1"})
	require.NoError(t, err)
	assert.Len(t, out.Items, 2)
	assert.Equal(t, int64(3), f.mustVariant(t, a.ID).Stock)
	assert.Equal(t, int64(0), f.mustVariant(t, b.ID).Stock)
}
