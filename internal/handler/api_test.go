package handler_test

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"marketplace/internal/config"
	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	"marketplace/internal/handler"
	"marketplace/internal/infra/lock"
	"marketplace/internal/infra/memstore"
	"marketplace/internal/middleware"
	"marketplace/internal/server"
	"marketplace/internal/usecase"

	"github.com/golang-jwt/jwt/v4"
	"github.com/labstack/echo/v4"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const testSecret = "test-secret"

type apiEnv struct {
	e     *echo.Echo
	store *memstore.Store
}

func newAPIEnv(t *testing.T) *apiEnv {
	t.Helper()
	log := zap.NewNop()
	cfg := config.Config{JWTSecret: testSecret, FEURL: "*"}
	s := memstore.New()
	pub := event.NewLogPublisher(log)

	e := server.New(cfg, log)
	handler.NewCartHandler(usecase.NewCartUsecase(s, pub, log)).RegisterRoutes(e, cfg, s)
	handler.NewOrderHandler(usecase.NewOrderUsecase(s, lock.NewLocal(), usecase.NewOrderNumberGenerator(), usecase.CheckoutSettings{
		Shipping: usecase.DefaultShippingFeePolicy(),
		TaxRate:  decimal.Zero,
	}, pub, log)).RegisterRoutes(e, cfg, s)
	handler.NewAdminOrderHandler(usecase.NewAdminOrderUsecase(s, pub, log)).RegisterRoutes(e, cfg, s)
	handler.NewStockHandler(usecase.NewStockUsecase(s, pub, log)).RegisterRoutes(e, cfg, s)

	return &apiEnv{e: e, store: s}
}

func (env *apiEnv) token(t *testing.T, u model.User) string {
	t.Helper()
	tok := jwt.NewWithClaims(jwt.SigningMethodHS256, jwt.MapClaims{
		"sub":  u.ID,
		"role": string(u.Role),
		"tv":   u.TokenVersion,
		"iat":  1,
		"exp":  9999999999,
	})
	s, err := tok.SignedString([]byte(testSecret))
	require.NoError(t, err)
	return s
}

func (env *apiEnv) do(t *testing.T, method, path, token string, body interface{}, headers ...string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	if token != "" {
		req.Header.Set(echo.HeaderAuthorization, "Bearer "+token)
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	rec := httptest.NewRecorder()
	env.e.ServeHTTP(rec, req)
	return rec
}

func (env *apiEnv) seedVariant(stock int64) model.ProductVariant {
	p := env.store.PutProduct(model.Product{
		Name:      "Mug",
		BasePrice: decimal.NewFromInt(120),
		Status:    model.ProductStatusApproved,
		IsActive:  true,
	})
	return env.store.PutVariant(model.ProductVariant{ProductID: p.ID, SKU: fmt.Sprintf("MUG-%d", p.ID), Name: "white", Stock: stock, IsActive: true})
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_CartAndCheckoutFlow(t *testing.T) {
	env := newAPIEnv(t)
	u := env.store.PutUser(model.User{Email: "c@test.com", Role: model.RoleCustomer, IsActive: true})
	tok := env.token(t, u)
	v := env.seedVariant(5)

	rec := env.do(t, http.MethodPost, "/cart/items", tok, handler.AddCartItemRequest{VariantID: v.ID, Quantity: 2})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.NotEmpty(t, rec.Header().Get(middleware.HeaderRequestID))

	count := decode[handler.CartCountResponse](t, env.do(t, http.MethodGet, "/cart/count", tok, nil))
	assert.Equal(t, int64(2), count.Count)

	//在庫以上は409と詳細
	rec = env.do(t, http.MethodPost, "/cart/items", tok, handler.AddCartItemRequest{VariantID: v.ID, Quantity: 4})
	require.Equal(t, http.StatusConflict, rec.Code)
	errBody := decode[handler.ErrorResponse](t, rec)
	assert.Equal(t, "out of stock", errBody.Error)
	assert.NotNil(t, errBody.Details)

	rec = env.do(t, http.MethodPost, "/orders", tok, handler.CreateOrderRequest{
		Shipping: &handler.ShippingRequest{Recipient: "A", Address: "1 Le Loi", City: "Hanoi"},
	}, "X-Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[usecase.OrderOutput](t, rec)
	assert.Equal(t, "PENDING", order.Status)
	assert.Equal(t, "30240.00", order.TotalAmount.StringFixed(2))

	//同じキーは同じ注文
	rec = env.do(t, http.MethodPost, "/orders", tok, handler.CreateOrderRequest{}, "X-Idempotency-Key", "abc")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Equal(t, order.ID, decode[usecase.OrderOutput](t, rec).ID)

	rec = env.do(t, http.MethodGet, "/orders/number/"+order.OrderNumber, tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", order.ID), tok, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodPost, fmt.Sprintf("/orders/%d/cancel", order.ID), tok, handler.CancelOrderRequest{Reason: "changed mind"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "CANCELLED", decode[usecase.OrderOutput](t, rec).Status)

	got, _ := env.store.Variant(v.ID)
	assert.Equal(t, int64(5), got.Stock)
	assert.Equal(t, int64(0), got.ReservedStock)
}

func TestAPI_Unauthorized(t *testing.T) {
	env := newAPIEnv(t)
	rec := env.do(t, http.MethodGet, "/cart", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	//tv がDBと違う
	u := env.store.PutUser(model.User{Email: "c@test.com", Role: model.RoleCustomer, TokenVersion: 2})
	stale := u
	stale.TokenVersion = 1
	rec = env.do(t, http.MethodGet, "/cart", env.token(t, stale), nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAPI_AdminRoutesRequireStaff(t *testing.T) {
	env := newAPIEnv(t)
	customer := env.store.PutUser(model.User{Email: "c@test.com", Role: model.RoleCustomer})
	staff := env.store.PutUser(model.User{Email: "s@test.com", Role: model.RoleStaff})
	admin := env.store.PutUser(model.User{Email: "a@test.com", Role: model.RoleAdmin})
	v := env.seedVariant(3)

	rec := env.do(t, http.MethodGet, "/admin/orders", env.token(t, customer), nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/orders?status=NOPE", env.token(t, staff), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = env.do(t, http.MethodGet, "/admin/orders/statistics", env.token(t, staff), nil)
	assert.Equal(t, http.StatusOK, rec.Code)

	path := fmt.Sprintf("/admin/variants/%d/stock", v.ID)
	rec = env.do(t, http.MethodGet, path, env.token(t, staff), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(3), decode[usecase.StockOutput](t, rec).AvailableStock)

	stock := int64(8)
	body := handler.StockAdjustRequest{Stock: &stock, Reason: "restock"}
	rec = env.do(t, http.MethodPut, path, env.token(t, staff), body)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = env.do(t, http.MethodPut, path, env.token(t, admin), body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, int64(8), decode[usecase.StockOutput](t, rec).Stock)

	rec = env.do(t, http.MethodPut, path, env.token(t, admin), handler.StockAdjustRequest{Reason: "no stock"})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_AdminOrderTransitions(t *testing.T) {
	env := newAPIEnv(t)
	u := env.store.PutUser(model.User{Email: "c@test.com", Role: model.RoleCustomer})
	staff := env.store.PutUser(model.User{Email: "s@test.com", Role: model.RoleStaff})
	v := env.seedVariant(3)
	tok, staffTok := env.token(t, u), env.token(t, staff)

	require.Equal(t, http.StatusOK, env.do(t, http.MethodPost, "/cart/items", tok, handler.AddCartItemRequest{VariantID: v.ID, Quantity: 1}).Code)
	rec := env.do(t, http.MethodPost, "/orders", tok, handler.CreateOrderRequest{
		PaymentMethod: "COD",
		Shipping:      &handler.ShippingRequest{Recipient: "A", Address: "1 Le Loi", City: "Hue"},
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	order := decode[usecase.OrderOutput](t, rec)

	base := fmt.Sprintf("/admin/orders/%d", order.ID)
	rec = env.do(t, http.MethodPost, base+"/ship", staffTok, nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = env.do(t, http.MethodPut, base+"/status", staffTok, handler.OrderStatusUpdateRequest{Status: "CONFIRMED", Notes: "gift wrap"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "gift wrap", decode[usecase.OrderOutput](t, rec).AdminNotes)

	for _, step := range []string{"/ship", "/deliver"} {
		rec = env.do(t, http.MethodPost, base+step, staffTok, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	out := decode[usecase.OrderOutput](t, rec)
	assert.Equal(t, "DELIVERED", out.Status)
	assert.Equal(t, "PAID", out.PaymentStatus)

	rec = env.do(t, http.MethodGet, base+"/history?limit=2", staffTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[usecase.AuditHistoryOutput](t, rec)
	assert.Equal(t, int64(3), hist.Total)
	assert.Len(t, hist.Items, 2)

	rec = env.do(t, http.MethodGet, base+"/history?page=2&limit=2", staffTok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decode[usecase.AuditHistoryOutput](t, rec).Items, 1)
}

// トークンの role ではなく DB の role で判定する
func TestAPI_DemotedUserLosesAdminAccess(t *testing.T) {
	env := newAPIEnv(t)
	u := env.store.PutUser(model.User{Email: "former-admin@test.com", Role: model.RoleCustomer})
	v := env.seedVariant(3)

	claimed := u
	claimed.Role = model.RoleAdmin
	tok := env.token(t, claimed)

	rec := env.do(t, http.MethodGet, "/admin/orders", tok, nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	stock := int64(99)
	rec = env.do(t, http.MethodPut, fmt.Sprintf("/admin/variants/%d/stock", v.ID), tok, handler.StockAdjustRequest{Stock: &stock, Reason: "x"})
	assert.Equal(t, http.StatusForbidden, rec.Code)
	got, _ := env.store.Variant(v.ID)
	assert.Equal(t, int64(3), got.Stock)

	// 顧客としては使える
	rec = env.do(t, http.MethodGet, "/cart", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_StatisticsPeriodAndStockHistory(t *testing.T) {
	env := newAPIEnv(t)
	staff := env.store.PutUser(model.User{Email: "s@test.com", Role: model.RoleStaff})
	admin := env.store.PutUser(model.User{Email: "a@test.com", Role: model.RoleAdmin})
	v := env.seedVariant(3)

	rec := env.do(t, http.MethodGet, "/admin/orders/statistics?from=2026-01-01&to=2026-01-31", env.token(t, staff), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, int64(0), decode[usecase.OrderStatisticsOutput](t, rec).TotalOrders)

	rec = env.do(t, http.MethodGet, "/admin/orders/statistics?from=yesterday", env.token(t, staff), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	rec = env.do(t, http.MethodGet, "/admin/orders/statistics?from=2026-02-01&to=2026-01-01", env.token(t, staff), nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	stock := int64(8)
	path := fmt.Sprintf("/admin/variants/%d/stock", v.ID)
	require.Equal(t, http.StatusOK, env.do(t, http.MethodPut, path, env.token(t, admin), handler.StockAdjustRequest{Stock: &stock, Reason: "restock"}).Code)

	rec = env.do(t, http.MethodGet, path+"/history", env.token(t, staff), nil)
	require.Equal(t, http.StatusOK, rec.Code)
	hist := decode[usecase.AuditHistoryOutput](t, rec)
	assert.Equal(t, int64(1), hist.Total)
	require.Len(t, hist.Items, 1)
	assert.Equal(t, model.AuditActionUpdateStock, hist.Items[0].Action)
}
