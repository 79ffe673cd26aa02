package usecase

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	repo "marketplace/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// 注文番号の一意制約に負けたときの取り直し回数
const orderCreateAttempts = 3

// 金額計算と二重送信防止の設定
type CheckoutSettings struct {
	Shipping ShippingFeePolicy
	TaxRate  decimal.Decimal
	LockTTL  time.Duration
}

type OrderUsecase struct {
	tx       repo.TransactionManager
	locker   Locker
	numbers  *OrderNumberGenerator
	settings CheckoutSettings
	life     *orderLifecycle
	pub      event.Publisher
	log      *zap.Logger
	now      func() time.Time
}

func NewOrderUsecase(
	tx repo.TransactionManager,
	locker Locker,
	numbers *OrderNumberGenerator,
	settings CheckoutSettings,
	pub event.Publisher,
	log *zap.Logger,
) *OrderUsecase {
	if settings.LockTTL <= 0 {
		settings.LockTTL = 10 * time.Second
	}
	log = log.Named("order")
	return &OrderUsecase{
		tx:       tx,
		locker:   locker,
		numbers:  numbers,
		settings: settings,
		life:     &orderLifecycle{tx: tx, pub: pub, log: log, now: time.Now},
		pub:      pub,
		log:      log,
		now:      time.Now,
	}
}

type ShippingInput struct {
	Recipient string
	Phone     string
	Address   string
	City      string
	District  string
	Ward      string
}

func (s ShippingInput) toModel() model.ShippingInfo {
	return model.ShippingInfo{
		Recipient: strings.TrimSpace(s.Recipient),
		Phone:     strings.TrimSpace(s.Phone),
		Address:   strings.TrimSpace(s.Address),
		City:      strings.TrimSpace(s.City),
		District:  strings.TrimSpace(s.District),
		Ward:      strings.TrimSpace(s.Ward),
	}
}

// 配送先は 直接指定 > 住所ID > デフォルト住所 の順
type CreateOrderInput struct {
	PaymentMethod  string
	Shipping       *ShippingInput
	Billing        *ShippingInput
	AddressID      int64
	Notes          string
	IdempotencyKey string
}

// CreateFromCart はカートから注文を作る。
// 在庫の減算・注文作成・カートの後片付けは1つのTxで、どこかで失敗したら全部戻る。
func (u *OrderUsecase) CreateFromCart(ctx context.Context, userID int64, in CreateOrderInput) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	method := model.PaymentMethod(strings.ToUpper(strings.TrimSpace(in.PaymentMethod)))
	if method == "" {
		method = model.PaymentMethodCOD
	}
	if !method.Valid() {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid payment_method")
	}

	key := strings.TrimSpace(in.IdempotencyKey)
	if len(key) > 255 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid idempotency_key")
	}

	//同じユーザーの二重送信を防ぐ
	release, err := u.locker.Acquire(ctx, "checkout:"+strconv.FormatInt(userID, 10), u.settings.LockTTL)
	if err != nil {
		if ctx.Err() != nil {
			return OrderOutput{}, toHTTPError(u.log, "order.create", ctx.Err())
		}
		u.log.Warn("checkout lock busy", zap.Int64("user_id", userID), zap.Error(err))
		return OrderOutput{}, NewHTTPError(http.StatusConflict, "checkout already in progress")
	}
	defer release()

	var (
		out    OrderOutput
		replay bool
	)
	err = u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 同じキーなら同じ結果
		if key != "" {
			existing, found, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
			if err != nil {
				return err
			}
			if found {
				replay = true
				out, err = loadOrderOutput(ctx, r, existing)
				return err
			}
		}

		o, err := u.createFromCart(ctx, r, userID, method, key, in)
		if err != nil {
			return err
		}
		out = o
		return nil
	})
	if errors.Is(err, repo.ErrConflict) && key != "" {
		//同じキーが別の処理で先に入った：こちらは全部戻して、そちらを返す
		out, replay, err = u.findByIdempotencyKey(ctx, userID, key)
		if err == nil && !replay {
			err = NewHTTPError(http.StatusConflict, "order conflict")
		}
	}
	if err != nil {
		var stockErr *model.InsufficientStockError
		if errors.As(err, &stockErr) {
			u.log.Warn("checkout failed: insufficient stock",
				zap.Int64("user_id", userID),
				zap.Int64("variant_id", stockErr.VariantID),
				zap.Int64("requested", stockErr.Requested),
				zap.Int64("available", stockErr.Available),
			)
		}
		return OrderOutput{}, toHTTPError(u.log, "order.create", err)
	}

	if replay {
		u.log.Info("order replayed by idempotency key", zap.Int64("order_id", out.ID), zap.Int64("user_id", userID))
		return out, nil
	}

	u.log.Info("order created",
		zap.Int64("order_id", out.ID),
		zap.String("order_number", out.OrderNumber),
		zap.Int64("user_id", userID),
		zap.String("total_amount", out.TotalAmount.String()),
	)
	publish(ctx, u.pub, u.log, out.OrderNumber, event.TypeOrderCreated, event.OrderCreatedPayload{
		OrderID:     out.ID,
		OrderNumber: out.OrderNumber,
		UserID:      userID,
		TotalAmount: out.TotalAmount.StringFixed(2),
		ItemCount:   len(out.Items),
	})
	return out, nil
}

func (u *OrderUsecase) findByIdempotencyKey(ctx context.Context, userID int64, key string) (OrderOutput, bool, error) {
	var (
		out   OrderOutput
		found bool
	)
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		existing, ok, err := r.Orders().FindByIdempotencyKey(ctx, userID, key)
		if err != nil || !ok {
			return err
		}
		found = true
		out, err = loadOrderOutput(ctx, r, existing)
		return err
	})
	return out, found, err
}

func (u *OrderUsecase) createFromCart(ctx context.Context, r repo.TxRepos, userID int64, method model.PaymentMethod, key string, in CreateOrderInput) (OrderOutput, error) {
	user, err := r.Users().FindByID(ctx, userID)
	if err != nil {
		return OrderOutput{}, err
	}
	if user == nil {
		return OrderOutput{}, notFound("user")
	}

	//1. カート（ロック）と明細
	cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return OrderOutput{}, err
	}
	cartItems, err := r.CartItems().ListByCartID(ctx, cart.ID)
	if err != nil {
		return OrderOutput{}, err
	}
	if len(cartItems) == 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "cart is empty")
	}

	shipping, err := u.resolveShipping(ctx, r, userID, in)
	if err != nil {
		return OrderOutput{}, err
	}
	billing := shipping
	if in.Billing != nil {
		billing = in.Billing.toModel()
	}

	//2. バリアントをID昇順でロックして再チェック（ここは目安、減算が最終判定）
	sortCartItemsByVariant(cartItems)
	ledger := newStockLedger(r, u.log)
	variants := make([]model.ProductVariant, 0, len(cartItems))
	for _, ci := range cartItems {
		v, err := ledger.lock(ctx, ci.VariantID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return OrderOutput{}, err
		}
		if err != nil || !v.IsPurchasable() {
			return OrderOutput{}, &HTTPError{
				Status:  http.StatusBadRequest,
				Message: "item is no longer available",
				Details: map[string]interface{}{"variant_id": ci.VariantID},
			}
		}
		if avail := v.AvailableFor(ci.Quantity); avail < ci.Quantity {
			return OrderOutput{}, &HTTPError{
				Status:  http.StatusBadRequest,
				Message: fmt.Sprintf("insufficient stock for %s", v.SKU),
				Details: map[string]interface{}{
					"variant_id": v.ID,
					"sku":        v.SKU,
					"requested":  ci.Quantity,
					"available":  avail,
				},
			}
		}
		variants = append(variants, v)
	}

	//3. 注文の枠（金額は0から積み上げ）
	now := u.now()
	order := model.Order{
		UserID:        userID,
		Status:        model.OrderStatusPending,
		PaymentStatus: model.PaymentStatusPending,
		PaymentMethod: method,
		Subtotal:      decimal.Zero,
		ShippingFee:   u.settings.Shipping.Fee(shipping.City),
		Tax:           decimal.Zero,
		Discount:      decimal.Zero,
		Shipping:      shipping,
		Billing:       billing,
		Notes:         strings.TrimSpace(in.Notes),
	}
	if key != "" {
		order.IdempotencyKey = &key
	}

	//4. スナップショット + 在庫減算
	orderItems := make([]model.OrderItem, 0, len(cartItems))
	for i, ci := range cartItems {
		v := variants[i]
		price := ci.PriceAtAdd
		line := price.Mul(decimal.NewFromInt(ci.Quantity))

		//在庫減算（引当も同時に消える）
		if err := v.Decrease(ci.Quantity); err != nil {
			return OrderOutput{}, err
		}
		if err := ledger.save(ctx, v); err != nil {
			return OrderOutput{}, err
		}

		item := model.OrderItem{
			ProductID:   v.ProductID,
			VariantID:   v.ID,
			VariantSKU:  v.SKU,
			VariantName: v.Name,
			Price:       price,
			Quantity:    ci.Quantity,
			Subtotal:    line,
			CreatedAt:   now,
		}
		if v.Product != nil {
			item.ProductName = v.Product.Name
			item.ProductImage = v.Product.ImageURL
		}
		item.ProductSnapshot = toJSON(map[string]interface{}{
			"product_id":   v.ProductID,
			"product_name": item.ProductName,
			"variant_id":   v.ID,
			"sku":          v.SKU,
			"variant_name": v.Name,
			"image_url":    item.ProductImage,
			"price":        price.StringFixed(2),
		})
		orderItems = append(orderItems, item)
		order.Subtotal = order.Subtotal.Add(line)
	}

	//5. 合計を確定して保存
	order.Tax = order.Subtotal.Mul(u.settings.TaxRate).Round(2)
	order.RecalculateTotal()

	orderID, err := u.insertOrder(ctx, r, &order)
	if err != nil {
		return OrderOutput{}, err
	}

	if err := r.OrderItems().CreateBulk(ctx, orderID, orderItems); err != nil {
		return OrderOutput{}, err
	}
	for _, it := range orderItems {
		if err := r.Products().AddPurchaseCount(ctx, it.ProductID, it.Quantity); err != nil {
			return OrderOutput{}, err
		}
	}

	//カートを片付ける（引当は減算で消えているので解除しない）
	if err := r.CartItems().DeleteByCartID(ctx, cart.ID); err != nil {
		return OrderOutput{}, err
	}
	if err := r.Carts().UpdateStatus(ctx, cart.ID, model.CartStatusCheckedOut); err != nil {
		return OrderOutput{}, err
	}

	created, err := r.Orders().FindByID(ctx, orderID)
	if err != nil {
		return OrderOutput{}, err
	}
	return loadOrderOutput(ctx, r, created)
}

// 注文番号を振って保存。番号の一意制約に負けたら振り直す
func (u *OrderUsecase) insertOrder(ctx context.Context, r repo.TxRepos, order *model.Order) (int64, error) {
	var lastErr error
	for i := 0; i < orderCreateAttempts; i++ {
		number, err := u.numbers.Generate(ctx, r.Orders())
		if err != nil {
			return 0, err
		}
		order.OrderNumber = number

		id, err := r.Orders().Create(ctx, *order)
		if err == nil {
			return id, nil
		}
		if !errors.Is(err, repo.ErrConflict) {
			return 0, err
		}
		lastErr = err

		//冪等キー側の競合なら取り直しても無駄
		if order.IdempotencyKey != nil {
			if _, found, ferr := r.Orders().FindByIdempotencyKey(ctx, order.UserID, *order.IdempotencyKey); ferr == nil && found {
				return 0, err
			}
		}
		u.log.Warn("order number collided, regenerating", zap.String("order_number", number))
	}
	return 0, lastErr
}

func (u *OrderUsecase) resolveShipping(ctx context.Context, r repo.TxRepos, userID int64, in CreateOrderInput) (model.ShippingInfo, error) {
	if in.Shipping != nil {
		s := in.Shipping.toModel()
		if s.Recipient == "" || s.Address == "" || s.City == "" {
			return model.ShippingInfo{}, NewHTTPError(http.StatusBadRequest, "recipient, address and city are required")
		}
		return s, nil
	}

	if in.AddressID > 0 {
		addr, err := r.Addresses().FindByID(ctx, in.AddressID)
		if errors.Is(err, repo.ErrNotFound) {
			return model.ShippingInfo{}, notFound("address")
		}
		if err != nil {
			return model.ShippingInfo{}, err
		}
		//他人の住所は使えない
		if addr.UserID != userID {
			return model.ShippingInfo{}, notFound("address")
		}
		return addr.ToShippingInfo(), nil
	}

	addr, err := r.Addresses().FindDefaultByUserID(ctx, userID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.ShippingInfo{}, NewHTTPError(http.StatusBadRequest, "shipping address is required")
	}
	if err != nil {
		return model.ShippingInfo{}, err
	}
	return addr.ToShippingInfo(), nil
}

func (u *OrderUsecase) ListMyOrders(ctx context.Context, userID int64, page, limit int) (OrderListOutput, error) {
	if userID <= 0 {
		return OrderListOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	page, limit = normalizePage(page, limit)

	out := OrderListOutput{Page: page, Limit: limit}
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		orders, total, err := r.Orders().ListByUserID(ctx, userID, page, limit)
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
		return OrderListOutput{}, toHTTPError(u.log, "order.list_mine", err)
	}
	return out, nil
}

func (u *OrderUsecase) GetMyOrderDetail(ctx context.Context, userID int64, orderID int64) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.getMine(ctx, userID, func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByID(ctx, orderID)
	})
}

func (u *OrderUsecase) GetMyOrderByNumber(ctx context.Context, userID int64, orderNumber string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	orderNumber = strings.TrimSpace(orderNumber)
	if orderNumber == "" {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid order number")
	}
	return u.getMine(ctx, userID, func(r repo.TxRepos) (model.Order, error) {
		return r.Orders().FindByOrderNumber(ctx, orderNumber)
	})
}

func (u *OrderUsecase) getMine(ctx context.Context, userID int64, find func(r repo.TxRepos) (model.Order, error)) (OrderOutput, error) {
	var out OrderOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		o, err := find(r)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("order")
		}
		if err != nil {
			return err
		}
		if o.UserID != userID {
			return notFound("order")
		}
		out, err = loadOrderOutput(ctx, r, o)
		return err
	})
	if err != nil {
		return OrderOutput{}, toHTTPError(u.log, "order.get_mine", err)
	}
	return out, nil
}

// 自分の注文をキャンセル（PENDING / CONFIRMED のみ、在庫は戻る）
func (u *OrderUsecase) CancelMyOrder(ctx context.Context, userID int64, orderID int64, reason string) (OrderOutput, error) {
	if userID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if orderID <= 0 {
		return OrderOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	return u.life.transition(ctx, orderTarget{id: orderID, ownerID: userID}, model.OrderEventCancel, model.TransitionParams{
		ActorID: userID,
		Reason:  reason,
	})
}
