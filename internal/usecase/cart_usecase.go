package usecase

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"marketplace/internal/domain/model"
	"marketplace/internal/event"
	repo "marketplace/internal/repository"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// CartUsecase は /cart の業務ロジック。
// 明細の数量とバリアントの reserved_stock は常に同じTxで一緒に動かす。
type CartUsecase struct {
	tx  repo.TransactionManager
	pub event.Publisher
	log *zap.Logger
	now func() time.Time
}

func NewCartUsecase(tx repo.TransactionManager, pub event.Publisher, log *zap.Logger) *CartUsecase {
	return &CartUsecase{tx: tx, pub: pub, log: log.Named("cart"), now: time.Now}
}

type CartItemOutput struct {
	ID          int64           `json:"id"`
	VariantID   int64           `json:"variant_id"`
	ProductID   int64           `json:"product_id"`
	ProductName string          `json:"product_name"`
	VariantName string          `json:"variant_name"`
	SKU         string          `json:"sku"`
	ImageURL    string          `json:"image_url,omitempty"`
	Price       decimal.Decimal `json:"price"`
	Quantity    int64           `json:"quantity"`
	Subtotal    decimal.Decimal `json:"subtotal"`
	Purchasable bool            `json:"purchasable"`
}

type CartOutput struct {
	ID            int64            `json:"id"`
	Items         []CartItemOutput `json:"items"`
	TotalQuantity int64            `json:"total_quantity"`
	Subtotal      decimal.Decimal  `json:"subtotal"`
}

type AddCartItemInput struct {
	VariantID int64
	Quantity  int64
}

type CartChangeType string

const (
	CartChangePriceChanged    CartChangeType = "PRICE_CHANGED"
	CartChangeQuantityReduced CartChangeType = "QUANTITY_REDUCED"
	CartChangeItemRemoved     CartChangeType = "ITEM_REMOVED"
)

// 同期で実際に変えた内容（利用者への通知用）
type CartChange struct {
	Type        CartChangeType   `json:"type"`
	CartItemID  int64            `json:"cart_item_id"`
	VariantID   int64            `json:"variant_id"`
	OldPrice    *decimal.Decimal `json:"old_price,omitempty"`
	NewPrice    *decimal.Decimal `json:"new_price,omitempty"`
	OldQuantity int64            `json:"old_quantity,omitempty"`
	NewQuantity int64            `json:"new_quantity,omitempty"`
	Reason      string           `json:"reason,omitempty"`
}

type SyncCartOutput struct {
	Cart    CartOutput   `json:"cart"`
	Changes []CartChange `json:"changes"`
}

// GetCart はカート取得（無ければACTIVEを作って空を返す）。
func (u *CartUsecase) GetCart(ctx context.Context, userID int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var out CartOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		out, err = buildCartOutput(ctx, r, cart.ID)
		return err
	})
	if err != nil {
		return CartOutput{}, toHTTPError(u.log, "cart.get", err)
	}
	return out, nil
}

// カート内の数量合計（バッジ表示用）
func (u *CartUsecase) ItemCount(ctx context.Context, userID int64) (int64, error) {
	if userID <= 0 {
		return 0, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var total int64
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().FindActiveByUserID(ctx, userID)
		if errors.Is(err, repo.ErrNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		for _, it := range items {
			total += it.Quantity
		}
		return nil
	})
	if err != nil {
		return 0, toHTTPError(u.log, "cart.count", err)
	}
	return total, nil
}

// AddItem はカートに追加（同一バリアントは数量加算、引当は増分だけ）。
func (u *CartUsecase) AddItem(ctx context.Context, userID int64, in AddCartItemInput) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if in.VariantID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid variant_id")
	}
	if in.Quantity < 1 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	var out CartOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// ACTIVEカート取得（無ければ作成）。カート → バリアントの順でロック
		cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}

		l := newStockLedger(r, u.log)
		v, err := l.lock(ctx, in.VariantID)
		if errors.Is(err, repo.ErrNotFound) {
			return notFound("variant")
		}
		if err != nil {
			return err
		}
		if !v.IsPurchasable() {
			return NewHTTPError(http.StatusBadRequest, "variant is not available")
		}

		existing, err := r.CartItems().FindByCartAndVariant(ctx, cart.ID, v.ID)
		found := err == nil
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return err
		}

		//増分だけ引当
		if err := v.Reserve(in.Quantity); err != nil {
			return err
		}
		if err := l.save(ctx, v); err != nil {
			return err
		}

		if found {
			if err := r.CartItems().UpdateQuantity(ctx, existing.ID, existing.Quantity+in.Quantity); err != nil {
				return err
			}
		} else {
			if _, err := r.CartItems().Create(ctx, model.CartItem{
				CartID:     cart.ID,
				VariantID:  v.ID,
				Quantity:   in.Quantity,
				PriceAtAdd: v.EffectivePrice(),
			}); err != nil {
				return err
			}
		}

		out, err = buildCartOutput(ctx, r, cart.ID)
		return err
	})
	if err != nil {
		u.reportReservationFailure(ctx, userID, err)
		return CartOutput{}, toHTTPError(u.log, "cart.add_item", err)
	}
	return out, nil
}

// 数量変更。差分だけ引当 / 解除する
func (u *CartUsecase) UpdateQuantity(ctx context.Context, userID int64, cartItemID int64, qty int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	if qty < 1 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid quantity")
	}

	var out CartOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, item, err := lockOwnedCartItem(ctx, r, userID, cartItemID)
		if err != nil {
			return err
		}

		diff := qty - item.Quantity
		if diff != 0 {
			l := newStockLedger(r, u.log)
			if diff > 0 {
				if _, err := l.reserve(ctx, item.VariantID, diff); err != nil {
					return err
				}
			} else {
				if _, err := l.release(ctx, item.VariantID, -diff); err != nil {
					return err
				}
			}
			if err := r.CartItems().UpdateQuantity(ctx, item.ID, qty); err != nil {
				return err
			}
		}

		out, err = buildCartOutput(ctx, r, cart.ID)
		return err
	})
	if err != nil {
		u.reportReservationFailure(ctx, userID, err)
		return CartOutput{}, toHTTPError(u.log, "cart.update_quantity", err)
	}
	return out, nil
}

// 明細削除（引当解除してから削除）
func (u *CartUsecase) RemoveItem(ctx context.Context, userID int64, cartItemID int64) (CartOutput, error) {
	if userID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}
	if cartItemID <= 0 {
		return CartOutput{}, NewHTTPError(http.StatusBadRequest, "invalid id")
	}

	var out CartOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, item, err := lockOwnedCartItem(ctx, r, userID, cartItemID)
		if err != nil {
			return err
		}

		if _, err := newStockLedger(r, u.log).release(ctx, item.VariantID, item.Quantity); err != nil {
			return err
		}
		if err := r.CartItems().DeleteByID(ctx, item.ID); err != nil {
			return err
		}

		out, err = buildCartOutput(ctx, r, cart.ID)
		return err
	})
	if err != nil {
		return CartOutput{}, toHTTPError(u.log, "cart.remove_item", err)
	}
	return out, nil
}

// 全明細の引当を解除して空にする。カートが無い・空なら何もしない
func (u *CartUsecase) ClearCart(ctx context.Context, userID int64) error {
	if userID <= 0 {
		return NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		// 無ければ作らずに終わる。あれば次の呼び出しで行ロックを取り直す
		if _, err := r.Carts().FindActiveByUserID(ctx, userID); err != nil {
			if errors.Is(err, repo.ErrNotFound) {
				return nil
			}
			return err
		}
		cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}

		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		if len(items) == 0 {
			return nil
		}

		sortCartItemsByVariant(items)
		l := newStockLedger(r, u.log)
		for _, it := range items {
			if _, err := l.release(ctx, it.VariantID, it.Quantity); err != nil {
				return err
			}
		}
		return r.CartItems().DeleteByCartID(ctx, cart.ID)
	})
	if err != nil {
		return toHTTPError(u.log, "cart.clear", err)
	}
	return nil
}

// SyncCart は現在のカタログ・在庫に合わせてカートを直す。
// 購入不可は削除、価格は最新に、確保できない分は数量を減らす（0なら削除）。
func (u *CartUsecase) SyncCart(ctx context.Context, userID int64) (SyncCartOutput, error) {
	if userID <= 0 {
		return SyncCartOutput{}, NewHTTPError(http.StatusUnauthorized, "unauthorized")
	}

	var out SyncCartOutput
	err := u.tx.WithinTx(ctx, func(r repo.TxRepos) error {
		cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
		if err != nil {
			return err
		}
		items, err := r.CartItems().ListByCartID(ctx, cart.ID)
		if err != nil {
			return err
		}
		sortCartItemsByVariant(items)

		changes := []CartChange{}
		l := newStockLedger(r, u.log)
		for _, it := range items {
			c, err := u.syncItem(ctx, r, l, it)
			if err != nil {
				return err
			}
			changes = append(changes, c...)
		}

		cartOut, err := buildCartOutput(ctx, r, cart.ID)
		if err != nil {
			return err
		}
		out = SyncCartOutput{Cart: cartOut, Changes: changes}
		return nil
	})
	if err != nil {
		return SyncCartOutput{}, toHTTPError(u.log, "cart.sync", err)
	}

	if len(out.Changes) > 0 {
		u.log.Info("cart synced", zap.Int64("user_id", userID), zap.Int("changes", len(out.Changes)))
	}
	return out, nil
}

func (u *CartUsecase) syncItem(ctx context.Context, r repo.TxRepos, l stockLedger, it model.CartItem) ([]CartChange, error) {
	v, err := l.lock(ctx, it.VariantID)
	if errors.Is(err, repo.ErrNotFound) {
		// バリアント自体が無い：引当も無いので明細だけ消す
		if err := r.CartItems().DeleteByID(ctx, it.ID); err != nil {
			return nil, err
		}
		return []CartChange{removedChange(it, "variant not found")}, nil
	}
	if err != nil {
		return nil, err
	}

	//購入不可（非公開・削除・未承認）
	if !v.IsPurchasable() {
		if err := u.dropItem(ctx, r, l, &v, it); err != nil {
			return nil, err
		}
		return []CartChange{removedChange(it, "variant not available")}, nil
	}

	//この明細が持っている引当分も含めて確保できる数
	avail := v.AvailableFor(it.Quantity)
	if avail <= 0 {
		if err := u.dropItem(ctx, r, l, &v, it); err != nil {
			return nil, err
		}
		return []CartChange{removedChange(it, "out of stock")}, nil
	}

	var changes []CartChange
	if avail < it.Quantity {
		// 明細の確保分が台帳より少ない。残りの空きを全部この明細に寄せる
		if free := v.AvailableStock(); free > 0 {
			if err := v.Reserve(free); err != nil {
				return nil, err
			}
			if err := l.save(ctx, v); err != nil {
				return nil, err
			}
		}
		if err := r.CartItems().UpdateQuantity(ctx, it.ID, avail); err != nil {
			return nil, err
		}
		changes = append(changes, CartChange{
			Type:        CartChangeQuantityReduced,
			CartItemID:  it.ID,
			VariantID:   it.VariantID,
			OldQuantity: it.Quantity,
			NewQuantity: avail,
		})
	}

	price := v.EffectivePrice()
	if !price.Equal(it.PriceAtAdd) {
		if err := r.CartItems().UpdatePrice(ctx, it.ID, price); err != nil {
			return nil, err
		}
		oldPrice := it.PriceAtAdd
		changes = append(changes, CartChange{
			Type:       CartChangePriceChanged,
			CartItemID: it.ID,
			VariantID:  it.VariantID,
			OldPrice:   &oldPrice,
			NewPrice:   &price,
		})
	}
	return changes, nil
}

func (u *CartUsecase) dropItem(ctx context.Context, r repo.TxRepos, l stockLedger, v *model.ProductVariant, it model.CartItem) error {
	l.releaseLocked(v, it.Quantity)
	if err := l.save(ctx, *v); err != nil {
		return err
	}
	return r.CartItems().DeleteByID(ctx, it.ID)
}

func removedChange(it model.CartItem, reason string) CartChange {
	return CartChange{
		Type:        CartChangeItemRemoved,
		CartItemID:  it.ID,
		VariantID:   it.VariantID,
		OldQuantity: it.Quantity,
		Reason:      reason,
	}
}

// 在庫不足はwarnログとイベントで外に知らせる（Txはもう戻っている）
func (u *CartUsecase) reportReservationFailure(ctx context.Context, userID int64, err error) {
	var stockErr *model.InsufficientStockError
	if !errors.As(err, &stockErr) {
		return
	}
	u.log.Warn("reservation failed",
		zap.Int64("user_id", userID),
		zap.Int64("variant_id", stockErr.VariantID),
		zap.Int64("requested", stockErr.Requested),
		zap.Int64("available", stockErr.Available),
	)
	publish(ctx, u.pub, u.log, strconv.FormatInt(stockErr.VariantID, 10), event.TypeStockReservationFailed, event.StockReservationFailedPayload{
		VariantID: stockErr.VariantID,
		UserID:    userID,
		Requested: stockErr.Requested,
		Available: stockErr.Available,
	})
}

// カートをロックして、自分のカートの明細か確認
func lockOwnedCartItem(ctx context.Context, r repo.TxRepos, userID, cartItemID int64) (model.Cart, model.CartItem, error) {
	cart, err := r.Carts().GetOrCreateActiveByUserID(ctx, userID)
	if err != nil {
		return model.Cart{}, model.CartItem{}, err
	}
	item, err := r.CartItems().FindByID(ctx, cartItemID)
	if errors.Is(err, repo.ErrNotFound) {
		return model.Cart{}, model.CartItem{}, notFound("cart item")
	}
	if err != nil {
		return model.Cart{}, model.CartItem{}, err
	}
	//他人のカートの明細は「存在しない扱い」
	if item.CartID != cart.ID {
		return model.Cart{}, model.CartItem{}, notFound("cart item")
	}
	return cart, item, nil
}

// cartIDの明細をまとめてCartOutputを作る。
func buildCartOutput(ctx context.Context, r repo.TxRepos, cartID int64) (CartOutput, error) {
	items, err := r.CartItems().ListByCartID(ctx, cartID)
	if err != nil {
		return CartOutput{}, err
	}

	out := CartOutput{
		ID:       cartID,
		Items:    make([]CartItemOutput, 0, len(items)),
		Subtotal: decimal.Zero,
	}
	for _, it := range items {
		io := CartItemOutput{
			ID:        it.ID,
			VariantID: it.VariantID,
			Price:     it.PriceAtAdd,
			Quantity:  it.Quantity,
			Subtotal:  it.LineTotal(),
		}

		v, err := r.Inventory().FindVariant(ctx, it.VariantID)
		if err != nil && !errors.Is(err, repo.ErrNotFound) {
			return CartOutput{}, err
		}
		if err == nil {
			io.ProductID = v.ProductID
			io.VariantName = v.Name
			io.SKU = v.SKU
			io.Purchasable = v.IsPurchasable()
			if v.Product != nil {
				io.ProductName = v.Product.Name
				io.ImageURL = v.Product.ImageURL
			}
		}

		out.Items = append(out.Items, io)
		out.TotalQuantity += it.Quantity
		out.Subtotal = out.Subtotal.Add(io.Subtotal)
	}
	return out, nil
}
