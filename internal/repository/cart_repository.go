package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

type CartRepository interface {
	// ACTIVEカートをロックして取得（無ければ作成）
	GetOrCreateActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	FindActiveByUserID(ctx context.Context, userID int64) (model.Cart, error)
	UpdateStatus(ctx context.Context, cartID int64, status model.CartStatus) error
}
