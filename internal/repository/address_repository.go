package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

// 住所(Address)を取得する窓口（住所CRUDはこのサービスの外）
type AddressRepository interface {
	FindByID(ctx context.Context, addressID int64) (model.Address, error)

	//デフォルト住所。無ければ ErrNotFound
	FindDefaultByUserID(ctx context.Context, userID int64) (model.Address, error)
}
