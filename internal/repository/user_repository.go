package repository

import (
	"context"

	"marketplace/internal/domain/model"
)

// 見つからない場合は (nil, nil)
type UserRepository interface {
	FindByID(ctx context.Context, id int64) (*model.User, error)
}
