package model

import (
	"time"

	"gorm.io/gorm"
)

// 各エンティティに埋め込む共通カラム（ID・時刻・論理削除）
type Base struct {
	ID        int64          `gorm:"primaryKey;autoIncrement" json:"id"`
	CreatedAt time.Time      `gorm:"not null;autoCreateTime" json:"created_at"`
	UpdatedAt time.Time      `gorm:"not null;autoUpdateTime" json:"updated_at"`
	DeletedAt gorm.DeletedAt `gorm:"index" json:"-"`
}

// 論理削除済みか
func (b Base) IsDeleted() bool {
	return b.DeletedAt.Valid
}
