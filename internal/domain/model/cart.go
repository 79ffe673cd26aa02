package model

type CartStatus string

const (
	CartStatusActive     CartStatus = "ACTIVE"
	CartStatusCheckedOut CartStatus = "CHECKED_OUT"
	CartStatusAbandoned  CartStatus = "ABANDONED"
)

// 1ユーザーにつきACTIVEは1つ
type Cart struct {
	Base
	UserID int64      `gorm:"not null;index;uniqueIndex:idx_carts_active_user,where:status = 'ACTIVE' AND deleted_at IS NULL" json:"user_id"`
	Status CartStatus `gorm:"type:varchar(20);not null;index" json:"status"`
}

func (c Cart) IsOpen() bool {
	return c.Status == CartStatusActive && !c.IsDeleted()
}
