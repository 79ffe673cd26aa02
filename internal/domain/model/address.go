package model

import "time"

// 保存済みの配送先住所
type Address struct {
	ID     int64 `gorm:"primaryKey;autoIncrement" json:"id"`
	UserID int64 `gorm:"not null;index" json:"user_id"`

	//宛名
	RecipientName string `gorm:"type:varchar(255);not null" json:"recipient_name"`

	//電話番号
	Phone string `gorm:"type:varchar(30)" json:"phone"`

	//番地・建物名など
	AddressLine string `gorm:"type:varchar(500);not null" json:"address_line"`

	City     string `gorm:"type:varchar(100);not null" json:"city"`
	District string `gorm:"type:varchar(100)" json:"district"`
	Ward     string `gorm:"type:varchar(100)" json:"ward"`

	//このユーザーのデフォルト住所か
	IsDefault bool `gorm:"not null;default:false" json:"is_default"`

	CreatedAt time.Time `gorm:"not null" json:"created_at"`
	UpdatedAt time.Time `gorm:"not null" json:"updated_at"`
}

func (a Address) ToShippingInfo() ShippingInfo {
	return ShippingInfo{
		Recipient: a.RecipientName,
		Phone:     a.Phone,
		Address:   a.AddressLine,
		City:      a.City,
		District:  a.District,
		Ward:      a.Ward,
	}
}
