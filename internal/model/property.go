package model

import "time"

type Property struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	OwnerID     uint64    `gorm:"column:owner_id;not null;index" json:"ownerId"`
	Title       string    `gorm:"size:120;not null" json:"title"`
	Address     string    `gorm:"size:255" json:"address"`
	City        string    `gorm:"size:120;index" json:"city"`
	MonthlyRent uint      `gorm:"column:monthly_rent;not null" json:"monthlyRent"`
	ImageURL    *string   `gorm:"column:image_url;size:512" json:"imageUrl,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (Property) TableName() string {
	return "properties"
}
