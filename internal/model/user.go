package model

import "time"

type User struct {
	ID          uint64    `gorm:"primaryKey;autoIncrement" json:"id"`
	FirebaseUID *string   `gorm:"column:firebase_uid;size:128;uniqueIndex" json:"-"`
	Name        string    `gorm:"size:120;not null" json:"name"`
	Email       string    `gorm:"size:255" json:"email,omitempty"`
	AvatarURL   *string   `gorm:"column:avatar_url;size:512" json:"avatarUrl,omitempty"`
	CreatedAt   time.Time `gorm:"autoCreateTime" json:"createdAt"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime" json:"updatedAt"`
}

func (User) TableName() string {
	return "users"
}
