package models

import (
	"time"
)

type User struct {
	ID         uint   `gorm:"primaryKey"`
	TelegramID int64  `gorm:"uniqueIndex;not null"`
	Username   string `gorm:"size:255"`
	// Set once at creation, never changed afterwards.
	ReferrerID *uint `gorm:"index"`
	Referrer   *User `gorm:"foreignKey:ReferrerID"`
	CreatedAt  time.Time
	UpdatedAt  time.Time
}
