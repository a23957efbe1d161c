package models

import (
	"time"
)

// Tariff is a purchasable (duration, price) pair. Tariffs referenced by
// payments are deactivated instead of deleted.
type Tariff struct {
	ID           uint    `gorm:"primaryKey"`
	Name         string  `gorm:"size:100;not null"`
	DurationDays int     `gorm:"not null"`
	Price        float64 `gorm:"not null"`
	IsActive     bool    `gorm:"default:true"`
	Order        int     `gorm:"default:0"`
	CreatedAt    time.Time
	UpdatedAt    time.Time
}
