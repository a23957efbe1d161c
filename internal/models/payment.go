package models

import (
	"time"
)

const (
	PaymentStatusPending   = "pending"
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusCanceled  = "canceled"
)

// Payment records one purchase attempt. The only permitted terminal
// transition is pending -> succeeded; rows are never mutated after that.
type Payment struct {
	ID       uint   `gorm:"primaryKey"`
	UserID   uint   `gorm:"not null;index"`
	User     User   `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	TariffID uint   `gorm:"not null;index"`
	Tariff   Tariff `gorm:"constraint:OnUpdate:CASCADE,OnDelete:RESTRICT;"`
	Amount   float64
	// Charge id assigned by the payment provider.
	ProviderPaymentID string `gorm:"size:255;uniqueIndex;not null"`
	Status            string `gorm:"size:20;default:'pending'"`
	CreatedAt         time.Time
	UpdatedAt         time.Time
}
