package models

import (
	"time"
)

// ReferralTier maps a minimum payment amount to a bonus in days. Lookup
// picks the largest threshold not exceeding the payment amount.
type ReferralTier struct {
	ID               uint    `gorm:"primaryKey"`
	Name             string  `gorm:"size:100;not null"`
	MinPaymentAmount float64 `gorm:"uniqueIndex;not null"`
	BonusDays        int     `gorm:"not null"`
	IsActive         bool    `gorm:"default:true"`
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ReferralBonus is immutable once created. The unique link to the
// triggering payment is what guarantees at most one bonus per payment.
type ReferralBonus struct {
	ID                  string `gorm:"primaryKey;size:36"`
	ReferrerID          uint   `gorm:"not null;index"`
	Referrer            User   `gorm:"foreignKey:ReferrerID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	ReferralID          uint   `gorm:"not null;index"`
	Referral            User   `gorm:"foreignKey:ReferralID;constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	TriggeringPaymentID uint   `gorm:"uniqueIndex;not null"`
	TriggeringPayment   Payment
	BonusDaysAwarded    int `gorm:"not null"`
	AwardedAt           time.Time
}
