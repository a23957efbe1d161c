package models

import (
	"time"
)

// Subscription is one-to-one with User and created together with it.
type Subscription struct {
	ID     uint `gorm:"primaryKey"`
	UserID uint `gorm:"uniqueIndex;not null"`
	User   User `gorm:"constraint:OnUpdate:CASCADE,OnDelete:CASCADE;"`
	// Subscription is active while EndDate is in the future.
	EndDate time.Time `gorm:"not null"`
	// Stable identity of the client on the VPN panel. Generated once,
	// never regenerated, so panel state survives username changes.
	VPNClientKey    string  `gorm:"size:36;uniqueIndex;not null"`
	TrialActivated  bool    `gorm:"default:false"`
	TotalPaid       float64 `gorm:"default:0"`
	VPNClientActive bool    `gorm:"default:false"`
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

func (s *Subscription) IsActive() bool {
	return s.EndDate.After(time.Now())
}

// DaysRemaining rounds the remaining time up to whole days, never negative.
func (s *Subscription) DaysRemaining() int {
	remaining := time.Until(s.EndDate)
	if remaining <= 0 {
		return 0
	}
	secs := int64(remaining / time.Second)
	return int((secs + 86399) / 86400)
}

// Extend moves EndDate forward by the given number of days, counted from
// now when the subscription has already lapsed. EndDate never shrinks.
func (s *Subscription) Extend(days int) {
	now := time.Now()
	if s.EndDate.Before(now) {
		s.EndDate = now
	}
	s.EndDate = s.EndDate.AddDate(0, 0, days)
}
