package models

import (
	"time"
)

const (
	BroadcastStatusPending  = "PENDING"
	BroadcastStatusApproved = "APPROVED"
	BroadcastStatusSent     = "SENT"
	BroadcastStatusCanceled = "CANCELED"
	BroadcastStatusError    = "ERROR"
)

type Broadcast struct {
	ID        uint   `gorm:"primaryKey"`
	Text      string `gorm:"not null"`
	Status    string `gorm:"size:10;default:'PENDING'"`
	CreatedAt time.Time
	UpdatedAt time.Time
}
