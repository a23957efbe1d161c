package models

import (
	"time"
)

// NotificationRule schedules a reminder some hours before expiry.
// MessageTemplate may reference {days} and {hours} remaining.
type NotificationRule struct {
	ID                       uint   `gorm:"primaryKey"`
	Name                     string `gorm:"size:100;not null"`
	TriggerHoursBeforeExpiry int    `gorm:"not null"`
	MessageTemplate          string `gorm:"not null"`
	IsActive                 bool   `gorm:"default:true"`
	CreatedAt                time.Time
	UpdatedAt                time.Time
}

// SentNotification dedups reminders. The key includes the exact end date
// so an extension after a reminder makes the new expiry eligible again.
type SentNotification struct {
	ID                        uint             `gorm:"primaryKey"`
	UserID                    uint             `gorm:"not null;uniqueIndex:idx_sent_notification_key"`
	RuleID                    uint             `gorm:"not null;uniqueIndex:idx_sent_notification_key"`
	Rule                      NotificationRule `gorm:"foreignKey:RuleID"`
	SubscriptionEndDateAtSend time.Time        `gorm:"not null;uniqueIndex:idx_sent_notification_key"`
	SentAt                    time.Time
}
