package models

import (
	"time"

	"gorm.io/datatypes"
)

// Staged coupon-expiry notification types. Each stage may fire at most once
// per subscription; NotificationHistory enforces that across sweep runs.
const (
	NotificationStageExpiry7Days = "coupon_expiry_7days"
	NotificationStageExpiry3Days = "coupon_expiry_3days"
	NotificationStageExpiry1Day  = "coupon_expiry_1day"
	NotificationStageExpiryToday = "coupon_expiry_today"
	NotificationStageExpired     = "coupon_expired"
)

// NotificationHistory is the dedupe record for repeatable scheduled
// notifications: one row per (user, subscription, notification type).
type NotificationHistory struct {
	ID               uint           `gorm:"primaryKey" json:"id"`
	UserID           uint           `gorm:"not null;index:ux_notification_history_stage,unique,priority:1" json:"user_id"`
	SubscriptionID   uint           `gorm:"not null;index:ux_notification_history_stage,unique,priority:2" json:"subscription_id"`
	NotificationType string         `gorm:"type:varchar(64);not null;index:ux_notification_history_stage,unique,priority:3" json:"notification_type"`
	Metadata         datatypes.JSON `gorm:"type:json" json:"metadata,omitempty"`
	SentAt           time.Time      `gorm:"autoCreateTime" json:"sent_at"`
}
