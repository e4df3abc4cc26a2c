package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	AuditStatusSuccess = "SUCCESS"
	AuditStatusFailed  = "FAILED"
)

// AdminAuditLog is an append-only record of administrator actions. Rows are
// written for successful and failed attempts alike and are never updated.
type AdminAuditLog struct {
	ID           uint           `gorm:"primaryKey" json:"id"`
	AdminID      uint           `gorm:"not null;index" json:"admin_id"`
	Action       string         `gorm:"type:varchar(100);not null;index" json:"action"`
	TargetType   string         `gorm:"type:varchar(50);default:''" json:"target_type,omitempty"`
	TargetID     uint           `gorm:"default:0" json:"target_id,omitempty"`
	TargetEmail  string         `gorm:"type:varchar(200);default:''" json:"target_email,omitempty"`
	Details      datatypes.JSON `gorm:"type:json" json:"details,omitempty"`
	IPAddress    string         `gorm:"type:varchar(45);default:''" json:"ip_address,omitempty"`
	UserAgent    string         `gorm:"type:varchar(255);default:''" json:"user_agent,omitempty"`
	Status       string         `gorm:"type:varchar(20);not null;index" json:"status"`
	ErrorMessage string         `gorm:"type:text" json:"error_message,omitempty"`
	CreatedAt    time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
