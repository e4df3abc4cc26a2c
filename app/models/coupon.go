package models

import (
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

// Coupon is an administrator-issued promotional code granting a time-boxed
// entitlement override. Codes are stored upper-cased and must be unique.
type Coupon struct {
	ID           uint       `gorm:"primaryKey" json:"id"`
	Code         string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"code" validate:"required,min=3,max=64"`
	Description  string     `gorm:"type:text" json:"description,omitempty"`
	AssignedTo   string     `gorm:"type:varchar(200);default:''" json:"assigned_to,omitempty"`
	CreatedBy    uint       `gorm:"not null;index" json:"created_by"`
	IsActive     bool       `gorm:"default:true;index" json:"is_active"`
	ExpiryDate   *time.Time `gorm:"type:timestamp;default:null" json:"expiry_date,omitempty"`
	DurationDays int        `gorm:"not null;default:0" json:"duration_days" validate:"min=0"`
	MaxUses      int        `gorm:"not null;default:1" json:"max_uses" validate:"min=1"`
	CurrentUses  int        `gorm:"not null;default:0" json:"current_uses"`
	CreatedAt    time.Time  `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt    time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (c *Coupon) Validate() error {
	v := validator.New()
	return v.Struct(c)
}

// IsExpired reports whether the coupon itself (not a granted override) has
// passed its redemption deadline.
func (c *Coupon) IsExpired(now time.Time) bool {
	return c.ExpiryDate != nil && c.ExpiryDate.Before(now)
}

// IsExhausted reports whether all uses have been consumed.
func (c *Coupon) IsExhausted() bool {
	return c.CurrentUses >= c.MaxUses
}

// OverrideEnd computes the period end an override granted now receives:
// DurationDays from now when set, otherwise the coupon's own expiry date,
// otherwise the never-expires sentinel.
func (c *Coupon) OverrideEnd(now time.Time) time.Time {
	if c.DurationDays > 0 {
		return now.Add(time.Duration(c.DurationDays) * 24 * time.Hour)
	}
	if c.ExpiryDate != nil {
		return *c.ExpiryDate
	}
	return LifetimeSentinel
}

// NormalizeCouponCode upper-cases and trims a user-supplied code.
func NormalizeCouponCode(code string) string {
	return strings.ToUpper(strings.TrimSpace(code))
}
