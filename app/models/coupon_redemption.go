package models

import "time"

// CouponRedemption links a coupon to the user who redeemed it. The unique
// (coupon_id, user_id) index is the compare-and-set guard that makes
// concurrent redemption attempts by the same user safe.
type CouponRedemption struct {
	ID         uint      `gorm:"primaryKey" json:"id"`
	CouponID   uint      `gorm:"not null;index:ux_coupon_redemptions_coupon_user,unique,priority:1" json:"coupon_id"`
	UserID     uint      `gorm:"not null;index:ux_coupon_redemptions_coupon_user,unique,priority:2" json:"user_id"`
	RedeemedAt time.Time `gorm:"autoCreateTime" json:"redeemed_at"`
}
