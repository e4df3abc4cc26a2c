package coupons

import "errors"

// Redemption rejection reasons. Controllers map these to specific client
// messages; none of them may collapse into a generic failure.
var (
	ErrNotFound        = errors.New("coupon not found")
	ErrInactive        = errors.New("coupon is not active")
	ErrExpired         = errors.New("coupon is expired")
	ErrExhausted       = errors.New("coupon has no uses left")
	ErrAlreadyRedeemed = errors.New("coupon already redeemed by this user")
	ErrActiveOverride  = errors.New("user already has an active override")
	ErrCouponInUse     = errors.New("coupon has been redeemed and cannot be deleted")
)
