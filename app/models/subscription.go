package models

import (
	"encoding/json"
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	BillingIntervalMonthly = "monthly"
	BillingIntervalYearly  = "yearly"
	BillingIntervalUnknown = "unknown"
)

const (
	SubscriptionStatusActive     = "active"
	SubscriptionStatusTrialing   = "trialing"
	SubscriptionStatusFreeTrial  = "free_trial"
	SubscriptionStatusPastDue    = "past_due"
	SubscriptionStatusCanceled   = "canceled"
	SubscriptionStatusIncomplete = "incomplete"
	SubscriptionStatusUnpaid     = "unpaid"
	SubscriptionStatusLifetime   = "lifetime"
	SubscriptionStatusCompany    = "company"
)

const (
	PlanFree     = "free"
	PlanStarter  = "starter"
	PlanPro      = "pro"
	PlanTeam     = "team"
	PlanLifetime = "lifetime"
	PlanCompany  = "company"
)

// CouponNoteTag marks a subscription row as a coupon-granted override. The
// expiry sweeps select on this tag, so it must survive note rewrites.
const CouponNoteTag = "Coupon:"

// LifetimeSentinel is the period end used for grants that never expire.
var LifetimeSentinel = time.Date(2099, 12, 31, 0, 0, 0, 0, time.UTC)

// Subscription is the local entitlement record for a user. A row may be
// backed by a live Stripe subscription (stripe_subscription_id set), be a
// manual lifetime/company grant, or be a time-boxed coupon override.
type Subscription struct {
	ID                   uint           `gorm:"primaryKey" json:"id"`
	UserID               uint           `gorm:"not null;index" json:"user_id"`
	StripeSubscriptionID *string        `gorm:"type:varchar(191);uniqueIndex:ux_subscriptions_stripe_sub_id" json:"stripe_subscription_id,omitempty"`
	StripeCustomerID     *string        `gorm:"type:varchar(191);index" json:"stripe_customer_id,omitempty"`
	StripePriceID        *string        `gorm:"type:varchar(191)" json:"stripe_price_id,omitempty"`
	BillingInterval      string         `gorm:"type:varchar(16);not null;default:'unknown'" json:"billing_interval"`
	Status               string         `gorm:"type:varchar(32);not null;index:idx_subscriptions_status" json:"status"`
	Plan                 string         `gorm:"type:varchar(50);not null;default:'free'" json:"plan"`
	IsLifetime           bool           `gorm:"default:false;index" json:"is_lifetime"`
	IsCompanyAccount     bool           `gorm:"default:false" json:"is_company_account"`
	CompanyName          string         `gorm:"type:varchar(200);default:''" json:"company_name,omitempty"`
	SpecialNotes         string         `gorm:"type:text" json:"special_notes,omitempty"`
	GrantedBy            *uint          `gorm:"default:null" json:"granted_by,omitempty"`
	CurrentPeriodStart   *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_start,omitempty"`
	CurrentPeriodEnd     *time.Time     `gorm:"type:timestamp;default:null" json:"current_period_end,omitempty"`
	CancelAtPeriodEnd    bool           `gorm:"default:false" json:"cancel_at_period_end"`
	CanceledAt           *time.Time     `gorm:"type:timestamp;default:null" json:"canceled_at,omitempty"`
	TrialStart           *time.Time     `gorm:"type:timestamp;default:null" json:"trial_start,omitempty"`
	TrialEnd             *time.Time     `gorm:"type:timestamp;default:null" json:"trial_end,omitempty"`
	OriginalSnapshot     datatypes.JSON `gorm:"type:json" json:"-"`
	CreatedAt            time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
	UpdatedAt            time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// HasLifetimeAccess re-checks flag and status together. A row where only one
// of the two is set is treated as not-lifetime (partial write defense).
func (s *Subscription) HasLifetimeAccess() bool {
	return s.IsLifetime &&
		(s.Status == SubscriptionStatusLifetime || s.Status == SubscriptionStatusCompany)
}

// IsCouponOverride reports whether this row was installed by a coupon
// redemption rather than a manual admin grant.
func (s *Subscription) IsCouponOverride() bool {
	return s.IsLifetime && strings.Contains(s.SpecialNotes, CouponNoteTag)
}

// SubscriptionSnapshot is the typed form of the original_snapshot column. It
// captures the billing fields that existed before a coupon override so the
// reversion sweep can restore them verbatim.
type SubscriptionSnapshot struct {
	StripeSubscriptionID *string    `json:"stripe_subscription_id"`
	StripeCustomerID     *string    `json:"stripe_customer_id"`
	StripePriceID        *string    `json:"stripe_price_id"`
	BillingInterval      string     `json:"billing_interval"`
	Status               string     `json:"status"`
	Plan                 string     `json:"plan"`
	CurrentPeriodStart   *time.Time `json:"current_period_start"`
	CurrentPeriodEnd     *time.Time `json:"current_period_end"`
	CancelAtPeriodEnd    bool       `json:"cancel_at_period_end"`
	TrialStart           *time.Time `json:"trial_start"`
	TrialEnd             *time.Time `json:"trial_end"`
}

// SnapshotFields captures the current billing fields into a snapshot value.
func (s *Subscription) SnapshotFields() SubscriptionSnapshot {
	return SubscriptionSnapshot{
		StripeSubscriptionID: s.StripeSubscriptionID,
		StripeCustomerID:     s.StripeCustomerID,
		StripePriceID:        s.StripePriceID,
		BillingInterval:      s.BillingInterval,
		Status:               s.Status,
		Plan:                 s.Plan,
		CurrentPeriodStart:   s.CurrentPeriodStart,
		CurrentPeriodEnd:     s.CurrentPeriodEnd,
		CancelAtPeriodEnd:    s.CancelAtPeriodEnd,
		TrialStart:           s.TrialStart,
		TrialEnd:             s.TrialEnd,
	}
}

// SetOriginalSnapshot serializes a snapshot into the JSON column. It refuses
// to overwrite an existing snapshot; the stored one always describes the
// state before the first override.
func (s *Subscription) SetOriginalSnapshot(snap SubscriptionSnapshot) error {
	if len(s.OriginalSnapshot) > 0 {
		return nil
	}
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	s.OriginalSnapshot = datatypes.JSON(data)
	return nil
}

// GetOriginalSnapshot parses the stored snapshot. The second return value is
// false when no snapshot is present.
func (s *Subscription) GetOriginalSnapshot() (SubscriptionSnapshot, bool, error) {
	if len(s.OriginalSnapshot) == 0 {
		return SubscriptionSnapshot{}, false, nil
	}
	var snap SubscriptionSnapshot
	if err := json.Unmarshal(s.OriginalSnapshot, &snap); err != nil {
		return SubscriptionSnapshot{}, false, err
	}
	return snap, true, nil
}

// ClearOriginalSnapshot removes the stored snapshot after reversion.
func (s *Subscription) ClearOriginalSnapshot() {
	s.OriginalSnapshot = nil
}

// RestoreFromSnapshot writes the snapshotted billing fields back onto the
// record and drops the lifetime override flags.
func (s *Subscription) RestoreFromSnapshot(snap SubscriptionSnapshot) {
	s.StripeSubscriptionID = snap.StripeSubscriptionID
	s.StripeCustomerID = snap.StripeCustomerID
	s.StripePriceID = snap.StripePriceID
	s.BillingInterval = snap.BillingInterval
	s.Status = snap.Status
	s.Plan = snap.Plan
	s.CurrentPeriodStart = snap.CurrentPeriodStart
	s.CurrentPeriodEnd = snap.CurrentPeriodEnd
	s.CancelAtPeriodEnd = snap.CancelAtPeriodEnd
	s.TrialStart = snap.TrialStart
	s.TrialEnd = snap.TrialEnd
	s.IsLifetime = false
	s.IsCompanyAccount = false
	s.GrantedBy = nil
}

func NormalizeBillingInterval(interval string) string {
	switch strings.ToLower(strings.TrimSpace(interval)) {
	case BillingIntervalMonthly, "month":
		return BillingIntervalMonthly
	case BillingIntervalYearly, "year":
		return BillingIntervalYearly
	default:
		return BillingIntervalUnknown
	}
}
