package coupons

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

// Service handles coupon redemption and admin coupon management.
type Service struct {
	repo Repository
	now  func() time.Time
}

func NewService(repo Repository) *Service {
	return &Service{repo: repo, now: time.Now}
}

func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db))
}

// RedeemResult is returned to the user on successful redemption.
type RedeemResult struct {
	Code         string    `json:"code"`
	ExpiresAt    time.Time `json:"expires_at"`
	DurationDays int       `json:"duration_days"`
}

// Redeem validates a coupon for a user and installs the entitlement override
// in a single transaction. The prior billing state is snapshotted first so
// the expiry sweep can restore it; a live provider subscription is left
// untouched and keeps billing in the background.
func (s *Service) Redeem(ctx context.Context, userID uint, code string) (*RedeemResult, error) {
	if userID == 0 {
		return nil, errors.New("user_id is required")
	}
	normalized := models.NormalizeCouponCode(code)
	if normalized == "" {
		return nil, ErrNotFound
	}

	coupon, err := s.repo.GetCouponByCode(ctx, normalized)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	now := s.now()
	switch {
	case !coupon.IsActive:
		return nil, ErrInactive
	case coupon.IsExpired(now):
		return nil, ErrExpired
	case coupon.IsExhausted():
		return nil, ErrExhausted
	}

	subs, err := s.repo.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		sub := &subs[i]
		if sub.IsCouponOverride() && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			return nil, ErrActiveOverride
		}
		if sub.HasLifetimeAccess() && !sub.IsCouponOverride() {
			// Admin-granted permanent access outranks any coupon; installing
			// the override would only downgrade the user later.
			return nil, ErrActiveOverride
		}
	}

	end := coupon.OverrideEnd(now)

	err = s.repo.Transact(ctx, func(tx Repository) error {
		created, err := tx.CreateRedemptionIfNotExists(ctx, coupon.ID, userID)
		if err != nil {
			return err
		}
		if !created {
			return ErrAlreadyRedeemed
		}

		ok, err := tx.IncrementUses(ctx, coupon.ID)
		if err != nil {
			return err
		}
		if !ok {
			return ErrExhausted
		}

		return s.installOverride(ctx, tx, userID, coupon, now, end)
	})
	if err != nil {
		return nil, err
	}

	log.Infof("[Coupons] code %s redeemed by user=%d until %s", coupon.Code, userID, end.Format(time.RFC3339))
	return &RedeemResult{
		Code:         coupon.Code,
		ExpiresAt:    end,
		DurationDays: coupon.DurationDays,
	}, nil
}

// installOverride snapshots the user's current record (when one exists and is
// not already an override) and installs the time-boxed lifetime override on
// it. Provider ids are carried forward so the background subscription stays
// traceable.
func (s *Service) installOverride(ctx context.Context, tx Repository, userID uint, coupon *models.Coupon, now, end time.Time) error {
	subs, err := tx.ListUserSubscriptions(ctx, userID)
	if err != nil {
		return err
	}

	var target *models.Subscription
	if len(subs) > 0 {
		target = &subs[0]
	} else {
		target = &models.Subscription{UserID: userID}
	}

	if target.ID != 0 && !target.IsLifetime {
		if err := target.SetOriginalSnapshot(target.SnapshotFields()); err != nil {
			return fmt.Errorf("failed to snapshot prior state: %w", err)
		}
	}

	target.Status = models.SubscriptionStatusLifetime
	target.Plan = models.PlanLifetime
	target.IsLifetime = true
	target.CurrentPeriodStart = &now
	target.CurrentPeriodEnd = &end
	target.CancelAtPeriodEnd = false
	target.CanceledAt = nil
	target.SpecialNotes = models.CouponNoteTag + " " + coupon.Code

	return tx.SaveSubscription(ctx, target)
}

// CreateInput describes a new admin-issued coupon.
type CreateInput struct {
	Code         string
	Description  string
	AssignedTo   string
	CreatedBy    uint
	ExpiryDate   *time.Time
	DurationDays int
	MaxUses      int
}

// Create stores a new coupon with a normalized unique code.
func (s *Service) Create(ctx context.Context, in CreateInput) (*models.Coupon, error) {
	if in.CreatedBy == 0 {
		return nil, errors.New("created_by is required")
	}
	if in.MaxUses <= 0 {
		in.MaxUses = 1
	}

	coupon := &models.Coupon{
		Code:         models.NormalizeCouponCode(in.Code),
		Description:  strings.TrimSpace(in.Description),
		AssignedTo:   strings.TrimSpace(in.AssignedTo),
		CreatedBy:    in.CreatedBy,
		IsActive:     true,
		ExpiryDate:   in.ExpiryDate,
		DurationDays: in.DurationDays,
		MaxUses:      in.MaxUses,
	}
	if err := coupon.Validate(); err != nil {
		return nil, err
	}
	if err := s.repo.CreateCoupon(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// SetActive toggles a coupon's active flag.
func (s *Service) SetActive(ctx context.Context, couponID uint, active bool) (*models.Coupon, error) {
	coupon, err := s.repo.GetCouponByID(ctx, couponID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	coupon.IsActive = active
	if err := s.repo.SaveCoupon(ctx, coupon); err != nil {
		return nil, err
	}
	return coupon, nil
}

// Delete removes a coupon. Coupons with redemptions are kept for the audit
// trail and can only be deactivated.
func (s *Service) Delete(ctx context.Context, couponID uint) error {
	if _, err := s.repo.GetCouponByID(ctx, couponID); err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return ErrNotFound
		}
		return err
	}

	count, err := s.repo.CountRedemptions(ctx, couponID)
	if err != nil {
		return err
	}
	if count > 0 {
		return ErrCouponInUse
	}
	return s.repo.DeleteCoupon(ctx, couponID)
}

// Get loads one coupon by id.
func (s *Service) Get(ctx context.Context, couponID uint) (*models.Coupon, error) {
	coupon, err := s.repo.GetCouponByID(ctx, couponID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return coupon, nil
}

// List returns all coupons, newest first.
func (s *Service) List(ctx context.Context) ([]models.Coupon, error) {
	return s.repo.ListCoupons(ctx)
}
