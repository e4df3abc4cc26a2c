package coupons

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reelkit/reelkit/app/models"
)

func strPtr(s string) *string      { return &s }
func tsPtr(t time.Time) *time.Time { return &t }

func newTestService(repo *fakeRepository) *Service {
	return NewService(repo)
}

func TestRedeemNewUserInstallsOverride(t *testing.T) {
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "LAUNCH7", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 10})
	svc := newTestService(repo)

	before := time.Now()
	res, err := svc.Redeem(context.Background(), 5, "launch7")
	assert.NoError(t, err)
	assert.Equal(t, "LAUNCH7", res.Code)
	assert.Equal(t, 7, res.DurationDays)
	assert.WithinDuration(t, before.Add(7*24*time.Hour), res.ExpiresAt, time.Minute)

	subs, _ := repo.ListUserSubscriptions(context.Background(), 5)
	if assert.Len(t, subs, 1) {
		sub := subs[0]
		assert.Equal(t, models.SubscriptionStatusLifetime, sub.Status)
		assert.Equal(t, models.PlanLifetime, sub.Plan)
		assert.True(t, sub.IsLifetime)
		assert.Contains(t, sub.SpecialNotes, "LAUNCH7")
		assert.Empty(t, sub.OriginalSnapshot)
	}
}

func TestRedeemSnapshotsExistingPaidRecord(t *testing.T) {
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "VIP30", CreatedBy: 1, IsActive: true, DurationDays: 30, MaxUses: 1})
	end := time.Now().Add(20 * 24 * time.Hour)
	repo.addSubscription(&models.Subscription{
		UserID:               5,
		StripeSubscriptionID: strPtr("sub_1"),
		StripeCustomerID:     strPtr("cus_1"),
		Status:               models.SubscriptionStatusActive,
		Plan:                 models.PlanPro,
		BillingInterval:      models.BillingIntervalMonthly,
		CurrentPeriodEnd:     tsPtr(end),
	})
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "VIP30")
	assert.NoError(t, err)

	subs, _ := repo.ListUserSubscriptions(context.Background(), 5)
	if assert.Len(t, subs, 1) {
		sub := subs[0]
		assert.True(t, sub.IsLifetime)
		// Provider ids carried forward so the background subscription stays
		// traceable; the provider subscription itself is never cancelled.
		if assert.NotNil(t, sub.StripeSubscriptionID) {
			assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
		}

		snap, ok, err := sub.GetOriginalSnapshot()
		assert.NoError(t, err)
		assert.True(t, ok)
		assert.Equal(t, models.SubscriptionStatusActive, snap.Status)
		assert.Equal(t, models.PlanPro, snap.Plan)
		if assert.NotNil(t, snap.StripeSubscriptionID) {
			assert.Equal(t, "sub_1", *snap.StripeSubscriptionID)
		}
	}
}

func TestRedeemRejectionReasons(t *testing.T) {
	now := time.Now()
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "INACTIVE", CreatedBy: 1, IsActive: false, MaxUses: 1})
	repo.addCoupon(&models.Coupon{Code: "OLD", CreatedBy: 1, IsActive: true, MaxUses: 1, ExpiryDate: tsPtr(now.Add(-time.Hour))})
	repo.addCoupon(&models.Coupon{Code: "USEDUP", CreatedBy: 1, IsActive: true, MaxUses: 2, CurrentUses: 2})
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "NOPE")
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = svc.Redeem(context.Background(), 5, "INACTIVE")
	assert.ErrorIs(t, err, ErrInactive)

	_, err = svc.Redeem(context.Background(), 5, "OLD")
	assert.ErrorIs(t, err, ErrExpired)

	_, err = svc.Redeem(context.Background(), 5, "USEDUP")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestRedeemTwiceSameUser(t *testing.T) {
	repo := newFakeRepository()
	coupon := repo.addCoupon(&models.Coupon{Code: "ONCE", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 5})
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "ONCE")
	assert.NoError(t, err)

	// The active override check fires before the redemption-uniqueness
	// guard for a user who still holds the override.
	_, err = svc.Redeem(context.Background(), 5, "ONCE")
	assert.ErrorIs(t, err, ErrActiveOverride)
	assert.Equal(t, 1, coupon.CurrentUses)
}

func TestRedeemAlreadyRedeemedAfterOverrideEnded(t *testing.T) {
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "AGAIN", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 5})
	// A past redemption exists but the override already reverted.
	repo.redemptions[redemptionKey{couponID: 1, userID: 5}] = time.Now().Add(-30 * 24 * time.Hour)
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "AGAIN")
	assert.ErrorIs(t, err, ErrAlreadyRedeemed)
}

func TestRedeemRejectsAdminLifetimeHolder(t *testing.T) {
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "DOWNGRADE", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 5})
	repo.addSubscription(&models.Subscription{
		UserID:       5,
		Status:       models.SubscriptionStatusLifetime,
		Plan:         models.PlanLifetime,
		IsLifetime:   true,
		SpecialNotes: "Granted by admin",
	})
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "DOWNGRADE")
	assert.ErrorIs(t, err, ErrActiveOverride)
}

func TestRedeemConcurrentSameUserSingleWinner(t *testing.T) {
	repo := newFakeRepository()
	coupon := repo.addCoupon(&models.Coupon{Code: "RACE", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 10})
	svc := newTestService(repo)

	const attempts = 8
	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Redeem(context.Background(), 5, "RACE")
		}(i)
	}
	wg.Wait()

	successes := 0
	for _, err := range errs {
		if err == nil {
			successes++
		}
	}
	assert.Equal(t, 1, successes, "exactly one concurrent redemption may win")
	assert.Equal(t, 1, coupon.CurrentUses)
}

func TestRedeemLastUseExhaustsCoupon(t *testing.T) {
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "LAST", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 1})
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "LAST")
	assert.NoError(t, err)

	_, err = svc.Redeem(context.Background(), 6, "LAST")
	assert.ErrorIs(t, err, ErrExhausted)
}

func TestCreateCouponNormalizesCode(t *testing.T) {
	repo := newFakeRepository()
	svc := newTestService(repo)

	coupon, err := svc.Create(context.Background(), CreateInput{
		Code:      "  welcome25 ",
		CreatedBy: 1,
		MaxUses:   5,
	})
	assert.NoError(t, err)
	assert.Equal(t, "WELCOME25", coupon.Code)
	assert.True(t, coupon.IsActive)
}

func TestDeleteCouponWithRedemptions(t *testing.T) {
	repo := newFakeRepository()
	coupon := repo.addCoupon(&models.Coupon{Code: "KEEP", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 5})
	svc := newTestService(repo)

	_, err := svc.Redeem(context.Background(), 5, "KEEP")
	assert.NoError(t, err)

	err = svc.Delete(context.Background(), coupon.ID)
	assert.ErrorIs(t, err, ErrCouponInUse)

	// Deactivation remains available.
	updated, err := svc.SetActive(context.Background(), coupon.ID, false)
	assert.NoError(t, err)
	assert.False(t, updated.IsActive)
}

func TestDeleteUnusedCoupon(t *testing.T) {
	repo := newFakeRepository()
	coupon := repo.addCoupon(&models.Coupon{Code: "UNUSED", CreatedBy: 1, IsActive: true, MaxUses: 5})
	svc := newTestService(repo)

	assert.NoError(t, svc.Delete(context.Background(), coupon.ID))
	_, err := repo.GetCouponByID(context.Background(), coupon.ID)
	assert.Error(t, err)
}
