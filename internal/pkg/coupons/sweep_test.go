package coupons

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reelkit/reelkit/app/models"
)

func addOverride(repo *fakeRepository, userID uint, end time.Time, snapshot *models.SubscriptionSnapshot) *models.Subscription {
	sub := &models.Subscription{
		UserID:             userID,
		Status:             models.SubscriptionStatusLifetime,
		Plan:               models.PlanLifetime,
		IsLifetime:         true,
		SpecialNotes:       models.CouponNoteTag + " TESTCODE",
		CurrentPeriodStart: tsPtr(end.Add(-30 * 24 * time.Hour)),
		CurrentPeriodEnd:   tsPtr(end),
	}
	if snapshot != nil {
		_ = sub.SetOriginalSnapshot(*snapshot)
	}
	return repo.addSubscription(sub)
}

func TestNotifyExpiringStages(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	now := time.Now()
	addOverride(repo, 1, now.Add(6*24*time.Hour+12*time.Hour), nil) // 6.5 days -> 7-day stage
	addOverride(repo, 2, now.Add(2*24*time.Hour+12*time.Hour), nil) // 2.5 days -> 3-day stage
	addOverride(repo, 3, now.Add(24*time.Hour+12*time.Hour), nil)   // 1.5 days -> 1-day stage
	addOverride(repo, 4, now.Add(12*time.Hour), nil)                // 0.5 days -> expiry-today stage
	addOverride(repo, 5, now.Add(5*24*time.Hour), nil)              // 5 days -> between stages, nothing

	sent, err := sweeper.NotifyExpiring(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 4, sent)
}

func TestNotifyExpiringTodayStage(t *testing.T) {
	// The final warning lands within the last day, before the reversion
	// sweep takes access away, and uses its own dedupe record.
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	now := time.Now()
	created := addOverride(repo, 7, now.Add(6*time.Hour), nil)

	sent, err := sweeper.NotifyExpiring(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, sent)

	if assert.Equal(t, 1, notifier.count()) {
		assert.Equal(t, "Your coupon access expires today", notifier.calls[0].Title)
	}
	assert.True(t, repo.notified[dedupeKey{userID: 7, subID: created.ID, stage: models.NotificationStageExpiryToday}])
	assert.False(t, repo.notified[dedupeKey{userID: 7, subID: created.ID, stage: models.NotificationStageExpired}])
}

func TestNotifyExpiringDedupeAcrossRuns(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	now := time.Now()
	addOverride(repo, 1, now.Add(6*24*time.Hour+12*time.Hour), nil)

	sent, err := sweeper.NotifyExpiring(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, sent)

	sent, err = sweeper.NotifyExpiring(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, sent, "second run same day must not re-notify")
	assert.Equal(t, 1, notifier.count())
}

func TestRevertExpiredRestoresSnapshot(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	periodEnd := time.Now().Add(10 * 24 * time.Hour)
	snap := &models.SubscriptionSnapshot{
		StripeSubscriptionID: strPtr("sub_1"),
		StripeCustomerID:     strPtr("cus_1"),
		BillingInterval:      models.BillingIntervalMonthly,
		Status:               models.SubscriptionStatusActive,
		Plan:                 models.PlanPro,
		CurrentPeriodEnd:     tsPtr(periodEnd),
	}
	created := addOverride(repo, 1, time.Now().Add(-time.Hour), snap)

	reverted, err := sweeper.RevertExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reverted)

	sub := repo.subscriptionByID(created.ID)
	assert.Equal(t, models.SubscriptionStatusActive, sub.Status)
	assert.Equal(t, models.PlanPro, sub.Plan)
	assert.False(t, sub.IsLifetime)
	if assert.NotNil(t, sub.StripeSubscriptionID) {
		assert.Equal(t, "sub_1", *sub.StripeSubscriptionID)
	}
	assert.Empty(t, sub.OriginalSnapshot, "snapshot must be cleared exactly once")

	if assert.Equal(t, 1, notifier.count()) {
		assert.Equal(t, models.NotificationTypeSubscriptionRestore, notifier.calls[0].Type)
	}
}

func TestRevertExpiredWithoutSnapshotFallsBackToFree(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	created := addOverride(repo, 1, time.Now().Add(-time.Hour), nil)

	reverted, err := sweeper.RevertExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reverted)

	sub := repo.subscriptionByID(created.ID)
	assert.Equal(t, models.SubscriptionStatusCanceled, sub.Status)
	assert.Equal(t, models.PlanFree, sub.Plan)
	assert.False(t, sub.IsLifetime)
	assert.Nil(t, sub.StripeSubscriptionID)

	if assert.Equal(t, 1, notifier.count()) {
		assert.Equal(t, models.NotificationTypeCouponExpiredToFree, notifier.calls[0].Type)
	}
}

func TestRevertExpiredIsIdempotent(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	addOverride(repo, 1, time.Now().Add(-time.Hour), nil)

	reverted, err := sweeper.RevertExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reverted)

	// The reverted record no longer matches the selection predicate.
	reverted, err = sweeper.RevertExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, reverted)
	assert.Equal(t, 1, notifier.count())
}

func TestRevertExpiredLeavesUnexpiredAlone(t *testing.T) {
	repo := newFakeRepository()
	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)

	created := addOverride(repo, 1, time.Now().Add(24*time.Hour), nil)

	reverted, err := sweeper.RevertExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 0, reverted)

	sub := repo.subscriptionByID(created.ID)
	assert.True(t, sub.IsLifetime)
}

func TestInstallThenRevertRoundTrip(t *testing.T) {
	// Round-trip property: redeem over an existing record, then revert; all
	// snapshotted fields come back verbatim.
	repo := newFakeRepository()
	repo.addCoupon(&models.Coupon{Code: "ROUND", CreatedBy: 1, IsActive: true, DurationDays: 7, MaxUses: 5})
	periodEnd := time.Now().Add(15 * 24 * time.Hour)
	original := repo.addSubscription(&models.Subscription{
		UserID:               9,
		StripeSubscriptionID: strPtr("sub_rt"),
		StripeCustomerID:     strPtr("cus_rt"),
		StripePriceID:        strPtr("price_rt"),
		BillingInterval:      models.BillingIntervalYearly,
		Status:               models.SubscriptionStatusActive,
		Plan:                 models.PlanTeam,
		CurrentPeriodEnd:     tsPtr(periodEnd),
	})

	svc := NewService(repo)
	_, err := svc.Redeem(context.Background(), 9, "ROUND")
	assert.NoError(t, err)

	// Force expiry, then revert.
	sub := repo.subscriptionByID(original.ID)
	past := time.Now().Add(-time.Hour)
	sub.CurrentPeriodEnd = &past

	notifier := &recordingNotifier{}
	sweeper := NewSweeper(repo, notifier)
	reverted, err := sweeper.RevertExpired(context.Background())
	assert.NoError(t, err)
	assert.Equal(t, 1, reverted)

	restored := repo.subscriptionByID(original.ID)
	assert.Equal(t, models.SubscriptionStatusActive, restored.Status)
	assert.Equal(t, models.PlanTeam, restored.Plan)
	assert.Equal(t, models.BillingIntervalYearly, restored.BillingInterval)
	assert.False(t, restored.IsLifetime)
	assert.Empty(t, restored.OriginalSnapshot)
	if assert.NotNil(t, restored.StripeSubscriptionID) {
		assert.Equal(t, "sub_rt", *restored.StripeSubscriptionID)
	}
	if assert.NotNil(t, restored.StripePriceID) {
		assert.Equal(t, "price_rt", *restored.StripePriceID)
	}
	if assert.NotNil(t, restored.CurrentPeriodEnd) {
		assert.True(t, restored.CurrentPeriodEnd.Equal(periodEnd))
	}
}
