package entitlements

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/reelkit/reelkit/app/models"
)

func ts(v time.Time) *time.Time { return &v }

func TestResolveEmpty(t *testing.T) {
	eff := Resolve(nil, time.Now())

	assert.Equal(t, KindFree, eff.Kind)
	assert.Equal(t, models.PlanFree, eff.Plan)
	assert.False(t, eff.HasAccess())
}

func TestResolveLifetimeBeatsActive(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{
			UserID:           1,
			Status:           models.SubscriptionStatusActive,
			Plan:             models.PlanPro,
			CurrentPeriodEnd: ts(now.Add(20 * 24 * time.Hour)),
			UpdatedAt:        now,
		},
		{
			UserID:     1,
			Status:     models.SubscriptionStatusLifetime,
			Plan:       models.PlanLifetime,
			IsLifetime: true,
			UpdatedAt:  now.Add(-time.Hour),
		},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindLifetime, eff.Kind)
	assert.Equal(t, models.PlanLifetime, eff.Plan)
	assert.True(t, eff.HasAccess())
}

func TestResolveLifetimeFlagAloneDoesNotWin(t *testing.T) {
	// IsLifetime without a lifetime/company status is a partial write and
	// must not grant access.
	now := time.Now()
	subs := []models.Subscription{
		{UserID: 1, Status: models.SubscriptionStatusCanceled, Plan: models.PlanPro, IsLifetime: true, UpdatedAt: now},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindFree, eff.Kind)
}

func TestResolveActiveBeatsTrial(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{
			UserID:    1,
			Status:    models.SubscriptionStatusFreeTrial,
			Plan:      models.PlanStarter,
			TrialEnd:  ts(now.Add(5 * 24 * time.Hour)),
			UpdatedAt: now,
		},
		{
			UserID:           1,
			Status:           models.SubscriptionStatusActive,
			Plan:             models.PlanPro,
			CurrentPeriodEnd: ts(now.Add(25 * 24 * time.Hour)),
			UpdatedAt:        now.Add(-time.Minute),
		},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindPaid, eff.Kind)
	assert.Equal(t, models.PlanPro, eff.Plan)
}

func TestResolveTrialingCountsAsPaid(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{UserID: 1, Status: models.SubscriptionStatusTrialing, Plan: models.PlanTeam, UpdatedAt: now},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindPaid, eff.Kind)
	assert.Equal(t, models.SubscriptionStatusTrialing, eff.Status)
}

func TestResolveExpiredTrialFallsToFree(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{
			UserID:    1,
			Status:    models.SubscriptionStatusFreeTrial,
			Plan:      models.PlanStarter,
			TrialEnd:  ts(now.Add(-time.Hour)),
			UpdatedAt: now,
		},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindFree, eff.Kind)
	assert.Equal(t, models.PlanFree, eff.Plan)
	assert.True(t, eff.TrialExpired)
}

func TestResolveTrialWithoutEndUsesPeriodEnd(t *testing.T) {
	// Trial records without an explicit trial_end stay valid until their
	// period end.
	now := time.Now()
	end := now.Add(5 * 24 * time.Hour)
	subs := []models.Subscription{
		{
			UserID:           1,
			Status:           models.SubscriptionStatusFreeTrial,
			Plan:             models.PlanStarter,
			CurrentPeriodEnd: ts(end),
			UpdatedAt:        now,
		},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindTrial, eff.Kind)
	assert.Equal(t, models.PlanStarter, eff.Plan)
	if assert.NotNil(t, eff.ExpiresAt) {
		assert.True(t, eff.ExpiresAt.Equal(end))
	}
}

func TestResolveTrialWithoutAnyWindowFallsToFree(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{UserID: 1, Status: models.SubscriptionStatusFreeTrial, Plan: models.PlanStarter, UpdatedAt: now},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindFree, eff.Kind)
	assert.True(t, eff.TrialExpired)
}

func TestResolveNeverSubscribedIsNotTrialExpired(t *testing.T) {
	eff := Resolve(nil, time.Now())

	assert.Equal(t, KindFree, eff.Kind)
	assert.False(t, eff.TrialExpired)
}

func TestResolvePastDueFallsToFree(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{UserID: 1, Status: models.SubscriptionStatusPastDue, Plan: models.PlanPro, UpdatedAt: now},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindFree, eff.Kind)
}

func TestResolveMostRecentActiveWins(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{UserID: 1, Status: models.SubscriptionStatusActive, Plan: models.PlanStarter, UpdatedAt: now.Add(-time.Hour)},
		{UserID: 1, Status: models.SubscriptionStatusActive, Plan: models.PlanPro, UpdatedAt: now},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, models.PlanPro, eff.Plan)
}

func TestResolveCouponOverrideExposesExpiry(t *testing.T) {
	now := time.Now()
	end := now.Add(30 * 24 * time.Hour)
	subs := []models.Subscription{
		{
			UserID:           1,
			Status:           models.SubscriptionStatusLifetime,
			Plan:             models.PlanLifetime,
			IsLifetime:       true,
			SpecialNotes:     "Coupon: LAUNCH30",
			CurrentPeriodEnd: ts(end),
			UpdatedAt:        now,
		},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindLifetime, eff.Kind)
	if assert.NotNil(t, eff.ExpiresAt) {
		assert.True(t, eff.ExpiresAt.Equal(end))
	}
}

func TestResolveManualGrantHidesSentinelExpiry(t *testing.T) {
	now := time.Now()
	subs := []models.Subscription{
		{
			UserID:           1,
			Status:           models.SubscriptionStatusLifetime,
			Plan:             models.PlanLifetime,
			IsLifetime:       true,
			SpecialNotes:     "Granted by admin",
			CurrentPeriodEnd: ts(models.LifetimeSentinel),
			UpdatedAt:        now,
		},
	}

	eff := Resolve(subs, now)

	assert.Equal(t, KindLifetime, eff.Kind)
	assert.Nil(t, eff.ExpiresAt)
}
