package coupons

import (
	"context"
	"fmt"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

// Notifier delivers user-facing notifications emitted by the sweeps. The
// notify package implements it; tests substitute a recorder.
type Notifier interface {
	Notify(userID uint, notificationType, title, message string, metadata map[string]interface{}) error
}

// expiryStage is one pre-expiry warning window. Bounds are open/closed day
// ranges so each stage fires on exactly one sweep pass per subscription.
type expiryStage struct {
	name     string
	minDays  float64 // exclusive lower bound
	maxDays  float64 // inclusive upper bound
	headline string
}

var expiryStages = []expiryStage{
	{name: models.NotificationStageExpiry7Days, minDays: 6, maxDays: 7, headline: "Your coupon access expires in 7 days"},
	{name: models.NotificationStageExpiry3Days, minDays: 2, maxDays: 3, headline: "Your coupon access expires in 3 days"},
	{name: models.NotificationStageExpiry1Day, minDays: 1, maxDays: 2, headline: "Your coupon access expires tomorrow"},
	{name: models.NotificationStageExpiryToday, minDays: 0, maxDays: 1, headline: "Your coupon access expires today"},
}

// Sweeper runs the scheduled coupon-expiry jobs: staged pre-expiry warnings
// and the final reversion of expired overrides. Both are re-entrant; the
// dedupe records and the selection predicates make repeated runs no-ops.
type Sweeper struct {
	repo     Repository
	notifier Notifier
	now      func() time.Time
}

func NewSweeper(repo Repository, notifier Notifier) *Sweeper {
	return &Sweeper{repo: repo, notifier: notifier, now: time.Now}
}

func NewSweeperFromDB(db *gorm.DB, notifier Notifier) *Sweeper {
	return NewSweeper(NewRepository(db), notifier)
}

// NotifyExpiring emits at most one staged warning per override per stage.
// Returns the number of notifications sent this pass.
func (s *Sweeper) NotifyExpiring(ctx context.Context) (int, error) {
	now := s.now()
	subs, err := s.repo.ListActiveCouponOverrides(ctx, now)
	if err != nil {
		return 0, err
	}

	sent := 0
	for i := range subs {
		sub := &subs[i]
		if sub.CurrentPeriodEnd == nil {
			continue
		}
		daysLeft := sub.CurrentPeriodEnd.Sub(now).Hours() / 24

		for _, stage := range expiryStages {
			if daysLeft <= stage.minDays || daysLeft > stage.maxDays {
				continue
			}
			created, err := s.repo.MarkNotified(ctx, sub.UserID, sub.ID, stage.name)
			if err != nil {
				log.Errorf("[Coupons] failed to record %s dedupe for user=%d: %v", stage.name, sub.UserID, err)
				continue
			}
			if !created {
				continue
			}

			message := fmt.Sprintf("Your coupon-granted access ends on %s. After that your previous plan is restored automatically.",
				sub.CurrentPeriodEnd.Format("January 2, 2006"))
			if err := s.notifier.Notify(sub.UserID, models.NotificationTypeCouponExpiry, stage.headline, message, map[string]interface{}{
				"subscription_id": sub.ID,
				"stage":           stage.name,
				"expires_at":      sub.CurrentPeriodEnd,
			}); err != nil {
				log.Errorf("[Coupons] failed to notify user=%d stage=%s: %v", sub.UserID, stage.name, err)
				continue
			}
			sent++
		}
	}
	return sent, nil
}

// RevertExpired restores the snapshotted billing state of every expired
// coupon override, or falls back to the free baseline when no snapshot
// exists. Reverted records stop matching the selection predicate, so the
// sweep is idempotent.
func (s *Sweeper) RevertExpired(ctx context.Context) (int, error) {
	now := s.now()
	subs, err := s.repo.ListExpiredCouponOverrides(ctx, now)
	if err != nil {
		return 0, err
	}

	reverted := 0
	for i := range subs {
		sub := &subs[i]
		if err := s.revertOne(ctx, sub); err != nil {
			log.Errorf("[Coupons] failed to revert override for user=%d: %v", sub.UserID, err)
			continue
		}
		reverted++
	}
	return reverted, nil
}

func (s *Sweeper) revertOne(ctx context.Context, sub *models.Subscription) error {
	snap, hasSnapshot, err := sub.GetOriginalSnapshot()
	if err != nil {
		return fmt.Errorf("unreadable snapshot: %w", err)
	}

	if hasSnapshot {
		sub.RestoreFromSnapshot(snap)
		sub.SpecialNotes = "Coupon expired, previous plan restored"
		sub.ClearOriginalSnapshot()
		if err := s.repo.SaveSubscription(ctx, sub); err != nil {
			return err
		}

		s.markExpiredOnce(ctx, sub)
		restoredPaid := snap.Status == models.SubscriptionStatusActive || snap.Status == models.SubscriptionStatusTrialing
		title := "Your previous plan has been restored"
		message := "Your coupon access ended and your free plan is active again."
		notifType := models.NotificationTypeCouponExpiredToFree
		if restoredPaid {
			message = fmt.Sprintf("Your coupon access ended and your %s subscription is active again.", snap.Plan)
			notifType = models.NotificationTypeSubscriptionRestore
		}
		if err := s.notifier.Notify(sub.UserID, notifType, title, message, map[string]interface{}{
			"subscription_id": sub.ID,
			"restored_plan":   snap.Plan,
		}); err != nil {
			log.Errorf("[Coupons] failed to send reversion notice to user=%d: %v", sub.UserID, err)
		}
		return nil
	}

	// No snapshot: the override was the user's first record. Baseline free.
	now := s.now()
	sub.Status = models.SubscriptionStatusCanceled
	sub.Plan = models.PlanFree
	sub.IsLifetime = false
	sub.StripeSubscriptionID = nil
	sub.StripeCustomerID = nil
	sub.StripePriceID = nil
	sub.CanceledAt = &now
	sub.SpecialNotes = "Coupon expired"
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return err
	}

	s.markExpiredOnce(ctx, sub)
	if err := s.notifier.Notify(sub.UserID, models.NotificationTypeCouponExpiredToFree,
		"Your coupon access has ended",
		"Your coupon-granted access expired and your account is back on the free plan.",
		map[string]interface{}{"subscription_id": sub.ID}); err != nil {
		log.Errorf("[Coupons] failed to send expiry notice to user=%d: %v", sub.UserID, err)
	}
	return nil
}

func (s *Sweeper) markExpiredOnce(ctx context.Context, sub *models.Subscription) {
	if _, err := s.repo.MarkNotified(ctx, sub.UserID, sub.ID, models.NotificationStageExpired); err != nil {
		log.Errorf("[Coupons] failed to record expiry dedupe for user=%d: %v", sub.UserID, err)
	}
}
