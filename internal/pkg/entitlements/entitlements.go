package entitlements

import (
	"context"
	"sort"
	"time"

	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

// Kind classifies where an effective entitlement came from.
type Kind string

const (
	KindLifetime Kind = "lifetime"
	KindPaid     Kind = "paid"
	KindTrial    Kind = "trial"
	KindFree     Kind = "free"
)

// Effective is the resolved entitlement for a user at a point in time.
// TrialExpired distinguishes a user whose free trial ran out from one who
// never had a subscription at all; it is only set on free resolutions.
type Effective struct {
	Kind         Kind                 `json:"kind"`
	Plan         string               `json:"plan"`
	Status       string               `json:"status"`
	Subscription *models.Subscription `json:"-"`
	ExpiresAt    *time.Time           `json:"expires_at,omitempty"`
	TrialExpired bool                 `json:"trial_expired,omitempty"`
}

// HasAccess reports whether the entitlement grants any paid-tier access.
func (e Effective) HasAccess() bool {
	return e.Kind != KindFree
}

// Resolve reduces a user's subscription rows to a single effective
// entitlement. Precedence is fixed: a lifetime or company grant always wins,
// then an active or trialing provider subscription, then an unexpired free
// trial. Anything else resolves to the free plan. Ties within a band go to
// the most recently updated row.
func Resolve(subs []models.Subscription, now time.Time) Effective {
	// Most recently updated first so the first match in each band wins.
	ordered := make([]models.Subscription, len(subs))
	copy(ordered, subs)
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].UpdatedAt.After(ordered[j].UpdatedAt)
	})

	for i := range ordered {
		s := &ordered[i]
		if s.HasLifetimeAccess() {
			return Effective{
				Kind:         KindLifetime,
				Plan:         s.Plan,
				Status:       s.Status,
				Subscription: s,
				ExpiresAt:    overrideExpiry(s),
			}
		}
	}

	for i := range ordered {
		s := &ordered[i]
		if s.Status == models.SubscriptionStatusActive || s.Status == models.SubscriptionStatusTrialing {
			return Effective{
				Kind:         KindPaid,
				Plan:         s.Plan,
				Status:       s.Status,
				Subscription: s,
				ExpiresAt:    s.CurrentPeriodEnd,
			}
		}
	}

	sawTrial := false
	for i := range ordered {
		s := &ordered[i]
		if s.Status != models.SubscriptionStatusFreeTrial {
			continue
		}
		sawTrial = true
		// Trial records written without an explicit trial_end are bounded
		// by their period end instead.
		end := s.TrialEnd
		if end == nil {
			end = s.CurrentPeriodEnd
		}
		if end != nil && end.After(now) {
			return Effective{
				Kind:         KindTrial,
				Plan:         s.Plan,
				Status:       s.Status,
				Subscription: s,
				ExpiresAt:    end,
			}
		}
	}

	return Effective{
		Kind:         KindFree,
		Plan:         models.PlanFree,
		Status:       models.SubscriptionStatusCanceled,
		TrialExpired: sawTrial,
	}
}

// overrideExpiry surfaces the period end of a coupon override so callers can
// show "expires in N days". Manual grants carry the sentinel and report nil.
func overrideExpiry(s *models.Subscription) *time.Time {
	if s.CurrentPeriodEnd == nil {
		return nil
	}
	if s.CurrentPeriodEnd.Equal(models.LifetimeSentinel) {
		return nil
	}
	if s.IsCouponOverride() {
		return s.CurrentPeriodEnd
	}
	return nil
}

// Repository loads the subscription rows Resolve needs.
type Repository interface {
	SubscriptionsForUser(ctx context.Context, userID uint) ([]models.Subscription, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) SubscriptionsForUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC").
		Find(&subs).Error
	return subs, err
}

// Service resolves effective entitlements from stored subscriptions.
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

// EffectiveForUser loads the user's subscriptions and resolves them.
func (s *Service) EffectiveForUser(ctx context.Context, userID uint) (Effective, error) {
	subs, err := s.repo.SubscriptionsForUser(ctx, userID)
	if err != nil {
		return Effective{Kind: KindFree, Plan: models.PlanFree}, err
	}
	return Resolve(subs, s.now()), nil
}
