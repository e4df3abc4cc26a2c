package coupons

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

type redemptionKey struct {
	couponID uint
	userID   uint
}

type dedupeKey struct {
	userID uint
	subID  uint
	stage  string
}

// fakeRepository is an in-memory Repository. Transact runs the function
// directly; the uniqueness guards behave like their SQL counterparts.
type fakeRepository struct {
	mu sync.Mutex

	coupons     map[uint]*models.Coupon
	byCode      map[string]uint
	redemptions map[redemptionKey]time.Time
	subs        []*models.Subscription
	notified    map[dedupeKey]bool
	nextID      uint
	nextSubID   uint
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		coupons:     make(map[uint]*models.Coupon),
		byCode:      make(map[string]uint),
		redemptions: make(map[redemptionKey]time.Time),
		notified:    make(map[dedupeKey]bool),
	}
}

func (f *fakeRepository) addCoupon(c *models.Coupon) *models.Coupon {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextID++
	c.ID = f.nextID
	c.Code = models.NormalizeCouponCode(c.Code)
	f.coupons[c.ID] = c
	f.byCode[c.Code] = c.ID
	return c
}

func (f *fakeRepository) addSubscription(sub *models.Subscription) *models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextSubID++
	sub.ID = f.nextSubID
	sub.UpdatedAt = time.Now()
	f.subs = append(f.subs, sub)
	return sub
}

func (f *fakeRepository) Transact(_ context.Context, fn func(r Repository) error) error {
	return fn(f)
}

func (f *fakeRepository) GetCouponByCode(_ context.Context, code string) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if id, ok := f.byCode[models.NormalizeCouponCode(code)]; ok {
		return f.coupons[id], nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetCouponByID(_ context.Context, id uint) (*models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.coupons[id]; ok {
		return c, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) ListCoupons(_ context.Context) ([]models.Coupon, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Coupon
	for _, c := range f.coupons {
		out = append(out, *c)
	}
	return out, nil
}

func (f *fakeRepository) CreateCoupon(_ context.Context, c *models.Coupon) error {
	f.addCoupon(c)
	return nil
}

func (f *fakeRepository) SaveCoupon(_ context.Context, c *models.Coupon) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.coupons[c.ID] = c
	return nil
}

func (f *fakeRepository) DeleteCoupon(_ context.Context, id uint) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.coupons[id]; ok {
		delete(f.byCode, c.Code)
		delete(f.coupons, id)
	}
	return nil
}

func (f *fakeRepository) CreateRedemptionIfNotExists(_ context.Context, couponID, userID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := redemptionKey{couponID: couponID, userID: userID}
	if _, ok := f.redemptions[key]; ok {
		return false, nil
	}
	f.redemptions[key] = time.Now()
	return true, nil
}

func (f *fakeRepository) IncrementUses(_ context.Context, couponID uint) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.coupons[couponID]
	if !ok || c.CurrentUses >= c.MaxUses {
		return false, nil
	}
	c.CurrentUses++
	return true, nil
}

func (f *fakeRepository) CountRedemptions(_ context.Context, couponID uint) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var count int64
	for key := range f.redemptions {
		if key.couponID == couponID {
			count++
		}
	}
	return count, nil
}

func (f *fakeRepository) ListUserSubscriptions(_ context.Context, userID uint) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.UserID == userID {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepository) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i, existing := range f.subs {
		if existing.ID == sub.ID && sub.ID != 0 {
			cp := *sub
			cp.UpdatedAt = time.Now()
			f.subs[i] = &cp
			return nil
		}
	}
	f.nextSubID++
	cp := *sub
	cp.ID = f.nextSubID
	cp.UpdatedAt = time.Now()
	f.subs = append(f.subs, &cp)
	sub.ID = cp.ID
	return nil
}

func (f *fakeRepository) ListActiveCouponOverrides(_ context.Context, now time.Time) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.IsLifetime && sub.Status == models.SubscriptionStatusLifetime &&
			sub.IsCouponOverride() && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.After(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepository) ListExpiredCouponOverrides(_ context.Context, now time.Time) ([]models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []models.Subscription
	for _, sub := range f.subs {
		if sub.IsLifetime && sub.Status == models.SubscriptionStatusLifetime &&
			sub.IsCouponOverride() && sub.CurrentPeriodEnd != nil && sub.CurrentPeriodEnd.Before(now) {
			out = append(out, *sub)
		}
	}
	return out, nil
}

func (f *fakeRepository) MarkNotified(_ context.Context, userID, subscriptionID uint, stage string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	key := dedupeKey{userID: userID, subID: subscriptionID, stage: stage}
	if f.notified[key] {
		return false, nil
	}
	f.notified[key] = true
	return true, nil
}

func (f *fakeRepository) subscriptionByID(id uint) *models.Subscription {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.ID == id {
			return sub
		}
	}
	return nil
}

// recordingNotifier captures emitted notifications for assertions.
type recordingNotifier struct {
	mu    sync.Mutex
	calls []notifierCall
}

type notifierCall struct {
	UserID uint
	Type   string
	Title  string
}

func (r *recordingNotifier) Notify(userID uint, notificationType, title, _ string, _ map[string]interface{}) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, notifierCall{UserID: userID, Type: notificationType, Title: title})
	return nil
}

func (r *recordingNotifier) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.calls)
}
