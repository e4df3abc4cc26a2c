package coupons

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reelkit/reelkit/app/models"
)

// Repository provides DB operations for coupon redemption and the expiry
// sweeps. Transact runs a function against a repository bound to one
// transaction; the redemption unit relies on it.
type Repository interface {
	Transact(ctx context.Context, fn func(r Repository) error) error

	GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error)
	GetCouponByID(ctx context.Context, id uint) (*models.Coupon, error)
	ListCoupons(ctx context.Context) ([]models.Coupon, error)
	CreateCoupon(ctx context.Context, c *models.Coupon) error
	SaveCoupon(ctx context.Context, c *models.Coupon) error
	DeleteCoupon(ctx context.Context, id uint) error

	// CreateRedemptionIfNotExists returns false when the (coupon, user) pair
	// was already redeemed. The unique index is the compare-and-set guard.
	CreateRedemptionIfNotExists(ctx context.Context, couponID, userID uint) (bool, error)
	// IncrementUses returns false when the coupon is exhausted.
	IncrementUses(ctx context.Context, couponID uint) (bool, error)
	CountRedemptions(ctx context.Context, couponID uint) (int64, error)

	ListUserSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error

	ListActiveCouponOverrides(ctx context.Context, now time.Time) ([]models.Subscription, error)
	ListExpiredCouponOverrides(ctx context.Context, now time.Time) ([]models.Subscription, error)

	// MarkNotified returns false when the (user, subscription, stage) triple
	// was already recorded, so repeated sweeps never double-send.
	MarkNotified(ctx context.Context, userID, subscriptionID uint, stage string) (bool, error)
}

type gormRepository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) Transact(ctx context.Context, fn func(repo Repository) error) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&gormRepository{db: tx})
	})
}

func (r *gormRepository) GetCouponByCode(ctx context.Context, code string) (*models.Coupon, error) {
	var c models.Coupon
	err := r.db.WithContext(ctx).Where("code = ?", models.NormalizeCouponCode(code)).First(&c).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) GetCouponByID(ctx context.Context, id uint) (*models.Coupon, error) {
	var c models.Coupon
	err := r.db.WithContext(ctx).First(&c, id).Error
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (r *gormRepository) ListCoupons(ctx context.Context) ([]models.Coupon, error) {
	var cs []models.Coupon
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&cs).Error
	return cs, err
}

func (r *gormRepository) CreateCoupon(ctx context.Context, c *models.Coupon) error {
	return r.db.WithContext(ctx).Create(c).Error
}

func (r *gormRepository) SaveCoupon(ctx context.Context, c *models.Coupon) error {
	return r.db.WithContext(ctx).Save(c).Error
}

func (r *gormRepository) DeleteCoupon(ctx context.Context, id uint) error {
	return r.db.WithContext(ctx).Delete(&models.Coupon{}, id).Error
}

func (r *gormRepository) CreateRedemptionIfNotExists(ctx context.Context, couponID, userID uint) (bool, error) {
	redemption := &models.CouponRedemption{CouponID: couponID, UserID: userID}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "coupon_id"},
			{Name: "user_id"},
		},
		DoNothing: true,
	}).Create(redemption)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) IncrementUses(ctx context.Context, couponID uint) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Coupon{}).
		Where("id = ? AND current_uses < max_uses", couponID).
		Update("current_uses", gorm.Expr("current_uses + 1"))
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}

func (r *gormRepository) CountRedemptions(ctx context.Context, couponID uint) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.CouponRedemption{}).
		Where("coupon_id = ?", couponID).Count(&count).Error
	return count, err
}

func (r *gormRepository) ListUserSubscriptions(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).Where("user_id = ?", userID).Order("updated_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *gormRepository) ListActiveCouponOverrides(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("is_lifetime = ? AND status = ? AND special_notes LIKE ? AND current_period_end > ?",
			true, models.SubscriptionStatusLifetime, "%"+models.CouponNoteTag+"%", now).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) ListExpiredCouponOverrides(ctx context.Context, now time.Time) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("is_lifetime = ? AND status = ? AND special_notes LIKE ? AND current_period_end < ?",
			true, models.SubscriptionStatusLifetime, "%"+models.CouponNoteTag+"%", now).
		Find(&subs).Error
	return subs, err
}

func (r *gormRepository) MarkNotified(ctx context.Context, userID, subscriptionID uint, stage string) (bool, error) {
	record := &models.NotificationHistory{
		UserID:           userID,
		SubscriptionID:   subscriptionID,
		NotificationType: stage,
	}
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "subscription_id"},
			{Name: "notification_type"},
		},
		DoNothing: true,
	}).Create(record)
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected > 0, nil
}
