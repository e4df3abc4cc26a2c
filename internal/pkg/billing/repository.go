package billing

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/reelkit/reelkit/app/models"
)

// Repository provides DB operations used by the billing services.
type Repository interface {
	GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error)
	CreateSubscriptionIfNotExists(ctx context.Context, sub *models.Subscription) (bool, *models.Subscription, error)
	SaveSubscription(ctx context.Context, sub *models.Subscription) error
	ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error)
	GetUserByID(ctx context.Context, userID uint) (*models.User, error)
	GetUserByProviderCustomerID(ctx context.Context, providerCustomerID string) (*models.User, error)
	SetUserProviderCustomerID(ctx context.Context, userID uint, providerCustomerID string) error
	CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error)
	MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error
}

type gormRepository struct {
	db *gorm.DB
}

// NewRepository creates a billing repository backed by GORM.
func NewRepository(db *gorm.DB) Repository {
	return &gormRepository{db: db}
}

func (r *gormRepository) GetSubscriptionByProviderID(ctx context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	var sub models.Subscription
	err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", providerSubscriptionID).First(&sub).Error
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

// CreateSubscriptionIfNotExists inserts the record unless a row with the same
// provider subscription id already exists. The unique index is the
// idempotency key; concurrent inserts race safely and exactly one wins.
func (r *gormRepository) CreateSubscriptionIfNotExists(ctx context.Context, sub *models.Subscription) (bool, *models.Subscription, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "stripe_subscription_id"},
		},
		DoNothing: true,
	}).Create(sub)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.Subscription
	if err := r.db.WithContext(ctx).
		Where("stripe_subscription_id = ?", sub.StripeSubscriptionID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) SaveSubscription(ctx context.Context, sub *models.Subscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *gormRepository) ListSubscriptionsByUser(ctx context.Context, userID uint) ([]models.Subscription, error) {
	var subs []models.Subscription
	err := r.db.WithContext(ctx).
		Where("user_id = ?", userID).Order("updated_at DESC").Find(&subs).Error
	return subs, err
}

func (r *gormRepository) GetUserByID(ctx context.Context, userID uint) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).First(&user, userID).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) GetUserByProviderCustomerID(ctx context.Context, providerCustomerID string) (*models.User, error) {
	var user models.User
	err := r.db.WithContext(ctx).
		Where("stripe_customer_id = ?", providerCustomerID).First(&user).Error
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (r *gormRepository) SetUserProviderCustomerID(ctx context.Context, userID uint, providerCustomerID string) error {
	return r.db.WithContext(ctx).Model(&models.User{}).Where("id = ?", userID).
		Update("stripe_customer_id", providerCustomerID).Error
}

func (r *gormRepository) CreateWebhookEventIfNotExists(ctx context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	tx := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "provider_event_id"},
		},
		DoNothing: true,
	}).Create(event)
	if tx.Error != nil {
		return false, nil, tx.Error
	}

	created := tx.RowsAffected > 0
	var stored models.WebhookEvent
	if err := r.db.WithContext(ctx).
		Where("provider_event_id = ?", event.ProviderEventID).
		First(&stored).Error; err != nil {
		return false, nil, err
	}
	return created, &stored, nil
}

func (r *gormRepository) MarkWebhookProcessed(ctx context.Context, id uint, processingError string) error {
	now := time.Now()
	// Processing only ever runs for deliveries whose signature verified, so
	// marking an event processed also settles its signature state.
	updates := map[string]interface{}{
		"processed_at":     &now,
		"processing_error": processingError,
		"signature_valid":  true,
	}
	return r.db.WithContext(ctx).Model(&models.WebhookEvent{}).Where("id = ?", id).Updates(updates).Error
}
