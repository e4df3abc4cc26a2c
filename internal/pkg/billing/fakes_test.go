package billing

import (
	"context"
	"sync"
	"time"

	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

// fakeRepository is an in-memory Repository for service tests.
type fakeRepository struct {
	mu sync.Mutex

	subs      []*models.Subscription
	users     map[uint]*models.User
	events    map[string]*models.WebhookEvent
	nextSubID uint
	nextEvtID uint
	saveErr   error
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{
		users:  make(map[uint]*models.User),
		events: make(map[string]*models.WebhookEvent),
	}
}

func (f *fakeRepository) addUser(u *models.User) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.users[u.ID] = u
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

func (f *fakeRepository) GetSubscriptionByProviderID(_ context.Context, providerSubscriptionID string) (*models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, sub := range f.subs {
		if sub.StripeSubscriptionID != nil && *sub.StripeSubscriptionID == providerSubscriptionID {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateSubscriptionIfNotExists(_ context.Context, sub *models.Subscription) (bool, *models.Subscription, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, existing := range f.subs {
		if existing.StripeSubscriptionID != nil && sub.StripeSubscriptionID != nil &&
			*existing.StripeSubscriptionID == *sub.StripeSubscriptionID {
			return false, existing, nil
		}
	}
	f.nextSubID++
	sub.ID = f.nextSubID
	sub.UpdatedAt = time.Now()
	f.subs = append(f.subs, sub)
	return true, sub, nil
}

func (f *fakeRepository) SaveSubscription(_ context.Context, sub *models.Subscription) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.saveErr != nil {
		return f.saveErr
	}
	for i, existing := range f.subs {
		if existing.ID == sub.ID {
			sub.UpdatedAt = time.Now()
			f.subs[i] = sub
			return nil
		}
	}
	f.nextSubID++
	sub.ID = f.nextSubID
	f.subs = append(f.subs, sub)
	return nil
}

func (f *fakeRepository) ListSubscriptionsByUser(_ context.Context, userID uint) ([]models.Subscription, error) {
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

func (f *fakeRepository) GetUserByID(_ context.Context, userID uint) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		return u, nil
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) GetUserByProviderCustomerID(_ context.Context, providerCustomerID string) (*models.User, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, u := range f.users {
		if u.StripeCustomerID != nil && *u.StripeCustomerID == providerCustomerID {
			return u, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}

func (f *fakeRepository) SetUserProviderCustomerID(_ context.Context, userID uint, providerCustomerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if u, ok := f.users[userID]; ok {
		cid := providerCustomerID
		u.StripeCustomerID = &cid
		return nil
	}
	return gorm.ErrRecordNotFound
}

func (f *fakeRepository) CreateWebhookEventIfNotExists(_ context.Context, event *models.WebhookEvent) (bool, *models.WebhookEvent, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if existing, ok := f.events[event.ProviderEventID]; ok {
		return false, existing, nil
	}
	f.nextEvtID++
	event.ID = f.nextEvtID
	f.events[event.ProviderEventID] = event
	return true, event, nil
}

func (f *fakeRepository) MarkWebhookProcessed(_ context.Context, id uint, processingError string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	now := time.Now()
	for _, evt := range f.events {
		if evt.ID == id {
			evt.ProcessedAt = &now
			evt.ProcessingError = processingError
			evt.SignatureValid = true
			return nil
		}
	}
	return gorm.ErrRecordNotFound
}

// fakeClient is a canned ProviderClient for service tests.
type fakeClient struct {
	subscriptions map[string]*SubscriptionObject
	listResult    []SubscriptionObject
	cancelErr     error
	canceledIDs   []string
	session       *CheckoutSession
}

func newFakeClient() *fakeClient {
	return &fakeClient{subscriptions: make(map[string]*SubscriptionObject)}
}

func (f *fakeClient) GetSubscription(_ context.Context, id string) (*SubscriptionObject, error) {
	if sub, ok := f.subscriptions[id]; ok {
		return sub, nil
	}
	return nil, &Error{StatusCode: 404, Code: "resource_missing", Message: "no such subscription"}
}

func (f *fakeClient) ListSubscriptions(_ context.Context, _ string) ([]SubscriptionObject, error) {
	return f.listResult, nil
}

func (f *fakeClient) CancelSubscription(_ context.Context, id string) error {
	f.canceledIDs = append(f.canceledIDs, id)
	return f.cancelErr
}

func (f *fakeClient) SetCancelAtPeriodEnd(_ context.Context, id string, cancel bool) (*SubscriptionObject, error) {
	if sub, ok := f.subscriptions[id]; ok {
		sub.CancelAtPeriodEnd = cancel
		return sub, nil
	}
	return nil, &Error{StatusCode: 404, Code: "resource_missing", Message: "no such subscription"}
}

func (f *fakeClient) CreateCustomer(_ context.Context, _, _ string) (string, error) {
	return "cus_test", nil
}

func (f *fakeClient) CreateCheckoutSession(_ context.Context, _ CheckoutSessionInput) (*CheckoutSession, error) {
	if f.session != nil {
		return f.session, nil
	}
	return &CheckoutSession{ID: "cs_test", URL: "https://checkout.test/session"}, nil
}

func (f *fakeClient) GetCheckoutSession(_ context.Context, _ string) (*CheckoutSession, error) {
	if f.session != nil {
		return f.session, nil
	}
	return nil, &Error{StatusCode: 404, Code: "resource_missing", Message: "no such session"}
}

func (f *fakeClient) CreateBillingPortalSession(_ context.Context, _, _ string) (string, error) {
	return "https://portal.test/session", nil
}

func (f *fakeClient) ListInvoices(_ context.Context, _ string, _ int) ([]Invoice, error) {
	return []Invoice{}, nil
}
