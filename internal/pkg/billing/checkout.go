package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/entitlements"
	"github.com/reelkit/reelkit/internal/pkg/env"
)

// ErrAlreadySubscribed is returned when checkout is requested by a user whose
// resolved entitlement is already paid or lifetime.
var ErrAlreadySubscribed = errors.New("user already has an active entitlement")

// CheckoutService starts provider checkouts and confirms them after payment.
// Confirmation races against the webhook synchronizer: whichever writer runs
// first inserts the row, the other defers to it.
type CheckoutService struct {
	repo         Repository
	client       ProviderClient
	entitlements *entitlements.Service

	graceWait time.Duration
	pollEvery time.Duration
	now       func() time.Time
}

func NewCheckoutService(repo Repository, client ProviderClient, ent *entitlements.Service) *CheckoutService {
	return &CheckoutService{
		repo:         repo,
		client:       client,
		entitlements: ent,
		graceWait:    8 * time.Second,
		pollEvery:    500 * time.Millisecond,
		now:          time.Now,
	}
}

func NewCheckoutServiceFromDB(db *gorm.DB) *CheckoutService {
	return NewCheckoutService(NewRepository(db), NewStripeClientFromEnv(), entitlements.NewServiceFromDB(db))
}

// StartCheckout creates a provider checkout session and returns its redirect
// URL. Users who already hold a paid or lifetime entitlement are rejected.
func (s *CheckoutService) StartCheckout(ctx context.Context, userID uint, plan, interval string) (string, error) {
	if userID == 0 {
		return "", errors.New("user_id is required")
	}

	eff, err := s.entitlements.EffectiveForUser(ctx, userID)
	if err != nil {
		return "", err
	}
	if eff.Kind == entitlements.KindLifetime || eff.Kind == entitlements.KindPaid {
		return "", ErrAlreadySubscribed
	}

	priceID := PriceIDFor(plan, interval)
	if priceID == "" {
		return "", fmt.Errorf("no price configured for plan=%s interval=%s", plan, interval)
	}

	customerID, err := s.ensureCustomer(ctx, userID)
	if err != nil {
		return "", err
	}

	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	session, err := s.client.CreateCheckoutSession(ctx, CheckoutSessionInput{
		CustomerID: customerID,
		PriceID:    priceID,
		SuccessURL: base + "/api/v1/subscription/confirm?session_id={CHECKOUT_SESSION_ID}",
		CancelURL:  base + "/pricing",
	})
	if err != nil {
		return "", fmt.Errorf("failed to create checkout session: %w", err)
	}
	if session.URL == "" {
		return "", errors.New("checkout session has no redirect url")
	}
	return session.URL, nil
}

// ConfirmCheckout resolves a completed checkout session to a local
// subscription record. The webhook usually arrives first; we wait a bounded
// grace period for it, then insert the record ourselves through the same
// idempotent path the synchronizer uses. Both writers converge on one row.
func (s *CheckoutService) ConfirmCheckout(ctx context.Context, userID uint, sessionID string) (*models.Subscription, error) {
	if userID == 0 || strings.TrimSpace(sessionID) == "" {
		return nil, errors.New("user_id and session_id are required")
	}

	session, err := s.client.GetCheckoutSession(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkout session: %w", err)
	}
	subID := strings.TrimSpace(session.Subscription)
	if subID == "" {
		return nil, errors.New("checkout session has no subscription yet")
	}

	deadline := s.now().Add(s.graceWait)
	for {
		sub, err := s.repo.GetSubscriptionByProviderID(ctx, subID)
		if err == nil {
			// The synchronizer won the race.
			return sub, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, err
		}
		if s.now().After(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(s.pollEvery):
		}
	}

	log.Infof("[Billing] webhook for subscription %s not seen within grace period, inserting directly", subID)

	obj, err := s.client.GetSubscription(ctx, subID)
	if err != nil {
		return nil, fmt.Errorf("failed to load provider subscription: %w", err)
	}

	svc := NewService(s.repo, s.client)
	_, stored, err := s.repo.CreateSubscriptionIfNotExists(ctx, svc.subscriptionFromObject(userID, obj))
	if err != nil {
		return nil, err
	}
	return stored, nil
}

// CancelAtPeriodEnd flags the user's live subscription to end at the period
// boundary instead of cancelling immediately.
func (s *CheckoutService) CancelAtPeriodEnd(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}

	obj, err := s.client.SetCancelAtPeriodEnd(ctx, *sub.StripeSubscriptionID, true)
	if err != nil {
		return nil, fmt.Errorf("failed to schedule cancellation: %w", err)
	}

	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	sub.CanceledAt = unixTime(obj.CanceledAt)
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Reactivate removes a pending cancel-at-period-end flag.
func (s *CheckoutService) Reactivate(ctx context.Context, userID uint) (*models.Subscription, error) {
	sub, err := s.liveSubscription(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !sub.CancelAtPeriodEnd {
		return sub, nil
	}

	obj, err := s.client.SetCancelAtPeriodEnd(ctx, *sub.StripeSubscriptionID, false)
	if err != nil {
		return nil, fmt.Errorf("failed to reactivate subscription: %w", err)
	}

	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	sub.CanceledAt = nil
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return nil, err
	}
	return sub, nil
}

// Invoices lists the user's provider invoices for the billing history view.
func (s *CheckoutService) Invoices(ctx context.Context, userID uint, limit int) ([]Invoice, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return []Invoice{}, nil
	}
	return s.client.ListInvoices(ctx, *user.StripeCustomerID, limit)
}

// PortalURL creates a provider billing portal session for the user.
func (s *CheckoutService) PortalURL(ctx context.Context, userID uint) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return "", errors.New("user has no billing profile")
	}
	base := strings.TrimRight(env.GetEnv("PUBLIC_DOMAIN", ""), "/")
	return s.client.CreateBillingPortalSession(ctx, *user.StripeCustomerID, base+"/account/billing")
}

func (s *CheckoutService) ensureCustomer(ctx context.Context, userID uint) (string, error) {
	user, err := s.repo.GetUserByID(ctx, userID)
	if err != nil {
		return "", err
	}
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	customerID, err := s.client.CreateCustomer(ctx, user.Email, user.Name)
	if err != nil {
		return "", fmt.Errorf("failed to create billing profile: %w", err)
	}
	if err := s.repo.SetUserProviderCustomerID(ctx, userID, customerID); err != nil {
		return "", err
	}
	return customerID, nil
}

func (s *CheckoutService) liveSubscription(ctx context.Context, userID uint) (*models.Subscription, error) {
	subs, err := s.repo.ListSubscriptionsByUser(ctx, userID)
	if err != nil {
		return nil, err
	}
	for i := range subs {
		sub := &subs[i]
		if sub.IsLifetime {
			continue
		}
		if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID == "" {
			continue
		}
		if sub.Status == models.SubscriptionStatusActive || sub.Status == models.SubscriptionStatusTrialing || sub.Status == models.SubscriptionStatusPastDue {
			return sub, nil
		}
	}
	return nil, gorm.ErrRecordNotFound
}
