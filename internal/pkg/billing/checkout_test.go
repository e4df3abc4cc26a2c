package billing

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/entitlements"
)

type staticEntitlementRepo struct {
	subs []models.Subscription
}

func (s *staticEntitlementRepo) SubscriptionsForUser(_ context.Context, _ uint) ([]models.Subscription, error) {
	return s.subs, nil
}

func entitlementsServiceFor(subs []models.Subscription) *entitlements.Service {
	return entitlements.NewService(&staticEntitlementRepo{subs: subs})
}

func newCheckoutServiceForTest(repo *fakeRepository, client *fakeClient, entSubs []models.Subscription) *CheckoutService {
	svc := NewCheckoutService(repo, client, entitlementsServiceFor(entSubs))
	svc.graceWait = 50 * time.Millisecond
	svc.pollEvery = 5 * time.Millisecond
	return svc
}

func TestConfirmCheckoutDefersToWebhookRow(t *testing.T) {
	repo := newFakeRepository()
	existing := repo.addSubscription(&models.Subscription{
		UserID:               1,
		StripeSubscriptionID: strPtr("sub_1"),
		Status:               models.SubscriptionStatusActive,
		Plan:                 models.PlanPro,
	})
	client := newFakeClient()
	client.session = &CheckoutSession{ID: "cs_1", Subscription: "sub_1", Status: "complete"}
	svc := newCheckoutServiceForTest(repo, client, nil)

	sub, err := svc.ConfirmCheckout(context.Background(), 1, "cs_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout failed: %v", err)
	}
	if sub.ID != existing.ID {
		t.Fatalf("expected webhook row to win, got id=%d want %d", sub.ID, existing.ID)
	}
}

func TestConfirmCheckoutInsertsWhenWebhookNeverArrives(t *testing.T) {
	repo := newFakeRepository()
	client := newFakeClient()
	now := time.Now()
	client.session = &CheckoutSession{ID: "cs_1", Subscription: "sub_1", Status: "complete"}
	client.subscriptions["sub_1"] = &SubscriptionObject{
		ID:                 "sub_1",
		Customer:           "cus_1",
		Status:             "active",
		CurrentPeriodStart: now.Unix(),
		CurrentPeriodEnd:   now.Add(30 * 24 * time.Hour).Unix(),
	}
	svc := newCheckoutServiceForTest(repo, client, nil)

	sub, err := svc.ConfirmCheckout(context.Background(), 1, "cs_1")
	if err != nil {
		t.Fatalf("ConfirmCheckout failed: %v", err)
	}
	if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID != "sub_1" {
		t.Fatalf("expected inserted subscription for sub_1")
	}

	subs, _ := repo.ListSubscriptionsByUser(context.Background(), 1)
	if len(subs) != 1 {
		t.Fatalf("expected exactly one row, got %d", len(subs))
	}
}

func TestConfirmCheckoutSessionWithoutSubscription(t *testing.T) {
	client := newFakeClient()
	client.session = &CheckoutSession{ID: "cs_1", Status: "open"}
	svc := newCheckoutServiceForTest(newFakeRepository(), client, nil)

	_, err := svc.ConfirmCheckout(context.Background(), 1, "cs_1")
	if err == nil {
		t.Fatalf("expected error for incomplete session")
	}
}

func TestStartCheckoutRejectsActiveEntitlement(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(&models.User{ID: 1, Email: "user@example.com"})
	now := time.Now()
	end := now.Add(20 * 24 * time.Hour)
	svc := newCheckoutServiceForTest(repo, newFakeClient(), []models.Subscription{
		{UserID: 1, Status: models.SubscriptionStatusActive, Plan: models.PlanPro, CurrentPeriodEnd: &end, UpdatedAt: now},
	})

	_, err := svc.StartCheckout(context.Background(), 1, models.PlanPro, models.BillingIntervalMonthly)
	if !errors.Is(err, ErrAlreadySubscribed) {
		t.Fatalf("expected ErrAlreadySubscribed, got %v", err)
	}
}

func TestStartCheckoutUnknownPrice(t *testing.T) {
	repo := newFakeRepository()
	repo.addUser(&models.User{ID: 1, Email: "user@example.com"})
	svc := newCheckoutServiceForTest(repo, newFakeClient(), nil)

	_, err := svc.StartCheckout(context.Background(), 1, "nonsense", "weekly")
	if err == nil {
		t.Fatalf("expected error for unconfigured price")
	}
}
