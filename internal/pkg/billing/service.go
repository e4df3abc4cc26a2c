package billing

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

// Service reconciles provider subscription events into local entitlement
// records. All write paths are idempotent so the provider's at-least-once
// delivery can replay any event safely.
type Service struct {
	repo   Repository
	client ProviderClient
	now    func() time.Time
}

// NewService creates a billing service from injected dependencies.
func NewService(repo Repository, client ProviderClient) *Service {
	return &Service{repo: repo, client: client, now: time.Now}
}

// NewServiceFromDB creates a billing service from a GORM DB handle and the
// env-configured provider client.
func NewServiceFromDB(db *gorm.DB) *Service {
	return NewService(NewRepository(db), NewStripeClientFromEnv())
}

// RecordWebhookEvent persists webhook payloads idempotently. Events without a
// provider event id are keyed by a payload hash.
func (s *Service) RecordWebhookEvent(ctx context.Context, in WebhookEventInput) (bool, *models.WebhookEvent, error) {
	eventID := strings.TrimSpace(in.ProviderEventID)
	if eventID == "" {
		sum := sha256.Sum256([]byte(in.PayloadJSON))
		eventID = "hash:" + hex.EncodeToString(sum[:])
	}

	event := &models.WebhookEvent{
		ProviderEventID: eventID,
		EventType:       strings.TrimSpace(in.EventType),
		PayloadJSON:     in.PayloadJSON,
		SignatureValid:  in.SignatureValid,
	}
	return s.repo.CreateWebhookEventIfNotExists(ctx, event)
}

// NeedsReprocessing reports whether a redelivered event should be applied
// again instead of acknowledged as a duplicate: the stored record never
// finished cleanly, failed during processing, or was captured from a delivery
// that did not verify. ApplyEvent is idempotent, so re-running it for such
// records is safe.
func NeedsReprocessing(evt *models.WebhookEvent) bool {
	if evt == nil {
		return false
	}
	return !evt.SignatureValid || evt.ProcessedAt == nil || evt.ProcessingError != ""
}

// MarkWebhookProcessed marks an event as processed and stores an optional error.
func (s *Service) MarkWebhookProcessed(ctx context.Context, webhookEventID uint, processingErr error) error {
	if webhookEventID == 0 {
		return errors.New("webhook_event_id is required")
	}
	errMsg := ""
	if processingErr != nil {
		errMsg = processingErr.Error()
	}
	return s.repo.MarkWebhookProcessed(ctx, webhookEventID, errMsg)
}

// ApplyEvent routes a parsed provider event to its handler. The returned
// Outcome tells the webhook controller how to acknowledge: Applied and
// Ignored and Skipped all acknowledge 200; only an error asks the provider
// to redeliver.
func (s *Service) ApplyEvent(ctx context.Context, evt *Event) (Outcome, error) {
	if evt == nil {
		return OutcomeSkipped, errors.New("event is required")
	}

	switch evt.Type {
	case EventSubscriptionCreated:
		return s.applySubscriptionCreated(ctx, evt)
	case EventSubscriptionUpdated:
		return s.applySubscriptionUpdated(ctx, evt)
	case EventSubscriptionDeleted:
		return s.applySubscriptionDeleted(ctx, evt)
	case EventInvoicePaid:
		return s.applyInvoicePaid(ctx, evt)
	case EventInvoiceFailed:
		return s.applyInvoiceFailed(ctx, evt)
	default:
		log.Debugf("[Billing] ignoring unhandled event type %s", evt.Type)
		return OutcomeSkipped, nil
	}
}

func (s *Service) applySubscriptionCreated(ctx context.Context, evt *Event) (Outcome, error) {
	obj := evt.Subscription
	if obj == nil || strings.TrimSpace(obj.ID) == "" {
		log.Warnf("[Billing] created event %s has no subscription object", evt.ID)
		return OutcomeSkipped, nil
	}

	// Malformed period data will not improve on redelivery, so skip instead
	// of erroring.
	start := unixTime(obj.CurrentPeriodStart)
	end := unixTime(obj.CurrentPeriodEnd)
	if start == nil || end == nil {
		log.Warnf("[Billing] created event %s for %s missing period window, skipping", evt.ID, obj.ID)
		return OutcomeSkipped, nil
	}

	user, err := s.repo.GetUserByProviderCustomerID(ctx, obj.Customer)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Billing] created event %s references unknown customer %s, skipping", evt.ID, obj.Customer)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	sub := s.subscriptionFromObject(user.ID, obj)
	created, _, err := s.repo.CreateSubscriptionIfNotExists(ctx, sub)
	if err != nil {
		return OutcomeSkipped, err
	}
	if !created {
		return OutcomeIgnored, nil
	}
	return OutcomeApplied, nil
}

func (s *Service) applySubscriptionUpdated(ctx context.Context, evt *Event) (Outcome, error) {
	obj := evt.Subscription
	if obj == nil || strings.TrimSpace(obj.ID) == "" {
		return OutcomeSkipped, nil
	}

	sub, err := s.repo.GetSubscriptionByProviderID(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// A subscription first seen via "updated" has no reliable
			// creation fields; log and acknowledge instead of guessing.
			log.Warnf("[Billing] updated event %s references unknown subscription %s, skipping", evt.ID, obj.ID)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	if sub.IsLifetime {
		// Manually granted or coupon-overridden records are never clobbered
		// by provider state.
		log.Infof("[Billing] ignoring updated event %s for lifetime record user=%d", evt.ID, sub.UserID)
		return OutcomeIgnored, nil
	}

	sub.Status = normalizeProviderStatus(obj.Status)
	sub.CurrentPeriodStart = unixTime(obj.CurrentPeriodStart)
	sub.CurrentPeriodEnd = unixTime(obj.CurrentPeriodEnd)
	sub.CancelAtPeriodEnd = obj.CancelAtPeriodEnd
	sub.CanceledAt = unixTime(obj.CanceledAt)
	sub.TrialStart = unixTime(obj.TrialStart)
	sub.TrialEnd = unixTime(obj.TrialEnd)
	if priceID := obj.PriceID(); priceID != "" {
		sub.StripePriceID = &priceID
		sub.Plan = PlanForPriceID(priceID)
	}
	if interval := obj.Interval(); interval != "" {
		sub.BillingInterval = models.NormalizeBillingInterval(interval)
	}

	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeApplied, nil
}

func (s *Service) applySubscriptionDeleted(ctx context.Context, evt *Event) (Outcome, error) {
	obj := evt.Subscription
	if obj == nil || strings.TrimSpace(obj.ID) == "" {
		return OutcomeSkipped, nil
	}

	sub, err := s.repo.GetSubscriptionByProviderID(ctx, obj.ID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			log.Warnf("[Billing] deleted event %s references unknown subscription %s, skipping", evt.ID, obj.ID)
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	if sub.IsLifetime {
		log.Infof("[Billing] ignoring deleted event %s for lifetime record user=%d", evt.ID, sub.UserID)
		return OutcomeIgnored, nil
	}

	now := s.now()
	sub.Status = models.SubscriptionStatusCanceled
	if at := unixTime(obj.CanceledAt); at != nil {
		sub.CanceledAt = at
	} else {
		sub.CanceledAt = &now
	}

	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeApplied, nil
}

func (s *Service) applyInvoicePaid(ctx context.Context, evt *Event) (Outcome, error) {
	inv := evt.Invoice
	if inv == nil || strings.TrimSpace(inv.Subscription) == "" {
		log.Debugf("[Billing] invoice event %s has no subscription reference, skipping", evt.ID)
		return OutcomeSkipped, nil
	}

	sub, err := s.repo.GetSubscriptionByProviderID(ctx, inv.Subscription)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	if sub.IsLifetime {
		return OutcomeIgnored, nil
	}
	if sub.Status != models.SubscriptionStatusPastDue {
		return OutcomeIgnored, nil
	}

	sub.Status = models.SubscriptionStatusActive
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeApplied, nil
}

func (s *Service) applyInvoiceFailed(ctx context.Context, evt *Event) (Outcome, error) {
	inv := evt.Invoice
	if inv == nil || strings.TrimSpace(inv.Subscription) == "" {
		return OutcomeSkipped, nil
	}

	sub, err := s.repo.GetSubscriptionByProviderID(ctx, inv.Subscription)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return OutcomeSkipped, nil
		}
		return OutcomeSkipped, err
	}

	if sub.IsLifetime {
		return OutcomeIgnored, nil
	}
	if sub.Status == models.SubscriptionStatusPastDue {
		return OutcomeIgnored, nil
	}

	sub.Status = models.SubscriptionStatusPastDue
	if err := s.repo.SaveSubscription(ctx, sub); err != nil {
		return OutcomeSkipped, err
	}
	return OutcomeApplied, nil
}

// SyncFromProvider pulls the customer's subscriptions from the provider and
// creates any that are missing locally. Self-heals when a webhook delivery
// was lost; uses the same idempotent insert as the webhook path.
func (s *Service) SyncFromProvider(ctx context.Context, userID uint, providerCustomerID string) (int, error) {
	cid := strings.TrimSpace(providerCustomerID)
	if userID == 0 || cid == "" {
		return 0, errors.New("user_id and provider customer id are required")
	}
	if s.client == nil {
		return 0, errors.New("provider client is not configured")
	}

	subs, err := s.client.ListSubscriptions(ctx, cid)
	if err != nil {
		return 0, fmt.Errorf("failed to list provider subscriptions: %w", err)
	}

	createdCount := 0
	for i := range subs {
		obj := &subs[i]
		if strings.TrimSpace(obj.ID) == "" {
			continue
		}
		if unixTime(obj.CurrentPeriodStart) == nil || unixTime(obj.CurrentPeriodEnd) == nil {
			log.Warnf("[Billing] provider subscription %s missing period window during sync, skipping", obj.ID)
			continue
		}
		created, _, err := s.repo.CreateSubscriptionIfNotExists(ctx, s.subscriptionFromObject(userID, obj))
		if err != nil {
			return createdCount, err
		}
		if created {
			createdCount++
		}
	}
	return createdCount, nil
}

func (s *Service) subscriptionFromObject(userID uint, obj *SubscriptionObject) *models.Subscription {
	subID := strings.TrimSpace(obj.ID)
	custID := strings.TrimSpace(obj.Customer)
	priceID := obj.PriceID()

	sub := &models.Subscription{
		UserID:               userID,
		StripeSubscriptionID: &subID,
		BillingInterval:      models.NormalizeBillingInterval(obj.Interval()),
		Status:               normalizeProviderStatus(obj.Status),
		Plan:                 PlanForPriceID(priceID),
		CurrentPeriodStart:   unixTime(obj.CurrentPeriodStart),
		CurrentPeriodEnd:     unixTime(obj.CurrentPeriodEnd),
		CancelAtPeriodEnd:    obj.CancelAtPeriodEnd,
		CanceledAt:           unixTime(obj.CanceledAt),
		TrialStart:           unixTime(obj.TrialStart),
		TrialEnd:             unixTime(obj.TrialEnd),
	}
	if custID != "" {
		sub.StripeCustomerID = &custID
	}
	if priceID != "" {
		sub.StripePriceID = &priceID
	}
	return sub
}

func normalizeProviderStatus(status string) string {
	switch strings.ToLower(strings.TrimSpace(status)) {
	case models.SubscriptionStatusActive:
		return models.SubscriptionStatusActive
	case models.SubscriptionStatusTrialing:
		return models.SubscriptionStatusTrialing
	case models.SubscriptionStatusPastDue:
		return models.SubscriptionStatusPastDue
	case models.SubscriptionStatusCanceled:
		return models.SubscriptionStatusCanceled
	case models.SubscriptionStatusUnpaid:
		return models.SubscriptionStatusUnpaid
	default:
		return models.SubscriptionStatusIncomplete
	}
}
