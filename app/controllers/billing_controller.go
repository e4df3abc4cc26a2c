package controllers

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/internal/pkg/billing"
	"github.com/reelkit/reelkit/internal/pkg/database"
	"github.com/reelkit/reelkit/internal/pkg/entitlements"
	"github.com/reelkit/reelkit/internal/pkg/env"
	"github.com/reelkit/reelkit/internal/pkg/metrics/counter"
	"github.com/reelkit/reelkit/internal/pkg/session"
	"github.com/reelkit/reelkit/internal/pkg/usercontext"
)

const billingRequestTimeout = 15 * time.Second

type checkoutRequest struct {
	Plan     string `json:"plan"`
	Interval string `json:"interval"`
}

// HandleEntitlementStatus returns the caller's resolved entitlement.
func HandleEntitlementStatus(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	svc := entitlements.NewServiceFromDB(database.GetDB())
	eff, err := svc.EffectiveForUser(c.Context(), userID)
	if err != nil {
		log.Errorf("[Billing] entitlement resolution failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not resolve entitlement")
	}

	resp := fiber.Map{
		"kind":       eff.Kind,
		"plan":       eff.Plan,
		"status":     eff.Status,
		"has_access": eff.HasAccess(),
	}
	if eff.TrialExpired {
		resp["trial_expired"] = true
	}
	if eff.ExpiresAt != nil {
		resp["expires_at"] = eff.ExpiresAt
	}
	if sub := eff.Subscription; sub != nil {
		resp["cancel_at_period_end"] = sub.CancelAtPeriodEnd
		resp["billing_interval"] = sub.BillingInterval
	}
	return c.JSON(resp)
}

// HandleSubscriptionDetails returns the user's subscription records for the
// account page, newest first.
func HandleSubscriptionDetails(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	subs, err := billing.NewRepository(database.GetDB()).ListSubscriptionsByUser(c.Context(), userID)
	if err != nil {
		log.Errorf("[Billing] details listing failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load subscriptions")
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// HandleStartCheckout creates a provider checkout session and returns its URL.
func HandleStartCheckout(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	var req checkoutRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewCheckoutServiceFromDB(database.GetDB())
	url, err := svc.StartCheckout(ctx, userID, req.Plan, req.Interval)
	if err != nil {
		if errors.Is(err, billing.ErrAlreadySubscribed) {
			return jsonError(c, fiber.StatusConflict, "already_subscribed", "you already have an active subscription")
		}
		log.Errorf("[Billing] checkout start failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusBadGateway, "checkout_failed", "could not start checkout")
	}
	return c.JSON(fiber.Map{"checkout_url": url})
}

// HandleConfirmCheckout resolves a completed checkout session to a local
// subscription record, waiting briefly for the webhook to land first.
func HandleConfirmCheckout(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}
	// GET from the provider success redirect, POST from the frontend.
	sessionID := strings.TrimSpace(c.Query("session_id"))
	if sessionID == "" {
		var body struct {
			SessionID string `json:"session_id"`
		}
		if err := c.BodyParser(&body); err == nil {
			sessionID = strings.TrimSpace(body.SessionID)
		}
	}
	if sessionID == "" {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "session_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewCheckoutServiceFromDB(database.GetDB())
	sub, err := svc.ConfirmCheckout(ctx, userID, sessionID)
	if err != nil {
		log.Errorf("[Billing] checkout confirm failed for user=%d session=%s: %v", userID, sessionID, err)
		return jsonError(c, fiber.StatusBadGateway, "confirm_failed", "could not confirm checkout")
	}

	invalidatePlanCache(c)
	return c.JSON(fiber.Map{
		"status": sub.Status,
		"plan":   sub.Plan,
	})
}

// HandleCancelSubscription schedules the user's subscription to end at the
// current period boundary.
func HandleCancelSubscription(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewCheckoutServiceFromDB(database.GetDB())
	sub, err := svc.CancelAtPeriodEnd(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "no_subscription", "no active subscription to cancel")
		}
		log.Errorf("[Billing] cancel failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusBadGateway, "cancel_failed", "could not schedule cancellation")
	}

	resp := fiber.Map{"cancel_at_period_end": sub.CancelAtPeriodEnd}
	if sub.CurrentPeriodEnd != nil {
		resp["access_until"] = sub.CurrentPeriodEnd
	}
	return c.JSON(resp)
}

// HandleReactivateSubscription removes a pending cancellation.
func HandleReactivateSubscription(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewCheckoutServiceFromDB(database.GetDB())
	sub, err := svc.Reactivate(ctx, userID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusNotFound, "no_subscription", "no subscription to reactivate")
		}
		log.Errorf("[Billing] reactivate failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusBadGateway, "reactivate_failed", "could not reactivate subscription")
	}
	return c.JSON(fiber.Map{"cancel_at_period_end": sub.CancelAtPeriodEnd, "status": sub.Status})
}

// HandleListInvoices returns the user's billing history from the provider.
func HandleListInvoices(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewCheckoutServiceFromDB(database.GetDB())
	invoices, err := svc.Invoices(ctx, userID, c.QueryInt("limit", 12))
	if err != nil {
		log.Errorf("[Billing] invoice listing failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusBadGateway, "invoices_failed", "could not load invoices")
	}
	return c.JSON(fiber.Map{"invoices": invoices})
}

// HandleBillingPortal returns a provider-hosted billing portal URL.
func HandleBillingPortal(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewCheckoutServiceFromDB(database.GetDB())
	url, err := svc.PortalURL(ctx, userID)
	if err != nil {
		log.Errorf("[Billing] portal session failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusBadGateway, "portal_failed", "could not open billing portal")
	}
	return c.JSON(fiber.Map{"portal_url": url})
}

// HandleResyncSubscriptions pulls the user's subscriptions from the provider
// and inserts any rows a lost webhook left missing.
func HandleResyncSubscriptions(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	db := database.GetDB()
	svc := billing.NewServiceFromDB(db)

	user, err := billing.NewRepository(db).GetUserByID(c.Context(), userID)
	if err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load account")
	}
	if user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return c.JSON(fiber.Map{"created": 0})
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	created, err := svc.SyncFromProvider(ctx, userID, *user.StripeCustomerID)
	if err != nil {
		log.Errorf("[Billing] resync failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusBadGateway, "resync_failed", "could not sync with billing provider")
	}
	if created > 0 {
		invalidatePlanCache(c)
	}
	return c.JSON(fiber.Map{"created": created})
}

// HandleProviderWebhook ingests billing provider events. Signature failures
// are rejected before anything is written, so the event id stays available
// for a later valid delivery; malformed payloads are recorded and rejected
// terminally; only a processing error answers 5xx so the provider redelivers.
func HandleProviderWebhook(c *fiber.Ctx) error {
	payload := c.Body()
	secret := env.GetEnv("STRIPE_WEBHOOK_SECRET", "")
	if !billing.VerifyWebhookSignature(payload, c.Get("Stripe-Signature"), secret, billing.DefaultSignatureTolerance) {
		log.Warnf("[Billing] webhook rejected: invalid signature")
		return jsonError(c, fiber.StatusBadRequest, "invalid_signature", "signature verification failed")
	}

	evt, parseErr := billing.ParseEvent(payload)

	input := billing.WebhookEventInput{
		PayloadJSON:    string(payload),
		SignatureValid: true,
	}
	if evt != nil {
		input.ProviderEventID = evt.ID
		input.EventType = evt.Type
	}

	if err := counter.AddWebhookEvent(input.EventType); err != nil {
		log.Debugf("[Billing] webhook counter unavailable: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewServiceFromDB(database.GetDB())
	created, record, err := svc.RecordWebhookEvent(ctx, input)
	if err != nil {
		log.Errorf("[Billing] failed to record webhook event: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not record event")
	}
	if !created && !billing.NeedsReprocessing(record) {
		// Redelivery of an event that already processed cleanly.
		return c.JSON(fiber.Map{"received": true, "duplicate": true})
	}

	if parseErr != nil {
		// A malformed body will not improve on redelivery.
		log.Warnf("[Billing] webhook payload unparseable: %v", parseErr)
		_ = svc.MarkWebhookProcessed(ctx, record.ID, parseErr)
		return jsonError(c, fiber.StatusBadRequest, "invalid_payload", "could not parse event")
	}

	outcome, applyErr := svc.ApplyEvent(ctx, evt)
	if markErr := svc.MarkWebhookProcessed(ctx, record.ID, applyErr); markErr != nil {
		log.Errorf("[Billing] failed to mark webhook %s processed: %v", evt.ID, markErr)
	}
	if applyErr != nil {
		log.Errorf("[Billing] webhook %s (%s) processing failed: %v", evt.ID, evt.Type, applyErr)
		return jsonError(c, fiber.StatusInternalServerError, "processing_failed", "event processing failed")
	}

	return c.JSON(fiber.Map{"received": true, "outcome": outcome})
}

// invalidatePlanCache drops the session-cached plan so the next request
// re-resolves the entitlement.
func invalidatePlanCache(c *fiber.Ctx) {
	if err := session.DeleteSessionValue(c, usercontext.KeyPlan); err != nil {
		log.Debugf("[Billing] plan cache invalidation skipped: %v", err)
	}
}
