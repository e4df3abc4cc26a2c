package controllers

import (
	"context"
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/audit"
	"github.com/reelkit/reelkit/internal/pkg/billing"
	"github.com/reelkit/reelkit/internal/pkg/coupons"
	"github.com/reelkit/reelkit/internal/pkg/database"
	"github.com/reelkit/reelkit/internal/pkg/env"
	"github.com/reelkit/reelkit/internal/pkg/metrics/counter"
	"github.com/reelkit/reelkit/internal/pkg/notify"
	"github.com/reelkit/reelkit/internal/pkg/security"
	"github.com/reelkit/reelkit/internal/pkg/usercontext"
)

const reauthTokenTTL = 5 * time.Minute

type reauthRequest struct {
	Password string `json:"password"`
	Action   string `json:"action"`
}

type grantRequest struct {
	UserID      uint   `json:"user_id"`
	Company     bool   `json:"company"`
	CompanyName string `json:"company_name"`
	Notes       string `json:"notes"`
}

type revokeRequest struct {
	UserID uint   `json:"user_id"`
	Reason string `json:"reason"`
}

// HandleAdminReauth re-verifies the admin's password and issues a single-use
// token for one critical action.
func HandleAdminReauth(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)

	var req reauthRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}
	switch req.Action {
	case audit.ActionGrantLifetime, audit.ActionRevokeLifetime:
	default:
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "unknown action")
	}

	db := database.GetDB()
	var admin models.User
	if err := db.First(&admin, adminID).Error; err != nil {
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load account")
	}
	if !models.CheckPasswordHash(req.Password, admin.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "password is wrong")
	}

	token, err := security.GenerateReauthToken(adminID, req.Action, reauthTokenTTL, env.GetEnv("APP_SECRET", ""))
	if err != nil {
		log.Errorf("[Admin] reauth token generation failed for admin=%d: %v", adminID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not issue token")
	}

	audit.NewRecorder(db).Success(audit.Entry{
		AdminID:    adminID,
		Action:     audit.ActionReauthIssued,
		TargetType: "admin",
		TargetID:   adminID,
		Details:    map[string]interface{}{"for_action": req.Action},
		IP:         GetClientIP(c),
		UserAgent:  c.Get("User-Agent"),
	})

	return c.JSON(fiber.Map{
		"token":      token,
		"expires_in": int(reauthTokenTTL.Seconds()),
	})
}

// HandleAdminGrantLifetime gives a user permanent access. Requires a fresh
// single-use reauth token.
func HandleAdminGrantLifetime(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)
	if err := consumeReauth(c, adminID, audit.ActionGrantLifetime); err != nil {
		return jsonError(c, fiber.StatusUnauthorized, "reauth_required", err.Error())
	}

	var req grantRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}
	if req.UserID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "user_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewAdminServiceFromDB(database.GetDB())
	sub, err := svc.GrantLifetime(ctx, billing.GrantInput{
		AdminID:     adminID,
		UserID:      req.UserID,
		Company:     req.Company,
		CompanyName: req.CompanyName,
		Notes:       req.Notes,
		IP:          GetClientIP(c),
		UserAgent:   c.Get("User-Agent"),
	})
	if err != nil {
		log.Errorf("[Admin] lifetime grant failed admin=%d user=%d: %v", adminID, req.UserID, err)
		return jsonError(c, fiber.StatusUnprocessableEntity, "grant_failed", err.Error())
	}

	return c.JSON(fiber.Map{
		"user_id": sub.UserID,
		"status":  sub.Status,
		"plan":    sub.Plan,
	})
}

// HandleAdminRevokeLifetime removes a user's lifetime grant. Requires a fresh
// single-use reauth token.
func HandleAdminRevokeLifetime(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)
	if err := consumeReauth(c, adminID, audit.ActionRevokeLifetime); err != nil {
		return jsonError(c, fiber.StatusUnauthorized, "reauth_required", err.Error())
	}

	var req revokeRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}
	if req.UserID == 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "user_id is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), billingRequestTimeout)
	defer cancel()

	svc := billing.NewAdminServiceFromDB(database.GetDB())
	sub, err := svc.RevokeLifetime(ctx, billing.RevokeInput{
		AdminID:   adminID,
		UserID:    req.UserID,
		Reason:    req.Reason,
		IP:        GetClientIP(c),
		UserAgent: c.Get("User-Agent"),
	})
	if err != nil {
		if errors.Is(err, billing.ErrNoLifetimeGrant) {
			return jsonError(c, fiber.StatusNotFound, "no_grant", "user has no lifetime grant")
		}
		log.Errorf("[Admin] lifetime revoke failed admin=%d user=%d: %v", adminID, req.UserID, err)
		return jsonError(c, fiber.StatusUnprocessableEntity, "revoke_failed", err.Error())
	}

	return c.JSON(fiber.Map{
		"user_id": sub.UserID,
		"status":  sub.Status,
		"plan":    sub.Plan,
	})
}

// HandleAdminRunNotifySweep runs one pre-expiry notification pass on demand.
func HandleAdminRunNotifySweep(c *fiber.Ctx) error {
	db := database.GetDB()
	sweeper := coupons.NewSweeperFromDB(db, notify.NewService(db))
	sent, err := sweeper.NotifyExpiring(c.Context())
	if err != nil {
		log.Errorf("[Admin] manual notify sweep failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "sweep_failed", "notify sweep failed")
	}
	return c.JSON(fiber.Map{"notified": sent})
}

// HandleAdminRunRevertSweep runs one expired-override reversion pass on demand.
func HandleAdminRunRevertSweep(c *fiber.Ctx) error {
	db := database.GetDB()
	sweeper := coupons.NewSweeperFromDB(db, notify.NewService(db))
	reverted, err := sweeper.RevertExpired(c.Context())
	if err != nil {
		log.Errorf("[Admin] manual revert sweep failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "sweep_failed", "revert sweep failed")
	}
	return c.JSON(fiber.Map{"reverted": reverted})
}

// HandleAdminListLifetime returns all lifetime and company grants.
func HandleAdminListLifetime(c *fiber.Ctx) error {
	var subs []models.Subscription
	err := database.GetDB().
		Where("is_lifetime = ?", true).
		Order("updated_at DESC").
		Find(&subs).Error
	if err != nil {
		log.Errorf("[Admin] lifetime listing failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load grants")
	}
	return c.JSON(fiber.Map{"subscriptions": subs})
}

// HandleAdminStats returns the rolling webhook and redemption-attempt
// counters.
func HandleAdminStats(c *fiber.Ctx) error {
	webhooks, err := counter.WebhookEventCounts()
	if err != nil {
		log.Errorf("[Admin] webhook counters unavailable: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "stats_failed", "could not read counters")
	}
	attempts, err := counter.RedemptionAttemptCounts()
	if err != nil {
		log.Errorf("[Admin] redemption counters unavailable: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "stats_failed", "could not read counters")
	}
	return c.JSON(fiber.Map{
		"webhook_events":      webhooks,
		"redemption_attempts": attempts,
	})
}

// HandleAdminResetStats clears the rolling counters after an export.
func HandleAdminResetStats(c *fiber.Ctx) error {
	if err := counter.Reset(); err != nil {
		log.Errorf("[Admin] counter reset failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "stats_failed", "could not reset counters")
	}
	return c.JSON(fiber.Map{"ok": true})
}

func consumeReauth(c *fiber.Ctx, adminID uint, action string) error {
	token := c.Get("X-Reauth-Token")
	if token == "" {
		return errors.New("reauth token is required for this action")
	}
	_, err := security.ConsumeReauthToken(token, env.GetEnv("APP_SECRET", ""), adminID, action)
	return err
}
