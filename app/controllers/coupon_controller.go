package controllers

import (
	"errors"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/coupons"
	"github.com/reelkit/reelkit/internal/pkg/database"
	"github.com/reelkit/reelkit/internal/pkg/hcaptcha"
	"github.com/reelkit/reelkit/internal/pkg/metrics/counter"
	"github.com/reelkit/reelkit/internal/pkg/notify"
)

type redeemRequest struct {
	Code         string `json:"code"`
	CaptchaToken string `json:"captcha_token"`
}

// HandleRedeemCoupon redeems a coupon code for the logged-in user. Every
// rejection carries its specific reason so the user knows what went wrong.
func HandleRedeemCoupon(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	var req redeemRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}

	if hcaptcha.Enabled() {
		if ok, err := hcaptcha.Verify(req.CaptchaToken); !ok {
			log.Warnf("[Coupons] captcha rejected for user=%d: %v", userID, err)
			return jsonError(c, fiber.StatusBadRequest, "captcha_failed", "captcha verification failed")
		}
	}

	if err := counter.AddRedemptionAttempt(models.NormalizeCouponCode(req.Code)); err != nil {
		log.Debugf("[Coupons] attempt counter unavailable: %v", err)
	}

	svc := coupons.NewServiceFromDB(database.GetDB())
	result, err := svc.Redeem(c.Context(), userID, req.Code)
	if err != nil {
		switch {
		case errors.Is(err, coupons.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "coupon_not_found", "this code does not exist")
		case errors.Is(err, coupons.ErrInactive):
			return jsonError(c, fiber.StatusUnprocessableEntity, "coupon_inactive", "this code has been deactivated")
		case errors.Is(err, coupons.ErrExpired):
			return jsonError(c, fiber.StatusUnprocessableEntity, "coupon_expired", "this code has expired")
		case errors.Is(err, coupons.ErrExhausted):
			return jsonError(c, fiber.StatusUnprocessableEntity, "coupon_exhausted", "this code has no uses left")
		case errors.Is(err, coupons.ErrAlreadyRedeemed):
			return jsonError(c, fiber.StatusConflict, "already_redeemed", "you have already redeemed this code")
		case errors.Is(err, coupons.ErrActiveOverride):
			return jsonError(c, fiber.StatusConflict, "active_override", "your account already has premium access")
		}
		log.Errorf("[Coupons] redemption failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not redeem code")
	}

	invalidatePlanCache(c)
	return c.JSON(result)
}

// HandleListNotifications returns the user's notifications, newest first.
func HandleListNotifications(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}

	svc := notify.NewService(database.GetDB())
	items, err := svc.ListForUser(userID, c.QueryInt("limit", 20))
	if err != nil {
		log.Errorf("[Notify] listing failed for user=%d: %v", userID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load notifications")
	}
	return c.JSON(fiber.Map{"notifications": items})
}

// HandleMarkNotificationRead marks one of the user's notifications as read.
func HandleMarkNotificationRead(c *fiber.Ctx) error {
	userID := requireUserID(c)
	if userID == 0 {
		return nil
	}
	notificationID, err := c.ParamsInt("id")
	if err != nil || notificationID <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid notification id")
	}

	svc := notify.NewService(database.GetDB())
	if err := svc.MarkRead(userID, uint(notificationID)); err != nil {
		log.Errorf("[Notify] mark read failed for user=%d id=%d: %v", userID, notificationID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not update notification")
	}
	return c.JSON(fiber.Map{"ok": true})
}
