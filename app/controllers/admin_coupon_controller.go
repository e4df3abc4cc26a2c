package controllers

import (
	"errors"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/audit"
	"github.com/reelkit/reelkit/internal/pkg/coupons"
	"github.com/reelkit/reelkit/internal/pkg/database"
	"github.com/reelkit/reelkit/internal/pkg/usercontext"
)

type createCouponRequest struct {
	Code         string     `json:"code"`
	Description  string     `json:"description"`
	AssignedTo   string     `json:"assigned_to"`
	ExpiryDate   *time.Time `json:"expiry_date"`
	DurationDays int        `json:"duration_days"`
	MaxUses      int        `json:"max_uses"`
}

type updateCouponRequest struct {
	IsActive bool `json:"is_active"`
}

// HandleAdminListCoupons returns all coupons, newest first. The optional
// active query parameter filters by the active flag.
func HandleAdminListCoupons(c *fiber.Ctx) error {
	svc := coupons.NewServiceFromDB(database.GetDB())
	list, err := svc.List(c.Context())
	if err != nil {
		log.Errorf("[Admin] coupon listing failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load coupons")
	}

	if active := c.Query("active"); active != "" {
		want := active == "true"
		filtered := make([]models.Coupon, 0, len(list))
		for _, coupon := range list {
			if coupon.IsActive == want {
				filtered = append(filtered, coupon)
			}
		}
		list = filtered
	}
	return c.JSON(fiber.Map{"coupons": list})
}

// HandleAdminGetCoupon returns one coupon with its redemption count.
func HandleAdminGetCoupon(c *fiber.Ctx) error {
	couponID, err := c.ParamsInt("id")
	if err != nil || couponID <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid coupon id")
	}

	svc := coupons.NewServiceFromDB(database.GetDB())
	coupon, err := svc.Get(c.Context(), uint(couponID))
	if err != nil {
		if errors.Is(err, coupons.ErrNotFound) {
			return jsonError(c, fiber.StatusNotFound, "coupon_not_found", "coupon does not exist")
		}
		log.Errorf("[Admin] coupon load failed id=%d: %v", couponID, err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not load coupon")
	}
	return c.JSON(coupon)
}

// HandleAdminCreateCoupon stores a new coupon.
func HandleAdminCreateCoupon(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)

	var req createCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}

	db := database.GetDB()
	svc := coupons.NewServiceFromDB(db)
	coupon, err := svc.Create(c.Context(), coupons.CreateInput{
		Code:         req.Code,
		Description:  req.Description,
		AssignedTo:   req.AssignedTo,
		CreatedBy:    adminID,
		ExpiryDate:   req.ExpiryDate,
		DurationDays: req.DurationDays,
		MaxUses:      req.MaxUses,
	})
	entry := audit.Entry{
		AdminID:    adminID,
		Action:     audit.ActionCreateCoupon,
		TargetType: "coupon",
		Details:    map[string]interface{}{"code": req.Code},
		IP:         GetClientIP(c),
		UserAgent:  c.Get("User-Agent"),
	}
	if err != nil {
		audit.NewRecorder(db).Failure(entry, err)
		return jsonError(c, fiber.StatusUnprocessableEntity, "create_failed", err.Error())
	}
	entry.TargetID = coupon.ID
	audit.NewRecorder(db).Success(entry)

	return c.Status(fiber.StatusCreated).JSON(coupon)
}

// HandleAdminUpdateCoupon toggles a coupon's active flag.
func HandleAdminUpdateCoupon(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)
	couponID, err := c.ParamsInt("id")
	if err != nil || couponID <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid coupon id")
	}

	var req updateCouponRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}

	db := database.GetDB()
	svc := coupons.NewServiceFromDB(db)
	coupon, err := svc.SetActive(c.Context(), uint(couponID), req.IsActive)
	entry := audit.Entry{
		AdminID:    adminID,
		Action:     audit.ActionUpdateCoupon,
		TargetType: "coupon",
		TargetID:   uint(couponID),
		Details:    map[string]interface{}{"is_active": req.IsActive},
		IP:         GetClientIP(c),
		UserAgent:  c.Get("User-Agent"),
	}
	if err != nil {
		audit.NewRecorder(db).Failure(entry, err)
		if errors.Is(err, coupons.ErrNotFound) {
			return jsonError(c, fiber.StatusNotFound, "coupon_not_found", "coupon does not exist")
		}
		return jsonError(c, fiber.StatusInternalServerError, "update_failed", "could not update coupon")
	}
	audit.NewRecorder(db).Success(entry)

	return c.JSON(coupon)
}

// HandleAdminDeleteCoupon removes an unused coupon. Coupons with redemptions
// stay for the audit trail and can only be deactivated.
func HandleAdminDeleteCoupon(c *fiber.Ctx) error {
	adminID := usercontext.GetUserID(c)
	couponID, err := c.ParamsInt("id")
	if err != nil || couponID <= 0 {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "invalid coupon id")
	}

	db := database.GetDB()
	svc := coupons.NewServiceFromDB(db)
	err = svc.Delete(c.Context(), uint(couponID))
	entry := audit.Entry{
		AdminID:    adminID,
		Action:     audit.ActionDeleteCoupon,
		TargetType: "coupon",
		TargetID:   uint(couponID),
		IP:         GetClientIP(c),
		UserAgent:  c.Get("User-Agent"),
	}
	if err != nil {
		audit.NewRecorder(db).Failure(entry, err)
		switch {
		case errors.Is(err, coupons.ErrNotFound):
			return jsonError(c, fiber.StatusNotFound, "coupon_not_found", "coupon does not exist")
		case errors.Is(err, coupons.ErrCouponInUse):
			return jsonError(c, fiber.StatusConflict, "coupon_in_use", "coupon has redemptions, deactivate it instead")
		}
		return jsonError(c, fiber.StatusInternalServerError, "delete_failed", "could not delete coupon")
	}
	audit.NewRecorder(db).Success(entry)

	return c.JSON(fiber.Map{"ok": true})
}
