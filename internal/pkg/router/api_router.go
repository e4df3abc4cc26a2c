package router

import (
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/reelkit/reelkit/app/controllers"
	"github.com/reelkit/reelkit/internal/pkg/middleware"
	"github.com/reelkit/reelkit/internal/pkg/session"
)

type ApiRouter struct {
}

func NewApiRouter() *ApiRouter {
	return &ApiRouter{}
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	// init session store before any route resolves user context
	session.NewSessionStore()

	app.Use(middleware.UserContextMiddleware)

	api := app.Group("/api", limiter.New())
	api.Get("/", func(ctx *fiber.Ctx) error {
		return ctx.Status(fiber.StatusOK).JSON(fiber.Map{
			"message": "Hello from api",
		})
	})

	v1 := api.Group("/v1")

	// Auth
	v1.Post("/auth/register", controllers.HandleRegister)
	v1.Post("/auth/login", controllers.HandleLogin)
	v1.Post("/auth/logout", controllers.HandleLogout)

	// Provider webhook, authenticated by signature instead of session
	v1.Post("/webhooks/stripe", controllers.HandleProviderWebhook)

	// Subscription and billing, session required
	sub := v1.Group("/subscription", middleware.RequireAuth)
	sub.Get("/status", controllers.HandleEntitlementStatus)
	sub.Get("/details", controllers.HandleSubscriptionDetails)
	sub.Post("/checkout", controllers.HandleStartCheckout)
	// GET serves the provider success redirect, POST the frontend
	sub.Get("/confirm", controllers.HandleConfirmCheckout)
	sub.Post("/confirm", controllers.HandleConfirmCheckout)
	sub.Post("/cancel", controllers.HandleCancelSubscription)
	sub.Post("/reactivate", controllers.HandleReactivateSubscription)
	sub.Get("/invoices", controllers.HandleListInvoices)
	sub.Post("/portal", controllers.HandleBillingPortal)
	sub.Post("/resync", controllers.HandleResyncSubscriptions)

	// Coupons and notifications
	v1.Post("/coupons/redeem", middleware.RequireAuth, controllers.HandleRedeemCoupon)
	v1.Get("/notifications", middleware.RequireAuth, controllers.HandleListNotifications)
	v1.Post("/notifications/:id/read", middleware.RequireAuth, controllers.HandleMarkNotificationRead)

	// Admin
	admin := v1.Group("/admin", middleware.RequireAdmin)
	admin.Post("/reauth", controllers.HandleAdminReauth)
	admin.Post("/subscriptions/grant", controllers.HandleAdminGrantLifetime)
	admin.Post("/subscriptions/revoke", controllers.HandleAdminRevokeLifetime)
	admin.Get("/subscriptions/lifetime", controllers.HandleAdminListLifetime)
	admin.Get("/coupons", controllers.HandleAdminListCoupons)
	admin.Get("/coupons/:id", controllers.HandleAdminGetCoupon)
	admin.Post("/coupons", controllers.HandleAdminCreateCoupon)
	admin.Put("/coupons/:id", controllers.HandleAdminUpdateCoupon)
	admin.Delete("/coupons/:id", controllers.HandleAdminDeleteCoupon)
	admin.Post("/jobs/notify-sweep", controllers.HandleAdminRunNotifySweep)
	admin.Post("/jobs/revert-sweep", controllers.HandleAdminRunRevertSweep)
	admin.Get("/stats", controllers.HandleAdminStats)
	admin.Post("/stats/reset", controllers.HandleAdminResetStats)
}
