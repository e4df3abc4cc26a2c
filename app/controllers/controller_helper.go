package controllers

import (
	"net"
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/reelkit/reelkit/internal/pkg/usercontext"
)

// GetClientIP extracts the real client IP from proxy headers, falling back to
// the connection address.
func GetClientIP(c *fiber.Ctx) string {
	if xff := c.Get("X-Forwarded-For"); xff != "" {
		parts := strings.Split(xff, ",")
		if len(parts) > 0 {
			ip := strings.TrimSpace(parts[0])
			if net.ParseIP(ip) != nil {
				return ip
			}
		}
	}
	if xri := c.Get("X-Real-IP"); xri != "" {
		ip := strings.TrimSpace(xri)
		if net.ParseIP(ip) != nil {
			return ip
		}
	}
	return c.IP()
}

// requireUserID returns the logged-in user's id, or 0 with a JSON 401 already
// written. Auth middleware normally catches this first.
func requireUserID(c *fiber.Ctx) uint {
	userID := usercontext.GetUserID(c)
	if userID == 0 {
		_ = c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"error":   "unauthorized",
			"message": "login required",
		})
	}
	return userID
}

func jsonError(c *fiber.Ctx, status int, code, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"error":   code,
		"message": message,
	})
}
