package controllers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/database"
	"github.com/reelkit/reelkit/internal/pkg/hcaptcha"
	"github.com/reelkit/reelkit/internal/pkg/session"
	"github.com/reelkit/reelkit/internal/pkg/usercontext"
)

type registerRequest struct {
	Name         string `json:"name"`
	Email        string `json:"email"`
	Password     string `json:"password"`
	CaptchaToken string `json:"captcha_token"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// HandleRegister creates a new account and logs it in.
func HandleRegister(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}

	if hcaptcha.Enabled() {
		if ok, err := hcaptcha.Verify(req.CaptchaToken); !ok {
			log.Warnf("[Auth] captcha rejected during register: %v", err)
			return jsonError(c, fiber.StatusBadRequest, "captcha_failed", "captcha verification failed")
		}
	}

	user, err := models.CreateUser(strings.TrimSpace(req.Name), strings.ToLower(strings.TrimSpace(req.Email)), req.Password)
	if err != nil {
		return jsonError(c, fiber.StatusUnprocessableEntity, "validation_failed", err.Error())
	}

	db := database.GetDB()
	if err := db.Create(user).Error; err != nil {
		if strings.Contains(err.Error(), "Duplicate") {
			return jsonError(c, fiber.StatusConflict, "email_taken", "an account with this email already exists")
		}
		log.Errorf("[Auth] failed to create user: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "could not create account")
	}

	if err := startSession(c, user); err != nil {
		log.Errorf("[Auth] session start after register failed: %v", err)
	}

	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"id":    user.ID,
		"name":  user.Name,
		"email": user.Email,
	})
}

// HandleLogin authenticates by email and password and starts a session.
func HandleLogin(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return jsonError(c, fiber.StatusBadRequest, "invalid_request", "malformed request body")
	}

	db := database.GetDB()
	var user models.User
	err := db.Where("email = ?", strings.ToLower(strings.TrimSpace(req.Email))).First(&user).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "email or password is wrong")
		}
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "login failed")
	}

	if !models.CheckPasswordHash(req.Password, user.Password) {
		return jsonError(c, fiber.StatusUnauthorized, "invalid_credentials", "email or password is wrong")
	}
	if !user.IsActive() {
		return jsonError(c, fiber.StatusForbidden, "account_disabled", "this account is not active")
	}

	now := time.Now()
	if err := db.Model(&user).Update("last_login_at", now).Error; err != nil {
		log.Warnf("[Auth] failed to stamp last login for user=%d: %v", user.ID, err)
	}

	if err := startSession(c, &user); err != nil {
		log.Errorf("[Auth] session start failed: %v", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal_error", "login failed")
	}

	return c.JSON(fiber.Map{
		"id":       user.ID,
		"name":     user.Name,
		"is_admin": user.IsAdmin(),
	})
}

// HandleLogout clears the session.
func HandleLogout(c *fiber.Ctx) error {
	store := session.GetSessionStore()
	if store != nil {
		if sess, err := store.Get(c); err == nil {
			if err := sess.Destroy(); err != nil {
				log.Warnf("[Auth] session destroy failed: %v", err)
			}
		}
	}
	return c.JSON(fiber.Map{"ok": true})
}

func startSession(c *fiber.Ctx, user *models.User) error {
	store := session.GetSessionStore()
	if store == nil {
		return errors.New("session store not initialized")
	}
	sess, err := store.Get(c)
	if err != nil {
		return err
	}
	// Fresh session id on login.
	if err := sess.Regenerate(); err != nil {
		return err
	}
	sess.Set(usercontext.AuthKey, true)
	sess.Set(usercontext.KeyUserID, user.ID)
	sess.Set(usercontext.KeyUsername, user.Name)
	sess.Set(usercontext.KeyIsAdmin, user.IsAdmin())
	return sess.Save()
}
