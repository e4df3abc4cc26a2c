package notify

import (
	"encoding/json"
	"errors"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/env"
	"github.com/reelkit/reelkit/internal/pkg/mail"
)

// Service persists in-app notifications and optionally mirrors them to email.
// Delivery failures never propagate into the state change that triggered the
// notification; callers treat Notify as at-least-once best effort.
type Service struct {
	db        *gorm.DB
	sendEmail bool
}

func NewService(db *gorm.DB) *Service {
	return &Service{
		db:        db,
		sendEmail: env.GetEnv("NOTIFY_EMAIL_ENABLED", "false") == "true",
	}
}

// Notify stores a notification row for the user and, when enabled, sends an
// email copy. Implements the coupons.Notifier interface.
func (s *Service) Notify(userID uint, notificationType, title, message string, metadata map[string]interface{}) error {
	if s == nil || s.db == nil {
		return errors.New("notify service is not configured")
	}
	if userID == 0 {
		return errors.New("user_id is required")
	}

	var meta datatypes.JSON
	if len(metadata) > 0 {
		if data, err := json.Marshal(metadata); err == nil {
			meta = datatypes.JSON(data)
		} else {
			log.Warnf("[Notify] failed to serialize metadata for user=%d: %v", userID, err)
		}
	}

	n := &models.Notification{
		UserID:   userID,
		Type:     notificationType,
		Title:    title,
		Message:  message,
		Metadata: meta,
	}
	if err := s.db.Create(n).Error; err != nil {
		return err
	}

	if s.sendEmail {
		s.emailCopy(userID, title, message)
	}
	return nil
}

func (s *Service) emailCopy(userID uint, title, message string) {
	var user models.User
	if err := s.db.First(&user, userID).Error; err != nil {
		log.Warnf("[Notify] cannot email user=%d: %v", userID, err)
		return
	}
	body := "<p>Hi " + user.Name + ",</p><p>" + message + "</p>"
	if err := mail.SendMail(user.Email, title, body); err != nil {
		log.Warnf("[Notify] email to user=%d failed: %v", userID, err)
	}
}

// ListForUser returns the user's notifications, newest first.
func (s *Service) ListForUser(userID uint, limit int) ([]models.Notification, error) {
	if limit <= 0 || limit > 100 {
		limit = 20
	}
	var out []models.Notification
	err := s.db.Where("user_id = ?", userID).
		Order("created_at DESC").
		Limit(limit).
		Find(&out).Error
	return out, err
}

// MarkRead marks one of the user's notifications as read.
func (s *Service) MarkRead(userID, notificationID uint) error {
	return s.db.Model(&models.Notification{}).
		Where("id = ? AND user_id = ?", notificationID, userID).
		Update("is_read", true).Error
}
