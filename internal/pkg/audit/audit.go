package audit

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
)

// Admin actions recorded in the audit trail.
const (
	ActionGrantLifetime  = "grant_lifetime"
	ActionRevokeLifetime = "revoke_lifetime"
	ActionCreateCoupon   = "create_coupon"
	ActionUpdateCoupon   = "update_coupon"
	ActionDeleteCoupon   = "delete_coupon"
	ActionReauthIssued   = "reauth_issued"
)

// Entry describes one admin action to record.
type Entry struct {
	AdminID     uint
	Action      string
	TargetType  string
	TargetID    uint
	TargetEmail string
	Details     map[string]interface{}
	IP          string
	UserAgent   string
}

// Recorder writes immutable audit rows. Record never returns an error and
// never panics: an audit write failure must not roll back or block the admin
// action it describes, so failures are logged and swallowed.
type Recorder struct {
	db *gorm.DB
}

func NewRecorder(db *gorm.DB) *Recorder {
	return &Recorder{db: db}
}

// Success records a completed admin action.
func (r *Recorder) Success(e Entry) {
	r.write(e, models.AuditStatusSuccess, "")
}

// Failure records a failed admin action with its reason.
func (r *Recorder) Failure(e Entry, actionErr error) {
	msg := ""
	if actionErr != nil {
		msg = actionErr.Error()
	}
	r.write(e, models.AuditStatusFailed, msg)
}

func (r *Recorder) write(e Entry, status, errMsg string) {
	defer func() {
		if rec := recover(); rec != nil {
			log.Errorf("[Audit] panic while recording %s: %v", e.Action, rec)
		}
	}()

	if r == nil || r.db == nil {
		log.Warnf("[Audit] recorder not configured, dropping entry action=%s admin=%d", e.Action, e.AdminID)
		return
	}

	var details datatypes.JSON
	if len(e.Details) > 0 {
		if data, err := json.Marshal(e.Details); err == nil {
			details = datatypes.JSON(data)
		} else {
			log.Warnf("[Audit] failed to serialize details for %s: %v", e.Action, err)
		}
	}

	row := &models.AdminAuditLog{
		AdminID:      e.AdminID,
		Action:       e.Action,
		TargetType:   e.TargetType,
		TargetID:     e.TargetID,
		TargetEmail:  e.TargetEmail,
		Details:      details,
		IPAddress:    e.IP,
		UserAgent:    e.UserAgent,
		Status:       status,
		ErrorMessage: errMsg,
		CreatedAt:    time.Now(),
	}
	if err := r.db.Create(row).Error; err != nil {
		log.Errorf("[Audit] failed to record %s for admin=%d: %v", e.Action, e.AdminID, err)
	}
}
