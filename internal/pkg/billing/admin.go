package billing

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2/log"
	"gorm.io/gorm"

	"github.com/reelkit/reelkit/app/models"
	"github.com/reelkit/reelkit/internal/pkg/audit"
)

// ErrNoLifetimeGrant is returned by RevokeLifetime when the user holds no
// lifetime record to revoke.
var ErrNoLifetimeGrant = errors.New("user has no lifetime grant")

const providerCancelTimeout = 10 * time.Second

// AdminService performs manual entitlement grants and revocations. Every call
// produces an audit entry, on success and on failure alike.
type AdminService struct {
	repo     Repository
	client   ProviderClient
	recorder *audit.Recorder
	now      func() time.Time
}

func NewAdminService(repo Repository, client ProviderClient, recorder *audit.Recorder) *AdminService {
	return &AdminService{repo: repo, client: client, recorder: recorder, now: time.Now}
}

func NewAdminServiceFromDB(db *gorm.DB) *AdminService {
	return NewAdminService(NewRepository(db), NewStripeClientFromEnv(), audit.NewRecorder(db))
}

// GrantInput describes a manual lifetime or company grant.
type GrantInput struct {
	AdminID     uint
	UserID      uint
	Company     bool
	CompanyName string
	Notes       string
	IP          string
	UserAgent   string
}

// GrantLifetime gives a user permanent access. An existing live provider
// subscription is cancelled best-effort first: a resource-already-gone reply
// counts as success and any other provider error is logged without blocking
// the local grant.
func (s *AdminService) GrantLifetime(ctx context.Context, in GrantInput) (*models.Subscription, error) {
	entry := audit.Entry{
		AdminID:    in.AdminID,
		Action:     audit.ActionGrantLifetime,
		TargetType: "user",
		TargetID:   in.UserID,
		Details:    map[string]interface{}{"company": in.Company},
		IP:         in.IP,
		UserAgent:  in.UserAgent,
	}

	sub, err := s.grantLifetime(ctx, in, entry.Details)
	if err != nil {
		s.recorder.Failure(entry, err)
		return nil, err
	}
	s.recorder.Success(entry)
	return sub, nil
}

func (s *AdminService) grantLifetime(ctx context.Context, in GrantInput, details map[string]interface{}) (*models.Subscription, error) {
	if in.AdminID == 0 || in.UserID == 0 {
		return nil, errors.New("admin_id and user_id are required")
	}
	user, err := s.repo.GetUserByID(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	subs, err := s.repo.ListSubscriptionsByUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	// Cancel any live provider subscription so the user is not billed for
	// access they now get for free.
	canceled := false
	for i := range subs {
		sub := &subs[i]
		if sub.StripeSubscriptionID == nil || *sub.StripeSubscriptionID == "" {
			continue
		}
		if sub.Status != models.SubscriptionStatusActive && sub.Status != models.SubscriptionStatusTrialing && sub.Status != models.SubscriptionStatusPastDue {
			continue
		}

		cancelCtx, cancel := context.WithTimeout(ctx, providerCancelTimeout)
		err := s.client.CancelSubscription(cancelCtx, *sub.StripeSubscriptionID)
		cancel()
		switch {
		case err == nil, IsResourceMissing(err):
			canceled = true
		default:
			log.Warnf("[Billing] best-effort cancel of %s failed during grant: %v", *sub.StripeSubscriptionID, err)
		}
	}
	details["canceledStripeSubscription"] = canceled

	status := models.SubscriptionStatusLifetime
	plan := models.PlanLifetime
	if in.Company {
		status = models.SubscriptionStatusCompany
		plan = models.PlanCompany
	}

	end := models.LifetimeSentinel
	now := s.now()
	adminID := in.AdminID

	// Reuse the most recent row when present so history stays one row per
	// user for manual grants.
	var target *models.Subscription
	if len(subs) > 0 {
		target = &subs[0]
	} else {
		target = &models.Subscription{UserID: in.UserID}
	}
	target.Status = status
	target.Plan = plan
	target.IsLifetime = true
	target.IsCompanyAccount = in.Company
	target.CompanyName = strings.TrimSpace(in.CompanyName)
	target.GrantedBy = &adminID
	target.CurrentPeriodStart = &now
	target.CurrentPeriodEnd = &end
	target.CancelAtPeriodEnd = false
	target.CanceledAt = nil
	if notes := strings.TrimSpace(in.Notes); notes != "" {
		target.SpecialNotes = notes
	} else {
		target.SpecialNotes = "Granted by admin"
	}
	// A snapshot left behind by a coupon override would be restored by the
	// expiry sweep and silently downgrade the grant.
	target.ClearOriginalSnapshot()

	if err := s.repo.SaveSubscription(ctx, target); err != nil {
		return nil, err
	}

	log.Infof("[Billing] lifetime grant applied user=%d (%s) by admin=%d", user.ID, user.Email, in.AdminID)
	return target, nil
}

// RevokeInput describes a manual revocation.
type RevokeInput struct {
	AdminID   uint
	UserID    uint
	Reason    string
	IP        string
	UserAgent string
}

// RevokeLifetime removes a user's lifetime grant, returning them to the free
// tier on next resolution.
func (s *AdminService) RevokeLifetime(ctx context.Context, in RevokeInput) (*models.Subscription, error) {
	entry := audit.Entry{
		AdminID:    in.AdminID,
		Action:     audit.ActionRevokeLifetime,
		TargetType: "user",
		TargetID:   in.UserID,
		Details:    map[string]interface{}{"reason": in.Reason},
		IP:         in.IP,
		UserAgent:  in.UserAgent,
	}

	sub, err := s.revokeLifetime(ctx, in)
	if err != nil {
		s.recorder.Failure(entry, err)
		return nil, err
	}
	s.recorder.Success(entry)
	return sub, nil
}

func (s *AdminService) revokeLifetime(ctx context.Context, in RevokeInput) (*models.Subscription, error) {
	if in.AdminID == 0 || in.UserID == 0 {
		return nil, errors.New("admin_id and user_id are required")
	}

	subs, err := s.repo.ListSubscriptionsByUser(ctx, in.UserID)
	if err != nil {
		return nil, err
	}

	var target *models.Subscription
	for i := range subs {
		if subs[i].IsLifetime {
			target = &subs[i]
			break
		}
	}
	if target == nil {
		return nil, ErrNoLifetimeGrant
	}

	now := s.now()
	target.Status = models.SubscriptionStatusCanceled
	target.Plan = models.PlanFree
	target.IsLifetime = false
	target.IsCompanyAccount = false
	target.CanceledAt = &now
	if reason := strings.TrimSpace(in.Reason); reason != "" {
		target.SpecialNotes = "Revoked: " + reason
	} else {
		target.SpecialNotes = "Revoked by admin"
	}
	target.ClearOriginalSnapshot()

	if err := s.repo.SaveSubscription(ctx, target); err != nil {
		return nil, err
	}
	return target, nil
}
