package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/reelkit/reelkit/internal/pkg/cache"
)

// ReauthClaims binds a short-lived re-authentication token to one admin and
// one critical action. The nonce makes the token single-use.
type ReauthClaims struct {
	UserID    uint   `json:"user_id"`
	Action    string `json:"action"`
	Nonce     string `json:"nonce"`
	ExpiresAt int64  `json:"exp"`
}

func reauthCacheKey(userID uint, action string) string {
	return fmt.Sprintf("reauth:%d:%s", userID, action)
}

// GenerateReauthToken creates a signed single-use token for a critical admin
// action. The nonce is stored in the cache with the same TTL; consuming the
// token deletes it, so a replayed token fails even inside its lifetime.
func GenerateReauthToken(userID uint, action string, ttl time.Duration, secret string) (string, error) {
	if secret == "" {
		return "", errors.New("secret is required for token generation")
	}
	claims := ReauthClaims{
		UserID:    userID,
		Action:    action,
		Nonce:     uuid.NewString(),
		ExpiresAt: time.Now().Add(ttl).Unix(),
	}
	payload, err := json.Marshal(claims)
	if err != nil {
		return "", err
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	sig := mac.Sum(nil)
	token := fmt.Sprintf("%s.%s", base64.RawURLEncoding.EncodeToString(payload), base64.RawURLEncoding.EncodeToString(sig))

	if err := cache.Set(reauthCacheKey(userID, action), claims.Nonce, ttl); err != nil {
		return "", fmt.Errorf("failed to store reauth nonce: %w", err)
	}
	return token, nil
}

// VerifyReauthToken checks signature and expiry without consuming the token.
func VerifyReauthToken(token, secret string) (*ReauthClaims, error) {
	if secret == "" {
		return nil, errors.New("secret is required for token verification")
	}
	parts := strings.SplitN(token, ".", 2)
	if len(parts) != 2 {
		return nil, errors.New("invalid token format")
	}
	payloadBytes, err := base64.RawURLEncoding.DecodeString(parts[0])
	if err != nil {
		return nil, errors.New("invalid payload encoding")
	}
	sigBytes, err := base64.RawURLEncoding.DecodeString(parts[1])
	if err != nil {
		return nil, errors.New("invalid signature encoding")
	}
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payloadBytes)
	expected := mac.Sum(nil)
	if !hmac.Equal(sigBytes, expected) {
		return nil, errors.New("invalid token signature")
	}
	var claims ReauthClaims
	if err := json.Unmarshal(payloadBytes, &claims); err != nil {
		return nil, errors.New("invalid payload")
	}
	if time.Now().Unix() > claims.ExpiresAt {
		return nil, errors.New("token expired")
	}
	return &claims, nil
}

// ConsumeReauthToken verifies the token and atomically removes its nonce from
// the cache. A second call with the same token returns an error.
func ConsumeReauthToken(token, secret string, userID uint, action string) (*ReauthClaims, error) {
	claims, err := VerifyReauthToken(token, secret)
	if err != nil {
		return nil, err
	}
	if claims.UserID != userID {
		return nil, errors.New("token issued for a different user")
	}
	if claims.Action != action {
		return nil, errors.New("token issued for a different action")
	}
	nonce, err := cache.GetDel(reauthCacheKey(userID, action))
	if err != nil {
		if cache.IsNil(err) {
			return nil, errors.New("token already used or expired")
		}
		return nil, fmt.Errorf("failed to consume reauth nonce: %w", err)
	}
	if nonce != claims.Nonce {
		return nil, errors.New("token superseded by a newer one")
	}
	return claims, nil
}
