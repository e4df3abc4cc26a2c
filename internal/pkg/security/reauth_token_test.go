package security

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func signClaims(t *testing.T, claims ReauthClaims, secret string) string {
	t.Helper()
	payload, err := json.Marshal(claims)
	assert.NoError(t, err)
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write(payload)
	return fmt.Sprintf("%s.%s",
		base64.RawURLEncoding.EncodeToString(payload),
		base64.RawURLEncoding.EncodeToString(mac.Sum(nil)))
}

func TestVerifyReauthTokenRoundTrip(t *testing.T) {
	token := signClaims(t, ReauthClaims{
		UserID:    7,
		Action:    "grant_lifetime",
		Nonce:     "n-1",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}, "secret")

	claims, err := VerifyReauthToken(token, "secret")
	assert.NoError(t, err)
	assert.Equal(t, uint(7), claims.UserID)
	assert.Equal(t, "grant_lifetime", claims.Action)
}

func TestVerifyReauthTokenWrongSecret(t *testing.T) {
	token := signClaims(t, ReauthClaims{
		UserID:    7,
		Action:    "grant_lifetime",
		Nonce:     "n-1",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}, "secret")

	_, err := VerifyReauthToken(token, "other")
	assert.Error(t, err)
}

func TestVerifyReauthTokenExpired(t *testing.T) {
	token := signClaims(t, ReauthClaims{
		UserID:    7,
		Action:    "grant_lifetime",
		Nonce:     "n-1",
		ExpiresAt: time.Now().Add(-time.Minute).Unix(),
	}, "secret")

	_, err := VerifyReauthToken(token, "secret")
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "expired")
}

func TestVerifyReauthTokenTamperedPayload(t *testing.T) {
	forged := ReauthClaims{
		UserID:    99,
		Action:    "grant_lifetime",
		Nonce:     "n-1",
		ExpiresAt: time.Now().Add(time.Minute).Unix(),
	}
	payload, _ := json.Marshal(forged)

	// Signature from a different payload must not verify.
	good := signClaims(t, ReauthClaims{
		UserID:    7,
		Action:    "grant_lifetime",
		Nonce:     "n-1",
		ExpiresAt: forged.ExpiresAt,
	}, "secret")
	sig := good[len(good)-43:]
	token := base64.RawURLEncoding.EncodeToString(payload) + "." + sig

	_, err := VerifyReauthToken(token, "secret")
	assert.Error(t, err)
}

func TestVerifyReauthTokenMalformed(t *testing.T) {
	_, err := VerifyReauthToken("not-a-token", "secret")
	assert.Error(t, err)

	_, err = VerifyReauthToken("a.b.c!!", "secret")
	assert.Error(t, err)

	_, err = VerifyReauthToken("", "secret")
	assert.Error(t, err)
}

func TestVerifyReauthTokenEmptySecret(t *testing.T) {
	_, err := VerifyReauthToken("x.y", "")
	assert.Error(t, err)
}
