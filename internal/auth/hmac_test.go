package auth

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/clock"
)

func TestIssueAndVerifyJoinToken(t *testing.T) {
	clk := clock.NewManual(time.Unix(1700000000, 0))
	verifier, err := NewHMACTokenVerifier("secret", time.Second, WithClock(clk), WithAudience(JoinAudience))
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	token, err := verifier.Issue("racer-7", time.Minute)
	if err != nil {
		t.Fatalf("Issue: %v", err)
	}

	claims, err := verifier.Verify(token)
	if err != nil {
		t.Fatalf("Verify returned error: %v", err)
	}
	if claims.Subject != "racer-7" || claims.Audience != JoinAudience {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if !claims.ExpiresAt.Equal(time.Unix(1700000060, 0)) {
		t.Fatalf("unexpected expiry: %s", claims.ExpiresAt)
	}

	//1.- Past expiry plus leeway the same token is refused.
	clk.Advance(2 * time.Minute)
	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsExpiredToken(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier, err := NewHMACTokenVerifier("secret", 0, WithClock(clock.NewManual(now)))
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	token := makeToken(t, "secret", "racer-7", now.Add(-time.Second))

	if _, err := verifier.Verify(token); !errors.Is(err, ErrExpiredToken) {
		t.Fatalf("expected ErrExpiredToken, got %v", err)
	}
}

func TestVerifyRejectsInvalidSignature(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier, err := NewHMACTokenVerifier("secret", time.Second, WithClock(clock.NewManual(now)))
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	token := makeToken(t, "other-secret", "racer-7", now.Add(time.Minute))

	if _, err := verifier.Verify(token); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
	if _, err := verifier.Verify("not-a-token"); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for malformed input, got %v", err)
	}
}

func TestVerifyEnforcesAudience(t *testing.T) {
	now := time.Unix(1700000000, 0)
	verifier, err := NewHMACTokenVerifier("secret", 0, WithClock(clock.NewManual(now)), WithAudience(JoinAudience))
	if err != nil {
		t.Fatalf("NewHMACTokenVerifier: %v", err)
	}
	token := makeToken(t, "secret", "racer-7", now.Add(time.Minute))

	if _, err := verifier.Verify(token); !errors.Is(err, ErrWrongAudience) {
		t.Fatalf("expected ErrWrongAudience, got %v", err)
	}
}

func TestNewVerifierRequiresSecret(t *testing.T) {
	if _, err := NewHMACTokenVerifier("  ", 0); err == nil {
		t.Fatalf("expected empty secret to be rejected")
	}
}

func makeToken(t *testing.T, secret, subject string, expires time.Time) string {
	t.Helper()
	header := base64.RawURLEncoding.EncodeToString([]byte(`{"alg":"HS256","typ":"JWT"}`))
	payload := fmt.Sprintf(`{"sub":"%s","exp":%d,"iat":%d}`, subject, expires.Unix(), expires.Add(-time.Minute).Unix())
	encodedPayload := base64.RawURLEncoding.EncodeToString([]byte(payload))
	signingInput := header + "." + encodedPayload
	mac := hmac.New(sha256.New, []byte(secret))
	if _, err := mac.Write([]byte(signingInput)); err != nil {
		t.Fatalf("mac write: %v", err)
	}
	signature := base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
	return signingInput + "." + signature
}
