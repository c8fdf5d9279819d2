package token

import (
	"errors"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

func TestSignVerifyRoundTrip(t *testing.T) {
	codec, err := NewCodec([]byte("test-secret"))
	if err != nil {
		t.Fatalf("NewCodec: %v", err)
	}

	raw, err := codec.Sign("01HZXW5N8TVRSJ0QWERTY01234", "org-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	claims, err := codec.Verify(raw)
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if claims.SubjectID() != "01HZXW5N8TVRSJ0QWERTY01234" {
		t.Fatalf("unexpected subject: %s", claims.SubjectID())
	}
	if claims.OrganizationID != "org-1" {
		t.Fatalf("unexpected org: %s", claims.OrganizationID)
	}
}

func TestVerifyRejectsWrongSecret(t *testing.T) {
	a, _ := NewCodec([]byte("secret-a"))
	b, _ := NewCodec([]byte("secret-b"))

	raw, err := a.Sign("user-1", "org-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if _, err := b.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken, got %v", err)
	}
}

func TestVerifyRejectsGarbage(t *testing.T) {
	codec, _ := NewCodec([]byte("test-secret"))
	for _, raw := range []string{"", "   ", "not-a-token", "a.b.c", "eyJ.eyJ.sig"} {
		if _, err := codec.Verify(raw); !errors.Is(err, ErrInvalidToken) {
			t.Fatalf("Verify(%q): expected ErrInvalidToken, got %v", raw, err)
		}
	}
}

func TestVerifyRejectsAlgorithmConfusion(t *testing.T) {
	secret := []byte("test-secret")
	codec, _ := NewCodec(secret)

	// Same secret, different HMAC variant: the pinned method must reject it.
	claims := Claims{
		OrganizationID: "org-1",
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "vidyahub",
			Subject:   "user-1",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	}
	raw, err := jwt.NewWithClaims(jwt.SigningMethodHS384, claims).SignedString(secret)
	if err != nil {
		t.Fatalf("sign HS384: %v", err)
	}
	if _, err := codec.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for HS384 token, got %v", err)
	}
}

func TestVerifyRejectsExpired(t *testing.T) {
	base := time.Now()
	clock := base
	codec, _ := NewCodec([]byte("test-secret"),
		WithTTL(time.Minute),
		WithClock(func() time.Time { return clock }),
	)

	raw, err := codec.Sign("user-1", "org-1")
	if err != nil {
		t.Fatalf("Sign: %v", err)
	}
	clock = base.Add(2 * time.Minute)
	if _, err := codec.Verify(raw); !errors.Is(err, ErrInvalidToken) {
		t.Fatalf("expected ErrInvalidToken for expired token, got %v", err)
	}
}

func TestNewCodecRequiresSecret(t *testing.T) {
	if _, err := NewCodec(nil); err == nil {
		t.Fatal("expected error for missing secret")
	}
}
