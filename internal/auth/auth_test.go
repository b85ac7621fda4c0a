package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"govorilka/internal/models"

	"github.com/golang-jwt/jwt/v5"
)

func TestAuthService(t *testing.T) {
	const t0Unix = 1700000000

	// Helper to create service with fixed time
	createService := func(t *testing.T, secret string) (*AuthService, *time.Time) {
		cfg := Config{
			Secret:      base64.StdEncoding.EncodeToString([]byte(secret)),
			TokenExpiry: time.Hour,
		}

		ctx, cancel := context.WithCancel(context.Background())
		t.Cleanup(cancel)
		svc, err := NewAuthService(ctx, cfg)
		if err != nil {
			t.Fatalf("Failed to create service: %v", err)
		}

		currentTime := time.Unix(t0Unix, 0)
		svc.now = func() time.Time {
			return currentTime
		}

		return svc, &currentTime
	}

	t.Run("IssueAndVerify", func(t *testing.T) {
		svc, _ := createService(t, "server-secret")

		token, expiresAt, err := svc.IssueToken("user-1")
		if err != nil {
			t.Fatalf("IssueToken failed: %v", err)
		}
		if !expiresAt.Equal(time.Unix(t0Unix, 0).Add(time.Hour)) {
			t.Errorf("unexpected expiry %v", expiresAt)
		}

		userID, err := svc.GetUserID(token)
		if err != nil {
			t.Fatalf("GetUserID failed: %v", err)
		}
		if userID != "user-1" {
			t.Errorf("expected user-1, got %s", userID)
		}

		// Second lookup is served from the cache.
		if _, err := svc.verified.Get(token); err != nil {
			t.Errorf("expected token to be cached: %v", err)
		}
		if userID, err = svc.GetUserID(token); err != nil || userID != "user-1" {
			t.Errorf("cached GetUserID = %q, %v", userID, err)
		}
	})

	t.Run("Expired", func(t *testing.T) {
		svc, now := createService(t, "server-secret")

		token, _, err := svc.IssueToken("user-1")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetUserID(token); err != nil {
			t.Fatal(err)
		}

		*now = now.Add(2 * time.Hour)
		if _, err := svc.GetUserID(token); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized for expired token, got %v", err)
		}
	})

	t.Run("WrongSecret", func(t *testing.T) {
		issuer, _ := createService(t, "one-secret")
		verifier, _ := createService(t, "other-secret")

		token, _, err := issuer.IssueToken("user-1")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := verifier.GetUserID(token); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("WrongAlgorithm", func(t *testing.T) {
		svc, now := createService(t, "server-secret")
		claims := &Claims{
			UserID: "user-1",
			RegisteredClaims: jwt.RegisteredClaims{
				ExpiresAt: jwt.NewNumericDate(now.Add(time.Hour)),
			},
		}
		token, err := jwt.NewWithClaims(jwt.SigningMethodNone, claims).SignedString(jwt.UnsafeAllowNoneSignatureType)
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetUserID(token); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized, got %v", err)
		}
	})

	t.Run("Revoke", func(t *testing.T) {
		svc, _ := createService(t, "server-secret")
		token, _, err := svc.IssueToken("user-1")
		if err != nil {
			t.Fatal(err)
		}
		if _, err := svc.GetUserID(token); err != nil {
			t.Fatal(err)
		}

		svc.Revoke(token)
		if _, err := svc.GetUserID(token); !errors.Is(err, models.ErrUnauthorized) {
			t.Errorf("expected ErrUnauthorized after revoke, got %v", err)
		}
	})

	t.Run("Garbage", func(t *testing.T) {
		svc, _ := createService(t, "server-secret")
		for _, token := range []string{"", "not-a-jwt", "a.b.c"} {
			if _, err := svc.GetUserID(token); !errors.Is(err, models.ErrUnauthorized) {
				t.Errorf("token %q: expected ErrUnauthorized, got %v", token, err)
			}
		}
	})

	t.Run("IssueRequiresUser", func(t *testing.T) {
		svc, _ := createService(t, "server-secret")
		if _, _, err := svc.IssueToken(""); !errors.Is(err, models.ErrInvalidArgument) {
			t.Errorf("expected ErrInvalidArgument, got %v", err)
		}
	})
}

func TestConfigValidate(t *testing.T) {
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for empty secret")
	}

	cfg = Config{Secret: "%%%"}
	if err := cfg.Validate(); err == nil {
		t.Error("expected error for non-base64 secret")
	}

	cfg = Config{Secret: base64.StdEncoding.EncodeToString([]byte("s"))}
	if err := cfg.Validate(); err != nil {
		t.Fatal(err)
	}
	if cfg.TokenExpiry != DefaultTokenExpiry {
		t.Errorf("expected default expiry, got %v", cfg.TokenExpiry)
	}
}

func TestTokenFromRequest(t *testing.T) {
	for _, tc := range []struct {
		name   string
		header map[string]string
		query  string
		want   string
	}{
		{"Bearer", map[string]string{"Authorization": "Bearer abc"}, "", "abc"},
		{"TokenHeader", map[string]string{"token": "def"}, "", "def"},
		{"Query", nil, "?token=ghi", "ghi"},
		{"BearerWins", map[string]string{"Authorization": "Bearer abc", "token": "def"}, "?token=ghi", "abc"},
		{"NonBearerIgnored", map[string]string{"Authorization": "Basic xyz"}, "", ""},
		{"Missing", nil, "", ""},
	} {
		t.Run(tc.name, func(t *testing.T) {
			r := httptest.NewRequest(http.MethodGet, "/api/ws"+tc.query, nil)
			for k, v := range tc.header {
				r.Header.Set(k, v)
			}
			if got := TokenFromRequest(r); got != tc.want {
				t.Errorf("TokenFromRequest() = %q, want %q", got, tc.want)
			}
		})
	}
}
