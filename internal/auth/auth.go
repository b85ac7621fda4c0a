package auth

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"govorilka/internal/models"

	"github.com/c-pro/geche"
	"github.com/golang-jwt/jwt/v5"
)

const DefaultTokenExpiry = 12 * time.Hour

// Claims carried by access tokens.
type Claims struct {
	UserID string `json:"user_id"`
	jwt.RegisteredClaims
}

type Config struct {
	Secret      string        `json:"secret"`
	secretBytes []byte        `json:"-"`
	TokenExpiry time.Duration `json:"tokenExpiry"`
}

func (c *Config) Validate() error {
	if c.Secret == "" {
		return errors.New("secret is required")
	}

	var err error
	c.secretBytes, err = base64.StdEncoding.DecodeString(c.Secret)
	if err != nil {
		return fmt.Errorf("auth secret is not a valid base64: %w", err)
	}

	if c.TokenExpiry == 0 {
		c.TokenExpiry = DefaultTokenExpiry
	}

	return nil
}

type verifiedToken struct {
	UserID    string
	ExpiresAt time.Time
}

// AuthService verifies HS256 access tokens. Successful verifications are
// cached until the token expires; revoked tokens are remembered for the
// token lifetime.
type AuthService struct {
	Config
	verified geche.Geche[string, verifiedToken]
	revoked  geche.Geche[string, struct{}]
	now      func() time.Time
}

func NewAuthService(ctx context.Context, config Config) (*AuthService, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &AuthService{
		Config:   config,
		verified: geche.NewMapTTLCache[string, verifiedToken](ctx, config.TokenExpiry, time.Minute),
		revoked:  geche.NewMapTTLCache[string, struct{}](ctx, config.TokenExpiry, time.Minute),
		now:      time.Now,
	}, nil
}

// IssueToken signs a token for the user. Token issuance belongs to the
// account service; this exists for operators and tests.
func (as *AuthService) IssueToken(userID string) (string, time.Time, error) {
	if userID == "" {
		return "", time.Time{}, fmt.Errorf("user id is required: %w", models.ErrInvalidArgument)
	}
	now := as.now()
	expiresAt := now.Add(as.TokenExpiry)
	claims := &Claims{
		UserID: userID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
	}

	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(as.secretBytes)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("failed to sign token: %w", err)
	}
	return token, expiresAt, nil
}

// GetUserID verifies the token and returns the user it was issued for.
// Any failure is reported as models.ErrUnauthorized.
func (as *AuthService) GetUserID(token string) (string, error) {
	if token == "" {
		return "", fmt.Errorf("missing token: %w", models.ErrUnauthorized)
	}
	if _, err := as.revoked.Get(token); err == nil {
		return "", fmt.Errorf("token revoked: %w", models.ErrUnauthorized)
	}

	now := as.now()
	if v, err := as.verified.Get(token); err == nil {
		if now.Before(v.ExpiresAt) {
			return v.UserID, nil
		}
		_ = as.verified.Del(token)
	}

	claims := &Claims{}
	parsed, err := jwt.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return as.secretBytes, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(as.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		slog.Debug("token rejected", "error", err)
		return "", fmt.Errorf("invalid token: %w", models.ErrUnauthorized)
	}
	if !parsed.Valid || claims.UserID == "" {
		return "", fmt.Errorf("invalid token: %w", models.ErrUnauthorized)
	}

	as.verified.Set(token, verifiedToken{
		UserID:    claims.UserID,
		ExpiresAt: claims.ExpiresAt.Time,
	})
	return claims.UserID, nil
}

// Revoke makes the token unusable for the rest of its lifetime.
func (as *AuthService) Revoke(token string) {
	as.revoked.Set(token, struct{}{})
	_ = as.verified.Del(token)
}
