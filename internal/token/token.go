// Package token issues and validates the bearer tokens handed out at login.
package token

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// DefaultTTL is the lifetime of an issued token.
const DefaultTTL = 24 * time.Hour

var (
	// ErrTokenExpired is returned when the token's exp is at or before now.
	ErrTokenExpired = errors.New("token has expired")
	// ErrTokenInvalid is returned for any structural, signature or claim failure.
	ErrTokenInvalid = errors.New("token is invalid")
)

// Claims is the JWT payload.
type Claims struct {
	jwt.RegisteredClaims
	Username string `json:"username"`
}

// Issuer signs and validates HS256 tokens with a shared secret.
type Issuer struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// Option configures an Issuer.
type Option func(*Issuer)

// WithTTL overrides DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(i *Issuer) {
		if ttl > 0 {
			i.ttl = ttl
		}
	}
}

// WithClock sets the time source, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Issuer) {
		if now != nil {
			i.now = now
		}
	}
}

// NewIssuer creates an issuer for the given signing secret.
func NewIssuer(secret string, opts ...Option) (*Issuer, error) {
	if secret == "" {
		return nil, errors.New("token: signing secret is empty")
	}
	i := &Issuer{
		secret: []byte(secret),
		ttl:    DefaultTTL,
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i, nil
}

// TTL returns the configured token lifetime.
func (i *Issuer) TTL() time.Duration {
	return i.ttl
}

// Issue mints a token for username and returns it with its expiry.
func (i *Issuer) Issue(username string) (string, time.Time, error) {
	if strings.TrimSpace(username) == "" {
		return "", time.Time{}, errors.New("token: username is empty")
	}

	now := i.now().UTC()
	exp := now.Add(i.ttl)
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		Username: username,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Validate verifies the token signature and expiry and returns the username.
func (i *Issuer) Validate(tokenString string) (string, error) {
	tokenString = strings.TrimSpace(tokenString)
	if tokenString == "" {
		return "", ErrTokenInvalid
	}

	var claims Claims
	_, err := jwt.ParseWithClaims(tokenString, &claims, func(t *jwt.Token) (any, error) {
		return i.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrTokenInvalid, err)
	}

	if claims.ExpiresAt == nil {
		return "", fmt.Errorf("%w: exp is required", ErrTokenInvalid)
	}
	if !claims.ExpiresAt.Time.After(i.now()) {
		return "", ErrTokenExpired
	}
	if strings.TrimSpace(claims.Username) == "" {
		return "", fmt.Errorf("%w: username is required", ErrTokenInvalid)
	}
	return claims.Username, nil
}
