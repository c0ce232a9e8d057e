package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	apierrors "github.com/haimerb/iqbts/internal/pkg/errors"
	"github.com/haimerb/iqbts/internal/pkg/response"
	"github.com/haimerb/iqbts/internal/token"
)

// TokenValidator validates a bearer token and returns the username it was issued to.
type TokenValidator interface {
	Validate(token string) (string, error)
}

// contextKey is a custom type for context keys to avoid collisions.
type contextKey string

// UsernameKey is the context key for the authenticated username.
const UsernameKey contextKey = "username"

// GetUsername retrieves the authenticated username from context.
func GetUsername(ctx context.Context) string {
	if v, ok := ctx.Value(UsernameKey).(string); ok {
		return v
	}
	return ""
}

// WithUsername returns a copy of ctx carrying username.
func WithUsername(ctx context.Context, username string) context.Context {
	return context.WithValue(ctx, UsernameKey, username)
}

// RequireToken returns a middleware that rejects requests without a valid
// token in the Authorization header. The "Bearer " prefix is optional.
func RequireToken(validator TokenValidator) func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := extractToken(r.Header.Get("Authorization"))
			if raw == "" {
				response.Error(w, apierrors.ErrTokenMissing)
				return
			}

			username, err := validator.Validate(raw)
			switch {
			case err == nil:
			case errors.Is(err, token.ErrTokenExpired):
				response.Error(w, apierrors.ErrTokenExpired)
				return
			default:
				response.Error(w, apierrors.ErrTokenInvalid)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithUsername(r.Context(), username)))
		})
	}
}

// extractToken strips an optional "Bearer" scheme from an Authorization header value.
func extractToken(header string) string {
	header = strings.TrimSpace(header)
	const scheme = "bearer"
	if len(header) >= len(scheme) && strings.EqualFold(header[:len(scheme)], scheme) {
		rest := header[len(scheme):]
		if rest == "" || rest[0] == ' ' {
			return strings.TrimSpace(rest)
		}
	}
	return header
}
