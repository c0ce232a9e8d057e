package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	apierrors "github.com/haimerb/iqbts/internal/pkg/errors"
	"github.com/haimerb/iqbts/internal/pkg/response"
)

// Counter increments a windowed counter. *database.Redis implements it.
type Counter interface {
	IncrWithExpire(ctx context.Context, key string, expiration time.Duration) (int64, error)
}

// RateLimitConfig defines rate limiting parameters.
type RateLimitConfig struct {
	// Scope namespaces the counter keys, e.g. "login".
	Scope             string
	RequestsPerMinute int
	BurstSize         int
}

// RateLimit returns a fixed-window rate limiter keyed by client IP. When the
// counter backend fails the request is let through.
func RateLimit(counter Counter, cfg RateLimitConfig, logger *slog.Logger) func(next http.Handler) http.Handler {
	if logger == nil {
		logger = slog.Default()
	}
	const window = time.Minute

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			key := fmt.Sprintf("ratelimit:%s:%s", cfg.Scope, clientIP(r))

			count, err := counter.IncrWithExpire(r.Context(), key, window)
			if err != nil {
				logger.Warn("rate limiter unavailable, allowing request",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				next.ServeHTTP(w, r)
				return
			}

			limit := cfg.RequestsPerMinute
			remaining := limit - int(count)
			if remaining < 0 {
				remaining = 0
			}

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(limit))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(remaining))
			w.Header().Set("X-RateLimit-Reset", strconv.FormatInt(time.Now().Add(window).Unix(), 10))

			if int(count) > limit+cfg.BurstSize {
				w.Header().Set("Retry-After", strconv.Itoa(int(window.Seconds())))
				RecordRateLimited(cfg.Scope)
				response.Error(w, apierrors.ErrRateLimited)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// clientIP returns the caller address. chi's RealIP middleware has already
// rewritten RemoteAddr from X-Forwarded-For / X-Real-IP when present.
func clientIP(r *http.Request) string {
	addr := strings.TrimSpace(r.RemoteAddr)
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}
