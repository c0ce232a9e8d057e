package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/haimerb/iqbts/internal/token"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

type validatorFunc func(string) (string, error)

func (f validatorFunc) Validate(tok string) (string, error) { return f(tok) }

func echoUser() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(GetUsername(r.Context())))
	})
}

func decodeMessage(t *testing.T, rec *httptest.ResponseRecorder) string {
	t.Helper()
	var body struct {
		Message string `json:"message"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body.Message
}

func TestRequireToken(t *testing.T) {
	v := validatorFunc(func(tok string) (string, error) {
		switch tok {
		case "good":
			return "a@x.com", nil
		case "old":
			return "", token.ErrTokenExpired
		default:
			return "", token.ErrTokenInvalid
		}
	})
	h := RequireToken(v)(echoUser())

	tests := []struct {
		name       string
		header     string
		wantStatus int
		wantBody   string
		wantMsg    string
	}{
		{name: "missing header", header: "", wantStatus: http.StatusUnauthorized, wantMsg: "Token is missing"},
		{name: "bearer only", header: "Bearer ", wantStatus: http.StatusUnauthorized, wantMsg: "Token is missing"},
		{name: "bearer token", header: "Bearer good", wantStatus: http.StatusOK, wantBody: "a@x.com"},
		{name: "raw token", header: "good", wantStatus: http.StatusOK, wantBody: "a@x.com"},
		{name: "expired", header: "Bearer old", wantStatus: http.StatusUnauthorized, wantMsg: "Token has expired"},
		{name: "invalid", header: "Bearer junk", wantStatus: http.StatusUnauthorized, wantMsg: "Token is invalid"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/protected", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			rec := httptest.NewRecorder()
			h.ServeHTTP(rec, req)

			assert.Equal(t, tt.wantStatus, rec.Code)
			if tt.wantBody != "" {
				assert.Equal(t, tt.wantBody, rec.Body.String())
			}
			if tt.wantMsg != "" {
				assert.Equal(t, tt.wantMsg, decodeMessage(t, rec))
			}
		})
	}
}

func TestRequireToken_WithIssuer(t *testing.T) {
	iss, err := token.NewIssuer("secret")
	require.NoError(t, err)
	tok, _, err := iss.Issue("a@x.com")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/protected", nil)
	req.Header.Set("Authorization", "Bearer "+tok)
	rec := httptest.NewRecorder()
	RequireToken(iss)(echoUser()).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "a@x.com", rec.Body.String())
}

type memCounter struct {
	mu     sync.Mutex
	counts map[string]int64
	err    error
}

func (c *memCounter) IncrWithExpire(_ context.Context, key string, _ time.Duration) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return 0, c.err
	}
	if c.counts == nil {
		c.counts = make(map[string]int64)
	}
	c.counts[key]++
	return c.counts[key], nil
}

func TestRateLimit(t *testing.T) {
	counter := &memCounter{}
	cfg := RateLimitConfig{Scope: "login", RequestsPerMinute: 2, BurstSize: 1}
	h := RateLimit(counter, cfg, discardLogger)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))

	do := func(remote string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		req.RemoteAddr = remote
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	for i := 0; i < 3; i++ {
		rec := do("10.0.0.1:5000")
		assert.Equal(t, http.StatusOK, rec.Code, "request %d", i+1)
	}

	rec := do("10.0.0.1:6000")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, "60", rec.Header().Get("Retry-After"))
	assert.Equal(t, "0", rec.Header().Get("X-RateLimit-Remaining"))

	// Other clients are counted separately.
	assert.Equal(t, http.StatusOK, do("10.0.0.2:5000").Code)
	assert.Equal(t, int64(4), counter.counts["ratelimit:login:10.0.0.1"])
}

func TestRateLimit_FailsOpen(t *testing.T) {
	counter := &memCounter{err: errors.New("redis down")}
	h := RateLimit(counter, RateLimitConfig{Scope: "login", RequestsPerMinute: 1}, discardLogger)(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusOK)
		}))

	for i := 0; i < 5; i++ {
		req := httptest.NewRequest(http.MethodPost, "/login", nil)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, http.StatusOK, rec.Code)
	}
}

func TestRegisterActiveSessions_Idempotent(t *testing.T) {
	assert.NoError(t, RegisterActiveSessions(func() int { return 3 }))
	assert.NoError(t, RegisterActiveSessions(func() int { return 4 }))
}
