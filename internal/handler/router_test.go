package handler

import (
	"bytes"
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
	"golang.org/x/crypto/bcrypt"

	"github.com/haimerb/iqbts/internal/middleware"
	"github.com/haimerb/iqbts/internal/models"
	"github.com/haimerb/iqbts/internal/repository"
	"github.com/haimerb/iqbts/internal/service"
	"github.com/haimerb/iqbts/internal/session"
	"github.com/haimerb/iqbts/internal/token"
	"github.com/haimerb/iqbts/internal/trading"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

// memStore is an in-memory stand-in for both repositories.
type memStore struct {
	mu       sync.Mutex
	users    map[string]*models.User
	sessions []*models.TradingSession
	startErr error
}

func newMemStore() *memStore {
	return &memStore{users: make(map[string]*models.User)}
}

func (s *memStore) GetByEmail(_ context.Context, email string) (*models.User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	cp := *u
	return &cp, nil
}

func (s *memStore) SetActive(_ context.Context, email string, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return repository.ErrUserNotFound
	}
	u.IsActive = active
	return nil
}

func (s *memStore) StartSession(_ context.Context, p repository.StartSessionParams) (*repository.StartSessionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.startErr != nil {
		return nil, s.startErr
	}
	u, ok := s.users[p.Email]
	created := !ok
	if created {
		u = &models.User{ID: int64(len(s.users) + 1), Email: p.Email, PasswordHash: p.PasswordHash, IsActive: true}
		s.users[p.Email] = u
	}
	if !u.IsActive {
		return nil, repository.ErrUserInactive
	}
	var deactivated int64
	for _, ts := range s.sessions {
		if ts.UserID == u.ID && ts.IsActive {
			ts.IsActive = false
			deactivated++
		}
	}
	ts := &models.TradingSession{ID: int64(len(s.sessions) + 1), UserID: u.ID, Token: p.Token, LoginTime: p.LoginTime, IsActive: true}
	s.sessions = append(s.sessions, ts)
	return &repository.StartSessionResult{User: u, Session: ts, UserCreated: created, Deactivated: deactivated}, nil
}

func (s *memStore) GetActive(_ context.Context, email string) (*models.TradingSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return nil, nil
	}
	for _, ts := range s.sessions {
		if ts.UserID == u.ID && ts.IsActive {
			return ts, nil
		}
	}
	return nil, nil
}

func (s *memStore) CloseActive(_ context.Context, email string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	u, ok := s.users[email]
	if !ok {
		return false, nil
	}
	for _, ts := range s.sessions {
		if ts.UserID == u.ID && ts.IsActive {
			ts.IsActive = false
			ts.LogoutTime = &at
			return true, nil
		}
	}
	return false, nil
}

func (s *memStore) activeAndInactive(userID int64) (active, inactive int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, ts := range s.sessions {
		if ts.UserID != userID {
			continue
		}
		if ts.IsActive {
			active++
		} else {
			inactive++
		}
	}
	return active, inactive
}

type counterFunc func() (int64, error)

func (f counterFunc) IncrWithExpire(context.Context, string, time.Duration) (int64, error) { return f() }

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

type testServer struct {
	handler  http.Handler
	store    *memStore
	registry *session.Registry
	paper    *trading.PaperVerifier
}

func newTestServer(t *testing.T, mutate func(*RouterConfig)) *testServer {
	t.Helper()

	store := newMemStore()
	registry := session.NewRegistry(session.WithLogger(discardLogger))
	paper := trading.NewPaperVerifier(map[string]string{"a@x.com": "secret"}, 1523.75)
	issuer, err := token.NewIssuer("test-secret")
	require.NoError(t, err)

	authSvc := service.NewAuthService(service.AuthServiceConfig{
		Verifier:    paper,
		Issuer:      issuer,
		Users:       store,
		Sessions:    store,
		Registry:    registry,
		Logger:      discardLogger,
		CallTimeout: time.Second,
		BcryptCost:  bcrypt.MinCost,
	})

	cfg := RouterConfig{
		Logger:         discardLogger,
		AuthService:    authSvc,
		TradingService: service.NewTradingService(registry, discardLogger, time.Second),
		Tokens:         issuer,
	}
	if mutate != nil {
		mutate(&cfg)
	}

	return &testServer{
		handler:  NewRouter(cfg),
		store:    store,
		registry: registry,
		paper:    paper,
	}
}

func (s *testServer) do(t *testing.T, method, path, tok string, body any) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		reader = bytes.NewBufferString(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	if tok != "" {
		req.Header.Set("Authorization", "Bearer "+tok)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	var out map[string]any
	if rec.Body.Len() > 0 {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out), rec.Body.String())
	}
	return rec, out
}

func (s *testServer) login(t *testing.T, username, password string) string {
	t.Helper()
	rec, body := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": username, "password": password})
	require.Equal(t, http.StatusOK, rec.Code, body)
	tok, _ := body["token"].(string)
	require.NotEmpty(t, tok)
	return tok
}

func TestLoginThenBalance(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "a@x.com", "password": "secret"})
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Login successful", body["message"])
	tok := body["token"].(string)

	rec, body = s.do(t, http.MethodGet, "/balance", tok, nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1523.75, body["balance"])
	assert.Equal(t, "a@x.com", body["user"])
	assert.NotEmpty(t, body["message"])
}

func TestLogin_Validation(t *testing.T) {
	s := newTestServer(t, nil)

	for name, body := range map[string]any{
		"missing password": map[string]string{"username": "a@x.com"},
		"missing username": map[string]string{"password": "secret"},
		"empty body":       nil,
		"malformed json":   "{not json",
	} {
		t.Run(name, func(t *testing.T) {
			rec, out := s.do(t, http.MethodPost, "/login", "", body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
			assert.Equal(t, "Username and password required", out["message"])
		})
	}
	assert.Equal(t, 0, s.registry.Len())
}

func TestLogin_InvalidCredentials(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "a@x.com", "password": "nope"})
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Invalid credentials", body["message"])
	assert.NotEmpty(t, body["reason"])

	assert.Equal(t, 0, s.registry.Len())
	assert.Equal(t, 0, s.paper.OpenSessions())
	u, _ := s.store.GetByEmail(context.Background(), "a@x.com")
	assert.Nil(t, u)
}

func TestLogin_InactiveUserLocked(t *testing.T) {
	s := newTestServer(t, nil)
	s.login(t, "a@x.com", "secret")
	require.NoError(t, s.store.SetActive(context.Background(), "a@x.com", false))

	rec, body := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "a@x.com", "password": "secret"})
	assert.Equal(t, http.StatusLocked, rec.Code)
	assert.NotContains(t, body, "token")
	// Only the handle from the first login stays open.
	assert.Equal(t, 1, s.paper.OpenSessions())
}

func TestLogin_TwiceKeepsOneActiveSession(t *testing.T) {
	s := newTestServer(t, nil)
	s.login(t, "a@x.com", "secret")
	s.login(t, "A@X.com", "secret")

	assert.Equal(t, 1, s.registry.Len())
	assert.Equal(t, 1, s.paper.OpenSessions())

	active, inactive := s.store.activeAndInactive(1)
	assert.Equal(t, 1, active)
	assert.Equal(t, 1, inactive)
}

func TestLogin_PersistenceFailure(t *testing.T) {
	s := newTestServer(t, nil)
	s.store.startErr = errors.New("db down")

	rec, _ := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "a@x.com", "password": "secret"})
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, 0, s.registry.Len())
	assert.Equal(t, 0, s.paper.OpenSessions())
}

func TestProtected(t *testing.T) {
	s := newTestServer(t, nil)

	rec, body := s.do(t, http.MethodGet, "/protected", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token is missing", body["message"])

	rec, body = s.do(t, http.MethodGet, "/protected", "garbage", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "Token is invalid", body["message"])

	tok := s.login(t, "a@x.com", "secret")
	rec, body = s.do(t, http.MethodGet, "/protected", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Hello a@x.com", body["message"])
	assert.Equal(t, true, body["iqoption_session_active"])
}

func TestLogout_IdempotentAndEndsTradingAccess(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.login(t, "a@x.com", "secret")

	rec, body := s.do(t, http.MethodPost, "/logout", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "Logout successful", body["message"])
	assert.Equal(t, true, body["session_cleared"])
	assert.Equal(t, 0, s.paper.OpenSessions())

	rec, body = s.do(t, http.MethodPost, "/logout", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["session_cleared"])

	// The token is still valid but no handle backs it.
	rec, body = s.do(t, http.MethodGet, "/protected", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, false, body["iqoption_session_active"])

	rec, body = s.do(t, http.MethodGet, "/balance", tok, nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	assert.Equal(t, "No active trading session - login first", body["message"])
}

func TestResetPracticeBalance(t *testing.T) {
	s := newTestServer(t, nil)
	tok := s.login(t, "a@x.com", "secret")

	rec, body := s.do(t, http.MethodPost, "/reset-practice-balance", tok, nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, "a@x.com", body["user"])

	rec, _ = s.do(t, http.MethodPost, "/reset-practice-balance", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestLogin_RateLimited(t *testing.T) {
	var n int64
	var mu sync.Mutex
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.LoginLimiter = counterFunc(func() (int64, error) {
			mu.Lock()
			defer mu.Unlock()
			n++
			return n, nil
		})
		cfg.LoginRateLimit = middleware.RateLimitConfig{RequestsPerMinute: 1, BurstSize: 0}
	})

	s.login(t, "a@x.com", "secret")
	rec, _ := s.do(t, http.MethodPost, "/login", "", map[string]string{"username": "a@x.com", "password": "secret"})
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)

	// Other endpoints are not limited.
	rec, _ = s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHealthAndReady(t *testing.T) {
	redisUp := true
	s := newTestServer(t, func(cfg *RouterConfig) {
		cfg.Health = NewHealthHandler(
			Check{Name: "database", Pinger: pingerFunc(func(context.Context) error { return nil })},
			Check{Name: "redis", Pinger: pingerFunc(func(context.Context) error {
				if redisUp {
					return nil
				}
				return errors.New("down")
			})},
		)
	})

	rec, body := s.do(t, http.MethodGet, "/health", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", body["status"])

	rec, body = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "connected", body["database"])
	assert.Equal(t, "connected", body["redis"])

	redisUp = false
	rec, body = s.do(t, http.MethodGet, "/ready", "", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	assert.Equal(t, "service_unavailable", body["code"])
	assert.Equal(t, "redis", body["reason"])
}
