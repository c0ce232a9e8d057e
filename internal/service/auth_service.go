// Package service provides business logic implementations.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/haimerb/iqbts/internal/models"
	apierrors "github.com/haimerb/iqbts/internal/pkg/errors"
	"github.com/haimerb/iqbts/internal/repository"
	"github.com/haimerb/iqbts/internal/session"
	"github.com/haimerb/iqbts/internal/trading"
)

// DefaultCallTimeout bounds every call to the trading platform.
const DefaultCallTimeout = 15 * time.Second

// TokenIssuer mints bearer tokens. *token.Issuer implements it.
type TokenIssuer interface {
	Issue(username string) (string, time.Time, error)
}

// AuthService defines the login/logout operations.
type AuthService interface {
	Login(ctx context.Context, req LoginRequest) (*LoginResponse, error)
	Logout(ctx context.Context, username string) (*LogoutResponse, error)
	Status(ctx context.Context, username string) *StatusResponse
}

// LoginRequest is the body of POST /login.
type LoginRequest struct {
	Username string `json:"username" validate:"required"`
	Password string `json:"password" validate:"required"`
}

// LoginResponse is returned on a successful login.
type LoginResponse struct {
	Token   string `json:"token"`
	Message string `json:"message"`
}

// LogoutResponse is returned by logout.
type LogoutResponse struct {
	Message        string `json:"message"`
	SessionCleared bool   `json:"session_cleared"`
}

// StatusResponse is returned by the protected greeting endpoint.
type StatusResponse struct {
	Message               string `json:"message"`
	IQOptionSessionActive bool   `json:"iqoption_session_active"`
}

// AuthServiceConfig holds the collaborators of the auth service.
type AuthServiceConfig struct {
	Verifier     trading.Verifier
	Issuer       TokenIssuer
	Users        repository.UserRepository
	Sessions     repository.TradingSessionRepository
	Registry     *session.Registry
	LogoutPolicy LogoutPolicy
	Logger       *slog.Logger
	CallTimeout  time.Duration
	BcryptCost   int
	Now          func() time.Time
}

type authService struct {
	verifier     trading.Verifier
	issuer       TokenIssuer
	users        repository.UserRepository
	sessions     repository.TradingSessionRepository
	registry     *session.Registry
	logoutPolicy LogoutPolicy
	logger       *slog.Logger
	callTimeout  time.Duration
	bcryptCost   int
	now          func() time.Time
}

// NewAuthService creates a new auth service.
func NewAuthService(cfg AuthServiceConfig) AuthService {
	s := &authService{
		verifier:     cfg.Verifier,
		issuer:       cfg.Issuer,
		users:        cfg.Users,
		sessions:     cfg.Sessions,
		registry:     cfg.Registry,
		logoutPolicy: cfg.LogoutPolicy,
		logger:       cfg.Logger,
		callTimeout:  cfg.CallTimeout,
		bcryptCost:   cfg.BcryptCost,
		now:          cfg.Now,
	}
	if s.logger == nil {
		s.logger = slog.Default()
	}
	if s.callTimeout <= 0 {
		s.callTimeout = DefaultCallTimeout
	}
	if s.bcryptCost == 0 {
		s.bcryptCost = bcrypt.DefaultCost
	}
	if s.now == nil {
		s.now = time.Now
	}
	if s.logoutPolicy == nil {
		s.logoutPolicy = NewAuditOnlyPolicy(s.logger)
	}
	return s
}

// Login verifies the credentials with the trading platform, issues a token,
// records the session and registers the live handle.
func (s *authService) Login(ctx context.Context, req LoginRequest) (*LoginResponse, error) {
	username := models.NormalizeEmail(req.Username)
	if username == "" || req.Password == "" {
		return nil, apierrors.ErrBadRequest.WithMessage("Username and password required")
	}
	log := s.logger.With(slog.String("user", username))

	handle, err := s.authenticate(ctx, username, req.Password)
	if err != nil {
		log.Warn("trading platform authentication failed", slog.String("reason", apierrors.AsAPIError(err).Reason))
		return nil, err
	}

	// The account status gate runs before any token exists.
	user, err := s.users.GetByEmail(ctx, username)
	if err != nil {
		s.discard(ctx, handle)
		return nil, fmt.Errorf("load user: %w", err)
	}
	if user != nil && !user.IsActive {
		s.discard(ctx, handle)
		log.Warn("login refused for inactive account")
		return nil, apierrors.ErrLocked
	}

	tok, _, err := s.issuer.Issue(username)
	if err != nil {
		s.discard(ctx, handle)
		return nil, fmt.Errorf("issue token: %w", err)
	}

	hash, err := s.hashSecret(req.Password)
	if err != nil {
		s.discard(ctx, handle)
		return nil, err
	}

	res, err := s.sessions.StartSession(ctx, repository.StartSessionParams{
		Email:        username,
		PasswordHash: hash,
		Token:        tok,
		LoginTime:    s.now().UTC(),
	})
	if err != nil {
		s.discard(ctx, handle)
		if errors.Is(err, repository.ErrUserInactive) {
			log.Warn("account deactivated during login")
			return nil, apierrors.ErrLocked
		}
		log.Error("failed to record trading session", slog.String("error", err.Error()))
		return nil, fmt.Errorf("record session: %w", err)
	}

	relCtx, cancel := s.releaseContext(ctx)
	defer cancel()

	// Without a handle the previous one is still dropped; the token then
	// grants no trading access until the next login.
	var rel session.ReleaseResult
	var replaced bool
	if handle != nil {
		rel, replaced = s.registry.Put(relCtx, username, handle)
	} else {
		_, replaced = s.registry.Remove(relCtx, username)
		log.Warn("trading platform returned no session handle")
	}
	log.Info("login successful",
		slog.Bool("user_created", res.UserCreated),
		slog.Int64("sessions_deactivated", res.Deactivated),
		slog.Bool("replaced_handle", replaced),
		slog.Bool("replaced_released", rel.Released),
	)

	return &LoginResponse{Token: tok, Message: "Login successful"}, nil
}

// authenticate runs the credential check under the call timeout. Transport
// failures count as rejected credentials with the error text as reason. A
// successful check may return a nil handle.
func (s *authService) authenticate(ctx context.Context, username, secret string) (trading.Handle, error) {
	callCtx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	res, err := s.verifier.Authenticate(callCtx, username, secret)
	if err != nil {
		return nil, apierrors.ErrUnauthorized.WithReason(err.Error())
	}
	if !res.Success {
		s.discard(ctx, res.Handle)
		return nil, apierrors.ErrUnauthorized.WithReason(res.Reason)
	}
	return res.Handle, nil
}

// releaseContext detaches handle release from the request so a cancelled
// or timed out request still closes the remote session.
func (s *authService) releaseContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), s.callTimeout)
}

// discard releases a handle that never made it into the registry.
func (s *authService) discard(ctx context.Context, h trading.Handle) {
	if h == nil {
		return
	}
	relCtx, cancel := s.releaseContext(ctx)
	defer cancel()
	s.registry.Release(relCtx, h)
}

func (s *authService) hashSecret(secret string) (string, error) {
	b := []byte(secret)
	// bcrypt only reads the first 72 bytes and rejects longer input.
	if len(b) > 72 {
		b = b[:72]
	}
	hash, err := bcrypt.GenerateFromPassword(b, s.bcryptCost)
	if err != nil {
		return "", fmt.Errorf("hash password: %w", err)
	}
	return string(hash), nil
}

// Logout drops the user's live handle and applies the logout policy.
// Logging out without a registered handle still succeeds.
func (s *authService) Logout(ctx context.Context, username string) (*LogoutResponse, error) {
	relCtx, cancel := s.releaseContext(ctx)
	_, cleared := s.registry.Remove(relCtx, username)
	cancel()

	if err := s.logoutPolicy.OnLogout(ctx, username, s.now().UTC()); err != nil {
		s.logger.Error("logout policy failed",
			slog.String("user", username),
			slog.String("policy", s.logoutPolicy.Name()),
			slog.String("error", err.Error()),
		)
	}

	return &LogoutResponse{Message: "Logout successful", SessionCleared: cleared}, nil
}

// Status reports whether the user holds a live trading handle.
func (s *authService) Status(_ context.Context, username string) *StatusResponse {
	return &StatusResponse{
		Message:               "Hello " + strings.TrimSpace(username),
		IQOptionSessionActive: s.registry.Has(username),
	}
}
