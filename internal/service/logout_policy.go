package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/haimerb/iqbts/internal/repository"
)

// Logout policy names accepted by NewLogoutPolicy.
const (
	LogoutPolicyAuditOnly    = "audit_only"
	LogoutPolicyCloseSession = "close_session"
)

// LogoutPolicy decides what a logout does to the persisted session record.
type LogoutPolicy interface {
	Name() string
	OnLogout(ctx context.Context, username string, at time.Time) error
}

// NewLogoutPolicy builds the named policy.
func NewLogoutPolicy(name string, sessions repository.TradingSessionRepository, logger *slog.Logger) (LogoutPolicy, error) {
	switch name {
	case "", LogoutPolicyAuditOnly:
		return NewAuditOnlyPolicy(logger), nil
	case LogoutPolicyCloseSession:
		return NewCloseSessionPolicy(sessions, logger), nil
	default:
		return nil, fmt.Errorf("unknown logout policy %q", name)
	}
}

// auditOnlyPolicy leaves session rows untouched and only logs the logout.
type auditOnlyPolicy struct {
	logger *slog.Logger
}

// NewAuditOnlyPolicy returns the default policy.
func NewAuditOnlyPolicy(logger *slog.Logger) LogoutPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &auditOnlyPolicy{logger: logger}
}

func (p *auditOnlyPolicy) Name() string { return LogoutPolicyAuditOnly }

func (p *auditOnlyPolicy) OnLogout(_ context.Context, username string, at time.Time) error {
	p.logger.Info("logout", slog.String("user", username), slog.Time("at", at))
	return nil
}

// closeSessionPolicy stamps logout_time and deactivates the active row.
type closeSessionPolicy struct {
	sessions repository.TradingSessionRepository
	logger   *slog.Logger
}

// NewCloseSessionPolicy returns a policy that closes the persisted session.
func NewCloseSessionPolicy(sessions repository.TradingSessionRepository, logger *slog.Logger) LogoutPolicy {
	if logger == nil {
		logger = slog.Default()
	}
	return &closeSessionPolicy{sessions: sessions, logger: logger}
}

func (p *closeSessionPolicy) Name() string { return LogoutPolicyCloseSession }

func (p *closeSessionPolicy) OnLogout(ctx context.Context, username string, at time.Time) error {
	closed, err := p.sessions.CloseActive(ctx, username, at)
	if err != nil {
		return err
	}
	p.logger.Info("logout", slog.String("user", username), slog.Bool("session_closed", closed))
	return nil
}
