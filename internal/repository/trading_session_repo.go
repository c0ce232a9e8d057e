package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haimerb/iqbts/internal/models"
)

// ErrUserInactive is returned by StartSession when the user row is
// deactivated at the time the session would be recorded.
var ErrUserInactive = errors.New("user is inactive")

// StartSessionParams carries what a successful login records.
type StartSessionParams struct {
	Email        string
	PasswordHash string
	Token        string
	LoginTime    time.Time
}

// StartSessionResult reports the outcome of a session reconciliation.
type StartSessionResult struct {
	User        *models.User
	Session     *models.TradingSession
	UserCreated bool
	// Deactivated is the number of prior active sessions closed out.
	Deactivated int64
}

// TradingSessionRepository defines the interface for trading session data operations.
type TradingSessionRepository interface {
	// StartSession creates the user if missing, deactivates any prior active
	// session and inserts a new active session, all in one transaction.
	StartSession(ctx context.Context, p StartSessionParams) (*StartSessionResult, error)
	GetActive(ctx context.Context, email string) (*models.TradingSession, error)
	// CloseActive marks the user's active session as logged out. Returns false
	// when there was no active session.
	CloseActive(ctx context.Context, email string, at time.Time) (bool, error)
}

type tradingSessionRepo struct {
	pool *pgxpool.Pool
}

// NewTradingSessionRepository creates a new trading session repository.
func NewTradingSessionRepository(pool *pgxpool.Pool) TradingSessionRepository {
	return &tradingSessionRepo{pool: pool}
}

// StartSession reconciles persistence for a successful login.
func (r *tradingSessionRepo) StartSession(ctx context.Context, p StartSessionParams) (res *StartSessionResult, err error) {
	email := models.NormalizeEmail(p.Email)
	if p.LoginTime.IsZero() {
		p.LoginTime = time.Now().UTC()
	}

	tx, err := r.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, fmt.Errorf("begin transaction: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback(ctx)
		}
	}()

	user, created, err := lockOrCreateUser(ctx, tx, email, p.PasswordHash)
	if err != nil {
		return nil, err
	}
	if !user.IsActive {
		return nil, ErrUserInactive
	}

	// Superseded rows keep a NULL logout_time; only logout sets it.
	tag, err := tx.Exec(ctx, `
		UPDATE trading_sessions
		SET is_active = FALSE
		WHERE user_id = $1 AND is_active = TRUE`,
		user.ID,
	)
	if err != nil {
		return nil, fmt.Errorf("deactivate prior sessions: %w", err)
	}

	session := &models.TradingSession{
		UserID:    user.ID,
		Token:     p.Token,
		LoginTime: p.LoginTime,
		IsActive:  true,
	}
	err = tx.QueryRow(ctx, `
		INSERT INTO trading_sessions (user_id, token, login_time, is_active)
		VALUES ($1, $2, $3, TRUE)
		RETURNING id, created_at`,
		user.ID, p.Token, p.LoginTime,
	).Scan(&session.ID, &session.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}

	if err = tx.Commit(ctx); err != nil {
		return nil, fmt.Errorf("commit session: %w", err)
	}

	return &StartSessionResult{
		User:        user,
		Session:     session,
		UserCreated: created,
		Deactivated: tag.RowsAffected(),
	}, nil
}

// lockOrCreateUser returns the user row locked for update, inserting it first
// when it does not exist yet.
func lockOrCreateUser(ctx context.Context, tx pgx.Tx, email, passwordHash string) (*models.User, bool, error) {
	// ON CONFLICT DO NOTHING keeps concurrent first logins from failing on
	// the unique email constraint.
	tag, err := tx.Exec(ctx, `
		INSERT INTO users (email, password_hash, is_active)
		VALUES ($1, $2, TRUE)
		ON CONFLICT (email) DO NOTHING`,
		email, passwordHash,
	)
	if err != nil {
		return nil, false, fmt.Errorf("create user: %w", err)
	}

	var u models.User
	err = tx.QueryRow(ctx, `
		SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE email = $1
		FOR UPDATE`,
		email,
	).Scan(&u.ID, &u.Email, &u.PasswordHash, &u.IsActive, &u.CreatedAt, &u.UpdatedAt)
	if err != nil {
		return nil, false, fmt.Errorf("lock user: %w", err)
	}
	return &u, tag.RowsAffected() == 1, nil
}

// GetActive returns the user's active session, or nil, nil when there is none.
func (r *tradingSessionRepo) GetActive(ctx context.Context, email string) (*models.TradingSession, error) {
	query := `
		SELECT s.id, s.user_id, s.token, s.login_time, s.logout_time, s.is_active, s.created_at
		FROM trading_sessions s
		JOIN users u ON u.id = s.user_id
		WHERE u.email = $1 AND s.is_active = TRUE`

	var s models.TradingSession
	err := r.pool.QueryRow(ctx, query, models.NormalizeEmail(email)).Scan(
		&s.ID,
		&s.UserID,
		&s.Token,
		&s.LoginTime,
		&s.LogoutTime,
		&s.IsActive,
		&s.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get active session: %w", err)
	}
	return &s, nil
}

// CloseActive sets logout_time and clears is_active on the user's active session.
func (r *tradingSessionRepo) CloseActive(ctx context.Context, email string, at time.Time) (bool, error) {
	query := `
		UPDATE trading_sessions s
		SET is_active = FALSE, logout_time = $2
		FROM users u
		WHERE u.id = s.user_id AND u.email = $1 AND s.is_active = TRUE`

	tag, err := r.pool.Exec(ctx, query, models.NormalizeEmail(email), at)
	if err != nil {
		return false, fmt.Errorf("close active session: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// Compile-time check
var _ TradingSessionRepository = (*tradingSessionRepo)(nil)
