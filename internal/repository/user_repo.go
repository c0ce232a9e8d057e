// Package repository provides data access layer implementations.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/haimerb/iqbts/internal/models"
)

// ErrUserNotFound is returned by mutations that target a missing user.
var ErrUserNotFound = errors.New("user not found")

// UserRepository defines the interface for user data operations.
type UserRepository interface {
	GetByEmail(ctx context.Context, email string) (*models.User, error)
	SetActive(ctx context.Context, email string, active bool) error
}

type userRepo struct {
	pool *pgxpool.Pool
}

// NewUserRepository creates a new user repository.
func NewUserRepository(pool *pgxpool.Pool) UserRepository {
	return &userRepo{pool: pool}
}

// GetByEmail retrieves a user by normalized email. Returns nil, nil when absent.
func (r *userRepo) GetByEmail(ctx context.Context, email string) (*models.User, error) {
	query := `
		SELECT id, email, password_hash, is_active, created_at, updated_at
		FROM users WHERE email = $1`

	var u models.User
	err := r.pool.QueryRow(ctx, query, models.NormalizeEmail(email)).Scan(
		&u.ID,
		&u.Email,
		&u.PasswordHash,
		&u.IsActive,
		&u.CreatedAt,
		&u.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get user by email: %w", err)
	}
	return &u, nil
}

// SetActive activates or deactivates a user account.
func (r *userRepo) SetActive(ctx context.Context, email string, active bool) error {
	query := `UPDATE users SET is_active = $2, updated_at = NOW() WHERE email = $1`

	tag, err := r.pool.Exec(ctx, query, models.NormalizeEmail(email), active)
	if err != nil {
		return fmt.Errorf("set user active: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrUserNotFound
	}
	return nil
}

// Compile-time check
var _ UserRepository = (*userRepo)(nil)
