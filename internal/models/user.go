// Package models defines the persisted records of the gateway.
package models

import (
	"strings"
	"time"
)

// User is an account that has authenticated against the trading platform
// at least once.
type User struct {
	ID           int64     `json:"id" db:"id"`
	Email        string    `json:"email" db:"email"`
	PasswordHash string    `json:"-" db:"password_hash"`
	IsActive     bool      `json:"is_active" db:"is_active"`
	CreatedAt    time.Time `json:"created_at" db:"created_at"`
	UpdatedAt    time.Time `json:"updated_at" db:"updated_at"`
}

// NormalizeEmail trims and lower-cases a login identifier.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

// TradingSession records one successful login bound to its bearer token.
type TradingSession struct {
	ID         int64      `json:"id" db:"id"`
	UserID     int64      `json:"user_id" db:"user_id"`
	Token      string     `json:"-" db:"token"`
	LoginTime  time.Time  `json:"login_time" db:"login_time"`
	LogoutTime *time.Time `json:"logout_time,omitempty" db:"logout_time"`
	IsActive   bool       `json:"is_active" db:"is_active"`
	CreatedAt  time.Time  `json:"created_at" db:"created_at"`
}
