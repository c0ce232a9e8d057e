package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	apierrors "github.com/haimerb/iqbts/internal/pkg/errors"
	"github.com/haimerb/iqbts/internal/session"
	"github.com/haimerb/iqbts/internal/trading"
)

// TradingService relays account operations to the user's live handle.
type TradingService interface {
	Balance(ctx context.Context, username string) (*BalanceResponse, error)
	ResetPracticeBalance(ctx context.Context, username string) (*ResetPracticeBalanceResponse, error)
}

// BalanceResponse is returned by GET /balance.
type BalanceResponse struct {
	Message string  `json:"message"`
	Balance float64 `json:"balance"`
	User    string  `json:"user"`
}

// ResetPracticeBalanceResponse is returned by POST /reset-practice-balance.
type ResetPracticeBalanceResponse struct {
	Message string `json:"message"`
	User    string `json:"user"`
	Status  string `json:"status"`
}

type tradingService struct {
	registry    *session.Registry
	logger      *slog.Logger
	callTimeout time.Duration
}

// NewTradingService creates a new trading service.
func NewTradingService(registry *session.Registry, logger *slog.Logger, callTimeout time.Duration) TradingService {
	if logger == nil {
		logger = slog.Default()
	}
	if callTimeout <= 0 {
		callTimeout = DefaultCallTimeout
	}
	return &tradingService{registry: registry, logger: logger, callTimeout: callTimeout}
}

// Balance returns the account balance as reported by the platform.
func (s *tradingService) Balance(ctx context.Context, username string) (*BalanceResponse, error) {
	h, ok := s.registry.Get(username)
	if !ok {
		return nil, apierrors.ErrNoTradingSession
	}

	var balance float64
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		balance, err = h.GetBalance(ctx)
		return err
	})
	if err != nil {
		return nil, s.mapError(username, "balance", err)
	}

	return &BalanceResponse{
		Message: "Balance retrieved successfully",
		Balance: balance,
		User:    username,
	}, nil
}

// ResetPracticeBalance resets the practice account.
func (s *tradingService) ResetPracticeBalance(ctx context.Context, username string) (*ResetPracticeBalanceResponse, error) {
	h, ok := s.registry.Get(username)
	if !ok {
		return nil, apierrors.ErrNoTradingSession
	}

	var status string
	err := s.call(ctx, func(ctx context.Context) error {
		var err error
		status, err = h.ResetPracticeBalance(ctx)
		if err == nil && status == "" {
			err = trading.ErrNoResult
		}
		return err
	})
	if err != nil {
		return nil, s.mapError(username, "reset_practice_balance", err)
	}

	return &ResetPracticeBalanceResponse{
		Message: "Practice balance reset successfully",
		User:    username,
		Status:  status,
	}, nil
}

// call runs fn under the call timeout and converts a panic into an error.
func (s *tradingService) call(ctx context.Context, fn func(context.Context) error) (err error) {
	ctx, cancel := context.WithTimeout(ctx, s.callTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			err = &trading.PanicError{Value: r}
		}
	}()
	return fn(ctx)
}

func (s *tradingService) mapError(username, op string, err error) error {
	s.logger.Error("trading platform call failed",
		slog.String("user", username),
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	switch {
	case errors.Is(err, trading.ErrNoResult):
		return apierrors.ErrExternal
	case errors.Is(err, context.DeadlineExceeded):
		return apierrors.NewExternalError("Trading platform request timed out")
	default:
		return apierrors.NewExternalError(err.Error())
	}
}
