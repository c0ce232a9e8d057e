package handler

import (
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"github.com/haimerb/iqbts/internal/middleware"
	"github.com/haimerb/iqbts/internal/service"
)

// RouterConfig holds everything the HTTP surface is built from.
type RouterConfig struct {
	Logger         *slog.Logger
	AuthService    service.AuthService
	TradingService service.TradingService
	Tokens         middleware.TokenValidator
	Health         *HealthHandler
	// Metrics serves /metrics when set.
	Metrics http.Handler
	// LoginLimiter rate limits /login when set.
	LoginLimiter   middleware.Counter
	LoginRateLimit middleware.RateLimitConfig
	CORSOrigins    []string
	RequestTimeout time.Duration
}

// NewRouter builds the chi router for the gateway.
func NewRouter(cfg RouterConfig) chi.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	timeout := cfg.RequestTimeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	authHandler := NewAuthHandler(cfg.AuthService)
	tradingHandler := NewTradingHandler(cfg.TradingService)
	health := cfg.Health
	if health == nil {
		health = NewHealthHandler()
	}

	r := chi.NewRouter()

	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.Logging(logger))
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.Metrics())
	r.Use(middleware.CORS(cfg.CORSOrigins))
	r.Use(chimiddleware.Timeout(timeout))

	r.Get("/health", health.Health)
	r.Get("/ready", health.Ready)
	if cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", cfg.Metrics)
	}

	r.Group(func(r chi.Router) {
		if cfg.LoginLimiter != nil {
			lc := cfg.LoginRateLimit
			if lc.Scope == "" {
				lc.Scope = "login"
			}
			r.Use(middleware.RateLimit(cfg.LoginLimiter, lc, logger))
		}
		r.Post("/login", authHandler.Login)
	})

	r.Group(func(r chi.Router) {
		r.Use(middleware.RequireToken(cfg.Tokens))

		r.Post("/logout", authHandler.Logout)
		r.Get("/protected", authHandler.Protected)
		r.Get("/balance", tradingHandler.Balance)
		r.Post("/reset-practice-balance", tradingHandler.ResetPracticeBalance)
	})

	return r
}
