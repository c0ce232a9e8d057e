// Package main is the entry point for the IQBTS auth gateway.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/haimerb/iqbts/internal/config"
	"github.com/haimerb/iqbts/internal/database"
	"github.com/haimerb/iqbts/internal/handler"
	"github.com/haimerb/iqbts/internal/middleware"
	"github.com/haimerb/iqbts/internal/repository"
	"github.com/haimerb/iqbts/internal/service"
	"github.com/haimerb/iqbts/internal/session"
	"github.com/haimerb/iqbts/internal/token"
	"github.com/haimerb/iqbts/internal/trading"
)

func main() {
	// Setup structured logger
	logLevel := slog.LevelInfo
	if os.Getenv("DEBUG") == "true" {
		logLevel = slog.LevelDebug
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	logger.Info("Starting IQBTS auth gateway",
		slog.String("environment", cfg.Server.Environment),
		slog.Int("port", cfg.Server.Port),
		slog.String("trading_mode", cfg.Trading.Mode),
	)

	secret, source, err := config.ResolveSecret(cfg, logger)
	if err != nil {
		log.Fatalf("Failed to resolve signing secret: %v", err)
	}
	logger.Info("Signing secret resolved", slog.String("source", string(source)))

	startCtx, cancelStart := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancelStart()

	// Connect to PostgreSQL
	db, err := database.NewPostgres(startCtx, cfg.Database)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()
	logger.Info("Connected to PostgreSQL")

	// Run migrations
	if err := database.RunMigrations(cfg.Database.URL()); err != nil {
		log.Fatalf("Failed to run migrations: %v", err)
	}
	if missing, err := db.VerifyTables(startCtx); err != nil {
		log.Fatalf("Failed to verify tables: %v", err)
	} else if len(missing) > 0 {
		log.Fatalf("Missing tables after migration: %s", strings.Join(missing, ", "))
	}
	logger.Info("Database migrations completed")

	// Redis backs the login rate limiter only; the gateway runs without it.
	checks := []handler.Check{{Name: "database", Pinger: db}}
	var limiter middleware.Counter
	if cfg.RateLimit.Enabled {
		redis, err := database.NewRedis(startCtx, cfg.Redis)
		if err != nil {
			logger.Warn("Redis unavailable, login rate limiting disabled", slog.String("error", err.Error()))
		} else {
			defer redis.Close()
			limiter = redis
			checks = append(checks, handler.Check{Name: "redis", Pinger: redis})
			logger.Info("Connected to Redis")
		}
	}

	verifier, err := newVerifier(cfg.Trading)
	if err != nil {
		log.Fatalf("Failed to configure trading platform: %v", err)
	}

	registry := session.NewRegistry(
		session.WithLogger(logger),
		session.WithReleaseFunc(countingRelease),
	)
	if err := middleware.RegisterActiveSessions(registry.Len); err != nil {
		log.Fatalf("Failed to register metrics: %v", err)
	}

	issuer, err := token.NewIssuer(secret, token.WithTTL(cfg.Auth.TokenTTL))
	if err != nil {
		log.Fatalf("Failed to create token issuer: %v", err)
	}

	// Repositories
	userRepo := repository.NewUserRepository(db.Pool())
	sessionRepo := repository.NewTradingSessionRepository(db.Pool())

	logoutPolicy, err := service.NewLogoutPolicy(cfg.Auth.LogoutPolicy, sessionRepo, logger)
	if err != nil {
		log.Fatalf("Failed to configure logout policy: %v", err)
	}

	// Services
	authService := service.NewAuthService(service.AuthServiceConfig{
		Verifier:     verifier,
		Issuer:       issuer,
		Users:        userRepo,
		Sessions:     sessionRepo,
		Registry:     registry,
		LogoutPolicy: logoutPolicy,
		Logger:       logger,
		CallTimeout:  cfg.Trading.CallTimeout,
		BcryptCost:   cfg.Auth.BcryptCost,
	})
	tradingService := service.NewTradingService(registry, logger, cfg.Trading.CallTimeout)

	r := handler.NewRouter(handler.RouterConfig{
		Logger:         logger,
		AuthService:    authService,
		TradingService: tradingService,
		Tokens:         issuer,
		Health:         handler.NewHealthHandler(checks...),
		Metrics:        promhttp.Handler(),
		LoginLimiter:   limiter,
		LoginRateLimit: middleware.RateLimitConfig{
			Scope:             "login",
			RequestsPerMinute: cfg.RateLimit.RequestsPerMinute,
			BurstSize:         cfg.RateLimit.BurstSize,
		},
		CORSOrigins:    cfg.Server.CORSOrigins,
		RequestTimeout: cfg.Server.RequestTimeout,
	})

	// Create server
	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      r,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  time.Minute,
	}

	// Start server in goroutine
	go func() {
		logger.Info("Server listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server error: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	sig := <-quit

	logger.Info("Shutting down server", slog.String("signal", sig.String()))

	// Graceful shutdown with timeout
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("Server shutdown error", slog.String("error", err.Error()))
	}

	if failed := registry.CloseAll(ctx); failed > 0 {
		logger.Warn("Some trading sessions failed to close", slog.Int("failed", failed))
	}

	logger.Info("Server stopped gracefully")
}

// newVerifier builds the credential verifier for the configured trading mode.
func newVerifier(cfg config.TradingConfig) (trading.Verifier, error) {
	switch cfg.Mode {
	case "bridge":
		client := trading.NewBridgeClient(cfg.BridgeURL,
			trading.WithHTTPClient(&http.Client{Timeout: cfg.CallTimeout}),
		)
		return trading.NewBridgeVerifier(client), nil
	case "paper":
		return trading.NewPaperVerifier(cfg.PaperAccountMap(), cfg.PaperBalance), nil
	default:
		return nil, fmt.Errorf("unknown trading mode %q", cfg.Mode)
	}
}

// countingRelease releases a handle and counts failures.
func countingRelease(ctx context.Context, logger *slog.Logger, h trading.Handle) session.ReleaseResult {
	res := session.Release(ctx, logger, h)
	if res.Err != nil {
		middleware.RecordReleaseFailure(string(res.Method))
	}
	return res
}
