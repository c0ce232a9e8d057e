// Package config provides configuration loading for the auth gateway.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds all configuration for the application.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Redis     RedisConfig     `mapstructure:"redis"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Trading   TradingConfig   `mapstructure:"trading"`
	RateLimit RateLimitConfig `mapstructure:"ratelimit"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port           int           `mapstructure:"port"`
	Host           string        `mapstructure:"host"`
	ReadTimeout    time.Duration `mapstructure:"read_timeout"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	Environment    string        `mapstructure:"environment"` // dev, staging, prod
	CORSOrigins    []string      `mapstructure:"cors_origins"`
}

// IsProduction reports whether the server runs in the prod environment.
func (c ServerConfig) IsProduction() bool {
	return strings.EqualFold(c.Environment, "prod") || strings.EqualFold(c.Environment, "production")
}

// DatabaseConfig holds PostgreSQL configuration.
type DatabaseConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	User            string        `mapstructure:"user"`
	Password        string        `mapstructure:"password"`
	Database        string        `mapstructure:"database"`
	SSLMode         string        `mapstructure:"ssl_mode"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
}

// DSN returns the PostgreSQL connection string.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// URL returns the PostgreSQL URL form used by the migrator.
func (c DatabaseConfig) URL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// RedisConfig holds Redis configuration.
type RedisConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// Addr returns the Redis address string.
func (c RedisConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// AuthConfig holds token signing and session policy configuration.
type AuthConfig struct {
	// SecretKeyEnv names an environment variable holding the signing secret.
	SecretKeyEnv string `mapstructure:"secret_key_env"`
	// SecretKey is a literal signing secret.
	SecretKey string `mapstructure:"secret_key"`
	// RequireSecret refuses the generated-secret fallback.
	RequireSecret bool          `mapstructure:"require_secret"`
	TokenTTL      time.Duration `mapstructure:"token_ttl"`
	// LogoutPolicy selects what logout does to the persisted session row:
	// "audit_only" or "close_session".
	LogoutPolicy string `mapstructure:"logout_policy"`
	BcryptCost   int    `mapstructure:"bcrypt_cost"`
}

// TradingConfig selects and configures the trading platform adapter.
type TradingConfig struct {
	// Mode is "bridge" (HTTP sidecar) or "paper" (in-memory practice accounts).
	Mode          string         `mapstructure:"mode"`
	BridgeURL     string         `mapstructure:"bridge_url"`
	CallTimeout   time.Duration  `mapstructure:"call_timeout"`
	PaperBalance  float64        `mapstructure:"paper_balance"`
	PaperAccounts []PaperAccount `mapstructure:"paper_accounts"`
}

// PaperAccount is a practice login accepted in paper mode.
type PaperAccount struct {
	Email    string `mapstructure:"email"`
	Password string `mapstructure:"password"`
}

// PaperAccountMap returns the paper accounts keyed by email.
func (c TradingConfig) PaperAccountMap() map[string]string {
	m := make(map[string]string, len(c.PaperAccounts))
	for _, a := range c.PaperAccounts {
		m[a.Email] = a.Password
	}
	return m
}

// RateLimitConfig defines rate limiting parameters for the login endpoint.
type RateLimitConfig struct {
	Enabled           bool `mapstructure:"enabled"`
	RequestsPerMinute int  `mapstructure:"requests_per_minute"`
	BurstSize         int  `mapstructure:"burst_size"`
}

// Load reads configuration from files and environment variables.
func Load() (*Config, error) {
	v := viper.New()

	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")
	v.AddConfigPath("/etc/iqbts")

	return load(v)
}

// LoadFile reads configuration from an explicit file path.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	return load(v)
}

func load(v *viper.Viper) (*Config, error) {
	v.SetEnvPrefix("IQBTS")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	// Nested keys without defaults are not picked up by AutomaticEnv.
	for key, env := range map[string]string{
		"auth.secret_key":    "IQBTS_AUTH_SECRET_KEY",
		"trading.bridge_url": "IQBTS_TRADING_BRIDGE_URL",
	} {
		if err := v.BindEnv(key, env); err != nil {
			return nil, fmt.Errorf("failed to bind %s: %w", env, err)
		}
	}

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found is OK, we use defaults and env vars
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Validate checks values that have a closed set of options.
func (c *Config) Validate() error {
	switch c.Trading.Mode {
	case "bridge", "paper":
	default:
		return fmt.Errorf("invalid trading.mode %q: want bridge or paper", c.Trading.Mode)
	}
	if c.Trading.Mode == "bridge" && strings.TrimSpace(c.Trading.BridgeURL) == "" {
		return fmt.Errorf("trading.bridge_url is required in bridge mode")
	}
	switch c.Auth.LogoutPolicy {
	case "audit_only", "close_session":
	default:
		return fmt.Errorf("invalid auth.logout_policy %q: want audit_only or close_session", c.Auth.LogoutPolicy)
	}
	if c.Auth.TokenTTL <= 0 {
		return fmt.Errorf("auth.token_ttl must be positive")
	}
	return nil
}

// setDefaults configures default values for all settings.
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.host", "127.0.0.1")
	v.SetDefault("server.read_timeout", "30s")
	v.SetDefault("server.write_timeout", "30s")
	v.SetDefault("server.request_timeout", "30s")
	v.SetDefault("server.environment", "dev")
	v.SetDefault("server.cors_origins", []string{})

	// Database defaults
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.user", "iqbts_user")
	v.SetDefault("database.password", "iqbts_password")
	v.SetDefault("database.database", "iqbts_db")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 10)
	v.SetDefault("database.max_idle_conns", 2)
	v.SetDefault("database.conn_max_lifetime", "5m")

	// Redis defaults
	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)

	// Auth defaults
	v.SetDefault("auth.secret_key_env", "")
	v.SetDefault("auth.require_secret", false)
	v.SetDefault("auth.token_ttl", "24h")
	v.SetDefault("auth.logout_policy", "audit_only")
	v.SetDefault("auth.bcrypt_cost", 10)

	// Trading defaults
	v.SetDefault("trading.mode", "bridge")
	v.SetDefault("trading.call_timeout", "15s")
	v.SetDefault("trading.paper_balance", 10000)

	// Rate limit defaults
	v.SetDefault("ratelimit.enabled", true)
	v.SetDefault("ratelimit.requests_per_minute", 20)
	v.SetDefault("ratelimit.burst_size", 5)
}
