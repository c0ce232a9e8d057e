package config

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"log/slog"
	"os"
	"strings"
)

// DefaultSecretEnv is consulted when neither the named variable nor the
// literal secret is configured.
const DefaultSecretEnv = "IQBTS_SECRET_KEY"

// ErrSecretRequired is returned when no signing secret is configured and the
// generated fallback is not allowed.
var ErrSecretRequired = errors.New("config: signing secret is required but not configured")

// SecretSource names where the resolved signing secret came from.
type SecretSource string

const (
	SecretFromNamedEnv   SecretSource = "named_env"
	SecretFromConfig     SecretSource = "config"
	SecretFromDefaultEnv SecretSource = "default_env"
	SecretGenerated      SecretSource = "generated"
)

// ResolveSecret picks the token signing secret. Lookup order is the
// environment variable named by auth.secret_key_env, then auth.secret_key,
// then IQBTS_SECRET_KEY. If all are empty a random secret is generated,
// unless the environment is prod or auth.require_secret is set.
func ResolveSecret(cfg *Config, logger *slog.Logger) (string, SecretSource, error) {
	return resolveSecret(cfg, os.Getenv, logger)
}

func resolveSecret(cfg *Config, getenv func(string) string, logger *slog.Logger) (string, SecretSource, error) {
	if name := strings.TrimSpace(cfg.Auth.SecretKeyEnv); name != "" {
		if v := getenv(name); v != "" {
			return v, SecretFromNamedEnv, nil
		}
	}
	if cfg.Auth.SecretKey != "" {
		return cfg.Auth.SecretKey, SecretFromConfig, nil
	}
	if v := getenv(DefaultSecretEnv); v != "" {
		return v, SecretFromDefaultEnv, nil
	}

	if cfg.Auth.RequireSecret || cfg.Server.IsProduction() {
		return "", "", ErrSecretRequired
	}

	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", "", err
	}
	if logger != nil {
		logger.Warn("no signing secret configured, generated a random one; tokens will not survive a restart",
			slog.String("hint", "set "+DefaultSecretEnv+" or auth.secret_key"),
		)
	}
	return hex.EncodeToString(buf), SecretGenerated, nil
}
