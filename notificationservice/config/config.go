package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Cache types accepted for tenant resolution.
const (
	CacheMemory = "memory"
	CacheRedis  = "redis"
)

// DefaultCacheSize bounds the in-memory resolution cache when none is configured.
const DefaultCacheSize = 10_000

// RunModeLocal selects human-readable logs. Any other mode logs JSON.
const RunModeLocal = "local"

type WebSocketConfig struct {
	Path             string
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	PingPeriod       time.Duration
	SendBuffer       int
}

type AuthConfig struct {
	JWTSecret string
	// ServiceSecret signs backend credentials for the emit routes. Empty
	// disables those routes.
	ServiceSecret string
	Issuer        string
	VerifyTimeout time.Duration
}

type TenancyConfig struct {
	DataDir            string
	Prefix             string
	PublicTenant       string
	OptimisticFallback bool
	CacheType          string
	CacheSize          int
	CacheTTL           time.Duration
	RedisAddr          string
}

// AppConfig is the canonical, validated configuration object used throughout the application.
// It is created by NewConfigFromYaml (Stage 1) and finalized by
// UpdateConfigWithEnvOverrides (Stage 2).
type AppConfig struct {
	RunMode        string
	APIPort        string
	WebSocketPort  string
	WebSocket      WebSocketConfig
	Auth           AuthConfig
	Tenancy        TenancyConfig
	AllowedOrigins []string
}

// UpdateConfigWithEnvOverrides takes the base configuration (created from YAML)
// and completes it by applying environment variables and final validation.
// This function completes "Stage 2" of configuration loading.
func UpdateConfigWithEnvOverrides(cfg *AppConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Applying environment variable overrides...")

	// 1. Apply Environment Overrides
	if mode := os.Getenv("RUN_MODE"); mode != "" {
		logger.Debug("Overriding config value", "key", "RUN_MODE", "source", "env")
		cfg.RunMode = mode
	}
	if port := os.Getenv("API_PORT"); port != "" {
		logger.Debug("Overriding config value", "key", "API_PORT", "source", "env")
		cfg.APIPort = port
	}
	if port := os.Getenv("WEBSOCKET_PORT"); port != "" {
		logger.Debug("Overriding config value", "key", "WEBSOCKET_PORT", "source", "env")
		cfg.WebSocketPort = port
	}
	if secret := os.Getenv("JWT_SECRET"); secret != "" {
		logger.Debug("Overriding config value", "key", "JWT_SECRET", "source", "env")
		cfg.Auth.JWTSecret = secret
	}
	if secret := os.Getenv("SERVICE_JWT_SECRET"); secret != "" {
		logger.Debug("Overriding config value", "key", "SERVICE_JWT_SECRET", "source", "env")
		cfg.Auth.ServiceSecret = secret
	}
	if issuer := os.Getenv("JWT_ISSUER"); issuer != "" {
		logger.Debug("Overriding config value", "key", "JWT_ISSUER", "source", "env")
		cfg.Auth.Issuer = issuer
	}
	if dir := os.Getenv("TENANT_DATA_DIR"); dir != "" {
		logger.Debug("Overriding config value", "key", "TENANT_DATA_DIR", "source", "env")
		cfg.Tenancy.DataDir = dir
	}
	if redisAddr := os.Getenv("REDIS_ADDR"); redisAddr != "" {
		logger.Debug("Overriding config value", "key", "REDIS_ADDR", "source", "env")
		cfg.Tenancy.RedisAddr = redisAddr
	}
	if corsOrigins := os.Getenv("CORS_ALLOWED_ORIGINS"); corsOrigins != "" {
		logger.Debug("Overriding config value", "key", "CORS_ALLOWED_ORIGINS", "source", "env")
		var cleanOrigins []string
		for _, o := range strings.Split(corsOrigins, ",") {
			if trimmed := strings.TrimSpace(o); trimmed != "" {
				cleanOrigins = append(cleanOrigins, trimmed)
			}
		}
		cfg.AllowedOrigins = cleanOrigins
	}

	if cfg.Tenancy.CacheType == "" {
		cfg.Tenancy.CacheType = CacheMemory
	}
	if cfg.Tenancy.CacheSize == 0 {
		cfg.Tenancy.CacheSize = DefaultCacheSize
	}

	// 2. Final Validation
	if cfg.APIPort == "" {
		return nil, invalid(logger, "API_PORT is not set in config or env var")
	}
	if cfg.WebSocketPort == "" {
		return nil, invalid(logger, "WEBSOCKET_PORT is not set in config or env var")
	}
	if cfg.Auth.JWTSecret == "" {
		return nil, invalid(logger, "JWT_SECRET is not set in config or env var")
	}
	if cfg.Auth.ServiceSecret != "" && cfg.Auth.ServiceSecret == cfg.Auth.JWTSecret {
		return nil, invalid(logger, "SERVICE_JWT_SECRET must differ from JWT_SECRET")
	}
	if cfg.Tenancy.DataDir == "" {
		return nil, invalid(logger, "TENANT_DATA_DIR is not set in config or env var")
	}
	if cfg.Tenancy.CacheSize < 0 {
		return nil, invalid(logger, "tenancy cache size must not be negative")
	}
	switch cfg.Tenancy.CacheType {
	case CacheMemory:
	case CacheRedis:
		if cfg.Tenancy.RedisAddr == "" {
			return nil, invalid(logger, "REDIS_ADDR is not set in config or env var but cache type is redis")
		}
	default:
		return nil, invalid(logger, fmt.Sprintf("unknown tenancy cache type %q", cfg.Tenancy.CacheType))
	}

	logger.Debug("Configuration finalized and validated successfully")
	return cfg, nil
}

func invalid(logger *slog.Logger, msg string) error {
	logger.Error("Final config validation failed", "error", msg)
	return errors.New(msg)
}
