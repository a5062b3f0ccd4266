package config

import (
	"fmt"
	"log/slog"
	"time"
)

// --- YAML-Specific Structs ---

type YamlRedisConfig struct {
	Addr string `yaml:"addr"`
}

type YamlCacheConfig struct {
	Type  string          `yaml:"type"` // "memory" or "redis"
	Size  int             `yaml:"size"` // entry bound for the memory cache
	TTL   string          `yaml:"ttl"`
	Redis YamlRedisConfig `yaml:"redis"`
}

type YamlTenancyConfig struct {
	DataDir            string          `yaml:"data_dir"`
	Prefix             string          `yaml:"prefix"`
	PublicTenant       string          `yaml:"public_tenant"`
	OptimisticFallback bool            `yaml:"optimistic_fallback"`
	Cache              YamlCacheConfig `yaml:"cache"`
}

type YamlWebSocketConfig struct {
	Path             string `yaml:"path"`
	HandshakeTimeout string `yaml:"handshake_timeout"`
	WriteTimeout     string `yaml:"write_timeout"`
	PingPeriod       string `yaml:"ping_period"`
	SendBuffer       int    `yaml:"send_buffer"`
}

type YamlAuthConfig struct {
	JWTSecret     string `yaml:"jwt_secret"`
	ServiceSecret string `yaml:"service_secret"`
	Issuer        string `yaml:"issuer"`
	VerifyTimeout string `yaml:"verify_timeout"`
}

type YamlCorsConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
}

// YamlConfig defines the structure for unmarshaling the embedded config.yaml file.
type YamlConfig struct {
	RunMode       string              `yaml:"run_mode"`
	APIPort       string              `yaml:"api_port"`
	WebSocketPort string              `yaml:"websocket_port"`
	WebSocket     YamlWebSocketConfig `yaml:"websocket"`
	Auth          YamlAuthConfig      `yaml:"auth"`
	Tenancy       YamlTenancyConfig   `yaml:"tenancy"`
	Cors          YamlCorsConfig      `yaml:"cors"`
}

// --- Stage 1 Function ---

// NewConfigFromYaml converts the raw unmarshaled data (YamlConfig) into a clean, base AppConfig struct.
// Stage 1 complete: The AppConfig struct now exists, but without environment overrides.
func NewConfigFromYaml(yamlCfg *YamlConfig, logger *slog.Logger) (*AppConfig, error) {
	logger.Debug("Mapping YAML config to base config struct")

	handshakeTimeout, err := parseDuration("websocket.handshake_timeout", yamlCfg.WebSocket.HandshakeTimeout)
	if err != nil {
		return nil, err
	}
	writeTimeout, err := parseDuration("websocket.write_timeout", yamlCfg.WebSocket.WriteTimeout)
	if err != nil {
		return nil, err
	}
	pingPeriod, err := parseDuration("websocket.ping_period", yamlCfg.WebSocket.PingPeriod)
	if err != nil {
		return nil, err
	}
	verifyTimeout, err := parseDuration("auth.verify_timeout", yamlCfg.Auth.VerifyTimeout)
	if err != nil {
		return nil, err
	}
	cacheTTL, err := parseDuration("tenancy.cache.ttl", yamlCfg.Tenancy.Cache.TTL)
	if err != nil {
		return nil, err
	}

	appCfg := &AppConfig{
		RunMode:       yamlCfg.RunMode,
		APIPort:       yamlCfg.APIPort,
		WebSocketPort: yamlCfg.WebSocketPort,
		WebSocket: WebSocketConfig{
			Path:             yamlCfg.WebSocket.Path,
			HandshakeTimeout: handshakeTimeout,
			WriteTimeout:     writeTimeout,
			PingPeriod:       pingPeriod,
			SendBuffer:       yamlCfg.WebSocket.SendBuffer,
		},
		Auth: AuthConfig{
			JWTSecret:     yamlCfg.Auth.JWTSecret,
			ServiceSecret: yamlCfg.Auth.ServiceSecret,
			Issuer:        yamlCfg.Auth.Issuer,
			VerifyTimeout: verifyTimeout,
		},
		Tenancy: TenancyConfig{
			DataDir:            yamlCfg.Tenancy.DataDir,
			Prefix:             yamlCfg.Tenancy.Prefix,
			PublicTenant:       yamlCfg.Tenancy.PublicTenant,
			OptimisticFallback: yamlCfg.Tenancy.OptimisticFallback,
			CacheType:          yamlCfg.Tenancy.Cache.Type,
			CacheSize:          yamlCfg.Tenancy.Cache.Size,
			CacheTTL:           cacheTTL,
			RedisAddr:          yamlCfg.Tenancy.Cache.Redis.Addr,
		},
		AllowedOrigins: yamlCfg.Cors.AllowedOrigins,
	}

	logger.Debug("YAML config mapping complete",
		"run_mode", appCfg.RunMode,
		"api_port", appCfg.APIPort,
		"websocket_port", appCfg.WebSocketPort,
		"websocket_path", appCfg.WebSocket.Path,
		"tenant_data_dir", appCfg.Tenancy.DataDir,
		"cache_type", appCfg.Tenancy.CacheType,
	)

	return appCfg, nil
}

// parseDuration accepts an empty value as zero, leaving the default to the consumer.
func parseDuration(key, value string) (time.Duration, error) {
	if value == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	if d < 0 {
		return 0, fmt.Errorf("invalid duration for %s: must not be negative", key)
	}
	return d, nil
}
