// Package server provides configuration helpers that define runtime defaults,
// validation, and rate-limiting parameters for the groupchat service.
package server

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/Tyrowin/groupchat/internal/chat"
)

// Store drivers selectable with STORE_DRIVER.
const (
	DriverMemory   = "memory"
	DriverSQLite   = "sqlite"
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
)

// RateLimitConfig defines the parameters for per-connection message rate limiting.
type RateLimitConfig struct {
	Burst          int
	RefillInterval time.Duration
}

// StoreConfig selects and locates the document store.
type StoreConfig struct {
	Driver string
	DSN    string
}

// AuthConfig verifies the tokens presented on WebSocket upgrade.
type AuthConfig struct {
	Secret string
	Issuer string
}

// LogConfig controls the process logger.
type LogConfig struct {
	Level  string
	Format string
}

// Config holds the server configuration settings including security controls.
type Config struct {
	Port            string
	AllowedOrigins  []string
	MaxMessageSize  int64
	MaxTextLength   int
	HistoryLimit    int
	PublicBaseURL   string
	RateLimit       RateLimitConfig
	ShutdownTimeout time.Duration
	Store           StoreConfig
	Auth            AuthConfig
	Log             LogConfig
}

// envConfig holds raw environment values before sanitizing.
type envConfig struct {
	Port            string        `env:"SERVER_PORT"`
	AllowedOrigins  []string      `env:"ALLOWED_ORIGINS"`
	MaxMessageSize  int64         `env:"MAX_MESSAGE_SIZE"`
	MaxTextLength   int           `env:"MAX_TEXT_LENGTH"`
	HistoryLimit    int           `env:"HISTORY_LIMIT"`
	PublicBaseURL   string        `env:"PUBLIC_BASE_URL"`
	RateLimitBurst  int           `env:"RATE_LIMIT_BURST"`
	RefillInterval  string        `env:"RATE_LIMIT_REFILL_INTERVAL"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT"`
	StoreDriver     string        `env:"STORE_DRIVER"`
	StoreDSN        string        `env:"STORE_DSN"`
	JWTSecret       string        `env:"JWT_SECRET"`
	JWTIssuer       string        `env:"JWT_ISSUER"`
	LogLevel        string        `env:"LOG_LEVEL"`
	LogFormat       string        `env:"LOG_FORMAT"`
}

// DefaultConfig returns the settings used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		Port: ":8080",
		AllowedOrigins: []string{
			"http://localhost:8080",
		},
		MaxMessageSize:  8192,
		MaxTextLength:   2000,
		HistoryLimit:    chat.DefaultHistoryLimit,
		PublicBaseURL:   "http://localhost:8080",
		RateLimit:       RateLimitConfig{Burst: 5, RefillInterval: time.Second},
		ShutdownTimeout: 30 * time.Second,
		Store:           StoreConfig{Driver: DriverMemory},
		Log:             LogConfig{Level: "info", Format: "text"},
	}
}

// Sanitize fills zero or invalid values with defaults.
func (cfg Config) Sanitize() Config {
	def := DefaultConfig()

	if cfg.Port == "" {
		cfg.Port = def.Port
	}
	if !strings.Contains(cfg.Port, ":") {
		cfg.Port = ":" + cfg.Port
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = def.MaxMessageSize
	}
	if cfg.MaxTextLength <= 0 {
		cfg.MaxTextLength = def.MaxTextLength
	}
	if cfg.HistoryLimit <= 0 || cfg.HistoryLimit > chat.DefaultHistoryLimit {
		cfg.HistoryLimit = def.HistoryLimit
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = def.RateLimit.Burst
	}
	if cfg.RateLimit.RefillInterval <= 0 {
		cfg.RateLimit.RefillInterval = def.RateLimit.RefillInterval
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = def.ShutdownTimeout
	}
	cfg.PublicBaseURL = strings.TrimRight(strings.TrimSpace(cfg.PublicBaseURL), "/")

	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	if cfg.Store.Driver == "" {
		cfg.Store.Driver = DriverMemory
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = def.Log.Level
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = def.Log.Format
	}

	cfg.AllowedOrigins = append([]string(nil), cfg.AllowedOrigins...)
	return cfg
}

// Validate reports settings that cannot be defaulted.
func (cfg Config) Validate() error {
	switch cfg.Store.Driver {
	case DriverMemory:
	case DriverSQLite, DriverPostgres, DriverRedis:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("STORE_DSN is required for the %s store", cfg.Store.Driver)
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", cfg.Store.Driver)
	}
	if strings.TrimSpace(cfg.Auth.Secret) == "" {
		return fmt.Errorf("JWT_SECRET is required")
	}
	switch strings.ToLower(cfg.Log.Format) {
	case "text", "json":
	default:
		return fmt.Errorf("LOG_FORMAT must be text or json, got %q", cfg.Log.Format)
	}
	return nil
}

// LoadConfig reads the configuration from environment variables, falling
// back to defaults for anything unset.
func LoadConfig() (Config, error) {
	var raw envConfig
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	cfg := DefaultConfig()
	if raw.Port != "" {
		cfg.Port = raw.Port
	}
	if len(raw.AllowedOrigins) > 0 {
		cfg.AllowedOrigins = parseOrigins(raw.AllowedOrigins)
	}
	if raw.MaxMessageSize > 0 {
		cfg.MaxMessageSize = raw.MaxMessageSize
	}
	if raw.MaxTextLength > 0 {
		cfg.MaxTextLength = raw.MaxTextLength
	}
	if raw.HistoryLimit > 0 {
		cfg.HistoryLimit = raw.HistoryLimit
	}
	if raw.PublicBaseURL != "" {
		cfg.PublicBaseURL = raw.PublicBaseURL
	}
	if raw.RateLimitBurst > 0 {
		cfg.RateLimit.Burst = raw.RateLimitBurst
	}
	if raw.RefillInterval != "" {
		interval, err := parseRefillInterval(raw.RefillInterval)
		if err != nil {
			return Config{}, err
		}
		cfg.RateLimit.RefillInterval = interval
	}
	if raw.ShutdownTimeout > 0 {
		cfg.ShutdownTimeout = raw.ShutdownTimeout
	}
	if raw.StoreDriver != "" {
		cfg.Store.Driver = raw.StoreDriver
	}
	cfg.Store.DSN = raw.StoreDSN
	cfg.Auth = AuthConfig{Secret: raw.JWTSecret, Issuer: raw.JWTIssuer}
	if raw.LogLevel != "" {
		cfg.Log.Level = raw.LogLevel
	}
	if raw.LogFormat != "" {
		cfg.Log.Format = raw.LogFormat
	}

	return cfg.Sanitize(), nil
}

func parseOrigins(origins []string) []string {
	out := make([]string, 0, len(origins))
	for _, o := range origins {
		if o = strings.TrimSpace(o); o != "" {
			out = append(out, o)
		}
	}
	return out
}

// parseRefillInterval accepts whole seconds ("2") or a duration ("500ms").
func parseRefillInterval(value string) (time.Duration, error) {
	value = strings.TrimSpace(value)
	if seconds, err := strconv.Atoi(value); err == nil {
		if seconds <= 0 {
			return 0, fmt.Errorf("RATE_LIMIT_REFILL_INTERVAL must be positive")
		}
		return time.Duration(seconds) * time.Second, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return 0, fmt.Errorf("RATE_LIMIT_REFILL_INTERVAL %q is not a positive duration", value)
	}
	return d, nil
}
