package config

import (
	"errors"
	"time"

	"github.com/kelseyhightower/envconfig"
)

// minSecretBytes is the floor for the HS256 signing secret.
const minSecretBytes = 32

// Config holds runtime configuration for the access service.
type Config struct {
	AppEnv          string        `envconfig:"APP_ENV" default:"development"`
	Addr            string        `envconfig:"ADDR" default:":8080"`
	ReadTimeout     time.Duration `envconfig:"READ_TIMEOUT" default:"15s"`
	WriteTimeout    time.Duration `envconfig:"WRITE_TIMEOUT" default:"15s"`
	ShutdownTimeout time.Duration `envconfig:"SHUTDOWN_TIMEOUT" default:"10s"`

	LogFormat string `envconfig:"LOG_FORMAT" default:"json"`

	PGDSN        string        `envconfig:"PG_DSN" default:""`
	StoreTimeout time.Duration `envconfig:"STORE_TIMEOUT" default:"3s"`

	RedisAddr     string        `envconfig:"REDIS_ADDR" default:""`
	GrantCacheTTL time.Duration `envconfig:"GRANT_CACHE_TTL" default:"60s"`

	AuthSecret string        `envconfig:"AUTH_SECRET" required:"true"`
	AuthIssuer string        `envconfig:"AUTH_ISSUER" default:"flextraff"`
	AccessTTL  time.Duration `envconfig:"ACCESS_TTL" default:"30m"`
	RefreshTTL time.Duration `envconfig:"REFRESH_TTL" default:"168h"`

	RateLimitRPS   float64 `envconfig:"RATE_LIMIT_RPS" default:"20"`
	RateLimitBurst int     `envconfig:"RATE_LIMIT_BURST" default:"40"`
}

// Load reads configuration from FLEXTRAFF_* environment variables.
func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("flextraff", &cfg); err != nil {
		return nil, err
	}
	if len(cfg.AuthSecret) < minSecretBytes {
		return nil, errors.New("auth secret must be at least 32 bytes")
	}
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 {
		return nil, errors.New("token TTLs must be positive")
	}
	if cfg.RefreshTTL <= cfg.AccessTTL {
		return nil, errors.New("refresh TTL must exceed access TTL")
	}
	return &cfg, nil
}

// IsProduction reports whether the service runs in production.
func (c *Config) IsProduction() bool {
	return c != nil && c.AppEnv == "production"
}
