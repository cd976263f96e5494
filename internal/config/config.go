package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/shopspring/decimal"
)

type Config struct {
	Env  string `env:"APP_ENV" envDefault:"local"`
	Port string `env:"PORT" envDefault:"8080"`

	RedisURL  string `env:"REDIS_URL" envDefault:"localhost:6379"`
	RedisPass string `env:"REDIS_PASSWORD"`
	RedisDB   int    `env:"REDIS_DB" envDefault:"0"`

	JWTSecret string `env:"JWT_SECRET"`
	JWTIssuer string `env:"JWT_ISSUER" envDefault:"fairroll"`

	HouseEdge         decimal.Decimal `env:"HOUSE_EDGE" envDefault:"5"`
	SettlementTimeout time.Duration   `env:"SETTLEMENT_TIMEOUT" envDefault:"3s"`
	MaxRetries        uint            `env:"SETTLEMENT_MAX_RETRIES" envDefault:"5"`
	LockTTL           time.Duration   `env:"LOCK_TTL"`

	EventQueueSize     int    `env:"EVENT_QUEUE_SIZE" envDefault:"1024"`
	EventChannelPrefix string `env:"EVENT_CHANNEL_PREFIX" envDefault:"events:user:"`
}

// Load reads the configuration from the environment. Call godotenv first to
// pick up a local .env file.
func Load() (*Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	if cfg.LockTTL == 0 {
		cfg.LockTTL = cfg.SettlementTimeout
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) Validate() error {
	if c.HouseEdge.IsNegative() || c.HouseEdge.GreaterThanOrEqual(decimal.NewFromInt(100)) {
		return fmt.Errorf("HOUSE_EDGE must be in [0, 100), got %s", c.HouseEdge)
	}
	if c.SettlementTimeout <= 0 {
		return fmt.Errorf("SETTLEMENT_TIMEOUT must be positive")
	}
	if c.LockTTL < c.SettlementTimeout {
		return fmt.Errorf("LOCK_TTL must not be shorter than SETTLEMENT_TIMEOUT")
	}
	if c.MaxRetries == 0 {
		return fmt.Errorf("SETTLEMENT_MAX_RETRIES must be at least 1")
	}
	if c.EventQueueSize <= 0 {
		return fmt.Errorf("EVENT_QUEUE_SIZE must be positive")
	}
	if c.Env == "production" && c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET is required in production")
	}
	return nil
}
