package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

const (
	SequenceDatabase = "database"
	SequenceRedis    = "redis"

	LockLocal = "local"
	LockRedis = "redis"
)

type Config struct {
	App struct {
		Port          int    `envconfig:"PORT" default:"8080"`
		AllowedOrigin string `envconfig:"ALLOWED_ORIGIN" default:"http://127.0.0.1:3000"`
		LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
		LogFormat     string `envconfig:"LOG_FORMAT" default:"console"`
	}

	DB struct {
		URL         string `envconfig:"DATABASE_URL"`
		AutoMigrate bool   `envconfig:"DB_AUTO_MIGRATE" default:"true"`
	}

	Redis struct {
		Addr     string `envconfig:"REDIS_ADDR"`
		Password string `envconfig:"REDIS_PASSWORD"`
		DB       int    `envconfig:"REDIS_DB" default:"0"`
	}

	Auth struct {
		Secret     string        `envconfig:"AUTH_SECRET"`
		TokenTTL   time.Duration `envconfig:"ACCESS_TOKEN_TTL" default:"8h"`
		ManagerPIN string        `envconfig:"MANAGER_PIN"`
	}

	// Settings are the store's business rules.
	Settings struct {
		TaxRate            float64 `envconfig:"TAX_RATE" default:"12"`
		MaxDiscountPercent float64 `envconfig:"MAX_DISCOUNT_PERCENT" default:"20"`
		DiscountAdminOnly  bool    `envconfig:"DISCOUNT_ADMIN_ONLY" default:"false"`
		ReceiptFooter      string  `envconfig:"RECEIPT_FOOTER" default:"Xaridingiz uchun rahmat!"`
		ReturnReversesDebt bool    `envconfig:"RETURN_REVERSES_DEBT" default:"false"`
	}

	Workflow struct {
		SequenceBackend     string        `envconfig:"SEQUENCE_BACKEND" default:"database"`
		LockBackend         string        `envconfig:"LOCK_BACKEND" default:"local"`
		LockLease           time.Duration `envconfig:"LOCK_LEASE" default:"15s"`
		CompensationTimeout time.Duration `envconfig:"COMPENSATION_TIMEOUT" default:"10s"`
		RestockCacheTTL     time.Duration `envconfig:"RESTOCK_CACHE_TTL" default:"60s"`
		BreakerFailures     int           `envconfig:"SEQUENCE_BREAKER_FAILURES" default:"5"`
		BreakerOpenTimeout  time.Duration `envconfig:"SEQUENCE_BREAKER_OPEN_TIMEOUT" default:"30s"`
	}
}

// Load reads an optional .env file and then the process environment, which
// wins over the file.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read .env: %w", err)
	}

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to process config: %w", err)
	}

	cfg.Auth.Secret = strings.TrimSpace(cfg.Auth.Secret)
	cfg.Auth.ManagerPIN = strings.TrimSpace(cfg.Auth.ManagerPIN)
	cfg.Workflow.SequenceBackend = strings.ToLower(strings.TrimSpace(cfg.Workflow.SequenceBackend))
	cfg.Workflow.LockBackend = strings.ToLower(strings.TrimSpace(cfg.Workflow.LockBackend))

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	switch c.Workflow.SequenceBackend {
	case SequenceDatabase, SequenceRedis:
	default:
		return fmt.Errorf("SEQUENCE_BACKEND must be %q or %q", SequenceDatabase, SequenceRedis)
	}
	switch c.Workflow.LockBackend {
	case LockLocal, LockRedis:
	default:
		return fmt.Errorf("LOCK_BACKEND must be %q or %q", LockLocal, LockRedis)
	}
	if c.NeedsRedis() && c.Redis.Addr == "" {
		return errors.New("REDIS_ADDR is required by the redis sequence or lock backend")
	}
	if c.Settings.TaxRate < 0 || c.Settings.TaxRate > 100 {
		return errors.New("TAX_RATE must be between 0 and 100")
	}
	if c.Settings.MaxDiscountPercent < 0 || c.Settings.MaxDiscountPercent > 100 {
		return errors.New("MAX_DISCOUNT_PERCENT must be between 0 and 100")
	}
	return nil
}

// NeedsRedis reports whether a workflow backend depends on Redis, in which
// case an unreachable Redis must stop startup.
func (c *Config) NeedsRedis() bool {
	return c.Workflow.SequenceBackend == SequenceRedis || c.Workflow.LockBackend == LockRedis
}

func (c *Config) Address() string {
	return fmt.Sprintf(":%d", c.App.Port)
}
