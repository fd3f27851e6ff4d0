package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreMemory   = "memory"
	StorePostgres = "postgres"
	StoreSQLite   = "sqlite"

	idemTTLSecondsEnvVar  = "IDEMPOTENCY_TTL_SECONDS"
	shutdownSecondsEnvVar = "SHUTDOWN_TIMEOUT_SECONDS"
	maxDisplayScale       = 38
	defaultDotEnvFile     = ".env"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string        `env:"APP_NAME" envDefault:"RentWallet"`
	AppEnv         string        `env:"APP_ENV" envDefault:"development"`
	Port           string        `env:"PORT" envDefault:"8080"`
	LogLevel       string        `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat      string        `env:"LOG_FORMAT" envDefault:"json"`
	LedgerID       string        `env:"LEDGER_ID" envDefault:"rent_wallet"`
	StoreDriver    string        `env:"STORE_DRIVER" envDefault:"postgres"`
	DatabaseURL    string        `env:"DATABASE_URL"`
	SQLitePath     string        `env:"SQLITE_PATH" envDefault:"rent_wallet.db"`
	RedisURL       string        `env:"REDIS_URL"`
	KafkaBrokers   []string      `env:"KAFKA_BROKERS" envSeparator:","`
	KafkaTopic     string        `env:"KAFKA_TOPIC" envDefault:"rent_wallet.events"`
	EventStream    string        `env:"EVENT_STREAM"`
	EventStreamMax int64         `env:"EVENT_STREAM_MAXLEN" envDefault:"100000"`
	ShutdownPeriod time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"10s"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
	TokenAudience  string        `env:"TOKEN_AUDIENCE"`
	TokenMaxTTL    time.Duration `env:"TOKEN_MAX_TTL" envDefault:"5m"`
	DeployKeyHash  string        `env:"DEPLOY_KEY_HASH"`
	DisplayScale   int32         `env:"DISPLAY_SCALE" envDefault:"7"`
	RateLimit      int           `env:"RATE_LIMIT_PER_MIN" envDefault:"60"`
	OTelEndpoint   string        `env:"OTEL_ENDPOINT"`
	CORSOrigins    []string      `env:"CORS_ORIGINS" envSeparator:"," envDefault:"http://localhost:3000"`
}

// Load reads an optional .env file, then the environment, and validates the result.
func Load() (Config, error) {
	if err := godotenv.Load(defaultDotEnvFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load %s: %w", defaultDotEnvFile, err)
	}
	return Parse()
}

// Parse reads configuration from the current environment only.
func Parse() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}

	// second-based overrides win over the duration forms
	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	}
	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	}

	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	cfg.StoreDriver = strings.ToLower(strings.TrimSpace(cfg.StoreDriver))
	cfg.LedgerID = strings.TrimSpace(cfg.LedgerID)
	if strings.TrimSpace(cfg.TokenAudience) == "" {
		cfg.TokenAudience = cfg.LedgerID
	}
	cfg.CORSOrigins = trimList(cfg.CORSOrigins)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints.
func (c Config) Validate() error {
	if c.LedgerID == "" {
		return fmt.Errorf("LEDGER_ID must be set")
	}
	switch c.StoreDriver {
	case StoreMemory:
		if !c.IsDev() {
			return fmt.Errorf("STORE_DRIVER=%s is only allowed in development", StoreMemory)
		}
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("DATABASE_URL must be set")
		}
	case StoreSQLite:
		if strings.TrimSpace(c.SQLitePath) == "" {
			return fmt.Errorf("SQLITE_PATH must be set")
		}
	default:
		return fmt.Errorf("unsupported STORE_DRIVER %q", c.StoreDriver)
	}

	if c.RedisURL == "" && !c.IsDev() {
		return fmt.Errorf("REDIS_URL must be set")
	}
	if c.TokenMaxTTL <= 0 {
		return fmt.Errorf("TOKEN_MAX_TTL must be positive")
	}
	if c.DisplayScale < 0 || c.DisplayScale > maxDisplayScale {
		return fmt.Errorf("DISPLAY_SCALE must be between 0 and %d", maxDisplayScale)
	}
	if c.IdempotencyTTL <= 0 {
		return fmt.Errorf("IDEMPOTENCY_TTL must be positive")
	}
	return nil
}

func trimList(in []string) []string {
	out := make([]string, 0, len(in))
	for _, v := range in {
		if v = strings.TrimSpace(v); v != "" {
			out = append(out, v)
		}
	}
	return out
}

// IsDev reports whether the service runs in a development environment.
func (c Config) IsDev() bool {
	switch strings.ToLower(c.AppEnv) {
	case "", "dev", "development", "local", "test":
		return true
	}
	return false
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}
