package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int    `env:"PORT"      envDefault:"8080"`
	LogLevel string `env:"LOG_LEVEL" envDefault:"info"`
	// Bearer auth of tenant routes; empty disables it.
	AuthSecret string `env:"AUTH_JWT_SECRET"`

	// Account directory
	DatabaseURL       string        `env:"DATABASE_URL"`
	AccountsFile      string        `env:"ACCOUNTS_FILE"       envDefault:"accounts.json"`
	DirectoryCacheTTL time.Duration `env:"DIRECTORY_CACHE_TTL" envDefault:"5m"`
	CredentialsKey    string        `env:"CREDENTIALS_KEY"`

	// Transfer journal
	RedisURL       string        `env:"REDIS_URL"`
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"72h"`

	// Operation limits
	BalanceTimeout       time.Duration `env:"BALANCE_TIMEOUT"         envDefault:"5s"`
	StatementTimeout     time.Duration `env:"STATEMENT_TIMEOUT"       envDefault:"10s"`
	TransferTimeout      time.Duration `env:"TRANSFER_TIMEOUT"        envDefault:"30s"`
	MaxStatementSpanDays int           `env:"MAX_STATEMENT_SPAN_DAYS" envDefault:"366"`

	// HTTP client
	HTTPTimeout time.Duration `env:"HTTP_TIMEOUT" envDefault:"20s"`

	// Resilience
	MaxRetries     int           `env:"MAX_RETRIES"     envDefault:"2"`
	InitialBackoff time.Duration `env:"INITIAL_BACKOFF" envDefault:"100ms"`
	MaxBackoff     time.Duration `env:"MAX_BACKOFF"     envDefault:"2s"`
	MaxConcurrency int           `env:"MAX_CONCURRENCY" envDefault:"50"`
	ProviderRPS    float64       `env:"PROVIDER_RPS"    envDefault:"10"`
	ProviderBurst  int           `env:"PROVIDER_BURST"  envDefault:"20"`

	// Providers (empty URL = provider not registered)
	CorebankURL        string `env:"COREBANK_URL"`
	CorebankSandboxURL string `env:"COREBANK_SANDBOX_URL"`
	PayhubURL          string `env:"PAYHUB_URL"`
	PayhubSandboxURL   string `env:"PAYHUB_SANDBOX_URL"`

	// Observability
	TracingEnabled bool   `env:"TRACING_ENABLED"             envDefault:"false"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
}

// LoadDotEnv reads a .env file into the environment.
// It does NOT override existing env vars (env takes precedence).
func LoadDotEnv(path string) error {
	return godotenv.Load(path)
}

// Load reads configuration from environment variables with defaults.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects settings the gateway cannot run with.
func (c *Config) Validate() error {
	var errs []error
	if c.Port <= 0 || c.Port > 65535 {
		errs = append(errs, fmt.Errorf("PORT %d out of range", c.Port))
	}
	for name, d := range map[string]time.Duration{
		"BALANCE_TIMEOUT":   c.BalanceTimeout,
		"STATEMENT_TIMEOUT": c.StatementTimeout,
		"TRANSFER_TIMEOUT":  c.TransferTimeout,
		"HTTP_TIMEOUT":      c.HTTPTimeout,
	} {
		if d <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", name))
		}
	}
	if c.MaxConcurrency < 1 {
		errs = append(errs, errors.New("MAX_CONCURRENCY must be at least 1"))
	}
	if c.MaxRetries < 0 {
		errs = append(errs, errors.New("MAX_RETRIES cannot be negative"))
	}
	if c.MaxStatementSpanDays < 1 {
		errs = append(errs, errors.New("MAX_STATEMENT_SPAN_DAYS must be at least 1"))
	}
	if c.IdempotencyTTL <= 0 {
		errs = append(errs, errors.New("IDEMPOTENCY_TTL must be positive"))
	}
	if c.DatabaseURL != "" {
		key, err := hex.DecodeString(c.CredentialsKey)
		if err != nil || len(key) != 32 {
			errs = append(errs, errors.New("CREDENTIALS_KEY must be 32 hex-encoded bytes when DATABASE_URL is set"))
		}
	}
	return errors.Join(errs...)
}
