package config

import (
	"errors"
	"io/fs"
	"time"

	"github.com/caarlos0/env/v10"
	"github.com/joho/godotenv"
)

// Rehydration sources.
const (
	RehydrateFromJournal = "journal"
	RehydrateFromLedger  = "ledger"
	RehydrateNone        = "none"
)

// Config holds all application configuration.
type Config struct {
	// Database; an empty URL keeps the journal in memory.
	DatabaseURL      string        `env:"DATABASE_URL"       envDefault:""`
	DatabaseMaxConns int           `env:"DATABASE_MAX_CONNS" envDefault:"25"`
	DatabaseMinConns int           `env:"DATABASE_MIN_CONNS" envDefault:"5"`
	DatabaseTimeout  time.Duration `env:"DATABASE_TIMEOUT"   envDefault:"30s"`
	MigrationsPath   string        `env:"MIGRATIONS_PATH"    envDefault:"file://migrations"`

	// Redis; empty disables idempotency keys and rule caching.
	RedisURL     string        `env:"REDIS_URL"      envDefault:""`
	RuleCacheTTL time.Duration `env:"RULE_CACHE_TTL" envDefault:"5m"`

	// AMQP; empty disables ledger event subscriptions and outbox publishing.
	AMQPURL            string `env:"AMQP_URL"             envDefault:""`
	AMQPEventsExchange string `env:"AMQP_EVENTS_EXCHANGE" envDefault:"ledger.events"`
	AMQPOutboxExchange string `env:"AMQP_OUTBOX_EXCHANGE" envDefault:"xledger.transfers"`

	// Ledgers
	ChainsFile    string `env:"CHAINS_FILE"    envDefault:"chains.yaml"`
	RehydrateFrom string `env:"REHYDRATE_FROM" envDefault:"journal"`

	// Saga
	LegExpiry          time.Duration `env:"LEG_EXPIRY"           envDefault:"10m"`
	LegSubmitTimeout   time.Duration `env:"LEG_SUBMIT_TIMEOUT"   envDefault:"1m"`
	ExpirySchedule     string        `env:"EXPIRY_SCHEDULE"      envDefault:"@every 30s"`
	EarlyEventTTL      time.Duration `env:"EARLY_EVENT_TTL"      envDefault:"30s"`
	EarlyEventCapacity int           `env:"EARLY_EVENT_CAPACITY" envDefault:"1024"`

	// Outbox
	OutboxInterval  time.Duration `env:"OUTBOX_INTERVAL"   envDefault:"1s"`
	OutboxBatchSize int           `env:"OUTBOX_BATCH_SIZE" envDefault:"100"`
	OutboxRetention time.Duration `env:"OUTBOX_RETENTION"  envDefault:"168h"`

	// HTTP Server
	HTTPPort            string        `env:"HTTP_PORT"             envDefault:"8080"`
	HTTPReadTimeout     time.Duration `env:"HTTP_READ_TIMEOUT"     envDefault:"30s"`
	HTTPWriteTimeout    time.Duration `env:"HTTP_WRITE_TIMEOUT"    envDefault:"30s"`
	HTTPIdleTimeout     time.Duration `env:"HTTP_IDLE_TIMEOUT"     envDefault:"60s"`
	HTTPShutdownTimeout time.Duration `env:"HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
	RateLimitRPS        float64       `env:"RATE_LIMIT_RPS"        envDefault:"100"`
	RateLimitBurst      int           `env:"RATE_LIMIT_BURST"      envDefault:"200"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL"  envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Idempotency
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`
}

// Load loads configuration from environment variables, after applying an
// optional .env file from the working directory.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	cfg := &Config{}
	err := env.Parse(cfg)
	if err != nil {
		return nil, err
	}

	switch cfg.RehydrateFrom {
	case RehydrateFromJournal, RehydrateFromLedger, RehydrateNone:
	default:
		return nil, errors.New("REHYDRATE_FROM must be journal, ledger or none")
	}

	return cfg, nil
}
