// Package config defines the top-level configuration for the market ledger
// daemon and provides validation helpers.
package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the root configuration structure. Fields are populated from a
// TOML file and then optionally overridden by LEDGERD_* environment
// variables.
type Config struct {
	Postgres PostgresConfig `toml:"postgres"`
	Redis    RedisConfig    `toml:"redis"`
	S3       S3Config       `toml:"s3"`
	Treasury TreasuryConfig `toml:"treasury"`
	Engine   EngineConfig   `toml:"engine"`
	Archive  ArchiveConfig  `toml:"archive"`
	Server   ServerConfig   `toml:"server"`
	Notify   NotifyConfig   `toml:"notify"`
	Storage  string         `toml:"storage"` // "postgres" or "memory"
	Mode     string         `toml:"mode"`    // "server", "archive", "full"
	LogLevel string         `toml:"log_level"`
}

// PostgresConfig holds PostgreSQL connection parameters.
type PostgresConfig struct {
	DSN           string `toml:"dsn"`
	Host          string `toml:"host"`
	Port          int    `toml:"port"`
	Database      string `toml:"database"`
	User          string `toml:"user"`
	Password      string `toml:"password"`
	SSLMode       string `toml:"ssl_mode"`
	PoolMaxConns  int    `toml:"pool_max_conns"`
	PoolMinConns  int    `toml:"pool_min_conns"`
	RunMigrations bool   `toml:"run_migrations"`
}

// RedisConfig holds Redis connection parameters. Redis backs the market
// cache, the rate limiter, and the ledger event bus; disabling it turns all
// three off.
type RedisConfig struct {
	Enabled      bool   `toml:"enabled"`
	Addr         string `toml:"addr"`
	Password     string `toml:"password"`
	DB           int    `toml:"db"`
	PoolSize     int    `toml:"pool_size"`
	MaxRetries   int    `toml:"max_retries"`
	TLSEnabled   bool   `toml:"tls_enabled"`
	StreamMaxLen int    `toml:"stream_max_len"`
}

// S3Config holds S3-compatible object storage parameters for archival.
type S3Config struct {
	Endpoint       string `toml:"endpoint"`
	Region         string `toml:"region"`
	Bucket         string `toml:"bucket"`
	AccessKey      string `toml:"access_key"`
	SecretKey      string `toml:"secret_key"`
	UseSSL         bool   `toml:"use_ssl"`
	ForcePathStyle bool   `toml:"force_path_style"`
}

// TreasuryConfig selects and parameterizes the value-transfer backend.
type TreasuryConfig struct {
	// Mode selects the backend: "ledger" (in-process balances) or "eth"
	// (custodial hot wallet on an Ethereum-compatible chain).
	Mode string `toml:"mode"`

	// RPCURL and ChainID configure the eth backend.
	RPCURL  string `toml:"rpc_url"`
	ChainID int64  `toml:"chain_id"`

	// The signing key comes either raw or from a sealed key file.
	PrivateKey    string `toml:"private_key"`
	SealedKeyPath string `toml:"sealed_key_path"`
	KeyPassword   string `toml:"key_password"`

	// Seed pre-funds accounts in the ledger backend (account -> micro-units).
	// Ignored by the eth backend.
	Seed map[string]int64 `toml:"seed"`
}

// EngineConfig holds the ledger's tunable limits.
type EngineConfig struct {
	MinBet            int64    `toml:"min_bet"`
	MaxBet            int64    `toml:"max_bet"`
	EmergencyTimelock duration `toml:"emergency_timelock"`
}

// ArchiveConfig holds settled-market archival parameters.
type ArchiveConfig struct {
	Enabled bool `toml:"enabled"`

	// RetentionDays is how long a resolved market stays out of the archive.
	RetentionDays int `toml:"retention_days"`

	// Interval is how often the archiver sweeps.
	Interval duration `toml:"interval"`
}

// ServerConfig holds HTTP server parameters.
type ServerConfig struct {
	Enabled     bool     `toml:"enabled"`
	Port        int      `toml:"port"`
	APIKey      string   `toml:"api_key"`
	CORSOrigins []string `toml:"cors_origins"`

	// RateLimit caps requests per client IP per RateWindow. Zero disables.
	RateLimit  int      `toml:"rate_limit"`
	RateWindow duration `toml:"rate_window"`
}

// NotifyConfig holds notification channel credentials.
type NotifyConfig struct {
	TelegramToken     string   `toml:"telegram_token"`
	TelegramChatID    string   `toml:"telegram_chat_id"`
	DiscordWebhookURL string   `toml:"discord_webhook_url"`
	Events            []string `toml:"events"`
}

// duration is a wrapper around time.Duration that supports TOML string
// decoding (e.g. "5m", "720h").
type duration struct {
	time.Duration
}

// UnmarshalText implements encoding.TextUnmarshaler so the TOML decoder can
// parse duration strings like "5m" or "30s".
func (d *duration) UnmarshalText(text []byte) error {
	var err error
	d.Duration, err = time.ParseDuration(string(text))
	return err
}

// MarshalText implements encoding.TextMarshaler for round-trip encoding.
func (d duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

// Defaults returns a Config populated with reasonable default values.
// These match the values in config.example.toml.
func Defaults() Config {
	return Config{
		Postgres: PostgresConfig{
			DSN:           "",
			Host:          "localhost",
			Port:          5432,
			Database:      "marketledger",
			User:          "postgres",
			SSLMode:       "disable",
			PoolMaxConns:  10,
			PoolMinConns:  2,
			RunMigrations: true,
		},
		Redis: RedisConfig{
			Enabled:      true,
			Addr:         "localhost:6379",
			DB:           0,
			PoolSize:     20,
			MaxRetries:   3,
			TLSEnabled:   false,
			StreamMaxLen: 10000,
		},
		S3: S3Config{
			Endpoint:       "http://localhost:9000",
			Region:         "us-east-1",
			Bucket:         "marketledger-archive",
			UseSSL:         false,
			ForcePathStyle: true,
		},
		Treasury: TreasuryConfig{
			Mode: "ledger",
			Seed: map[string]int64{},
		},
		Engine: EngineConfig{
			MinBet:            1_000,
			MaxBet:            100_000_000,
			EmergencyTimelock: duration{30 * 24 * time.Hour},
		},
		Archive: ArchiveConfig{
			Enabled:       false,
			RetentionDays: 90,
			Interval:      duration{24 * time.Hour},
		},
		Server: ServerConfig{
			Enabled:     true,
			Port:        8000,
			CORSOrigins: []string{"http://localhost:3000", "http://localhost:5173"},
			RateLimit:   100,
			RateWindow:  duration{time.Minute},
		},
		Notify: NotifyConfig{
			Events: []string{"market_resolved", "emergency_withdrawal"},
		},
		Storage:  "postgres",
		Mode:     "full",
		LogLevel: "info",
	}
}

// validModes enumerates the accepted values for Config.Mode.
var validModes = map[string]bool{
	"server":  true,
	"archive": true,
	"full":    true,
}

// validLogLevels enumerates the accepted values for Config.LogLevel.
var validLogLevels = map[string]bool{
	"debug": true,
	"info":  true,
	"warn":  true,
	"error": true,
}

// validStorage enumerates the accepted values for Config.Storage.
var validStorage = map[string]bool{
	"postgres": true,
	"memory":   true,
}

// validTreasuryModes enumerates the accepted values for Treasury.Mode.
var validTreasuryModes = map[string]bool{
	"ledger": true,
	"eth":    true,
}

// Validate checks Config for obviously invalid or missing values and returns
// a combined error describing every problem found.
func (c *Config) Validate() error {
	var errs []string

	// Mode
	if !validModes[strings.ToLower(c.Mode)] {
		errs = append(errs, fmt.Sprintf("unknown mode %q (valid: server, archive, full)", c.Mode))
	}

	// LogLevel
	if !validLogLevels[strings.ToLower(c.LogLevel)] {
		errs = append(errs, fmt.Sprintf("unknown log_level %q (valid: debug, info, warn, error)", c.LogLevel))
	}

	// Storage
	if !validStorage[strings.ToLower(c.Storage)] {
		errs = append(errs, fmt.Sprintf("unknown storage %q (valid: postgres, memory)", c.Storage))
	}

	// Postgres
	if strings.ToLower(c.Storage) == "postgres" {
		if strings.TrimSpace(c.Postgres.DSN) == "" {
			if c.Postgres.Host == "" {
				errs = append(errs, "postgres: host must not be empty (or set postgres.dsn)")
			}
			if c.Postgres.Port <= 0 || c.Postgres.Port > 65535 {
				errs = append(errs, fmt.Sprintf("postgres: port must be 1-65535, got %d", c.Postgres.Port))
			}
			if c.Postgres.Database == "" {
				errs = append(errs, "postgres: database must not be empty")
			}
		}
		if c.Postgres.PoolMaxConns < 1 {
			errs = append(errs, "postgres: pool_max_conns must be >= 1")
		}
		if c.Postgres.PoolMinConns < 0 {
			errs = append(errs, "postgres: pool_min_conns must be >= 0")
		}
		if c.Postgres.PoolMinConns > c.Postgres.PoolMaxConns {
			errs = append(errs, "postgres: pool_min_conns must not exceed pool_max_conns")
		}
	}

	// Redis
	if c.Redis.Enabled {
		if c.Redis.Addr == "" {
			errs = append(errs, "redis: addr must not be empty when enabled")
		}
		if c.Redis.PoolSize < 1 {
			errs = append(errs, "redis: pool_size must be >= 1")
		}
	}

	// S3 is only needed when archival runs.
	needsArchive := c.Archive.Enabled || strings.ToLower(c.Mode) == "archive"
	if needsArchive {
		if c.S3.Endpoint == "" {
			errs = append(errs, "s3: endpoint must not be empty when archival is enabled")
		}
		if c.S3.Bucket == "" {
			errs = append(errs, "s3: bucket must not be empty when archival is enabled")
		}
		if c.S3.Region == "" {
			errs = append(errs, "s3: region must not be empty when archival is enabled")
		}
		if c.Archive.RetentionDays < 1 {
			errs = append(errs, "archive: retention_days must be >= 1")
		}
		if c.Archive.Interval.Duration <= 0 {
			errs = append(errs, "archive: interval must be positive")
		}
	}

	// Treasury
	tmode := strings.ToLower(c.Treasury.Mode)
	if !validTreasuryModes[tmode] {
		errs = append(errs, fmt.Sprintf("unknown treasury mode %q (valid: ledger, eth)", c.Treasury.Mode))
	}
	if tmode == "eth" {
		if c.Treasury.RPCURL == "" {
			errs = append(errs, "treasury: rpc_url is required for eth mode")
		}
		if c.Treasury.ChainID <= 0 {
			errs = append(errs, "treasury: chain_id must be positive for eth mode")
		}
		if c.Treasury.PrivateKey == "" && c.Treasury.SealedKeyPath == "" {
			errs = append(errs, "treasury: either private_key or sealed_key_path must be set for eth mode")
		}
		if c.Treasury.SealedKeyPath != "" && c.Treasury.KeyPassword == "" {
			errs = append(errs, "treasury: key_password is required when sealed_key_path is set")
		}
	}
	for account, balance := range c.Treasury.Seed {
		if balance < 0 {
			errs = append(errs, fmt.Sprintf("treasury: seed balance for %q must not be negative", account))
		}
	}

	// Engine
	if c.Engine.MinBet <= 0 {
		errs = append(errs, "engine: min_bet must be > 0")
	}
	if c.Engine.MaxBet < c.Engine.MinBet {
		errs = append(errs, "engine: max_bet must be >= min_bet")
	}
	if c.Engine.EmergencyTimelock.Duration <= 0 {
		errs = append(errs, "engine: emergency_timelock must be positive")
	}

	// Server
	if c.Server.Enabled {
		if c.Server.Port <= 0 || c.Server.Port > 65535 {
			errs = append(errs, fmt.Sprintf("server: port must be 1-65535, got %d", c.Server.Port))
		}
		if c.Server.RateLimit < 0 {
			errs = append(errs, "server: rate_limit must be >= 0")
		}
		if c.Server.RateLimit > 0 && c.Server.RateWindow.Duration <= 0 {
			errs = append(errs, "server: rate_window must be positive when rate_limit is set")
		}
	}

	// Telegram token and chat id must come together.
	tt := c.Notify.TelegramToken != ""
	tc := c.Notify.TelegramChatID != ""
	if tt != tc {
		errs = append(errs, "notify: telegram_token and telegram_chat_id must be set together")
	}

	if len(errs) > 0 {
		return fmt.Errorf("config validation failed:\n  - %s", strings.Join(errs, "\n  - "))
	}
	return nil
}
