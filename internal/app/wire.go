package app

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	s3blob "github.com/alanyoungcy/marketledger/internal/blob/s3"
	"github.com/alanyoungcy/marketledger/internal/cache/redis"
	"github.com/alanyoungcy/marketledger/internal/config"
	"github.com/alanyoungcy/marketledger/internal/crypto"
	"github.com/alanyoungcy/marketledger/internal/domain"
	"github.com/alanyoungcy/marketledger/internal/notify"
	"github.com/alanyoungcy/marketledger/internal/store/memory"
	"github.com/alanyoungcy/marketledger/internal/store/postgres"
	"github.com/alanyoungcy/marketledger/internal/treasury"
)

// Dependencies bundles every domain-level dependency that the application
// modes need to operate. It is constructed by Wire and torn down by the
// returned cleanup function.
type Dependencies struct {
	// Stores
	MarketStore domain.MarketStore
	BetStore    domain.BetStore
	AuditStore  domain.AuditStore

	// Treasury
	Treasury domain.Treasury

	// Redis-backed plumbing (nil when Redis is disabled)
	MarketCache domain.MarketCache
	RateLimiter domain.RateLimiter
	LockManager domain.LockManager
	SignalBus   domain.SignalBus

	// Blob storage (nil unless archival is wired)
	BlobWriter domain.BlobWriter
	Archiver   domain.Archiver

	// Notifications
	Notifier *notify.Notifier
}

// needsS3 returns true for configurations that require object storage.
func needsS3(cfg *config.Config) bool {
	return cfg.Archive.Enabled || strings.ToLower(cfg.Mode) == "archive"
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- Stores ---
	switch strings.ToLower(cfg.Storage) {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Postgres.DSN,
			Host:     cfg.Postgres.Host,
			Port:     cfg.Postgres.Port,
			Database: cfg.Postgres.Database,
			User:     cfg.Postgres.User,
			Password: cfg.Postgres.Password,
			SSLMode:  cfg.Postgres.SSLMode,
			MaxConns: cfg.Postgres.PoolMaxConns,
			MinConns: cfg.Postgres.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.MarketStore = postgres.NewMarketStore(pool)
		deps.BetStore = postgres.NewBetStore(pool)
		deps.AuditStore = postgres.NewAuditStore(pool)

	case "memory":
		deps.MarketStore = memory.NewMarketStore()
		deps.BetStore = memory.NewBetStore()
		deps.AuditStore = memory.NewAuditStore()

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported storage %q", cfg.Storage)
	}

	// --- Treasury ---
	switch strings.ToLower(cfg.Treasury.Mode) {
	case "ledger":
		ledger := treasury.NewLedger()
		for account, balance := range cfg.Treasury.Seed {
			if err := ledger.Deposit(account, balance); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: treasury seed %q: %w", account, err)
			}
		}
		deps.Treasury = ledger

	case "eth":
		keyHex, err := crypto.LoadKey(crypto.LoadKeyConfig{
			RawPrivateKey: cfg.Treasury.PrivateKey,
			SealedKeyPath: cfg.Treasury.SealedKeyPath,
			KeyPassword:   cfg.Treasury.KeyPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: treasury key: %w", err)
		}
		eth, err := treasury.NewEth(ctx, treasury.EthConfig{
			RPCURL:        cfg.Treasury.RPCURL,
			ChainID:       cfg.Treasury.ChainID,
			PrivateKeyHex: keyHex,
		}, logger)
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: treasury eth: %w", err)
		}
		closers = append(closers, eth.Close)
		deps.Treasury = eth

	default:
		cleanup()
		return nil, nil, fmt.Errorf("wire: unsupported treasury mode %q", cfg.Treasury.Mode)
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:       cfg.Redis.Addr,
			Password:   cfg.Redis.Password,
			DB:         cfg.Redis.DB,
			PoolSize:   cfg.Redis.PoolSize,
			MaxRetries: cfg.Redis.MaxRetries,
			TLSEnabled: cfg.Redis.TLSEnabled,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: redis: %w", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		streamMaxLen := int64(10000)
		if cfg.Redis.StreamMaxLen > 0 {
			streamMaxLen = int64(cfg.Redis.StreamMaxLen)
		}

		deps.MarketCache = redis.NewMarketCache(redisClient)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.SignalBus = redis.NewSignalBusWithMaxLen(redisClient, streamMaxLen)
	}

	// --- S3 blob storage (only when archival runs) ---
	if needsS3(cfg) {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: s3: %w", err)
		}
		closers = append(closers, func() { _ = s3Client.Close() })

		deps.BlobWriter = s3blob.NewWriter(s3Client)
		deps.Archiver = s3blob.NewArchiver(
			deps.BlobWriter,
			deps.MarketStore,
			deps.BetStore,
			deps.AuditStore,
		)
	}

	// --- Notifications ---
	var senders []notify.Sender
	if cfg.Notify.TelegramToken != "" && cfg.Notify.TelegramChatID != "" {
		senders = append(senders, notify.NewTelegramSender(
			cfg.Notify.TelegramToken,
			cfg.Notify.TelegramChatID,
		))
	}
	if cfg.Notify.DiscordWebhookURL != "" {
		senders = append(senders, notify.NewDiscordSender(cfg.Notify.DiscordWebhookURL))
	}
	deps.Notifier = notify.NewNotifier(senders, cfg.Notify.Events, logger)

	return deps, cleanup, nil
}
