package app

import (
	"context"
	"fmt"
	"log/slog"

	s3blob "github.com/alanyoungcy/arbitron/internal/blob/s3"
	"github.com/alanyoungcy/arbitron/internal/cache/redis"
	"github.com/alanyoungcy/arbitron/internal/config"
	"github.com/alanyoungcy/arbitron/internal/distlock"
	"github.com/alanyoungcy/arbitron/internal/domain"
	"github.com/alanyoungcy/arbitron/internal/feed/bookcache"
	"github.com/alanyoungcy/arbitron/internal/instant"
	"github.com/alanyoungcy/arbitron/internal/intent"
	"github.com/alanyoungcy/arbitron/internal/notify"
	"github.com/alanyoungcy/arbitron/internal/platform/poloniex"
	"github.com/alanyoungcy/arbitron/internal/processor"
	"github.com/alanyoungcy/arbitron/internal/ratelimit"
	"github.com/alanyoungcy/arbitron/internal/store/postgres"
	"github.com/alanyoungcy/arbitron/internal/xsign"
)

// Dependencies bundles every concrete implementation the application modes
// need to run the trading core. It is constructed by Wire and torn down by
// the returned cleanup function.
type Dependencies struct {
	Exchange domain.ExchangeClient

	Journal   domain.Journal
	Audit     domain.AuditStore
	Processor *postgres.ProcessorRecoveryStore

	RateLimiter *ratelimit.Limiter
	WSLimiter   *ratelimit.Limiter
	Lock        *distlock.Locker

	Books      *bookcache.Cache
	Processors *processor.Manager
	Intents    *intent.Manager
	Instant    *instant.Executor

	BlobWriter  domain.BlobWriter
	BlobReader  domain.BlobReader
	BlobDeleter domain.BlobDeleter
	Archiver    domain.Archiver

	Notifier *notify.Notifier
}

// needsPostgres returns true for modes that require a database connection.
func needsPostgres(mode string) bool {
	switch mode {
	case "trade", "monitor", "full":
		return true
	default:
		return false
	}
}

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that
// should be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	logger := slog.Default()

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	deps := &Dependencies{}

	// --- PostgreSQL (the Durability Journal) ---
	if needsPostgres(cfg.Mode) {
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:      cfg.Database.DSN,
			Host:     cfg.Database.Host,
			Port:     cfg.Database.Port,
			Database: cfg.Database.Database,
			User:     cfg.Database.User,
			Password: cfg.Database.Password,
			SSLMode:  cfg.Database.SSLMode,
			MaxConns: cfg.Database.PoolMaxConns,
			MinConns: cfg.Database.PoolMinConns,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: postgres: %w", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Database.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				cleanup()
				return nil, nil, fmt.Errorf("wire: postgres migrations: %w", err)
			}
		}

		pool := pgClient.Pool()
		deps.Journal = postgres.NewJournalStore(pool)
		deps.Audit = postgres.NewAuditStore(pool)
		deps.Processor = postgres.NewProcessorRecoveryStore(pool)
	}

	// --- Redis (rate limiting + leader-election locking) ---
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

	deps.RateLimiter = ratelimit.New(redisClient.Underlying())
	deps.WSLimiter = ratelimit.New(redisClient.Underlying())
	deps.Lock = distlock.New(redisClient.Underlying())

	// --- Exchange adapter ---
	if needsPostgres(cfg.Mode) { // the modes that need the journal also need the exchange
		secret, err := xsign.LoadSecret(xsign.SecretConfig{
			RawSecret:           cfg.Exchange.APISecret,
			EncryptedSecretPath: cfg.Exchange.EncryptedSecretPath,
			SecretPassword:      cfg.Exchange.SecretPassword,
		})
		if err != nil {
			cleanup()
			return nil, nil, fmt.Errorf("wire: exchange secret: %w", err)
		}

		client := poloniex.New(poloniex.Config{
			BaseURL:      cfg.Exchange.BaseURL,
			PublicWSURL:  cfg.Exchange.PublicWSURL,
			PrivateWSURL: cfg.Exchange.PrivateWSURL,
			APIKey:       cfg.Exchange.APIKey,
			Secret:       secret,
		}, deps.RateLimiter, deps.WSLimiter)
		deps.Exchange = client

		deps.Books = bookcache.New(client, logger)
		deps.Processors = processor.NewManager(client, deps.Books, deps.Processor, logger)
		deps.Intents = intent.NewManager()
		deps.Instant = instant.New(client, logger)
	}

	// --- S3 blob storage (cold archival of completed transactions) ---
	if cfg.S3.Enabled {
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
		reader := s3blob.NewReader(s3Client)
		deps.BlobReader = reader
		deps.BlobDeleter = reader // same type implements BlobDeleter

		if deps.Journal != nil && deps.Audit != nil {
			deps.Archiver = s3blob.NewArchiver(deps.BlobWriter, deps.Journal, deps.Audit)
		}
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
