package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	s3blob "github.com/alanyoungcy/marketsettle/internal/blob/s3"
	"github.com/alanyoungcy/marketsettle/internal/cache/local"
	"github.com/alanyoungcy/marketsettle/internal/cache/redis"
	"github.com/alanyoungcy/marketsettle/internal/config"
	"github.com/alanyoungcy/marketsettle/internal/crypto"
	"github.com/alanyoungcy/marketsettle/internal/domain"
	"github.com/alanyoungcy/marketsettle/internal/engine"
	"github.com/alanyoungcy/marketsettle/internal/notify"
	"github.com/alanyoungcy/marketsettle/internal/server/handler"
	"github.com/alanyoungcy/marketsettle/internal/server/middleware"
	"github.com/alanyoungcy/marketsettle/internal/service"
	"github.com/alanyoungcy/marketsettle/internal/store/memory"
	"github.com/alanyoungcy/marketsettle/internal/store/postgres"
	"github.com/alanyoungcy/marketsettle/internal/store/sqlite"
)

// Dependencies bundles everything the run modes need. It is constructed by
// Wire and torn down by the returned cleanup function.
type Dependencies struct {
	Ledger     domain.Ledger
	Settlement *service.SettlementService
	Sweep      *service.SweepService

	// Caches and coordination. SignalBus is never nil; without Redis it is
	// process-local.
	SignalBus   domain.SignalBus
	LockManager domain.LockManager
	QuoteCache  domain.QuoteCache
	RateLimiter middleware.Limiter

	AuditStore domain.AuditStore
	Archiver   domain.JournalArchiver
	Notifier   *notify.Notifier

	// Operator is the backend authority key; nil when none is configured.
	Operator *crypto.Signer
	// Prune drops old local audit rows; nil when there is no local journal.
	Prune func(ctx context.Context) (int64, error)

	// Health lists the external dependencies /health reports on.
	Health map[string]handler.Pinger
}

// pingFunc adapts a health probe to handler.Pinger.
type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// Wire constructs all concrete dependency implementations from the given
// configuration and returns them together with a cleanup function that should
// be called on shutdown to release resources.
func Wire(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Dependencies, func(), error) {
	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(stage string, err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, fmt.Errorf("wire: %s: %w", stage, err)
	}

	deps := &Dependencies{Health: map[string]handler.Pinger{}}

	// --- Operator key ---
	if cfg.Operator.HasKey() {
		key, err := crypto.LoadKey(crypto.KeyConfig{
			RawPrivateKey:    cfg.Operator.PrivateKey,
			EncryptedKeyPath: cfg.Operator.EncryptedKeyPath,
			KeyPassword:      cfg.Operator.KeyPassword,
		})
		if err != nil {
			return fail("operator key", err)
		}
		deps.Operator = crypto.NewSigner(key, cfg.Operator.ChainID)
		logger.InfoContext(ctx, "operator key loaded",
			slog.String("address", deps.Operator.Address().Hex()),
		)
	}

	// --- Ledger ---
	var journalSource s3blob.JournalSource
	switch cfg.Ledger.Backend {
	case "postgres":
		pgClient, err := postgres.New(ctx, postgres.ClientConfig{
			DSN:             cfg.Postgres.DSN,
			Host:            cfg.Postgres.Host,
			Port:            cfg.Postgres.Port,
			Database:        cfg.Postgres.Database,
			User:            cfg.Postgres.User,
			Password:        cfg.Postgres.Password,
			SSLMode:         cfg.Postgres.SSLMode,
			MaxConns:        cfg.Postgres.PoolMaxConns,
			MinConns:        cfg.Postgres.PoolMinConns,
			MaxConnLifetime: cfg.Postgres.MaxConnLifetime.Duration,
		})
		if err != nil {
			return fail("postgres", err)
		}
		closers = append(closers, pgClient.Close)

		if cfg.Postgres.RunMigrations {
			if err := pgClient.RunMigrations(ctx); err != nil {
				return fail("postgres migrations", err)
			}
		}

		ledger := postgres.NewLedger(pgClient.Pool())
		deps.Ledger = ledger
		journalSource = ledger
		deps.AuditStore = postgres.NewAuditStore(pgClient.Pool())
		deps.Health["postgres"] = pgClient
	default:
		ledger := memory.NewLedger()
		deps.Ledger = ledger
		journalSource = ledger
		logger.WarnContext(ctx, "using in-memory ledger; state is lost on restart")
	}

	// --- Local audit journal (when the ledger has no audit table) ---
	if deps.AuditStore == nil && cfg.Journal.SQLitePath != "" {
		journal, err := sqlite.Open(cfg.Journal.SQLitePath)
		if err != nil {
			return fail("sqlite journal", err)
		}
		closers = append(closers, func() { _ = journal.Close() })
		deps.AuditStore = journal
		if cfg.Journal.RetentionDays > 0 {
			retention := time.Duration(cfg.Journal.RetentionDays) * 24 * time.Hour
			deps.Prune = func(ctx context.Context) (int64, error) {
				return journal.Prune(ctx, retention)
			}
		}
	}

	// --- Redis ---
	if cfg.Redis.Enabled {
		redisClient, err := redis.New(ctx, redis.ClientConfig{
			Addr:        cfg.Redis.Addr,
			Password:    cfg.Redis.Password,
			DB:          cfg.Redis.DB,
			PoolSize:    cfg.Redis.PoolSize,
			MaxRetries:  cfg.Redis.MaxRetries,
			DialTimeout: cfg.Redis.DialTimeout.Duration,
			ReadTimeout: cfg.Redis.ReadTimeout.Duration,
			TLSEnabled:  cfg.Redis.TLSEnabled,
		})
		if err != nil {
			return fail("redis", err)
		}
		closers = append(closers, func() { _ = redisClient.Close() })

		deps.SignalBus = redis.NewSignalBus(redisClient)
		deps.LockManager = redis.NewLockManager(redisClient)
		deps.QuoteCache = redis.NewQuoteCache(redisClient, cfg.Redis.QuoteTTL.Duration)
		deps.RateLimiter = redis.NewRateLimiter(redisClient)
		deps.Health["redis"] = redisClient
	} else {
		deps.SignalBus = local.NewSignalBus()
		deps.RateLimiter = middleware.NewLocalLimiter()
	}

	// --- S3 journal archive ---
	if cfg.S3.Enabled {
		s3Client, err := s3blob.New(ctx, s3blob.ClientConfig{
			Endpoint:       cfg.S3.Endpoint,
			Region:         cfg.S3.Region,
			Bucket:         cfg.S3.Bucket,
			AccessKey:      cfg.S3.AccessKey,
			SecretKey:      cfg.S3.SecretKey,
			UseSSL:         cfg.S3.UseSSL,
			ForcePathStyle: cfg.S3.ForcePathStyle,
			KeyPrefix:      cfg.S3.KeyPrefix,
		})
		if err != nil {
			return fail("s3", err)
		}
		deps.Archiver = s3blob.NewArchiver(
			journalSource,
			s3blob.NewWriter(s3Client),
			s3blob.NewReader(s3Client),
			deps.AuditStore,
			logger,
		)
		deps.Health["s3"] = pingFunc(s3Client.Health)
	}

	// --- Notifications ---
	deps.Notifier = notify.NewNotifier(senders(cfg.Notify), cfg.Notify.Events, logger)

	// --- Settlement service ---
	eng := engine.New(engine.Options{
		MarketReserve:  cfg.Engine.MarketReserve,
		MinTradeAmount: cfg.Engine.MinTradeAmount,
	})
	settle := service.NewSettlementService(deps.Ledger, eng, logger).
		WithBus(deps.SignalBus)
	if deps.LockManager != nil {
		settle.WithLocks(deps.LockManager, cfg.Engine.LockTTL.Duration, cfg.Engine.LockWait.Duration)
	}
	if deps.AuditStore != nil {
		settle.WithAudit(deps.AuditStore)
	}
	if deps.QuoteCache != nil {
		settle.WithQuoteCache(deps.QuoteCache)
	}
	if deps.Notifier.Enabled() {
		settle.WithNotifier(deps.Notifier)
	}
	if deps.Operator != nil {
		settle.WithSigner(deps.Operator)
	}
	deps.Settlement = settle

	if deps.Operator != nil {
		deps.Sweep = service.NewSweepService(settle, deps.Operator.Address(), deps.Archiver, logger)
	}

	return deps, cleanup, nil
}

// senders builds one sender per configured alert channel.
func senders(cfg config.NotifyConfig) []notify.Sender {
	var out []notify.Sender
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		out = append(out, notify.NewTelegramSender(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.DiscordWebhookURL != "" {
		out = append(out, notify.NewDiscordSender(cfg.DiscordWebhookURL))
	}
	if cfg.WebhookURL != "" {
		out = append(out, notify.NewWebhookSender(cfg.WebhookURL, cfg.WebhookSecret))
	}
	return out
}
