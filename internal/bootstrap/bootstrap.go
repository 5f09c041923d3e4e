// Package bootstrap assembles the components both binaries share: storage,
// the event bus, transports and the dispatch pipeline.
package bootstrap

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/google/uuid"

	"github.com/donorhub/notification-engine/config"
	"github.com/donorhub/notification-engine/internal/application/dispatch"
	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/domain/shared"
	"github.com/donorhub/notification-engine/internal/infrastructure/external/mailer"
	"github.com/donorhub/notification-engine/internal/infrastructure/external/push"
	"github.com/donorhub/notification-engine/internal/infrastructure/messaging"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/memory"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/postgres"
	"github.com/donorhub/notification-engine/internal/infrastructure/persistence/redis"
	"github.com/donorhub/notification-engine/pkg/logger"
	"github.com/donorhub/notification-engine/pkg/retry"
)

// EventBus is what the container needs from either bus implementation.
type EventBus interface {
	shared.EventPublisher
	shared.EventSubscriber
	io.Closer
}

// Check is a named readiness check.
type Check struct {
	Name string
	Ping func(ctx context.Context) error
}

// Container holds the wired application.
type Container struct {
	Config *config.Config
	Logger *slog.Logger

	// Storage
	Preferences   *notification.PreferenceStore
	Subscriptions notification.SubscriptionRegistry
	History       notification.HistoryLedger
	Digests       notification.DigestQueue

	// Events
	Events EventBus
	Stats  *messaging.DeliveryStats

	// Dispatch
	Router *dispatch.Router
	Batch  *dispatch.BatchOrchestrator

	// Readiness checks for the storage backends in use.
	Checks []Check

	closers []func()
}

// NewLogger builds the process logger from the observability settings and
// installs it as the slog default.
func NewLogger(cfg *config.Config) (*slog.Logger, io.Closer) {
	log, closer := logger.New(logger.Options{
		Level:       cfg.Observability.LogLevel,
		Format:      cfg.Observability.LogFormat,
		Environment: string(cfg.App.Environment),
		File:        cfg.Observability.LogFile,
		MaxSizeMB:   cfg.Observability.LogMaxSizeMB,
		MaxBackups:  cfg.Observability.LogMaxBackups,
		MaxAgeDays:  cfg.Observability.LogMaxAgeDays,
	})
	slog.SetDefault(log)
	return log, closer
}

// New connects to storage and wires the dispatch pipeline. On error every
// resource opened so far is released.
func New(ctx context.Context, cfg *config.Config, log *slog.Logger) (_ *Container, err error) {
	log = logger.OrDefault(log)
	c := &Container{Config: cfg, Logger: log}
	defer func() {
		if err != nil {
			c.Close()
		}
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// STORAGE
	// ─────────────────────────────────────────────────────────────────────────
	var (
		prefRepo notification.PreferenceRepository
		cache    *redis.Cache
	)

	switch cfg.StorageDriver {
	case config.StorageMemory:
		log.Warn("using in-memory storage, data is lost on restart")
		store := memory.New()
		prefRepo = store.Preferences
		c.Subscriptions = store.Subscriptions
		c.History = store.History
		c.Digests = store.Digests

	case config.StoragePostgres:
		conn, err := ConnectPostgres(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		c.onClose(conn.Close)
		c.Checks = append(c.Checks, Check{Name: "postgres", Ping: conn.Ping})

		db, err := postgres.OpenGorm(conn.Pool(), cfg.Database.LogQueries)
		if err != nil {
			return nil, fmt.Errorf("open gorm: %w", err)
		}

		cache, err = connectRedis(ctx, cfg, log)
		if err != nil {
			return nil, err
		}
		c.onClose(func() { _ = cache.Close() })
		c.Checks = append(c.Checks, Check{Name: "redis", Ping: cache.Ping})

		prefRepo = redis.NewPreferenceCache(postgres.NewPreferenceRepository(conn), cache, cfg.Redis.PreferenceTTL, log)
		c.Subscriptions = postgres.NewSubscriptionRepository(conn)
		c.History = postgres.NewHistoryRepository(db)
		c.Digests = redis.NewDigestQueue(cache, log)

	default:
		return nil, fmt.Errorf("unknown storage driver %q", cfg.StorageDriver)
	}

	c.Preferences = notification.NewPreferenceStore(prefRepo)

	// ─────────────────────────────────────────────────────────────────────────
	// EVENT BUS
	// ─────────────────────────────────────────────────────────────────────────
	local := messaging.LocalBusConfig{Async: true, Workers: 16, Logger: log}

	if cache != nil {
		bus, err := messaging.NewRedisBus(ctx, messaging.RedisBusConfig{
			Client:     cache.Client(),
			InstanceID: instanceID(cfg.App.Name),
			Local:      local,
			Logger:     log,
		})
		if err != nil {
			return nil, fmt.Errorf("redis event bus: %w", err)
		}
		c.Events = bus
	} else {
		c.Events = messaging.NewLocalBus(local)
	}
	c.onClose(func() { _ = c.Events.Close() })

	c.Stats = messaging.NewDeliveryStats()
	if err := c.Stats.Attach(c.Events); err != nil {
		return nil, fmt.Errorf("attach delivery stats: %w", err)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// TRANSPORTS
	// ─────────────────────────────────────────────────────────────────────────
	pushConfig := push.DefaultClientConfig()
	pushConfig.VAPIDPublicKey = cfg.Push.VAPIDPublicKey
	pushConfig.VAPIDPrivateKey = cfg.Push.VAPIDPrivateKey
	pushConfig.Subscriber = cfg.Push.Subscriber
	pushConfig.TTL = cfg.Push.TTL
	pushConfig.Timeout = cfg.Push.RequestTimeout
	pushConfig.RateLimit = float64(cfg.Push.RateLimit)
	pushConfig.RateBurst = cfg.Push.RateBurst
	pushConfig.Logger = log

	mailConfig := mailer.DefaultClientConfig(cfg.Email.ServiceURL)
	mailConfig.APIKey = cfg.Email.APIKey
	mailConfig.Timeout = cfg.Email.Timeout
	mailConfig.BreakerThreshold = cfg.Email.BreakerThreshold
	mailConfig.BreakerTimeout = cfg.Email.BreakerTimeout
	mailConfig.Logger = log

	// ─────────────────────────────────────────────────────────────────────────
	// DISPATCH
	// ─────────────────────────────────────────────────────────────────────────
	c.Router = dispatch.NewRouter(dispatch.RouterConfig{
		Preferences:     c.Preferences,
		Subscriptions:   c.Subscriptions,
		History:         c.History,
		Digests:         c.Digests,
		Push:            push.NewClient(pushConfig),
		Email:           mailer.NewClient(mailConfig),
		Events:          c.Events,
		Gate:            cfg.Features,
		Logger:          log,
		PushConcurrency: cfg.Dispatch.PushConcurrency,
	})

	c.Batch = dispatch.NewBatchOrchestrator(dispatch.BatchConfig{
		Sender:      c.Router,
		Preferences: c.Preferences,
		ChunkSize:   cfg.Dispatch.ChunkSize,
		Prefilter: func() bool {
			return cfg.Features.IsEnabled(config.FeatureBatchPrefilter, "")
		},
		Events: c.Events,
		Logger: log,
	})

	log.Info("container ready",
		"storage", cfg.StorageDriver,
		"redis", cache != nil,
		"dispatch_mode", cfg.Dispatch.Mode,
	)
	return c, nil
}

// Close releases resources in reverse order of acquisition.
func (c *Container) Close() {
	for i := len(c.closers) - 1; i >= 0; i-- {
		c.closers[i]()
	}
	c.closers = nil
}

func (c *Container) onClose(fn func()) {
	c.closers = append(c.closers, fn)
}

// ══════════════════════════════════════════════════════════════════════════════
// CONNECTIONS
// ══════════════════════════════════════════════════════════════════════════════

// ConnectPostgres opens the pool with retries and applies pending migrations.
func ConnectPostgres(ctx context.Context, cfg *config.Config, log *slog.Logger) (*postgres.Connection, error) {
	opts := postgres.DefaultPoolOptions()
	if cfg.Database.MaxConns > 0 {
		opts.MaxConns = int32(cfg.Database.MaxConns)
	}
	if cfg.Database.MinConns > 0 {
		opts.MinConns = int32(cfg.Database.MinConns)
	}
	if cfg.Database.ConnMaxLifetime > 0 {
		opts.MaxConnLifetime = cfg.Database.ConnMaxLifetime
	}
	if cfg.Database.ConnMaxIdleTime > 0 {
		opts.MaxConnIdleTime = cfg.Database.ConnMaxIdleTime
	}

	log.Info("connecting to database")
	var conn *postgres.Connection
	err := retry.ConnectRetrier(retryLogger(log, "postgres")).Do(ctx, func(ctx context.Context) error {
		var err error
		conn, err = postgres.NewConnection(ctx, cfg.Database.URL, opts)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	applied, err := postgres.NewMigrator(conn).Migrate(ctx)
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info("database schema is up to date", "applied", applied)

	return conn, nil
}

func connectRedis(ctx context.Context, cfg *config.Config, log *slog.Logger) (*redis.Cache, error) {
	rc := redis.DefaultConfig()
	rc.URL = cfg.Redis.URL
	rc.Host = cfg.Redis.Host
	rc.Port = cfg.Redis.Port
	rc.Password = cfg.Redis.Password
	rc.DB = cfg.Redis.DB
	rc.PoolSize = cfg.Redis.PoolSize
	rc.MinIdleConns = cfg.Redis.MinIdleConns
	rc.DialTimeout = cfg.Redis.DialTimeout
	rc.ReadTimeout = cfg.Redis.ReadTimeout
	rc.WriteTimeout = cfg.Redis.WriteTimeout

	log.Info("connecting to redis")
	var cache *redis.Cache
	err := retry.ConnectRetrier(retryLogger(log, "redis")).Do(ctx, func(ctx context.Context) error {
		var err error
		cache, err = redis.NewCache(ctx, rc)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return cache, nil
}

func retryLogger(log *slog.Logger, target string) func(int, error, time.Duration) {
	return func(attempt int, err error, delay time.Duration) {
		log.Warn("connection attempt failed",
			"target", target,
			"attempt", attempt,
			"retry_in", delay.String(),
			logger.Err(err),
		)
	}
}

func instanceID(app string) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return fmt.Sprintf("%s-%s-%s", app, host, uuid.NewString()[:8])
}
