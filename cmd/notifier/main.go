// Command notifier serves the notification HTTP API: the user surface for
// preferences, subscriptions and the inbox, and the internal surface other
// services call to send notifications.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donorhub/notification-engine/config"
	"github.com/donorhub/notification-engine/internal/application/command"
	"github.com/donorhub/notification-engine/internal/application/query"
	"github.com/donorhub/notification-engine/internal/bootstrap"
	"github.com/donorhub/notification-engine/internal/infrastructure/messaging/intake"
	httpapi "github.com/donorhub/notification-engine/internal/interface/http"
	"github.com/donorhub/notification-engine/internal/interface/http/handlers"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

// ══════════════════════════════════════════════════════════════════════════════
// MAIN
// ══════════════════════════════════════════════════════════════════════════════

func main() {
	opts, err := bootstrap.ParseOptions(os.Args[1:])
	if errors.Is(err, bootstrap.ErrHelpShown) {
		return
	}
	if err != nil {
		os.Exit(2)
	}
	if opts.ShowVersion {
		fmt.Println(version)
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, opts); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, opts bootstrap.Options) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load(opts.EnvFiles...)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	if cfg.App.Version == "" || version != "dev" {
		cfg.App.Version = version
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, logCloser := bootstrap.NewLogger(cfg)
	defer logCloser.Close()

	log.Info("starting notifier",
		"env", cfg.App.Environment,
		"version", cfg.App.Version,
		"storage", cfg.StorageDriver,
	)

	if opts.MigrateOnly {
		return migrateOnly(ctx, cfg, log)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 3. STORAGE, EVENTS, TRANSPORTS, DISPATCH
	// ─────────────────────────────────────────────────────────────────────────
	app, err := bootstrap.New(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer func() {
		log.Info("closing resources")
		app.Close()
	}()

	// ─────────────────────────────────────────────────────────────────────────
	// 4. APPLICATION HANDLERS
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpapi.Dependencies{
		GetPreferences:       query.NewGetPreferencesHandler(app.Preferences),
		UpdatePreferences:    command.NewUpdatePreferencesHandler(app.Preferences, app.Events),
		ListSubscriptions:    query.NewListSubscriptionsHandler(app.Subscriptions),
		RegisterSubscription: command.NewRegisterSubscriptionHandler(app.Subscriptions, app.Events),
		RemoveSubscription:   command.NewRemoveSubscriptionHandler(app.Subscriptions),
		HistoryCommands:      command.NewHistoryHandler(app.History),
		HistoryQueries:       query.NewHistoryQueryHandler(app.History),
		Sender:               app.Router,
		Batch:                app.Batch,
		Digests:              app.Digests,
		Stats:                app.Stats,
	}

	health := handlers.NewCompositeHealthChecker(cfg.App.Version)
	for _, check := range app.Checks {
		health.AddCheck(check.Name, check.Ping)
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. DISPATCH INTAKE (queue mode)
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.Dispatch.Mode == config.DispatchQueue {
		broker, err := intake.Dial(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.AMQP.Prefetch)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer broker.Close()

		deps.Publisher = broker.Publisher()
		health.AddCheck("rabbitmq", func(context.Context) error { return broker.Ping() })
		log.Info("sends are queued for the worker", "queue", broker.Queue())
	}
	deps.Health = health

	// ─────────────────────────────────────────────────────────────────────────
	// 6. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	serverConfig := httpapi.DefaultConfig()
	serverConfig.Host = cfg.HTTP.Host
	serverConfig.Port = cfg.HTTP.Port
	serverConfig.ReadTimeout = cfg.HTTP.ReadTimeout
	serverConfig.WriteTimeout = cfg.HTTP.WriteTimeout
	serverConfig.IdleTimeout = cfg.HTTP.IdleTimeout
	serverConfig.MaxBodyBytes = cfg.HTTP.MaxBodyBytes
	serverConfig.CORSOrigins = cfg.HTTP.CORSOrigins
	serverConfig.RateLimitPerMinute = cfg.HTTP.RateLimitPerMinute
	serverConfig.JWTSecret = cfg.Auth.JWTSecret
	serverConfig.JWTIssuer = cfg.Auth.JWTIssuer
	serverConfig.APIKeyHashes = cfg.Auth.APIKeyHashes
	serverConfig.SendTimeout = cfg.Dispatch.SendTimeout
	serverConfig.Version = cfg.App.Version
	serverConfig.Debug = cfg.App.Debug

	server := httpapi.NewServer(serverConfig, deps, log)

	// ─────────────────────────────────────────────────────────────────────────
	// 7. RUN & GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	g, gctx := errgroup.WithContext(ctx)
	g.Go(server.Start)
	g.Go(func() error {
		<-gctx.Done()
		log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())

		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	log.Info("shutdown completed")
	return nil
}

func migrateOnly(ctx context.Context, cfg *config.Config, log *slog.Logger) error {
	if cfg.StorageDriver != config.StoragePostgres {
		log.Info("nothing to migrate", "storage", cfg.StorageDriver)
		return nil
	}

	start := time.Now()
	conn, err := bootstrap.ConnectPostgres(ctx, cfg, log)
	if err != nil {
		return err
	}
	conn.Close()

	log.Info("migrations finished", "took", time.Since(start).String())
	return nil
}
