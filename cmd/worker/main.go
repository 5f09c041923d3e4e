// Command worker runs the background side of the notification engine: the
// maintenance jobs (expired subscription sweep, history retention) and, when
// RabbitMQ is configured, the consumer for queued dispatch requests.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/donorhub/notification-engine/config"
	"github.com/donorhub/notification-engine/internal/bootstrap"
	"github.com/donorhub/notification-engine/internal/infrastructure/messaging/intake"
	"github.com/donorhub/notification-engine/internal/infrastructure/scheduler"
	"github.com/donorhub/notification-engine/internal/infrastructure/scheduler/jobs"
	"github.com/donorhub/notification-engine/pkg/logger"
)

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

	// ─────────────────────────────────────────────────────────────────────────
	// 2. LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	log, logCloser := bootstrap.NewLogger(cfg)
	defer logCloser.Close()
	log = log.With(logger.Component("worker"))

	log.Info("starting worker",
		"env", cfg.App.Environment,
		"version", version,
		"timezone", cfg.Scheduler.Timezone,
	)

	if opts.MigrateOnly {
		if cfg.StorageDriver != config.StoragePostgres {
			return nil
		}
		conn, err := bootstrap.ConnectPostgres(ctx, cfg, log)
		if err != nil {
			return err
		}
		conn.Close()
		return nil
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

	g, gctx := errgroup.WithContext(ctx)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. SCHEDULER
	// ─────────────────────────────────────────────────────────────────────────
	var sched *scheduler.Scheduler
	if cfg.Scheduler.Enabled {
		loc, err := time.LoadLocation(cfg.Scheduler.Timezone)
		if err != nil {
			return fmt.Errorf("invalid scheduler timezone: %w", err)
		}

		schedConfig := scheduler.DefaultSchedulerConfig()
		schedConfig.Logger = log
		schedConfig.Timezone = loc
		schedConfig.JobTimeout = cfg.Scheduler.JobTimeout
		sched = scheduler.NewScheduler(schedConfig)

		retention := time.Duration(cfg.Scheduler.HistoryRetentionDays) * 24 * time.Hour
		if err := sched.RegisterCron(jobs.NewSweepSubscriptionsJob(app.Subscriptions, log), cfg.Scheduler.SweepSubscriptionsCron); err != nil {
			return fmt.Errorf("register sweep job: %w", err)
		}
		if err := sched.RegisterCron(jobs.NewPruneHistoryJob(app.History, retention, log), cfg.Scheduler.PruneHistoryCron); err != nil {
			return fmt.Errorf("register prune job: %w", err)
		}

		if err := sched.Start(gctx); err != nil {
			return fmt.Errorf("start scheduler: %w", err)
		}
	} else {
		log.Info("scheduler disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. DISPATCH INTAKE
	// ─────────────────────────────────────────────────────────────────────────
	if cfg.AMQP.URL != "" {
		broker, err := intake.Dial(cfg.AMQP.URL, cfg.AMQP.Queue, cfg.AMQP.Prefetch)
		if err != nil {
			return fmt.Errorf("failed to connect to rabbitmq: %w", err)
		}
		defer broker.Close()

		deliveries, err := broker.Deliveries(fmt.Sprintf("%s-worker-%d", cfg.App.Name, os.Getpid()))
		if err != nil {
			return fmt.Errorf("consume %s: %w", broker.Queue(), err)
		}

		consumer := intake.NewConsumer(app.Batch, func() bool {
			return cfg.Features.IsEnabled(config.FeatureAMQPIntake, "")
		}, log)
		g.Go(func() error { return consumer.Run(gctx, deliveries) })
	} else {
		log.Info("AMQP_URL not set, queue intake disabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	log.Info("worker is running")
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	err = g.Wait()

	log.Info("starting graceful shutdown", "timeout", cfg.App.ShutdownTimeout.String())
	if sched != nil {
		stopped := make(chan struct{})
		go func() {
			_ = sched.Stop()
			close(stopped)
		}()
		select {
		case <-stopped:
		case <-time.After(cfg.App.ShutdownTimeout):
			log.Warn("scheduler did not stop in time")
		}
	}

	if err != nil {
		return fmt.Errorf("dispatch intake: %w", err)
	}
	log.Info("shutdown completed")
	return nil
}
