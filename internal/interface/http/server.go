// Package http implements the REST API of the notification engine: the user
// surface for preferences, subscriptions and the inbox, and the internal
// surface other services use to send notifications.
package http

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/donorhub/notification-engine/internal/application/command"
	"github.com/donorhub/notification-engine/internal/application/dispatch"
	"github.com/donorhub/notification-engine/internal/application/query"
	"github.com/donorhub/notification-engine/internal/domain/notification"
	"github.com/donorhub/notification-engine/internal/infrastructure/messaging"
	"github.com/donorhub/notification-engine/internal/interface/http/handlers"
	"github.com/donorhub/notification-engine/pkg/logger"
)

// ══════════════════════════════════════════════════════════════════════════════
// SERVER CONFIGURATION
// ══════════════════════════════════════════════════════════════════════════════

// Config contains HTTP server configuration.
type Config struct {
	Host           string
	Port           int
	ReadTimeout    time.Duration
	WriteTimeout   time.Duration
	IdleTimeout    time.Duration
	MaxHeaderBytes int
	MaxBodyBytes   int64

	// Allowed browser origins for the user API.
	CORSOrigins []string

	// Requests per minute per IP on the user API (0 = disabled).
	RateLimitPerMinute int

	JWTSecret string
	JWTIssuer string

	APIKeyHeader string
	APIKeyHashes []string

	// Upper bound for sends that outlive their request.
	SendTimeout time.Duration

	Version string
	Debug   bool
}

// DefaultConfig returns sensible defaults for server configuration.
func DefaultConfig() Config {
	return Config{
		Host:               "0.0.0.0",
		Port:               8080,
		ReadTimeout:        15 * time.Second,
		WriteTimeout:       30 * time.Second,
		IdleTimeout:        60 * time.Second,
		MaxHeaderBytes:     1 << 20,
		MaxBodyBytes:       1 << 20,
		RateLimitPerMinute: 120,
		APIKeyHeader:       "X-API-Key",
		SendTimeout:        60 * time.Second,
		Version:            handlers.APIVersion,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEPENDENCIES
// ══════════════════════════════════════════════════════════════════════════════

// BatchSender runs a batch to completion.
type BatchSender interface {
	SendBatch(ctx context.Context, reqs []dispatch.Request) dispatch.BatchSummary
}

// BatchPublisher hands requests to the worker instead of running them here.
type BatchPublisher interface {
	Publish(ctx context.Context, reqs []dispatch.Request) error
}

// StatsSource exposes delivery counters.
type StatsSource interface {
	Snapshot() messaging.DeliveryStatsSnapshot
}

// Dependencies holds all handler dependencies.
type Dependencies struct {
	// User surface
	GetPreferences       *query.GetPreferencesHandler
	UpdatePreferences    *command.UpdatePreferencesHandler
	ListSubscriptions    *query.ListSubscriptionsHandler
	RegisterSubscription *command.RegisterSubscriptionHandler
	RemoveSubscription   *command.RemoveSubscriptionHandler
	HistoryCommands      *command.HistoryHandler
	HistoryQueries       *query.HistoryQueryHandler

	// Internal surface
	Sender dispatch.Sender
	Batch  BatchSender

	// Optional. When set, accepted sends are queued rather than run inline.
	Publisher BatchPublisher

	Digests notification.DigestQueue
	Stats   StatsSource

	// Optional. Readiness is unconditional without it.
	Health handlers.HealthChecker
}

// ══════════════════════════════════════════════════════════════════════════════
// HTTP SERVER
// ══════════════════════════════════════════════════════════════════════════════

// Server is the HTTP server for the notification API.
type Server struct {
	config     Config
	deps       Dependencies
	engine     *gin.Engine
	httpServer *http.Server
	logger     *slog.Logger

	// detached sends still running
	inflight sync.WaitGroup

	mu        sync.RWMutex
	running   bool
	startedAt time.Time
}

// NewServer creates a new HTTP server with all routes registered.
func NewServer(config Config, deps Dependencies, log *slog.Logger) *Server {
	if config.APIKeyHeader == "" {
		config.APIKeyHeader = "X-API-Key"
	}
	if config.Version == "" {
		config.Version = handlers.APIVersion
	}

	if !config.Debug {
		gin.SetMode(gin.ReleaseMode)
	}

	s := &Server{
		config: config,
		deps:   deps,
		engine: gin.New(),
		logger: logger.OrDefault(log).With(logger.Component("http")),
	}
	s.setupRoutes()

	s.httpServer = &http.Server{
		Addr:           net.JoinHostPort(config.Host, strconv.Itoa(config.Port)),
		Handler:        s.engine,
		ReadTimeout:    config.ReadTimeout,
		WriteTimeout:   config.WriteTimeout,
		IdleTimeout:    config.IdleTimeout,
		MaxHeaderBytes: config.MaxHeaderBytes,
	}

	return s
}

// setupRoutes configures all HTTP routes.
func (s *Server) setupRoutes() {
	r := s.engine
	r.HandleMethodNotAllowed = true
	r.NoRoute(func(c *gin.Context) {
		handlers.AbortJSONError(c, http.StatusNotFound, "not_found", "route not found")
	})
	r.NoMethod(func(c *gin.Context) {
		handlers.AbortJSONError(c, http.StatusMethodNotAllowed, "method_not_allowed", "method not allowed")
	})

	r.Use(
		handlers.RequestID(s.logger),
		handlers.Recovery(),
		handlers.AccessLog(),
		handlers.SecurityHeaders(),
		handlers.CORS(s.config.CORSOrigins),
		handlers.BodyLimit(s.config.MaxBodyBytes),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// Operational endpoints
	// ─────────────────────────────────────────────────────────────────────────
	r.GET("/health/live", s.handleLive)
	r.GET("/health/ready", s.handleReady)

	// ─────────────────────────────────────────────────────────────────────────
	// User API (JWT)
	// ─────────────────────────────────────────────────────────────────────────
	user := r.Group("/api/v1",
		handlers.JWTAuth(s.config.JWTSecret, s.config.JWTIssuer),
		handlers.NoCache(),
	)
	if s.config.RateLimitPerMinute > 0 {
		user.Use(handlers.NewRateLimiter(s.config.RateLimitPerMinute).Middleware())
	}

	user.GET("/preferences", s.handleGetPreferences)
	user.PATCH("/preferences", s.handleUpdatePreferences)

	user.GET("/subscriptions", s.handleListSubscriptions)
	user.POST("/subscriptions", s.handleRegisterSubscription)
	user.DELETE("/subscriptions/:id", s.handleRemoveSubscription)

	user.GET("/history", s.handleListHistory)
	user.GET("/history/unread-count", s.handleUnreadCount)
	user.POST("/history/read-all", s.handleMarkAllRead)
	user.POST("/history/:id/read", s.handleMarkRead)
	user.DELETE("/history/:id", s.handleDeleteHistoryEntry)

	// ─────────────────────────────────────────────────────────────────────────
	// Internal API (X-API-Key)
	// ─────────────────────────────────────────────────────────────────────────
	auth := handlers.NewAPIKeyAuth(s.config.APIKeyHeader, s.config.APIKeyHashes)
	internal := r.Group("/internal/v1", auth.Middleware())

	internal.POST("/notifications", s.handleSendNotification)
	internal.POST("/notifications/batch", s.handleSendBatch)

	internal.GET("/digests/pending", s.handlePendingDigests)
	internal.POST("/digests/:user/:type/drain", s.handleDrainDigest)

	internal.GET("/stats", s.handleStats)
}

// Handler returns the gin engine, for tests and embedding.
func (s *Server) Handler() http.Handler {
	return s.engine
}

// Start starts the HTTP server and blocks until it stops.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.startedAt = time.Now()
	s.mu.Unlock()

	s.logger.Info("http server starting", "addr", s.httpServer.Addr)

	err := s.httpServer.ListenAndServe()

	s.mu.Lock()
	s.running = false
	s.mu.Unlock()

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Shutdown stops accepting requests, then waits for detached sends until
// ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("http server shutting down")

	err := s.httpServer.Shutdown(ctx)

	done := make(chan struct{})
	go func() {
		s.inflight.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		s.logger.Warn("shutdown deadline reached with sends in flight")
		if err == nil {
			err = ctx.Err()
		}
	}
	return err
}

// IsRunning returns true if the server is running.
func (s *Server) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}

// Uptime returns how long the server has been running.
func (s *Server) Uptime() time.Duration {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.running {
		return 0
	}
	return time.Since(s.startedAt)
}

// detach runs fn after the response is written, with the request's values
// but not its cancellation.
func (s *Server) detach(c *gin.Context, fn func(ctx context.Context)) {
	ctx, cancel := handlers.Detach(c, s.config.SendTimeout)

	s.inflight.Add(1)
	go func() {
		defer s.inflight.Done()
		defer cancel()
		defer func() {
			if rec := recover(); rec != nil {
				logger.FromContext(ctx).Error("detached send panicked", "panic", rec)
			}
		}()
		fn(ctx)
	}()
}
