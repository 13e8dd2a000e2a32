// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/kestrelsec/kestrel/internal/aggregator"
	"github.com/kestrelsec/kestrel/internal/assessment"
	"github.com/kestrelsec/kestrel/internal/assessor"
	"github.com/kestrelsec/kestrel/internal/config"
	"github.com/kestrelsec/kestrel/internal/health"
	"github.com/kestrelsec/kestrel/internal/idgen"
	"github.com/kestrelsec/kestrel/internal/investigation"
	"github.com/kestrelsec/kestrel/internal/logging"
	"github.com/kestrelsec/kestrel/internal/metrics"
	"github.com/kestrelsec/kestrel/internal/model"
	"github.com/kestrelsec/kestrel/internal/ratelimit"
	"github.com/kestrelsec/kestrel/internal/realtime"
	"github.com/kestrelsec/kestrel/internal/security"
	"github.com/kestrelsec/kestrel/internal/signals"
	"github.com/kestrelsec/kestrel/internal/syncutil"
	"github.com/kestrelsec/kestrel/internal/validation"
)

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg          *config.Config
	store        investigation.Store
	runner       *investigation.Runner
	aggregator   *aggregator.Aggregator
	realtimeHub  *realtime.Hub
	rateLimiter  *ratelimit.Limiter
	invLocks     *syncutil.ContextShardedMutex
	checks       *health.Registry
	db           *sql.DB // nil if using in-memory
	router       *gin.Engine
	httpSrv      *http.Server
	logger       *slog.Logger
	cancelRunCtx context.CancelFunc // cancels background goroutines started in Run

	// Health state
	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server
type Option func(*Server)

// WithLogger sets a custom logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// WithStore sets a custom investigation store (for testing)
func WithStore(store investigation.Store) Option {
	return func(s *Server) {
		s.store = store
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logging.New(cfg.LogLevel, cfg.LogFormat),
		checks:   health.NewRegistry(),
		invLocks: syncutil.NewContextShardedMutex(),
	}

	for _, opt := range opts {
		opt(s)
	}

	ctx := context.Background()

	// Storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if s.store == nil {
		if cfg.DatabaseURL != "" {
			db, err := sql.Open("postgres", cfg.DatabaseURL)
			if err != nil {
				return nil, fmt.Errorf("failed to open database: %w", err)
			}

			db.SetMaxOpenConns(25)
			db.SetMaxIdleConns(5)
			db.SetConnMaxLifetime(5 * time.Minute)

			if err := db.Ping(); err != nil {
				return nil, fmt.Errorf("failed to connect to database: %w", err)
			}

			s.db = db
			pgStore := investigation.NewPostgresStore(db)
			if err := pgStore.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("failed to migrate investigation store: %w", err)
			}
			s.store = pgStore
			s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))

			s.checks.Register("db", func(ctx context.Context) health.Status {
				if err := db.PingContext(ctx); err != nil {
					return health.Status{Name: "db", Healthy: false, Detail: err.Error()}
				}
				return health.Status{Name: "db", Healthy: true}
			})
		} else {
			s.store = investigation.NewMemoryStore()
			s.logger.Info("using in-memory storage (set DATABASE_URL for persistence)")
		}
	}

	// Model client shared by all analyzers and the aggregator
	invoker := model.NewClient(model.Config{
		BaseURL:     cfg.ModelBaseURL,
		APIKey:      cfg.ModelAPIKey,
		Model:       cfg.ModelName,
		Timeout:     cfg.ModelTimeout,
		MaxAttempts: cfg.ModelMaxAttempts,
	})

	// Signal source (HTTP feed if configured, otherwise empty static source)
	var source signals.Source
	if cfg.SignalsURL != "" {
		if cfg.IsProduction() {
			if err := security.ValidateEndpointURL(cfg.SignalsURL); err != nil {
				return nil, fmt.Errorf("unsafe SIGNALS_URL: %w", err)
			}
		}
		source = signals.NewHTTPSource(cfg.SignalsURL, cfg.ModelTimeout)
		s.logger.Info("using HTTP signal feed", "url", cfg.SignalsURL)
	} else {
		source = signals.NewStaticSource(nil)
		s.logger.Info("no SIGNALS_URL set, analyzers will run with empty signals")
	}

	// One analyzer per domain
	assessors := make(map[assessment.Domain]*assessor.Assessor, len(assessment.AllDomains))
	for _, d := range assessment.AllDomains {
		a, ok := assessor.New(d, invoker, cfg.MaxPromptTokens)
		if !ok {
			return nil, fmt.Errorf("no analyzer config for domain %q", d)
		}
		assessors[d] = a
	}

	s.realtimeHub = realtime.NewHub(s.logger)
	s.runner = investigation.NewRunner(s.store, source, assessors, s.realtimeHub, cfg.ModelTimeout+5*time.Second)
	s.aggregator = aggregator.New(invoker, cfg.MaxPromptTokens)

	s.healthy.Store(true)

	// Router
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// maskDSN hides password in connection string for logging
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "***"
	}
	if u.User != nil {
		u.User = url.UserPassword(u.User.Username(), "***")
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered any) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", recovered,
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An unexpected error occurred",
		})
	}))

	// Security headers
	s.router.Use(security.HeadersMiddleware())

	// CORS (allow all origins for demo - restrict in production)
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	s.rateLimiter = ratelimit.New(ratelimit.Config{
		RequestsPerMinute: s.cfg.RateLimitPerMinute,
		BurstSize:         10,
		CleanupInterval:   time.Minute,
	})
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Correlation ID
	s.router.Use(s.correlationIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) correlationIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing correlation ID (from load balancer, etc.)
		corrID := c.GetHeader("X-Correlation-ID")
		if corrID == "" {
			corrID = idgen.WithPrefix("corr_")
		}

		ctx := logging.WithCorrelationID(c.Request.Context(), corrID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Correlation-ID", corrID)

		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		c.Next()

		latency := time.Since(start)
		status := c.Writer.Status()

		logger := logging.L(c.Request.Context())

		// Log level based on status code
		switch {
		case status >= 500:
			logger.Error("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
				"client_ip", c.ClientIP(),
			)
		case status >= 400:
			logger.Warn("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		default:
			logger.Info("request completed",
				"method", c.Request.Method,
				"path", path,
				"status", status,
				"latency_ms", latency.Milliseconds(),
			)
		}
	}
}

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)

	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port, "env", s.cfg.Environment)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	go s.realtimeHub.Run(runCtx)

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	select {
	case err := <-errChan:
		return fmt.Errorf("server error: %w", err)
	case sig := <-sigChan:
		s.logger.Info("shutdown signal received", "signal", sig.String())
	case <-ctx.Done():
		s.logger.Info("context cancelled")
	}

	return s.Shutdown()
}

// Shutdown gracefully stops the server
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	// Cancel the context for background goroutines (hub, metrics collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Warn("failed to close database", "error", err)
		}
	}

	s.logger.Info("shutdown complete")
	return nil
}

// Router exposes the gin engine for tests.
func (s *Server) Router() *gin.Engine {
	return s.router
}
