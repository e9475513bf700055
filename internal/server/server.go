// Package server wires configuration, storage, the risk engine, and HTTP
// transport into a runnable decision gateway.
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
	"strings"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/perzequiel/gerald-gateway/internal/bank"
	"github.com/perzequiel/gerald-gateway/internal/config"
	"github.com/perzequiel/gerald-gateway/internal/decision"
	"github.com/perzequiel/gerald-gateway/internal/health"
	"github.com/perzequiel/gerald-gateway/internal/logging"
	"github.com/perzequiel/gerald-gateway/internal/metrics"
	"github.com/perzequiel/gerald-gateway/internal/risk"
	"github.com/perzequiel/gerald-gateway/internal/traces"
	"github.com/perzequiel/gerald-gateway/internal/utilization"
	"github.com/perzequiel/gerald-gateway/internal/webhook"
)

// Version is set by ldflags at build time.
var Version = "dev"

// Server is the BNPL decision gateway.
type Server struct {
	cfg    *config.Config
	logger *slog.Logger

	db     *sql.DB
	router *gin.Engine
	httpSrv *http.Server

	service  *decision.Service
	registry *health.Registry

	tracesShutdown func(context.Context) error
	cancelRunCtx   context.CancelFunc

	ready   atomic.Bool
	healthy atomic.Bool
}

// Option configures the server.
type Option func(*Server)

// WithLogger sets a custom logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Server) {
		s.logger = logger
	}
}

// New creates a server from configuration. With DATABASE_URL set it connects
// to PostgreSQL and migrates the decision and webhook tables; otherwise
// everything runs on in-memory stores.
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:      cfg,
		logger:   logging.New(cfg.LogLevel, "text"),
		registry: health.NewRegistry(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.healthy.Store(true)

	var decisionStore decision.Store
	var webhookStore webhook.Store

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping database: %w", err)
		}
		s.db = db
		s.logger.Info("connected to database", "dsn", maskDSN(cfg.DatabaseURL))

		ds := decision.NewPostgresStore(db)
		if err := ds.Migrate(ctx); err != nil {
			s.logger.Warn("decision store migration failed", "error", err)
		}
		ws := webhook.NewPostgresStore(db)
		if err := ws.Migrate(ctx); err != nil {
			s.logger.Warn("webhook store migration failed", "error", err)
		}
		decisionStore, webhookStore = ds, ws

		s.registry.Register("database", func(ctx context.Context) health.Status {
			if err := db.PingContext(ctx); err != nil {
				return health.Status{Name: "database", Healthy: false, Detail: err.Error()}
			}
			return health.Status{Name: "database", Healthy: true}
		})
	} else {
		s.logger.Info("no DATABASE_URL set, using in-memory stores")
		decisionStore = decision.NewMemoryStore()
		webhookStore = webhook.NewMemoryStore()
	}

	bankClient := bank.NewClient(cfg.BankAPIURL)
	s.registry.Register("bank_api", bankChecker(cfg.BankAPIURL))

	analyzer, err := utilization.NewAnalyzer(utilization.Config{
		UtilMu: cfg.UtilMu, UtilSigmaLeft: cfg.UtilSigmaLeft,
		UtilSigmaRight: cfg.UtilSigmaRight, UtilWeight: cfg.UtilWeight,
		BurnMu: cfg.BurnMu, BurnSigmaLeft: cfg.BurnSigmaLeft,
		BurnSigmaRight: cfg.BurnSigmaRight, BurnWeight: cfg.BurnWeight,
		SpendMu: cfg.SpendMu, SpendSigma: cfg.SpendSigma, SpendWeight: cfg.SpendWeight,
		LabelHealthy: cfg.LabelHealthy, LabelMediumRisk: cfg.LabelMediumRisk,
		LabelHighRisk: cfg.LabelHighRisk, LabelVeryHighRisk: cfg.LabelVeryHighRisk,
	})
	if err != nil {
		return nil, fmt.Errorf("create analyzer: %w", err)
	}

	engine, err := risk.NewEngine(risk.Config{
		BalanceWeight:         cfg.BalanceWeight,
		IncomeSpendWeight:     cfg.IncomeSpendWeight,
		NSFWeight:             cfg.NSFWeight,
		BalanceNegCapCents:    cfg.BalanceNegCap,
		NSFPenalty:            cfg.NSFPenalty,
		PaybackPenalty:        cfg.PaybackPenalty,
		UtilPenaltyHighRisk:   cfg.UtilPenaltyHighRisk,
		UtilPenaltyMediumRisk: cfg.UtilPenaltyMediumRisk,
		TierALimitCents:       cfg.TierALimit,
		TierBLimitCents:       cfg.TierBLimit,
		TierCLimitCents:       cfg.TierCLimit,
		TierDLimitCents:       cfg.TierDLimit,
		TierAMinScore:         cfg.TierAMinScore,
		TierBMinScore:         cfg.TierBMinScore,
		TierCMinScore:         cfg.TierCMinScore,
		CooldownHours:         cfg.CooldownHours,
	}, analyzer)
	if err != nil {
		return nil, fmt.Errorf("create risk engine: %w", err)
	}

	s.service = decision.NewService(decisionStore, bankClient, engine).
		WithEvents(bankEvents{client: bankClient}).
		WithMetrics(metrics.Recorder{})

	if cfg.LedgerWebhookURL != "" {
		target := strings.TrimRight(cfg.LedgerWebhookURL, "/") + "/mock-ledger"
		if cfg.LedgerModeFail {
			target += "?mode=fail"
		}
		dispatcher := webhook.NewDispatcher(webhookStore, target).
			WithMaxAttempts(cfg.WebhookMaxAttempts)
		s.service = s.service.WithWebhooks(dispatcher)
	} else {
		s.logger.Info("no LEDGER_WEBHOOK_URL set, webhook dispatch disabled")
	}

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}
	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	return s, nil
}

// bankEvents adapts the bank client's event feed to the risk engine's
// event type.
type bankEvents struct {
	client *bank.Client
}

func (b bankEvents) Events(ctx context.Context, userID string) ([]risk.Event, error) {
	raw, err := b.client.Events(ctx, userID)
	if err != nil {
		return nil, err
	}
	events := make([]risk.Event, len(raw))
	for i, e := range raw {
		events[i] = risk.Event{Type: e.Type, Timestamp: e.Timestamp}
	}
	return events, nil
}

// bankChecker reports whether the bank API answers HTTP at all. Any status
// code counts; only transport failures mark the subsystem unhealthy.
func bankChecker(baseURL string) health.Checker {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) health.Status {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+"/health", nil)
		if err != nil {
			return health.Status{Name: "bank_api", Healthy: false, Detail: err.Error()}
		}
		resp, err := client.Do(req)
		if err != nil {
			return health.Status{Name: "bank_api", Healthy: false, Detail: err.Error()}
		}
		_ = resp.Body.Close()
		return health.Status{Name: "bank_api", Healthy: true}
	}
}

// maskDSN hides the password in a database URL for logging.
func maskDSN(dsn string) string {
	u, err := url.Parse(dsn)
	if err != nil {
		return "<unparseable>"
	}
	if u.User != nil {
		if _, has := u.User.Password(); has {
			u.User = url.UserPassword(u.User.Username(), "****")
		}
	}
	return u.String()
}

func (s *Server) setupMiddleware() {
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
		logging.L(c.Request.Context()).Error("panic recovered",
			"error", fmt.Sprintf("%v", recovered),
			"path", c.Request.URL.Path,
		)
		c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "An internal error occurred",
		})
	}))
	s.router.Use(metrics.Middleware())
	s.router.Use(s.requestIDMiddleware())
	s.router.Use(s.loggingMiddleware())
}

// requestIDMiddleware honors an incoming X-Request-ID, generates one
// otherwise, and makes a request-scoped logger available downstream.
func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}

		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger.With("request_id", requestID))
		c.Request = c.Request.WithContext(ctx)

		c.Header("X-Request-ID", requestID)
		c.Next()
	}
}

func (s *Server) loggingMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()

		log := logging.L(c.Request.Context())
		attrs := []any{
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"latency_ms", time.Since(start).Milliseconds(),
		}

		switch {
		case c.Writer.Status() >= http.StatusInternalServerError:
			log.Error("request", attrs...)
		case c.Writer.Status() >= http.StatusBadRequest:
			log.Warn("request", attrs...)
		default:
			log.Info("request", attrs...)
		}
	}
}

func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	v1 := s.router.Group("/v1")
	decision.NewHandler(s.service).RegisterRoutes(v1)
}

// HealthResponse is the body of GET /health.
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	healthy, checks := s.registry.CheckAll(ctx)

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   Version,
		Checks:    checks,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) livenessHandler(c *gin.Context) {
	if !s.healthy.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unhealthy"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (s *Server) readinessHandler(c *gin.Context) {
	if !s.ready.Load() {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not_ready"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// Run starts the HTTP server and blocks until a shutdown signal, a server
// error, or context cancellation.
func (s *Server) Run(ctx context.Context) error {
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	if s.cfg.OTLPEndpoint != "" {
		shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
		if err != nil {
			s.logger.Warn("tracing init failed", "error", err)
		} else {
			s.tracesShutdown = shutdown
		}
	}

	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	errChan := make(chan error, 1)
	go func() {
		s.logger.Info("starting server",
			"port", s.cfg.Port,
			"env", s.cfg.Env,
			"bank_api", s.cfg.BankAPIURL,
		)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

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

// Shutdown gracefully stops the server.
func (s *Server) Shutdown() error {
	s.ready.Store(false)
	s.logger.Info("starting graceful shutdown")

	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic.
	if s.cfg.IsProduction() {
		time.Sleep(5 * time.Second)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if s.httpSrv != nil {
		if err := s.httpSrv.Shutdown(ctx); err != nil {
			s.logger.Error("shutdown error", "error", err)
			return err
		}
	}

	if s.tracesShutdown != nil {
		if err := s.tracesShutdown(ctx); err != nil {
			s.logger.Error("traces shutdown error", "error", err)
		}
	}

	if s.db != nil {
		if err := s.db.Close(); err != nil {
			s.logger.Error("database close error", "error", err)
		} else {
			s.logger.Info("database connection closed")
		}
	}

	s.logger.Info("server stopped")
	return nil
}

// Router returns the gin router for testing.
func (s *Server) Router() *gin.Engine {
	return s.router
}
