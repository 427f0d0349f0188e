// Package server sets up the HTTP server with all routes
package server

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq" // PostgreSQL driver
	"github.com/mbd888/yieldvault/internal/chain"
	"github.com/mbd888/yieldvault/internal/config"
	"github.com/mbd888/yieldvault/internal/fixedpoint"
	"github.com/mbd888/yieldvault/internal/health"
	"github.com/mbd888/yieldvault/internal/idgen"
	"github.com/mbd888/yieldvault/internal/invest"
	"github.com/mbd888/yieldvault/internal/logging"
	"github.com/mbd888/yieldvault/internal/metrics"
	"github.com/mbd888/yieldvault/internal/notify"
	"github.com/mbd888/yieldvault/internal/ratelimit"
	"github.com/mbd888/yieldvault/internal/security"
	"github.com/mbd888/yieldvault/internal/traces"
	"github.com/mbd888/yieldvault/internal/validation"
)

// -----------------------------------------------------------------------------
// Server
// -----------------------------------------------------------------------------

// Server wraps the HTTP server and dependencies
type Server struct {
	cfg            *config.Config
	chainClient    invest.Chain
	store          invest.Store
	service        *invest.Service
	hub            *notify.Hub
	healthReg      *health.Registry
	rateLimiter    *ratelimit.Limiter
	db             *sql.DB // nil if using in-memory
	router         *gin.Engine
	httpSrv        *http.Server
	logger         *slog.Logger
	cancelRunCtx   context.CancelFunc // cancels background goroutines started in Run
	tracerShutdown func(context.Context) error

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

// WithChain sets a custom chain client (for testing)
func WithChain(ch invest.Chain) Option {
	return func(s *Server) {
		s.chainClient = ch
	}
}

// New creates a new server instance
func New(cfg *config.Config, opts ...Option) (*Server, error) {
	s := &Server{
		cfg:    cfg,
		logger: logging.New(cfg.LogLevel, "json"),
	}

	// Apply options first (may set chain client/logger)
	for _, opt := range opts {
		opt(s)
	}

	// Context for initialization
	ctx := context.Background()

	// Initialize storage (Postgres if DATABASE_URL set, otherwise in-memory)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}

		// Configure connection pool
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(5)
		db.SetConnMaxLifetime(5 * time.Minute)

		// Test connection
		if err := db.Ping(); err != nil {
			return nil, fmt.Errorf("failed to connect to database: %w", err)
		}

		s.db = db
		store := invest.NewPostgresStore(db)
		if err := store.Migrate(ctx); err != nil {
			s.logger.Warn("failed to migrate operation store", "error", err)
		}
		s.store = store
		s.logger.Info("using PostgreSQL storage", "url", maskDSN(cfg.DatabaseURL))
	} else {
		s.store = invest.NewMemoryStore()
		s.logger.Info("using in-memory storage (data will not persist)")
	}

	// Create chain client if not injected
	if s.chainClient == nil {
		client, err := chain.New(chain.Config{
			RPCURL:        cfg.RPCURL,
			PrivateKey:    cfg.PrivateKey,
			ChainID:       cfg.ChainID,
			TokenContract: cfg.TokenContract,
			VaultContract: cfg.VaultContract,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to create chain client: %w", err)
		}
		s.chainClient = &chainAdapter{client}
		s.logger.Info("chain client connected",
			"rpc", cfg.RPCURL,
			"chainId", cfg.ChainID,
			"operator", client.OperatorAddress().Hex(),
		)
	}

	// Create notify hub for WebSocket status updates
	s.hub = notify.NewHub(s.logger)

	// Deposit limits come from config as display strings
	minDeposit, err := fixedpoint.Parse(cfg.MinDeposit, cfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid MIN_DEPOSIT: %w", err)
	}
	maxDeposit, err := fixedpoint.Parse(cfg.MaxDeposit, cfg.TokenDecimals)
	if err != nil {
		return nil, fmt.Errorf("invalid MAX_DEPOSIT: %w", err)
	}

	s.service = invest.NewService(s.store, s.chainClient, &hubNotifier{s.hub}, s.logger, invest.ServiceConfig{
		Decimals:   cfg.TokenDecimals,
		MinDeposit: minDeposit,
		MaxDeposit: maxDeposit,
		FeeRateBps: cfg.WithdrawFeeBps,
	})

	// Health probes
	s.healthReg = health.NewRegistry()
	s.healthReg.Register("rpc", func(ctx context.Context) health.Status {
		if _, err := s.chainClient.TokenBalance(ctx, common.Address{}); err != nil {
			return health.Fail(err.Error())
		}
		return health.OK()
	})
	if s.db != nil {
		s.healthReg.Register("database", func(ctx context.Context) health.Status {
			if err := s.db.PingContext(ctx); err != nil {
				return health.Fail(err.Error())
			}
			return health.OK()
		})
	}

	// Configure gin
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	s.router = gin.New()
	s.setupMiddleware()
	s.setupRoutes()

	s.healthy.Store(true)

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

// -----------------------------------------------------------------------------
// Middleware
// -----------------------------------------------------------------------------

func (s *Server) setupMiddleware() {
	// Recovery with logging
	s.router.Use(gin.CustomRecovery(func(c *gin.Context, recovered interface{}) {
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

	// CORS — the dApp frontend is served from a different origin
	s.router.Use(security.CORSMiddleware([]string{"*"}))

	// Request size limit (1MB)
	s.router.Use(validation.RequestSizeMiddleware(validation.MaxRequestSize))

	// Rate limiting
	limiterCfg := ratelimit.DefaultConfig()
	if s.cfg.RateLimitRPM > 0 {
		limiterCfg.RequestsPerMinute = s.cfg.RateLimitRPM
	}
	s.rateLimiter = ratelimit.New(limiterCfg)
	s.router.Use(s.rateLimiter.Middleware())

	// Prometheus metrics
	s.router.Use(metrics.Middleware())

	// Request ID
	s.router.Use(s.requestIDMiddleware())

	// Logging
	s.router.Use(s.loggingMiddleware())
}

func (s *Server) requestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		// Check for existing request ID (from load balancer, etc.)
		requestID := c.GetHeader("X-Request-ID")
		if requestID == "" {
			requestID = idgen.Hex(16)
		}

		// Add to context
		ctx := logging.WithRequestID(c.Request.Context(), requestID)
		ctx = logging.WithLogger(ctx, s.logger)
		c.Request = c.Request.WithContext(ctx)

		// Set response header
		c.Header("X-Request-ID", requestID)

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

// -----------------------------------------------------------------------------
// Routes
// -----------------------------------------------------------------------------

func (s *Server) setupRoutes() {
	// Health & metrics endpoints
	s.router.GET("/health", s.healthHandler)
	s.router.GET("/health/live", s.livenessHandler)
	s.router.GET("/health/ready", s.readinessHandler)
	s.router.GET("/metrics", metrics.Handler())

	// WebSocket for transaction status notifications
	s.router.GET("/ws", func(c *gin.Context) {
		s.hub.HandleWebSocket(c.Writer, c.Request)
	})

	// API info endpoints
	s.router.GET("/api", s.infoHandler)

	// V1 API group
	v1 := s.router.Group("/v1")
	// Validate :address URL params on all v1 routes (no-op when param absent)
	v1.Use(validation.AddressParamMiddleware())

	v1.GET("/vault", s.vaultInfoHandler)

	investHandler := invest.NewHandler(s.service)
	investHandler.RegisterRoutes(v1)
}

// -----------------------------------------------------------------------------
// Handlers
// -----------------------------------------------------------------------------

// HealthResponse for health check endpoints
type HealthResponse struct {
	Status    string          `json:"status"`
	Version   string          `json:"version"`
	Checks    []health.Status `json:"checks,omitempty"`
	Timestamp string          `json:"timestamp"`
}

func (s *Server) healthHandler(c *gin.Context) {
	healthy, statuses := s.healthReg.CheckAll(c.Request.Context())

	status := "healthy"
	httpStatus := http.StatusOK
	if !healthy {
		status = "degraded"
		httpStatus = http.StatusServiceUnavailable
	}

	c.JSON(httpStatus, HealthResponse{
		Status:    status,
		Version:   "0.1.0",
		Checks:    statuses,
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

func (s *Server) infoHandler(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"name":        "YieldVault",
		"description": "Deposit and withdrawal API for the yield vault contract",
		"version":     "0.1.0",
		"chainId":     s.cfg.ChainID,
	})
}

// vaultInfoHandler returns vault contract info and deposit limits
func (s *Server) vaultInfoHandler(c *gin.Context) {
	v := s.service.Validator()
	presets := make([]string, 0, 3)
	for _, p := range v.Presets() {
		presets = append(presets, fixedpoint.Display(p))
	}
	c.JSON(http.StatusOK, gin.H{
		"vault": gin.H{
			"chainId":       s.cfg.ChainID,
			"tokenContract": s.cfg.TokenContract,
			"vaultContract": s.cfg.VaultContract,
			"decimals":      s.cfg.TokenDecimals,
		},
		"limits": gin.H{
			"minDeposit":     fixedpoint.Display(v.MinLimit),
			"maxDeposit":     fixedpoint.Display(v.MaxLimit),
			"presets":        presets,
			"withdrawFeeBps": s.cfg.WithdrawFeeBps,
		},
	})
}

// -----------------------------------------------------------------------------
// Lifecycle
// -----------------------------------------------------------------------------

// Run starts the HTTP server with graceful shutdown
func (s *Server) Run(ctx context.Context) error {
	// Create a cancellable context for background goroutines so Shutdown() can stop them.
	runCtx, cancel := context.WithCancel(ctx)
	s.cancelRunCtx = cancel

	// Tracing (no-op when OTLP endpoint is unset)
	shutdown, err := traces.Init(runCtx, s.cfg.OTLPEndpoint, s.logger)
	if err != nil {
		s.logger.Warn("failed to initialize tracing", "error", err)
	} else {
		s.tracerShutdown = shutdown
	}

	s.httpSrv = &http.Server{
		Addr:              ":" + s.cfg.Port,
		Handler:           s.router,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 5 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Channel to catch server errors
	errChan := make(chan error, 1)

	// Start server in goroutine
	go func() {
		s.logger.Info("starting server", "port", s.cfg.Port)
		if err := s.httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
	}()

	// Start notify hub
	go s.hub.Run(runCtx)

	// Collect DB pool stats for Prometheus
	if s.db != nil {
		go metrics.StartDBStatsCollector(runCtx, s.db, 15*time.Second)
	}

	// Mark as ready after brief delay for startup
	go func() {
		time.Sleep(100 * time.Millisecond)
		s.ready.Store(true)
		s.logger.Info("server ready")
	}()

	// Wait for shutdown signal or error
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

	// Cancel the context for all background goroutines (hub, stats collector)
	if s.cancelRunCtx != nil {
		s.cancelRunCtx()
	}

	// Give load balancers time to stop sending traffic
	time.Sleep(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := s.httpSrv.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "error", err)
		return err
	}

	// Stop rate limiter cleanup goroutine
	if s.rateLimiter != nil {
		s.rateLimiter.Stop()
		s.logger.Info("rate limiter stopped")
	}

	// Flush pending trace spans
	if s.tracerShutdown != nil {
		if err := s.tracerShutdown(ctx); err != nil {
			s.logger.Error("tracer shutdown error", "error", err)
		}
	}

	// Close chain client connection
	if closer, ok := s.chainClient.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			s.logger.Error("chain client close error", "error", err)
		}
	}

	// Close database connection pool
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

// Router returns the gin router for testing
func (s *Server) Router() *gin.Engine {
	return s.router
}

// -----------------------------------------------------------------------------
// Adapters
// -----------------------------------------------------------------------------

// chainAdapter adapts chain.Client to invest.Chain
type chainAdapter struct {
	c *chain.Client
}

func (a *chainAdapter) TokenBalance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return a.c.TokenBalance(ctx, owner)
}

func (a *chainAdapter) Allowance(ctx context.Context, owner common.Address) (*big.Int, error) {
	return a.c.Allowance(ctx, owner)
}

func (a *chainAdapter) InvestmentState(ctx context.Context, owner common.Address) (*invest.ChainInvestment, error) {
	state, err := a.c.InvestmentInfo(ctx, owner)
	if err != nil {
		return nil, err
	}
	return &invest.ChainInvestment{
		Principal:           state.Principal,
		PendingYield:        state.PendingYield,
		TotalBaseYield:      state.TotalBaseYield,
		TotalBoostYield:     state.TotalBoostYield,
		TotalWithdrawals:    state.TotalWithdrawals,
		UserTotalInvestment: state.UserTotalInvestment,
	}, nil
}

func (a *chainAdapter) Approve(ctx context.Context, amount *big.Int) (string, error) {
	return a.c.Approve(ctx, amount)
}

func (a *chainAdapter) Invest(ctx context.Context, amount *big.Int, referrer common.Address) (string, error) {
	return a.c.Invest(ctx, amount, referrer)
}

func (a *chainAdapter) WithdrawYield(ctx context.Context) (string, error) {
	return a.c.WithdrawYield(ctx)
}

func (a *chainAdapter) WithdrawFull(ctx context.Context) (string, error) {
	return a.c.WithdrawFull(ctx)
}

func (a *chainAdapter) WaitForConfirmation(ctx context.Context, txHash string, timeout time.Duration) error {
	return a.c.WaitForConfirmation(ctx, txHash, timeout)
}

func (a *chainAdapter) Close() error {
	return a.c.Close()
}

// hubNotifier adapts notify.Hub to invest.Notifier
type hubNotifier struct {
	hub *notify.Hub
}

func (n *hubNotifier) Notify(note invest.Notification) {
	n.hub.Broadcast(&notify.Event{
		Type:          string(note.Type),
		Title:         note.Title,
		Description:   note.Description,
		WalletAddress: note.WalletAddress,
		OperationID:   note.OperationID,
	})
}
