package config

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"
	"time"

	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/api"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/config"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/analytics"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/auth"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/balance"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/billing"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/database"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/ledger"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/metrics"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/middleware"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/notifications"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/payments"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/pricing"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/scheduler"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/internal/services/voice"
	"github.com/M1NDB0TZ/M1NDB0T-STAWBERRY-sub000/pkg/builder"

	"github.com/gofiber/fiber/v2"
	fiberlog "github.com/gofiber/fiber/v2/log"
	"github.com/gofiber/fiber/v2/middleware/compress"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/pprof"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/timeout"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
)

// Server is a billing API instance.
type Server struct {
	config   *config.Config
	app      *fiber.App
	builder  *builder.Builder
	infra    *infrastructure
	sweeps   *scheduler.SweepScheduler
	registry *prometheus.Registry
	handlers api.Handlers
	authMW   *middleware.AuthMiddleware

	analyticsWorker *analytics.Worker
}

type infrastructure struct {
	redis     *redis.Client
	db        *database.DB
	analytics *database.DB
}

// NewServer creates a new Server with the given configuration.
// The cfg parameter is required and must not be nil.
func NewServer(cfg *config.Config) *Server {
	if cfg == nil {
		panic("config cannot be nil - use config.LoadFromFile() or the builder to create config")
	}
	return &Server{config: cfg}
}

// NewServerWithBuilder creates a Server with rate limit, timeout and
// middleware settings taken from the builder.
func NewServerWithBuilder(b *builder.Builder) *Server {
	return &Server{
		config:  b.Build(),
		builder: b,
	}
}

// App exposes the fiber app once Setup has run.
func (s *Server) App() *fiber.App {
	return s.app
}

// Setup connects infrastructure, wires the services and mounts the routes.
// Run calls it; tests call it directly and drive App with app.Test.
func (s *Server) Setup(ctx context.Context) error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	setupLogLevel(s.config)
	s.app = createFiberApp(s.config)

	infra, err := initializeInfrastructure(ctx, s.config)
	if err != nil {
		return err
	}
	s.infra = infra

	if err := s.initializeServices(ctx); err != nil {
		s.Close()
		return err
	}

	setupMiddleware(s.app, s.config, s.builder)
	api.RegisterRoutes(s.app, s.handlers, s.authMW)
	s.app.Get("/", welcomeHandler())
	return nil
}

// Run starts the server and blocks until shutdown.
func (s *Server) Run() error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := s.Setup(ctx); err != nil {
		return err
	}
	defer s.Close()

	if s.sweeps != nil {
		if err := s.sweeps.Start(ctx); err != nil {
			return fmt.Errorf("failed to start sweeps: %w", err)
		}
		defer s.sweeps.Stop()
	}

	listenAddr := ":" + s.config.Server.Port

	fmt.Printf("Time card billing API starting on %s\n", listenAddr)
	fmt.Printf("   Environment: %s\n", s.config.Server.Environment)
	fmt.Printf("   Go version: %s\n", runtime.Version())
	fmt.Printf("   GOMAXPROCS: %d\n", runtime.GOMAXPROCS(0))

	serverErrChan := make(chan error, 1)
	go func() {
		if err := s.app.Listen(listenAddr); err != nil {
			serverErrChan <- err
		}
	}()

	select {
	case err := <-serverErrChan:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		fiberlog.Info("Received shutdown signal, starting graceful shutdown...")
	}

	if err := s.app.ShutdownWithTimeout(30 * time.Second); err != nil {
		return fmt.Errorf("shutdown error: %w", err)
	}
	fiberlog.Info("Server shutdown completed successfully")
	return nil
}

// Close flushes queued analytics rows and releases the database and redis
// connections.
func (s *Server) Close() {
	if s.analyticsWorker != nil {
		s.analyticsWorker.Stop()
		s.analyticsWorker = nil
	}
	if s.infra == nil {
		return
	}
	if s.infra.redis != nil {
		if err := s.infra.redis.Close(); err != nil {
			fiberlog.Errorf("Failed to close Redis client: %v", err)
		}
	}
	for _, db := range []*database.DB{s.infra.db, s.infra.analytics} {
		if db == nil {
			continue
		}
		if err := db.Close(); err != nil {
			fiberlog.Errorf("Failed to close %s connection: %v", db.DriverName(), err)
		}
	}
	s.infra = nil
}

func (s *Server) initializeServices(ctx context.Context) error {
	cfg := s.config
	db := s.infra.db.DB

	s.registry = prometheus.NewRegistry()
	s.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	m, err := metrics.NewBilling("", s.registry)
	if err != nil {
		return fmt.Errorf("failed to register metrics: %w", err)
	}

	pricingSvc := pricing.NewService(db)
	if err := pricingSvc.SeedDefaults(ctx); err != nil {
		return err
	}

	ledgerSvc := ledger.NewService(db, pricingSvc, cfg.Billing, ledger.WithMetrics(m))
	balanceSvc := balance.NewService(db, nil)

	var notifier notifications.Notifier = notifications.LogNotifier{}
	if s.infra.redis != nil {
		notifier = notifications.NewThrottledNotifier(notifier,
			notifications.NewRedisThrottle(s.infra.redis, ""), notifications.DefaultCooldown)
	}

	billingOpts := []billing.Option{
		billing.WithMetrics(m),
		billing.WithNotifier(notifier),
	}
	if s.infra.analytics != nil {
		s.analyticsWorker = analytics.NewWorker(analytics.NewClickHouseSink(s.infra.analytics.DB), 2, 1024)
		billingOpts = append(billingOpts, billing.WithSink(s.analyticsWorker))
	}
	billingSvc := billing.NewService(db, ledgerSvc, balanceSvc, cfg.Billing, billingOpts...)

	s.sweeps = scheduler.NewSweepScheduler(balanceSvc, billingSvc, cfg.Billing.SweepSchedule, m)

	s.handlers = api.Handlers{
		Health:   api.NewHealthHandler(s.healthChecks()),
		Metrics:  api.MetricsHandler(s.registry),
		Pricing:  api.NewPricingHandler(pricingSvc),
		Cards:    api.NewCardsHandler(ledgerSvc, balanceSvc),
		Sessions: api.NewSessionsHandler(billingSvc),
		Admin:    api.NewAdminHandler(ledgerSvc, pricingSvc, s.sweeps),
	}

	if cfg.Stripe != nil {
		stripeSvc := payments.NewStripeService(*cfg.Stripe, db, ledgerSvc, pricingSvc, payments.WithMetrics(m))
		s.handlers.Stripe = api.NewStripeHandler(stripeSvc)
	} else {
		fiberlog.Info("Stripe not configured - purchases and payment webhooks disabled")
	}

	if cfg.Voice != nil {
		voiceSvc, err := voice.NewService(cfg.Voice.WebhookSecret, billingSvc, m)
		if err != nil {
			return err
		}
		s.handlers.Voice = api.NewVoiceHandler(voiceSvc)
	} else {
		fiberlog.Info("Voice relay not configured - call webhooks disabled")
	}

	if cfg.Auth != nil {
		mwCfg := middleware.DefaultAuthMiddlewareConfig()
		mwCfg.AdminRole = cfg.Auth.AdminRole
		s.authMW = middleware.NewAuthMiddleware(auth.NewVerifier(*cfg.Auth), mwCfg)
	} else {
		fiberlog.Warn("Auth not configured - user and admin routes disabled")
	}

	return nil
}

func (s *Server) healthChecks() map[string]api.Pinger {
	checks := map[string]api.Pinger{
		"database": api.PingFunc(func(context.Context) error { return s.infra.db.Ping() }),
	}
	if s.infra.redis != nil {
		checks["redis"] = api.PingFunc(func(ctx context.Context) error { return s.infra.redis.Ping(ctx).Err() })
	}
	if s.infra.analytics != nil {
		checks["analytics"] = api.PingFunc(func(context.Context) error { return s.infra.analytics.Ping() })
	}
	return checks
}

func createFiberApp(cfg *config.Config) *fiber.App {
	isProd := cfg.IsProduction()

	return fiber.New(fiber.Config{
		AppName:           "TimeCards v1.0",
		EnablePrintRoutes: !isProd,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       2 * time.Minute,
		BodyLimit:         1 * 1024 * 1024,
		CaseSensitive:     true,
		StrictRouting:     false,
		Network:           "tcp",
		ServerHeader:      "TimeCards",
	})
}

func setupMiddleware(app *fiber.App, cfg *config.Config, b *builder.Builder) {
	isProd := cfg.IsProduction()

	// Recover middleware (must be first)
	app.Use(recover.New(recover.Config{
		EnableStackTrace: !isProd,
	}))

	maxRequests, expiration := 600, time.Minute
	keyFunc := func(c *fiber.Ctx) string {
		return c.IP()
	}
	if b != nil && b.GetRateLimitConfig() != nil {
		rlCfg := b.GetRateLimitConfig()
		maxRequests, expiration = rlCfg.Max, rlCfg.Expiration
		if rlCfg.KeyFunc != nil {
			keyFunc = rlCfg.KeyFunc
		}
	}
	app.Use(limiter.New(limiter.Config{
		Max:               maxRequests,
		Expiration:        expiration,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      keyFunc,
		// Payment and call webhooks must never be throttled.
		Next: func(c *fiber.Ctx) bool {
			return strings.HasPrefix(c.Path(), "/webhooks/")
		},
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"error": fmt.Sprintf("%d requests per %v", maxRequests, expiration),
			})
		},
	}))

	if b != nil && b.GetTimeoutConfig() != nil {
		timeoutDuration := b.GetTimeoutConfig().Timeout
		app.Use(func(c *fiber.Ctx) error {
			handler := func(c *fiber.Ctx) error {
				return c.Next()
			}
			return timeout.NewWithContext(handler, timeoutDuration)(c)
		})
	} else {
		app.Use(func(c *fiber.Ctx) error {
			ctx, cancel := context.WithTimeout(c.UserContext(), 15*time.Second)
			defer cancel()
			c.SetUserContext(ctx)
			return c.Next()
		})
	}

	app.Use(compress.New(compress.Config{
		Level: compress.LevelBestSpeed,
	}))

	if isProd {
		app.Use(logger.New(logger.Config{
			Format: "${time} ${status} ${method} ${path} ${latency} ${bytesSent}b\n",
			Output: os.Stdout,
		}))
	} else {
		app.Use(logger.New(logger.Config{
			Format: "[${time}] ${status} - ${latency} ${method} ${path} ${error}\n",
			Output: os.Stdout,
		}))
	}

	app.Use(cors.New(cors.Config{
		AllowOrigins:     cfg.Server.AllowedOrigins,
		AllowHeaders:     "Origin, Content-Type, Accept, Authorization, User-Agent",
		AllowMethods:     "GET, POST, PUT, DELETE, OPTIONS",
		AllowCredentials: cfg.Server.AllowedOrigins != "*",
		MaxAge:           86400,
		ExposeHeaders:    "Content-Length, Content-Type, X-Request-ID",
	}))

	if b != nil {
		for _, mw := range b.GetMiddlewares() {
			app.Use(mw)
		}
	}

	// Profiler (dev only)
	if !isProd {
		app.Use(pprof.New())
	}
}

func setupLogLevel(cfg *config.Config) {
	logLevel := cfg.GetNormalizedLogLevel()

	switch logLevel {
	case "trace":
		fiberlog.SetLevel(fiberlog.LevelTrace)
	case "debug":
		fiberlog.SetLevel(fiberlog.LevelDebug)
	case "info":
		fiberlog.SetLevel(fiberlog.LevelInfo)
	case "warn", "warning":
		fiberlog.SetLevel(fiberlog.LevelWarn)
	case "error":
		fiberlog.SetLevel(fiberlog.LevelError)
	case "fatal":
		fiberlog.SetLevel(fiberlog.LevelFatal)
	case "panic":
		fiberlog.SetLevel(fiberlog.LevelPanic)
	default:
		fiberlog.SetLevel(fiberlog.LevelInfo)
		fiberlog.Warnf("Unknown log level '%s', defaulting to 'info'", logLevel)
	}

	fiberlog.Infof("Log level set to: %s", logLevel)
}

func createRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	if cfg.Redis == nil || cfg.Redis.URL == "" {
		fiberlog.Info("Redis not configured - low balance warnings are not throttled")
		return nil, nil
	}

	opt, err := redis.ParseURL(cfg.Redis.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse Redis URL: %w", err)
	}

	opt.PoolSize = 20
	if cfg.Redis.PoolSize > 0 {
		opt.PoolSize = cfg.Redis.PoolSize
	}
	opt.MinIdleConns = 2
	opt.PoolTimeout = 4 * time.Second
	opt.ConnMaxIdleTime = 5 * time.Minute
	opt.DialTimeout = 10 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.MaxRetries = 3
	opt.MinRetryBackoff = 8 * time.Millisecond
	opt.MaxRetryBackoff = 512 * time.Millisecond

	return testRedisConnectionWithRetry(ctx, redis.NewClient(opt))
}

func testRedisConnectionWithRetry(ctx context.Context, client *redis.Client) (*redis.Client, error) {
	const maxAttempts = 3
	const baseDelay = 1 * time.Second

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err := client.Ping(pingCtx).Err()
		cancel()

		if err == nil {
			fiberlog.Infof("Redis connection established successfully (attempt %d/%d)", attempt, maxAttempts)
			return client, nil
		}

		fiberlog.Warnf("Redis connection failed (attempt %d/%d): %v", attempt, maxAttempts, err)

		if attempt < maxAttempts {
			select {
			case <-ctx.Done():
				_ = client.Close()
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * baseDelay):
			}
		}
	}

	if err := client.Close(); err != nil {
		fiberlog.Errorf("Failed to close Redis client after connection failures: %v", err)
	}

	return nil, fmt.Errorf("failed to connect to Redis after %d attempts", maxAttempts)
}

func initializeInfrastructure(ctx context.Context, cfg *config.Config) (*infrastructure, error) {
	infra := &infrastructure{}

	db, err := database.New(*cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to create database connection: %w", err)
	}
	infra.db = db
	fiberlog.Infof("Database (%s) initialized successfully", db.DriverName())

	if err := database.Migrate(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to run database migrations: %w", err)
	}
	fiberlog.Info("Database migrations completed successfully")

	if cfg.Analytics != nil && cfg.Analytics.Enabled {
		adb, err := database.New(cfg.Analytics.Database)
		if err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to create analytics connection: %w", err)
		}
		if err := database.RunClickHouseMigrations(adb.DB); err != nil {
			_ = adb.Close()
			_ = db.Close()
			return nil, fmt.Errorf("failed to run analytics migrations: %w", err)
		}
		infra.analytics = adb
		fiberlog.Info("Analytics sink (clickhouse) initialized successfully")
	}

	redisClient, err := createRedisClient(ctx, cfg)
	if err != nil {
		// Redis only throttles notifications; billing runs without it.
		fiberlog.Warnf("Continuing without Redis: %v", err)
	}
	infra.redis = redisClient

	return infra, nil
}

func welcomeHandler() fiber.Handler {
	return func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"message":    "Time card billing API",
			"version":    "1.0.0",
			"go_version": runtime.Version(),
			"status":     "running",
			"endpoints": fiber.Map{
				"pricing":  "/v1/pricing",
				"balance":  "/v1/balance",
				"activate": "/v1/cards/activate",
				"sessions": "/v1/sessions",
				"health":   "/health",
			},
		})
	}
}
