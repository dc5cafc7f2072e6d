package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/smartqueue/reminderd/internal/api"
	"github.com/smartqueue/reminderd/internal/circuitbreaker"
	"github.com/smartqueue/reminderd/internal/config"
	"github.com/smartqueue/reminderd/internal/db"
	"github.com/smartqueue/reminderd/internal/dispatch"
	"github.com/smartqueue/reminderd/internal/metrics"
	"github.com/smartqueue/reminderd/internal/observ"
	"github.com/smartqueue/reminderd/internal/redis"
	"github.com/smartqueue/reminderd/internal/scanner"
	"github.com/smartqueue/reminderd/internal/source"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	// Setup logger
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	logger.Info("starting reminderd",
		zap.String("env", cfg.Env),
		zap.Int("port", cfg.Port),
		zap.String("category", string(cfg.Category)),
		zap.Duration("scan_interval", cfg.ScanInterval),
	)

	// Initialize database connection
	ctx := context.Background()
	dbConfig := db.Config{
		Host:     cfg.DBHost,
		Port:     cfg.DBPort,
		User:     cfg.DBUser,
		Password: cfg.DBPassword,
		Database: cfg.DBName,
		SSLMode:  cfg.DBSSLMode,
	}

	database, err := db.New(ctx, dbConfig, logger)
	if err != nil {
		return fmt.Errorf("failed to connect to database: %w", err)
	}
	defer database.Close()

	ledger := db.NewLedger(database, logger)
	templates := db.NewTemplateRepository(database, logger)

	// Appointment source: the booking system's tables, read via the
	// adapter and optionally fronted by the Redis entity cache.
	var src source.Adapter = source.NewPostgresAdapter(database, logger)

	// Redis is optional: without it the entity cache and admin rate
	// limiting are disabled but the delivery pipeline is unaffected.
	redisConfig := redis.Config{
		Host:     cfg.RedisHost,
		Port:     cfg.RedisPort,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	}

	redisClient, err := redis.New(ctx, redisConfig, logger)
	if err != nil {
		logger.Warn("redis unavailable, entity cache and rate limiting disabled",
			zap.Error(err),
			zap.String("host", cfg.RedisHost),
		)
		redisClient = nil
	}

	var rateLimiter *redis.RateLimiter
	if redisClient != nil {
		src = redis.NewCachedSource(src, redisClient, cfg.EntityCacheTTL, logger)
		rateLimiter = redis.NewRateLimiter(redisClient, logger, redis.RateLimitConfig{
			Limit:  100,             // 100 requests
			Window: 1 * time.Minute, // per minute per client IP
		})
		defer redisClient.Close()
	}

	// Email gateway, wrapped in a circuit breaker so a failing provider
	// degrades into transient dispatch errors instead of hammering SES.
	var gateway dispatch.EmailGateway
	switch cfg.EmailGateway {
	case "ses":
		gateway, err = dispatch.NewSESGateway(ctx, dispatch.SESConfig{
			Region:    cfg.AWSRegion,
			FromEmail: cfg.SESFromEmail,
		}, logger)
		if err != nil {
			return fmt.Errorf("failed to create SES email gateway: %w", err)
		}
	default:
		gateway = dispatch.NewLogGateway(logger)
	}

	breaker := circuitbreaker.New(circuitbreaker.DefaultConfig(cfg.EmailGateway), logger)
	protected := circuitbreaker.NewProtectedGateway(gateway, breaker, logger)

	dispatcher := dispatch.NewDispatcher(templates, src, protected, logger)

	scan := scanner.New(src, ledger, dispatcher, scanner.Config{
		Interval:    cfg.ScanInterval,
		LeadTime:    cfg.LeadTime,
		Tolerance:   cfg.WindowTolerance,
		Category:    cfg.Category,
		Concurrency: cfg.WorkerCount,
	}, logger)

	sweeper := scanner.NewSweeper(ledger, templates, scanner.SweeperConfig{
		Retention:  time.Duration(cfg.RetentionDays) * 24 * time.Hour,
		RunHourUTC: cfg.SweepHourUTC,
	}, logger)

	// Install default templates before the first scan so rendering never
	// waits on the lazy fallback.
	if err := sweeper.EnsureDefaults(ctx); err != nil {
		logger.Warn("default template install failed, dispatcher will retry lazily",
			zap.Error(err),
		)
	}

	bgCtx, bgCancel := context.WithCancel(context.Background())
	defer bgCancel()

	go scan.Run(bgCtx)
	go sweeper.Run(bgCtx)

	logger.Info("background scanner and sweeper started")

	// Setup router
	r := chi.NewRouter()

	// Middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))
	r.Use(metrics.Middleware)

	// Custom logging middleware
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Duration("duration_ms", time.Since(start)),
				zap.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	})

	// API routes
	handler := api.NewHandler(logger, ledger, templates, scan, dispatcher, cfg.SESFromEmail)
	r.Route("/v1", func(r chi.Router) {
		// Apply rate limiting to API routes
		r.Use(api.RateLimitMiddleware(rateLimiter, logger, api.IPKeyFunc))

		r.Get("/reminders", handler.ListReminders)
		r.Get("/reminders/{appointmentID}", handler.GetReminder)
		r.Post("/reminders/{appointmentID}/send", handler.SendReminder)

		r.Get("/templates", handler.ListTemplates)
		r.Post("/templates", handler.CreateTemplate)
		r.Get("/templates/{id}", handler.GetTemplate)
		r.Put("/templates/{id}", handler.UpdateTemplate)

		r.Get("/stats", handler.GetStats)
		r.Post("/test-email", handler.SendTestEmail)
	})

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		if err := database.Health(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte("database unavailable"))
			return
		}
		if redisClient != nil {
			if err := redisClient.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("redis unavailable"))
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("OK"))
	})

	// Prometheus metrics endpoint
	r.Handle("/metrics", metrics.Handler())

	// Setup HTTP server
	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("server listening", zap.String("addr", srv.Addr))
		serverErrors <- srv.ListenAndServe()
	}()

	// Listen for shutdown signals
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	// Block until we receive a signal or server error
	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)
	case sig := <-shutdown:
		logger.Info("shutdown signal received", zap.String("signal", sig.String()))

		// Stop the scanner and sweeper first so no tick starts mid-shutdown
		bgCancel()

		// Give outstanding requests 10 seconds to complete
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := srv.Shutdown(ctx); err != nil {
			srv.Close()
			return fmt.Errorf("graceful shutdown failed: %w", err)
		}

		logger.Info("server stopped gracefully")
	}

	return nil
}
