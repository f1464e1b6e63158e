package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/revaspay/commissions/internal/config"
	"github.com/revaspay/commissions/internal/database"
	"github.com/revaspay/commissions/internal/events"
	"github.com/revaspay/commissions/internal/handlers"
	"github.com/revaspay/commissions/internal/jobs"
	"github.com/revaspay/commissions/internal/middleware"
	"github.com/revaspay/commissions/internal/models"
	"github.com/revaspay/commissions/internal/queue"
	"github.com/revaspay/commissions/internal/routes"
	"github.com/revaspay/commissions/internal/services/ledger"
	"github.com/revaspay/commissions/internal/services/payout"
	"github.com/revaspay/commissions/internal/services/reporting"
	"github.com/revaspay/commissions/internal/services/rules"
	"github.com/revaspay/commissions/internal/utils"
)

const version = "1.0.0"

func main() {
	// Initialize configuration
	cfg := config.LoadConfig()
	logger := utils.NewLogger(os.Stdout, cfg.LogLevel, cfg.IsProduction())

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	loc, err := time.LoadLocation(cfg.Commission.Timezone)
	if err != nil {
		logger.Error("invalid COMMISSION_TIMEZONE", "timezone", cfg.Commission.Timezone, "error", err)
		os.Exit(1)
	}
	currency, err := models.ParseCurrency(cfg.Commission.DefaultCurrency)
	if err != nil {
		logger.Error("invalid COMMISSION_DEFAULT_CURRENCY", "error", err)
		os.Exit(1)
	}
	method, err := models.ParsePayoutMethod(cfg.Commission.DefaultPayoutMethod)
	if err != nil {
		logger.Error("invalid DEFAULT_PAYOUT_METHOD", "error", err)
		os.Exit(1)
	}

	// Initialize storage
	repo, closeRepo, err := database.OpenRepository(cfg.Database, logger)
	if err != nil {
		logger.Error("failed to initialize database", "error", err)
		os.Exit(1)
	}
	defer closeRepo()

	redisClient, err := database.OpenRedis(ctx, cfg.Redis, logger)
	if err != nil {
		// reports go uncached and the queue runs in process
		logger.Warn("redis unavailable, continuing without it", "error", err)
	}
	if redisClient != nil {
		defer redisClient.Close()
	}

	// Domain events
	var publisher events.Publisher
	if cfg.RabbitMQ.URL != "" {
		rabbit, err := events.NewRabbitPublisher(cfg.RabbitMQ.URL, cfg.RabbitMQ.Exchange)
		if err != nil {
			logger.Warn("rabbitmq unavailable, domain events are only logged", "error", err)
		} else {
			publisher = rabbit
			defer rabbit.Close()
		}
	}
	emitter := events.NewEmitter(publisher, logger)

	seed, err := config.LoadSeed(cfg.SeedFile)
	if err != nil {
		logger.Error("failed to load seed file", "error", err)
		os.Exit(1)
	}
	fees, err := payout.FeeSchedulesFromConfig(seed.Fees)
	if err != nil {
		logger.Error("invalid fee schedule", "error", err)
		os.Exit(1)
	}

	// Initialize services
	ruleService := rules.NewService(repo, currency, logger)
	if n, err := ruleService.Seed(ctx, seed.Rules); err != nil {
		logger.Error("failed to seed commission rules", "error", err)
		os.Exit(1)
	} else if n > 0 {
		logger.Info("seeded commission rules", "count", n)
	}

	ledgerService := ledger.NewService(repo, ruleService, emitter, logger, ledger.Options{
		DefaultCurrency: currency,
		ExpiryWindow:    cfg.Commission.ExpiryWindow,
		BulkConcurrency: cfg.Commission.BulkConcurrency,
	})

	refs, err := utils.NewReferenceGenerator(cfg.Commission.NodeID)
	if err != nil {
		logger.Error("failed to create reference generator", "error", err)
		os.Exit(1)
	}
	payoutService := payout.NewService(repo, refs, emitter, logger, payout.Options{
		DefaultCurrency: currency,
		DefaultMethod:   method,
		ClaimRetries:    cfg.Commission.ClaimRetries,
		Fees:            fees,
	})

	var cache reporting.Cache = reporting.NoopCache{}
	if redisClient != nil {
		cache = reporting.NewRedisCache(redisClient)
	}
	reportService := reporting.NewService(repo, cache, logger, reporting.Options{
		Location:                  loc,
		DefaultCurrency:           currency,
		TopEarnersIncludeApproved: cfg.Commission.TopEarnersIncludeApproved,
		CacheTTL:                  cfg.Commission.ReportCacheTTL,
	})

	// Background ingestion queue
	var jobQueue queue.Queue
	if redisClient != nil {
		jobQueue = queue.NewRedisQueue(redisClient, logger)
	} else {
		jobQueue = queue.NewMemoryQueue()
	}
	defer jobQueue.Close()

	jobProcessor := queue.NewJobProcessor(jobQueue, cfg.Scheduler.QueueWorkers, logger)
	ingestJob := jobs.RegisterAllJobHandlers(jobProcessor, jobQueue, ledgerService, logger)
	jobProcessor.Start()
	defer jobProcessor.Stop()

	// Periodic passes
	if cfg.Scheduler.Enabled {
		scheduler := jobs.NewScheduler(cfg.Scheduler, ledgerService, payoutService, loc, logger)
		if err := scheduler.Register(); err != nil {
			logger.Error("failed to register scheduled jobs", "error", err)
			os.Exit(1)
		}
		scheduler.Start()
		defer scheduler.Stop()
	}

	// HTTP
	checks := map[string]handlers.HealthCheck{}
	if redisClient != nil {
		checks["redis"] = func(ctx context.Context) error { return redisClient.Ping(ctx).Err() }
	}
	rateLimiter := middleware.NewRateLimiter(
		float64(cfg.Security.IPRateLimit),
		cfg.Security.IPRateBurst,
		time.Duration(cfg.Security.RateLimitCleanupMin)*time.Minute,
	)
	defer rateLimiter.Stop()

	// a manual batch must finish before the server write deadline
	batchTimeout := cfg.Scheduler.BatchTimeout
	writeTimeout := time.Duration(cfg.Server.WriteTimeout) * time.Second
	if writeTimeout > time.Second && batchTimeout >= writeTimeout {
		batchTimeout = writeTimeout - time.Second
	}

	router := routes.SetupRouter(cfg, routes.Handlers{
		Commissions: handlers.NewCommissionHandler(ledgerService, ingestJob),
		Payouts:     handlers.NewPayoutHandler(payoutService, batchTimeout),
		Rules:       handlers.NewRuleHandler(ruleService),
		Reports:     handlers.NewReportHandler(reportService),
		Health:      handlers.NewHealthHandler(version, checks),
	}, rateLimiter, logger)

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  time.Duration(cfg.Server.ReadTimeout) * time.Second,
		WriteTimeout: writeTimeout,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("failed to start server", "error", err)
			stop()
		}
	}()
	logger.Info("server started", "port", cfg.Server.Port, "environment", cfg.Environment, "version", version)

	<-ctx.Done()
	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server forced to shutdown", "error", err)
	}
	logger.Info("server exiting")
}
