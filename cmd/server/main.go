// Command server starts the page processing job broker.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/fairyhunter13/pagebroker/internal/adapter/blob"
	httpserver "github.com/fairyhunter13/pagebroker/internal/adapter/httpserver"
	"github.com/fairyhunter13/pagebroker/internal/adapter/observability"
	"github.com/fairyhunter13/pagebroker/internal/adapter/repo/postgres"
	"github.com/fairyhunter13/pagebroker/internal/app"
	"github.com/fairyhunter13/pagebroker/internal/config"
	"github.com/fairyhunter13/pagebroker/internal/domain"
	"github.com/fairyhunter13/pagebroker/internal/service/ratelimiter"
	"github.com/fairyhunter13/pagebroker/internal/usecase"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	logger := observability.SetupLogger(cfg)
	slog.SetDefault(logger)

	observability.InitMetrics()

	shutdownTracer, err := observability.SetupTracing(cfg)
	if err != nil {
		slog.Error("failed to setup tracing", slog.Any("error", err))
	}
	defer func() {
		if shutdownTracer != nil {
			_ = shutdownTracer(context.Background())
		}
	}()

	// Infra: DB pool and schema
	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.DBURL)
	if err != nil {
		slog.Error("db connect failed", slog.Any("error", err))
		os.Exit(1)
	}
	if err := postgres.EnsureSchema(ctx, pool); err != nil {
		slog.Error("schema setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Blob storage roots
	blobs, err := blob.New(cfg.JobsDir, cfg.ResultsDir)
	if err != nil {
		slog.Error("blob storage setup failed", slog.Any("error", err))
		os.Exit(1)
	}

	// Optional Redis for per-key rate limiting
	var rdb *redis.Client
	if cfg.RedisURL != "" {
		opt, perr := redis.ParseURL(cfg.RedisURL)
		if perr != nil {
			slog.Error("redis url invalid", slog.Any("error", perr))
			os.Exit(1)
		}
		rdb = redis.NewClient(opt)
		defer func() { _ = rdb.Close() }()
	}
	var limiter ratelimiter.Limiter
	if l := ratelimiter.NewRedisLuaLimiter(rdb, ratelimiter.NewBucketConfigFromPerMinute(cfg.RateLimitPerMin)); l != nil {
		limiter = l
	}

	// Repositories
	policy := domain.RetryPolicy{
		Timeout:     cfg.JobTimeout(),
		Grace:       cfg.JobTimeoutGrace(),
		MaxAttempts: cfg.JobMaxAttempts,
	}
	jobRepo := postgres.NewJobRepo(pool, policy)
	keyRepo := postgres.NewKeyRepo(pool)
	engineRepo := postgres.NewEngineRepo(pool)

	// Usecases
	jobSvc := usecase.NewJobService(jobRepo, engineRepo)
	workerSvc := usecase.NewWorkerService(jobRepo, blobs, policy)
	uploadSvc := usecase.NewUploadService(jobRepo, blobs)
	keySvc := usecase.NewKeyService(keyRepo, cfg.HMACSecret, cfg.KeyPrefix)
	engineSvc := usecase.NewEngineService(engineRepo)

	// First-run bootstrap: without any credential nobody could ever call the
	// admin API. The plaintext appears exactly once, here.
	if plaintext, created, berr := keySvc.Bootstrap(ctx); berr != nil {
		slog.Error("bootstrap failed", slog.Any("error", berr))
		os.Exit(1)
	} else if created {
		slog.Info("bootstrap admin key created; store it now, it will not be shown again",
			slog.String("api_key", plaintext))
	}

	// Optional engine catalogue seeding
	if cfg.EnginesFile != "" {
		if serr := engineSvc.SeedFromFile(ctx, cfg.EnginesFile); serr != nil {
			slog.Error("engine seeding failed", slog.Any("error", serr))
			os.Exit(1)
		}
	}

	// Background sweeper; claims sweep inline regardless
	sweepCtx, stopSweeper := context.WithCancel(ctx)
	defer stopSweeper()
	if sweeper := app.NewSweeper(workerSvc, cfg.SweepInterval); sweeper != nil {
		go sweeper.Run(sweepCtx)
		slog.Info("periodic sweeper started", slog.Duration("interval", cfg.SweepInterval))
	}

	// HTTP server
	dbCheck, redisCheck := app.BuildReadinessChecks(pool, rdb)
	srv := httpserver.NewServer(cfg, jobSvc, workerSvc, uploadSvc, keySvc, engineSvc, limiter, dbCheck, redisCheck)
	handler := app.BuildRouter(cfg, srv)

	srvHTTP := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           handler,
		ReadTimeout:       cfg.HTTPReadTimeout,
		WriteTimeout:      cfg.HTTPWriteTimeout,
		IdleTimeout:       cfg.HTTPIdleTimeout,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown
	errCh := make(chan error, 1)
	go func() {
		slog.Info("http server starting", slog.Int("port", cfg.Port))
		errCh <- srvHTTP.ListenAndServe()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		slog.Info("shutdown signal received", slog.String("signal", sig.String()))
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("server error", slog.Any("error", err))
		}
	}

	stopSweeper()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ServerShutdownTimeout)
	defer cancel()
	_ = srvHTTP.Shutdown(shutdownCtx)
}
