package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/feedbeacon/feedbeacon/internal/app/migrate"
	httpx "github.com/feedbeacon/feedbeacon/internal/http"
	"github.com/feedbeacon/feedbeacon/internal/repository/postgres"
	"github.com/feedbeacon/feedbeacon/internal/service/appcast"
	"github.com/feedbeacon/feedbeacon/internal/service/directory"
	"github.com/feedbeacon/feedbeacon/internal/service/ingest"
	"github.com/feedbeacon/feedbeacon/internal/service/stats"
	"github.com/feedbeacon/feedbeacon/pkg/config"
	"github.com/feedbeacon/feedbeacon/pkg/logger"
)

func main() {
	cfg := config.LoadServerConfig()
	log := logger.New("api", logger.ParseLevel(config.GetString("LOG_LEVEL", "info")))

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	ingestSvc := ingest.New(repo, repo, log)
	appcastSvc := appcast.New(repo, repo, log, cfg.UpstreamTimeout, cfg.UpstreamRetries, cfg.UpstreamUserAgent)
	defer appcastSvc.Close()
	statsSvc := stats.New(repo, repo, repo, log)
	directorySvc := directory.New(repo, log)

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable, using in-memory limiter", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, ingestSvc, appcastSvc, statsSvc, directorySvc, limiter, cfg, pool.Ping)

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("server starting", "addr", cfg.Addr, "env", cfg.Environment)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
