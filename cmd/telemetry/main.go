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

	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/app/migrate"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/broadcast"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/config"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/health"
	httpx "github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/http"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/ingest"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/metrics"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/queue"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/internal/repository/postgres"
	"github.com/techpropertiesprofessor-star/PropertiesProfessor-sub000/pkg/logger"
)

func main() {
	cfg := config.Load()
	log := logger.New("telemetry", logger.ParseLevel(cfg.LogLevel))

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
	agg := metrics.NewAggregator(log)
	hub := broadcast.NewHub(log, agg.TrackConnectionDelta)

	q := queue.New(repo, log, queue.Options{
		Capacity:      cfg.QueueCapacity,
		BatchSize:     cfg.QueueBatchSize,
		MaxRetries:    cfg.QueueMaxRetries,
		FlushInterval: cfg.QueueFlushInterval,
		ShutdownGrace: cfg.ShutdownGrace,
	})
	queueDone := make(chan struct{})
	go func() {
		q.Run(ctx)
		close(queueDone)
	}()

	horizons := make(map[string]time.Duration, len(cfg.WindowHorizons))
	for _, label := range cfg.WindowHorizons {
		horizon, err := metrics.ParseHorizon(label)
		if err != nil {
			log.Warn("skipping invalid metric window", "window", label, "error", err)
			continue
		}
		horizons[label] = horizon
	}
	defaultHorizon, err := metrics.ParseHorizon(cfg.DefaultHorizon)
	if err != nil {
		log.Warn("invalid default metric window, using 1h", "window", cfg.DefaultHorizon)
		defaultHorizon = time.Hour
	}

	emitter := metrics.NewEmitter(agg, hub, cfg.MetricsEmitInterval, defaultHorizon, log)
	go emitter.Run(ctx)

	recorder := ingest.NewRecorder(q, agg, hub, nil, log)

	probes := []health.Probe{
		health.NewDatabaseProbe(repo.Ping),
		health.NewBackendProbe(time.Now()),
		health.NewSystemProbe(),
	}
	monitor := health.NewMonitor(q, hub, probes, cfg.HealthProbeInterval, log, recorder)
	recorder.SetCrashLogger(monitor)
	monitor.Start()
	defer monitor.Stop()

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, repo, monitor, agg, emitter, hub, q, recorder, limiter, cfg.JWTSecret, horizons, repo.Ping)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("telemetry server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		// wait for the queue to drain buffered records before exit
		select {
		case <-queueDone:
		case <-shutdownCtx.Done():
			log.Warn("queue drain timed out")
		}
		log.Info("telemetry server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
