package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/authz"
	"volunteerportal/internal/config"
	"volunteerportal/internal/logging"
	"volunteerportal/internal/metrics"
	"volunteerportal/internal/password"
	"volunteerportal/internal/queue"
	"volunteerportal/internal/store"
)

// Worker consumes attendance events and keeps each volunteer's attended set
// in line with their present roster records.
func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})
	log := logging.With("worker")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if cfg.StoreBackend != "postgres" || cfg.QueueBackend != "redis" {
		log.Fatal().Str("store", cfg.StoreBackend).Str("queue", cfg.QueueBackend).
			Msg("worker needs the postgres store and the redis queue shared with the api")
	}

	db, err := store.NewDB(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatal().Err(err).Msg("db connect failed")
	}
	defer db.Close()

	rdb, err := store.NewRedis(ctx, cfg.RedisAddr)
	if err != nil {
		log.Fatal().Err(err).Msg("redis connect failed")
	}
	defer rdb.Close()

	enforcer, err := authz.NewEnforcer(cfg.PolicyPath)
	if err != nil {
		log.Fatal().Err(err).Msg("load policy")
	}
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)
	svc := attendance.NewService(store.NewPostgres(db.Client), enforcer, password.NewBcrypt(cfg.BcryptCost), attendance.Options{
		Timeout: cfg.OpTimeout,
		Metrics: collector,
	})

	metricsSrv := &http.Server{
		Addr:              ":" + cfg.MetricsPort,
		Handler:           metrics.Handler(prometheus.DefaultGatherer),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error().Err(err).Msg("metrics server failed")
		}
	}()

	n, err := svc.ReconcileAll(ctx)
	if err != nil {
		log.Error().Err(err).Msg("startup reconcile failed")
	} else {
		log.Info().Int("volunteers", n).Msg("startup reconcile done")
	}

	messages, err := queue.NewRedisQueue(rdb.Client, cfg.QueueKey).Consume(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("queue consume init failed")
	}

	log.Info().Str("queue", cfg.QueueKey).Msg("worker started, waiting for messages")
	for msg := range messages {
		collector.RecordEvent(svc.HandleEvent(ctx, msg))
	}

	shutdownCtx, stop := context.WithTimeout(context.Background(), 5*time.Second)
	defer stop()
	_ = metricsSrv.Shutdown(shutdownCtx)
	log.Info().Msg("worker stopped")
}
