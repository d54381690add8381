package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"

	"volunteerportal/internal/attendance"
	"volunteerportal/internal/auth"
	"volunteerportal/internal/authz"
	"volunteerportal/internal/config"
	"volunteerportal/internal/handler"
	"volunteerportal/internal/httpmiddleware"
	"volunteerportal/internal/logging"
	"volunteerportal/internal/metrics"
	"volunteerportal/internal/password"
	"volunteerportal/internal/queue"
	"volunteerportal/internal/store"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("load config")
	}
	logging.Init(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	if err := runHTTP(cfg); err != nil {
		logging.Fatal().Err(err).Msg("http server failed")
	}
}

func runHTTP(cfg config.App) error {
	log := logging.With("api")
	ctx := context.Background()
	checks := map[string]handler.HealthCheck{}

	var repo attendance.Repository
	switch cfg.StoreBackend {
	case "memory":
		log.Warn().Msg("using in-memory store; data is lost on restart")
		repo = store.NewMemory()
	default:
		if cfg.AutoMigrate {
			if err := store.Migrate(cfg.DatabaseURL); err != nil {
				return err
			}
		}
		db, err := store.NewDB(ctx, cfg.DatabaseURL)
		if err != nil {
			return err
		}
		defer db.Close()
		repo = store.NewPostgres(db.Client)
		checks["db"] = db.Healthy
	}

	var q queue.Queue
	switch cfg.QueueBackend {
	case "memory":
		q = queue.NewInMemory(256)
	default:
		rdb, err := store.NewRedis(ctx, cfg.RedisAddr)
		if err != nil {
			return err
		}
		defer rdb.Close()
		q = queue.NewRedisQueue(rdb.Client, cfg.QueueKey)
		checks["redis"] = rdb.Healthy
	}

	enforcer, err := authz.NewEnforcer(cfg.PolicyPath)
	if err != nil {
		return err
	}
	collector := metrics.NewCollector(prometheus.DefaultRegisterer)

	svc := attendance.NewService(repo, enforcer, password.NewBcrypt(cfg.BcryptCost), attendance.Options{
		Timeout:          cfg.OpTimeout,
		AllowAdminSignup: cfg.AllowAdminSignup,
		Events:           q,
		Metrics:          collector,
	})
	issuer := auth.NewIssuer(cfg.JWTIssuer, cfg.JWTSigningKey, cfg.AccessTTL, cfg.RefreshTTL)

	// The worker only reads redis, so an in-memory queue is drained here.
	consumeCtx, stopConsume := context.WithCancel(ctx)
	defer stopConsume()
	if mem, ok := q.(*queue.InMemory); ok {
		messages, err := mem.Consume(consumeCtx)
		if err != nil {
			return err
		}
		go func() {
			for msg := range messages {
				collector.RecordEvent(svc.HandleEvent(consumeCtx, msg))
			}
		}()
	}

	limiter := httpmiddleware.NewIPRateLimiter(cfg.RateLimitPerMin)
	defer limiter.Stop()

	corsCfg := cors.DefaultConfig()
	corsCfg.AllowHeaders = append(corsCfg.AllowHeaders, "Authorization")
	if origins := cfg.Origins(); len(origins) == 0 || origins[0] == "*" {
		corsCfg.AllowAllOrigins = true
	} else {
		corsCfg.AllowOrigins = origins
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(httpmiddleware.RequestLogger(collector, "/healthz", "/metrics"))
	r.Use(cors.New(corsCfg))
	r.Use(httpmiddleware.SecurityHeaders(cfg.IsProduction()))
	r.Use(limiter.GinMiddleware())

	r.GET("/metrics", gin.WrapH(metrics.Handler(prometheus.DefaultGatherer)))
	handler.New(svc, issuer, checks).Register(r)

	srv := &http.Server{
		Addr:         ":" + cfg.HTTPPort,
		Handler:      r,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info().Str("addr", srv.Addr).Str("store", cfg.StoreBackend).Str("queue", cfg.QueueBackend).Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		return err
	case <-quit:
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("forced shutdown")
	}
	log.Info().Msg("server exited")
	return nil
}
