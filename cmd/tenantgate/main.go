package main

import (
	"context"
	"database/sql"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/gorilla/mux"
	_ "github.com/lib/pq"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/platinummonkey/tenantgate/pkg/api"
	"github.com/platinummonkey/tenantgate/pkg/config"
	"github.com/platinummonkey/tenantgate/pkg/costs"
	"github.com/platinummonkey/tenantgate/pkg/middleware"
	"github.com/platinummonkey/tenantgate/pkg/observability"
	"github.com/platinummonkey/tenantgate/pkg/orgs"
	"github.com/platinummonkey/tenantgate/pkg/plans"
	"github.com/platinummonkey/tenantgate/pkg/ratelimit"
	"github.com/platinummonkey/tenantgate/pkg/rbac"
)

var version = "dev"

func main() {
	showVersion := flag.Bool("version", false, "Print the version and exit")
	checkConfig := flag.Bool("check-config", false, "Validate configuration and the plans file, then exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version)
		return
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logrus.WithError(err).Fatal("Failed to load configuration")
	}

	logger := observability.NewLogger(cfg.Observability.LogLevel, cfg.Observability.LogFormat, os.Stdout)

	catalog, err := loadCatalog(cfg.Limits.PlansFile)
	if err != nil {
		logger.WithError(err).Fatal("Failed to load plan catalog")
	}
	if *checkConfig {
		logger.Info("Configuration is valid")
		return
	}

	if err := run(cfg, catalog, logger); err != nil {
		logger.WithError(err).Fatal("Server exited with error")
	}
}

func loadCatalog(path string) (*plans.Catalog, error) {
	if path == "" {
		return plans.DefaultCatalog(), nil
	}
	return plans.LoadCatalog(path)
}

func run(cfg *config.Config, catalog *plans.Catalog, logger *logrus.Logger) error {
	ctx := context.Background()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.Observability.OTel, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}

	db, err := openDatabase(ctx, cfg.Database)
	if err != nil {
		return err
	}

	rdb, err := openRedis(ctx, cfg.Redis)
	if err != nil {
		db.Close()
		return err
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	var dedup orgs.DedupCache
	switch cfg.Limits.DedupBackend {
	case config.DedupBackendMemory:
		dedup = orgs.NewMemoryDedupCache(cfg.Limits.MemoryDedupSize, orgs.ApproachingNotificationTTL)
		logger.Warn("Using in-process notification dedup; markers are lost on restart")
	default:
		dedup = orgs.NewRedisDedupCache(rdb)
	}

	resolver := rbac.NewResolver(rbac.NewPostgresRoleStore(db), logger, metrics)
	checker := orgs.NewChecker(
		orgs.NewPostgresLedger(db), dedup, orgs.NewLogNotifier(logger), logger,
		orgs.WithCatalog(catalog), orgs.WithMetrics(metrics),
	)
	hourly := ratelimit.NewHourlyLimiter(ratelimit.NewRedisCounterStore(rdb), catalog, logger,
		ratelimit.WithMetrics(metrics))

	throttleCfg := middleware.DefaultThrottleConfig()
	throttleCfg.RequestsPerSecond = cfg.Limits.ThrottleRPS
	throttleCfg.Burst = cfg.Limits.ThrottleBurst

	apiServer := api.NewServer(api.Deps{
		Resolver: resolver,
		Checker:  checker,
		Hourly:   hourly,
		Costs:    costs.NewTracker(rdb, nil, logger),
		Throttle: middleware.NewThrottle(throttleCfg),
		Metrics:  metrics,
		Logger:   logger,
	})

	server := &http.Server{
		Addr:         net.JoinHostPort(cfg.Server.Host, cfg.Server.Port),
		Handler:      otelhttp.NewHandler(apiServer, "tenantgate"),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	health := observability.NewHealthChecker(db, rdb, version)
	healthRouter := mux.NewRouter()
	healthRouter.HandleFunc("/health/live", health.Liveness).Methods(http.MethodGet)
	healthRouter.HandleFunc("/health/ready", health.Readiness).Methods(http.MethodGet)
	if cfg.Observability.MetricsEnabled {
		healthRouter.Handle("/metrics", observability.MetricsHandler(registry)).Methods(http.MethodGet)
	}
	healthServer := &http.Server{
		Addr:              net.JoinHostPort(cfg.Server.Host, cfg.Server.HealthPort),
		Handler:           healthRouter,
		ReadHeaderTimeout: 5 * time.Second,
	}

	shutdown := observability.NewShutdownManager(logger, server, cfg.Server.ShutdownTimeout)
	shutdown.Register("postgres", func(context.Context) error { return db.Close() })
	shutdown.Register("redis", func(context.Context) error { return rdb.Close() })
	shutdown.Register("tracing", shutdownTracing)
	shutdown.Register("health server", healthServer.Shutdown)

	errCh := make(chan error, 3)
	go serve(logger, "health", healthServer, errCh)
	go serve(logger, "api", server, errCh)

	go func() {
		if err := shutdown.WaitForSignal(); err != nil {
			logger.WithError(err).Error("Shutdown completed with errors")
		}
		errCh <- nil
	}()

	return <-errCh
}

func serve(logger logrus.FieldLogger, name string, server *http.Server, errCh chan<- error) {
	logger.WithFields(logrus.Fields{"server": name, "addr": server.Addr}).Info("Listening")
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		errCh <- fmt.Errorf("%s server: %w", name, err)
	}
}

func openDatabase(ctx context.Context, cfg config.DatabaseConfig) (*sql.DB, error) {
	db, err := sql.Open("postgres", cfg.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.MaxOpenConns)
	db.SetMaxIdleConns(cfg.MaxIdleConns)
	db.SetConnMaxLifetime(cfg.ConnMaxLifetime)

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return db, nil
}

func openRedis(ctx context.Context, cfg config.RedisConfig) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid redis URL: %w", err)
	}
	opts.PoolSize = cfg.PoolSize
	opts.MaxRetries = cfg.MaxRetries

	client := redis.NewClient(opts)
	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}
	return client, nil
}
