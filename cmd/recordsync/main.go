// Package main is the entry point of recordsync: it loads every record section
// from the records API into the entity cache, serves the local sections API
// and keeps the cache fresh with a background prefetch.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/schooladmin/recordsync/config"
	"github.com/schooladmin/recordsync/internal/application/cache"
	"github.com/schooladmin/recordsync/internal/application/crud"
	"github.com/schooladmin/recordsync/internal/application/query"
	"github.com/schooladmin/recordsync/internal/application/refindex"
	"github.com/schooladmin/recordsync/internal/infrastructure/external/restapi"
	"github.com/schooladmin/recordsync/internal/infrastructure/metrics"
	"github.com/schooladmin/recordsync/internal/infrastructure/persistence/postgres"
	"github.com/schooladmin/recordsync/internal/infrastructure/persistence/redis"
	"github.com/schooladmin/recordsync/internal/infrastructure/scheduler"
	"github.com/schooladmin/recordsync/internal/infrastructure/scheduler/jobs"
	httpapi "github.com/schooladmin/recordsync/internal/interface/http"
	"github.com/schooladmin/recordsync/internal/interface/http/handlers"
	"github.com/schooladmin/recordsync/pkg/circuitbreaker"
	"github.com/schooladmin/recordsync/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "fatal error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	// ─────────────────────────────────────────────────────────────────────────
	// 1. CONFIGURATION AND LOGGING
	// ─────────────────────────────────────────────────────────────────────────
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logOpts := logger.DefaultOptions()
	logOpts.Level = logger.ParseLevel(cfg.Observability.LogLevel)
	logOpts.Format = cfg.Observability.LogFormat
	if cfg.App.Debug {
		logOpts.Level = logger.LevelDebug
	}
	log := logger.New(logOpts).With(logger.String("app", cfg.App.Name))
	defer func() { _ = log.Sync() }()

	log.Info("starting recordsync",
		logger.String("env", string(cfg.App.Environment)),
		logger.String("version", cfg.App.Version),
		logger.String("remote", cfg.Remote.BaseURL),
		logger.Any("features", cfg.Features.Enabled()),
	)

	// ─────────────────────────────────────────────────────────────────────────
	// 2. METRICS
	// ─────────────────────────────────────────────────────────────────────────
	m := metrics.New(metrics.DefaultConfig())

	// ─────────────────────────────────────────────────────────────────────────
	// 3. RECORDS API CLIENT
	// ─────────────────────────────────────────────────────────────────────────
	var breaker *circuitbreaker.CircuitBreaker
	if cfg.Remote.CircuitBreakerThreshold > 0 {
		breaker = circuitbreaker.RemoteAPIBreaker(
			cfg.Remote.CircuitBreakerThreshold,
			cfg.Remote.CircuitBreakerTimeout,
			restapi.CountsAsOutage,
			func(name string, from, to circuitbreaker.State) {
				m.ObserveBreaker(name, from, to)
				log.Warn("circuit breaker state changed",
					logger.String("breaker", name),
					logger.String("from", from.String()),
					logger.String("to", to.String()),
				)
			},
		)
	}

	clientCfg := restapi.DefaultClientConfig(cfg.Remote.BaseURL)
	clientCfg.Timeout = cfg.Remote.RequestTimeout
	clientCfg.RateLimit = cfg.Remote.RateLimit
	clientCfg.Burst = cfg.Remote.RateLimitBurst
	clientCfg.Breaker = breaker
	clientCfg.Observer = m
	clientCfg.Logger = log
	client := restapi.NewClient(clientCfg)

	// ─────────────────────────────────────────────────────────────────────────
	// 4. CACHE, REFERENCE INDEX AND SEARCH
	// ─────────────────────────────────────────────────────────────────────────
	entities := cache.New(client, cache.WithLogger(log), cache.WithLoadHook(m.ObserveLoad))
	entities.OnReplace(m.ObserveSnapshot)
	refs := refindex.New(entities, refindex.WithLogger(log), refindex.WithCheckHook(m.ObserveCheck))
	search := query.NewSearchHandler(entities)

	health := handlers.NewHealthChecker(cfg.App.Version)
	if breaker != nil {
		health.AddCheck("records_api", handlers.NewBreakerCheck(func() bool {
			return breaker.State() == circuitbreaker.StateOpen
		}))
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 5. WRITE JOURNAL (PostgreSQL, optional)
	// ─────────────────────────────────────────────────────────────────────────
	orchOpts := []crud.Option{crud.WithLogger(log)}
	var journal *postgres.Journal

	if cfg.Features.IsEnabled(config.FeatureWriteJournal) && cfg.Database.URL != "" {
		pgCfg := postgres.DefaultConfig()
		pgCfg.URL = cfg.Database.URL
		pgCfg.MaxConns = int32(cfg.Database.MaxOpenConns)
		pgCfg.MinConns = int32(cfg.Database.MaxIdleConns)
		pgCfg.MaxConnLifetime = cfg.Database.ConnMaxLifetime

		conn, err := postgres.NewConnection(ctx, pgCfg)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		defer conn.Close()

		if err := postgres.NewMigrator(conn).Migrate(ctx); err != nil {
			return fmt.Errorf("failed to run migrations: %w", err)
		}

		journal = postgres.NewJournal(conn,
			postgres.WithLogger(log),
			postgres.WithQueryTimeout(cfg.Database.QueryTimeout),
		)
		orchOpts = append(orchOpts, crud.WithJournal(journal))
		health.AddCheck("database", handlers.NewPingCheck(conn))
		log.Info("write journal enabled")
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 6. CHANGE BROADCAST (Redis, optional)
	// ─────────────────────────────────────────────────────────────────────────
	var broadcaster *redis.Broadcaster

	if cfg.Features.IsEnabled(config.FeatureChangeBroadcast) && !cfg.Redis.Disabled {
		rc, err := redis.NewClient(ctx, redis.Config{
			URL:          cfg.Redis.URL,
			Host:         cfg.Redis.Host,
			Port:         cfg.Redis.Port,
			Password:     cfg.Redis.Password,
			DB:           cfg.Redis.DB,
			DialTimeout:  cfg.Redis.DialTimeout,
			ReadTimeout:  cfg.Redis.ReadTimeout,
			WriteTimeout: cfg.Redis.WriteTimeout,
		})
		if err != nil {
			log.Warn("failed to connect to Redis, change broadcast disabled", logger.Err(err))
		} else {
			defer rc.Close()
			broadcaster = redis.NewBroadcaster(rc, redis.WithChannel(cfg.Redis.Channel), redis.WithLogger(log))
			orchOpts = append(orchOpts, crud.WithNotifier(broadcaster))
			health.AddCheck("redis", handlers.NewPingCheck(redisPinger{rc}))
			log.Info("change broadcast enabled", logger.String("origin", broadcaster.Origin().String()))
		}
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 7. CRUD PIPELINE
	// ─────────────────────────────────────────────────────────────────────────
	orch := crud.New(client, entities, refs, orchOpts...)
	editor := crud.NewRowEditor(orch, entities)
	entities.OnReplace(editor.Reset)

	// ─────────────────────────────────────────────────────────────────────────
	// 8. BACKGROUND WORK
	// ─────────────────────────────────────────────────────────────────────────
	sched := scheduler.New(scheduler.Config{Logger: log})
	if cfg.Scheduler.Enabled {
		prefetchCfg := jobs.DefaultPrefetchConfig()
		prefetchCfg.KindTimeout = cfg.Scheduler.JobTimeout
		prefetch := jobs.NewPrefetchJob(entities, prefetchCfg,
			jobs.WithLogger(log),
			jobs.WithOutcomeHook(m.ObservePrefetch),
		)
		if err := sched.Register(prefetch, scheduler.Every(cfg.Scheduler.PrefetchInterval), true); err != nil {
			return fmt.Errorf("failed to register prefetch job: %w", err)
		}
		if err := sched.Start(ctx); err != nil {
			return fmt.Errorf("failed to start scheduler: %w", err)
		}
	}

	if broadcaster != nil {
		go func() {
			err := broadcaster.Subscribe(ctx, redis.ReloadHandler(entities, log))
			if err != nil && !errors.Is(err, context.Canceled) {
				log.Error("change subscription ended", logger.Err(err))
			}
		}()
	}

	// ─────────────────────────────────────────────────────────────────────────
	// 9. HTTP SERVER
	// ─────────────────────────────────────────────────────────────────────────
	deps := httpapi.Dependencies{
		Writer:   orch,
		Searcher: search,
		Reloader: entities,
		Editor:   editor,
		Features: cfg.Features,
		Health:   health,
		Logger:   log,
	}
	if journal != nil {
		deps.Journal = journal
	}
	if cfg.Observability.MetricsEnabled {
		deps.Metrics = m.Handler()
	}

	server := httpapi.NewServer(httpapi.Config{
		Addr:           cfg.HTTP.Addr,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxUploadBytes: cfg.Remote.MaxUploadBytes,
	}, deps)
	serverErr := server.StartAsync()

	// ─────────────────────────────────────────────────────────────────────────
	// 10. GRACEFUL SHUTDOWN
	// ─────────────────────────────────────────────────────────────────────────
	select {
	case <-ctx.Done():
		log.Info("received shutdown signal")
	case err := <-serverErr:
		if err != nil {
			return err
		}
	}

	shutdownStart := time.Now()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.App.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", logger.Err(err))
	}
	if sched.IsRunning() {
		_ = sched.Stop()
	}

	log.Info("shutdown completed", logger.Duration("took", time.Since(shutdownStart)))
	return nil
}

// redisPinger adapts the Redis client to the health check's Pinger.
type redisPinger struct{ c *goredis.Client }

func (p redisPinger) Ping(ctx context.Context) error { return p.c.Ping(ctx).Err() }
