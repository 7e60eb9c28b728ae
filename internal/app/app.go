// Package app provides application initialization and lifecycle management.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"sync"
	"time"

	"github.com/bissquit/job-alerts/api/openapi"
	"github.com/bissquit/job-alerts/internal/admin"
	"github.com/bissquit/job-alerts/internal/auth"
	"github.com/bissquit/job-alerts/internal/config"
	dedupredis "github.com/bissquit/job-alerts/internal/dedup/redis"
	"github.com/bissquit/job-alerts/internal/digest"
	digestredis "github.com/bissquit/job-alerts/internal/digest/redis"
	"github.com/bissquit/job-alerts/internal/domain"
	gatewayredis "github.com/bissquit/job-alerts/internal/gateway/redis"
	"github.com/bissquit/job-alerts/internal/index"
	indexredis "github.com/bissquit/job-alerts/internal/index/redis"
	"github.com/bissquit/job-alerts/internal/jobfeed"
	jobfeedpostgres "github.com/bissquit/job-alerts/internal/jobfeed/postgres"
	"github.com/bissquit/job-alerts/internal/matches"
	matchespostgres "github.com/bissquit/job-alerts/internal/matches/postgres"
	"github.com/bissquit/job-alerts/internal/matching"
	"github.com/bissquit/job-alerts/internal/pkg/ctxlog"
	"github.com/bissquit/job-alerts/internal/pkg/httputil"
	"github.com/bissquit/job-alerts/internal/pkg/metrics"
	"github.com/bissquit/job-alerts/internal/pkg/postgres"
	redisutil "github.com/bissquit/job-alerts/internal/pkg/redis"
	"github.com/bissquit/job-alerts/internal/subscriptions"
	subscriptionspostgres "github.com/bissquit/job-alerts/internal/subscriptions/postgres"
	"github.com/bissquit/job-alerts/internal/version"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
)

// App represents the application instance.
type App struct {
	config        *config.Config
	logger        *slog.Logger
	db            *pgxpool.Pool
	redis         *redis.Client
	server        *http.Server
	metricsServer *http.Server
	metricsCancel context.CancelFunc
	workersCancel context.CancelFunc

	subscriptions *subscriptions.Service
	keywords      *indexredis.Index
	rebuilder     *index.Rebuilder
	aggregator    *digest.Aggregator
	listener      *jobfeed.Listener
	scheduler     *digest.Scheduler
	tokens        *auth.Tokens
}

// New creates a new application instance. Background workers are started
// by Start.
func New(cfg *config.Config) (*App, error) {
	logger := initLogger(cfg.Log)
	slog.SetDefault(logger)

	connectCtx, connectCancel := context.WithTimeout(context.Background(), cfg.Database.ConnectTimeout)
	defer connectCancel()

	db, err := postgres.Connect(connectCtx, postgres.Config{
		URL:             cfg.Database.URL,
		MaxOpenConns:    cfg.Database.MaxOpenConns,
		MaxIdleConns:    cfg.Database.MaxIdleConns,
		ConnMaxLifetime: cfg.Database.ConnMaxLifetime,
		ConnectAttempts: cfg.Database.ConnectAttempts,
	})
	if err != nil {
		return nil, fmt.Errorf("connect to database: %w", err)
	}

	rdb, err := redisutil.Connect(connectCtx, redisutil.Config{
		URL:             cfg.Redis.URL,
		PoolSize:        cfg.Redis.PoolSize,
		ConnectAttempts: cfg.Redis.ConnectAttempts,
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}

	metricsCtx, metricsCancel := context.WithCancel(context.Background())

	app := &App{
		config:        cfg,
		logger:        logger,
		db:            db,
		redis:         rdb,
		metricsCancel: metricsCancel,
		workersCancel: func() {},
	}

	if err := app.wire(); err != nil {
		app.Close()
		return nil, err
	}

	go app.collectPoolMetrics(metricsCtx)

	app.server = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.Port),
		Handler:           app.setupRouter(),
		ReadTimeout:       cfg.Server.ReadTimeout,
		ReadHeaderTimeout: cfg.Server.ReadHeaderTimeout,
		WriteTimeout:      cfg.Server.WriteTimeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
	}

	// Metrics server on separate port
	metricsRouter := chi.NewRouter()
	metricsRouter.Handle("/metrics", promhttp.Handler())

	app.metricsServer = &http.Server{
		Addr:              fmt.Sprintf("%s:%s", cfg.Server.Host, cfg.Server.MetricsPort),
		Handler:           metricsRouter,
		ReadTimeout:       5 * time.Second,
		ReadHeaderTimeout: 2 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	return app, nil
}

// wire builds the domain components on top of the connection pools.
func (a *App) wire() error {
	cfg := a.config

	location, err := time.LoadLocation(cfg.Digest.Timezone)
	if err != nil {
		return fmt.Errorf("load digest timezone: %w", err)
	}

	subsRepo := subscriptionspostgres.NewRepository(a.db)
	matchesRepo := matchespostgres.NewRepository(a.db)
	a.keywords = indexredis.NewIndex(a.redis, cfg.Redis.KeyPrefix)

	maintainer := subscriptions.NewMaintainer(a.keywords, subsRepo, cfg.Redis.IndexTimeout)
	a.subscriptions = subscriptions.NewService(subsRepo, maintainer, subscriptions.ServiceConfig{
		MaxActive:        cfg.Subscriptions.MaxActive,
		MinKeywordLength: cfg.Matching.MinKeywordLength,
	})
	a.rebuilder = index.NewRebuilder(subsRepo, a.keywords)

	scorer := matching.NewScorer(matching.Config{
		Weights: matching.Weights{
			Title:       cfg.Matching.TitleWeight,
			Skill:       cfg.Matching.SkillWeight,
			Description: cfg.Matching.DescriptionWeight,
			Filter:      cfg.Matching.FilterWeight,
			Category:    cfg.Matching.CategoryWeight,
		},
		Threshold: cfg.Matching.Threshold,
	})
	writer := matches.NewWriter(
		a.keywords,
		subsRepo,
		dedupredis.NewCache(a.redis, cfg.Redis.KeyPrefix, cfg.Dedup.TTL),
		matchesRepo,
		scorer,
		matches.Config{
			Keywords: matching.KeywordConfig{
				DescriptionWords: cfg.Matching.DescriptionWords,
				MinLength:        cfg.Matching.MinKeywordLength,
			},
			TTL: cfg.PendingMatches.TTL,
		},
	)

	feed := jobfeedpostgres.NewFeed(a.db)
	jobs := jobfeedpostgres.NewJobs(a.db)

	if cfg.Feed.Enabled {
		a.listener = jobfeed.NewListener(jobfeed.Config{
			Consumer:         cfg.Feed.Consumer,
			BatchSize:        cfg.Feed.BatchSize,
			PollInterval:     cfg.Feed.PollInterval,
			ReconnectBackoff: cfg.Feed.ReconnectBackoff,
		}, feed, jobs, writer)
	}

	publisher := gatewayredis.NewPublisher(a.redis, gatewayredis.Config{
		StreamPrefix: cfg.Gateway.StreamPrefix,
		MaxLen:       cfg.Gateway.MaxLen,
		RateLimit:    cfg.Gateway.RateLimit,
		RateBurst:    cfg.Gateway.RateBurst,
	})

	a.aggregator = digest.NewAggregator(
		subsRepo,
		matchesRepo,
		jobs,
		publisher,
		digestredis.NewLocker(a.redis, cfg.Redis.KeyPrefix),
		digest.Config{
			MaxJobs: cfg.Digest.MaxJobs,
			RoutingKeys: map[domain.Frequency]string{
				domain.FrequencyDaily:  cfg.Digest.DailyRoutingKey,
				domain.FrequencyWeekly: cfg.Digest.WeeklyRoutingKey,
			},
			LockTTL: cfg.Digest.LockTTL,
		},
	)

	purger := matches.NewPurger(matchesRepo)
	feedRetention := cfg.PendingMatches.TTL

	var runner digest.Runner
	if cfg.Digest.Enabled {
		runner = a.aggregator
	}
	a.scheduler = digest.NewScheduler(
		digest.ScheduleConfig{
			Location:      location,
			DailyHour:     cfg.Digest.DailyHour,
			WeeklyDay:     time.Weekday(cfg.Digest.WeeklyDay),
			WeeklyHour:    cfg.Digest.WeeklyHour,
			PurgeSchedule: cfg.PendingMatches.PurgeSchedule,
		},
		runner,
		digest.Task{Name: "purge_pending_matches", Fn: func(ctx context.Context) error {
			_, err := purger.Purge(ctx)
			return err
		}},
		digest.Task{Name: "trim_job_changes", Fn: func(ctx context.Context) error {
			n, err := feed.Trim(ctx, time.Now().Add(-feedRetention))
			if err == nil && n > 0 {
				slog.Info("job change feed trimmed", "count", n)
			}
			return err
		}},
	)

	a.tokens = auth.NewTokens(cfg.JWT.SecretKey, cfg.JWT.Issuer)

	return nil
}

// Start verifies the change feed and launches the listener and the
// scheduler. ctx is the lifetime of the workers; Shutdown also stops them.
func (a *App) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	a.workersCancel = cancel

	if a.config.Index.RebuildOnStart {
		if _, err := a.rebuilder.Rebuild(ctx); err != nil {
			// the maintainer keeps serving writes; the next rebuild repairs drift
			a.logger.Error("startup index rebuild failed", "error", err)
		}
	}

	if a.listener != nil {
		checkCtx, checkCancel := context.WithTimeout(ctx, 10*time.Second)
		defer checkCancel()
		if err := a.listener.Check(checkCtx); err != nil {
			return err
		}
		a.listener.Start(ctx)
	} else {
		a.logger.Warn("job change listener is disabled: no matches will be produced")
	}

	if err := a.scheduler.Start(ctx); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	return nil
}

// Run starts the background workers and the HTTP servers.
func (a *App) Run() error {
	if err := a.Start(context.Background()); err != nil {
		return err
	}

	// Start metrics server in background
	go func() {
		a.logger.Info("starting metrics server",
			"host", a.config.Server.Host,
			"port", a.config.Server.MetricsPort,
		)
		if err := a.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			a.logger.Error("metrics server error", "error", err)
		}
	}()

	a.logger.Info("starting server",
		"host", a.config.Server.Host,
		"port", a.config.Server.Port,
	)

	if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server error: %w", err)
	}

	return nil
}

// Shutdown gracefully shuts down the application: it drains the listener
// and the scheduler, stops both servers and closes the pools.
func (a *App) Shutdown(ctx context.Context) error {
	a.logger.Info("shutting down")

	a.metricsCancel()

	if a.listener != nil {
		a.listener.Stop()
	}
	a.scheduler.Stop()
	a.workersCancel()

	// Shutdown both servers in parallel
	var wg sync.WaitGroup
	var errs []error
	var mu sync.Mutex

	wg.Add(2)

	go func() {
		defer wg.Done()
		if err := a.server.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown server: %w", err))
			mu.Unlock()
		}
	}()

	go func() {
		defer wg.Done()
		if err := a.metricsServer.Shutdown(ctx); err != nil {
			mu.Lock()
			errs = append(errs, fmt.Errorf("shutdown metrics server: %w", err))
			mu.Unlock()
		}
	}()

	wg.Wait()

	a.Close()

	return errors.Join(errs...)
}

// Close releases the connection pools of an app that was never started.
func (a *App) Close() {
	a.metricsCancel()
	if err := a.redis.Close(); err != nil {
		a.logger.Error("failed to close redis client", "error", err)
	}
	a.db.Close()
}

// RebuildIndex rebuilds the keyword index from the subscription store.
func (a *App) RebuildIndex(ctx context.Context) (*index.RebuildResult, error) {
	return a.rebuilder.Rebuild(ctx)
}

// RunDigest runs one digest cycle for freq.
func (a *App) RunDigest(ctx context.Context, freq domain.Frequency) (*digest.RunResult, error) {
	return a.aggregator.Run(ctx, freq)
}

// Router returns the HTTP handler for testing.
func (a *App) Router() http.Handler {
	return a.server.Handler
}

func (a *App) collectPoolMetrics(ctx context.Context) {
	// Collect immediately on start
	metrics.RecordDBPoolMetrics(a.db)
	metrics.RecordRedisPoolMetrics(a.redis)

	ticker := time.NewTicker(15 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			metrics.RecordDBPoolMetrics(a.db)
			metrics.RecordRedisPoolMetrics(a.redis)
		case <-ctx.Done():
			return
		}
	}
}

func (a *App) setupRouter() *chi.Mux {
	r := chi.NewRouter()

	// Metrics middleware must be first to measure full request time
	r.Use(httputil.MetricsMiddleware)
	r.Use(middleware.RequestID)
	r.Use(httputil.RequestLoggerMiddleware(a.logger))
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(60 * time.Second))

	r.Get("/healthz", a.healthzHandler)
	r.Get("/readyz", a.readyzHandler)
	r.Get("/version", a.versionHandler)

	r.Get("/api/openapi.yaml", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/x-yaml")
		_, _ = w.Write(openapi.Spec)
	})

	// a nil *Listener must not become a non-nil interface
	var feedStatus admin.FeedStatus
	if a.listener != nil {
		feedStatus = a.listener
	}

	subscriptionsHandler := subscriptions.NewHandler(a.subscriptions)
	adminHandler := admin.NewHandler(a.rebuilder, a.keywords, a.aggregator, feedStatus)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(httputil.AuthMiddleware(a.tokens))

		r.Route("/internal", func(r chi.Router) {
			r.Use(httputil.RequireRole(httputil.RoleService, httputil.RoleAdmin))
			subscriptionsHandler.RegisterRoutes(r)
		})

		r.Route("/admin", func(r chi.Router) {
			r.Use(httputil.RequireRole(httputil.RoleAdmin))
			adminHandler.RegisterRoutes(r)
		})
	})

	return r
}

func (a *App) healthzHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) readyzHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	if err := a.db.Ping(ctx); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "postgres", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Database unavailable")
		return
	}

	if err := a.redis.Ping(ctx).Err(); err != nil {
		ctxlog.FromContext(r.Context()).Error("readiness check failed", "dependency", "redis", "error", err)
		httputil.Text(w, http.StatusServiceUnavailable, "Redis unavailable")
		return
	}

	httputil.Text(w, http.StatusOK, "OK")
}

func (a *App) versionHandler(w http.ResponseWriter, _ *http.Request) {
	httputil.JSON(w, http.StatusOK, version.Info())
}

func initLogger(cfg config.LogConfig) *slog.Logger {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var handler slog.Handler
	opts := &slog.HandlerOptions{Level: level}

	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	return slog.New(handler)
}
