package app

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"github.com/upb/audit-collector/auth"
	"github.com/upb/audit-collector/config"
	"github.com/upb/audit-collector/internal/observability"
	"github.com/upb/audit-collector/middleware"
	"github.com/upb/audit-collector/models"
	"github.com/upb/audit-collector/repositories"
	"github.com/upb/audit-collector/repositories/memory"
	"github.com/upb/audit-collector/repositories/postgres"
	"github.com/upb/audit-collector/services/cmdb"
	"github.com/upb/audit-collector/services/collector"
	"github.com/upb/audit-collector/services/evaluator"
	"github.com/upb/audit-collector/services/lock"
	"github.com/upb/audit-collector/services/refresher"
	"github.com/upb/audit-collector/services/scheduler"
	"go.uber.org/zap"
)

// Dependencies holds all application dependencies.
// This is the central wiring point for dependency injection.
type Dependencies struct {
	// Infrastructure
	Config *config.Config
	Logger *zap.Logger

	// Store, exactly one of RepoFactory and MemoryStore is set
	RepoFactory *postgres.RepositoryFactory
	DB          *postgres.DB
	MemoryStore *memory.Store

	Repositories *repositories.Repositories
	TxManager    repositories.TransactionManager

	// Refresh locking
	Redis  *redis.Client
	Locker lock.Locker

	// Collector
	Cmdb      *cmdb.CachedRepository
	Evaluator evaluator.Evaluator
	Refresher *refresher.Refresher
	Runner    *collector.Runner
	Scheduler *scheduler.Scheduler

	// Observability
	Registry *prometheus.Registry
	Metrics  observability.Metrics

	// Auth
	TokenValidator *auth.HMACValidator
	AuthMiddleware *middleware.AuthMiddleware
}

// Option customizes NewDependencies
type Option func(*options)

type options struct {
	evaluator evaluator.Evaluator
	store     *memory.Store
	db        *postgres.DB
}

// WithEvaluator replaces the audit API client
func WithEvaluator(e evaluator.Evaluator) Option {
	return func(o *options) { o.evaluator = e }
}

// WithMemoryStore uses store instead of a fresh one when STORE_DRIVER=memory
func WithMemoryStore(store *memory.Store) Option {
	return func(o *options) { o.store = store }
}

// WithDB uses an already opened pool when STORE_DRIVER=postgres
func WithDB(db *postgres.DB) Option {
	return func(o *options) { o.db = db }
}

// NewDependencies creates and wires up all application dependencies.
func NewDependencies(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) (*Dependencies, error) {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{
		Config: cfg,
		Logger: logger,
	}

	if err := deps.initStore(ctx, cfg, o); err != nil {
		return nil, fmt.Errorf("failed to initialize store: %w", err)
	}

	if err := deps.initLocker(ctx, cfg); err != nil {
		_ = deps.closeStore()
		return nil, fmt.Errorf("failed to initialize refresh lock: %w", err)
	}

	deps.initMetrics(cfg)

	if err := deps.initCollector(ctx, cfg, o.evaluator); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize collector: %w", err)
	}

	if err := deps.initAuth(cfg); err != nil {
		_ = deps.Close(ctx)
		return nil, fmt.Errorf("failed to initialize auth: %w", err)
	}

	logger.Info("all dependencies initialized successfully",
		zap.String("store", cfg.StoreDriver),
		zap.Bool("redis_lock", deps.Redis != nil),
		zap.Bool("metrics", cfg.Observability.MetricsEnabled),
		zap.Bool("auth", deps.TokenValidator != nil))
	return deps, nil
}

// initStore opens PostgreSQL or the in-memory store
func (d *Dependencies) initStore(ctx context.Context, cfg *config.Config, o options) error {
	if cfg.StoreDriver == config.StoreDriverMemory {
		store := o.store
		if store == nil {
			store = memory.NewStore()
		}
		d.MemoryStore = store
		d.Repositories = store.Repositories()
		d.TxManager = store.TransactionManager()
		d.Logger.Warn("using the in-memory store, results are lost on restart")
		return nil
	}

	var factory *postgres.RepositoryFactory
	if o.db != nil {
		factory = postgres.NewRepositoryFactoryFromDB(o.db, d.Logger)
	} else {
		var err error
		factory, err = postgres.NewRepositoryFactory(cfg, d.Logger)
		if err != nil {
			return fmt.Errorf("failed to create repository factory: %w", err)
		}
	}

	d.RepoFactory = factory
	d.DB = factory.GetDB()

	if err := d.DB.PingContext(ctx); err != nil {
		_ = factory.Close()
		return fmt.Errorf("database ping failed: %w", err)
	}

	d.Repositories = factory.NewRepositories()
	d.TxManager = factory.GetTransactionManager()

	d.Logger.Info("repositories initialized",
		zap.String("connection", cfg.Database.LogString()))
	return nil
}

// initLocker builds the per-dashboard refresh lock. The process-local mutex is
// always taken first; Redis extends it across replicas when configured.
func (d *Dependencies) initLocker(ctx context.Context, cfg *config.Config) error {
	keyed := lock.NewKeyedMutex()
	if !cfg.Redis.Enabled() {
		d.Locker = keyed
		return nil
	}

	client, err := lock.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
	if err != nil {
		return err
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return fmt.Errorf("redis ping failed: %w", err)
	}

	d.Redis = client
	d.Locker = lock.Chain{
		keyed,
		lock.NewRedisLocker(client, lock.RedisOptions{TTL: cfg.Redis.LockTTL}, d.Logger),
	}
	d.Logger.Info("redis refresh lock enabled", zap.String("addr", cfg.Redis.Addr))
	return nil
}

// initMetrics creates the registry served on /metrics
func (d *Dependencies) initMetrics(cfg *config.Config) {
	if !cfg.Observability.MetricsEnabled {
		d.Metrics = observability.NopMetrics{}
		return
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	d.Registry = reg
	d.Metrics = observability.NewPrometheusMetrics(reg)
}

// initCollector wires the evaluator, refresher, runner and scheduler
func (d *Dependencies) initCollector(ctx context.Context, cfg *config.Config, ev evaluator.Evaluator) error {
	if ev == nil {
		servers := cfg.Collector.TargetSources
		if len(servers) == 0 {
			servers = []string{cfg.Evaluator.BaseURL}
		}
		client, err := evaluator.NewHTTPEvaluator(evaluator.Config{
			Servers:    servers,
			Token:      cfg.Evaluator.Token,
			Timeout:    cfg.Evaluator.Timeout,
			MaxRetries: cfg.Evaluator.MaxRetries,
		}, d.Logger.Named("evaluator"))
		if err != nil {
			return err
		}
		ev = client
	}
	d.Evaluator = ev

	d.Cmdb = cmdb.NewCachedRepository(d.Repositories.Cmdb, cfg.Cmdb.CacheSize, cfg.Cmdb.CacheTTL)
	d.Refresher = refresher.New(d.TxManager, d.Repositories.AuditResults, d.Locker, d.Logger.Named("refresher"))

	d.Runner = collector.NewRunner(collector.Options{
		Name:          cfg.Collector.Name,
		DashboardType: models.DashboardType(cfg.Collector.DashboardType),
		LookbackDays:  cfg.Collector.LookbackDays,
		Schedule:      cfg.Collector.Schedule,
		Workers:       cfg.Collector.Workers,
		EntityTimeout: cfg.Collector.EntityTimeout,
		TargetSources: cfg.Collector.TargetSources,
	}, collector.Dependencies{
		Dashboards: d.Repositories.Dashboards,
		Collectors: d.Repositories.Collectors,
		Evaluator:  d.Evaluator,
		Refresher:  d.Refresher,
		Cmdb:       cmdb.NewResolver(d.Cmdb, d.Logger.Named("cmdb")),
		Metrics:    d.Metrics,
		Logger:     d.Logger,
	})

	// the schedule is fixed for the life of the process
	settings, err := d.Runner.ResolveSettings(ctx)
	if err != nil {
		return err
	}
	sched, err := scheduler.New(settings.Schedule, d.Runner, d.Logger.Named("scheduler"))
	if err != nil {
		return err
	}
	d.Scheduler = sched
	return nil
}

// initAuth configures bearer token validation for the ops API. Without a secret
// every protected route answers 401.
func (d *Dependencies) initAuth(cfg *config.Config) error {
	if cfg.Auth.JWTSecret == "" {
		d.Logger.Warn("AUTH_JWT_SECRET not set, manual run trigger disabled")
		d.AuthMiddleware = middleware.NewAuthMiddleware(nil, d.Logger)
		return nil
	}

	validator, err := NewTokenValidator(cfg)
	if err != nil {
		return err
	}
	d.TokenValidator = validator
	d.AuthMiddleware = middleware.NewAuthMiddleware(validator, d.Logger)
	return nil
}

// NewTokenValidator builds the HMAC validator for the configured secret
func NewTokenValidator(cfg *config.Config) (*auth.HMACValidator, error) {
	return auth.NewHMACValidator(auth.Config{
		Secret: cfg.Auth.JWTSecret,
		Issuer: cfg.Auth.Issuer,
		Leeway: 30 * time.Second,
	})
}

// InitStoreSchema opens only the store and creates the collector tables. It
// needs none of the tables to exist, unlike NewDependencies which reads the
// collector settings.
func InitStoreSchema(ctx context.Context, cfg *config.Config, logger *zap.Logger, opts ...Option) error {
	var o options
	for _, opt := range opts {
		opt(&o)
	}

	deps := &Dependencies{Config: cfg, Logger: logger}
	if err := deps.initStore(ctx, cfg, o); err != nil {
		return fmt.Errorf("failed to initialize store: %w", err)
	}

	err := deps.InitSchema(ctx)
	if closeErr := deps.closeStore(); closeErr != nil && err == nil {
		err = fmt.Errorf("failed to close database: %w", closeErr)
	}
	return err
}

// InitSchema creates the collector tables. It is a no-op for the memory store.
func (d *Dependencies) InitSchema(ctx context.Context) error {
	if d.RepoFactory == nil {
		d.Logger.Info("memory store needs no schema")
		return nil
	}
	if err := d.RepoFactory.InitSchema(ctx); err != nil {
		return fmt.Errorf("failed to initialize schema: %w", err)
	}
	d.Logger.Info("database schema initialized")
	return nil
}

func (d *Dependencies) closeStore() error {
	if d.RepoFactory == nil {
		return nil
	}
	err := d.RepoFactory.Close()
	d.RepoFactory = nil
	return err
}

// Close gracefully shuts down all dependencies
func (d *Dependencies) Close(ctx context.Context) error {
	d.Logger.Info("shutting down dependencies")

	var errs []error

	if d.Scheduler != nil {
		if err := d.Scheduler.Stop(ctx); err != nil {
			errs = append(errs, fmt.Errorf("failed to stop scheduler: %w", err))
		}
	}

	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close redis: %w", err))
		}
		d.Redis = nil
	}

	if err := d.closeStore(); err != nil {
		errs = append(errs, fmt.Errorf("failed to close database: %w", err))
	} else {
		d.Logger.Info("store closed")
	}

	// Sync logger
	_ = d.Logger.Sync()

	if len(errs) > 0 {
		return fmt.Errorf("errors during shutdown: %v", errs)
	}

	return nil
}
