// Package engine wires the sync engine together from configuration and
// exposes the operations callers use: status, on-demand syncs, body fetch
// and search.
package engine

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/brandon/mailsync/internal/auth"
	"github.com/brandon/mailsync/internal/bodycache"
	"github.com/brandon/mailsync/internal/cache"
	"github.com/brandon/mailsync/internal/config"
	"github.com/brandon/mailsync/internal/coordinator"
	"github.com/brandon/mailsync/internal/email"
	"github.com/brandon/mailsync/internal/janitor"
	"github.com/brandon/mailsync/internal/lock"
	"github.com/brandon/mailsync/internal/metrics"
	"github.com/brandon/mailsync/internal/scheduler"
	"github.com/brandon/mailsync/internal/worker"
)

// Engine owns every long-lived component
type Engine struct {
	cfg    *config.Config
	logger *logrus.Logger

	db        *cache.Cache
	store     *cache.Store
	caps      *auth.Capabilities
	providers *auth.Registry
	resolver  *auth.Resolver
	rdb       *redis.Client
	redisLock *lock.Redis
	locker    lock.Locker

	syncer    *email.Synchronizer
	bodies    *bodycache.Cache
	coord     *coordinator.Coordinator
	janitor   *janitor.Janitor
	scheduler *scheduler.Scheduler
	pool      *worker.Pool

	registry *prometheus.Registry
	metrics  *metrics.Metrics
}

type options struct {
	dialer email.Dialer
	creds  email.CredentialSource
	now    func() time.Time
}

// Option customizes construction
type Option func(*options)

// WithDialer replaces the IMAP dialer
func WithDialer(d email.Dialer) Option {
	return func(o *options) { o.dialer = d }
}

// WithCredentials replaces the credential resolver handed to the sync and
// body paths
func WithCredentials(c email.CredentialSource) Option {
	return func(o *options) { o.creds = c }
}

// WithClock overrides the wall clock of every component
func WithClock(now func() time.Time) Option {
	return func(o *options) { o.now = now }
}

// New opens the cache and builds the engine. Nothing touches the network
// until Start or an operation is called.
func New(cfg *config.Config, logger *logrus.Logger, opts ...Option) (*Engine, error) {
	o := &options{}
	for _, opt := range opts {
		opt(o)
	}

	db, err := cache.NewCache(cfg.CachePath, logger)
	if err != nil {
		return nil, fmt.Errorf("failed to open cache: %w", err)
	}
	caps, err := auth.LoadCapabilities(cfg.Auth.ProvidersFile)
	if err != nil {
		db.Close()
		return nil, err
	}

	e := &Engine{
		cfg:       cfg,
		logger:    logger,
		db:        db,
		store:     cache.NewStore(db, logger),
		caps:      caps,
		providers: auth.NewRegistry(cfg.Auth),
		registry:  prometheus.NewRegistry(),
	}
	e.registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	e.metrics = metrics.New(e.registry)

	e.resolver = auth.NewResolver(e.store, e.providers, cfg.Auth.TokenSkew, logger, e.metrics)

	if cfg.Redis.Addr != "" {
		e.rdb = redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		e.redisLock = lock.NewRedis(e.rdb, cfg.Redis.LockTTL, logger)
		e.locker = e.redisLock
	} else {
		e.locker = lock.NewLocal()
	}

	dialer := o.dialer
	if dialer == nil {
		dialer = email.NewIMAPDialer(logger, nil)
	}
	var creds email.CredentialSource = e.resolver
	if o.creds != nil {
		creds = o.creds
	}

	syncOpts := []email.Option{
		email.WithBatchSize(cfg.Sync.FetchBatchSize),
		email.WithFolderTimeout(cfg.Sync.FolderTimeout),
		email.WithMetrics(e.metrics),
	}
	coordOpts := []coordinator.Option{
		coordinator.WithParallelism(cfg.Sync.Parallelism),
		coordinator.WithMetrics(e.metrics),
	}
	if o.now != nil {
		syncOpts = append(syncOpts, email.WithClock(o.now))
		coordOpts = append(coordOpts, coordinator.WithClock(o.now))
	}

	e.syncer = email.NewSynchronizer(e.store, dialer, creds, e.locker, logger, syncOpts...)
	e.bodies = bodycache.New(e.store, dialer, creds, bodycache.Config{
		AttachmentDir: cfg.AttachmentDir,
		BodyTTL:       cfg.Cache.BodyTTL,
		AttachmentTTL: cfg.Cache.AttachmentTTL,
		PrefetchCount: cfg.Cache.PrefetchCount,
		PrefetchDelay: cfg.Cache.PrefetchDelay,
	}, logger, e.metrics)
	coordOpts = append(coordOpts, coordinator.WithPrefetcher(e.bodies))
	e.coord = coordinator.New(e.store, e.store, e.syncer, caps, logger, coordOpts...)
	e.janitor = janitor.New(e.store, cfg.Cache.LogRetention, logger, e.metrics)

	if o.now != nil {
		e.store.SetClock(o.now)
		e.resolver.SetClock(o.now)
		e.bodies.SetClock(o.now)
		e.janitor.SetClock(o.now)
	}

	e.scheduler, err = scheduler.New(e.coord, e.janitor, scheduler.Config{
		QuickInterval:   cfg.Sync.QuickInterval,
		QuickLimit:      cfg.Sync.QuickLimit,
		DeepInterval:    cfg.Sync.DeepInterval,
		DeepLimit:       cfg.Sync.DeepLimit,
		CleanupSchedule: cfg.Sync.CleanupSchedule,
		OnStart:         cfg.Sync.OnStart,
	}, logger)
	if err != nil {
		db.Close()
		return nil, err
	}

	e.pool = worker.NewPool(cfg.Worker.Count, cfg.Worker.QueueSize, logger, e.metrics)
	return e, nil
}

// Prepare readies the cache for work: stale in-progress flags left by a
// crash are cleared and configured accounts are seeded
func (e *Engine) Prepare(ctx context.Context) error {
	if e.redisLock != nil {
		if err := e.redisLock.Ping(ctx); err != nil {
			return fmt.Errorf("redis lock unavailable: %w", err)
		}
	}

	n, err := e.store.ResetStuckSyncs(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		e.logger.WithField("folders", n).Warn("Cleared stale in-progress flags")
	}

	if _, err := e.SeedAccounts(ctx); err != nil {
		return err
	}
	return nil
}

// Start prepares the cache and starts the scheduler
func (e *Engine) Start(ctx context.Context) error {
	if err := e.Prepare(ctx); err != nil {
		return err
	}
	e.scheduler.Start()
	return nil
}

// Close stops the scheduler and the worker pool, then closes connections.
// Work still running when ctx ends is cancelled.
func (e *Engine) Close(ctx context.Context) error {
	var errs []error
	if err := e.scheduler.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("scheduler: %w", err))
	}
	if err := e.pool.Stop(ctx); err != nil {
		errs = append(errs, fmt.Errorf("worker pool: %w", err))
	}
	if e.rdb != nil {
		if err := e.rdb.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis: %w", err))
		}
	}
	if err := e.db.Close(); err != nil {
		errs = append(errs, fmt.Errorf("cache: %w", err))
	}
	return errors.Join(errs...)
}

// MetricsHandler serves the engine's Prometheus registry
func (e *Engine) MetricsHandler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}

// Cleanup runs one cache sweep now
func (e *Engine) Cleanup(ctx context.Context) (*janitor.Report, error) {
	return e.janitor.Run(ctx)
}
