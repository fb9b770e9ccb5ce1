package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/estrateji/satchel/internal/actionqueue"
	"github.com/estrateji/satchel/internal/adapter"
	"github.com/estrateji/satchel/internal/api"
	"github.com/estrateji/satchel/internal/boundary"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/downloads"
	"github.com/estrateji/satchel/internal/metrics"
	"github.com/estrateji/satchel/internal/modcache"
	"github.com/estrateji/satchel/internal/netstate"
	"github.com/estrateji/satchel/internal/prefetch"
	"github.com/estrateji/satchel/internal/scheduler"
	"github.com/estrateji/satchel/internal/search"
	"github.com/estrateji/satchel/internal/snapshot"
	"github.com/estrateji/satchel/internal/store"
	"github.com/estrateji/satchel/internal/syncer"
	"golang.org/x/time/rate"
)

// Scheduled task names
const (
	TaskProbe   = "probe"
	TaskTick    = "sync"
	TaskCleanup = "module-cleanup"
	TaskPrune   = "download-prune"
)

// Options tweaks how an Engine is assembled
type Options struct {
	// Offline pins connectivity to offline instead of probing the server
	Offline bool

	// Clock overrides the wall clock
	Clock domain.Clock
}

// Engine wires the cache and sync components around one store.
type Engine struct {
	cfg    *adapter.Config
	logger *slog.Logger

	Store      *store.Store
	Client     *api.Client
	Conn       domain.Connectivity
	Metrics    *metrics.Metrics
	Modules    *modcache.Manager
	Snapshots  *snapshot.Commands
	Courses    *snapshot.Queries
	Archives   *snapshot.Archives
	Queue      *actionqueue.Queue
	Downloads  *downloads.Tracker
	Prefetcher *prefetch.Prefetcher
	Sync       *syncer.Orchestrator
	Search     *search.Service
	Boundary   *boundary.Boundary
	Scheduler  *scheduler.Scheduler

	monitor *netstate.Monitor // nil when pinned offline
	manual  *netstate.Manual
}

// New opens the store and builds every component from cfg.
func New(cfg *adapter.Config, opts Options, logger *slog.Logger) (*Engine, error) {
	if logger == nil {
		logger = slog.Default()
	}
	clock := opts.Clock
	if clock == nil {
		clock = domain.SystemClock
	}

	s, err := store.Open(cfg.Storage.Dir, cfg.Server.URL, store.Options{Quotas: cfg.Storage.Quotas()})
	if err != nil {
		return nil, fmt.Errorf("failed to open store: %w", err)
	}

	policy, err := actionqueue.ParsePolicy(cfg.Sync.RetryPolicy, cfg.Sync.MaxAttempts, cfg.Sync.BackoffBase, cfg.Sync.BackoffCap)
	if err != nil {
		s.Close()
		return nil, err
	}

	e := &Engine{cfg: cfg, logger: logger, Store: s, Metrics: metrics.New()}

	e.Client = api.NewClient(cfg.Server.URL, cfg.Server.Token, api.Options{
		Timeout:   cfg.Server.Timeout,
		RateLimit: cfg.Server.RateLimit,
		Burst:     cfg.Server.Burst,
	}, logger.With("component", "api"))

	if opts.Offline {
		e.manual = netstate.NewManual(false)
		e.Conn = e.manual
	} else {
		e.monitor = netstate.NewMonitor(e.Client, logger.With("component", "netstate"))
		e.Conn = e.monitor
	}

	e.Modules = modcache.NewManager(s, logger.With("component", "modcache"),
		modcache.WithClock(clock), modcache.WithTTL(cfg.Sync.ModuleTTL), modcache.WithMetrics(e.Metrics))
	e.Snapshots = snapshot.NewCommands(e.Client, s, clock, logger.With("component", "snapshot"))
	e.Courses = snapshot.NewQueries(s, logger)
	e.Archives = snapshot.NewArchives(s, logger.With("component", "archives"))
	e.Queue = actionqueue.New(s, e.Client, e.Conn, policy, logger.With("component", "queue"),
		actionqueue.WithClock(clock), actionqueue.WithMetrics(e.Metrics))
	e.Downloads = downloads.NewTracker(s, clock, logger.With("component", "downloads"))

	limit := rate.Inf
	if cfg.Prefetch.RateLimit > 0 {
		limit = rate.Limit(cfg.Prefetch.RateLimit)
	}
	e.Prefetcher = prefetch.New(e.Client, e.Modules, logger.With("component", "prefetch"),
		prefetch.WithTracker(e.Downloads),
		prefetch.WithLimiter(rate.NewLimiter(limit, max(cfg.Prefetch.Burst, 1))),
		prefetch.WithMaxBlobSize(cfg.Prefetch.MaxBlobMB<<20),
		prefetch.WithMetrics(e.Metrics),
		prefetch.WithArchives(e.Client, e.Archives))

	e.Sync = syncer.New(s, e.Queue, e.Modules, e.Client, e.Conn, logger.With("component", "syncer"),
		syncer.WithMetrics(e.Metrics))
	e.Search = search.NewService(e.Courses, logger)

	e.Boundary = boundary.New(s, boundary.Options{
		Upstream: cfg.Server.URL,
		Token:    cfg.Server.Token,
		Timeout:  cfg.Server.Timeout,
		Precache: cfg.Boundary.Precache,
		Metrics:  e.Metrics,
	}, logger.With("component", "boundary"))
	e.Boundary.Handle(boundary.TagExercises, e.Sync.DrainExercises)

	e.Scheduler = scheduler.New(logger.With("component", "scheduler"))
	return e, nil
}

// Close releases the store
func (e *Engine) Close() error {
	return e.Store.Close()
}

// Online probes the server (unless pinned offline) and reports the result
func (e *Engine) Online(ctx context.Context) bool {
	if e.monitor != nil {
		return e.monitor.Probe(ctx)
	}
	return e.Conn.Online()
}

// RegisterTasks puts every periodic job on the scheduler
func (e *Engine) RegisterTasks() error {
	sc := e.cfg.Sync

	var errs []error
	if e.monitor != nil {
		errs = append(errs, e.Scheduler.Register(TaskProbe, sc.ProbeInterval, func(ctx context.Context) error {
			e.monitor.Probe(ctx)
			return nil
		}))
	}
	errs = append(errs,
		e.Scheduler.Register(TaskTick, sc.TickInterval, func(ctx context.Context) error {
			_, err := e.Sync.Tick(ctx)
			return err
		}),
		e.Scheduler.Register(TaskCleanup, sc.CleanupInterval, func(context.Context) error {
			_, err := e.Modules.CleanupExpiredModules()
			return err
		}),
		e.Scheduler.Register(TaskPrune, sc.PruneInterval, func(context.Context) error {
			_, err := e.Downloads.PruneCompleted(sc.DownloadRetention)
			return err
		}),
	)
	return errors.Join(errs...)
}

// SyncNow runs one full pass: a probe, the orchestrator tick, then a course snapshot sync.
func (e *Engine) SyncNow(ctx context.Context, observer domain.SyncObserver) (syncer.Report, domain.SyncResult, error) {
	if !e.Online(ctx) {
		return syncer.Report{Skipped: true}, domain.SyncResult{}, domain.ErrServerOffline
	}

	report, tickErr := e.Sync.Tick(ctx)
	result, syncErr := e.Snapshots.SyncAllUserCourses(ctx, observer)
	return report, result, errors.Join(tickErr, syncErr)
}

// RetryDownload re-runs a failed download task
func (e *Engine) RetryDownload(ctx context.Context, id string) error {
	return e.Prefetcher.RetryTask(ctx, id)
}

// RemoveDownload forgets a download task
func (e *Engine) RemoveDownload(id string) error {
	return e.Downloads.Remove(id)
}
