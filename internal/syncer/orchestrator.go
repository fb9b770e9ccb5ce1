package syncer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"

	"github.com/estrateji/satchel/internal/actionqueue"
	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/metrics"
	"github.com/estrateji/satchel/internal/modcache"
	"github.com/estrateji/satchel/internal/store"
)

// StageReport counts the outcome of one sync stage
type StageReport struct {
	Delivered int
	Failed    int
	Skipped   int // malformed or already-synced legacy items
	Dropped   int
}

// Report summarizes one orchestrator tick.
type Report struct {
	Skipped     bool // offline, or another tick was running
	Queue       actionqueue.RetryResult
	Completions StageReport
	Legacy      map[string]StageReport
}

// Orchestrator pushes every kind of pending local write to the server.
type Orchestrator struct {
	store     *store.Store
	queue     *actionqueue.Queue
	modules   *modcache.Manager
	deliverer domain.Deliverer
	conn      domain.Connectivity
	metrics   *metrics.Metrics
	logger    *slog.Logger

	running atomic.Bool
}

// Option configures an Orchestrator
type Option func(*Orchestrator)

func WithMetrics(m *metrics.Metrics) Option { return func(o *Orchestrator) { o.metrics = m } }

func New(s *store.Store, q *actionqueue.Queue, modules *modcache.Manager, d domain.Deliverer, conn domain.Connectivity, logger *slog.Logger, opts ...Option) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	o := &Orchestrator{
		store:     s,
		queue:     q,
		modules:   modules,
		deliverer: d,
		conn:      conn,
		logger:    logger,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Tick runs one pass: the action queue, unacknowledged completions, then the
// legacy queues. It does nothing while offline. A failing stage is logged and
// the following stages still run; the stage errors are joined in the result.
func (o *Orchestrator) Tick(ctx context.Context) (Report, error) {
	report := Report{Legacy: map[string]StageReport{}}
	if !o.conn.Online() {
		report.Skipped = true
		return report, nil
	}
	if !o.running.CompareAndSwap(false, true) {
		o.logger.Debug("sync tick already running")
		report.Skipped = true
		return report, nil
	}
	defer o.running.Store(false)

	var errs []error

	res, err := o.queue.Retry(ctx)
	report.Queue = res
	if err != nil {
		errs = append(errs, fmt.Errorf("action queue: %w", err))
	}
	o.record("queue", StageReport{Delivered: res.Delivered, Failed: res.Failed, Dropped: res.Dropped})

	report.Completions, err = o.pushCompletions(ctx)
	if err != nil {
		errs = append(errs, fmt.Errorf("completions: %w", err))
	}
	o.record("completions", report.Completions)

	for _, lq := range legacyQueues {
		if ctx.Err() != nil {
			break
		}
		sr, err := o.drainLegacy(ctx, lq)
		report.Legacy[lq.key] = sr
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", lq.key, err))
		}
		o.record(lq.key, sr)
	}

	if err := ctx.Err(); err != nil {
		errs = append(errs, err)
	}
	if len(errs) > 0 {
		o.logger.Warn("sync tick finished with errors", "error", errors.Join(errs...))
	} else {
		o.logger.Debug("sync tick finished",
			"queueDelivered", res.Delivered, "completions", report.Completions.Delivered)
	}
	return report, errors.Join(errs...)
}

// pushCompletions reports locally completed modules, acknowledging each only after the server accepts it.
func (o *Orchestrator) pushCompletions(ctx context.Context) (StageReport, error) {
	var sr StageReport
	for _, id := range o.modules.PendingCompletions() {
		if err := ctx.Err(); err != nil {
			return sr, err
		}

		err := o.deliverer.Deliver(ctx, "/modules/"+id+"/progress", nil)
		if err != nil {
			sr.Failed++
			o.logger.Warn("failed to push completion", "error", err, "moduleID", id)
			if stopsPass(err) {
				return sr, err
			}
			continue
		}

		if err := o.modules.AckCompletion(id); err != nil {
			// delivered but not recorded; the next tick sends it again
			o.logger.Error("failed to acknowledge completion", "error", err, "moduleID", id)
			sr.Failed++
			continue
		}
		sr.Delivered++
	}
	return sr, nil
}

func (o *Orchestrator) record(stage string, sr StageReport) {
	o.metrics.Stage(stage, "delivered", sr.Delivered)
	o.metrics.Stage(stage, "failed", sr.Failed)
	o.metrics.Stage(stage, "skipped", sr.Skipped)
	o.metrics.Stage(stage, "dropped", sr.Dropped)
}

// stopsPass reports errors after which further calls in the same pass are pointless.
func stopsPass(err error) bool {
	return errors.Is(err, domain.ErrServerOffline) ||
		errors.Is(err, domain.ErrAuthFailed) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded)
}
