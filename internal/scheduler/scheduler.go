package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// ErrBusy is returned by RunNow when the task is already running
var ErrBusy = errors.New("task already running")

// Task is a unit of periodic work. The context is cancelled on Stop.
type Task func(ctx context.Context) error

type entry struct {
	name  string
	every time.Duration
	fn    Task
	id    cron.EntryID
	mu    sync.Mutex // held while the task runs
}

// Scheduler dispatches every periodic task from a single cron instance.
type Scheduler struct {
	cron   *cron.Cron
	logger *slog.Logger

	mu    sync.Mutex
	tasks map[string]*entry

	ctx    context.Context
	cancel context.CancelFunc
}

func New(logger *slog.Logger) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	cl := cronLogger{logger: logger}
	ctx, cancel := context.WithCancel(context.Background())
	return &Scheduler{
		cron:   cron.New(cron.WithLogger(cl), cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl))),
		logger: logger,
		tasks:  make(map[string]*entry),
		ctx:    ctx,
		cancel: cancel,
	}
}

// Register schedules fn every interval. Names are unique.
func (s *Scheduler) Register(name string, every time.Duration, fn Task) error {
	if every < time.Second {
		return fmt.Errorf("task %s: interval %s is below one second", name, every)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.tasks[name]; ok {
		return fmt.Errorf("task %s already registered", name)
	}

	e := &entry{name: name, every: every, fn: fn}
	id, err := s.cron.AddFunc("@every "+every.String(), func() { s.run(e) })
	if err != nil {
		return fmt.Errorf("schedule %s: %w", name, err)
	}
	e.id = id
	s.tasks[name] = e
	s.logger.Debug("task registered", "task", name, "every", every)
	return nil
}

func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info("scheduler started", "tasks", s.Names())
}

// Stop halts scheduling, cancels running tasks and waits for them until ctx is done.
func (s *Scheduler) Stop(ctx context.Context) error {
	done := s.cron.Stop()
	s.cancel()
	select {
	case <-done.Done():
		s.logger.Info("scheduler stopped")
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// RunNow runs a task immediately on the calling goroutine.
func (s *Scheduler) RunNow(name string) error {
	s.mu.Lock()
	e, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("unknown task %q", name)
	}
	if !e.mu.TryLock() {
		return ErrBusy
	}
	defer e.mu.Unlock()
	return s.exec(e)
}

// Names lists registered tasks
func (s *Scheduler) Names() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Next returns when a task fires next (zero before Start)
func (s *Scheduler) Next(name string) time.Time {
	s.mu.Lock()
	e, ok := s.tasks[name]
	s.mu.Unlock()
	if !ok {
		return time.Time{}
	}
	return s.cron.Entry(e.id).Next
}

func (s *Scheduler) run(e *entry) {
	if !e.mu.TryLock() {
		s.logger.Debug("task still running, skipping", "task", e.name)
		return
	}
	defer e.mu.Unlock()
	_ = s.exec(e)
}

func (s *Scheduler) exec(e *entry) error {
	if s.ctx.Err() != nil {
		return s.ctx.Err()
	}
	start := time.Now()
	err := e.fn(s.ctx)
	if err != nil {
		s.logger.Warn("task failed", "task", e.name, "error", err, "duration", time.Since(start))
		return err
	}
	s.logger.Debug("task finished", "task", e.name, "duration", time.Since(start))
	return nil
}

// cronLogger adapts slog to cron.Logger
type cronLogger struct {
	logger *slog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug("cron: "+msg, keysAndValues...)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error("cron: "+msg, append([]any{"error", err}, keysAndValues...)...)
}
