package downloads

import (
	"fmt"
	"log/slog"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
	"github.com/google/uuid"
)

const (
	keyDownloads = "downloads"

	// DefaultRetention is how long a completed task stays listed
	DefaultRetention = time.Hour
)

// Tracker persists download tasks for display and retry.
//
// Allowed transitions: pending -> completed | failed, failed -> pending (Retry).
type Tracker struct {
	store  *store.Store
	clock  domain.Clock
	logger *slog.Logger
}

func NewTracker(s *store.Store, clock domain.Clock, logger *slog.Logger) *Tracker {
	if logger == nil {
		logger = slog.Default()
	}
	if clock == nil {
		clock = domain.SystemClock
	}
	return &Tracker{store: s, clock: clock, logger: logger}
}

func load(tx *store.Txn) ([]domain.DownloadTask, error) {
	var tasks []domain.DownloadTask
	_, err := store.GetJSON(tx, store.NSLocal, keyDownloads, &tasks)
	return tasks, err
}

func save(tx *store.Txn, tasks []domain.DownloadTask) error {
	if len(tasks) == 0 {
		return tx.Delete(store.NSLocal, keyDownloads)
	}
	return store.PutJSON(tx, store.NSLocal, keyDownloads, tasks)
}

// Add registers a new pending module download
func (t *Tracker) Add(name, moduleID string) (domain.DownloadTask, error) {
	return t.add(domain.DownloadTask{Name: name, ModuleID: moduleID})
}

// AddCourse registers a new pending course archive download
func (t *Tracker) AddCourse(name, courseID string) (domain.DownloadTask, error) {
	return t.add(domain.DownloadTask{Name: name, CourseID: courseID})
}

func (t *Tracker) add(task domain.DownloadTask) (domain.DownloadTask, error) {
	task.ID = uuid.NewString()
	task.Status = domain.DownloadPending
	err := t.store.Update(func(tx *store.Txn) error {
		tasks, err := load(tx)
		if err != nil {
			return err
		}
		return save(tx, append(tasks, task))
	})
	if err != nil {
		t.logger.Error("failed to track download", "error", err, "name", task.Name)
		return domain.DownloadTask{}, err
	}
	return task, nil
}

func (t *Tracker) Get(id string) (domain.DownloadTask, bool) {
	for _, task := range t.List() {
		if task.ID == id {
			return task, true
		}
	}
	return domain.DownloadTask{}, false
}

// List returns every task in creation order
func (t *Tracker) List() []domain.DownloadTask {
	var tasks []domain.DownloadTask
	err := t.store.View(func(tx *store.Txn) error {
		var err error
		tasks, err = load(tx)
		return err
	})
	if err != nil {
		t.logger.Error("failed to read downloads", "error", err)
		return nil
	}
	return tasks
}

// Counts groups tasks by status
func (t *Tracker) Counts() map[domain.DownloadStatus]int {
	counts := make(map[domain.DownloadStatus]int)
	for _, task := range t.List() {
		counts[task.Status]++
	}
	return counts
}

// mutate applies fn to one task inside a transaction
func (t *Tracker) mutate(id string, fn func(task *domain.DownloadTask) error) error {
	return t.store.Update(func(tx *store.Txn) error {
		tasks, err := load(tx)
		if err != nil {
			return err
		}
		for i := range tasks {
			if tasks[i].ID != id {
				continue
			}
			if err := fn(&tasks[i]); err != nil {
				return err
			}
			return save(tx, tasks)
		}
		return fmt.Errorf("download %s: %w", id, domain.ErrNotFound)
	})
}

func requireStatus(task *domain.DownloadTask, want domain.DownloadStatus, to domain.DownloadStatus) error {
	if task.Status != want {
		return fmt.Errorf("%s -> %s: %w", task.Status, to, domain.ErrInvalidTransition)
	}
	return nil
}

// SetProgress updates a pending task's percentage (clamped to 0..100)
func (t *Tracker) SetProgress(id string, pct int) error {
	pct = max(0, min(pct, 100))
	return t.mutate(id, func(task *domain.DownloadTask) error {
		if err := requireStatus(task, domain.DownloadPending, domain.DownloadPending); err != nil {
			return err
		}
		task.Progress = pct
		return nil
	})
}

func (t *Tracker) Complete(id string) error {
	now := t.clock()
	return t.mutate(id, func(task *domain.DownloadTask) error {
		if err := requireStatus(task, domain.DownloadPending, domain.DownloadCompleted); err != nil {
			return err
		}
		task.Status = domain.DownloadCompleted
		task.Progress = 100
		task.CompletedAt = &now
		task.Error = ""
		return nil
	})
}

func (t *Tracker) Fail(id string, cause error) error {
	return t.mutate(id, func(task *domain.DownloadTask) error {
		if err := requireStatus(task, domain.DownloadPending, domain.DownloadFailed); err != nil {
			return err
		}
		task.Status = domain.DownloadFailed
		if cause != nil {
			task.Error = cause.Error()
		}
		return nil
	})
}

// Retry moves a failed task back to pending with progress reset
func (t *Tracker) Retry(id string) error {
	return t.mutate(id, func(task *domain.DownloadTask) error {
		if err := requireStatus(task, domain.DownloadFailed, domain.DownloadPending); err != nil {
			return err
		}
		task.Status = domain.DownloadPending
		task.Progress = 0
		task.Error = ""
		return nil
	})
}

func (t *Tracker) Remove(id string) error {
	return t.store.Update(func(tx *store.Txn) error {
		tasks, err := load(tx)
		if err != nil {
			return err
		}
		kept := tasks[:0]
		for _, task := range tasks {
			if task.ID != id {
				kept = append(kept, task)
			}
		}
		return save(tx, kept)
	})
}

// PruneCompleted removes completed tasks older than maxAge and returns how many went
func (t *Tracker) PruneCompleted(maxAge time.Duration) (int, error) {
	now := t.clock()
	removed := 0
	err := t.store.Update(func(tx *store.Txn) error {
		removed = 0
		tasks, err := load(tx)
		if err != nil {
			return err
		}
		kept := tasks[:0]
		for _, task := range tasks {
			if task.Status == domain.DownloadCompleted && task.CompletedAt != nil && now.Sub(*task.CompletedAt) > maxAge {
				removed++
				continue
			}
			kept = append(kept, task)
		}
		if removed == 0 {
			return nil
		}
		return save(tx, kept)
	})
	if err != nil {
		t.logger.Error("failed to prune downloads", "error", err)
		return 0, err
	}
	if removed > 0 {
		t.logger.Debug("pruned finished downloads", "count", removed)
	}
	return removed, nil
}
