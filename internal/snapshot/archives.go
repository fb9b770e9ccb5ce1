package snapshot

import (
	"log/slog"

	"github.com/estrateji/satchel/internal/store"
)

// Archives keeps whole-course offline packages, one per course ID.
type Archives struct {
	ns     *store.Namespace
	logger *slog.Logger
}

func NewArchives(s *store.Store, logger *slog.Logger) *Archives {
	if logger == nil {
		logger = slog.Default()
	}
	return &Archives{ns: s.Namespace(store.NSArchives), logger: logger}
}

// Put replaces a course's archive. Fails with domain.ErrQuotaExceeded when over budget.
func (a *Archives) Put(courseID string, data []byte) error {
	return a.ns.Set(courseID, data)
}

func (a *Archives) Get(courseID string) ([]byte, bool) {
	data, ok, err := a.ns.Get(courseID)
	if err != nil {
		a.logger.Error("failed to read archive", "error", err, "courseID", courseID)
		return nil, false
	}
	return data, ok
}

// Size returns the stored archive size in bytes
func (a *Archives) Size(courseID string) (int64, bool) {
	data, ok := a.Get(courseID)
	return int64(len(data)), ok
}

// IDs lists the courses with a stored archive
func (a *Archives) IDs() []string {
	ids, err := a.ns.Keys("")
	if err != nil {
		a.logger.Error("failed to list archives", "error", err)
		return nil
	}
	return ids
}

func (a *Archives) Remove(courseID string) error {
	return a.ns.Remove(courseID)
}
