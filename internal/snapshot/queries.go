package snapshot

import (
	"encoding/json"
	"log/slog"
	"sort"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
)

// Queries provides cache-only reads of course snapshots.
type Queries struct {
	store  *store.Store
	logger *slog.Logger
}

// NewQueries creates a new Queries instance.
func NewQueries(s *store.Store, logger *slog.Logger) *Queries {
	if logger == nil {
		logger = slog.Default()
	}
	return &Queries{store: s, logger: logger}
}

func (q *Queries) Get(courseID string) (*domain.CourseSnapshot, bool) {
	var snap domain.CourseSnapshot
	ok, err := q.store.Namespace(store.NSSnapshots).GetJSON(courseID, &snap)
	if err != nil {
		q.logger.Error("failed to read snapshot", "error", err, "courseID", courseID)
		return nil, false
	}
	if !ok {
		return nil, false
	}
	return &snap, true
}

// All returns every snapshot sorted by course title
func (q *Queries) All() []*domain.CourseSnapshot {
	var snaps []*domain.CourseSnapshot
	err := q.store.Namespace(store.NSSnapshots).Iterate(func(key string, value []byte) error {
		var snap domain.CourseSnapshot
		if err := json.Unmarshal(value, &snap); err != nil {
			q.logger.Warn("skipping corrupt snapshot", "error", err, "courseID", key)
			return nil
		}
		snaps = append(snaps, &snap)
		return nil
	})
	if err != nil {
		q.logger.Error("failed to list snapshots", "error", err)
		return nil
	}
	sort.SliceStable(snaps, func(i, j int) bool { return snaps[i].Title < snaps[j].Title })
	return snaps
}

// Count returns the number of cached courses without decoding any snapshot.
func (q *Queries) Count() int {
	n, err := q.store.Namespace(store.NSSnapshots).Count()
	if err != nil {
		q.logger.Error("failed to count snapshots", "error", err)
		return 0
	}
	return n
}

// Blob returns the stored payload of one book.
func (q *Queries) Blob(courseID, resourceID string) ([]byte, bool) {
	data, ok, err := q.store.Namespace(store.NSResourceBlobs).Get(blobKey(courseID, resourceID))
	if err != nil {
		q.logger.Error("failed to read book payload", "error", err, "courseID", courseID, "resourceID", resourceID)
		return nil, false
	}
	return data, ok
}

// Resources returns one course's resources of a type; "all" or "" returns every type.
func (q *Queries) Resources(courseID string, typ string) []domain.Resource {
	snap, ok := q.Get(courseID)
	if !ok {
		return nil
	}
	if typ == "all" {
		typ = ""
	}
	return snap.ResourcesOf(domain.ResourceType(typ))
}

// SyncedAt returns the time of the last full sync
func (q *Queries) SyncedAt() (time.Time, bool) {
	var t time.Time
	ok, err := q.store.Namespace(store.NSLocal).GetJSON(keySyncedAt, &t)
	if err != nil || !ok {
		return time.Time{}, false
	}
	return t, true
}
