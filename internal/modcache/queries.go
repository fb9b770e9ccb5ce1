package modcache

import (
	"encoding/json"
	"sort"
	"strings"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
)

// Get returns the module's metadata merged with its blob (nil when not
// downloaded) and resume position. Storage errors are logged and reported as a miss.
func (m *Manager) Get(id string) (*domain.CachedModule, bool) {
	var mod *domain.CachedModule
	err := m.store.View(func(tx *store.Txn) error {
		meta, err := loadMeta(tx, id)
		if err != nil || meta == nil {
			return err
		}
		if blob, ok := tx.Get(store.NSModuleBlobs, id); ok {
			meta.Blob = blob
		}
		if pos := loadProgress(tx, id); pos > 0 {
			meta.ResumePosition = pos
		}
		mod = meta
		return nil
	})
	if err != nil {
		m.logger.Error("failed to read module", "error", err, "moduleID", id)
		return nil, false
	}
	return mod, mod != nil
}

// HasBlob reports whether the video payload is cached, without loading it
func (m *Manager) HasBlob(id string) bool {
	var found bool
	_ = m.store.View(func(tx *store.Txn) error {
		meta, err := loadMeta(tx, id)
		if err != nil || meta == nil {
			return err
		}
		found = meta.BlobSize > 0
		if !found {
			_, found = tx.Get(store.NSModuleBlobs, id)
		}
		return nil
	})
	return found
}

// GetAllMeta lists every cached module's metadata in insertion order. Blobs are never loaded.
func (m *Manager) GetAllMeta() []*domain.CachedModule {
	var mods []*domain.CachedModule
	err := m.store.View(func(tx *store.Txn) error {
		return tx.ForEach(store.NSModuleMeta, func(key string, value []byte) error {
			var mod domain.CachedModule
			if err := json.Unmarshal(value, &mod); err != nil {
				m.logger.Warn("skipping corrupt module record", "error", err, "moduleID", key)
				return nil
			}
			mods = append(mods, &mod)
			return nil
		})
	})
	if err != nil {
		m.logger.Error("failed to list modules", "error", err)
		return nil
	}
	sort.Slice(mods, func(i, j int) bool { return mods[i].Seq < mods[j].Seq })
	return mods
}

// GetCourseModules returns a course's modules ordered by Order, ties in insertion order.
func (m *Manager) GetCourseModules(courseID string) []*domain.CachedModule {
	var out []*domain.CachedModule
	for _, mod := range m.GetAllMeta() {
		if mod.CourseID == courseID {
			out = append(out, mod)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Order != out[j].Order {
			return out[i].Order < out[j].Order
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}

// IsCompleted reports whether the module carries a completion marker
func (m *Manager) IsCompleted(id string) bool {
	_, ok := m.completedMap()[id]
	return ok
}

// CompletedIDs lists completed module ids
func (m *Manager) CompletedIDs() []string {
	c := m.completedMap()
	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

func (m *Manager) completedMap() completionMap {
	var c completionMap
	err := m.store.View(func(tx *store.Txn) error {
		var err error
		c, err = loadCompletions(tx, keyCompleted)
		return err
	})
	if err != nil {
		m.logger.Error("failed to read completions", "error", err)
		return completionMap{}
	}
	return c
}

// PendingCompletions lists completions the server has not acknowledged, oldest first.
func (m *Manager) PendingCompletions() []string {
	var c completionMap
	err := m.store.View(func(tx *store.Txn) error {
		var err error
		c, err = loadCompletions(tx, keyUnsynced)
		return err
	})
	if err != nil {
		m.logger.Error("failed to read unsynced completions", "error", err)
		return nil
	}

	ids := make([]string, 0, len(c))
	for id := range c {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool {
		if c[ids[i]] != c[ids[j]] {
			return c[ids[i]] < c[ids[j]]
		}
		return ids[i] < ids[j]
	})
	return ids
}

// GetProgress returns the saved resume position in seconds (0 if none)
func (m *Manager) GetProgress(id string) float64 {
	var pos float64
	_ = m.store.View(func(tx *store.Txn) error {
		pos = loadProgress(tx, id)
		return nil
	})
	return pos
}

func (m *Manager) hasProgress(id string) bool {
	var ok bool
	_ = m.store.View(func(tx *store.Txn) error {
		_, ok = tx.Get(store.NSLocal, progressKey(id))
		return nil
	})
	return ok
}

// Status derives the learner-facing state of a module within its course sequence.
// A module is unlocked when it is first in the sequence or its predecessor is completed.
func (m *Manager) Status(id string, courseModules []domain.ModuleRef) domain.ModuleStatus {
	completed := m.completedMap()
	if _, ok := completed[id]; ok {
		return domain.ModuleCompleted
	}
	if m.hasProgress(id) {
		return domain.ModuleResume
	}

	idx := -1
	for i, ref := range courseModules {
		if ref.ID == id {
			idx = i
			break
		}
	}
	unlocked := idx == 0
	if idx > 0 {
		_, unlocked = completed[courseModules[idx-1].ID]
	}

	if unlocked {
		return domain.ModuleStart
	}
	if _, cached := m.Get(id); cached {
		return domain.ModuleStart
	}
	return domain.ModuleLocked
}

// ResumeModule returns the first module in the sequence that is not completed
func (m *Manager) ResumeModule(courseModules []domain.ModuleRef) (domain.ModuleRef, bool) {
	completed := m.completedMap()
	for _, ref := range courseModules {
		if _, ok := completed[ref.ID]; !ok {
			return ref, true
		}
	}
	return domain.ModuleRef{}, false
}

// StorageUsage returns the total bytes of cached video payloads
func (m *Manager) StorageUsage() int64 {
	var total int64
	for _, mod := range m.GetAllMeta() {
		total += mod.BlobSize
	}
	return total
}

// CourseIDs lists the distinct courses with cached modules
func (m *Manager) CourseIDs() []string {
	seen := make(map[string]bool)
	var ids []string
	for _, mod := range m.GetAllMeta() {
		if mod.CourseID == "" || seen[mod.CourseID] {
			continue
		}
		seen[mod.CourseID] = true
		ids = append(ids, mod.CourseID)
	}
	sort.Strings(ids)
	return ids
}

// isProgressKey reports whether a local key holds a resume position
func isProgressKey(key string) bool { return strings.HasPrefix(key, progressPrefix) }
