package modcache

import (
	"sort"

	"github.com/estrateji/satchel/internal/store"
)

// CleanupExpiredModules evicts every module whose completion is at least TTL
// old: metadata, blob and completion marker go in one transaction, so readers
// never observe a blob without its metadata. Running it twice in a row evicts
// nothing the second time. Returns the evicted module ids.
func (m *Manager) CleanupExpiredModules() ([]string, error) {
	now := m.clock()
	var evicted []string

	err := m.store.Update(func(tx *store.Txn) error {
		evicted = evicted[:0]

		completions, err := loadCompletions(tx, keyCompleted)
		if err != nil {
			return err
		}

		for id, completedAt := range completions {
			if now.Sub(fromMillis(completedAt)) < m.ttl {
				continue
			}
			if err := m.evict(tx, id, completions); err != nil {
				return err
			}
			evicted = append(evicted, id)
		}

		if len(evicted) == 0 {
			return nil
		}
		return saveCompletions(tx, keyCompleted, completions)
	})
	if err != nil {
		m.logger.Error("module cleanup failed", "error", err)
		return nil, err
	}

	sort.Strings(evicted)
	if len(evicted) > 0 {
		m.logger.Info("evicted expired modules", "count", len(evicted), "ids", evicted)
		m.metrics.Evicted("modules", len(evicted))
	}
	return evicted, nil
}
