package modcache

import (
	"fmt"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/store"
)

// AddModuleMeta upserts module metadata. Fields owned by the cache
// (sequence, completion, blob size, last sync) survive the overwrite.
func (m *Manager) AddModuleMeta(mod *domain.CachedModule) error {
	if mod == nil || mod.ID == "" {
		return fmt.Errorf("module metadata requires an id")
	}

	err := m.store.Update(func(tx *store.Txn) error {
		existing, err := loadMeta(tx, mod.ID)
		if err != nil {
			return err
		}

		rec := *mod
		rec.Blob = nil
		rec.Placeholder = false
		if existing != nil {
			rec.Seq = existing.Seq
			rec.BlobSize = existing.BlobSize
			if rec.CompletedAt == nil {
				rec.CompletedAt = existing.CompletedAt
			}
			if rec.LastSyncedAt == nil {
				rec.LastSyncedAt = existing.LastSyncedAt
			}
		} else {
			if rec.Seq, err = nextSeq(tx); err != nil {
				return err
			}
			rec.BlobSize = 0
		}
		return saveMeta(tx, &rec)
	})
	if err != nil {
		m.logger.Error("failed to save module metadata", "error", err, "moduleID", mod.ID)
		return err
	}
	return nil
}

// AddVideoBlob stores a module's video payload. When the metadata has not been
// written yet a placeholder record is created in the same transaction, so a
// blob is never left without metadata. On failure (including
// domain.ErrQuotaExceeded) existing metadata is untouched.
func (m *Manager) AddVideoBlob(id string, blob []byte) error {
	err := m.store.Update(func(tx *store.Txn) error {
		meta, err := loadMeta(tx, id)
		if err != nil {
			return err
		}
		if meta == nil {
			seq, err := nextSeq(tx)
			if err != nil {
				return err
			}
			meta = &domain.CachedModule{ID: id, Seq: seq, Placeholder: true}
		}

		if err := tx.Put(store.NSModuleBlobs, id, blob); err != nil {
			return err
		}
		meta.BlobSize = int64(len(blob))
		return saveMeta(tx, meta)
	})
	if err != nil {
		m.logger.Warn("failed to store video blob", "error", err, "moduleID", id, "size", len(blob))
		return err
	}
	m.logger.Debug("stored video blob", "moduleID", id, "size", len(blob))
	return nil
}

// Remove deletes a module's metadata, blob, completion and progress together.
func (m *Manager) Remove(id string) error {
	return m.store.Update(func(tx *store.Txn) error {
		return m.evict(tx, id, nil)
	})
}

// evict removes every trace of a module except an unacknowledged completion.
// When completions is non-nil the caller persists it.
func (m *Manager) evict(tx *store.Txn, id string, completions completionMap) error {
	if err := tx.Delete(store.NSModuleBlobs, id); err != nil {
		return err
	}
	if err := tx.Delete(store.NSModuleMeta, id); err != nil {
		return err
	}
	if err := tx.Delete(store.NSLocal, progressKey(id)); err != nil {
		return err
	}

	if completions != nil {
		delete(completions, id)
		return nil
	}
	c, err := loadCompletions(tx, keyCompleted)
	if err != nil {
		return err
	}
	if _, ok := c[id]; !ok {
		return nil
	}
	delete(c, id)
	return saveCompletions(tx, keyCompleted, c)
}

// ClearAll drops every cached module, completion and progress marker.
// Completions still waiting for server acknowledgement are kept.
func (m *Manager) ClearAll() error {
	return m.store.Update(func(tx *store.Txn) error {
		if err := tx.Clear(store.NSModuleMeta); err != nil {
			return err
		}
		if err := tx.Clear(store.NSModuleBlobs); err != nil {
			return err
		}
		if err := tx.Delete(store.NSLocal, keyCompleted); err != nil {
			return err
		}

		var stale []string
		err := tx.ForEach(store.NSLocal, func(key string, _ []byte) error {
			if isProgressKey(key) {
				stale = append(stale, key)
			}
			return nil
		})
		if err != nil {
			return err
		}
		for _, key := range stale {
			if err := tx.Delete(store.NSLocal, key); err != nil {
				return err
			}
		}
		return nil
	})
}

// MarkCompleted records the module as completed now, queues the completion
// for the server and clears any resume position.
func (m *Manager) MarkCompleted(id string) error {
	now := m.clock()
	err := m.store.Update(func(tx *store.Txn) error {
		for _, key := range []string{keyCompleted, keyUnsynced} {
			c, err := loadCompletions(tx, key)
			if err != nil {
				return err
			}
			c[id] = epochMillis(now)
			if err := saveCompletions(tx, key, c); err != nil {
				return err
			}
		}
		if err := tx.Delete(store.NSLocal, progressKey(id)); err != nil {
			return err
		}

		meta, err := loadMeta(tx, id)
		if err != nil || meta == nil {
			return err
		}
		meta.CompletedAt = &now
		meta.ResumePosition = 0
		return saveMeta(tx, meta)
	})
	if err != nil {
		m.logger.Error("failed to mark module completed", "error", err, "moduleID", id)
	}
	return err
}

// RemoveCompletion clears the completion marker. A pending server push is left alone.
func (m *Manager) RemoveCompletion(id string) error {
	return m.store.Update(func(tx *store.Txn) error {
		c, err := loadCompletions(tx, keyCompleted)
		if err != nil {
			return err
		}
		delete(c, id)
		if err := saveCompletions(tx, keyCompleted, c); err != nil {
			return err
		}

		meta, err := loadMeta(tx, id)
		if err != nil || meta == nil || meta.CompletedAt == nil {
			return err
		}
		meta.CompletedAt = nil
		return saveMeta(tx, meta)
	})
}

// AckCompletion marks a completion as acknowledged by the server.
func (m *Manager) AckCompletion(id string) error {
	now := m.clock()
	return m.store.Update(func(tx *store.Txn) error {
		c, err := loadCompletions(tx, keyUnsynced)
		if err != nil {
			return err
		}
		delete(c, id)
		if err := saveCompletions(tx, keyUnsynced, c); err != nil {
			return err
		}

		meta, err := loadMeta(tx, id)
		if err != nil || meta == nil {
			return err
		}
		meta.LastSyncedAt = &now
		return saveMeta(tx, meta)
	})
}

// SaveProgress stores the resume position in seconds.
func (m *Manager) SaveProgress(id string, position float64) error {
	return m.store.Update(func(tx *store.Txn) error {
		return store.PutJSON(tx, store.NSLocal, progressKey(id), position)
	})
}

func (m *Manager) ClearProgress(id string) error {
	return m.store.Update(func(tx *store.Txn) error {
		return tx.Delete(store.NSLocal, progressKey(id))
	})
}
