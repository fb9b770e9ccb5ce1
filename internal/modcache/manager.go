package modcache

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/estrateji/satchel/internal/metrics"
	"github.com/estrateji/satchel/internal/store"
)

// Flat keys in the local namespace
const (
	keyCompleted   = "completed-modules"  // module id -> completion epoch ms
	keyUnsynced    = "completed-unsynced" // module id -> completion epoch ms, not yet acknowledged
	keySeq         = "module-seq"
	progressPrefix = "module-progress-"
)

// DefaultTTL is how long a completed module stays cached
const DefaultTTL = 24 * time.Hour

// Manager owns cached module metadata, video payloads, completion markers and TTL eviction.
type Manager struct {
	store   *store.Store
	clock   domain.Clock
	ttl     time.Duration
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// Option configures a Manager
type Option func(*Manager)

func WithClock(c domain.Clock) Option { return func(m *Manager) { m.clock = c } }

func WithTTL(d time.Duration) Option { return func(m *Manager) { m.ttl = d } }

func WithMetrics(mt *metrics.Metrics) Option { return func(m *Manager) { m.metrics = mt } }

// NewManager creates a new module cache manager.
func NewManager(s *store.Store, logger *slog.Logger, opts ...Option) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	m := &Manager{store: s, clock: domain.SystemClock, ttl: DefaultTTL, logger: logger}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func progressKey(id string) string { return progressPrefix + id }

// completionMap is the decoded form of the completed-modules and completed-unsynced keys
type completionMap map[string]int64

func loadCompletions(tx *store.Txn, key string) (completionMap, error) {
	c := completionMap{}
	if _, err := store.GetJSON(tx, store.NSLocal, key, &c); err != nil {
		return nil, err
	}
	return c, nil
}

func saveCompletions(tx *store.Txn, key string, c completionMap) error {
	if len(c) == 0 {
		return tx.Delete(store.NSLocal, key)
	}
	return store.PutJSON(tx, store.NSLocal, key, c)
}

func loadMeta(tx *store.Txn, id string) (*domain.CachedModule, error) {
	var m domain.CachedModule
	ok, err := store.GetJSON(tx, store.NSModuleMeta, id, &m)
	if err != nil || !ok {
		return nil, err
	}
	return &m, nil
}

func saveMeta(tx *store.Txn, m *domain.CachedModule) error {
	return store.PutJSON(tx, store.NSModuleMeta, m.ID, m)
}

func nextSeq(tx *store.Txn) (uint64, error) {
	var seq uint64
	if raw, ok := tx.Get(store.NSLocal, keySeq); ok {
		n, err := strconv.ParseUint(string(raw), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("corrupt sequence counter: %w", err)
		}
		seq = n
	}
	seq++
	return seq, tx.Put(store.NSLocal, keySeq, []byte(strconv.FormatUint(seq, 10)))
}

func epochMillis(t time.Time) int64 { return t.UnixMilli() }

func fromMillis(ms int64) time.Time { return time.UnixMilli(ms) }

func loadProgress(tx *store.Txn, id string) float64 {
	raw, ok := tx.Get(store.NSLocal, progressKey(id))
	if !ok {
		return 0
	}
	var pos float64
	if err := json.Unmarshal(raw, &pos); err != nil {
		return 0
	}
	return pos
}
