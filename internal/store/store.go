package store

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/estrateji/satchel/internal/domain"
	bolt "go.etcd.io/bbolt"
)

// Namespace names. Metadata and binary payloads never share a bucket so
// metadata scans do not page blob bytes in.
const (
	NSModuleMeta  = "module_meta"
	NSModuleBlobs = "module_blobs"
	NSSnapshots   = "course_snapshots"
	NSLocal       = "local"
	NSSubmissions = "submissions"
	NSResponses   = "responses"

	// NSResourceBlobs holds course book payloads keyed "<course>/<resource>".
	NSResourceBlobs = "resource_blobs"
	// NSArchives holds whole-course offline archives keyed by course ID.
	NSArchives = "course_archives"
)

var allNamespaces = []string{
	NSModuleMeta, NSModuleBlobs, NSSnapshots, NSLocal, NSSubmissions, NSResponses,
	NSResourceBlobs, NSArchives,
}

// Small, hot namespaces get promoted into the in-memory cache on read.
var hotNamespaces = map[string]bool{NSModuleMeta: true, NSLocal: true}

// ErrStop ends an Iterate early without reporting an error.
var ErrStop = errors.New("stop iteration")

// Options configures a Store.
type Options struct {
	// Quotas caps the bytes (keys + values) held per namespace. Missing or 0 means unlimited.
	Quotas map[string]int64
}

// Store is the persistent key/value store backing every cache domain.
type Store struct {
	db *bolt.DB

	mu    sync.RWMutex // protects cache, usage and gen
	cache map[string][]byte
	usage map[string]int64
	gen   uint64 // bumped on every commit

	quotas map[string]int64

	// Memory-only mode (no db): data lives here, guarded by txMu.
	txMu sync.Mutex
	mem  map[string]map[string][]byte
}

// Open opens the store under baseDir, one database per server.
// An empty baseDir gives a memory-only store.
func Open(baseDir, serverURL string, opts Options) (*Store, error) {
	s := &Store{
		cache:  make(map[string][]byte),
		usage:  make(map[string]int64),
		quotas: make(map[string]int64),
	}
	for ns, q := range opts.Quotas {
		s.quotas[ns] = q
	}

	if baseDir == "" {
		s.mem = make(map[string]map[string][]byte)
		for _, ns := range allNamespaces {
			s.mem[ns] = make(map[string][]byte)
		}
		return s, nil
	}

	dir := baseDir
	if serverURL != "" {
		dir = filepath.Join(baseDir, hashServerURL(serverURL))
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, err
	}

	// The file lock makes this process the only writer for the profile.
	db, err := bolt.Open(filepath.Join(dir, "satchel.db"), 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bolt db: %w", err)
	}

	err = db.Update(func(tx *bolt.Tx) error {
		for _, ns := range allNamespaces {
			b, err := tx.CreateBucketIfNotExists([]byte(ns))
			if err != nil {
				return err
			}
			var used int64
			if err := b.ForEach(func(k, v []byte) error {
				used += int64(len(k) + len(v))
				return nil
			}); err != nil {
				return err
			}
			s.usage[ns] = used
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, err
	}

	s.db = db
	return s, nil
}

func hashServerURL(serverURL string) string {
	normalized := strings.TrimRight(strings.ToLower(serverURL), "/")
	hash := sha256.Sum256([]byte(normalized))
	return hex.EncodeToString(hash[:6])
}

func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

// Namespace returns a handle on one namespace.
func (s *Store) Namespace(name string) *Namespace {
	return &Namespace{s: s, name: name}
}

// Usage returns the bytes currently held by a namespace.
func (s *Store) Usage(ns string) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.usage[ns]
}

// Update runs fn in a single atomic read-write transaction.
// Either every write made through tx lands or none does. fn must not call View or Update.
func (s *Store) Update(fn func(tx *Txn) error) error {
	t := newTxn(s, true)

	if s.db == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
		if err := fn(t); err != nil {
			return err
		}
		t.applyMem()
		t.commit()
		return nil
	}

	err := s.db.Update(func(btx *bolt.Tx) error {
		t.tx = btx
		return fn(t)
	})
	if err != nil {
		return err
	}
	t.commit()
	return nil
}

// View runs fn in a read-only transaction.
func (s *Store) View(fn func(tx *Txn) error) error {
	t := newTxn(s, false)

	if s.db == nil {
		s.txMu.Lock()
		defer s.txMu.Unlock()
		return fn(t)
	}

	return s.db.View(func(btx *bolt.Tx) error {
		t.tx = btx
		return fn(t)
	})
}

// ClearAll wipes every namespace.
func (s *Store) ClearAll() error {
	return s.Update(func(tx *Txn) error {
		for _, ns := range allNamespaces {
			if err := tx.Clear(ns); err != nil {
				return err
			}
		}
		return nil
	})
}

// === Transactions ===

// Txn is a read or read-write view across all namespaces.
type Txn struct {
	s        *Store
	tx       *bolt.Tx
	writable bool

	// memory mode: staged writes (nil value = delete) and cleared namespaces
	pending map[string]map[string][]byte
	cleared map[string]bool

	delta   map[string]int64
	touched map[string]bool // cache keys written in this txn
	wiped   []string        // namespaces cleared in this txn
}

func newTxn(s *Store, writable bool) *Txn {
	return &Txn{
		s:        s,
		writable: writable,
		pending:  make(map[string]map[string][]byte),
		cleared:  make(map[string]bool),
		delta:    make(map[string]int64),
		touched:  make(map[string]bool),
	}
}

func cacheKey(ns, key string) string { return ns + ":" + key }

// Get returns a copy of the value stored under key.
func (t *Txn) Get(ns, key string) ([]byte, bool) {
	if t.tx != nil {
		b := t.tx.Bucket([]byte(ns))
		if b == nil {
			return nil, false
		}
		v := b.Get([]byte(key))
		if v == nil {
			return nil, false
		}
		data := make([]byte, len(v))
		copy(data, v)
		return data, true
	}

	if staged, ok := t.pending[ns][key]; ok {
		if staged == nil {
			return nil, false
		}
		return append([]byte(nil), staged...), true
	}
	if t.cleared[ns] {
		return nil, false
	}
	v, ok := t.s.mem[ns][key]
	if !ok {
		return nil, false
	}
	return append([]byte(nil), v...), true
}

// Put stores value under key, failing with domain.ErrQuotaExceeded when the
// namespace budget would be exceeded.
func (t *Txn) Put(ns, key string, value []byte) error {
	if !t.writable {
		return errors.New("store: write in read-only transaction")
	}
	if value == nil {
		value = []byte{}
	}

	old, exists := t.Get(ns, key)
	growth := int64(len(key) + len(value))
	if exists {
		growth -= int64(len(key) + len(old))
	}
	if quota := t.s.quotas[ns]; quota > 0 && growth > 0 {
		if t.s.Usage(ns)+t.delta[ns]+growth > quota {
			return fmt.Errorf("%s/%s: %w", ns, key, domain.ErrQuotaExceeded)
		}
	}

	if t.tx != nil {
		b := t.tx.Bucket([]byte(ns))
		if b == nil {
			return fmt.Errorf("store: unknown namespace %q", ns)
		}
		if err := b.Put([]byte(key), value); err != nil {
			return err
		}
	} else {
		t.stage(ns, key, append([]byte(nil), value...))
	}

	t.delta[ns] += growth
	t.touched[cacheKey(ns, key)] = true
	return nil
}

// Delete removes key. Deleting a missing key is not an error.
func (t *Txn) Delete(ns, key string) error {
	if !t.writable {
		return errors.New("store: write in read-only transaction")
	}
	old, exists := t.Get(ns, key)
	if !exists {
		return nil
	}

	if t.tx != nil {
		b := t.tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		if err := b.Delete([]byte(key)); err != nil {
			return err
		}
	} else {
		t.stage(ns, key, nil)
	}

	t.delta[ns] -= int64(len(key) + len(old))
	t.touched[cacheKey(ns, key)] = true
	return nil
}

// ForEach visits every key in byte order. Returning ErrStop ends the walk.
func (t *Txn) ForEach(ns string, fn func(key string, value []byte) error) error {
	err := t.forEach(ns, fn)
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (t *Txn) forEach(ns string, fn func(key string, value []byte) error) error {
	if t.tx != nil {
		b := t.tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		return b.ForEach(func(k, v []byte) error {
			return fn(string(k), append([]byte(nil), v...))
		})
	}

	merged := t.memView(ns)
	for _, k := range sortedKeys(merged, "") {
		if err := fn(k, append([]byte(nil), merged[k]...)); err != nil {
			return err
		}
	}
	return nil
}

// Keys visits the keys starting with prefix in byte order without reading values.
// Returning ErrStop ends the walk.
func (t *Txn) Keys(ns, prefix string, fn func(key string) error) error {
	err := t.keys(ns, prefix, fn)
	if errors.Is(err, ErrStop) {
		return nil
	}
	return err
}

func (t *Txn) keys(ns, prefix string, fn func(key string) error) error {
	if t.tx != nil {
		b := t.tx.Bucket([]byte(ns))
		if b == nil {
			return nil
		}
		p := []byte(prefix)
		c := b.Cursor()
		for k, _ := c.Seek(p); k != nil && bytes.HasPrefix(k, p); k, _ = c.Next() {
			if err := fn(string(k)); err != nil {
				return err
			}
		}
		return nil
	}

	for _, k := range sortedKeys(t.memView(ns), prefix) {
		if err := fn(k); err != nil {
			return err
		}
	}
	return nil
}

// memView merges committed memory-mode data with this txn's staged writes.
func (t *Txn) memView(ns string) map[string][]byte {
	merged := make(map[string][]byte)
	if !t.cleared[ns] {
		for k, v := range t.s.mem[ns] {
			merged[k] = v
		}
	}
	for k, v := range t.pending[ns] {
		if v == nil {
			delete(merged, k)
		} else {
			merged[k] = v
		}
	}
	return merged
}

func sortedKeys(m map[string][]byte, prefix string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys
}

// Clear removes every key in a namespace.
func (t *Txn) Clear(ns string) error {
	if !t.writable {
		return errors.New("store: write in read-only transaction")
	}

	if t.tx != nil {
		if err := t.tx.DeleteBucket([]byte(ns)); err != nil && !errors.Is(err, bolt.ErrBucketNotFound) {
			return err
		}
		if _, err := t.tx.CreateBucket([]byte(ns)); err != nil {
			return err
		}
	} else {
		t.cleared[ns] = true
		delete(t.pending, ns)
	}

	t.delta[ns] = -t.s.Usage(ns)
	t.wiped = append(t.wiped, ns)
	return nil
}

func (t *Txn) stage(ns, key string, value []byte) {
	if t.pending[ns] == nil {
		t.pending[ns] = make(map[string][]byte)
	}
	t.pending[ns][key] = value
}

// applyMem moves staged writes into the memory-mode maps. Caller holds txMu.
func (t *Txn) applyMem() {
	for ns := range t.cleared {
		t.s.mem[ns] = make(map[string][]byte)
	}
	for ns, writes := range t.pending {
		if t.s.mem[ns] == nil {
			t.s.mem[ns] = make(map[string][]byte)
		}
		for k, v := range writes {
			if v == nil {
				delete(t.s.mem[ns], k)
			} else {
				t.s.mem[ns][k] = v
			}
		}
	}
}

// commit publishes usage deltas and drops stale hot-cache entries.
func (t *Txn) commit() {
	t.s.mu.Lock()
	defer t.s.mu.Unlock()

	t.s.gen++
	for ns, d := range t.delta {
		t.s.usage[ns] += d
		if t.s.usage[ns] < 0 {
			t.s.usage[ns] = 0
		}
	}
	for k := range t.touched {
		delete(t.s.cache, k)
	}
	for _, ns := range t.wiped {
		prefix := ns + ":"
		for k := range t.s.cache {
			if strings.HasPrefix(k, prefix) {
				delete(t.s.cache, k)
			}
		}
	}
}

// === JSON helpers ===

// GetJSON decodes the value under key into dest.
func GetJSON(tx *Txn, ns, key string, dest any) (bool, error) {
	data, ok := tx.Get(ns, key)
	if !ok {
		return false, nil
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", ns, key, err)
	}
	return true, nil
}

// PutJSON encodes v and stores it under key.
func PutJSON(tx *Txn, ns, key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return tx.Put(ns, key, data)
}
