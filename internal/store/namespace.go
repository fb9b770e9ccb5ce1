package store

import (
	"encoding/json"
	"fmt"
)

// Namespace is a key/value view over one bucket. Every call runs in its own
// transaction; use Store.Update when several writes must land together.
type Namespace struct {
	s    *Store
	name string
}

func (n *Namespace) Name() string { return n.name }

// Get returns the value under key. Values from hot namespaces are served from memory after the first read.
func (n *Namespace) Get(key string) ([]byte, bool, error) {
	hot := hotNamespaces[n.name]
	ck := cacheKey(n.name, key)
	var gen uint64
	if hot {
		n.s.mu.RLock()
		if v, ok := n.s.cache[ck]; ok {
			n.s.mu.RUnlock()
			return append([]byte(nil), v...), true, nil
		}
		gen = n.s.gen
		n.s.mu.RUnlock()
	}

	var (
		data  []byte
		found bool
	)
	err := n.s.View(func(tx *Txn) error {
		data, found = tx.Get(n.name, key)
		return nil
	})
	if err != nil {
		return nil, false, err
	}

	if found && hot {
		n.s.mu.Lock()
		// a commit since the read may have replaced the value
		if n.s.gen == gen {
			n.s.cache[ck] = append([]byte(nil), data...)
		}
		n.s.mu.Unlock()
	}
	return data, found, nil
}

func (n *Namespace) Set(key string, value []byte) error {
	return n.s.Update(func(tx *Txn) error {
		return tx.Put(n.name, key, value)
	})
}

func (n *Namespace) Remove(key string) error {
	return n.s.Update(func(tx *Txn) error {
		return tx.Delete(n.name, key)
	})
}

// Iterate visits every entry in key order.
func (n *Namespace) Iterate(fn func(key string, value []byte) error) error {
	return n.s.View(func(tx *Txn) error {
		return tx.ForEach(n.name, fn)
	})
}

// Keys lists the keys starting with prefix, in key order.
func (n *Namespace) Keys(prefix string) ([]string, error) {
	var keys []string
	err := n.s.View(func(tx *Txn) error {
		return tx.Keys(n.name, prefix, func(key string) error {
			keys = append(keys, key)
			return nil
		})
	})
	return keys, err
}

// Count returns the number of keys without loading any values.
func (n *Namespace) Count() (int, error) {
	count := 0
	err := n.s.View(func(tx *Txn) error {
		return tx.Keys(n.name, "", func(string) error {
			count++
			return nil
		})
	})
	return count, err
}

func (n *Namespace) Clear() error {
	return n.s.Update(func(tx *Txn) error {
		return tx.Clear(n.name)
	})
}

// Usage returns the bytes held by this namespace.
func (n *Namespace) Usage() int64 {
	return n.s.Usage(n.name)
}

// GetJSON decodes the value under key into dest, reporting whether the key exists.
func (n *Namespace) GetJSON(key string, dest any) (bool, error) {
	data, ok, err := n.Get(key)
	if err != nil || !ok {
		return false, err
	}
	if err := json.Unmarshal(data, dest); err != nil {
		return false, fmt.Errorf("decode %s/%s: %w", n.name, key, err)
	}
	return true, nil
}

func (n *Namespace) SetJSON(key string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.Set(key, data)
}
