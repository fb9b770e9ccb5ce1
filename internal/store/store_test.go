package store

import (
	"errors"
	"testing"

	"github.com/estrateji/satchel/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Both backends must behave the same.
func backends(t *testing.T, opts Options) map[string]*Store {
	t.Helper()

	mem, err := Open("", "", opts)
	require.NoError(t, err)

	disk, err := Open(t.TempDir(), "https://learn.example.com", opts)
	require.NoError(t, err)
	t.Cleanup(func() { disk.Close() })

	return map[string]*Store{"memory": mem, "bolt": disk}
}

func TestNamespaceCRUD(t *testing.T) {
	for name, s := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ns := s.Namespace(NSModuleMeta)

			_, ok, err := ns.Get("m1")
			require.NoError(t, err)
			assert.False(t, ok)

			require.NoError(t, ns.Set("m1", []byte("one")))
			require.NoError(t, ns.Set("m2", []byte("two")))

			v, ok, err := ns.Get("m1")
			require.NoError(t, err)
			require.True(t, ok)
			assert.Equal(t, "one", string(v))

			// overwrite must not serve a stale hot-cache value
			require.NoError(t, ns.Set("m1", []byte("uno")))
			v, _, _ = ns.Get("m1")
			assert.Equal(t, "uno", string(v))

			require.NoError(t, ns.Remove("m1"))
			_, ok, _ = ns.Get("m1")
			assert.False(t, ok)
			require.NoError(t, ns.Remove("missing"))

			var keys []string
			require.NoError(t, ns.Iterate(func(k string, _ []byte) error {
				keys = append(keys, k)
				return nil
			}))
			assert.Equal(t, []string{"m2"}, keys)

			require.NoError(t, ns.Clear())
			_, ok, _ = ns.Get("m2")
			assert.False(t, ok)
			assert.Zero(t, ns.Usage())
		})
	}
}

func TestIterateStopsEarly(t *testing.T) {
	for name, s := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ns := s.Namespace(NSLocal)
			for _, k := range []string{"a", "b", "c"} {
				require.NoError(t, ns.Set(k, []byte(k)))
			}

			var seen []string
			require.NoError(t, ns.Iterate(func(k string, _ []byte) error {
				seen = append(seen, k)
				if k == "b" {
					return ErrStop
				}
				return nil
			}))
			assert.Equal(t, []string{"a", "b"}, seen)
		})
	}
}

func TestUpdateRollsBackOnError(t *testing.T) {
	boom := errors.New("boom")
	for name, s := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Namespace(NSModuleMeta).Set("m1", []byte("meta")))

			err := s.Update(func(tx *Txn) error {
				require.NoError(t, tx.Put(NSModuleBlobs, "m1", []byte("blob")))
				require.NoError(t, tx.Delete(NSModuleMeta, "m1"))
				return boom
			})
			require.ErrorIs(t, err, boom)

			_, ok, _ := s.Namespace(NSModuleBlobs).Get("m1")
			assert.False(t, ok)
			_, ok, _ = s.Namespace(NSModuleMeta).Get("m1")
			assert.True(t, ok)
		})
	}
}

func TestTxnSeesOwnWrites(t *testing.T) {
	for name, s := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Update(func(tx *Txn) error {
				require.NoError(t, tx.Put(NSLocal, "k", []byte("v")))
				v, ok := tx.Get(NSLocal, "k")
				assert.True(t, ok)
				assert.Equal(t, "v", string(v))

				require.NoError(t, tx.Clear(NSLocal))
				_, ok = tx.Get(NSLocal, "k")
				assert.False(t, ok)
				return tx.Put(NSLocal, "after", []byte("x"))
			}))

			var keys []string
			require.NoError(t, s.Namespace(NSLocal).Iterate(func(k string, _ []byte) error {
				keys = append(keys, k)
				return nil
			}))
			assert.Equal(t, []string{"after"}, keys)
		})
	}
}

func TestQuotaRejectsWrite(t *testing.T) {
	opts := Options{Quotas: map[string]int64{NSModuleBlobs: 16}}
	for name, s := range backends(t, opts) {
		t.Run(name, func(t *testing.T) {
			blobs := s.Namespace(NSModuleBlobs)
			require.NoError(t, blobs.Set("a", []byte("0123456789")))
			used := blobs.Usage()
			assert.Equal(t, int64(11), used)

			err := blobs.Set("b", []byte("0123456789"))
			require.ErrorIs(t, err, domain.ErrQuotaExceeded)
			assert.Equal(t, used, blobs.Usage())

			// the whole transaction is rejected, not just the blob
			err = s.Update(func(tx *Txn) error {
				if err := tx.Put(NSModuleMeta, "b", []byte("{}")); err != nil {
					return err
				}
				return tx.Put(NSModuleBlobs, "b", []byte("0123456789"))
			})
			require.ErrorIs(t, err, domain.ErrQuotaExceeded)
			_, ok, _ := s.Namespace(NSModuleMeta).Get("b")
			assert.False(t, ok)

			// shrinking a value is always allowed
			require.NoError(t, blobs.Set("a", []byte("01")))
			require.NoError(t, blobs.Set("b", []byte("0123")))
		})
	}
}

func TestUsageSurvivesReopen(t *testing.T) {
	dir := t.TempDir()

	s, err := Open(dir, "", Options{})
	require.NoError(t, err)
	require.NoError(t, s.Namespace(NSModuleBlobs).Set("m1", make([]byte, 100)))
	require.NoError(t, s.Close())

	s, err = Open(dir, "", Options{})
	require.NoError(t, err)
	defer s.Close()
	assert.Equal(t, int64(102), s.Usage(NSModuleBlobs))
}

func TestJSONHelpers(t *testing.T) {
	s, err := Open("", "", Options{})
	require.NoError(t, err)

	type rec struct{ Name string }
	ns := s.Namespace(NSSnapshots)
	require.NoError(t, ns.SetJSON("c1", rec{Name: "Algebra"}))

	var got rec
	ok, err := ns.GetJSON("c1", &got)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "Algebra", got.Name)

	require.NoError(t, ns.Set("bad", []byte("{")))
	_, err = ns.GetJSON("bad", &got)
	assert.Error(t, err)
}

func TestKeysFiltersByPrefix(t *testing.T) {
	for name, s := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			ns := s.Namespace(NSResourceBlobs)
			require.NoError(t, ns.Set("c1/b2", []byte("two")))
			require.NoError(t, ns.Set("c1/b1", []byte("one")))
			require.NoError(t, ns.Set("c10/b1", []byte("other")))
			require.NoError(t, ns.Set("c2/b1", []byte("other")))

			keys, err := ns.Keys("c1/")
			require.NoError(t, err)
			assert.Equal(t, []string{"c1/b1", "c1/b2"}, keys)

			n, err := ns.Count()
			require.NoError(t, err)
			assert.Equal(t, 4, n)
		})
	}
}

func TestKeysSeesStagedWrites(t *testing.T) {
	for name, s := range backends(t, Options{}) {
		t.Run(name, func(t *testing.T) {
			require.NoError(t, s.Namespace(NSResourceBlobs).Set("c1/old", []byte("x")))

			err := s.Update(func(tx *Txn) error {
				require.NoError(t, tx.Delete(NSResourceBlobs, "c1/old"))
				require.NoError(t, tx.Put(NSResourceBlobs, "c1/new", []byte("y")))

				var seen []string
				require.NoError(t, tx.Keys(NSResourceBlobs, "c1/", func(k string) error {
					seen = append(seen, k)
					return nil
				}))
				assert.Equal(t, []string{"c1/new"}, seen)
				return nil
			})
			require.NoError(t, err)
		})
	}
}
