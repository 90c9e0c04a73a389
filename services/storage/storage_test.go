package storage_test

import (
	"bytes"
	"path/filepath"
	"testing"

	"github.com/epochflow/epochflow/services/storage"
	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

// Error used to specifically trigger a rollback for tests.
var rollbackErr = errors.New("rollback")

type createStore func(t *testing.T) storage.Interface

// stores is a map of all storage implementations,
// each test will be run against the stores found in this map.
var stores = map[string]createStore{
	"bolt": newBolt,
	"mem":  newMemStore,
}

func newBolt(t *testing.T) storage.Interface {
	db, err := bolt.Open(filepath.Join(t.TempDir(), "bolt.db"), 0600, nil)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return storage.NewBolt(db, "test")
}

func newMemStore(t *testing.T) storage.Interface {
	return storage.NewMemStore("test")
}

func TestStorage_CRUD(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			s := sc(t)
			err := s.Update(func(tx storage.Tx) error {
				key := "key0"
				value := []byte("test value")
				if exists, err := tx.Exists(key); err != nil {
					t.Fatal(err)
				} else if exists {
					t.Fatal("expected key to not exist")
				}

				if err := tx.Put(key, value); err != nil {
					t.Fatal(err)
				}
				if exists, err := tx.Exists(key); err != nil {
					t.Fatal(err)
				} else if !exists {
					t.Fatal("expected key to exist")
				}

				got, err := tx.Get(key)
				if err != nil {
					t.Fatal(err)
				}
				if !bytes.Equal(got.Value, value) {
					t.Fatalf("unexpected value got %q exp %q", string(got.Value), string(value))
				}

				if err := tx.Delete(key); err != nil {
					t.Fatal(err)
				}
				if _, err := tx.Get(key); err != storage.ErrNoKeyExists {
					t.Fatalf("expected ErrNoKeyExists got %v", err)
				}
				// Deleting twice is fine
				return tx.Delete(key)
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestStorage_Update_Rollback(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			s := sc(t)
			if err := s.Update(func(tx storage.Tx) error {
				return tx.Put("committed", []byte("1"))
			}); err != nil {
				t.Fatal(err)
			}
			err := s.Update(func(tx storage.Tx) error {
				if err := tx.Put("rolledback", []byte("2")); err != nil {
					return err
				}
				if err := tx.Delete("committed"); err != nil {
					return err
				}
				return rollbackErr
			})
			if err != rollbackErr {
				t.Fatalf("unexpected error got %v exp %v", err, rollbackErr)
			}
			err = s.View(func(tx storage.ReadOnlyTx) error {
				if exists, err := tx.Exists("rolledback"); err != nil {
					return err
				} else if exists {
					t.Error("expected rolled back key to not exist")
				}
				if exists, err := tx.Exists("committed"); err != nil {
					return err
				} else if !exists {
					t.Error("expected committed key to survive rollback")
				}
				return nil
			})
			if err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestStorage_List(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			s := sc(t)
			if err := s.Update(func(tx storage.Tx) error {
				for _, k := range []string{"epochs/0002", "epochs/0001", "runs/current", "epochs/0010"} {
					if err := tx.Put(k, []byte(k)); err != nil {
						return err
					}
				}
				return nil
			}); err != nil {
				t.Fatal(err)
			}
			var keys []string
			if err := s.View(func(tx storage.ReadOnlyTx) error {
				kvs, err := tx.List("epochs/")
				if err != nil {
					return err
				}
				for _, kv := range kvs {
					if kv.Key != string(kv.Value) {
						t.Errorf("unexpected value for %s: %q", kv.Key, kv.Value)
					}
					keys = append(keys, kv.Key)
				}
				return nil
			}); err != nil {
				t.Fatal(err)
			}
			exp := []string{"epochs/0001", "epochs/0002", "epochs/0010"}
			if len(keys) != len(exp) {
				t.Fatalf("unexpected keys got %v exp %v", keys, exp)
			}
			for i := range exp {
				if keys[i] != exp[i] {
					t.Errorf("unexpected key %d got %s exp %s", i, keys[i], exp[i])
				}
			}
		})
	}
}

func TestStorage_ListEmptyBucket(t *testing.T) {
	for name, sc := range stores {
		t.Run(name, func(t *testing.T) {
			s := sc(t)
			if err := s.View(func(tx storage.ReadOnlyTx) error {
				kvs, err := tx.List("")
				if err != nil {
					return err
				}
				if len(kvs) != 0 {
					t.Errorf("expected no keys, got %d", len(kvs))
				}
				return nil
			}); err != nil {
				t.Fatal(err)
			}
		})
	}
}

func TestMemStore_CommitHook(t *testing.T) {
	s := storage.NewMemStore("test")
	failErr := errors.New("disk full")
	s.CommitHook = func() error { return failErr }
	err := s.Update(func(tx storage.Tx) error {
		return tx.Put("k", []byte("v"))
	})
	if err != failErr {
		t.Fatalf("unexpected error got %v exp %v", err, failErr)
	}
	if s.Len() != 0 {
		t.Fatal("expected failed commit to leave the store empty")
	}
	// The lock must have been released.
	s.CommitHook = nil
	if err := s.Update(func(tx storage.Tx) error {
		return tx.Put("k", []byte("v"))
	}); err != nil {
		t.Fatal(err)
	}
}
