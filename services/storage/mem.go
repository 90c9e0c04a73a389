package storage

import (
	"fmt"
	"sort"
	"strings"
	"sync"
)

// MemStore is an in memory only implementation of the storage.Interface.
// This is intend to be used for testing use cases only.
type MemStore struct {
	mu    sync.Mutex
	Name  string
	store map[string][]byte

	// CommitHook, when set, is called before every commit.
	// A non nil error fails the commit and the transaction is rolled back.
	CommitHook func() error
}

func NewMemStore(name string) *MemStore {
	return &MemStore{
		Name:  name,
		store: make(map[string][]byte),
	}
}

func (s *MemStore) View(f func(tx ReadOnlyTx) error) error {
	return DoView(s, f)
}

func (s *MemStore) Update(f func(tx Tx) error) error {
	return DoUpdate(s, f)
}

// Len reports the number of keys in the store.
func (s *MemStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.store)
}

func (s *MemStore) BeginTx() (Tx, error) {
	return s.newTx()
}

func (s *MemStore) BeginReadOnlyTx() (ReadOnlyTx, error) {
	return s.newTx()
}

func (s *MemStore) newTx() (*memTx, error) {
	// A Tx carries the lock, and must be committed or rolledback before another operation can continue.
	s.mu.Lock()
	store := make(map[string][]byte, len(s.store))
	for k, v := range s.store {
		store[k] = v
	}
	return &memTx{
		m:     s,
		store: store,
	}, nil
}

type keySortedKVs []*KeyValue

func (s keySortedKVs) Len() int               { return len(s) }
func (s keySortedKVs) Less(i int, j int) bool { return s[i].Key < s[j].Key }
func (s keySortedKVs) Swap(i int, j int)      { s[i], s[j] = s[j], s[i] }

type memTxState int

const (
	unCommitted memTxState = iota
	committed
	rolledback
)

func (s memTxState) String() string {
	switch s {
	case unCommitted:
		return "uncommitted"
	case committed:
		return "committed"
	case rolledback:
		return "rolledback"
	default:
		return "unknown"
	}
}

type memTx struct {
	state memTxState
	m     *MemStore
	store map[string][]byte
}

func (t *memTx) Get(key string) (*KeyValue, error) {
	value, ok := t.store[key]
	if !ok {
		return nil, ErrNoKeyExists
	}
	return &KeyValue{Key: key, Value: append([]byte(nil), value...)}, nil
}

func (t *memTx) Exists(key string) (bool, error) {
	_, ok := t.store[key]
	return ok, nil
}

func (t *memTx) List(prefix string) ([]*KeyValue, error) {
	kvs := make([]*KeyValue, 0, len(t.store))
	for k, v := range t.store {
		if strings.HasPrefix(k, prefix) {
			kvs = append(kvs, &KeyValue{Key: k, Value: append([]byte(nil), v...)})
		}
	}
	sort.Sort(keySortedKVs(kvs))
	return kvs, nil
}

func (t *memTx) Put(key string, value []byte) error {
	t.store[key] = append([]byte(nil), value...)
	return nil
}

func (t *memTx) Delete(key string) error {
	delete(t.store, key)
	return nil
}

func (t *memTx) Commit() error {
	if t.state != unCommitted {
		return fmt.Errorf("cannot commit transaction, transaction in state %v", t.state)
	}
	if t.m.CommitHook != nil {
		if err := t.m.CommitHook(); err != nil {
			t.state = rolledback
			t.m.mu.Unlock()
			return err
		}
	}
	t.m.store = t.store
	t.state = committed
	t.m.mu.Unlock()
	return nil
}

func (t *memTx) Rollback() error {
	if t.state == unCommitted {
		t.state = rolledback
		t.m.mu.Unlock()
	}
	return nil
}
