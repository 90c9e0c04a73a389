package storage

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
	bolt "go.etcd.io/bbolt"
)

const DefaultOpenTimeout = 5 * time.Second

type Diagnostic interface {
	Opened(path string, size int64)
	Error(msg string, err error)
}

// Service owns the bolt database and hands out namespaced stores.
type Service struct {
	dbpath  string
	timeout time.Duration

	boltdb *bolt.DB
	stores map[string]Interface
	mu     sync.Mutex

	diag Diagnostic
}

func NewService(conf Config, d Diagnostic) *Service {
	return &Service{
		dbpath:  conf.BoltDBPath,
		timeout: time.Duration(conf.OpenTimeout),
		diag:    d,
		stores:  make(map[string]Interface),
	}
}

func (s *Service) Open() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	err := os.MkdirAll(filepath.Dir(s.dbpath), 0755)
	if err != nil {
		return errors.Wrapf(err, "mkdir dirs %q", s.dbpath)
	}
	// The file lock is held by a previous process until it fully exits.
	db, err := bolt.Open(s.dbpath, 0600, &bolt.Options{Timeout: s.timeout})
	if err != nil {
		return errors.Wrapf(err, "open boltdb @ %q", s.dbpath)
	}
	s.boltdb = db
	var size int64
	if info, err := os.Stat(s.dbpath); err == nil {
		size = info.Size()
	}
	s.diag.Opened(s.dbpath, size)
	return nil
}

func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.boltdb != nil {
		err := s.boltdb.Close()
		s.boltdb = nil
		s.stores = make(map[string]Interface)
		return err
	}
	return nil
}

// Return a namespaced store.
// Calling Store with the same namespace returns the same Store.
func (s *Service) Store(name string) Interface {
	s.mu.Lock()
	defer s.mu.Unlock()
	if store, ok := s.stores[name]; ok {
		return store
	}
	store := NewBolt(s.boltdb, name)
	s.stores[name] = store
	return store
}
