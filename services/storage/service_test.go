package storage_test

import (
	"path/filepath"
	"testing"

	"github.com/epochflow/epochflow/services/storage"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type diag struct {
	opened string
}

func (d *diag) Opened(path string, size int64) { d.opened = path }
func (d *diag) Error(string, error)            {}

func TestService_StorePersistsAcrossReopen(t *testing.T) {
	c := storage.NewConfig()
	c.BoltDBPath = filepath.Join(t.TempDir(), "nested", "epochflow.db")
	d := new(diag)

	s := storage.NewService(c, d)
	require.NoError(t, s.Open())
	assert.Equal(t, c.BoltDBPath, d.opened)
	st := s.Store("epochs")
	assert.Same(t, st, s.Store("epochs"))
	require.NoError(t, st.Update(func(tx storage.Tx) error {
		return tx.Put("latest", []byte("7"))
	}))
	require.NoError(t, s.Close())

	s = storage.NewService(c, d)
	require.NoError(t, s.Open())
	defer s.Close()
	require.NoError(t, s.Store("epochs").View(func(tx storage.ReadOnlyTx) error {
		kv, err := tx.Get("latest")
		if err != nil {
			return err
		}
		assert.Equal(t, "7", string(kv.Value))
		return nil
	}))
}

func TestConfig_Validate(t *testing.T) {
	c := storage.NewConfig()
	require.NoError(t, c.Validate())
	c.BoltDBPath = ""
	assert.Error(t, c.Validate())
}
