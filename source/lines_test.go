package source_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/source"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpenLines_ReplaysAnyOffset(t *testing.T) {
	path := filepath.Join(t.TempDir(), "input.txt")
	require.NoError(t, os.WriteFile(path, []byte("one fish\ntwo fish\n\nred fish\n"), 0600))

	r, err := source.OpenLines(path)
	require.NoError(t, err)
	assert.Equal(t, int64(4), r.Len())

	rec, err := r.Read(3)
	require.NoError(t, err)
	assert.Equal(t, models.Record{Offset: 3, Payload: "red fish"}, rec)

	// Reading an earlier offset again yields the same record.
	first, err := r.Read(0)
	require.NoError(t, err)
	again, err := r.Read(0)
	require.NoError(t, err)
	assert.Equal(t, first, again)

	empty, err := r.Read(2)
	require.NoError(t, err)
	assert.Equal(t, "", empty.Payload)
}

func TestLineReader_Exhausted(t *testing.T) {
	r := source.NewLineReader([]string{"a"})
	_, err := r.Read(1)
	assert.Equal(t, source.ErrExhausted, err)

	_, err = r.Read(-1)
	assert.Error(t, err)
}

func TestOpenLines_MissingFile(t *testing.T) {
	_, err := source.OpenLines(filepath.Join(t.TempDir(), "missing"))
	assert.Error(t, err)
}
