package main

import (
	"bytes"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/server"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type testDiag struct {
	errors []error
}

func (d *testDiag) Info(string)               {}
func (d *testDiag) Error(_ string, err error) { d.errors = append(d.errors, err) }

func newTestMain() (*Main, *bytes.Buffer) {
	var out bytes.Buffer
	return &Main{
		Diag:   new(testDiag),
		Stdout: &out,
		Stderr: ioutil.Discard,
	}, &out
}

func TestMain_ExitCodes(t *testing.T) {
	m, _ := newTestMain()
	assert.Equal(t, 0, m.exitCode(nil))
	assert.Equal(t, epochflow.ExitCodeInjectedCrash, m.exitCode(errors.Wrap(epochflow.ErrInjectedCrash, "fault0")))
	assert.Equal(t, 1, m.exitCode(errors.New("boom")))
}

func TestMain_Config(t *testing.T) {
	m, out := newTestMain()
	require.Equal(t, 0, m.Run("epochflowd", "config", "--config", os.DevNull))

	c := server.NewConfig()
	_, err := toml.Decode(out.String(), c)
	require.NoError(t, err)
	exp := server.NewConfig()
	assert.Equal(t, exp.Pipeline, c.Pipeline)
	assert.Equal(t, exp.Checkpoint, c.Checkpoint)
	assert.Equal(t, exp.Storage, c.Storage)
	assert.Equal(t, exp.Supervisor, c.Supervisor)
	assert.Contains(t, out.String(), "[checkpoint]")
}

func TestMain_RunCompletes(t *testing.T) {
	dir := t.TempDir()
	input := filepath.Join(dir, "input.txt")
	require.NoError(t, ioutil.WriteFile(input, []byte(strings.Repeat("a b c\n", 60)), 0644))
	conf := filepath.Join(dir, "epochflow.conf")
	require.NoError(t, ioutil.WriteFile(conf, []byte(`
[storage]
  boltdb = "`+filepath.Join(dir, "epochflow.db")+`"
[logging]
  level = "ERROR"
[fault]
  enabled = true
  thresholds = [20]
`), 0644))
	output := filepath.Join(dir, "output.jsonl")

	m, _ := newTestMain()
	code := m.Run("epochflowd", "run", "--config", conf, "--input", input, "--output", output)
	require.Equal(t, 0, code)

	data, err := ioutil.ReadFile(output)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, `{"seq":2,"entries":[{"key":"a","count":60},{"key":"b","count":60},{"key":"c","count":60}]}`, lines[2])
}

func TestMain_UnknownConfig(t *testing.T) {
	m, _ := newTestMain()
	assert.Equal(t, 1, m.Run("epochflowd", "run", "--config", filepath.Join(t.TempDir(), "missing.conf")))
}
