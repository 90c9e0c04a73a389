package diagnostic_test

import (
	"bytes"
	"errors"
	"testing"

	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/services/diagnostic"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestService_OpenJSON(t *testing.T) {
	var stderr bytes.Buffer
	c := diagnostic.NewConfig()
	c.Encoding = "json"
	c.Level = "debug"
	s := diagnostic.NewService(c, new(bytes.Buffer), &stderr)
	require.NoError(t, s.Open())
	s.NewStorageHandler().Opened("/tmp/epochflow.db", 2048)
	require.NoError(t, s.Close())
	assert.Contains(t, stderr.String(), `"msg":"opened database"`)
	assert.Contains(t, stderr.String(), `"size":"2.0 KiB"`)
}

func TestService_SetLevel(t *testing.T) {
	var stdout bytes.Buffer
	c := diagnostic.NewConfig()
	c.File = "STDOUT"
	s := diagnostic.NewService(c, &stdout, new(bytes.Buffer))
	require.NoError(t, s.Open())
	h := s.NewCoordinatorHandler()
	h.CycleStarted(1)
	assert.Empty(t, stdout.String())
	require.NoError(t, s.SetLevel("DEBUG"))
	h.CycleStarted(1)
	assert.Contains(t, stdout.String(), "checkpoint cycle started")
	assert.Error(t, s.SetLevel("LOUD"))
}

func TestConfig_Validate(t *testing.T) {
	c := diagnostic.NewConfig()
	require.NoError(t, c.Validate())
	c.Encoding = "xml"
	assert.Error(t, c.Validate())
	c = diagnostic.NewConfig()
	c.Level = "verbose"
	assert.Error(t, c.Validate())
}

func TestNodeHandler_SideChannel(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	s := diagnostic.NewServiceFromLogger(zap.New(core))
	nd := s.NewPipelineHandler().WithNodeContext("count")
	nd.EmittedOutput(models.NewOutputRecord(3, map[string]int64{"a": 1}))
	nd.InjectingCrash(200, epochflow.CrashAbort)
	nd.Error("boom", errors.New("failed"))

	entries := logs.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "emitted output", entries[0].Message)
	assert.Equal(t, int64(3), entries[0].ContextMap()["seq"])
	assert.Equal(t, "count", entries[0].ContextMap()["node"])
	assert.Equal(t, "abort", entries[1].ContextMap()["mode"])
	assert.Equal(t, zapcore.ErrorLevel, entries[2].Level)
}
