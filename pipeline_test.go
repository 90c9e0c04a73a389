package epochflow_test

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/davecgh/go-spew/spew"
	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/services/epoch_store"
	"github.com/epochflow/epochflow/sink"
	"github.com/epochflow/epochflow/source"
	"github.com/google/go-cmp/cmp"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testConfigHash = 0x5eed

func testLines(n int) []string {
	words := []string{"alpha", "beta", "gamma", "delta", "epsilon", "zeta", "eta"}
	lines := make([]string, n)
	for i := range lines {
		lines[i] = fmt.Sprintf("%s %s w%d", words[i%len(words)], words[(i*3)%len(words)], i%11)
	}
	return lines
}

type launchTest struct {
	store    *epoch_store.Service
	writer   *sink.MemWriter
	launcher *epochflow.Launcher
}

func newLaunchTest(t *testing.T, lines []string, thresholds []int64, checkpointEvery int64) *launchTest {
	t.Helper()
	es, _ := newEpochStore(t)
	w := sink.NewMemWriter()
	return &launchTest{
		store:  es,
		writer: w,
		launcher: &epochflow.Launcher{
			Pipeline: epochflow.PipelineConfig{
				EdgeBufferSize:  10,
				EmitInterval:    25,
				CheckpointEvery: checkpointEvery,
			},
			// The mock clock never advances so only requested checkpoints run.
			Coordinator:     epochflow.CoordinatorConfig{Period: time.Second},
			Thresholds:      thresholds,
			ConfigHash:      testConfigHash,
			Store:           es,
			Reader:          source.NewLineReader(lines),
			Writer:          w,
			Clock:           clock.NewMock(),
			Diag:            diagService.NewPipelineHandler(),
			CoordinatorDiag: diagService.NewCoordinatorHandler(),
		},
	}
}

// runToCompletion relaunches after every injected crash and returns the number of launches.
func (lt *launchTest) runToCompletion(t *testing.T) int {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	for launches := 1; launches <= 10; launches++ {
		_, err := lt.launcher.Launch(ctx)
		if err == nil {
			return launches
		}
		require.Equal(t, epochflow.ErrInjectedCrash, errors.Cause(err), "launch %d: %v", launches, err)
	}
	t.Fatal("run did not complete after 10 launches")
	return 0
}

func decodeOutput(t *testing.T, data []byte) []models.OutputRecord {
	t.Helper()
	var out []models.OutputRecord
	scanner := bufio.NewScanner(bytes.NewReader(data))
	for scanner.Scan() {
		var o models.OutputRecord
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &o))
		out = append(out, o)
	}
	require.NoError(t, scanner.Err())
	return out
}

func expectedCounts(lines []string) map[string]int64 {
	counts := make(map[string]int64)
	for _, l := range lines {
		for _, tok := range epochflow.Tokenize(l) {
			counts[tok]++
		}
	}
	return counts
}

func TestLauncher_NoFaults(t *testing.T) {
	lines := testLines(520)
	lt := newLaunchTest(t, lines, nil, 0)
	assert.Equal(t, 1, lt.runToCompletion(t))

	out := decodeOutput(t, lt.writer.Bytes())
	// 20 full intervals and the final partial one.
	require.Len(t, out, 21)
	for i, o := range out {
		assert.Equal(t, int64(i), o.Seq)
	}
	last := out[len(out)-1]
	for k, c := range expectedCounts(lines) {
		assert.Equal(t, c, last.Count(k), k)
	}

	run, err := lt.store.CurrentRun()
	require.NoError(t, err)
	assert.True(t, run.Completed)
}

func TestLauncher_CrashesRecoverExactlyOnce(t *testing.T) {
	lines := testLines(520)

	clean := newLaunchTest(t, lines, []int64{0, 0}, 0)
	require.Equal(t, 1, clean.runToCompletion(t))

	faulty := newLaunchTest(t, lines, []int64{200, 370}, 0)
	// fault0 crashes on the first launch, fault1 on the second.
	assert.Equal(t, 3, faulty.runToCompletion(t))

	exp := decodeOutput(t, clean.writer.Bytes())
	got := decodeOutput(t, faulty.writer.Bytes())
	if diff := cmp.Diff(exp, got); diff != "" {
		t.Errorf("unexpected output -exp/+got:\n%s", diff)
	}

	run, err := faulty.store.CurrentRun()
	require.NoError(t, err)
	assert.Equal(t, 1, run.Attempts[epochflow.FaultNodeName(0)], spew.Sdump(run))
	assert.Equal(t, 1, run.Attempts[epochflow.FaultNodeName(1)], spew.Sdump(run))
	assert.Equal(t, 0, run.Attempts[epochflow.CountNodeName], spew.Sdump(run))
	assert.Equal(t, 3, run.Launches)
	assert.True(t, run.Completed)
}

func TestLauncher_CrashesWithCheckpoints(t *testing.T) {
	lines := testLines(520)

	clean := newLaunchTest(t, lines, nil, 50)
	require.Equal(t, 1, clean.runToCompletion(t))

	faulty := newLaunchTest(t, lines, []int64{200, 370}, 50)
	launches := faulty.runToCompletion(t)
	assert.GreaterOrEqual(t, launches, 2)

	if !bytes.Equal(clean.writer.Bytes(), faulty.writer.Bytes()) {
		t.Errorf("unexpected output:\nexp:\n%s\ngot:\n%s", clean.writer.Bytes(), faulty.writer.Bytes())
	}

	snaps, err := faulty.store.List()
	require.NoError(t, err)
	require.NotEmpty(t, snaps)
	assert.LessOrEqual(t, len(snaps), epoch_store.NewConfig().Retain)
	epochs := make([]models.Epoch, len(snaps))
	for i, s := range snaps {
		epochs[i] = s.EpochInfo()
	}
	for i := 1; i < len(epochs); i++ {
		assert.True(t, epochs[i].Follows(epochs[i-1]), "%v does not follow %v", epochs[i], epochs[i-1])
		assert.Equal(t, epochs[i-1].ID+1, epochs[i].ID)
	}
	assert.Equal(t, int64(len(lines)), epochs[len(epochs)-1].Offset)
}

func TestLauncher_CompletedRunStartsFresh(t *testing.T) {
	lines := testLines(60)
	lt := newLaunchTest(t, lines, nil, 0)
	require.Equal(t, 1, lt.runToCompletion(t))
	first, err := lt.store.CurrentRun()
	require.NoError(t, err)

	require.NoError(t, lt.writer.Truncate(0))
	res, err := lt.launcher.Launch(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, res.Run.ID)
	assert.Equal(t, models.ZeroEpoch, res.Restored)
	assert.Equal(t, int64(60), res.Absorbed)
}

func TestLauncher_ConfigChangeRefused(t *testing.T) {
	lt := newLaunchTest(t, testLines(300), []int64{100}, 0)
	_, err := lt.launcher.Launch(context.Background())
	require.Equal(t, epochflow.ErrInjectedCrash, errors.Cause(err))

	lt.launcher.ConfigHash++
	_, err = lt.launcher.Launch(context.Background())
	assert.Equal(t, epoch_store.ErrConfigChanged, errors.Cause(err))
}

func TestPipeline_EDot(t *testing.T) {
	lt := newLaunchTest(t, testLines(10), []int64{0}, 0)
	res, err := lt.launcher.Launch(context.Background())
	require.NoError(t, err)

	dot := string(res.Graph)
	assert.Contains(t, dot, fmt.Sprintf("digraph %q {", res.Run.ID))
	for _, edge := range []string{
		"source -> tokenize",
		"tokenize -> fault0",
		"fault0 -> count",
		"count -> sink",
	} {
		assert.Contains(t, dot, edge)
	}
}

func TestLauncher_RestoreBeyondInput(t *testing.T) {
	lt := newLaunchTest(t, testLines(520), []int64{200}, 50)
	res, err := lt.launcher.Launch(context.Background())
	require.True(t, epochflow.IsInjectedCrash(err), "unexpected error: %v", err)
	require.Greater(t, res.Committed.Offset, int64(10), "no epoch committed before the crash")

	// The relaunch restores an offset the shorter input cannot reach.
	lt.launcher.Reader = source.NewLineReader(testLines(10))
	require.NotPanics(t, func() {
		res, err = lt.launcher.Launch(context.Background())
	})
	require.Error(t, err)
	assert.False(t, epochflow.IsInjectedCrash(err))
	assert.Equal(t, res.Committed, res.Restored)
	assert.NotEmpty(t, res.Graph)
}

func TestLauncher_ThresholdCountsValidRecords(t *testing.T) {
	lines := testLines(10)
	lines[4] = "caf\xe9 au lait"
	// Only nine records reach the fault node.
	lt := newLaunchTest(t, lines, []int64{10}, 0)
	res, err := lt.launcher.Launch(context.Background())
	require.NoError(t, err)
	assert.Equal(t, int64(9), res.Absorbed)

	lt = newLaunchTest(t, lines, []int64{9}, 0)
	_, err = lt.launcher.Launch(context.Background())
	assert.True(t, epochflow.IsInjectedCrash(err), "unexpected error: %v", err)
}
