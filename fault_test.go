package epochflow_test

import (
	"testing"

	"github.com/epochflow/epochflow"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestCrashDirective_Triggers(t *testing.T) {
	testCases := []struct {
		name      string
		directive epochflow.CrashDirective
		seen      int64
		exp       bool
	}{
		{
			name:      "first attempt at threshold",
			directive: epochflow.CrashDirective{Threshold: 200, Attempt: epochflow.FirstAttempt},
			seen:      200,
			exp:       true,
		},
		{
			name:      "first attempt before threshold",
			directive: epochflow.CrashDirective{Threshold: 200, Attempt: epochflow.FirstAttempt},
			seen:      199,
		},
		{
			name:      "first attempt past threshold",
			directive: epochflow.CrashDirective{Threshold: 200, Attempt: epochflow.FirstAttempt},
			seen:      201,
		},
		{
			name:      "relaunch at threshold",
			directive: epochflow.CrashDirective{Threshold: 200, Attempt: epochflow.Relaunch},
			seen:      200,
		},
		{
			name:      "disabled",
			directive: epochflow.CrashDirective{Threshold: 0, Attempt: epochflow.FirstAttempt},
			seen:      0,
		},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.exp, tc.directive.Triggers(tc.seen))
		})
	}
}

func TestAttemptOf(t *testing.T) {
	assert.Equal(t, epochflow.FirstAttempt, epochflow.AttemptOf(0))
	assert.Equal(t, epochflow.Relaunch, epochflow.AttemptOf(1))
	assert.Equal(t, epochflow.Relaunch, epochflow.AttemptOf(5))
	assert.Equal(t, "relaunch", epochflow.Relaunch.String())
}

func TestParseCrashMode(t *testing.T) {
	m, err := epochflow.ParseCrashMode("exit")
	assert.NoError(t, err)
	assert.Equal(t, epochflow.CrashExit, m)
	m, err = epochflow.ParseCrashMode("abort")
	assert.NoError(t, err)
	assert.Equal(t, epochflow.CrashAbort, m)
	_, err = epochflow.ParseCrashMode("explode")
	assert.Error(t, err)
}

func TestIsInjectedCrash(t *testing.T) {
	assert.True(t, epochflow.IsInjectedCrash(epochflow.ErrInjectedCrash))
	assert.True(t, epochflow.IsInjectedCrash(errors.Wrap(errors.Wrap(epochflow.ErrInjectedCrash, "fault0"), "launch")))
	assert.False(t, epochflow.IsInjectedCrash(errors.New("injected crash")))
	assert.False(t, epochflow.IsInjectedCrash(nil))
}
