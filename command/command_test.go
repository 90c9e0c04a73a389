package command_test

import (
	"testing"

	"github.com/epochflow/epochflow/command"
	"github.com/epochflow/epochflow/command/commandtest"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestExitCode(t *testing.T) {
	code, ok := command.ExitCode(nil)
	assert.True(t, ok)
	assert.Equal(t, 0, code)

	code, ok = command.ExitCode(errors.Wrap(commandtest.ExitError{Code: 3}, "wait"))
	assert.True(t, ok)
	assert.Equal(t, 3, code)

	_, ok = command.ExitCode(errors.New("no such file"))
	assert.False(t, ok)
}

func TestCommanderTest_ExitCodes(t *testing.T) {
	c := &commandtest.CommanderTest{ExitCodes: []int{3, 1}}
	for _, exp := range []int{3, 1, 0} {
		cmd := c.NewCommand(command.CommandInfo{Prog: "epochflowd"})
		assert.NoError(t, cmd.Start())
		code, _ := command.ExitCode(cmd.Wait())
		assert.Equal(t, exp, code)
	}
	assert.Len(t, c.Commands, 3)
}
