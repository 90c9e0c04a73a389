package commandtest

import (
	"fmt"
	"io"
	"sync"

	"github.com/epochflow/epochflow/command"
)

// ExitError is returned by Wait for a non zero exit code.
type ExitError struct {
	Code int
}

func (e ExitError) Error() string { return fmt.Sprintf("exit status %d", e.Code) }
func (e ExitError) ExitCode() int { return e.Code }

type CommanderTest struct {
	sync.Mutex
	// ExitCodes are returned by the Wait of successive commands.
	// Commands beyond the list exit with 0.
	ExitCodes []int
	Commands  []*CommandTest

	NewCommandHook func(c *CommandTest)
}

func (c *CommanderTest) NewCommand(ci command.CommandInfo) command.Command {
	c.Lock()
	defer c.Unlock()
	cmd := &CommandTest{
		Info: ci,
		pid:  1000 + len(c.Commands),
	}
	if len(c.Commands) < len(c.ExitCodes) {
		cmd.ExitCode = c.ExitCodes[len(c.Commands)]
	}
	c.Commands = append(c.Commands, cmd)
	if c.NewCommandHook != nil {
		c.NewCommandHook(cmd)
	}
	return cmd
}

type CommandTest struct {
	sync.Mutex
	Info     command.CommandInfo
	ExitCode int
	StartErr error

	Started     bool
	Waited      bool
	Killed      bool
	StdoutValue io.Writer
	StderrValue io.Writer

	pid int
}

func (c *CommandTest) Start() error {
	c.Lock()
	defer c.Unlock()
	if c.StartErr != nil {
		return c.StartErr
	}
	c.Started = true
	return nil
}

func (c *CommandTest) Wait() error {
	c.Lock()
	defer c.Unlock()
	c.Waited = true
	if c.ExitCode != 0 {
		return ExitError{Code: c.ExitCode}
	}
	return nil
}

func (c *CommandTest) Pid() int {
	c.Lock()
	defer c.Unlock()
	return c.pid
}

func (c *CommandTest) Stdout(out io.Writer) {
	c.Lock()
	c.StdoutValue = out
	c.Unlock()
}

func (c *CommandTest) Stderr(err io.Writer) {
	c.Lock()
	c.StderrValue = err
	c.Unlock()
}

func (c *CommandTest) Kill() {
	c.Lock()
	c.Killed = true
	c.Unlock()
}
