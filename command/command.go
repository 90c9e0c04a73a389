// Package command starts child processes.
package command

import (
	"io"
	"os/exec"

	"github.com/pkg/errors"
)

type Command interface {
	Start() error
	Wait() error
	// Pid returns the process ID once started.
	Pid() int

	Stdout(io.Writer)
	Stderr(io.Writer)

	Kill()
}

type Commander interface {
	NewCommand(CommandInfo) Command
}

// Necessary information to create a new command
type CommandInfo struct {
	Prog string
	Args []string
	Env  []string
}

// ExecCommander creates commands using the golang exec package.
var ExecCommander = execCommander{}

type execCommander struct{}

func (execCommander) NewCommand(ci CommandInfo) Command {
	cmd := exec.Command(ci.Prog, ci.Args...)
	cmd.Env = ci.Env
	return killCmd{Cmd: cmd}
}

type killCmd struct {
	*exec.Cmd
}

func (k killCmd) Pid() int {
	if k.Process == nil {
		return 0
	}
	return k.Process.Pid
}

func (k killCmd) Stdout(out io.Writer) { k.Cmd.Stdout = out }
func (k killCmd) Stderr(err io.Writer) { k.Cmd.Stderr = err }

func (k killCmd) Kill() {
	if k.Process != nil {
		k.Process.Kill()
	}
}

// ExitCode returns the exit code carried by an error returned from Command.Wait.
// A nil error is exit code 0. ok is false when err does not carry an exit code.
func ExitCode(err error) (code int, ok bool) {
	if err == nil {
		return 0, true
	}
	var exitErr interface{ ExitCode() int }
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return -1, false
}
