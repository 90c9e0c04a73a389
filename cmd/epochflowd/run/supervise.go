package run

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/command"
	"github.com/epochflow/epochflow/server"
	"github.com/epochflow/epochflow/services/diagnostic"
	"github.com/pkg/errors"
)

type SuperviseDiagnostic interface {
	Spawned(pid int, args []string)
	ChildExited(code int)
	Error(msg string, err error)
}

// SuperviseOptions represents the command line options of "epochflowd supervise".
type SuperviseOptions struct {
	ConfigPath    string
	MaxRelaunches int
	// Arguments passed to the run command of each child.
	RunArgs []string
}

// SuperviseCommand represents the command executed by "epochflowd supervise".
// It runs the pipeline in child processes and relaunches a child that exits
// with ExitCodeInjectedCrash.
type SuperviseCommand struct {
	// Prog is the epochflowd executable started for each child.
	Prog      string
	Commander command.Commander

	Stdout io.Writer
	Stderr io.Writer

	Diag        SuperviseDiagnostic
	diagService *diagnostic.Service
}

func NewSuperviseCommand() *SuperviseCommand {
	prog, err := os.Executable()
	if err != nil {
		prog = os.Args[0]
	}
	return &SuperviseCommand{
		Prog:      prog,
		Commander: command.ExecCommander,
		Stdout:    os.Stdout,
		Stderr:    os.Stderr,
	}
}

func (cmd *SuperviseCommand) Run(ctx context.Context, options SuperviseOptions) error {
	path := FindConfigPath(options.ConfigPath)
	config, err := ParseConfig(path)
	if err != nil {
		return fmt.Errorf("parse config: %s", err)
	}
	if err := config.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("apply env config: %v", err)
	}
	if options.MaxRelaunches > 0 {
		config.Supervisor.MaxRelaunches = options.MaxRelaunches
	}
	if err := config.Supervisor.Validate(); err != nil {
		return err
	}

	cmd.diagService = diagnostic.NewService(config.Logging, cmd.Stdout, cmd.Stderr)
	if err := cmd.diagService.Open(); err != nil {
		return fmt.Errorf("init logging: %s", err)
	}
	defer cmd.diagService.Close()
	if cmd.Diag == nil {
		cmd.Diag = cmd.diagService.NewCmdHandler()
	}

	args := []string{"run"}
	if path != "" {
		args = append(args, "--config", path)
	}
	args = append(args, options.RunArgs...)

	s := server.NewSupervisor(config.Supervisor, epochflow.IsInjectedCrash, cmd.diagService.NewSupervisorHandler())
	return s.Run(ctx, func(ctx context.Context) error {
		return cmd.spawn(ctx, args)
	})
}

// spawn runs one child to completion.
// A child that exits with ExitCodeInjectedCrash returns an error caused by ErrInjectedCrash.
func (cmd *SuperviseCommand) spawn(ctx context.Context, args []string) error {
	c := cmd.Commander.NewCommand(command.CommandInfo{
		Prog: cmd.Prog,
		Args: args,
		Env:  os.Environ(),
	})
	c.Stdout(cmd.Stdout)
	c.Stderr(cmd.Stderr)
	if err := c.Start(); err != nil {
		return errors.Wrap(err, "start child")
	}
	cmd.Diag.Spawned(c.Pid(), args)

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			c.Kill()
		case <-done:
		}
	}()

	err := c.Wait()
	code, ok := command.ExitCode(err)
	if !ok {
		return errors.Wrap(err, "wait for child")
	}
	cmd.Diag.ChildExited(code)
	switch code {
	case 0:
		return nil
	case epochflow.ExitCodeInjectedCrash:
		return errors.Wrapf(epochflow.ErrInjectedCrash, "child %d", c.Pid())
	default:
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return fmt.Errorf("child %d exited with code %d", c.Pid(), code)
	}
}
