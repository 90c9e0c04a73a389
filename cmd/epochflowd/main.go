package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/cmd/epochflowd/run"
	"github.com/epochflow/epochflow/services/diagnostic"
	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
)

type Diagnostic interface {
	Info(msg string)
	Error(msg string, err error)
}

// These variables are populated via the Go linker.
var (
	version string
	commit  string
)

func init() {
	// If commit is not set, make that clear.
	if commit == "" {
		commit = "unknown"
	}
	if version == "" {
		version = "dev"
	}
}

func main() {
	m := NewMain()
	os.Exit(m.Run(os.Args...))
}

// Main represents the program execution.
type Main struct {
	Diag Diagnostic

	Stdout io.Writer
	Stderr io.Writer
}

// NewMain return a new instance of Main.
func NewMain() *Main {
	return &Main{
		Diag:   diagnostic.BootstrapCmdHandler(),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run runs the command named in args and returns the process exit code.
func (m *Main) Run(args ...string) int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err := m.App().RunContext(ctx, args)
	return m.exitCode(err)
}

// exitCode maps the error of a command to the exit code of the process:
// 0 on success, ExitCodeInjectedCrash when the last launch crashed, 1 otherwise.
func (m *Main) exitCode(err error) int {
	if err == nil {
		return 0
	}
	if errors.Cause(err) == epochflow.ErrInjectedCrash {
		m.Diag.Error("stopped by injected crash", err)
		return epochflow.ExitCodeInjectedCrash
	}
	m.Diag.Error("encountered error", err)
	return 1
}

func (m *Main) App() *cli.App {
	configFlag := &cli.StringFlag{
		Name:    "config",
		Aliases: []string{"c"},
		Usage:   "path to the configuration file",
	}
	return &cli.App{
		Name:      "epochflowd",
		Usage:     "fault tolerant word count pipeline with exactly-once output",
		Version:   fmt.Sprintf("%s (git: %s)", version, commit),
		Writer:    m.Stdout,
		ErrWriter: m.Stderr,
		// Errors are reported through Main's exit code.
		ExitErrHandler: func(*cli.Context, error) {},
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "run the pipeline until the input is fully processed",
				Flags: []cli.Flag{
					configFlag,
					&cli.StringFlag{Name: "input", Usage: "override pipeline input path"},
					&cli.StringFlag{Name: "output", Usage: "override sink output path"},
					&cli.StringFlag{Name: "log-level", Usage: "one of DEBUG, INFO, WARN, ERROR"},
				},
				Action: func(c *cli.Context) error {
					cmd := run.NewCommand()
					cmd.Version = version
					cmd.Commit = commit
					cmd.Stdout = m.Stdout
					cmd.Stderr = m.Stderr
					err := cmd.Run(c.Context, run.Options{
						ConfigPath: c.String("config"),
						Input:      c.String("input"),
						Output:     c.String("output"),
						LogLevel:   c.String("log-level"),
					})
					// Use diagnostic from cmd since it may have special config now.
					if cmd.Diag != nil {
						m.Diag = cmd.Diag
					}
					return err
				},
			},
			{
				Name:      "supervise",
				Usage:     "run the pipeline in child processes and relaunch them after injected crashes",
				ArgsUsage: "[-- run flags]",
				Flags: []cli.Flag{
					configFlag,
					&cli.IntFlag{Name: "max-relaunches", Usage: "maximum number of relaunches, overrides the configuration"},
				},
				Action: func(c *cli.Context) error {
					cmd := run.NewSuperviseCommand()
					cmd.Stdout = m.Stdout
					cmd.Stderr = m.Stderr
					return cmd.Run(c.Context, run.SuperviseOptions{
						ConfigPath:    c.String("config"),
						MaxRelaunches: c.Int("max-relaunches"),
						RunArgs:       c.Args().Slice(),
					})
				},
			},
			{
				Name:  "config",
				Usage: "print the configuration merged over the defaults",
				Flags: []cli.Flag{configFlag},
				Action: func(c *cli.Context) error {
					return run.PrintConfig(m.Stdout, c.String("config"))
				},
			},
		},
	}
}
