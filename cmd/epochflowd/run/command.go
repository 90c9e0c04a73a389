package run

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/BurntSushi/toml"
	"github.com/epochflow/epochflow/server"
	"github.com/epochflow/epochflow/services/diagnostic"
)

type Diagnostic interface {
	Starting(version, commit string)
	GoVersion()
	Info(msg string)
	Error(msg string, err error)
}

// Options represents the command line options of "epochflowd run".
type Options struct {
	ConfigPath string
	Input      string
	Output     string
	LogLevel   string
}

// Command represents the command executed by "epochflowd run".
type Command struct {
	Version string
	Commit  string

	Stdout io.Writer
	Stderr io.Writer

	Server      *server.Server
	Diag        Diagnostic
	diagService *diagnostic.Service
}

// NewCommand return a new instance of Command.
func NewCommand() *Command {
	return &Command{
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
}

// Run parses the config and runs the pipeline until the run completes or ctx is done.
func (cmd *Command) Run(ctx context.Context, options Options) error {
	config, err := ParseConfig(FindConfigPath(options.ConfigPath))
	if err != nil {
		return fmt.Errorf("parse config: %s", err)
	}

	// Apply any environment variables on top of the parsed config
	if err := config.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("apply env config: %v", err)
	}

	// Command line flags take precedence.
	if options.Input != "" {
		config.Pipeline.Input = options.Input
	}
	if options.Output != "" {
		config.Sink.Path = options.Output
	}
	if options.LogLevel != "" {
		config.Logging.Level = options.LogLevel
	}

	// Initialize Logging Services
	cmd.diagService = diagnostic.NewService(config.Logging, cmd.Stdout, cmd.Stderr)
	if err := cmd.diagService.Open(); err != nil {
		return fmt.Errorf("init logging: %s", err)
	}
	defer cmd.diagService.Close()
	cmd.Diag = cmd.diagService.NewCmdHandler()

	// Mark start-up in log.
	cmd.Diag.Starting(cmd.Version, cmd.Commit)
	cmd.Diag.GoVersion()

	// Create server from config and start it.
	buildInfo := server.BuildInfo{Version: cmd.Version, Commit: cmd.Commit}
	s, err := server.New(config, buildInfo, cmd.diagService)
	if err != nil {
		return fmt.Errorf("create server: %s", err)
	}
	if err := s.Open(); err != nil {
		return fmt.Errorf("open server: %s", err)
	}
	cmd.Server = s

	runErr := s.Run(ctx)
	if err := s.Close(); err != nil {
		cmd.Diag.Error("error closing server", err)
	}
	if runErr != nil {
		return runErr
	}
	cmd.Diag.Info("run completed")
	return nil
}

// FindConfigPath returns the config path specified or searches for a valid config path.
// It will return a path by searching in this order:
//  1. The given configPath
//  2. The environment variable EPOCHFLOW_CONFIG_PATH
//  3. The first non empty epochflow.conf file in the path:
//     - ~/.epochflow/
//     - /etc/epochflow/
func FindConfigPath(configPath string) string {
	if configPath != "" {
		if configPath == os.DevNull {
			return ""
		}
		return configPath
	} else if envVar := os.Getenv("EPOCHFLOW_CONFIG_PATH"); envVar != "" {
		return envVar
	}

	for _, path := range []string{
		os.ExpandEnv("${HOME}/.epochflow/epochflow.conf"),
		"/etc/epochflow/epochflow.conf",
	} {
		if fi, err := os.Stat(path); err == nil && fi.Size() != 0 {
			return path
		}
	}
	return ""
}

// ParseConfig parses the config at path on top of the defaults.
// Returns the default configuration if path is blank.
func ParseConfig(path string) (*server.Config, error) {
	config := server.NewConfig()
	if path == "" {
		return config, nil
	}
	if _, err := toml.DecodeFile(path, config); err != nil {
		return nil, err
	}
	return config, nil
}

// PrintConfig writes the configuration at path, merged over the defaults, as TOML.
func PrintConfig(w io.Writer, path string) error {
	config, err := ParseConfig(FindConfigPath(path))
	if err != nil {
		return fmt.Errorf("parse config: %s", err)
	}
	if err := config.ApplyEnvOverrides(); err != nil {
		return fmt.Errorf("apply env config: %v", err)
	}
	if err := config.Validate(); err != nil {
		return fmt.Errorf("%s. To generate a valid configuration file run `epochflowd config > epochflow.generated.conf`.", err)
	}
	if err := toml.NewEncoder(w).Encode(config); err != nil {
		return err
	}
	_, err = fmt.Fprint(w, "\n")
	return err
}
