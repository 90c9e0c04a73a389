package diagnostic

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Service builds the root logger and the handlers every component logs through.
type Service struct {
	c      Config
	stdout io.Writer
	stderr io.Writer
	closer io.Closer
	level  zap.AtomicLevel

	Logger *zap.Logger
}

func NewService(c Config, stdout, stderr io.Writer) *Service {
	return &Service{
		c:      c,
		stdout: stdout,
		stderr: stderr,
		level:  zap.NewAtomicLevel(),
		Logger: zap.NewNop(),
	}
}

// NewServiceFromLogger wraps an existing logger.
func NewServiceFromLogger(l *zap.Logger) *Service {
	return &Service{
		level:  zap.NewAtomicLevel(),
		Logger: l,
	}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToUpper(level) {
	case "DEBUG":
		return zapcore.DebugLevel, nil
	case "INFO":
		return zapcore.InfoLevel, nil
	case "WARN":
		return zapcore.WarnLevel, nil
	case "ERROR":
		return zapcore.ErrorLevel, nil
	default:
		return 0, fmt.Errorf("unknown logging level %q", level)
	}
}

func (s *Service) Open() error {
	var output io.Writer
	switch s.c.File {
	case "STDERR":
		output = s.stderr
	case "STDOUT":
		output = s.stdout
	default:
		dir := filepath.Dir(s.c.File)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
		f, err := os.OpenFile(s.c.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return err
		}
		output = f
		s.closer = f
	}

	if err := s.SetLevel(s.c.Level); err != nil {
		return err
	}

	encConfig := zap.NewProductionEncoderConfig()
	encConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	var encoder zapcore.Encoder
	switch strings.ToLower(s.c.Encoding) {
	case "json":
		encoder = zapcore.NewJSONEncoder(encConfig)
	case "console", "":
		encoder = zapcore.NewConsoleEncoder(encConfig)
	default:
		return fmt.Errorf("unknown log encoding %s", s.c.Encoding)
	}

	s.Logger = zap.New(zapcore.NewCore(encoder, zapcore.AddSync(output), s.level))
	return nil
}

func (s *Service) Close() error {
	s.Logger.Sync()
	if s.closer != nil {
		return s.closer.Close()
	}
	return nil
}

// SetLevel changes the level of every logger created by the service.
func (s *Service) SetLevel(level string) error {
	l, err := parseLevel(level)
	if err != nil {
		return err
	}
	s.level.SetLevel(l)
	return nil
}

func (s *Service) NewPipelineHandler() *PipelineHandler {
	return &PipelineHandler{
		l: s.Logger.With(zap.String("service", "pipeline")),
	}
}

func (s *Service) NewCoordinatorHandler() *CoordinatorHandler {
	return &CoordinatorHandler{
		l: s.Logger.With(zap.String("service", "coordinator")),
	}
}

func (s *Service) NewStorageHandler() *StorageHandler {
	return &StorageHandler{
		l: s.Logger.With(zap.String("service", "storage")),
	}
}

func (s *Service) NewEpochStoreHandler() *EpochStoreHandler {
	return &EpochStoreHandler{
		l: s.Logger.With(zap.String("service", "epoch_store")),
	}
}

func (s *Service) NewServerHandler() *ServerHandler {
	return &ServerHandler{
		l: s.Logger.With(zap.String("source", "srv")),
	}
}

func (s *Service) NewStatsHandler() *StatsHandler {
	return &StatsHandler{
		l: s.Logger.With(zap.String("service", "stats")),
	}
}

func (s *Service) NewCmdHandler() *CmdHandler {
	return &CmdHandler{
		l: s.Logger.With(zap.String("service", "run")),
	}
}

func (s *Service) NewSupervisorHandler() *SupervisorHandler {
	return &SupervisorHandler{
		l: s.Logger.With(zap.String("service", "supervisor")),
	}
}

// BootstrapCmdHandler returns a handler that logs to stderr before the configuration is loaded.
func BootstrapCmdHandler() *CmdHandler {
	s := NewService(NewConfig(), os.Stdout, os.Stderr)
	if err := s.Open(); err != nil {
		return &CmdHandler{l: zap.NewNop()}
	}
	return s.NewCmdHandler()
}
