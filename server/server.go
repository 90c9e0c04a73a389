// Provides a server type for starting and configuring an epochflow pipeline.
package server

import (
	"context"
	"fmt"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/epochflow/epochflow"
	"github.com/epochflow/epochflow/services/diagnostic"
	"github.com/epochflow/epochflow/services/epoch_store"
	"github.com/epochflow/epochflow/services/stats"
	"github.com/epochflow/epochflow/services/storage"
	"github.com/epochflow/epochflow/sink"
	"github.com/epochflow/epochflow/source"
)

// BuildInfo represents the build details for the server code.
type BuildInfo struct {
	Version string
	Commit  string
}

type Diagnostic interface {
	LaunchFailed(runID string, err error)
	LaunchCrashed(runID string, err error)
	RunCompleted(runID string, absorbed int64, written int64, took time.Duration)
	PipelineGraph(dot []byte)
	Error(msg string, err error)
}

// Service is a long lived component opened before the first launch and closed after the last.
type Service interface {
	Open() error
	Close() error
}

// Server represents a container for the storage, the input, the output and the
// launches of the pipeline between them.
// It is built using a Config and it manages the startup and shutdown of all
// services in the proper order.
type Server struct {
	config     *Config
	configHash uint64

	BuildInfo BuildInfo

	DiagService    *diagnostic.Service
	StorageService *storage.Service
	EpochStore     *epoch_store.Service
	StatsService   *stats.Service
	Supervisor     *Supervisor

	// Clock drives checkpoint periods.
	Clock clock.Clock

	// Reader and Writer are opened from the config unless set before Open.
	Reader source.Reader
	Writer sink.Writer

	// List of services in startup order
	Services []Service

	diag Diagnostic
}

// New returns a new instance of Server built from a config.
func New(c *Config, buildInfo BuildInfo, diagService *diagnostic.Service) (*Server, error) {
	if err := c.Validate(); err != nil {
		return nil, fmt.Errorf("%s. To generate a valid configuration file run `epochflowd config > epochflow.generated.conf`.", err)
	}
	hash, err := c.Hash()
	if err != nil {
		return nil, err
	}
	s := &Server{
		config:      c,
		configHash:  hash,
		BuildInfo:   buildInfo,
		DiagService: diagService,
		Clock:       clock.New(),
		diag:        diagService.NewServerHandler(),
	}

	// Set published vars
	epochflow.HostVar.Set(c.Hostname)
	epochflow.ProductVar.Set(epochflow.Product)
	epochflow.VersionVar.Set(buildInfo.Version)

	s.appendStorageService()
	s.appendEpochStore()
	// Append StatsService last so that metrics are not served until everything else succeeded.
	s.appendStatsService()

	s.Supervisor = NewSupervisor(c.Supervisor, epochflow.IsInjectedCrash, diagService.NewSupervisorHandler())
	return s, nil
}

func (s *Server) appendStorageService() {
	srv := storage.NewService(s.config.Storage, s.DiagService.NewStorageHandler())
	s.StorageService = srv
	s.Services = append(s.Services, srv)
}

func (s *Server) appendEpochStore() {
	srv := epoch_store.NewService(s.config.Checkpoint, s.DiagService.NewEpochStoreHandler())
	srv.StorageService = s.StorageService
	s.EpochStore = srv
	s.Services = append(s.Services, srv)
}

func (s *Server) appendStatsService() {
	srv := stats.NewService(s.config.Stats, s.DiagService.NewStatsHandler())
	s.StatsService = srv
	s.Services = append(s.Services, srv)
}

// Open opens all the services, the input and the output.
func (s *Server) Open() error {
	if err := s.startServices(); err != nil {
		s.Close()
		return err
	}
	if s.Reader == nil {
		r, err := source.OpenLines(s.config.Pipeline.Input)
		if err != nil {
			s.Close()
			return err
		}
		s.Reader = r
	}
	if s.Writer == nil {
		w, err := sink.OpenFile(s.config.Sink.Path, s.config.Sink.FlushEvery)
		if err != nil {
			s.Close()
			return err
		}
		s.Writer = w
	}
	return nil
}

func (s *Server) startServices() error {
	for _, service := range s.Services {
		if err := service.Open(); err != nil {
			return fmt.Errorf("open service %T: %s", service, err)
		}
	}
	return nil
}

// Close closes the output and all services.
func (s *Server) Close() error {
	var firstErr error
	if s.Writer != nil {
		if err := s.Writer.Close(); err != nil {
			s.diag.Error("error closing output", err)
			firstErr = err
		}
		s.Writer = nil
	}
	// Close services in reverse startup order.
	for i := len(s.Services) - 1; i >= 0; i-- {
		service := s.Services[i]
		if err := service.Close(); err != nil {
			s.diag.Error(fmt.Sprintf("error closing service %T", service), err)
			if firstErr == nil {
				firstErr = err
			}
		}
	}
	return firstErr
}

// Run launches the pipeline until the run completes.
// Launches that end with an injected crash are relaunched by the supervisor.
func (s *Server) Run(ctx context.Context) error {
	return s.Supervisor.Run(ctx, s.Launch)
}

// Launch runs the pipeline once, restoring the latest committed epoch of the current run.
func (s *Server) Launch(ctx context.Context) error {
	start := time.Now()
	l := &epochflow.Launcher{
		Pipeline: epochflow.PipelineConfig{
			EdgeBufferSize:  s.config.Pipeline.EdgeBufferSize,
			EmitInterval:    s.config.Pipeline.EmitInterval,
			RateLimit:       s.config.Pipeline.RateLimit,
			CheckpointEvery: s.config.Checkpoint.CheckpointEvery,
			CrashMode:       s.config.Fault.CrashMode(),
		},
		Coordinator: epochflow.CoordinatorConfig{
			Period: time.Duration(s.config.Checkpoint.Period),
		},
		Thresholds:      s.config.Fault.CrashThresholds(),
		ConfigHash:      s.configHash,
		Store:           s.EpochStore,
		Reader:          s.Reader,
		Writer:          s.Writer,
		Clock:           s.Clock,
		Diag:            s.DiagService.NewPipelineHandler(),
		CoordinatorDiag: s.DiagService.NewCoordinatorHandler(),
	}
	res, err := l.Launch(ctx)
	if res.Graph != nil {
		s.diag.PipelineGraph(res.Graph)
	}
	if epochflow.IsInjectedCrash(err) {
		s.diag.LaunchCrashed(res.Run.ID, err)
		return err
	}
	if err != nil {
		s.diag.LaunchFailed(res.Run.ID, err)
		return err
	}
	s.diag.RunCompleted(res.Run.ID, res.Absorbed, s.Writer.Position(), time.Since(start))
	return nil
}
