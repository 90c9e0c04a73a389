package epochflow

import (
	"context"

	"github.com/benbjohnson/clock"
	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/services/epoch_store"
	"github.com/epochflow/epochflow/sink"
	"github.com/epochflow/epochflow/source"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// LaunchStore is the durable state shared by every launch of a run.
type LaunchStore interface {
	EpochStore
	BeginLaunch(configHash uint64) (epoch_store.Run, error)
	MarkCrashed(runID, stage string) error
	Complete(runID string) error
}

// Launcher starts the pipeline from the latest committed epoch of the current run.
type Launcher struct {
	Pipeline    PipelineConfig
	Coordinator CoordinatorConfig
	// Crash thresholds of the fault nodes, one node per threshold.
	Thresholds []int64
	ConfigHash uint64

	Store  LaunchStore
	Reader source.Reader
	Writer sink.Writer
	Clock  clock.Clock

	Diag            Diagnostic
	CoordinatorDiag CoordinatorDiagnostic
}

type LaunchResult struct {
	Run epoch_store.Run
	// Epoch the launch restored.
	Restored models.Epoch
	// Last epoch committed when the launch ended.
	Committed models.Epoch
	Absorbed  int64
	// Graphviz description of the pipeline with its final statistics.
	Graph []byte
}

// runCrashRecorder marks stages crashed within a single run.
type runCrashRecorder struct {
	store LaunchStore
	runID string
}

func (r runCrashRecorder) MarkCrashed(stage string) error {
	return r.store.MarkCrashed(r.runID, stage)
}

// Launch runs the pipeline once. It returns nil once the whole input is processed
// and the run is marked complete.
// A launch ended by an injected crash returns an error whose cause is ErrInjectedCrash.
func (l *Launcher) Launch(ctx context.Context) (LaunchResult, error) {
	run, err := l.Store.BeginLaunch(l.ConfigHash)
	if err != nil {
		return LaunchResult{}, errors.Wrap(err, "begin launch")
	}
	res := LaunchResult{Run: run}
	NumLaunchesVar.Add(1)
	RunIDVar.Set(run.ID)

	conf := l.Pipeline
	conf.Faults = make([]CrashDirective, len(l.Thresholds))
	for i, threshold := range l.Thresholds {
		conf.Faults[i] = CrashDirective{
			Threshold: threshold,
			Attempt:   AttemptOf(run.Attempt(FaultNodeName(i))),
		}
	}

	clk := l.Clock
	if clk == nil {
		clk = clock.New()
	}
	coord := NewCoordinator(l.Coordinator, run.ID, l.Store, clk, l.CoordinatorDiag)
	point, err := coord.Restore()
	if err != nil {
		return res, err
	}
	res.Restored = point.Epoch

	p, err := NewPipeline(conf, run.ID, l.Reader, l.Writer, coord, runCrashRecorder{store: l.Store, runID: run.ID}, l.Diag)
	if err != nil {
		return res, err
	}
	coord.Attach(p)

	g, gctx := errgroup.WithContext(ctx)
	coordCtx, stopCoordinator := context.WithCancel(gctx)
	g.Go(func() error {
		return coord.Run(coordCtx)
	})
	g.Go(func() error {
		defer stopCoordinator()
		if err := p.Start(gctx, point); err != nil {
			return err
		}
		return p.Wait()
	})
	err = g.Wait()

	res.Committed = coord.LastCommitted()
	res.Absorbed = p.Absorbed()
	res.Graph = p.EDot(false)
	p.Stop()
	if err != nil {
		return res, err
	}
	if err := l.Store.Complete(run.ID); err != nil {
		return res, errors.Wrap(err, "complete run")
	}
	return res, nil
}
