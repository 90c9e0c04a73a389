package epoch_store

import (
	"github.com/benbjohnson/clock"
	"github.com/epochflow/epochflow/services/storage"
	"github.com/google/uuid"
	"github.com/pkg/errors"
)

var (
	ErrEpochOutOfOrder = errors.New("epoch does not follow the latest committed epoch")
	ErrConfigChanged   = errors.New("configuration changed between launches of a run")
	ErrRunMismatch     = errors.New("run is not the current run")
)

type Diagnostic interface {
	FreshRun(runID string, configHash uint64)
	Relaunched(runID string, launch int, attempts map[string]int)
	Collected(before uint64, count int)
}

// Service stores committed epochs and the launch registry.
type Service struct {
	retain int
	store  storage.Interface

	StorageService interface {
		Store(namespace string) storage.Interface
	}
	Clock clock.Clock

	diag Diagnostic
}

func NewService(conf Config, d Diagnostic) *Service {
	return &Service{
		retain: conf.Retain,
		Clock:  clock.New(),
		diag:   d,
	}
}

// The storage namespace for all epoch data.
const epochNamespace = "epoch_store"

func (s *Service) Open() error {
	s.store = s.StorageService.Store(epochNamespace)
	return nil
}

func (s *Service) Close() error {
	return nil
}

// Commit persists snap as the new restore point in a single transaction.
// The epoch must directly follow the latest committed epoch and must not move the offset backwards.
// Epochs outside the retain window are removed in the same transaction.
func (s *Service) Commit(snap *Snapshot) error {
	if snap.Committed.IsZero() {
		snap.Committed = s.Clock.Now().UTC()
	}
	var collected int
	err := s.store.Update(func(tx storage.Tx) error {
		prev, err := latestSnapshot(tx)
		switch {
		case err == ErrNoEpochCommitted:
			prev = new(Snapshot)
		case err != nil:
			return err
		}
		next := snap.EpochInfo()
		if next.ID != prev.Epoch+1 || !next.Follows(prev.EpochInfo()) {
			return errors.Wrapf(ErrEpochOutOfOrder, "committing %v after %v", next, prev.EpochInfo())
		}
		if err := putSnapshot(tx, snap); err != nil {
			return errors.Wrap(err, "put epoch")
		}
		if snap.Epoch > uint64(s.retain) {
			collected, err = deleteSnapshotsBefore(tx, snap.Epoch-uint64(s.retain)+1)
			if err != nil {
				return errors.Wrap(err, "collect old epochs")
			}
		}
		return nil
	})
	if err != nil {
		return err
	}
	if collected > 0 {
		s.diag.Collected(snap.Epoch-uint64(s.retain)+1, collected)
	}
	return nil
}

// Latest returns the most recently committed epoch or ErrNoEpochCommitted.
func (s *Service) Latest() (snap *Snapshot, err error) {
	err = s.store.View(func(tx storage.ReadOnlyTx) error {
		snap, err = latestSnapshot(tx)
		return err
	})
	return
}

// List returns the retained epochs in commit order.
func (s *Service) List() (snaps []*Snapshot, err error) {
	err = s.store.View(func(tx storage.ReadOnlyTx) error {
		snaps, err = listSnapshots(tx)
		return err
	})
	return
}

// BeginLaunch registers a launch of the pipeline.
// If there is no unfinished run a fresh run is started and every stored epoch is dropped.
// Otherwise the launch continues the current run, and the attempt of every stage that
// crashed during the previous launch is incremented.
// A launch with a config hash different from the run's is refused with ErrConfigChanged.
func (s *Service) BeginLaunch(configHash uint64) (run Run, err error) {
	err = s.store.Update(func(tx storage.Tx) error {
		run, err = getRun(tx)
		if err != nil && err != ErrNoRunExists {
			return errors.Wrap(err, "read run")
		}
		if err == ErrNoRunExists || run.Completed {
			if _, err := deleteSnapshotsBefore(tx, ^uint64(0)); err != nil {
				return errors.Wrap(err, "drop epochs of previous run")
			}
			run = Run{
				ID:         uuid.New().String(),
				ConfigHash: configHash,
				Launches:   1,
				Attempts:   make(map[string]int),
				Crashed:    make(map[string]bool),
				Started:    s.Clock.Now().UTC(),
			}
			return putRun(tx, run)
		}
		if run.ConfigHash != configHash {
			return errors.Wrapf(ErrConfigChanged, "run %s has config %x, launch has %x", run.ID, run.ConfigHash, configHash)
		}
		run.Launches++
		for stage := range run.Crashed {
			run.Attempts[stage]++
		}
		run.Crashed = make(map[string]bool)
		return putRun(tx, run)
	})
	if err != nil {
		return Run{}, err
	}
	if run.Fresh() {
		s.diag.FreshRun(run.ID, run.ConfigHash)
	} else {
		s.diag.Relaunched(run.ID, run.Launches, run.Attempts)
	}
	return run, nil
}

// MarkCrashed durably records that stage is about to crash during the current launch of runID.
func (s *Service) MarkCrashed(runID, stage string) error {
	return s.updateRun(runID, func(r *Run) {
		r.Crashed[stage] = true
	})
}

// Complete marks the run as finished. The next launch starts a fresh run.
func (s *Service) Complete(runID string) error {
	return s.updateRun(runID, func(r *Run) {
		r.Completed = true
	})
}

func (s *Service) updateRun(runID string, f func(r *Run)) error {
	return s.store.Update(func(tx storage.Tx) error {
		run, err := getRun(tx)
		if err != nil {
			return err
		}
		if run.ID != runID {
			return errors.Wrapf(ErrRunMismatch, "%s", runID)
		}
		f(&run)
		return putRun(tx, run)
	})
}

// CurrentRun returns the registry record of the latest run or ErrNoRunExists.
func (s *Service) CurrentRun() (run Run, err error) {
	err = s.store.View(func(tx storage.ReadOnlyTx) error {
		run, err = getRun(tx)
		return err
	})
	return
}

// Reset drops the current run and all of its epochs.
func (s *Service) Reset() error {
	return s.store.Update(func(tx storage.Tx) error {
		if _, err := deleteSnapshotsBefore(tx, ^uint64(0)); err != nil {
			return err
		}
		return tx.Delete(currentRunKey)
	})
}
