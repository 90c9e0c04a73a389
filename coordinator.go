package epochflow

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	kexpvar "github.com/epochflow/epochflow/expvar"
	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/services/epoch_store"
	"github.com/pkg/errors"
)

const (
	statEpochsCommitted  = "epochs_committed"
	statSnapshotFailures = "snapshot_failures"
	statCyclesSkipped    = "cycles_skipped"
	statStaleAcks        = "stale_acks"
	statRestores         = "restores"
	statLastEpoch        = "last_epoch"
	statLastOffset       = "last_offset"
	statMaxCycleDuration = "max_cycle_duration"
)

// ErrOffsetRegressed is returned when an epoch would move the committed source offset backwards.
var ErrOffsetRegressed = errors.New("committed offset regressed")

type CoordinatorState int

const (
	Running CoordinatorState = iota
	Snapshotting
	Committed
	Restoring
)

func (s CoordinatorState) String() string {
	switch s {
	case Running:
		return "RUNNING"
	case Snapshotting:
		return "SNAPSHOTTING"
	case Committed:
		return "COMMITTED"
	case Restoring:
		return "RESTORING"
	default:
		return fmt.Sprintf("unknown state %d", int(s))
	}
}

// Ack is the acknowledgement of a barrier by a participant.
type Ack struct {
	Epoch uint64
	Node  string
	// Offset is only meaningful for the source.
	Offset   int64
	Snapshot []byte
}

// RestorePoint is what a launch resumes from.
type RestorePoint struct {
	Epoch         models.Epoch
	NodeSnapshots map[string][]byte
}

type CoordinatorDiagnostic interface {
	StateChanged(from, to CoordinatorState)
	CycleStarted(epoch uint64)
	CycleSkipped(epoch uint64, reason string)
	Committed(e models.Epoch, size int, took time.Duration)
	CommitFailed(epoch uint64, err error)
	StaleAck(node string, epoch, current uint64)
	Restored(e models.Epoch)
	Released(end int64)
}

// EpochStore persists committed epochs.
type EpochStore interface {
	Commit(*epoch_store.Snapshot) error
	Latest() (*epoch_store.Snapshot, error)
}

// BarrierInjector is the pipeline as seen by the coordinator.
type BarrierInjector interface {
	// InjectBarrier asks the source to emit a barrier for epoch.
	// It returns false if a barrier is already pending.
	InjectBarrier(epoch uint64) bool
	// Participants lists the names of the nodes that acknowledge barriers.
	Participants() []string
	// SourceName is the name of the participant whose ack carries the offset.
	SourceName() string
}

type CoordinatorConfig struct {
	// Period between checkpoint cycles.
	Period time.Duration
}

type cycle struct {
	epoch       uint64
	offset      int64
	sourceAcked bool
	acks        map[string][]byte
	started     time.Time
}

// Coordinator drives the aligned barrier checkpoint protocol of a single launch.
type Coordinator struct {
	mu    sync.Mutex
	state CoordinatorState
	last  models.Epoch

	period   time.Duration
	store    EpochStore
	injector BarrierInjector
	clock    clock.Clock

	// Only accessed from the Run goroutine.
	pending *cycle
	end     int64

	acks      chan Ack
	trigger   chan struct{}
	exhausted chan int64
	released  chan struct{}

	diag     CoordinatorDiagnostic
	statsKey string
	statMap  *kexpvar.Map

	committed   *kexpvar.Int
	failures    *kexpvar.Int
	skipped     *kexpvar.Int
	staleAcks   *kexpvar.Int
	restores    *kexpvar.Int
	lastEpoch   *kexpvar.Int
	lastOffset  *kexpvar.Int
	maxDuration *MaxDuration
}

func NewCoordinator(c CoordinatorConfig, runID string, store EpochStore, clk clock.Clock, d CoordinatorDiagnostic) *Coordinator {
	co := &Coordinator{
		state:       Running,
		period:      c.Period,
		store:       store,
		clock:       clk,
		end:         -1,
		acks:        make(chan Ack),
		trigger:     make(chan struct{}, 1),
		exhausted:   make(chan int64, 1),
		released:    make(chan struct{}),
		diag:        d,
		committed:   new(kexpvar.Int),
		failures:    new(kexpvar.Int),
		skipped:     new(kexpvar.Int),
		staleAcks:   new(kexpvar.Int),
		restores:    new(kexpvar.Int),
		lastEpoch:   new(kexpvar.Int),
		lastOffset:  new(kexpvar.Int),
		maxDuration: new(MaxDuration),
	}
	co.statsKey, co.statMap = NewStatistics("coordinator", map[string]string{"run": runID})
	co.statMap.Set(statEpochsCommitted, co.committed)
	co.statMap.Set(statSnapshotFailures, co.failures)
	co.statMap.Set(statCyclesSkipped, co.skipped)
	co.statMap.Set(statStaleAcks, co.staleAcks)
	co.statMap.Set(statRestores, co.restores)
	co.statMap.Set(statLastEpoch, co.lastEpoch)
	co.statMap.Set(statLastOffset, co.lastOffset)
	co.statMap.Set(statMaxCycleDuration, co.maxDuration)
	return co
}

// Attach sets the pipeline the coordinator injects barriers into.
// It must be called before Run.
func (c *Coordinator) Attach(i BarrierInjector) {
	c.injector = i
}

// State returns the current state of the coordinator.
func (c *Coordinator) State() CoordinatorState {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastCommitted returns the authoritative restore point.
func (c *Coordinator) LastCommitted() models.Epoch {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

func (c *Coordinator) setState(s CoordinatorState) {
	c.mu.Lock()
	from := c.state
	c.state = s
	c.mu.Unlock()
	if from != s {
		c.diag.StateChanged(from, s)
	}
}

// Restore loads the latest committed epoch, or the zero epoch if none committed.
// It must be called before the pipeline starts.
func (c *Coordinator) Restore() (RestorePoint, error) {
	c.setState(Restoring)
	point := RestorePoint{Epoch: models.ZeroEpoch}
	snap, err := c.store.Latest()
	switch {
	case err == epoch_store.ErrNoEpochCommitted:
	case err != nil:
		return RestorePoint{}, errors.Wrap(err, "load latest epoch")
	default:
		point.Epoch = snap.EpochInfo()
		point.NodeSnapshots = snap.NodeSnapshots
	}
	c.mu.Lock()
	c.last = point.Epoch
	c.mu.Unlock()
	c.lastEpoch.Set(int64(point.Epoch.ID))
	c.lastOffset.Set(point.Epoch.Offset)
	c.restores.Add(1)
	c.diag.Restored(point.Epoch)
	c.setState(Running)
	return point, nil
}

// Ack hands a barrier acknowledgement to the coordinator.
// It blocks until the coordinator accepts it or ctx is done.
func (c *Coordinator) Ack(ctx context.Context, a Ack) error {
	select {
	case c.acks <- a:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Trigger requests a checkpoint cycle without waiting for the next period.
// It is a no-op if a request is already queued.
func (c *Coordinator) Trigger() {
	select {
	case c.trigger <- struct{}{}:
	default:
	}
}

// SourceExhausted reports that the source read every record before end.
// The coordinator commits an epoch covering end and then releases the source.
func (c *Coordinator) SourceExhausted(end int64) {
	select {
	case c.exhausted <- end:
	default:
	}
}

// Released is closed once an epoch covering the whole input has committed.
func (c *Coordinator) Released() <-chan struct{} {
	return c.released
}

// Run drives checkpoint cycles until ctx is done.
func (c *Coordinator) Run(ctx context.Context) error {
	defer DeleteStatistics(c.statsKey)
	if c.injector == nil {
		return errors.New("coordinator is not attached to a pipeline")
	}
	ticker := c.clock.Ticker(c.period)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			c.startCycle()
		case <-c.trigger:
			c.startCycle()
		case end := <-c.exhausted:
			c.end = end
			if c.covers(end) {
				c.release()
			} else {
				c.startCycle()
			}
		case a := <-c.acks:
			if err := c.handleAck(a); err != nil {
				return err
			}
		}
	}
}

func (c *Coordinator) covers(end int64) bool {
	return end >= 0 && c.LastCommitted().Offset >= end
}

func (c *Coordinator) release() {
	select {
	case <-c.released:
	default:
		c.diag.Released(c.end)
		close(c.released)
	}
}

func (c *Coordinator) startCycle() {
	next := c.LastCommitted().ID + 1
	if c.pending != nil {
		c.skipped.Add(1)
		c.diag.CycleSkipped(next, "cycle in progress")
		return
	}
	if c.covers(c.end) {
		return
	}
	if !c.injector.InjectBarrier(next) {
		c.skipped.Add(1)
		c.diag.CycleSkipped(next, "barrier already pending")
		return
	}
	c.pending = &cycle{
		epoch:   next,
		acks:    make(map[string][]byte),
		started: c.clock.Now(),
	}
	c.setState(Snapshotting)
	c.diag.CycleStarted(next)
}

func (c *Coordinator) handleAck(a Ack) error {
	if c.pending == nil || a.Epoch != c.pending.epoch {
		current := uint64(0)
		if c.pending != nil {
			current = c.pending.epoch
		}
		c.staleAcks.Add(1)
		c.diag.StaleAck(a.Node, a.Epoch, current)
		return nil
	}
	if a.Node == c.injector.SourceName() {
		c.pending.sourceAcked = true
		c.pending.offset = a.Offset
	} else {
		c.pending.acks[a.Node] = a.Snapshot
	}
	if !c.pending.sourceAcked {
		return nil
	}
	for _, p := range c.injector.Participants() {
		if p == c.injector.SourceName() {
			continue
		}
		if _, ok := c.pending.acks[p]; !ok {
			return nil
		}
	}
	return c.commit()
}

func (c *Coordinator) commit() error {
	cy := c.pending
	c.pending = nil
	next := models.Epoch{ID: cy.epoch, Offset: cy.offset}
	prev := c.LastCommitted()
	if !next.Follows(prev) {
		return errors.Wrapf(ErrOffsetRegressed, "%v after %v", next, prev)
	}
	snap := &epoch_store.Snapshot{
		Epoch:         next.ID,
		Offset:        next.Offset,
		NodeSnapshots: cy.acks,
		Committed:     c.clock.Now().UTC(),
	}
	if err := c.store.Commit(snap); err != nil {
		// The previous epoch stays authoritative, the next cycle reuses the ID.
		c.failures.Add(1)
		c.diag.CommitFailed(next.ID, err)
		c.setState(Running)
		return nil
	}
	c.setState(Committed)
	took := c.clock.Since(cy.started)
	size := 0
	for _, s := range cy.acks {
		size += len(s)
	}
	c.mu.Lock()
	c.last = next
	c.mu.Unlock()
	c.committed.Add(1)
	c.lastEpoch.Set(int64(next.ID))
	c.lastOffset.Set(next.Offset)
	c.maxDuration.Set(int64(took))
	c.diag.Committed(next, size, took)
	c.setState(Running)

	if c.end >= 0 {
		if c.covers(c.end) {
			c.release()
		} else {
			c.startCycle()
		}
	}
	return nil
}
