package epochflow

import (
	"fmt"
	"os"

	"github.com/epochflow/epochflow/edge"
	kexpvar "github.com/epochflow/epochflow/expvar"
	"github.com/pkg/errors"
)

// ExitCodeInjectedCrash is the exit code of a process terminated by a fault node.
const ExitCodeInjectedCrash = 3

// ErrInjectedCrash is returned by a fault node that reached its threshold.
var ErrInjectedCrash = errors.New("injected crash")

// IsInjectedCrash reports whether err was caused by a fault node.
func IsInjectedCrash(err error) bool {
	return errors.Cause(err) == ErrInjectedCrash
}

const statSeen = "seen"

// CrashMode selects how a fault node crashes.
type CrashMode int

const (
	// CrashAbort fails the launch with ErrInjectedCrash.
	CrashAbort CrashMode = iota
	// CrashExit terminates the process with ExitCodeInjectedCrash.
	CrashExit
)

func (m CrashMode) String() string {
	switch m {
	case CrashAbort:
		return "abort"
	case CrashExit:
		return "exit"
	default:
		return fmt.Sprintf("unknown crash mode %d", int(m))
	}
}

func ParseCrashMode(s string) (CrashMode, error) {
	switch s {
	case "abort":
		return CrashAbort, nil
	case "exit":
		return CrashExit, nil
	default:
		return 0, fmt.Errorf("unknown crash mode %q, expected abort or exit", s)
	}
}

// LaunchAttempt tells a stage whether it runs for the first time in a run.
type LaunchAttempt int

const (
	FirstAttempt LaunchAttempt = iota
	Relaunch
)

// AttemptOf converts the relaunch count of a stage into a LaunchAttempt.
func AttemptOf(relaunches int) LaunchAttempt {
	if relaunches > 0 {
		return Relaunch
	}
	return FirstAttempt
}

func (a LaunchAttempt) String() string {
	if a == FirstAttempt {
		return "first"
	}
	return "relaunch"
}

// CrashDirective configures a fault node.
// It is read once when the stage starts and never persisted.
type CrashDirective struct {
	// Threshold is the position of the message on which the stage crashes. Zero disables the crash.
	// Records discarded upstream as malformed never reach the stage and are not counted,
	// so the crash lands on the Threshold-th valid record.
	Threshold int64
	Attempt   LaunchAttempt
}

// Triggers reports whether seeing the seen-th record crashes the stage.
func (d CrashDirective) Triggers(seen int64) bool {
	return d.Threshold > 0 && d.Attempt == FirstAttempt && seen == d.Threshold
}

// CrashRecorder durably notes that a stage is about to crash.
type CrashRecorder interface {
	MarkCrashed(stage string) error
}

// FaultNode passes tokens through and crashes once its directive triggers.
// The count of seen records is volatile and starts at zero on every launch.
type FaultNode struct {
	node
	directive CrashDirective
	mode      CrashMode
	recorder  CrashRecorder
	exitF     func(code int)

	seen *kexpvar.Int
}

func newFaultNode(p *Pipeline, name string, d CrashDirective, mode CrashMode, r CrashRecorder) *FaultNode {
	n := &FaultNode{
		node:      newNode(p, name, "fault"),
		directive: d,
		mode:      mode,
		recorder:  r,
		exitF:     os.Exit,
		seen:      new(kexpvar.Int),
	}
	n.node.runF = n.runFault
	return n
}

func (n *FaultNode) runFault([]byte) error {
	n.statMap.Set(statSeen, n.seen)
	consumer := edge.NewConsumerWithReceiver(
		n.ins[0],
		edge.NewReceiverFromForwardReceiverWithStats(n.outs, n),
	)
	return consumer.Consume()
}

func (n *FaultNode) Record(r edge.RecordMessage) (edge.Message, error) {
	return n.observe(r)
}

func (n *FaultNode) Tokens(t edge.TokensMessage) (edge.Message, error) {
	return n.observe(t)
}

func (n *FaultNode) Output(o edge.OutputMessage) (edge.Message, error) {
	return n.observe(o)
}

func (n *FaultNode) Barrier(b edge.BarrierMessage) (edge.Message, error) {
	return b, nil
}

func (n *FaultNode) Done() {}

func (n *FaultNode) observe(m edge.Message) (edge.Message, error) {
	n.seen.Add(1)
	if !n.directive.Triggers(n.seen.IntValue()) {
		return m, nil
	}
	return nil, n.crash()
}

func (n *FaultNode) crash() error {
	n.diag.InjectingCrash(n.directive.Threshold, n.mode)
	if err := n.recorder.MarkCrashed(n.name); err != nil {
		return fmt.Errorf("failed to record crash: %v", err)
	}
	NumCrashesVar.Add(1)
	if n.mode == CrashExit {
		n.exitF(ExitCodeInjectedCrash)
	}
	return ErrInjectedCrash
}
