package epochflow

import (
	"bytes"
	"context"
	"expvar"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/epochflow/epochflow/edge"
	kexpvar "github.com/epochflow/epochflow/expvar"
	"github.com/pkg/errors"
)

const (
	statCollected = "collected"
	statEmitted   = "emitted"
	statBarriers  = "barriers"
)

// A node that can be run in a pipeline.
type Node interface {
	Name() string
	// Kind describes what the node does, i.e. "source" or "count".
	Kind() string

	addParentEdge(edge.StatsEdge)

	init()

	// start the node, restoring it from snapshot first.
	start(snapshot []byte)
	stop()

	// wait for the node to finish processing and return any errors
	Wait() error

	// link specified child
	linkChild(c Node) error

	// close children edges
	closeChildEdges()
	// abort parent edges
	abortParentEdges()
	// abort all edges
	abortEdges()

	// executing dot
	edot(buf *bytes.Buffer, labels bool)

	collectedCount() int64
	emittedCount() int64

	stats() map[string]interface{}
}

//implementation of Node
type node struct {
	name       string
	kind       string
	p          *Pipeline
	children   []Node
	runF       func(snapshot []byte) error
	errCh      chan error
	err        error
	finishedMu sync.Mutex
	finished   bool
	ins        []edge.StatsEdge
	outs       []edge.StatsEdge
	diag       NodeDiagnostic
	statsKey   string
	statMap    *kexpvar.Map
}

func newNode(p *Pipeline, name, kind string) node {
	return node{
		name: name,
		kind: kind,
		p:    p,
		diag: p.diag.WithNodeContext(name),
	}
}

func (n *node) Name() string { return n.name }
func (n *node) Kind() string { return n.kind }

func (n *node) addParentEdge(e edge.StatsEdge) {
	n.ins = append(n.ins, e)
}

func (n *node) abortParentEdges() {
	for _, in := range n.ins {
		in.Abort()
	}
}

func (n *node) abortEdges() {
	n.abortParentEdges()
	for _, out := range n.outs {
		out.Abort()
	}
}

func (n *node) init() {
	tags := map[string]string{
		"run":  n.p.runID,
		"node": n.name,
		"kind": n.kind,
	}
	n.statsKey, n.statMap = NewStatistics("nodes", tags)
	n.statMap.Set(statCollected, kexpvar.NewIntFuncGauge(n.collectedCount))
	n.statMap.Set(statEmitted, kexpvar.NewIntFuncGauge(n.emittedCount))
	n.statMap.Set(statBarriers, kexpvar.NewIntFuncGauge(n.barrierCount))
	n.errCh = make(chan error, 1)
}

func (n *node) start(snapshot []byte) {
	go func() {
		var err error
		defer func() {
			// Handle panic in runF
			if r := recover(); r != nil {
				trace := make([]byte, 512)
				l := runtime.Stack(trace, false)
				err = fmt.Errorf("%s: Trace:%s", r, string(trace[:l]))
			}
			// Propagate error up
			if err != nil {
				// Injected crashes are reported by the fault node itself.
				if !isAbort(err) && !IsInjectedCrash(err) {
					n.diag.Error("node failed", err)
				}
				n.p.abort(n.name, err)
				err = errors.Wrap(err, n.name)
			}
			// Always close children edges
			n.closeChildEdges()
			n.errCh <- err
		}()
		// Run node
		err = n.runF(snapshot)
	}()
}

// isAbort reports whether err is the consequence of another node aborting the pipeline.
func isAbort(err error) bool {
	switch errors.Cause(err) {
	case edge.ErrAborted, context.Canceled:
		return true
	}
	return false
}

func (n *node) stop() {
	DeleteStatistics(n.statsKey)
}

func (n *node) Wait() error {
	n.finishedMu.Lock()
	defer n.finishedMu.Unlock()
	if !n.finished {
		n.finished = true
		n.err = <-n.errCh
	}
	return n.err
}

func (n *node) addChild(c Node) edge.StatsEdge {
	n.children = append(n.children, c)
	e := edge.NewStatsEdge(edge.NewChannelEdge(n.p.edgeBufferSize))
	c.addParentEdge(e)
	return e
}

func (n *node) linkChild(c Node) error {
	for _, child := range n.children {
		if child.Name() == c.Name() {
			return fmt.Errorf("cannot link %s -> %s twice", n.name, c.Name())
		}
	}
	// add child
	e := n.addChild(c)

	// store edge to child
	n.outs = append(n.outs, e)
	return nil
}

func (n *node) closeChildEdges() {
	for _, child := range n.outs {
		child.Close()
	}
}

func (n *node) edot(buf *bytes.Buffer, labels bool) {
	if labels {
		// Print all stats on node.
		fmt.Fprintf(buf, "\n%s [label=\"%s ", n.name, n.name)
		n.statMap.DoSorted(func(kv expvar.KeyValue) {
			fmt.Fprintf(buf, "%s=%s ", kv.Key, kv.Value.String())
		})
		buf.WriteString("\"];\n")

		for i, c := range n.children {
			fmt.Fprintf(buf, "%s -> %s [label=\"%d\"];\n", n.name, c.Name(), n.outs[i].Collected())
		}
	} else {
		// Print all stats on node.
		fmt.Fprintf(buf, "\n%s [", n.name)
		n.statMap.DoSorted(func(kv expvar.KeyValue) {
			var s string
			if sv, ok := kv.Value.(kexpvar.StringVar); ok {
				s = sv.StringValue()
			} else {
				s = kv.Value.String()
			}
			fmt.Fprintf(buf, "%s=\"%s\" ", kv.Key, s)
		})
		buf.WriteString("];\n")
		for i, c := range n.children {
			fmt.Fprintf(buf, "%s -> %s [processed=\"%d\"];\n", n.name, c.Name(), n.outs[i].Collected())
		}
	}
}

// node collected count is the sum of emitted counts of parent edges
func (n *node) collectedCount() (count int64) {
	for _, in := range n.ins {
		count += in.Emitted()
	}
	return
}

// node emitted count is the sum of collected counts of children edges
func (n *node) emittedCount() (count int64) {
	for _, out := range n.outs {
		count += out.Collected()
	}
	return
}

// barriers seen by the node are the barriers emitted by its parent edges
func (n *node) barrierCount() (count int64) {
	for _, in := range n.ins {
		count += in.Barriers()
	}
	return
}

func (n *node) stats() map[string]interface{} {
	stats := make(map[string]interface{})

	n.statMap.Do(func(kv expvar.KeyValue) {
		switch v := kv.Value.(type) {
		case kexpvar.IntVar:
			stats[kv.Key] = v.IntValue()
		default:
			stats[kv.Key] = v.String()
		}
	})

	return stats
}

// forward collects msg on every child edge.
func (n *node) forward(msg edge.Message) error {
	return edge.Forward(n.outs, msg)
}

// MaxDuration is a 64-bit int variable representing a duration in nanoseconds, that satisfies the expvar.Var interface.
// When setting a value it will only be set if it is greater than the current value.
type MaxDuration struct {
	d int64
}

func (v *MaxDuration) String() string {
	return `"` + v.StringValue() + `"`
}

func (v *MaxDuration) StringValue() string {
	return time.Duration(v.IntValue()).String()
}

func (v *MaxDuration) IntValue() int64 {
	return atomic.LoadInt64(&v.d)
}

// Set sets value if it is greater than current value.
func (v *MaxDuration) Set(next int64) {
	for {
		cur := v.IntValue()
		if next <= cur {
			return
		}
		if atomic.CompareAndSwapInt64(&v.d, cur, next) {
			return
		}
	}
}
