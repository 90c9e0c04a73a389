package epochflow

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/sink"
	"github.com/epochflow/epochflow/source"
	"github.com/pkg/errors"
)

const (
	SourceNodeName   = "source"
	TokenizeNodeName = "tokenize"
	CountNodeName    = "count"
	SinkNodeName     = "sink"

	defaultEdgeBufferSize = 1000
)

// FaultNodeName returns the name of the i-th fault node.
func FaultNodeName(i int) string {
	return fmt.Sprintf("fault%d", i)
}

type Diagnostic interface {
	WithNodeContext(node string) NodeDiagnostic
	Aborted(node string, err error)
}

type NodeDiagnostic interface {
	Error(msg string, err error)

	Discarded(offset int64, reason string)
	EmittedOutput(o models.OutputRecord)
	InjectingCrash(threshold int64, mode CrashMode)
	Truncated(pos int64)
	Exhausted(end int64)
}

// PipelineCoordinator is the coordinator as seen by the nodes of a pipeline.
type PipelineCoordinator interface {
	Ack(ctx context.Context, a Ack) error
	Trigger()
	SourceExhausted(end int64)
	Released() <-chan struct{}
}

type PipelineConfig struct {
	EdgeBufferSize int
	// Number of absorbed inputs between two output records.
	EmitInterval int64
	// Records per second, zero is unlimited.
	RateLimit float64
	// Request a checkpoint every n records, zero disables.
	CheckpointEvery int64
	// One fault node is created per directive.
	Faults    []CrashDirective
	CrashMode CrashMode
}

// Pipeline is a single launch of the linear node chain
// source -> tokenize -> fault0..faultN -> count -> sink.
type Pipeline struct {
	runID          string
	edgeBufferSize int
	coord          PipelineCoordinator
	diag           Diagnostic

	source *SourceNode
	count  *CountNode
	sink   *SinkNode
	faults []*FaultNode
	nodes  []Node

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.Mutex
	abortErr error
}

func NewPipeline(
	c PipelineConfig,
	runID string,
	r source.Reader,
	w sink.Writer,
	coord PipelineCoordinator,
	crashes CrashRecorder,
	d Diagnostic,
) (*Pipeline, error) {
	if c.EmitInterval <= 0 {
		return nil, fmt.Errorf("emit interval must be positive, got %d", c.EmitInterval)
	}
	p := &Pipeline{
		runID:          runID,
		edgeBufferSize: c.EdgeBufferSize,
		coord:          coord,
		diag:           d,
		done:           make(chan struct{}),
	}
	if p.edgeBufferSize <= 0 {
		p.edgeBufferSize = defaultEdgeBufferSize
	}

	p.source = newSourceNode(p, SourceNodeName, r, c.RateLimit, c.CheckpointEvery)
	p.nodes = append(p.nodes, p.source, newTokenizeNode(p, TokenizeNodeName))
	for i, directive := range c.Faults {
		f := newFaultNode(p, FaultNodeName(i), directive, c.CrashMode, crashes)
		p.faults = append(p.faults, f)
		p.nodes = append(p.nodes, f)
	}
	p.count = newCountNode(p, CountNodeName, c.EmitInterval)
	p.sink = newSinkNode(p, SinkNodeName, w)
	p.nodes = append(p.nodes, p.count, p.sink)

	if err := p.link(); err != nil {
		return nil, err
	}
	return p, nil
}

// walks the entire pipeline applying function f.
func (p *Pipeline) walk(f func(n Node) error) error {
	for _, n := range p.nodes {
		if err := f(n); err != nil {
			return err
		}
	}
	return nil
}

// walks the entire pipeline in reverse order applying function f.
func (p *Pipeline) rwalk(f func(n Node) error) error {
	for i := len(p.nodes) - 1; i >= 0; i-- {
		if err := f(p.nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

func (p *Pipeline) link() error {
	for i := 1; i < len(p.nodes); i++ {
		if err := p.nodes[i-1].linkChild(p.nodes[i]); err != nil {
			return err
		}
	}
	return nil
}

// Start restores every node from point and starts it.
func (p *Pipeline) Start(ctx context.Context, point RestorePoint) error {
	p.ctx, p.cancel = context.WithCancel(ctx)
	p.walk(func(n Node) error {
		n.init()
		return nil
	})
	if err := p.source.seek(point.Epoch.Offset); err != nil {
		p.cancel()
		return err
	}
	go func() {
		select {
		case <-ctx.Done():
			select {
			case <-p.done:
			default:
				p.abort("", ctx.Err())
			}
		case <-p.done:
		}
	}()
	return p.walk(func(n Node) error {
		n.start(point.NodeSnapshots[n.Name()])
		return nil
	})
}

// Wait waits for every node to finish.
// If the pipeline was aborted the error that caused the abort is returned.
func (p *Pipeline) Wait() error {
	var firstErr error
	p.walk(func(n Node) error {
		if err := n.Wait(); err != nil && firstErr == nil {
			firstErr = err
		}
		return nil
	})
	close(p.done)
	p.mu.Lock()
	abortErr := p.abortErr
	p.mu.Unlock()
	p.cancel()
	if abortErr != nil {
		return abortErr
	}
	return firstErr
}

// Stop releases the statistics of every node.
func (p *Pipeline) Stop() {
	p.rwalk(func(n Node) error {
		n.stop()
		return nil
	})
}

// abort records the first failure, cancels the pipeline context and drops every buffered message.
func (p *Pipeline) abort(node string, err error) {
	p.mu.Lock()
	if p.abortErr != nil {
		p.mu.Unlock()
		return
	}
	if node != "" {
		err = errors.Wrap(err, node)
	}
	p.abortErr = err
	p.mu.Unlock()

	p.cancel()
	p.walk(func(n Node) error {
		n.abortEdges()
		return nil
	})
	p.diag.Aborted(node, err)
}

func (p *Pipeline) aborted() bool {
	return p.ctx.Err() != nil
}

func (p *Pipeline) ack(a Ack) error {
	return p.coord.Ack(p.ctx, a)
}

func (p *Pipeline) InjectBarrier(epoch uint64) bool {
	return p.source.InjectBarrier(epoch)
}

// Participants lists the nodes that acknowledge barriers.
func (p *Pipeline) Participants() []string {
	return []string{p.source.Name(), p.count.Name(), p.sink.Name()}
}

func (p *Pipeline) SourceName() string {
	return p.source.Name()
}

// Nodes returns the names of all nodes in pipeline order.
func (p *Pipeline) Nodes() []string {
	names := make([]string, len(p.nodes))
	for i, n := range p.nodes {
		names[i] = n.Name()
	}
	return names
}

// Absorbed returns the number of inputs absorbed by the count node.
func (p *Pipeline) Absorbed() int64 {
	return p.count.counter.Absorbed()
}

// NodeStats returns the statistics of every node keyed by name.
func (p *Pipeline) NodeStats() map[string]map[string]interface{} {
	stats := make(map[string]map[string]interface{}, len(p.nodes))
	for _, n := range p.nodes {
		stats[n.Name()] = n.stats()
	}
	return stats
}

// EDot returns a graphviz description of the executing pipeline.
func (p *Pipeline) EDot(labels bool) []byte {
	var buf bytes.Buffer

	buf.WriteString("digraph ")
	buf.WriteString(fmt.Sprintf("%q", p.runID))
	buf.WriteString(" {\n")
	if labels {
		buf.WriteString("graph [labelloc=t];\n")
	}
	p.walk(func(n Node) error {
		n.edot(&buf, labels)
		return nil
	})
	buf.WriteString("}")

	return buf.Bytes()
}
