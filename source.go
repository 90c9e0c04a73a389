package epochflow

import (
	"fmt"

	"github.com/epochflow/epochflow/edge"
	kexpvar "github.com/epochflow/epochflow/expvar"
	"github.com/epochflow/epochflow/source"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

const statOffset = "offset"

// SourceNode reads records from a reader starting at the restored offset.
// It emits a barrier whenever the coordinator asks for one, and holds
// its output edges open after exhaustion until the coordinator releases it.
type SourceNode struct {
	node
	reader  source.Reader
	limiter *rate.Limiter
	// Request a checkpoint every n records, zero disables.
	checkpointEvery int64

	offset   *kexpvar.Int
	barriers chan uint64
}

func newSourceNode(p *Pipeline, name string, r source.Reader, ratePerSecond float64, checkpointEvery int64) *SourceNode {
	limit := rate.Inf
	if ratePerSecond > 0 {
		limit = rate.Limit(ratePerSecond)
	}
	n := &SourceNode{
		node:            newNode(p, name, "source"),
		reader:          r,
		limiter:         rate.NewLimiter(limit, 1),
		checkpointEvery: checkpointEvery,
		offset:          new(kexpvar.Int),
		barriers:        make(chan uint64, 1),
	}
	n.node.runF = n.runSource
	return n
}

// InjectBarrier queues a barrier for epoch. It returns false if one is already queued.
func (n *SourceNode) InjectBarrier(epoch uint64) bool {
	select {
	case n.barriers <- epoch:
		return true
	default:
		return false
	}
}

// seek positions the source at offset, it must be called before the node starts.
func (n *SourceNode) seek(offset int64) error {
	if offset < 0 || offset > n.reader.Len() {
		return fmt.Errorf("restored offset %d outside of input [0,%d]", offset, n.reader.Len())
	}
	n.offset.Set(offset)
	return nil
}

// Offset returns the offset of the next record to read.
func (n *SourceNode) Offset() int64 {
	return n.offset.IntValue()
}

func (n *SourceNode) runSource([]byte) error {
	n.statMap.Set(statOffset, n.offset)
	ctx := n.p.ctx
	coord := n.p.coord
	exhausted := false
	for {
		if exhausted {
			select {
			case epoch := <-n.barriers:
				if err := n.barrier(epoch); err != nil {
					return err
				}
			case <-coord.Released():
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}

		select {
		case epoch := <-n.barriers:
			if err := n.barrier(epoch); err != nil {
				return err
			}
			continue
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := n.limiter.Wait(ctx); err != nil {
			return err
		}
		offset := n.offset.IntValue()
		r, err := n.reader.Read(offset)
		if err == source.ErrExhausted {
			exhausted = true
			n.diag.Exhausted(offset)
			coord.SourceExhausted(offset)
			continue
		} else if err != nil {
			return errors.Wrapf(err, "read offset %d", offset)
		}
		if err := n.forward(edge.NewRecordMessage(r)); err != nil {
			return err
		}
		n.offset.Add(1)
		if n.checkpointEvery > 0 && (offset+1)%n.checkpointEvery == 0 {
			coord.Trigger()
		}
	}
}

// barrier acknowledges the epoch with the current offset before any record after it is emitted.
func (n *SourceNode) barrier(epoch uint64) error {
	offset := n.offset.IntValue()
	if err := n.p.ack(Ack{Epoch: epoch, Node: n.name, Offset: offset}); err != nil {
		return err
	}
	return n.forward(edge.NewBarrierMessage(epoch, offset))
}
