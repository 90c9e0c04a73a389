package epochflow

import (
	"encoding/binary"
	"fmt"

	"github.com/epochflow/epochflow/edge"
	kexpvar "github.com/epochflow/epochflow/expvar"
	"github.com/epochflow/epochflow/sink"
	"github.com/pkg/errors"
)

const (
	statWritten  = "written"
	statPosition = "position"
)

// SinkNode writes output records and acknowledges barriers with the durable write position.
// On start it truncates the writer back to the restored position.
type SinkNode struct {
	node
	w sink.Writer

	written *kexpvar.Int
}

func newSinkNode(p *Pipeline, name string, w sink.Writer) *SinkNode {
	n := &SinkNode{
		node:    newNode(p, name, "sink"),
		w:       w,
		written: new(kexpvar.Int),
	}
	n.node.runF = n.runSink
	return n
}

func encodePosition(pos int64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(pos))
	return b
}

func decodePosition(b []byte) (int64, error) {
	if b == nil {
		return 0, nil
	}
	if len(b) != 8 {
		return 0, fmt.Errorf("invalid sink position snapshot of %d bytes", len(b))
	}
	return int64(binary.BigEndian.Uint64(b)), nil
}

func (n *SinkNode) runSink(snapshot []byte) error {
	pos, err := decodePosition(snapshot)
	if err != nil {
		return err
	}
	if err := n.w.Truncate(pos); err != nil {
		return errors.Wrap(err, "restore sink")
	}
	n.diag.Truncated(pos)
	n.statMap.Set(statWritten, n.written)
	n.statMap.Set(statPosition, kexpvar.NewIntFuncGauge(n.w.Position))
	consumer := edge.NewConsumerWithReceiver(n.ins[0], n)
	return consumer.Consume()
}

func (n *SinkNode) Record(edge.RecordMessage) error {
	return fmt.Errorf("%s: unexpected record message", n.name)
}

func (n *SinkNode) Tokens(edge.TokensMessage) error {
	return fmt.Errorf("%s: unexpected tokens message", n.name)
}

func (n *SinkNode) Output(o edge.OutputMessage) error {
	if err := n.w.Write(o.OutputRecord); err != nil {
		return err
	}
	n.written.Add(1)
	return nil
}

func (n *SinkNode) Barrier(b edge.BarrierMessage) error {
	pos, err := n.w.Checkpoint()
	if err != nil {
		return errors.Wrap(err, "checkpoint sink")
	}
	return n.p.ack(Ack{Epoch: b.Epoch, Node: n.name, Snapshot: encodePosition(pos)})
}

func (n *SinkNode) Done() {}
