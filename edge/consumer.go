package edge

import (
	"fmt"
)

// Consumer reads messages off an edge and passes them to a receiver.
type Consumer interface {
	// Consume reads messages off an edge until the edge is closed or aborted.
	// An error is returned if either the edge or receiver errors.
	Consume() error
}

// Receiver handles messages as they arrive via a consumer.
type Receiver interface {
	Record(r RecordMessage) error
	Tokens(t TokensMessage) error
	Output(o OutputMessage) error
	Barrier(b BarrierMessage) error

	// Done is called once the receiver will no longer receive any messages.
	Done()
}

type consumer struct {
	edge Edge
	r    Receiver
}

// NewConsumerWithReceiver creates a new consumer for the edge e and receiver r.
func NewConsumerWithReceiver(e Edge, r Receiver) Consumer {
	return &consumer{
		edge: e,
		r:    r,
	}
}

func (ec *consumer) Consume() error {
	defer ec.r.Done()
	for msg, ok := ec.edge.Emit(); ok; msg, ok = ec.edge.Emit() {
		switch m := msg.(type) {
		case RecordMessage:
			if err := ec.r.Record(m); err != nil {
				return err
			}
		case TokensMessage:
			if err := ec.r.Tokens(m); err != nil {
				return err
			}
		case OutputMessage:
			if err := ec.r.Output(m); err != nil {
				return err
			}
		case BarrierMessage:
			if err := ec.r.Barrier(m); err != nil {
				return err
			}
		default:
			return fmt.Errorf("unexpected message of type %T", msg)
		}
	}
	return nil
}
