package edge

// ForwardReceiver handles messages as they arrive and can return a message to be forwarded to output edges.
// If a returned messages is nil, no message is forwarded.
type ForwardReceiver interface {
	Record(r RecordMessage) (Message, error)
	Tokens(t TokensMessage) (Message, error)
	Output(o OutputMessage) (Message, error)
	Barrier(b BarrierMessage) (Message, error)

	// Done is called once the receiver will no longer receive any messages.
	Done()
}

// NewReceiverFromForwardReceiverWithStats creates a new receiver from the provided list of stats edges and forward receiver.
func NewReceiverFromForwardReceiverWithStats(outs []StatsEdge, r ForwardReceiver) Receiver {
	os := make([]Edge, len(outs))
	for i := range outs {
		os[i] = outs[i]
	}
	return NewReceiverFromForwardReceiver(os, r)
}

// NewReceiverFromForwardReceiver creates a new receiver from the provided list of edges and forward receiver.
func NewReceiverFromForwardReceiver(outs []Edge, r ForwardReceiver) Receiver {
	return &forwardingReceiver{
		outs: outs,
		r:    r,
	}
}

type forwardingReceiver struct {
	outs []Edge
	r    ForwardReceiver
}

func (fr *forwardingReceiver) Record(r RecordMessage) error {
	return fr.forward(fr.r.Record(r))
}
func (fr *forwardingReceiver) Tokens(t TokensMessage) error {
	return fr.forward(fr.r.Tokens(t))
}
func (fr *forwardingReceiver) Output(o OutputMessage) error {
	return fr.forward(fr.r.Output(o))
}
func (fr *forwardingReceiver) Barrier(b BarrierMessage) error {
	return fr.forward(fr.r.Barrier(b))
}
func (fr *forwardingReceiver) Done() {
	fr.r.Done()
}

func (fr *forwardingReceiver) forward(msg Message, err error) error {
	if err != nil {
		return err
	}
	if msg != nil {
		for _, out := range fr.outs {
			if err := out.Collect(msg); err != nil {
				return err
			}
		}
	}
	return nil
}

// Forward collects msg on every edge in outs.
func Forward(outs []StatsEdge, msg Message) error {
	for _, out := range outs {
		if err := out.Collect(msg); err != nil {
			return err
		}
	}
	return nil
}
