package edge_test

import (
	"errors"
	"testing"

	"github.com/epochflow/epochflow/edge"
	"github.com/epochflow/epochflow/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type upperReceiver struct {
	barriers []uint64
	done     bool
	failOn   int64
}

func (r *upperReceiver) Record(m edge.RecordMessage) (edge.Message, error) {
	if r.failOn != 0 && m.Offset == r.failOn {
		return nil, errors.New("boom")
	}
	return edge.NewTokensMessage(m.Offset, []string{m.Payload}), nil
}
func (r *upperReceiver) Tokens(m edge.TokensMessage) (edge.Message, error) { return m, nil }
func (r *upperReceiver) Output(m edge.OutputMessage) (edge.Message, error) { return m, nil }
func (r *upperReceiver) Barrier(b edge.BarrierMessage) (edge.Message, error) {
	r.barriers = append(r.barriers, b.Epoch)
	return b, nil
}
func (r *upperReceiver) Done() { r.done = true }

func TestConsumer_ForwardsInOrder(t *testing.T) {
	in := edge.NewChannelEdge(10)
	out := edge.NewStatsEdge(edge.NewChannelEdge(10))
	r := new(upperReceiver)

	in.Collect(edge.NewRecordMessage(models.Record{Offset: 0, Payload: "a"}))
	in.Collect(edge.NewBarrierMessage(1, 1))
	in.Collect(edge.NewRecordMessage(models.Record{Offset: 1, Payload: "b"}))
	require.NoError(t, in.Close())

	c := edge.NewConsumerWithReceiver(in, edge.NewReceiverFromForwardReceiverWithStats([]edge.StatsEdge{out}, r))
	require.NoError(t, c.Consume())
	require.NoError(t, out.Close())

	var types []edge.MessageType
	for m, ok := out.Emit(); ok; m, ok = out.Emit() {
		types = append(types, m.Type())
	}
	assert.Equal(t, []edge.MessageType{edge.Tokens, edge.Barrier, edge.Tokens}, types)
	assert.Equal(t, []uint64{1}, r.barriers)
	assert.True(t, r.done)
}

func TestConsumer_StopsOnReceiverError(t *testing.T) {
	in := edge.NewChannelEdge(10)
	r := &upperReceiver{failOn: 1}

	in.Collect(edge.NewRecordMessage(models.Record{Offset: 0, Payload: "a"}))
	in.Collect(edge.NewRecordMessage(models.Record{Offset: 1, Payload: "b"}))
	in.Close()

	c := edge.NewConsumerWithReceiver(in, edge.NewReceiverFromForwardReceiver(nil, r))
	assert.EqualError(t, c.Consume(), "boom")
	assert.True(t, r.done, "Done must be called even on error")
}
