package edge_test

import (
	"reflect"
	"testing"

	"github.com/epochflow/epochflow/edge"
	"github.com/epochflow/epochflow/models"
)

const defaultEdgeBufferSize = 1000

var record = edge.NewRecordMessage(models.Record{Offset: 4, Payload: "The quick brown fox."})

var barrier = edge.NewBarrierMessage(2, 5)

func TestEdge_CollectRecord(t *testing.T) {
	e := edge.NewChannelEdge(defaultEdgeBufferSize)

	if err := e.Collect(record); err != nil {
		t.Fatal(err)
	}
	msg, ok := e.Emit()
	if !ok {
		t.Fatal("did not get record back out of edge")
	}
	if !reflect.DeepEqual(msg, record) {
		t.Errorf("unexpected record after passing through edge:\ngot:\n%v\nexp:\n%v\n", msg, record)
	}
}

func TestEdge_PreservesOrderWithBarriers(t *testing.T) {
	e := edge.NewChannelEdge(defaultEdgeBufferSize)
	exp := []edge.Message{
		record,
		barrier,
		edge.NewTokensMessage(5, []string{"a"}),
	}
	for _, m := range exp {
		if err := e.Collect(m); err != nil {
			t.Fatal(err)
		}
	}
	if err := e.Close(); err != nil {
		t.Fatal(err)
	}
	var got []edge.Message
	for m, ok := e.Emit(); ok; m, ok = e.Emit() {
		got = append(got, m)
	}
	if !reflect.DeepEqual(got, exp) {
		t.Errorf("unexpected message order:\ngot:\n%v\nexp:\n%v\n", got, exp)
	}
}

func TestEdge_AbortDropsBuffered(t *testing.T) {
	e := edge.NewChannelEdge(defaultEdgeBufferSize)
	if err := e.Collect(record); err != nil {
		t.Fatal(err)
	}
	e.Abort()
	if _, ok := e.Emit(); ok {
		t.Error("expected aborted edge to emit nothing")
	}
	if err := e.Collect(record); err != edge.ErrAborted {
		t.Errorf("unexpected error collecting on aborted edge: got %v exp %v", err, edge.ErrAborted)
	}
	// Aborting twice is a no-op.
	e.Abort()
}

func TestEdge_AbortUnblocksCollect(t *testing.T) {
	e := edge.NewChannelEdge(0)
	errC := make(chan error, 1)
	go func() {
		errC <- e.Collect(record)
	}()
	e.Abort()
	if err := <-errC; err != edge.ErrAborted {
		t.Errorf("unexpected error: got %v exp %v", err, edge.ErrAborted)
	}
}

func TestStatsEdge_CountsDataAndBarriers(t *testing.T) {
	e := edge.NewStatsEdge(edge.NewChannelEdge(defaultEdgeBufferSize))
	e.Collect(record)
	e.Collect(barrier)
	e.Collect(record)
	e.Close()
	for _, ok := e.Emit(); ok; _, ok = e.Emit() {
	}
	if got, exp := e.Collected(), int64(2); got != exp {
		t.Errorf("unexpected collected count: got %d exp %d", got, exp)
	}
	if got, exp := e.Emitted(), int64(2); got != exp {
		t.Errorf("unexpected emitted count: got %d exp %d", got, exp)
	}
	if got, exp := e.Barriers(), int64(1); got != exp {
		t.Errorf("unexpected barrier count: got %d exp %d", got, exp)
	}
}

var emittedMsg edge.Message
var emittedOK bool

func BenchmarkCollectRecord(b *testing.B) {
	e := edge.NewChannelEdge(defaultEdgeBufferSize)
	b.ReportAllocs()
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			e.Collect(record)
			emittedMsg, emittedOK = e.Emit()
		}
	})
}
