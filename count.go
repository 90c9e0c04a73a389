package epochflow

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/epochflow/epochflow/edge"
	kexpvar "github.com/epochflow/epochflow/expvar"
	"github.com/epochflow/epochflow/models"
	"github.com/google/btree"
	"github.com/pkg/errors"
)

const (
	statOutputs = "outputs"
	statKeys    = "keys"
)

// Snapshotter is implemented by anything whose state is part of an epoch.
type Snapshotter interface {
	// Snapshot returns an encoding of the current state.
	Snapshot() ([]byte, error)
	// Restore replaces the current state with the snapshot.
	// A nil snapshot restores the initial state.
	Restore([]byte) error
}

type counterState struct {
	// Entries are sorted by key.
	Entries   []models.AggregateEntry `json:"entries"`
	SinceEmit int64                   `json:"since_emit"`
	Absorbed  int64                   `json:"absorbed"`
	Seq       int64                   `json:"seq"`
}

// countItem is a key of the counting map ordered by key.
type countItem struct {
	key   string
	count int64
}

func (i *countItem) Less(than btree.Item) bool {
	return i.key < than.(*countItem).key
}

const countsDegree = 32

// Counter counts tokens and emits the sorted counts every interval absorbed inputs.
type Counter struct {
	mu       sync.Mutex
	interval int64

	counts    *btree.BTree
	sinceEmit int64
	absorbed  int64
	seq       int64
}

func NewCounter(interval int64) *Counter {
	return &Counter{
		interval: interval,
		counts:   btree.New(countsDegree),
	}
}

// Absorb adds the tokens of a single input.
// An input without tokens still counts towards the emission interval.
func (c *Counter) Absorb(tokens []string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range tokens {
		if item := c.counts.Get(&countItem{key: t}); item != nil {
			item.(*countItem).count++
		} else {
			c.counts.ReplaceOrInsert(&countItem{key: t, count: 1})
		}
	}
	c.sinceEmit++
	c.absorbed++
}

// MaybeEmit returns the counts once interval inputs have been absorbed since the last emission.
func (c *Counter) MaybeEmit() (models.OutputRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.interval <= 0 || c.sinceEmit < c.interval {
		return models.OutputRecord{}, false
	}
	return c.emit(), true
}

// Flush returns the counts if anything was absorbed since the last emission.
func (c *Counter) Flush() (models.OutputRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.sinceEmit == 0 {
		return models.OutputRecord{}, false
	}
	return c.emit(), true
}

// c.mu must be held.
func (c *Counter) emit() models.OutputRecord {
	o := models.OutputRecord{
		Seq:     c.seq,
		Entries: c.entries(),
	}
	c.seq++
	c.sinceEmit = 0
	return o
}

// c.mu must be held.
func (c *Counter) entries() []models.AggregateEntry {
	entries := make([]models.AggregateEntry, 0, c.counts.Len())
	c.counts.Ascend(func(i btree.Item) bool {
		item := i.(*countItem)
		entries = append(entries, models.AggregateEntry{Key: item.key, Count: item.count})
		return true
	})
	return entries
}

// Absorbed returns the number of inputs absorbed.
func (c *Counter) Absorbed() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.absorbed
}

// Len returns the number of distinct keys.
func (c *Counter) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.counts.Len()
}

// Snapshot encodes the counts and emission progress.
// Equal states always encode to equal bytes.
func (c *Counter) Snapshot() ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return json.Marshal(counterState{
		Entries:   c.entries(),
		SinceEmit: c.sinceEmit,
		Absorbed:  c.absorbed,
		Seq:       c.seq,
	})
}

func (c *Counter) Restore(data []byte) error {
	var state counterState
	if data != nil {
		if err := json.Unmarshal(data, &state); err != nil {
			return errors.Wrap(err, "decode counter snapshot")
		}
		if state.SinceEmit < 0 || state.Absorbed < 0 || state.Seq < 0 {
			return fmt.Errorf("invalid counter snapshot: since_emit=%d absorbed=%d seq=%d", state.SinceEmit, state.Absorbed, state.Seq)
		}
	}
	counts := btree.New(countsDegree)
	for _, e := range state.Entries {
		if e.Count < 0 {
			return fmt.Errorf("invalid counter snapshot: negative count %d for %q", e.Count, e.Key)
		}
		counts.ReplaceOrInsert(&countItem{key: e.Key, count: e.Count})
	}
	c.mu.Lock()
	c.counts = counts
	c.sinceEmit = state.SinceEmit
	c.absorbed = state.Absorbed
	c.seq = state.Seq
	c.mu.Unlock()
	return nil
}

// CountNode absorbs tokens into a Counter and emits its output records.
type CountNode struct {
	node
	counter *Counter

	outputs *kexpvar.Int
}

func newCountNode(p *Pipeline, name string, interval int64) *CountNode {
	n := &CountNode{
		node:    newNode(p, name, "count"),
		counter: NewCounter(interval),
		outputs: new(kexpvar.Int),
	}
	n.node.runF = n.runCount
	return n
}

func (n *CountNode) runCount(snapshot []byte) error {
	if err := n.counter.Restore(snapshot); err != nil {
		return err
	}
	n.statMap.Set(statOutputs, n.outputs)
	n.statMap.Set(statKeys, kexpvar.NewIntFuncGauge(func() int64 { return int64(n.counter.Len()) }))
	consumer := edge.NewConsumerWithReceiver(n.ins[0], n)
	return consumer.Consume()
}

func (n *CountNode) Record(r edge.RecordMessage) error {
	return fmt.Errorf("%s: unexpected record message at offset %d", n.name, r.Offset)
}

func (n *CountNode) Tokens(t edge.TokensMessage) error {
	n.counter.Absorb(t.Tokens.Tokens)
	if o, ok := n.counter.MaybeEmit(); ok {
		return n.emit(o)
	}
	return nil
}

func (n *CountNode) Output(edge.OutputMessage) error {
	return fmt.Errorf("%s: unexpected output message", n.name)
}

func (n *CountNode) Barrier(b edge.BarrierMessage) error {
	data, err := n.counter.Snapshot()
	if err != nil {
		return errors.Wrap(err, "snapshot counter")
	}
	if err := n.p.ack(Ack{Epoch: b.Epoch, Node: n.name, Snapshot: data}); err != nil {
		return err
	}
	return n.forward(b)
}

// Done emits the remaining counts once the input has fully drained.
func (n *CountNode) Done() {
	if n.p.aborted() {
		return
	}
	if o, ok := n.counter.Flush(); ok {
		if err := n.emit(o); err != nil {
			n.diag.Error("failed to emit final output", err)
		}
	}
}

func (n *CountNode) emit(o models.OutputRecord) error {
	n.diag.EmittedOutput(o)
	n.outputs.Add(1)
	return n.forward(edge.NewOutputMessage(o))
}
