package epoch_store

import (
	"bytes"
	"encoding/gob"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/epochflow/epochflow/models"
	"github.com/epochflow/epochflow/services/storage"
)

var (
	ErrNoEpochCommitted = errors.New("no epoch committed")
	ErrNoRunExists      = errors.New("no run exists")
)

//--------------------------------------------------------------------
// The following structures are stored in a database via gob encoding.
// Changes to the structures could break existing data.

// Snapshot is a committed epoch.
type Snapshot struct {
	Epoch uint64
	// Source offset of the first record not covered by the epoch.
	Offset int64
	// Snapshot bytes of each stateful node, keyed by node name.
	NodeSnapshots map[string][]byte
	Committed     time.Time
}

func (s *Snapshot) EpochInfo() models.Epoch {
	return models.Epoch{ID: s.Epoch, Offset: s.Offset}
}

// Run is the launch registry record of a single run of the pipeline.
// A run spans every launch from a fresh start until the input is fully processed.
type Run struct {
	ID         string
	ConfigHash uint64
	// Number of launches of this run, including the current one.
	Launches int
	// Attempts counts the relaunches of each stage.
	Attempts map[string]int
	// Crashed marks stages that crashed during the current launch.
	Crashed   map[string]bool
	Completed bool
	Started   time.Time
}

// Attempt returns the relaunch attempt of stage, zero on its first launch.
func (r Run) Attempt(stage string) int {
	return r.Attempts[stage]
}

// Fresh reports whether the current launch is the first launch of the run.
func (r Run) Fresh() bool {
	return r.Launches == 1
}

const (
	epochDataPrefix = "/epochs/data/"
	currentRunKey   = "/runs/current"
)

// Epoch keys are zero padded so that listing returns them in epoch order.
func epochDataKey(id uint64) string {
	return fmt.Sprintf("%s%020d", epochDataPrefix, id)
}

func epochFromKey(key string) (uint64, error) {
	return strconv.ParseUint(strings.TrimPrefix(key, epochDataPrefix), 10, 64)
}

func encode(v interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := gob.NewEncoder(&buf)
	err := enc.Encode(v)
	return buf.Bytes(), err
}

func decodeSnapshot(data []byte) (*Snapshot, error) {
	snapshot := new(Snapshot)
	dec := gob.NewDecoder(bytes.NewReader(data))
	err := dec.Decode(snapshot)
	return snapshot, err
}

func decodeRun(data []byte) (Run, error) {
	var r Run
	dec := gob.NewDecoder(bytes.NewReader(data))
	err := dec.Decode(&r)
	if r.Attempts == nil {
		r.Attempts = make(map[string]int)
	}
	if r.Crashed == nil {
		r.Crashed = make(map[string]bool)
	}
	return r, err
}

func putSnapshot(tx storage.Tx, s *Snapshot) error {
	data, err := encode(s)
	if err != nil {
		return err
	}
	return tx.Put(epochDataKey(s.Epoch), data)
}

func latestSnapshot(tx storage.ReadOnlyTx) (*Snapshot, error) {
	kvs, err := tx.List(epochDataPrefix)
	if err != nil {
		return nil, err
	}
	if len(kvs) == 0 {
		return nil, ErrNoEpochCommitted
	}
	return decodeSnapshot(kvs[len(kvs)-1].Value)
}

func listSnapshots(tx storage.ReadOnlyTx) ([]*Snapshot, error) {
	kvs, err := tx.List(epochDataPrefix)
	if err != nil {
		return nil, err
	}
	snapshots := make([]*Snapshot, len(kvs))
	for i, kv := range kvs {
		s, err := decodeSnapshot(kv.Value)
		if err != nil {
			return nil, err
		}
		snapshots[i] = s
	}
	return snapshots, nil
}

// deleteSnapshotsBefore removes every epoch with an ID lower than id and returns how many were removed.
func deleteSnapshotsBefore(tx storage.Tx, id uint64) (int, error) {
	kvs, err := tx.List(epochDataPrefix)
	if err != nil {
		return 0, err
	}
	n := 0
	for _, kv := range kvs {
		e, err := epochFromKey(kv.Key)
		if err != nil {
			return n, err
		}
		if e >= id {
			// Keys are sorted.
			break
		}
		if err := tx.Delete(kv.Key); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

func getRun(tx storage.ReadOnlyTx) (Run, error) {
	kv, err := tx.Get(currentRunKey)
	if err == storage.ErrNoKeyExists {
		return Run{}, ErrNoRunExists
	} else if err != nil {
		return Run{}, err
	}
	return decodeRun(kv.Value)
}

func putRun(tx storage.Tx, r Run) error {
	data, err := encode(r)
	if err != nil {
		return err
	}
	return tx.Put(currentRunKey, data)
}
