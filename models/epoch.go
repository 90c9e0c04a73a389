package models

import "fmt"

// Epoch identifies a globally consistent snapshot.
type Epoch struct {
	ID uint64
	// Offset is the source offset of the first record not yet
	// incorporated into the snapshot.
	Offset int64
}

// ZeroEpoch is the implicit restore point before any epoch commits.
var ZeroEpoch = Epoch{}

func (e Epoch) String() string {
	return fmt.Sprintf("epoch %d@%d", e.ID, e.Offset)
}

// Follows reports whether e is a valid successor of prev.
// IDs must strictly increase and offsets must not decrease.
func (e Epoch) Follows(prev Epoch) bool {
	return e.ID > prev.ID && e.Offset >= prev.Offset
}
