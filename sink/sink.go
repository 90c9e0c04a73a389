// Package sink writes aggregate output to a destination that can be cut back
// to a committed position.
package sink

import (
	"encoding/json"
	"errors"

	"github.com/epochflow/epochflow/models"
)

// ErrBehindCommit is returned by Truncate when the destination holds less
// data than a committed checkpoint claims it durably wrote.
var ErrBehindCommit = errors.New("sink destination shorter than committed position")

// Writer is an append-only destination that supports truncation back to a checkpointed position.
type Writer interface {
	// Write appends the output record.
	Write(o models.OutputRecord) error
	// Checkpoint makes everything written so far durable and returns its position.
	Checkpoint() (int64, error)
	// Truncate discards everything written after pos.
	Truncate(pos int64) error
	// Position returns the logical end of the written data, including unflushed data.
	Position() int64
	Close() error
}

// EncodeLine returns the line written for o, including the trailing newline.
func EncodeLine(o models.OutputRecord) ([]byte, error) {
	b, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
