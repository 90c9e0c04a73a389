// Package source provides replayable readers over bounded input.
package source

import (
	"errors"

	"github.com/epochflow/epochflow/models"
)

// ErrExhausted is returned by Read once the offset is past the end of the input.
// It marks the terminal transition of a pipeline, not a failure.
var ErrExhausted = errors.New("source exhausted")

// Reader reads records by offset.
// Offsets are stable for the lifetime of a run so any previously issued offset can be read again.
type Reader interface {
	Read(offset int64) (models.Record, error)
	// Len returns the number of records available.
	Len() int64
}
