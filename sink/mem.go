package sink

import (
	"bytes"
	"sync"

	"github.com/epochflow/epochflow/models"
	"github.com/pkg/errors"
)

// MemWriter is an in memory Writer.
// Content written since the last checkpoint counts as durable, matching a
// FileWriter that flushes after every write.
// This is intended for testing use cases only.
type MemWriter struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func NewMemWriter() *MemWriter {
	return new(MemWriter)
}

func (w *MemWriter) Write(o models.OutputRecord) error {
	line, err := EncodeLine(o)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.buf.Write(line)
	w.mu.Unlock()
	return nil
}

func (w *MemWriter) Checkpoint() (int64, error) {
	return w.Position(), nil
}

func (w *MemWriter) Truncate(pos int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if int64(w.buf.Len()) < pos {
		return errors.Wrapf(ErrBehindCommit, "have %d bytes, committed %d", w.buf.Len(), pos)
	}
	w.buf.Truncate(int(pos))
	return nil
}

func (w *MemWriter) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return int64(w.buf.Len())
}

func (w *MemWriter) Close() error { return nil }

// Bytes returns a copy of the written content.
func (w *MemWriter) Bytes() []byte {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]byte(nil), w.buf.Bytes()...)
}
