package sink

import (
	"bufio"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/epochflow/epochflow/models"
	"github.com/pkg/errors"
)

// FileWriter writes output records as JSON lines to a file.
type FileWriter struct {
	mu sync.Mutex

	path       string
	f          *os.File
	w          *bufio.Writer
	pos        int64
	flushEvery int
	unflushed  int
}

// OpenFile opens or creates the file at path positioned at its end.
// A flushEvery of n flushes buffered data after every n writes; zero flushes only on checkpoint.
func OpenFile(path string, flushEvery int) (*FileWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, errors.Wrapf(err, "mkdir dirs %q", path)
	}
	f, err := os.OpenFile(path, os.O_RDWR|os.O_CREATE, 0644)
	if err != nil {
		return nil, errors.Wrapf(err, "open sink %q", path)
	}
	end, err := f.Seek(0, io.SeekEnd)
	if err != nil {
		f.Close()
		return nil, errors.Wrapf(err, "seek sink %q", path)
	}
	return &FileWriter{
		path:       path,
		f:          f,
		w:          bufio.NewWriter(f),
		pos:        end,
		flushEvery: flushEvery,
	}, nil
}

func (w *FileWriter) Write(o models.OutputRecord) error {
	line, err := EncodeLine(o)
	if err != nil {
		return errors.Wrap(err, "encode output record")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	n, err := w.w.Write(line)
	w.pos += int64(n)
	if err != nil {
		return errors.Wrapf(err, "write sink %q", w.path)
	}
	w.unflushed++
	if w.flushEvery > 0 && w.unflushed >= w.flushEvery {
		return w.flush()
	}
	return nil
}

// w.mu must be held.
func (w *FileWriter) flush() error {
	w.unflushed = 0
	return errors.Wrapf(w.w.Flush(), "flush sink %q", w.path)
}

func (w *FileWriter) Checkpoint() (int64, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flush(); err != nil {
		return 0, err
	}
	if err := w.f.Sync(); err != nil {
		return 0, errors.Wrapf(err, "sync sink %q", w.path)
	}
	return w.pos, nil
}

func (w *FileWriter) Truncate(pos int64) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	// Unflushed data is speculative, drop it.
	w.w.Reset(w.f)
	w.unflushed = 0

	info, err := w.f.Stat()
	if err != nil {
		return errors.Wrapf(err, "stat sink %q", w.path)
	}
	if info.Size() < pos {
		return errors.Wrapf(ErrBehindCommit, "%q has %d bytes, committed %d", w.path, info.Size(), pos)
	}
	if err := w.f.Truncate(pos); err != nil {
		return errors.Wrapf(err, "truncate sink %q", w.path)
	}
	if _, err := w.f.Seek(pos, io.SeekStart); err != nil {
		return errors.Wrapf(err, "seek sink %q", w.path)
	}
	if err := w.f.Sync(); err != nil {
		return errors.Wrapf(err, "sync sink %q", w.path)
	}
	w.pos = pos
	return nil
}

func (w *FileWriter) Position() int64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.pos
}

// Close flushes buffered data and closes the file.
func (w *FileWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	if err := w.flush(); err != nil {
		w.f.Close()
		return err
	}
	if err := w.f.Sync(); err != nil {
		w.f.Close()
		return errors.Wrap(err, "sync output")
	}
	return w.f.Close()
}
