package source

import (
	"bufio"
	"os"

	"github.com/epochflow/epochflow/models"
	"github.com/pkg/errors"
)

const maxLineSize = 1 << 20

// LineReader serves the lines of a text file as records.
// The file is read once, offsets are zero based line numbers.
type LineReader struct {
	lines []string
}

// NewLineReader returns a reader over lines.
func NewLineReader(lines []string) *LineReader {
	return &LineReader{lines: lines}
}

// OpenLines reads every line of the file at path.
func OpenLines(path string) (*LineReader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrapf(err, "open input %q", path)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 64*1024), maxLineSize)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return nil, errors.Wrapf(err, "read input %q", path)
	}
	return NewLineReader(lines), nil
}

func (r *LineReader) Read(offset int64) (models.Record, error) {
	if offset < 0 {
		return models.Record{}, errors.Errorf("invalid offset %d", offset)
	}
	if offset >= int64(len(r.lines)) {
		return models.Record{}, ErrExhausted
	}
	return models.Record{
		Offset:  offset,
		Payload: r.lines[offset],
	}, nil
}

func (r *LineReader) Len() int64 {
	return int64(len(r.lines))
}
