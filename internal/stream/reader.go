package stream

import (
	"bufio"
	"encoding/json"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"github.com/tidwall/gjson"
)

// DoneSentinel terminates a stream early.
const DoneSentinel = "[DONE]"

// Record is one raw `data:` payload from the upstream stream.
type Record struct {
	Type string
	Raw  json.RawMessage
}

// MalformedEventError describes a data line that is not valid JSON. The
// reader logs and skips these; it is exported for callers decoding records
// themselves.
type MalformedEventError struct {
	Line    int
	Preview string
}

func (e *MalformedEventError) Error() string {
	return "malformed stream record at line " + strconv.Itoa(e.Line) + ": " + e.Preview
}

// Reader reads SSE records from an io.Reader.
type Reader struct {
	scanner *bufio.Scanner
	line    int
	skipped int
}

// NewReader creates a new SSE reader.
func NewReader(r io.Reader) *Reader {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 256*1024), 1024*1024)
	return &Reader{scanner: scanner}
}

// Next returns the next record. It returns nil, io.EOF at the sentinel or
// at the end of input, and the underlying error when the read fails.
func (r *Reader) Next() (*Record, error) {
	for r.scanner.Scan() {
		r.line++
		line := r.scanner.Text()
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		data := strings.TrimSpace(line[len("data:"):])
		if data == "" {
			continue
		}
		if data == DoneSentinel {
			return nil, io.EOF
		}
		if !gjson.Valid(data) {
			r.skipped++
			err := &MalformedEventError{Line: r.line, Preview: preview(data, 100)}
			slog.Warn("stream.record.malformed", "line", err.Line, "preview", err.Preview)
			continue
		}
		return &Record{
			Type: gjson.Get(data, "type").String(),
			Raw:  json.RawMessage(data),
		}, nil
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}
	return nil, io.EOF
}

// Skipped returns how many malformed records were dropped so far.
func (r *Reader) Skipped() int { return r.skipped }

func preview(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
