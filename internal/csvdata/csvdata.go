// Package csvdata moves tabular data as named CSV byte streams.
//
// A transfer is a lazy channel of StreamItems. Producers create streams
// only as the consumer advances, and stream bodies are backed by pipes,
// so an unread stream suspends its producer instead of buffering rows in
// memory.
package csvdata

import (
	"bufio"
	"bytes"
	"encoding/csv"
	"fmt"
	"io"
)

// Stream is one named CSV document, header row included.
type Stream struct {
	// Name is a table-ish name derived from the stream's origin, such as
	// a file base name without extensions.
	Name string
	// Data yields UTF-8 CSV bytes. The consumer owns it and must Close
	// it, even on error.
	Data io.ReadCloser
}

// StreamItem is one element of a stream channel: a stream or a producer
// error, never both.
type StreamItem struct {
	Stream *Stream
	Err    error
}

// Single returns a closed channel carrying exactly one stream.
func Single(s *Stream) <-chan StreamItem {
	ch := make(chan StreamItem, 1)
	ch <- StreamItem{Stream: s}
	close(ch)
	return ch
}

// Fail returns a closed channel carrying exactly one producer error.
func Fail(err error) <-chan StreamItem {
	ch := make(chan StreamItem, 1)
	ch <- StreamItem{Err: err}
	close(ch)
	return ch
}

// Pipe returns a stream whose bytes are produced by fill, which runs in
// its own goroutine. Writes block until the consumer reads, and a
// non-nil return from fill surfaces as a read error on the consumer
// side.
func Pipe(name string, fill func(w io.Writer) error) *Stream {
	pr, pw := io.Pipe()
	go func() {
		pw.CloseWithError(fill(pw))
	}()
	return &Stream{Name: name, Data: pr}
}

// HeaderLine renders one CSV header row for the given column names,
// trailing newline included.
func HeaderLine(columns []string) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write(columns); err != nil {
		return nil, err
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// ReadHeader parses the first CSV record of r: the column names.
func ReadHeader(r io.Reader) ([]string, error) {
	reader := csv.NewReader(r)
	reader.ReuseRecord = false
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("read CSV header: %w", err)
	}
	return header, nil
}

// SkipHeader returns a reader that discards r's first line. Used when
// concatenating CSV documents that all carry their own header. The
// header row must not contain quoted newlines.
func SkipHeader(r io.Reader) io.Reader {
	return &headerSkipper{r: bufio.NewReader(r)}
}

type headerSkipper struct {
	r       *bufio.Reader
	skipped bool
}

func (h *headerSkipper) Read(p []byte) (int, error) {
	if !h.skipped {
		h.skipped = true
		if _, err := h.r.ReadString('\n'); err != nil && err != io.EOF {
			return 0, err
		}
	}
	return h.r.Read(p)
}
