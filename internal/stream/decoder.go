// Package stream turns a chunked byte stream of line-delimited JSON into
// discrete analysis messages.
package stream

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strconv"
)

// DefaultMaxLineBytes bounds a single buffered line.
const DefaultMaxLineBytes = 1 << 20

// readChunkSize is the buffer handed to each Read call.
const readChunkSize = 32 << 10

// LineDecoder reassembles newline-terminated lines from chunks with arbitrary
// boundaries. It is not safe for concurrent use.
type LineDecoder struct {
	buf     []byte
	maxLine int
}

// NewLineDecoder creates a decoder that rejects lines longer than maxLine
// bytes. A non-positive maxLine selects DefaultMaxLineBytes.
func NewLineDecoder(maxLine int) *LineDecoder {
	if maxLine <= 0 {
		maxLine = DefaultMaxLineBytes
	}
	return &LineDecoder{maxLine: maxLine}
}

// Feed appends chunk to the buffer and returns every complete line it now
// holds. The trailing fragment is kept for the next call. Blank lines are
// skipped and a trailing '\r' is trimmed.
func (d *LineDecoder) Feed(chunk []byte) ([]string, error) {
	d.buf = append(d.buf, chunk...)

	var lines []string
	for {
		i := bytes.IndexByte(d.buf, '\n')
		if i < 0 {
			break
		}
		if i > d.maxLine {
			d.buf = d.buf[i+1:]
			return lines, d.tooLong(i)
		}
		line := bytes.TrimSuffix(d.buf[:i], []byte{'\r'})
		if len(bytes.TrimSpace(line)) > 0 {
			lines = append(lines, string(line))
		}
		d.buf = d.buf[i+1:]
	}

	if len(d.buf) > d.maxLine {
		n := len(d.buf)
		d.buf = nil
		return lines, d.tooLong(n)
	}

	if len(d.buf) == 0 {
		d.buf = nil
	}
	return lines, nil
}

// Buffered returns the size of the pending fragment.
func (d *LineDecoder) Buffered() int { return len(d.buf) }

// Flush ends the stream. A pending fragment has no terminator, so it cannot
// be trusted to be complete and is dropped; Flush returns its size.
func (d *LineDecoder) Flush() int {
	n := len(bytes.TrimSpace(d.buf))
	d.buf = nil
	return n
}

func (d *LineDecoder) tooLong(n int) error {
	return &Error{
		Kind:   ParseError,
		Detail: "line of " + strconv.Itoa(n) + " bytes",
		Err:    ErrLineTooLong,
	}
}

// ReadLines reads r to EOF, calling fn for every complete line in arrival
// order. It stops early when fn returns an error or ctx is done. Read errors
// are returned as NetworkError; the dropped trailing fragment size is
// returned alongside a nil error at EOF.
func ReadLines(ctx context.Context, r io.Reader, maxLine int, fn func(line string) error) (dropped int, err error) {
	dec := NewLineDecoder(maxLine)
	chunk := make([]byte, readChunkSize)

	for {
		if err := ctx.Err(); err != nil {
			return 0, Errorf(NetworkError, err, "read cancelled")
		}

		n, rerr := r.Read(chunk)
		if n > 0 {
			lines, ferr := dec.Feed(chunk[:n])
			for _, line := range lines {
				if err := fn(line); err != nil {
					return 0, err
				}
			}
			if ferr != nil {
				return 0, ferr
			}
		}

		if rerr != nil {
			if errors.Is(rerr, io.EOF) {
				return dec.Flush(), nil
			}
			return 0, Errorf(NetworkError, rerr, "reading stream")
		}
	}
}
