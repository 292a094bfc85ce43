package response

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/Brownie44l1/sockserve/internal/headers"
)

// DefaultChunkSize bounds a single chunk when no size is configured.
const DefaultChunkSize = 64 << 10

// ErrWriterFailed is returned by every write after a transport failure.
var ErrWriterFailed = errors.New("response writer already failed")

// writerState tracks what's been written so far
type writerState int

const (
	stateStart writerState = iota
	stateHeadersWritten
	stateBodyWritten
)

// Writer frames responses onto an io.Writer.
type Writer struct {
	w         io.Writer
	state     writerState
	chunkSize int

	statusCode StatusCode
	chunked    bool
	written    int64
	chunks     int

	// pending holds the chunk whose write failed. It is kept for
	// inspection only and never resent.
	pending []byte
	err     error
}

// NewWriter creates a response writer. chunkSize <= 0 selects DefaultChunkSize.
func NewWriter(w io.Writer, chunkSize int) *Writer {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	return &Writer{
		w:         w,
		state:     stateStart,
		chunkSize: chunkSize,
	}
}

// WriteResponse frames resp with fixed or chunked framing. extra holds
// connection-level headers appended after the response's own block and may
// be nil.
func (w *Writer) WriteResponse(resp *ServiceResponse, extra *headers.Headers) error {
	if !resp.Valid() {
		return fmt.Errorf("content length %d does not match body of %d bytes", resp.ContentLength, len(resp.Body))
	}
	if resp.Chunked() {
		return w.writeChunked(resp, extra)
	}
	return w.writeFixed(resp, extra)
}

// writeFixed emits head and body in a single write.
func (w *Writer) writeFixed(resp *ServiceResponse, extra *headers.Headers) error {
	if w.state != stateStart {
		return fmt.Errorf("status line already written")
	}

	var buf bytes.Buffer
	buf.Grow(256 + len(resp.Body))
	writeStatusLine(&buf, resp.StatusCode)
	writeHeaderLines(&buf, resp.Headers)
	writeHeaderLines(&buf, extra)
	buf.WriteString("Content-Length: ")
	buf.WriteString(strconv.Itoa(len(resp.Body)))
	buf.WriteString("\r\n\r\n")
	buf.Write(resp.Body)

	w.statusCode = resp.StatusCode
	if err := w.write(buf.Bytes()); err != nil {
		return fmt.Errorf("write response: %w", err)
	}
	w.state = stateBodyWritten
	return nil
}

// writeChunked emits the head, then the body in frames of at most chunkSize
// bytes, then the terminal chunk. A failed frame aborts the sequence.
func (w *Writer) writeChunked(resp *ServiceResponse, extra *headers.Headers) error {
	if err := w.StartChunked(resp.StatusCode, resp.Headers, extra); err != nil {
		return err
	}

	if err := w.WriteChunks(resp.Body); err != nil {
		return err
	}
	return w.FinishChunked()
}

// WriteChunks writes p as consecutive chunks of at most the writer's chunk
// size.
func (w *Writer) WriteChunks(p []byte) error {
	for len(p) > 0 {
		n := min(len(p), w.chunkSize)
		if err := w.WriteChunk(p[:n]); err != nil {
			return err
		}
		p = p[n:]
	}
	return nil
}

// StartChunked writes the status line and header blocks of a chunked
// response. Transfer-Encoding is added when the blocks do not carry it.
func (w *Writer) StartChunked(code StatusCode, blocks ...*headers.Headers) error {
	if w.state != stateStart {
		return fmt.Errorf("status line already written")
	}

	var buf bytes.Buffer
	writeStatusLine(&buf, code)
	hasTE := false
	for _, h := range blocks {
		if h == nil {
			continue
		}
		if _, ok := h.Get("Transfer-Encoding"); ok {
			hasTE = true
		}
		writeHeaderLines(&buf, h)
	}
	if !hasTE {
		buf.WriteString("Transfer-Encoding: chunked\r\n")
	}
	buf.WriteString("\r\n")

	w.statusCode = code
	w.chunked = true
	if err := w.write(buf.Bytes()); err != nil {
		return fmt.Errorf("write chunked head: %w", err)
	}
	w.state = stateHeadersWritten
	return nil
}

// WriteChunk writes a single chunk (for chunked transfer encoding)
func (w *Writer) WriteChunk(data []byte) error {
	if w.err != nil {
		return ErrWriterFailed
	}
	if !w.chunked || (w.state != stateHeadersWritten && w.state != stateBodyWritten) {
		return fmt.Errorf("must start a chunked response before writing chunks")
	}

	if len(data) == 0 {
		return nil // an empty chunk would end the body
	}

	frame := make([]byte, 0, len(data)+16)
	frame = strconv.AppendInt(frame, int64(len(data)), 16)
	frame = append(frame, '\r', '\n')
	frame = append(frame, data...)
	frame = append(frame, '\r', '\n')

	if err := w.write(frame); err != nil {
		w.pending = data
		return fmt.Errorf("write chunk of %d bytes: %w", len(data), err)
	}

	w.chunks++
	w.state = stateBodyWritten
	return nil
}

// FinishChunked writes the final zero-length chunk
func (w *Writer) FinishChunked() error {
	if w.err != nil {
		return ErrWriterFailed
	}
	if !w.chunked || (w.state != stateHeadersWritten && w.state != stateBodyWritten) {
		return fmt.Errorf("must start a chunked response before finishing it")
	}

	if err := w.write([]byte("0\r\n\r\n")); err != nil {
		return fmt.Errorf("write last chunk: %w", err)
	}

	w.state = stateBodyWritten
	return nil
}

func (w *Writer) write(p []byte) error {
	if w.err != nil {
		return ErrWriterFailed
	}
	n, err := w.w.Write(p)
	w.written += int64(n)
	if err != nil {
		w.err = err
		return err
	}
	return nil
}

// writeStatusLine always carries the reason phrase OK, whatever the code.
func writeStatusLine(buf *bytes.Buffer, code StatusCode) {
	fmt.Fprintf(buf, "HTTP/1.1 %d OK\r\n", code)
}

func writeHeaderLines(buf *bytes.Buffer, h *headers.Headers) {
	if h == nil {
		return
	}
	h.Each(func(name, value string) {
		buf.WriteString(name)
		buf.WriteString(": ")
		buf.WriteString(value)
		buf.WriteString("\r\n")
	})
}

// State tracking methods for connection management

// Pending returns the chunk whose write failed, if any.
func (w *Writer) Pending() []byte {
	return w.pending
}

func (w *Writer) IsChunked() bool {
	return w.chunked
}

func (w *Writer) StatusCode() StatusCode {
	return w.statusCode
}

func (w *Writer) BytesWritten() int64 {
	return w.written
}

func (w *Writer) Chunks() int {
	return w.chunks
}
