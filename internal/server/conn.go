package server

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/Brownie44l1/sockserve/internal/headers"
	"github.com/Brownie44l1/sockserve/internal/resolver"
	"github.com/Brownie44l1/sockserve/internal/response"
	"github.com/Brownie44l1/sockserve/internal/video"
)

type sessionState int32

const (
	stateReading sessionState = iota
	stateResolving
	stateSending
	stateLooping
	stateDestroyed
)

var stateNames = [...]string{"reading", "resolving", "sending", "looping", "destroyed"}

func (s sessionState) String() string {
	if int(s) < len(stateNames) {
		return stateNames[s]
	}
	return "unknown"
}

// session owns one accepted connection from the first read to the close.
type session struct {
	id   uint64
	conn net.Conn
	srv  *Server

	state     atomic.Int32
	keepAlive bool
	cycles    int

	// pending is the chunk that was being written when the transport
	// failed. It is never resent.
	mu      sync.Mutex
	pending []byte

	closeOnce sync.Once
}

func newSession(id uint64, conn net.Conn, srv *Server) *session {
	return &session{id: id, conn: conn, srv: srv}
}

// serve runs Reading -> Resolving -> Sending until the client stops asking
// for keep-alive, the peer goes away, or a write fails.
func (ss *session) serve(ctx context.Context) {
	defer ss.close()
	defer func() {
		if r := recover(); r != nil {
			ss.srv.Logger.Error("session panic",
				ss.fields(Field{"error", r}, Field{"stack", string(debug.Stack())})...)
		}
	}()

	buf := ss.srv.buffers.get()
	defer ss.srv.buffers.put(buf)

	for {
		ss.setState(stateReading)
		n, err := ss.read(buf)
		if err != nil {
			ss.logReadError(err)
			return
		}
		ss.keepAlive = wantsKeepAlive(buf[:n])
		ss.cycles++
		ss.srv.Logger.Debug("request received",
			ss.fields(Field{"cycle", ss.cycles}, Field{"bytes", n}, Field{"keep_alive", ss.keepAlive})...)

		ss.setState(stateResolving)
		out, err := ss.srv.resolver.Resolve(ss.srv.cfg.Mode, ss.srv.cfg.Flags)
		if err != nil {
			ss.srv.Logger.Error("resolve failed", ss.fields(Field{"error", err})...)
			ss.keepAlive = false
			out = resolver.Output{Response: response.Error(response.StatusInternalServerError, "INTERNAL SERVER ERROR")}
		}

		ss.setState(stateSending)
		if out.Stream != nil {
			err = ss.stream(ctx, out.Stream)
		} else {
			err = ss.send(out.Response)
		}
		if err != nil {
			return
		}

		if !ss.keepAlive || ctx.Err() != nil {
			return
		}
		ss.setState(stateLooping)
	}
}

// read performs one read of up to len(buf) bytes.
func (ss *session) read(buf []byte) (int, error) {
	if d := ss.srv.cfg.ReadTimeout; d > 0 {
		if err := ss.conn.SetReadDeadline(time.Now().Add(d)); err != nil {
			ss.srv.Logger.Debug("set read deadline failed", ss.fields(Field{"error", err})...)
		}
	}
	for {
		n, err := ss.conn.Read(buf)
		if n > 0 {
			return n, nil
		}
		if err != nil {
			return 0, err
		}
	}
}

func (ss *session) setWriteDeadline() {
	if d := ss.srv.cfg.WriteTimeout; d > 0 {
		if err := ss.conn.SetWriteDeadline(time.Now().Add(d)); err != nil {
			ss.srv.Logger.Debug("set write deadline failed", ss.fields(Field{"error", err})...)
		}
	}
}

// send frames one resolved response.
func (ss *session) send(resp *response.ServiceResponse) error {
	start := time.Now()
	w := response.NewWriter(ss.conn, ss.srv.cfg.ChunkSize)
	ss.setWriteDeadline()
	err := w.WriteResponse(resp, connectionHeader(ss.keepAlive))
	ss.srv.metrics.RecordResponse(w.BytesWritten(), w.Chunks(), time.Since(start))
	if err != nil {
		ss.writeFailed(w, err)
		return err
	}

	ss.srv.Logger.Debug("response sent", ss.fields(
		Field{"status", int(w.StatusCode())},
		Field{"bytes", w.BytesWritten()},
		Field{"chunked", w.IsChunked()},
	)...)
	return nil
}

// stream sends camera frames as a chunked multipart body until the source
// ends or the server shuts down.
func (ss *session) stream(ctx context.Context, vs *resolver.VideoStream) error {
	src, err := ss.srv.cameras.Open(ctx, vs.Device)
	if err != nil {
		ss.srv.Logger.Error("camera unavailable",
			ss.fields(Field{"device", vs.Device}, Field{"error", err})...)
		ss.keepAlive = false
		return ss.send(response.Error(response.StatusServiceUnavailable, "CAMERA UNAVAILABLE"))
	}
	defer src.Close()

	ss.srv.metrics.StreamsTotal.Add(1)
	ss.srv.Logger.Info("camera stream started", ss.fields(Field{"device", vs.Device})...)

	start := time.Now()
	w := response.NewWriter(ss.conn, ss.srv.cfg.ChunkSize)
	defer func() {
		ss.srv.metrics.RecordResponse(w.BytesWritten(), w.Chunks(), time.Since(start))
	}()

	h := headers.NewHeaders()
	h.Set("Content-Type", video.ContentType)
	h.Set("Cache-Control", "no-cache")

	ss.setWriteDeadline()
	if err := w.StartChunked(response.StatusOK, h, connectionHeader(ss.keepAlive)); err != nil {
		ss.writeFailed(w, err)
		return err
	}

	frames := 0
	for ctx.Err() == nil {
		frame, err := src.NextFrame()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			ss.srv.Logger.Warn("camera read failed", ss.fields(Field{"error", err})...)
			ss.keepAlive = false
			break
		}

		ss.setWriteDeadline()
		if err := w.WriteChunks(video.Part(frame)); err != nil {
			ss.writeFailed(w, err)
			return err
		}
		frames++
	}

	ss.setWriteDeadline()
	if err := w.FinishChunked(); err != nil {
		ss.writeFailed(w, err)
		return err
	}
	ss.srv.Logger.Info("camera stream ended",
		ss.fields(Field{"device", vs.Device}, Field{"frames", frames})...)
	return nil
}

// writeFailed records a transport failure. The session is torn down by the
// caller and nothing is retried.
func (ss *session) writeFailed(w *response.Writer, err error) {
	ss.mu.Lock()
	ss.pending = w.Pending()
	ss.mu.Unlock()

	ss.srv.metrics.WriteErrors.Add(1)
	fields := ss.fields(Field{"error", err}, Field{"pending_bytes", len(w.Pending())})
	if isPeerGone(err) {
		ss.srv.Logger.Info("client went away during write", fields...)
		return
	}
	ss.srv.Logger.Error("write failed", fields...)
}

func (ss *session) logReadError(err error) {
	switch {
	case errors.Is(err, io.EOF):
		ss.srv.Logger.Debug("client closed connection", ss.fields()...)
	case errors.Is(err, net.ErrClosed):
		ss.srv.Logger.Debug("connection closed", ss.fields()...)
	case errors.Is(err, syscall.ECONNRESET):
		ss.srv.metrics.ReadErrors.Add(1)
		ss.srv.Logger.Info("connection reset by peer", ss.fields()...)
	case errors.Is(err, os.ErrDeadlineExceeded):
		ss.srv.metrics.ReadErrors.Add(1)
		ss.srv.Logger.Info("read timed out", ss.fields()...)
	default:
		ss.srv.metrics.ReadErrors.Add(1)
		ss.srv.Logger.Warn("read failed", ss.fields(Field{"error", err})...)
	}
}

func isPeerGone(err error) bool {
	return errors.Is(err, syscall.EPIPE) ||
		errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed)
}

// close releases the connection exactly once.
func (ss *session) close() {
	ss.closeOnce.Do(func() {
		ss.setState(stateDestroyed)
		if err := ss.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
			ss.srv.Logger.Debug("close failed", ss.fields(Field{"error", err})...)
		}
	})
}

// setState moves the session to s. A destroyed session stays destroyed.
func (ss *session) setState(s sessionState) {
	for {
		cur := ss.state.Load()
		if sessionState(cur) == stateDestroyed {
			return
		}
		if ss.state.CompareAndSwap(cur, int32(s)) {
			return
		}
	}
}

func (ss *session) currentState() sessionState {
	return sessionState(ss.state.Load())
}

// pendingChunk returns the chunk that was in flight when a write failed.
func (ss *session) pendingChunk() []byte {
	ss.mu.Lock()
	defer ss.mu.Unlock()
	return ss.pending
}

func (ss *session) fields(extra ...Field) []Field {
	fields := make([]Field, 0, len(extra)+2)
	fields = append(fields, Field{"session", ss.id}, Field{"remote", remoteAddr(ss.conn)})
	return append(fields, extra...)
}

func remoteAddr(conn net.Conn) string {
	if addr := conn.RemoteAddr(); addr != nil {
		return addr.String()
	}
	return "unknown"
}
