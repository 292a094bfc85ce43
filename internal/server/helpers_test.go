package server

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/Brownie44l1/sockserve/internal/config"
	"github.com/Brownie44l1/sockserve/internal/filestore"
	"github.com/Brownie44l1/sockserve/internal/video"
)

const (
	keepAliveRequest = "GET / HTTP/1.1\r\nHost: localhost\r\nConnection: keep-alive\r\n\r\n"
	closeRequest     = "GET / HTTP/1.1\r\nHost: localhost\r\n\r\n"
)

func testConfig(mode config.Mode) config.Config {
	cfg := config.Default()
	cfg.Addr = "127.0.0.1:0"
	cfg.Mode = mode
	return cfg
}

// pipeSession runs a session over net.Pipe and returns the client side plus
// a channel closed when the session has finished.
func pipeSession(t *testing.T, srv *Server) (net.Conn, *session, <-chan struct{}) {
	t.Helper()
	client, serverSide := net.Pipe()
	ss := newSession(1, serverSide, srv)
	done := make(chan struct{})
	go func() {
		defer close(done)
		ss.serve(srv.ctx)
	}()
	t.Cleanup(func() { client.Close() })
	return client, ss, done
}

func waitDone(t *testing.T, done <-chan struct{}) {
	t.Helper()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("session did not finish")
	}
}

func roundTrip(t *testing.T, conn net.Conn, br *bufio.Reader, request string) (*http.Response, []byte) {
	t.Helper()
	_, err := io.WriteString(conn, request)
	require.NoError(t, err)
	resp, err := http.ReadResponse(br, nil)
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	return resp, body
}

func writeTempFile(t *testing.T, name string, data []byte) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

// memStore serves a fixed set of files from memory.
type memStore map[string][]byte

func (m memStore) Stat(path string) (filestore.File, bool, error) {
	if _, ok := m[path]; !ok {
		return filestore.File{}, false, nil
	}
	return filestore.File{Path: path, Name: filepath.Base(path), Extension: filepath.Ext(path)}, true, nil
}

func (m memStore) ReadAll(f filestore.File) ([]byte, error) {
	return m[f.Path], nil
}

// flakyConn hands out one request, then accepts okWrites writes before
// every further write fails with a broken pipe. Reads after the request
// return readErr, or io.EOF when it is nil. Deadline setters return
// deadlineErr.
type flakyConn struct {
	mu          sync.Mutex
	request     []byte
	readErr     error
	deadlineErr error
	okWrites    int
	writes   int
	closes   int
	out      bytes.Buffer
}

func (c *flakyConn) Read(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.request == nil {
		if c.readErr != nil {
			return 0, c.readErr
		}
		return 0, io.EOF
	}
	n := copy(p, c.request)
	c.request = nil
	return n, nil
}

func (c *flakyConn) Write(p []byte) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.writes++
	if c.writes > c.okWrites {
		return 0, &net.OpError{Op: "write", Net: "tcp", Err: os.NewSyscallError("write", syscall.EPIPE)}
	}
	return c.out.Write(p)
}

func (c *flakyConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closes++
	return nil
}

func (c *flakyConn) LocalAddr() net.Addr  { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 8080} }
func (c *flakyConn) RemoteAddr() net.Addr { return &net.TCPAddr{IP: net.IPv4(127, 0, 0, 1), Port: 50000} }

func (c *flakyConn) SetDeadline(time.Time) error      { return c.deadlineErr }
func (c *flakyConn) SetReadDeadline(time.Time) error  { return c.deadlineErr }
func (c *flakyConn) SetWriteDeadline(time.Time) error { return c.deadlineErr }

// fakeCamera yields the given frames and then io.EOF.
type fakeCamera struct {
	frames  [][]byte
	openErr error
	panics  bool

	mu     sync.Mutex
	opened []int
	closed int
}

func (f *fakeCamera) Open(ctx context.Context, device int) (video.Source, error) {
	if f.panics {
		panic("camera driver crashed")
	}
	f.mu.Lock()
	f.opened = append(f.opened, device)
	f.mu.Unlock()
	if f.openErr != nil {
		return nil, f.openErr
	}
	return &fakeSource{cam: f, frames: append([][]byte(nil), f.frames...)}, nil
}

func (f *fakeCamera) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

type fakeSource struct {
	cam    *fakeCamera
	frames [][]byte
}

func (s *fakeSource) NextFrame() ([]byte, error) {
	if len(s.frames) == 0 {
		return nil, io.EOF
	}
	f := s.frames[0]
	s.frames = s.frames[1:]
	return f, nil
}

func (s *fakeSource) Close() error {
	s.cam.mu.Lock()
	s.cam.closed++
	s.cam.mu.Unlock()
	return nil
}

// endlessCamera produces frames until ctx is cancelled.
type endlessCamera struct{}

func (endlessCamera) Open(ctx context.Context, device int) (video.Source, error) {
	return endlessSource{ctx: ctx}, nil
}

type endlessSource struct{ ctx context.Context }

func (s endlessSource) NextFrame() ([]byte, error) {
	select {
	case <-s.ctx.Done():
		return nil, errors.New("capture stopped")
	case <-time.After(5 * time.Millisecond):
		return []byte{0xFF, 0xD8, 'f', 0xFF, 0xD9}, nil
	}
}

func (endlessSource) Close() error { return nil }

// unreadableStore finds every file but fails to read it.
type unreadableStore struct{}

func (unreadableStore) Stat(path string) (filestore.File, bool, error) {
	return filestore.File{Path: path, Name: filepath.Base(path), Extension: filepath.Ext(path)}, true, nil
}

func (unreadableStore) ReadAll(filestore.File) ([]byte, error) {
	return nil, os.ErrPermission
}
