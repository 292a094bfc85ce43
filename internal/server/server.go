package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/net/netutil"

	"github.com/Brownie44l1/sockserve/internal/config"
	"github.com/Brownie44l1/sockserve/internal/filestore"
	"github.com/Brownie44l1/sockserve/internal/resolver"
	"github.com/Brownie44l1/sockserve/internal/video"
)

// ErrServerClosed is returned by Serve after Shutdown.
var ErrServerClosed = errors.New("server closed")

// Server accepts connections and runs one session per connection. Every
// session answers with the single output configured in cfg.
type Server struct {
	cfg      config.Config
	resolver *resolver.Resolver
	cameras  video.Opener
	metrics  *Metrics
	buffers  *bufferPool
	sessions *registry
	Logger   Logger

	mu       sync.Mutex
	listener net.Listener
	closed   atomic.Bool
	wg       sync.WaitGroup
	nextID   atomic.Uint64

	// ctx is cancelled by Shutdown to stop camera streams.
	ctx    context.Context
	cancel context.CancelFunc
}

// Option configures a Server.
type Option func(*Server)

func WithLogger(l Logger) Option {
	return func(s *Server) { s.Logger = l }
}

// WithFileStore replaces the filesystem used by the file mode.
func WithFileStore(store filestore.Store) Option {
	return func(s *Server) { s.resolver = resolver.New(store) }
}

// WithCameraOpener replaces the ffmpeg-backed camera source.
func WithCameraOpener(o video.Opener) Option {
	return func(s *Server) { s.cameras = o }
}

// New creates a server for cfg. cfg is copied and must already be valid.
func New(cfg config.Config, opts ...Option) *Server {
	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		cfg:      cfg,
		resolver: resolver.New(filestore.OS{}),
		cameras:  video.FFmpeg{Binary: cfg.FFmpeg},
		metrics:  NewMetrics(),
		buffers:  newBufferPool(cfg.ReadBufferSize),
		sessions: newRegistry(),
		Logger:   &NullLogger{},
		ctx:      ctx,
		cancel:   cancel,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Listen binds the configured address with SO_REUSEADDR.
func (s *Server) Listen() (net.Listener, error) {
	lc := net.ListenConfig{Control: setReuseAddr}
	ln, err := lc.Listen(context.Background(), "tcp", s.cfg.Addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", s.cfg.Addr, err)
	}
	return ln, nil
}

// Serve accepts connections on ln. It returns nil once MaxConnections
// connections were accepted and their sessions finished, or ErrServerClosed
// after Shutdown. ln is closed on return.
func (s *Server) Serve(ln net.Listener) error {
	if s.cfg.MaxConcurrent > 0 {
		ln = netutil.LimitListener(ln, s.cfg.MaxConcurrent)
	}

	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		ln.Close()
		return ErrServerClosed
	}
	s.listener = ln
	s.mu.Unlock()

	s.Logger.Info("listening",
		Field{"addr", ln.Addr().String()},
		Field{"mode", s.cfg.Mode.Name()},
		Field{"max_conns", s.cfg.MaxConnections},
		Field{"max_concurrent", s.cfg.MaxConcurrent},
	)
	if len(s.cfg.Ignored) > 0 {
		s.Logger.Warn("only the first configured mode is served",
			Field{"mode", s.cfg.Mode.Name()}, Field{"ignored", s.cfg.Ignored})
	}

	var delay time.Duration
	accepted := 0
	for s.cfg.MaxConnections == 0 || accepted < s.cfg.MaxConnections {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.Load() {
				return ErrServerClosed
			}
			if errors.Is(err, net.ErrClosed) {
				return err
			}
			if delay == 0 {
				delay = 5 * time.Millisecond
			} else {
				delay = min(delay*2, time.Second)
			}
			s.Logger.Warn("accept failed", Field{"error", err}, Field{"retry_in", delay})
			time.Sleep(delay)
			continue
		}
		delay = 0
		accepted++

		if !s.startSession(conn) {
			return ErrServerClosed
		}
	}

	s.Logger.Info("connection limit reached, no longer accepting",
		Field{"accepted", accepted})
	ln.Close()
	s.wg.Wait()
	return nil
}

// startSession registers conn and runs its session in a new goroutine. It
// reports false if the server is shutting down.
func (s *Server) startSession(conn net.Conn) bool {
	s.mu.Lock()
	if s.closed.Load() {
		s.mu.Unlock()
		conn.Close()
		return false
	}
	s.wg.Add(1)
	s.mu.Unlock()

	ss := newSession(s.nextID.Add(1), conn, s)
	s.sessions.add(ss)
	s.metrics.SessionsTotal.Add(1)
	s.metrics.ActiveSessions.Add(1)
	s.Logger.Debug("connection accepted", ss.fields()...)

	go func() {
		defer s.wg.Done()
		defer s.metrics.ActiveSessions.Add(-1)
		defer s.sessions.remove(ss.id)
		ss.serve(s.ctx)
	}()
	return true
}

// Shutdown stops accepting, stops camera streams, closes idle sessions and
// waits for the rest. When ctx expires first, every remaining connection is
// closed and ctx.Err() is returned.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closed.Store(true)
	var err error
	if s.listener != nil {
		if cerr := s.listener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
			err = cerr
		}
	}
	s.mu.Unlock()
	s.cancel()

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		s.sessions.closeIdle()
		select {
		case <-done:
			return err
		case <-ctx.Done():
			n := s.sessions.closeAll()
			s.Logger.Warn("shutdown deadline reached, closed sessions", Field{"sessions", n})
			<-done
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Addr returns the listener address, or nil before Serve.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// ActiveSessions returns the number of registered sessions.
func (s *Server) ActiveSessions() int {
	return s.sessions.len()
}

func (s *Server) Stats() MetricsSnapshot {
	return s.metrics.Snapshot()
}
