// Package server accepts gateway connections and runs one session per
// connection against a shared engine.
package server

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/protocol"
	"github.com/blockpipe/gateway/pkg/session"
)

const (
	minAcceptDelay = 5 * time.Millisecond
	maxAcceptDelay = time.Second
)

var (
	ErrInvalidLogger = errors.New("invalid logger: must not be nil")
	ErrInvalidEngine = errors.New("invalid engine: must not be nil")
	ErrServerClosed  = errors.New("server closed")
)

type Server struct {
	sugar        *zap.SugaredLogger
	engine       engine.Engine
	metrics      *metrics.Metrics
	maxFrameSize uint32

	mu       sync.Mutex
	conns    map[net.Conn]struct{}
	shutdown bool
	wg       sync.WaitGroup
}

type Option func(*Server)

// WithMetrics enables metrics collection for the server and its sessions.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Server) {
		s.metrics = m
	}
}

// WithMaxFrameSize bounds the size of request frames on every session.
func WithMaxFrameSize(n uint32) Option {
	return func(s *Server) {
		s.maxFrameSize = n
	}
}

func New(sugar *zap.SugaredLogger, eng engine.Engine, opts ...Option) (*Server, error) {
	if sugar == nil {
		return nil, ErrInvalidLogger
	}
	if eng == nil {
		return nil, ErrInvalidEngine
	}

	s := &Server{
		sugar:        sugar,
		engine:       eng,
		maxFrameSize: protocol.DefaultMaxFrameSize,
		conns:        make(map[net.Conn]struct{}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// ListenAndServe binds addr and serves until ctx is cancelled.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("listen on %s: %w", addr, err)
	}
	return s.Serve(ctx, ln)
}

// Serve accepts connections on ln until ctx is cancelled or ln fails. On
// return the listener and every live connection are closed and all session
// goroutines have finished. Cancellation is a clean shutdown and returns nil.
func (s *Server) Serve(ctx context.Context, ln net.Listener) error {
	s.mu.Lock()
	if s.shutdown {
		s.mu.Unlock()
		_ = ln.Close()
		return ErrServerClosed
	}
	s.mu.Unlock()

	stop := context.AfterFunc(ctx, func() {
		_ = ln.Close()
	})
	defer stop()
	defer s.close(ln)

	s.sugar.Infow("gateway listening", "address", ln.Addr().String())

	var delay time.Duration
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				s.sugar.Info("shutting down gateway server")
				return nil
			}
			if isTemporary(err) {
				delay = nextDelay(delay)
				s.sugar.Warnw("accept failed, retrying", "error", err, "delay", delay)
				s.metrics.IncError(metrics.ErrTypeAccept)
				select {
				case <-time.After(delay):
					continue
				case <-ctx.Done():
					return nil
				}
			}
			s.metrics.IncError(metrics.ErrTypeAccept)
			return fmt.Errorf("accept: %w", err)
		}
		delay = 0

		if !s.track(conn) {
			_ = conn.Close()
			return nil
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			defer s.untrack(conn)
			s.serveConn(ctx, conn)
		}()
	}
}

// ActiveSessions returns the number of connections currently being served.
func (s *Server) ActiveSessions() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

func (s *Server) serveConn(ctx context.Context, conn net.Conn) {
	remote := conn.RemoteAddr().String()
	sugar := s.sugar.With("remote", remote)

	s.metrics.SessionOpened()
	defer s.metrics.SessionClosed()
	sugar.Debug("session opened")

	sess := session.New(conn, s.engine,
		session.WithLogger(sugar),
		session.WithMetrics(s.metrics),
		session.WithMaxFrameSize(s.maxFrameSize),
	)
	if err := sess.Serve(ctx); err != nil {
		sugar.Infow("session ended with error", "error", err)
		return
	}
	sugar.Debug("session closed")
}

func (s *Server) track(conn net.Conn) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.shutdown {
		return false
	}
	s.conns[conn] = struct{}{}
	return true
}

func (s *Server) untrack(conn net.Conn) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.conns, conn)
}

// close stops accepting, closes every live connection so blocked session
// reads and writes return, and waits for the session goroutines.
func (s *Server) close(ln net.Listener) {
	_ = ln.Close()

	s.mu.Lock()
	s.shutdown = true
	for conn := range s.conns {
		_ = conn.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
}

func nextDelay(d time.Duration) time.Duration {
	if d == 0 {
		return minAcceptDelay
	}
	d *= 2
	if d > maxAcceptDelay {
		d = maxAcceptDelay
	}
	return d
}

// isTemporary reports whether an accept error is worth retrying, e.g.
// running out of file descriptors.
func isTemporary(err error) bool {
	var te interface{ Temporary() bool }
	return errors.As(err, &te) && te.Temporary()
}
