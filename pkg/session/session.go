// Package session drives one client connection: it reads a request, answers
// it and loops until the client says Bye, goes away, or the connection fails.
package session

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/protocol"
	"github.com/blockpipe/gateway/pkg/types"
)

// ErrClosed is wrapped by every error that ended a session.
var ErrClosed = errors.New("session closed")

// PongPayload is the Row payload answering a Ping.
var PongPayload = []string{"Pong"}

type State int

const (
	StateAwaitingRequest State = iota
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateAwaitingRequest:
		return "awaiting_request"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("unknown(%d)", int(s))
	}
}

// Session serves requests on one connection, strictly one at a time.
type Session struct {
	rwc     io.ReadWriteCloser
	conn    *Conn
	engine  engine.Engine
	log     *zap.SugaredLogger
	metrics *metrics.Metrics

	maxFrameSize uint32
	state        State

	// peer receives the result of the read watch started for the last
	// GetLogs. It is drained before the next frame is read.
	peer <-chan error
}

// Option configures the Session.
type Option func(*Session)

func WithLogger(log *zap.SugaredLogger) Option {
	return func(s *Session) {
		s.log = log
	}
}

// WithMetrics enables metrics collection for the session.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Session) {
		s.metrics = m
	}
}

// WithMaxFrameSize bounds the size of request frames.
func WithMaxFrameSize(n uint32) Option {
	return func(s *Session) {
		s.maxFrameSize = n
	}
}

// New creates a session over rwc. The session owns rwc and closes it when
// it reaches StateClosed.
func New(rwc io.ReadWriteCloser, eng engine.Engine, opts ...Option) *Session {
	s := &Session{
		rwc:          rwc,
		engine:       eng,
		log:          zap.NewNop().Sugar(),
		maxFrameSize: protocol.DefaultMaxFrameSize,
		state:        StateAwaitingRequest,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.conn = NewConn(rwc, s.maxFrameSize)
	return s
}

func (s *Session) State() State {
	return s.state
}

// Serve handles requests until the session is closed. It returns nil when
// the client said Bye or disconnected, and an error
// wrapping ErrClosed when a read, decode or write failure ended it.
func (s *Session) Serve(ctx context.Context) error {
	defer func() {
		s.close()
		if s.peer != nil {
			<-s.peer
		}
	}()

	for s.state == StateAwaitingRequest {
		if err := s.awaitPeer(); err != nil {
			return s.handleReadError(err)
		}
		req, err := s.conn.ReadRequest()
		if err != nil {
			return s.handleReadError(err)
		}
		if err := s.dispatch(ctx, req); err != nil {
			s.log.Debugw("write failed, closing session", "error", err)
			return err
		}
	}
	return nil
}

func (s *Session) dispatch(ctx context.Context, req protocol.Request) error {
	start := time.Now()
	reqType := req.RequestType().String()

	var err error
	switch r := req.(type) {
	case *protocol.Ping:
		err = s.handlePing()
	case *protocol.Bye:
		s.log.Debug("client said bye")
		s.state = StateClosed
		return nil
	case *protocol.GetLogs:
		err = s.handleGetLogs(ctx, r.Query())
	default:
		err = s.fatal(fmt.Errorf("%w: unsupported request %T", types.ErrMalformed, req))
	}

	s.metrics.RecordRequest(reqType, err, time.Since(start).Seconds())
	if err != nil {
		s.state = StateClosed
	}
	return err
}

func (s *Session) handlePing() error {
	w := newResponseWriter(s.conn, s.metrics)
	if err := w.WriteRow(PongPayload); err != nil {
		return s.writeFailed(err)
	}
	if err := w.End(); err != nil {
		return s.writeFailed(err)
	}
	return nil
}

func (s *Session) handleGetLogs(ctx context.Context, q types.Query) error {
	w := newResponseWriter(s.conn, s.metrics)

	// Requests strictly alternate, so any read failure while this one is
	// being answered means the client is gone.
	reqCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	s.watchPeer(cancel)
	peerLeft := func() bool {
		return ctx.Err() == nil && reqCtx.Err() != nil
	}

	seq, err := s.engine.GetLogs(reqCtx, q)
	if err != nil {
		s.metrics.IncError(metrics.ErrTypeQueryFailed)
		if werr := w.WriteError(err.Error()); werr != nil {
			return s.writeFailed(werr)
		}
		if werr := w.End(); werr != nil {
			return s.writeFailed(werr)
		}
		return nil
	}

	var itemErrors int
	for log, err := range seq {
		if peerLeft() {
			break
		}
		if err != nil {
			itemErrors++
			if werr := w.WriteError(err.Error()); werr != nil {
				return s.writeFailed(werr)
			}
			continue
		}
		if werr := w.WriteRow(log); werr != nil {
			return s.writeFailed(werr)
		}
	}
	if peerLeft() {
		s.log.Debugw("client disconnected during get logs",
			"from", q.FromBlock,
			"to", q.ToBlock,
			"rows", w.Count(),
		)
		s.state = StateClosed
		return nil
	}
	if err := w.End(); err != nil {
		return s.writeFailed(err)
	}

	s.log.Debugw("get logs finished",
		"from", q.FromBlock,
		"to", q.ToBlock,
		"filters", len(q.Filters),
		"rows", w.Count(),
		"errors", itemErrors,
	)
	return nil
}

// watchPeer reads ahead on the connection until the client sends its next
// frame or the read fails. A failure calls cancel.
func (s *Session) watchPeer(cancel context.CancelFunc) {
	done := make(chan error, 1)
	s.peer = done
	go func() {
		err := s.conn.Peek()
		if err != nil {
			cancel()
		}
		done <- err
	}()
}

// awaitPeer waits for the read watch of the previous request, if any.
func (s *Session) awaitPeer() error {
	if s.peer == nil {
		return nil
	}
	err := <-s.peer
	s.peer = nil
	return err
}

// handleReadError closes the session after a failed read. A peer that left
// between frames is not an error.
func (s *Session) handleReadError(err error) error {
	s.state = StateClosed

	switch {
	case errors.Is(err, types.ErrMalformed):
		s.metrics.IncError(metrics.ErrTypeDecode)
	case errors.Is(err, io.EOF):
		s.log.Debug("client disconnected")
		return nil
	case errors.Is(err, net.ErrClosed), errors.Is(err, io.ErrClosedPipe):
		// Closed locally, e.g. by server shutdown.
		return nil
	default:
		s.metrics.IncError(metrics.ErrTypeReadFrame)
	}

	s.log.Warnw("closing session after bad request", "error", err)
	return s.fatal(err)
}

// fatal sends a best-effort Fatal frame and returns err wrapped in ErrClosed.
func (s *Session) fatal(err error) error {
	s.sendFatal(err.Error())
	s.state = StateClosed
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

// writeFailed closes the session after a failed response write. The Fatal
// frame is still attempted but the peer is most likely gone.
func (s *Session) writeFailed(err error) error {
	s.sendFatal(err.Error())
	s.state = StateClosed
	if errors.Is(err, ErrClosed) {
		return err
	}
	return fmt.Errorf("%w: %w", ErrClosed, err)
}

func (s *Session) sendFatal(message string) {
	if err := s.conn.WriteResponse(protocol.NewFatal(message)); err != nil {
		return
	}
	if err := s.conn.Flush(); err != nil {
		return
	}
	s.metrics.IncFrameWritten(protocol.ResponseTypeFatal.String())
}

func (s *Session) close() {
	s.state = StateClosed
	if err := s.rwc.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		s.log.Debugw("failed to close connection", "error", err)
	}
}
