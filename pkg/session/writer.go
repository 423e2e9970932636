package session

import (
	"errors"
	"fmt"

	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/protocol"
)

// ResponseWriter writes the frames of one request. It counts the Row frames
// that were written and terminates the request with exactly one End frame
// carrying that count.
//
// The first write failure is sticky: every later call returns it without
// touching the connection.
type ResponseWriter struct {
	conn    *Conn
	metrics *metrics.Metrics

	count uint64
	ended bool
	err   error
}

func newResponseWriter(conn *Conn, m *metrics.Metrics) *ResponseWriter {
	return &ResponseWriter{conn: conn, metrics: m}
}

// Count returns the number of Row frames written so far.
func (w *ResponseWriter) Count() uint64 {
	return w.count
}

// Ended reports whether End has been called.
func (w *ResponseWriter) Ended() bool {
	return w.ended
}

// Err returns the write failure that closed the writer, if any.
func (w *ResponseWriter) Err() error {
	return w.err
}

// WriteRow encodes v as one Row frame. The count is incremented only after
// the frame was written.
func (w *ResponseWriter) WriteRow(v any) error {
	if err := w.check(); err != nil {
		return err
	}
	row, err := protocol.NewRow(v)
	if err != nil {
		// An unencodable value is a server bug, not a connection failure.
		return err
	}
	if err := w.write(row); err != nil {
		return err
	}
	w.count++
	return nil
}

// WriteError writes a request-scoped Error frame. The request continues.
func (w *ResponseWriter) WriteError(message string) error {
	if err := w.check(); err != nil {
		return err
	}
	return w.write(protocol.NewError(message))
}

// End writes End(count) and flushes. Calls after the first are no-ops.
func (w *ResponseWriter) End() error {
	if w.ended {
		return w.err
	}
	w.ended = true
	if w.err != nil {
		return w.err
	}
	if err := w.write(protocol.NewEnd(w.count)); err != nil {
		return err
	}
	if err := w.conn.Flush(); err != nil {
		w.err = fmt.Errorf("%w: %w", ErrClosed, err)
		w.metrics.IncError(metrics.ErrTypeWriteFrame)
		return w.err
	}
	return nil
}

func (w *ResponseWriter) check() error {
	if w.err != nil {
		return w.err
	}
	if w.ended {
		return errors.New("response already ended")
	}
	return nil
}

func (w *ResponseWriter) write(resp protocol.Response) error {
	if err := w.conn.WriteResponse(resp); err != nil {
		w.err = fmt.Errorf("%w: write %s frame: %w", ErrClosed, resp.ResponseType(), err)
		w.metrics.IncError(metrics.ErrTypeWriteFrame)
		return w.err
	}
	w.metrics.IncFrameWritten(resp.ResponseType().String())
	return nil
}
