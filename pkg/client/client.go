// Package client speaks the gateway protocol from the client side.
package client

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/blockpipe/gateway/pkg/protocol"
	"github.com/blockpipe/gateway/pkg/types"
)

// ErrProtocol is returned when the server sends a frame the client did not
// expect at that point of the exchange.
var ErrProtocol = errors.New("protocol violation")

// FatalError carries the message of a Fatal frame. The server has closed
// the connection after sending it.
type FatalError struct {
	Message string
}

func (e *FatalError) Error() string {
	return "server fatal: " + e.Message
}

// Result is the complete answer to one GetLogs request.
type Result struct {
	Logs []*types.Log
	// Errors holds the request-scoped Error messages in arrival order.
	Errors []string
	// Count is the row count reported by End.
	Count uint64
}

// Client is a single gateway connection. Requests are strictly sequential;
// a Client must not be used from several goroutines at once.
type Client struct {
	conn         net.Conn
	r            *bufio.Reader
	w            *bufio.Writer
	maxFrameSize uint32
}

type Option func(*Client)

// WithMaxFrameSize bounds the size of response frames.
func WithMaxFrameSize(n uint32) Option {
	return func(c *Client) {
		c.maxFrameSize = n
	}
}

// Dial connects to a gateway at addr.
func Dial(ctx context.Context, addr string, opts ...Option) (*Client, error) {
	var d net.Dialer
	conn, err := d.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("dial gateway %s: %w", addr, err)
	}
	return New(conn, opts...), nil
}

// New wraps an established connection. The client owns conn.
func New(conn net.Conn, opts ...Option) *Client {
	c := &Client{
		conn:         conn,
		r:            bufio.NewReader(conn),
		w:            bufio.NewWriter(conn),
		maxFrameSize: protocol.DefaultMaxFrameSize,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Ping sends a Ping and checks for the Pong row and End(1).
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, protocol.NewPing(), func() error {
		rows, errs, err := readUntilEnd[[]string](c)
		if err != nil {
			return err
		}
		if len(errs) > 0 {
			return fmt.Errorf("ping: %s", errs[0])
		}
		if len(rows) != 1 || len(rows[0]) != 1 || rows[0][0] != "Pong" {
			return fmt.Errorf("%w: unexpected ping answer %q", ErrProtocol, rows)
		}
		return nil
	})
}

// GetLogs runs one query and collects every frame up to End.
func (c *Client) GetLogs(ctx context.Context, q types.Query) (*Result, error) {
	res := &Result{}
	err := c.do(ctx, protocol.NewGetLogs(q), func() error {
		rows, errs, err := readUntilEnd[types.Log](c)
		if err != nil {
			return err
		}
		res.Logs = make([]*types.Log, len(rows))
		for i := range rows {
			res.Logs[i] = &rows[i]
		}
		res.Errors = errs
		res.Count = uint64(len(rows))
		return nil
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

// Bye tells the server to close the connection, then closes it locally.
func (c *Client) Bye() error {
	if err := c.send(protocol.NewBye()); err != nil {
		_ = c.conn.Close()
		return err
	}
	return c.Close()
}

func (c *Client) Close() error {
	return c.conn.Close()
}

// do sends req and runs read while ctx bounds the exchange. When ctx ends,
// pending I/O is unblocked by expiring the connection deadline; the
// connection is unusable afterwards.
func (c *Client) do(ctx context.Context, req protocol.Request, read func() error) error {
	stop := context.AfterFunc(ctx, func() {
		_ = c.conn.SetDeadline(time.Unix(1, 0))
	})
	defer stop()

	err := c.send(req)
	if err == nil {
		err = read()
	}
	if err != nil && ctx.Err() != nil {
		return fmt.Errorf("%w: %w", ctx.Err(), err)
	}
	return err
}

func (c *Client) send(req protocol.Request) error {
	payload, err := protocol.EncodeRequest(req)
	if err != nil {
		return err
	}
	if err := protocol.WriteFrame(c.w, payload); err != nil {
		return fmt.Errorf("send %s: %w", req.RequestType(), err)
	}
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("send %s: %w", req.RequestType(), err)
	}
	return nil
}

// readUntilEnd decodes Row payloads as T until End, checking that End
// reports the number of rows received.
func readUntilEnd[T any](c *Client) ([]T, []string, error) {
	var (
		rows []T
		errs []string
	)
	for {
		resp, err := c.read()
		if err != nil {
			return nil, nil, err
		}
		switch m := resp.(type) {
		case *protocol.Row:
			var v T
			if err := m.Decode(&v); err != nil {
				return nil, nil, fmt.Errorf("decode row %d: %w", len(rows), err)
			}
			rows = append(rows, v)
		case *protocol.Error:
			errs = append(errs, m.Message)
		case *protocol.Fatal:
			return nil, nil, &FatalError{Message: m.Message}
		case *protocol.End:
			if m.Count != uint64(len(rows)) {
				return nil, nil, fmt.Errorf("%w: end count %d, received %d rows", ErrProtocol, m.Count, len(rows))
			}
			return rows, errs, nil
		default:
			return nil, nil, fmt.Errorf("%w: unexpected %T", ErrProtocol, resp)
		}
	}
}

func (c *Client) read() (protocol.Response, error) {
	payload, err := protocol.ReadFrame(c.r, c.maxFrameSize)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	return protocol.DecodeResponse(payload)
}
