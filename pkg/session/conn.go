package session

import (
	"bufio"
	"fmt"
	"io"

	"github.com/blockpipe/gateway/pkg/protocol"
)

const bufferSize = 64 << 10

// Conn frames requests and responses over one byte stream. Reads and writes
// are buffered independently; writes reach the peer on Flush or when the
// write buffer fills.
type Conn struct {
	r            *bufio.Reader
	w            *bufio.Writer
	maxFrameSize uint32
}

func NewConn(rw io.ReadWriter, maxFrameSize uint32) *Conn {
	return &Conn{
		r:            bufio.NewReaderSize(rw, bufferSize),
		w:            bufio.NewWriterSize(rw, bufferSize),
		maxFrameSize: maxFrameSize,
	}
}

// ReadRequest reads and decodes one request frame. io.EOF is returned
// unwrapped when the peer closed the stream between frames.
func (c *Conn) ReadRequest() (protocol.Request, error) {
	payload, err := protocol.ReadFrame(c.r, c.maxFrameSize)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeRequest(payload)
}

// Peek blocks until the peer has sent at least one more byte or the read
// fails. Nothing is consumed; the byte stays buffered for ReadRequest.
func (c *Conn) Peek() error {
	_, err := c.r.Peek(1)
	return err
}

// WriteResponse encodes resp into the write buffer.
func (c *Conn) WriteResponse(resp protocol.Response) error {
	payload, err := protocol.EncodeResponse(resp)
	if err != nil {
		return fmt.Errorf("encode %s: %w", resp.ResponseType(), err)
	}
	return protocol.WriteFrame(c.w, payload)
}

func (c *Conn) Flush() error {
	if err := c.w.Flush(); err != nil {
		return fmt.Errorf("flush: %w", err)
	}
	return nil
}
