package protocol

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"math"
)

const (
	// HeaderSize is the size of the length prefix of every frame.
	HeaderSize = 4
	// DefaultMaxFrameSize bounds the payload of an incoming frame.
	DefaultMaxFrameSize = 16 << 20 // 16MB
)

var ErrFrameTooLarge = errors.New("frame too large")

// ReadFrame reads exactly one frame from r and returns its payload.
//
// It returns io.EOF only when r is exhausted before the first header byte,
// i.e. at a frame boundary. A header or body cut short returns an error
// wrapping io.ErrUnexpectedEOF. A length above maxSize returns
// ErrFrameTooLarge without reading the body; maxSize 0 disables the check.
func ReadFrame(r io.Reader, maxSize uint32) ([]byte, error) {
	var header [HeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("read frame header: %w", err)
	}

	size := binary.BigEndian.Uint32(header[:])
	if maxSize > 0 && size > maxSize {
		return nil, fmt.Errorf("%w: %d bytes exceeds limit of %d", ErrFrameTooLarge, size, maxSize)
	}

	payload := make([]byte, size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read frame body (%d bytes): %w", size, err)
	}
	return payload, nil
}

// WriteFrame writes payload to w behind its length prefix. It does not flush.
func WriteFrame(w io.Writer, payload []byte) error {
	if uint64(len(payload)) > math.MaxUint32 {
		return fmt.Errorf("%w: %d bytes cannot be length-prefixed", ErrFrameTooLarge, len(payload))
	}
	var header [HeaderSize]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(payload); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}
