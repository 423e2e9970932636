package protocol

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWriteReadFrame(t *testing.T) {
	tests := []struct {
		name    string
		payload []byte
	}{
		{name: "empty payload", payload: []byte{}},
		{name: "small payload", payload: []byte{0x81, 0x00}},
		{name: "large payload", payload: bytes.Repeat([]byte{0xab}, 70_000)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var buf bytes.Buffer
			require.NoError(t, WriteFrame(&buf, tt.payload))
			require.Equal(t, HeaderSize+len(tt.payload), buf.Len())
			require.Equal(t, uint32(len(tt.payload)), binary.BigEndian.Uint32(buf.Bytes()[:HeaderSize]))

			got, err := ReadFrame(&buf, DefaultMaxFrameSize)
			require.NoError(t, err)
			require.Equal(t, tt.payload, got)

			_, err = ReadFrame(&buf, DefaultMaxFrameSize)
			require.ErrorIs(t, err, io.EOF)
		})
	}
}

func TestReadFrame_MultipleFrames(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteFrame(&buf, []byte("first")))
	require.NoError(t, WriteFrame(&buf, []byte("second")))

	first, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, "first", string(first))

	second, err := ReadFrame(&buf, 0)
	require.NoError(t, err)
	require.Equal(t, "second", string(second))
}

func TestReadFrame_Errors(t *testing.T) {
	tests := []struct {
		name      string
		input     []byte
		maxSize   uint32
		wantErr   error
		wantNotIs error
	}{
		{
			name:    "clean eof",
			input:   nil,
			wantErr: io.EOF,
		},
		{
			name:      "truncated header",
			input:     []byte{0x00, 0x00},
			wantErr:   io.ErrUnexpectedEOF,
			wantNotIs: io.EOF,
		},
		{
			name:      "truncated body",
			input:     []byte{0x00, 0x00, 0x00, 0x05, 0x01, 0x02},
			wantErr:   io.ErrUnexpectedEOF,
			wantNotIs: io.EOF,
		},
		{
			name:      "header without body",
			input:     []byte{0x00, 0x00, 0x00, 0x01},
			wantErr:   io.ErrUnexpectedEOF,
			wantNotIs: io.EOF,
		},
		{
			name:    "frame above limit",
			input:   []byte{0x00, 0x00, 0x01, 0x00},
			maxSize: 255,
			wantErr: ErrFrameTooLarge,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			maxSize := tt.maxSize
			if maxSize == 0 {
				maxSize = DefaultMaxFrameSize
			}
			_, err := ReadFrame(bytes.NewReader(tt.input), maxSize)
			require.ErrorIs(t, err, tt.wantErr)
			if tt.wantNotIs != nil {
				require.NotErrorIs(t, err, tt.wantNotIs)
			}
		})
	}
}

type failingWriter struct{ err error }

func (w failingWriter) Write([]byte) (int, error) { return 0, w.err }

func TestWriteFrame_WriterError(t *testing.T) {
	boom := errors.New("broken pipe")
	err := WriteFrame(failingWriter{err: boom}, []byte("payload"))
	require.ErrorIs(t, err, boom)
}
