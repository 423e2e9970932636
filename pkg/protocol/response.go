package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/blockpipe/gateway/pkg/types"
)

type ResponseType uint8

const (
	ResponseTypeRow   ResponseType = 0
	ResponseTypeEnd   ResponseType = 1
	ResponseTypeError ResponseType = 2
	ResponseTypeFatal ResponseType = 3
)

func (t ResponseType) String() string {
	switch t {
	case ResponseTypeRow:
		return "row"
	case ResponseTypeEnd:
		return "end"
	case ResponseTypeError:
		return "error"
	case ResponseTypeFatal:
		return "fatal"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Response is a decoded server message.
type Response interface {
	ResponseType() ResponseType
}

// Row carries one result record as an embedded CBOR item.
type Row struct {
	_       struct{} `cbor:",toarray"`
	Type    ResponseType
	Payload cbor.RawMessage
}

// End terminates a request and carries the number of Row frames sent for it.
type End struct {
	_     struct{} `cbor:",toarray"`
	Type  ResponseType
	Count uint64
}

// Error reports a request-scoped failure. The connection stays usable and
// the request is still terminated by End.
type Error struct {
	_       struct{} `cbor:",toarray"`
	Type    ResponseType
	Message string
}

// Fatal reports a connection-scoped failure; the server closes the
// connection after sending it.
type Fatal struct {
	_       struct{} `cbor:",toarray"`
	Type    ResponseType
	Message string
}

// NewRow encodes v as the row payload.
func NewRow(v any) (*Row, error) {
	payload, err := Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode row: %w", err)
	}
	return &Row{Type: ResponseTypeRow, Payload: payload}, nil
}

func NewEnd(count uint64) *End { return &End{Type: ResponseTypeEnd, Count: count} }

func NewError(message string) *Error { return &Error{Type: ResponseTypeError, Message: message} }

func NewFatal(message string) *Fatal { return &Fatal{Type: ResponseTypeFatal, Message: message} }

func (*Row) ResponseType() ResponseType   { return ResponseTypeRow }
func (*End) ResponseType() ResponseType   { return ResponseTypeEnd }
func (*Error) ResponseType() ResponseType { return ResponseTypeError }
func (*Fatal) ResponseType() ResponseType { return ResponseTypeFatal }

// Decode unmarshals the row payload into v.
func (r *Row) Decode(v any) error {
	return Unmarshal(r.Payload, v)
}

// DecodeResponse decodes one response payload.
func DecodeResponse(payload []byte) (Response, error) {
	t, err := peekType(payload)
	if err != nil {
		return nil, err
	}

	var resp Response
	switch ResponseType(t) {
	case ResponseTypeRow:
		resp = &Row{}
	case ResponseTypeEnd:
		resp = &End{}
	case ResponseTypeError:
		resp = &Error{}
	case ResponseTypeFatal:
		resp = &Fatal{}
	default:
		return nil, fmt.Errorf("%w: unknown response type %d", types.ErrMalformed, t)
	}
	if err := Unmarshal(payload, resp); err != nil {
		return nil, fmt.Errorf("decode %s response: %w", ResponseType(t), err)
	}
	return resp, nil
}

// EncodeResponse encodes a response payload.
func EncodeResponse(resp Response) ([]byte, error) {
	switch m := resp.(type) {
	case *Row:
		m.Type = ResponseTypeRow
	case *End:
		m.Type = ResponseTypeEnd
	case *Error:
		m.Type = ResponseTypeError
	case *Fatal:
		m.Type = ResponseTypeFatal
	default:
		return nil, fmt.Errorf("encode response: unsupported message %T", resp)
	}
	return Marshal(resp)
}
