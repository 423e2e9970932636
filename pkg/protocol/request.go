package protocol

import (
	"fmt"

	"github.com/blockpipe/gateway/pkg/types"
)

type RequestType uint8

const (
	RequestTypePing    RequestType = 0
	RequestTypeBye     RequestType = 1
	RequestTypeGetLogs RequestType = 2
)

func (t RequestType) String() string {
	switch t {
	case RequestTypePing:
		return "ping"
	case RequestTypeBye:
		return "bye"
	case RequestTypeGetLogs:
		return "get_logs"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Request is a decoded client message.
type Request interface {
	RequestType() RequestType
}

// Ping checks that the server is responsive.
type Ping struct {
	_    struct{} `cbor:",toarray"`
	Type RequestType
}

// Bye closes the connection gracefully. It has no response.
type Bye struct {
	_    struct{} `cbor:",toarray"`
	Type RequestType
}

// GetLogs asks for the logs in an inclusive block range matching any filter.
type GetLogs struct {
	_         struct{} `cbor:",toarray"`
	Type      RequestType
	FromBlock int64
	ToBlock   int64
	Filters   []types.Filter
}

func NewPing() *Ping { return &Ping{Type: RequestTypePing} }

func NewBye() *Bye { return &Bye{Type: RequestTypeBye} }

func NewGetLogs(q types.Query) *GetLogs {
	return &GetLogs{
		Type:      RequestTypeGetLogs,
		FromBlock: q.FromBlock,
		ToBlock:   q.ToBlock,
		Filters:   q.Filters,
	}
}

func (*Ping) RequestType() RequestType    { return RequestTypePing }
func (*Bye) RequestType() RequestType     { return RequestTypeBye }
func (*GetLogs) RequestType() RequestType { return RequestTypeGetLogs }

// Query returns the request as an engine query.
func (m *GetLogs) Query() types.Query {
	return types.Query{
		FromBlock: m.FromBlock,
		ToBlock:   m.ToBlock,
		Filters:   m.Filters,
	}
}

// DecodeRequest decodes one request payload. Unknown message types, wrong
// shapes and identifiers of the wrong length fail with types.ErrMalformed.
func DecodeRequest(payload []byte) (Request, error) {
	t, err := peekType(payload)
	if err != nil {
		return nil, err
	}

	var req Request
	switch RequestType(t) {
	case RequestTypePing:
		req = &Ping{}
	case RequestTypeBye:
		req = &Bye{}
	case RequestTypeGetLogs:
		req = &GetLogs{}
	default:
		return nil, fmt.Errorf("%w: unknown request type %d", types.ErrMalformed, t)
	}
	if err := Unmarshal(payload, req); err != nil {
		return nil, fmt.Errorf("decode %s request: %w", RequestType(t), err)
	}
	return req, nil
}

// EncodeRequest encodes a request payload. The type tag is always derived
// from the concrete message.
func EncodeRequest(req Request) ([]byte, error) {
	switch m := req.(type) {
	case *Ping:
		m.Type = RequestTypePing
	case *Bye:
		m.Type = RequestTypeBye
	case *GetLogs:
		m.Type = RequestTypeGetLogs
	default:
		return nil, fmt.Errorf("encode request: unsupported message %T", req)
	}
	return Marshal(req)
}
