package protocol

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/blockpipe/gateway/pkg/types"
)

var (
	encMode cbor.EncMode
	decMode cbor.DecMode
)

func init() {
	var err error
	encMode, err = cbor.EncOptions{
		// Clients expect [] rather than null for an empty filter or topic list.
		NilContainers: cbor.NilContainerAsEmpty,
	}.EncMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: build CBOR encoder: %v", err))
	}
	decMode, err = cbor.DecOptions{
		MaxNestedLevels: 16,
	}.DecMode()
	if err != nil {
		panic(fmt.Sprintf("protocol: build CBOR decoder: %v", err))
	}
}

// Marshal encodes v with the protocol's CBOR options.
func Marshal(v any) ([]byte, error) {
	return encMode.Marshal(v)
}

// Unmarshal decodes data into v. Failures wrap types.ErrMalformed.
func Unmarshal(data []byte, v any) error {
	if err := decMode.Unmarshal(data, v); err != nil {
		return malformed(err)
	}
	return nil
}

// peekType returns the first element of a CBOR array without decoding the rest.
func peekType(payload []byte) (uint8, error) {
	var items []cbor.RawMessage
	if err := decMode.Unmarshal(payload, &items); err != nil {
		return 0, malformed(err)
	}
	if len(items) == 0 {
		return 0, fmt.Errorf("%w: empty message", types.ErrMalformed)
	}
	var t uint8
	if err := decMode.Unmarshal(items[0], &t); err != nil {
		return 0, fmt.Errorf("%w: message type: %v", types.ErrMalformed, err)
	}
	return t, nil
}

// malformed flattens decoder errors. The decoder reports an empty payload as
// io.EOF, which must not read as a closed stream.
func malformed(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", types.ErrMalformed, err)
}
