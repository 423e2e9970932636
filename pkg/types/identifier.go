package types

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/fxamacker/cbor/v2"
)

const (
	AddressLength = 20
	HashLength    = 32
)

// Address is a 20-byte account or contract address. The gateway never
// interprets it beyond equality.
type Address [AddressLength]byte

// Hash is a 32-byte block hash, transaction hash or topic.
type Hash [HashLength]byte

// AddressFromBytes returns an error wrapping ErrMalformed unless b is exactly 20 bytes.
func AddressFromBytes(b []byte) (Address, error) {
	var a Address
	if len(b) != AddressLength {
		return a, fmt.Errorf("%w: invalid address length: got %d bytes, want %d", ErrMalformed, len(b), AddressLength)
	}
	copy(a[:], b)
	return a, nil
}

// HashFromBytes returns an error wrapping ErrMalformed unless b is exactly 32 bytes.
func HashFromBytes(b []byte) (Hash, error) {
	var h Hash
	if len(b) != HashLength {
		return h, fmt.Errorf("%w: invalid hash length: got %d bytes, want %d", ErrMalformed, len(b), HashLength)
	}
	copy(h[:], b)
	return h, nil
}

// HexToAddress parses a 0x-prefixed hex string. Unlike the lenient helpers
// used for storage, it neither pads nor trims.
func HexToAddress(s string) (Address, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Address{}, fmt.Errorf("%w: address %q: %v", ErrMalformed, s, err)
	}
	return AddressFromBytes(b)
}

// HexToHash parses a 0x-prefixed 32-byte hex string.
func HexToHash(s string) (Hash, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Hash{}, fmt.Errorf("%w: hash %q: %v", ErrMalformed, s, err)
	}
	return HashFromBytes(b)
}

func (a Address) Bytes() []byte { return a[:] }

func (a Address) Hex() string { return hexutil.Encode(a[:]) }

func (a Address) String() string { return a.Hex() }

func (a Address) MarshalText() ([]byte, error) {
	return hexutil.Bytes(a[:]).MarshalText()
}

func (a *Address) UnmarshalText(text []byte) error {
	parsed, err := HexToAddress(string(text))
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// MarshalCBOR encodes the address as a CBOR byte string.
func (a Address) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(a[:])
}

// UnmarshalCBOR decodes a CBOR byte string of exactly 20 bytes.
func (a *Address) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%w: address: %v", ErrMalformed, err)
	}
	parsed, err := AddressFromBytes(b)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

func (h Hash) Bytes() []byte { return h[:] }

func (h Hash) Hex() string { return hexutil.Encode(h[:]) }

func (h Hash) String() string { return h.Hex() }

func (h Hash) MarshalText() ([]byte, error) {
	return hexutil.Bytes(h[:]).MarshalText()
}

func (h *Hash) UnmarshalText(text []byte) error {
	parsed, err := HexToHash(string(text))
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}

// MarshalCBOR encodes the hash as a CBOR byte string.
func (h Hash) MarshalCBOR() ([]byte, error) {
	return cbor.Marshal(h[:])
}

// UnmarshalCBOR decodes a CBOR byte string of exactly 32 bytes.
func (h *Hash) UnmarshalCBOR(data []byte) error {
	var b []byte
	if err := cbor.Unmarshal(data, &b); err != nil {
		return fmt.Errorf("%w: hash: %v", ErrMalformed, err)
	}
	parsed, err := HashFromBytes(b)
	if err != nil {
		return err
	}
	*h = parsed
	return nil
}
