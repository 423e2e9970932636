package types

import "errors"

var (
	// ErrMalformed marks input that does not have the shape the gateway expects:
	// identifiers of the wrong length, undecodable payloads and upstream logs
	// missing required fields.
	ErrMalformed = errors.New("malformed")

	ErrInvalidRange = errors.New("invalid block range")
)
