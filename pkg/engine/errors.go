package engine

import (
	"fmt"

	"github.com/blockpipe/gateway/pkg/types"
)

// ChunkError is yielded in place of a chunk's logs when the chunk could
// not be fetched. The rest of the stream is unaffected.
type ChunkError struct {
	Range types.BlockRange
	Err   error
}

func (e *ChunkError) Error() string {
	return fmt.Sprintf("fetch logs for blocks %s: %v", e.Range, e.Err)
}

func (e *ChunkError) Unwrap() error {
	return e.Err
}
