package types

import "fmt"

// Filter selects logs emitted by Address whose first topic is Topic0.
type Filter struct {
	_       struct{} `cbor:",toarray"`
	Address Address  `json:"address"`
	Topic0  Hash     `json:"topic0"`
}

// NewFilter builds a Filter for the given address and event signature hash.
func NewFilter(address Address, topic0 Hash) Filter {
	return Filter{Address: address, Topic0: topic0}
}

// CoarseFilter is the server-side filter sent to a log source: the distinct
// addresses and distinct topic0 values across a filter set. It is strictly
// broader than the filter set it was built from. Both lists empty means no
// restriction.
type CoarseFilter struct {
	Addresses []Address
	Topic0s   []Hash
}

// IsEmpty reports whether the filter places no restriction on logs.
func (c CoarseFilter) IsEmpty() bool {
	return len(c.Addresses) == 0 && len(c.Topic0s) == 0
}

// BlockRange is an inclusive range of block heights.
type BlockRange struct {
	From int64
	To   int64
}

// Len returns the number of blocks in the range, or zero when From > To.
// Block heights are non-negative, so [0, math.MaxInt64] still fits.
func (r BlockRange) Len() uint64 {
	if r.From > r.To {
		return 0
	}
	return uint64(r.To-r.From) + 1
}

func (r BlockRange) String() string {
	return fmt.Sprintf("[%d, %d]", r.From, r.To)
}

// Query is one GetLogs request: an inclusive block range and the filters
// that are ORed together.
type Query struct {
	FromBlock int64
	ToBlock   int64
	Filters   []Filter
}

// Validate checks the block range. It does not inspect filters; an empty
// filter list is valid and matches every log.
func (q Query) Validate() error {
	if q.FromBlock < 0 || q.ToBlock < 0 {
		return fmt.Errorf("%w: negative block number (from=%d, to=%d)", ErrInvalidRange, q.FromBlock, q.ToBlock)
	}
	if q.FromBlock > q.ToBlock {
		return fmt.Errorf("%w: from block %d is greater than to block %d", ErrInvalidRange, q.FromBlock, q.ToBlock)
	}
	return nil
}

// Range returns the query's block range.
func (q Query) Range() BlockRange {
	return BlockRange{From: q.FromBlock, To: q.ToBlock}
}
