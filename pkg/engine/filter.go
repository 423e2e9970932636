package engine

import "github.com/blockpipe/gateway/pkg/types"

// NewCoarseFilter returns the distinct addresses and distinct topic0 values
// across filters, in first-appearance order.
func NewCoarseFilter(filters []types.Filter) types.CoarseFilter {
	var coarse types.CoarseFilter
	seenAddr := make(map[types.Address]struct{}, len(filters))
	seenTopic := make(map[types.Hash]struct{}, len(filters))
	for _, f := range filters {
		if _, ok := seenAddr[f.Address]; !ok {
			seenAddr[f.Address] = struct{}{}
			coarse.Addresses = append(coarse.Addresses, f.Address)
		}
		if _, ok := seenTopic[f.Topic0]; !ok {
			seenTopic[f.Topic0] = struct{}{}
			coarse.Topic0s = append(coarse.Topic0s, f.Topic0)
		}
	}
	return coarse
}

// Matcher applies the exact filter: a log matches when some filter names
// both its address and its first topic.
type Matcher struct {
	pairs map[types.Address]map[types.Hash]struct{}
}

func NewMatcher(filters []types.Filter) *Matcher {
	m := &Matcher{pairs: make(map[types.Address]map[types.Hash]struct{}, len(filters))}
	for _, f := range filters {
		topics, ok := m.pairs[f.Address]
		if !ok {
			topics = make(map[types.Hash]struct{})
			m.pairs[f.Address] = topics
		}
		topics[f.Topic0] = struct{}{}
	}
	return m
}

// MatchAll reports whether the matcher was built from an empty filter list.
func (m *Matcher) MatchAll() bool {
	return len(m.pairs) == 0
}

// Match reports whether raw passes the filter. With no filters every log
// passes. Otherwise a log without an address or without topics never matches.
func (m *Matcher) Match(raw *types.RawLog) bool {
	if m.MatchAll() {
		return true
	}
	if raw.Address == nil {
		return false
	}
	topic0, ok := raw.Topic0()
	if !ok {
		return false
	}
	topics, ok := m.pairs[*raw.Address]
	if !ok {
		return false
	}
	_, ok = topics[topic0]
	return ok
}
