package engine

import (
	"context"
	"errors"
	"sort"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/types"
)

func addr(b byte) types.Address {
	var a types.Address
	a[types.AddressLength-1] = b
	return a
}

func topic(b byte) types.Hash {
	var h types.Hash
	h[types.HashLength-1] = b
	return h
}

func rawLog(block, index uint64, address types.Address, topics ...types.Hash) types.RawLog {
	blockHash := topic(byte(block))
	txHash := topic(byte(index))
	txIndex := index
	return types.RawLog{
		Address:     &address,
		Topics:      topics,
		Data:        []byte{byte(block), byte(index)},
		BlockNumber: &block,
		BlockHash:   &blockHash,
		LogIndex:    &index,
		TxHash:      &txHash,
		TxIndex:     &txIndex,
	}
}

// fakeSource serves logs from an in-memory list and records every call.
type fakeSource struct {
	mu    sync.Mutex
	logs  []types.RawLog
	calls []types.BlockRange
	seen  []types.CoarseFilter

	// fail returns a non-nil error to fail the chunk.
	fail func(ctx context.Context, r types.BlockRange) error

	inFlight    atomic.Int64
	maxInFlight atomic.Int64
	started     atomic.Int64
	delay       time.Duration
}

func (s *fakeSource) FetchLogs(ctx context.Context, r types.BlockRange, filter types.CoarseFilter) ([]types.RawLog, error) {
	s.started.Add(1)
	n := s.inFlight.Add(1)
	defer s.inFlight.Add(-1)
	for {
		cur := s.maxInFlight.Load()
		if n <= cur || s.maxInFlight.CompareAndSwap(cur, n) {
			break
		}
	}

	s.mu.Lock()
	s.calls = append(s.calls, r)
	s.seen = append(s.seen, filter)
	s.mu.Unlock()

	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fail != nil {
		if err := s.fail(ctx, r); err != nil {
			return nil, err
		}
	}

	var out []types.RawLog
	for _, l := range s.logs {
		if l.BlockNumber == nil {
			out = append(out, l)
			continue
		}
		b := int64(*l.BlockNumber)
		if b >= r.From && b <= r.To {
			out = append(out, l)
		}
	}
	return out, nil
}

func newTestEngine(t *testing.T, src Source, cfg Config) *ChunkedEngine {
	t.Helper()
	e, err := New(zaptest.NewLogger(t).Sugar(), src, nil, cfg)
	require.NoError(t, err)
	return e
}

type item struct {
	log *types.Log
	err error
}

func collect(t *testing.T, e Engine, q types.Query) []item {
	t.Helper()
	seq, err := e.GetLogs(t.Context(), q)
	require.NoError(t, err)

	var items []item
	for log, err := range seq {
		items = append(items, item{log: log, err: err})
	}
	return items
}

func splitItems(items []item) ([]*types.Log, []error) {
	var logs []*types.Log
	var errs []error
	for _, it := range items {
		if it.err != nil {
			errs = append(errs, it.err)
			continue
		}
		logs = append(logs, it.log)
	}
	return logs, errs
}

func TestNew_Validation(t *testing.T) {
	log := zap.NewNop().Sugar()
	src := &fakeSource{}

	tests := []struct {
		name    string
		log     *zap.SugaredLogger
		src     Source
		cfg     func(*Config)
		wantErr string
	}{
		{name: "nil logger", src: src, wantErr: "invalid logger"},
		{name: "nil source", log: log, wantErr: "invalid source"},
		{name: "zero chunk size", log: log, src: src, cfg: func(c *Config) { c.ChunkSize = 0 }, wantErr: "invalid chunk size"},
		{name: "zero concurrency", log: log, src: src, cfg: func(c *Config) { c.Concurrency = 0 }, wantErr: "invalid concurrency"},
		{name: "zero timeout", log: log, src: src, cfg: func(c *Config) { c.ChunkTimeout = 0 }, wantErr: "invalid chunk timeout"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			if tt.cfg != nil {
				tt.cfg(&cfg)
			}
			var s Source
			if tt.src != nil {
				s = tt.src
			}
			e, err := New(tt.log, s, nil, cfg)
			require.Nil(t, e)
			require.ErrorContains(t, err, tt.wantErr)
		})
	}
}

func TestGetLogs_InvalidQuery(t *testing.T) {
	e := newTestEngine(t, &fakeSource{}, DefaultConfig())

	_, err := e.GetLogs(t.Context(), types.Query{FromBlock: 10, ToBlock: 9})
	require.ErrorIs(t, err, types.ErrInvalidRange)

	_, err = e.GetLogs(t.Context(), types.Query{FromBlock: -1, ToBlock: 9})
	require.ErrorIs(t, err, types.ErrInvalidRange)
}

func TestGetLogs_EmptyUpstream(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{}
	e := newTestEngine(t, src, DefaultConfig())

	items := collect(t, e, types.Query{FromBlock: 100, ToBlock: 100})
	require.Empty(t, items)
	require.Equal(t, []types.BlockRange{{From: 100, To: 100}}, src.calls)
}

func TestGetLogs_EmptyFiltersKeepEveryLog(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{logs: []types.RawLog{
		rawLog(1, 0, addr(1), topic(1)),
		rawLog(1, 1, addr(2)),
		rawLog(2500, 0, addr(3), topic(7), topic(8)),
		rawLog(4999, 3, addr(4), topic(9)),
	}}
	e := newTestEngine(t, src, DefaultConfig())

	logs, errs := splitItems(collect(t, e, types.Query{FromBlock: 0, ToBlock: 5000}))
	require.Empty(t, errs)
	require.Len(t, logs, len(src.logs))

	for _, f := range src.seen {
		require.True(t, f.IsEmpty(), "empty filter list must not restrict the source")
	}
}

func TestGetLogs_ExactFilter(t *testing.T) {
	defer goleak.VerifyNone(t)

	a1, a2 := addr(1), addr(2)
	t1, t2 := topic(1), topic(2)
	filters := []types.Filter{types.NewFilter(a1, t1), types.NewFilter(a2, t2)}

	src := &fakeSource{logs: []types.RawLog{
		rawLog(10, 0, a1, t1),
		rawLog(10, 1, a1, t2),
		rawLog(10, 2, a2, t2),
		rawLog(11, 0, a2),
		rawLog(11, 1, a1),
		rawLog(12, 0, addr(3), t1),
	}}
	e := newTestEngine(t, src, DefaultConfig())

	logs, errs := splitItems(collect(t, e, types.Query{FromBlock: 0, ToBlock: 100, Filters: filters}))
	require.Empty(t, errs)
	require.Len(t, logs, 2)

	for _, l := range logs {
		require.NotEmpty(t, l.Topics)
		matched := false
		for _, f := range filters {
			if l.Address == f.Address && l.Topics[0] == f.Topic0 {
				matched = true
			}
		}
		require.True(t, matched, "log %d/%d does not satisfy any filter", l.BlockNumber, l.LogIndex)
	}

	require.NotEmpty(t, src.seen)
	assert.Equal(t, []types.Address{a1, a2}, src.seen[0].Addresses)
	assert.Equal(t, []types.Hash{t1, t2}, src.seen[0].Topic0s)
}

func TestGetLogs_OrderedAcrossChunks(t *testing.T) {
	defer goleak.VerifyNone(t)

	var logs []types.RawLog
	for b := uint64(0); b < 100; b++ {
		logs = append(logs, rawLog(b, 0, addr(1), topic(1)), rawLog(b, 1, addr(1), topic(1)))
	}
	// Earlier chunks finish last.
	src := &fakeSource{logs: logs}
	src.fail = func(ctx context.Context, r types.BlockRange) error {
		select {
		case <-time.After(time.Duration(100-r.From) * time.Millisecond / 10):
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e := newTestEngine(t, src, Config{ChunkSize: 7, Concurrency: 4, ChunkTimeout: 5 * time.Second})

	got, errs := splitItems(collect(t, e, types.Query{FromBlock: 0, ToBlock: 99}))
	require.Empty(t, errs)
	require.Len(t, got, 200)

	for i := 1; i < len(got); i++ {
		prev, cur := got[i-1], got[i]
		require.True(t,
			prev.BlockNumber < cur.BlockNumber ||
				(prev.BlockNumber == cur.BlockNumber && prev.LogIndex < cur.LogIndex),
			"log %d out of order", i)
	}
}

func TestGetLogs_ConcurrencyBound(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{delay: 5 * time.Millisecond}
	for b := uint64(0); b < 60; b++ {
		src.logs = append(src.logs, rawLog(b, 0, addr(1), topic(1)))
	}
	e := newTestEngine(t, src, Config{ChunkSize: 2, Concurrency: 3, ChunkTimeout: time.Second})

	items := collect(t, e, types.Query{FromBlock: 0, ToBlock: 59})
	require.Len(t, items, 60)
	require.LessOrEqual(t, src.maxInFlight.Load(), int64(3))
	require.Equal(t, int64(30), src.started.Load())
}

func TestGetLogs_FetchesAtMostConcurrencyAheadOfReader(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{}
	for b := uint64(0); b < 100; b++ {
		src.logs = append(src.logs, rawLog(b, 0, addr(1), topic(1)))
	}
	e := newTestEngine(t, src, Config{ChunkSize: 1, Concurrency: 3, ChunkTimeout: time.Second})

	seq, err := e.GetLogs(t.Context(), types.Query{FromBlock: 0, ToBlock: 99})
	require.NoError(t, err)

	for _, err := range seq {
		require.NoError(t, err)
		// The first chunk is still being read, so its slot is held.
		time.Sleep(50 * time.Millisecond)
		require.LessOrEqual(t, src.started.Load(), int64(3))
		break
	}
	require.LessOrEqual(t, src.started.Load(), int64(3))
}

func TestGetLogs_ChunkTimeoutIsolated(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{logs: []types.RawLog{
		rawLog(10, 0, addr(1), topic(1)),
		rawLog(1999, 1, addr(1), topic(1)),
		rawLog(2500, 0, addr(1), topic(1)),
		rawLog(4100, 0, addr(1), topic(1)),
		rawLog(5999, 2, addr(1), topic(1)),
	}}
	middle := types.BlockRange{From: 2000, To: 3999}
	src.fail = func(ctx context.Context, r types.BlockRange) error {
		if r != middle {
			return nil
		}
		<-ctx.Done()
		return ctx.Err()
	}
	e := newTestEngine(t, src, Config{ChunkSize: 2000, Concurrency: 10, ChunkTimeout: 50 * time.Millisecond})

	items := collect(t, e, types.Query{FromBlock: 0, ToBlock: 5999})
	logs, errs := splitItems(items)

	require.Len(t, logs, 4)
	require.Len(t, errs, 1)

	var chunkErr *ChunkError
	require.ErrorAs(t, errs[0], &chunkErr)
	require.Equal(t, middle, chunkErr.Range)
	require.ErrorIs(t, errs[0], context.DeadlineExceeded)
	require.Contains(t, errs[0].Error(), "[2000, 3999]")

	// The error takes the failed chunk's place in the stream.
	require.Nil(t, items[2].log)
	require.Error(t, items[2].err)
	require.Equal(t, int64(1999), items[1].log.BlockNumber)
	require.Equal(t, int64(4100), items[3].log.BlockNumber)
}

func TestGetLogs_TransportErrorIsChunkScoped(t *testing.T) {
	defer goleak.VerifyNone(t)

	refused := errors.New("connection refused")
	src := &fakeSource{logs: []types.RawLog{
		rawLog(1, 0, addr(1), topic(1)),
		rawLog(3, 0, addr(1), topic(1)),
	}}
	src.fail = func(_ context.Context, r types.BlockRange) error {
		if r.From == 2 {
			return refused
		}
		return nil
	}
	e := newTestEngine(t, src, Config{ChunkSize: 2, Concurrency: 2, ChunkTimeout: time.Second})

	logs, errs := splitItems(collect(t, e, types.Query{FromBlock: 0, ToBlock: 5}))
	require.Len(t, logs, 1)
	require.Len(t, errs, 1)
	require.ErrorIs(t, errs[0], refused)

	var chunkErr *ChunkError
	require.ErrorAs(t, errs[0], &chunkErr)
	require.Equal(t, types.BlockRange{From: 2, To: 3}, chunkErr.Range)
}

func TestGetLogs_MalformedRecordYieldedInPlace(t *testing.T) {
	defer goleak.VerifyNone(t)

	broken := rawLog(5, 1, addr(1), topic(1))
	broken.TxHash = nil
	broken.LogIndex = nil

	src := &fakeSource{logs: []types.RawLog{
		rawLog(5, 0, addr(1), topic(1)),
		broken,
		rawLog(5, 2, addr(1), topic(1)),
		{Err: errors.New("cannot unmarshal topics")},
	}}
	e := newTestEngine(t, src, DefaultConfig())

	items := collect(t, e, types.Query{
		FromBlock: 0,
		ToBlock:   10,
		Filters:   []types.Filter{types.NewFilter(addr(1), topic(1))},
	})
	require.Len(t, items, 4)

	require.NotNil(t, items[0].log)
	require.ErrorIs(t, items[1].err, types.ErrMalformed)
	require.Contains(t, items[1].err.Error(), "missing transactionHash")
	require.Contains(t, items[1].err.Error(), "missing logIndex")
	require.NotNil(t, items[2].log)
	require.ErrorIs(t, items[3].err, types.ErrMalformed)
}

func TestGetLogs_ChunkRoundTrip(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{}
	for b := uint64(0); b < 9000; b += 37 {
		src.logs = append(src.logs, rawLog(b, b%3, addr(byte(b%4)), topic(byte(b%5))))
	}
	filters := []types.Filter{
		types.NewFilter(addr(1), topic(2)),
		types.NewFilter(addr(3), topic(4)),
		types.NewFilter(addr(0), topic(0)),
	}
	e := newTestEngine(t, src, DefaultConfig())

	key := func(l *types.Log) [2]int64 { return [2]int64{l.BlockNumber, l.LogIndex} }

	whole, errs := splitItems(collect(t, e, types.Query{FromBlock: 150, ToBlock: 8765, Filters: filters}))
	require.Empty(t, errs)

	var manual [][2]int64
	for r := range Chunks(types.BlockRange{From: 150, To: 8765}, DefaultChunkSize) {
		part, errs := splitItems(collect(t, e, types.Query{FromBlock: r.From, ToBlock: r.To, Filters: filters}))
		require.Empty(t, errs)
		for _, l := range part {
			manual = append(manual, key(l))
		}
	}

	var got [][2]int64
	for _, l := range whole {
		got = append(got, key(l))
	}
	less := func(s [][2]int64) func(i, j int) bool {
		return func(i, j int) bool {
			if s[i][0] != s[j][0] {
				return s[i][0] < s[j][0]
			}
			return s[i][1] < s[j][1]
		}
	}
	sort.Slice(got, less(got))
	sort.Slice(manual, less(manual))
	require.NotEmpty(t, got)
	require.Equal(t, manual, got)
}

func TestGetLogs_BreakStopsFetching(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{delay: time.Millisecond}
	for b := uint64(0); b < 1000; b++ {
		src.logs = append(src.logs, rawLog(b, 0, addr(1), topic(1)))
	}
	e := newTestEngine(t, src, Config{ChunkSize: 1, Concurrency: 4, ChunkTimeout: time.Second})

	seq, err := e.GetLogs(t.Context(), types.Query{FromBlock: 0, ToBlock: 999})
	require.NoError(t, err)

	n := 0
	for range seq {
		n++
		if n == 5 {
			break
		}
	}
	require.Equal(t, 5, n)
	require.Less(t, src.started.Load(), int64(1000))
	require.Zero(t, src.inFlight.Load())
}

func TestGetLogs_ContextCancelled(t *testing.T) {
	defer goleak.VerifyNone(t)

	src := &fakeSource{delay: 10 * time.Millisecond}
	for b := uint64(0); b < 100; b++ {
		src.logs = append(src.logs, rawLog(b, 0, addr(1), topic(1)))
	}
	e := newTestEngine(t, src, Config{ChunkSize: 1, Concurrency: 2, ChunkTimeout: time.Second})

	ctx, cancel := context.WithCancel(t.Context())
	defer cancel()
	seq, err := e.GetLogs(ctx, types.Query{FromBlock: 0, ToBlock: 99})
	require.NoError(t, err)

	var lastErr error
	n := 0
	for _, err := range seq {
		n++
		if n == 3 {
			cancel()
		}
		if err != nil {
			lastErr = err
		}
	}
	require.Less(t, n, 100)
	require.ErrorIs(t, lastErr, context.Canceled)
	require.Zero(t, src.inFlight.Load())
}

func TestGetLogs_Metrics(t *testing.T) {
	defer goleak.VerifyNone(t)

	reg := prometheus.NewRegistry()
	m, err := metrics.New(reg)
	require.NoError(t, err)

	broken := rawLog(3, 1, addr(1), topic(1))
	broken.BlockHash = nil
	src := &fakeSource{logs: []types.RawLog{
		rawLog(1, 0, addr(1), topic(1)),
		rawLog(2, 0, addr(2), topic(1)),
		broken,
	}}
	e, err := New(zap.NewNop().Sugar(), src, m, DefaultConfig())
	require.NoError(t, err)

	items := collect(t, e, types.Query{
		FromBlock: 0,
		ToBlock:   10,
		Filters:   []types.Filter{types.NewFilter(addr(1), topic(1))},
	})
	require.Len(t, items, 2)

	families, err := reg.Gather()
	require.NoError(t, err)
	values := make(map[string]float64)
	for _, mf := range families {
		for _, metric := range mf.GetMetric() {
			if c := metric.GetCounter(); c != nil {
				values[mf.GetName()] += c.GetValue()
			}
		}
	}
	require.Equal(t, float64(1), values["gateway_chunks_fetched_total"])
	require.Equal(t, float64(3), values["gateway_logs_fetched_total"])
	require.Equal(t, float64(1), values["gateway_logs_matched_total"])
	require.Equal(t, float64(1), values["gateway_logs_malformed_total"])
}
