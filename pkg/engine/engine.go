package engine

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/semaphore"

	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/types"
)

const (
	DefaultChunkSize    = 2000
	DefaultConcurrency  = 10
	DefaultChunkTimeout = 5 * time.Second
)

// Engine streams the logs that match a query.
//
// The error returned by GetLogs reports an invalid query. Failures while
// streaming are yielded in place as (nil, err) items and never end the
// sequence early.
type Engine interface {
	GetLogs(ctx context.Context, q types.Query) (iter.Seq2[*types.Log, error], error)
}

// Source fetches the raw logs of one block range restricted by a coarse
// filter, in upstream order. It must be safe for concurrent use.
type Source interface {
	FetchLogs(ctx context.Context, r types.BlockRange, filter types.CoarseFilter) ([]types.RawLog, error)
}

type Config struct {
	// ChunkSize is the number of blocks requested from the source at once.
	ChunkSize int64
	// Concurrency bounds the chunks fetched ahead of the consumer for one query.
	Concurrency int64
	// ChunkTimeout bounds a single chunk fetch.
	ChunkTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		ChunkSize:    DefaultChunkSize,
		Concurrency:  DefaultConcurrency,
		ChunkTimeout: DefaultChunkTimeout,
	}
}

// ChunkedEngine splits a query into fixed-size chunks, fetches them from a
// Source with bounded concurrency and yields matching logs in chunk order.
// It keeps no per-query state and is shared by all sessions.
type ChunkedEngine struct {
	log     *zap.SugaredLogger
	source  Source
	metrics *metrics.Metrics
	cfg     Config
}

var _ Engine = (*ChunkedEngine)(nil)

// New creates a ChunkedEngine. m may be nil.
func New(log *zap.SugaredLogger, source Source, m *metrics.Metrics, cfg Config) (*ChunkedEngine, error) {
	if log == nil {
		return nil, errors.New("invalid logger: must not be nil")
	}
	if source == nil {
		return nil, errors.New("invalid source: must not be nil")
	}
	if cfg.ChunkSize <= 0 {
		return nil, errors.New("invalid chunk size: must be greater than 0")
	}
	if cfg.Concurrency <= 0 {
		return nil, errors.New("invalid concurrency: must be greater than 0")
	}
	if cfg.ChunkTimeout <= 0 {
		return nil, errors.New("invalid chunk timeout: must be greater than 0")
	}

	return &ChunkedEngine{
		log:     log,
		source:  source,
		metrics: m,
		cfg:     cfg,
	}, nil
}

// GetLogs validates q and returns a lazy sequence of its matching logs.
// Nothing is fetched until the sequence is ranged over. Breaking out of the
// loop or cancelling ctx stops outstanding fetches before the range returns.
func (e *ChunkedEngine) GetLogs(ctx context.Context, q types.Query) (iter.Seq2[*types.Log, error], error) {
	if err := q.Validate(); err != nil {
		return nil, err
	}

	return func(yield func(*types.Log, error) bool) {
		e.stream(ctx, q, yield)
	}, nil
}

// pendingChunk is a chunk fetch whose result becomes readable once done is closed.
type pendingChunk struct {
	rng  types.BlockRange
	logs []types.RawLog
	err  error
	done chan struct{}
}

func (e *ChunkedEngine) stream(ctx context.Context, q types.Query, yield func(*types.Log, error) bool) {
	ctx, cancel := context.WithCancel(ctx)
	var wg sync.WaitGroup
	defer func() {
		cancel()
		wg.Wait()
	}()

	rng := q.Range()
	total := ChunkCount(rng, e.cfg.ChunkSize)
	coarse := NewCoarseFilter(q.Filters)
	matcher := NewMatcher(q.Filters)

	e.log.Debugw("streaming logs",
		"from", rng.From,
		"to", rng.To,
		"chunks", total,
		"filters", len(q.Filters),
	)

	// A slot is held from the start of a chunk fetch until the consumer has
	// drained that chunk, so fetches never run more than Concurrency chunks
	// ahead of the reader.
	sem := semaphore.NewWeighted(e.cfg.Concurrency)
	pending := make(chan *pendingChunk, e.cfg.Concurrency)

	wg.Add(1)
	go func() {
		defer wg.Done()
		defer close(pending)

		for r := range Chunks(rng, e.cfg.ChunkSize) {
			if err := sem.Acquire(ctx, 1); err != nil {
				return
			}
			c := &pendingChunk{rng: r, done: make(chan struct{})}
			wg.Add(1)
			go func() {
				defer wg.Done()
				defer close(c.done)
				c.logs, c.err = e.fetch(ctx, r, coarse)
			}()

			select {
			case pending <- c:
			case <-ctx.Done():
				return
			}
		}
	}()

	var consumed int64
	for c := range pending {
		select {
		case <-c.done:
		case <-ctx.Done():
		}
		if ctx.Err() != nil {
			break
		}
		if !e.emit(c, matcher, yield) {
			return
		}
		consumed++
		sem.Release(1)
	}

	if consumed < total {
		err := ctx.Err()
		if err == nil {
			err = errors.New("chunk producer stopped early")
		}
		yield(nil, fmt.Errorf("log stream stopped after %d of %d chunks: %w", consumed, total, err))
	}
}

// emit yields the chunk's contribution and reports whether the consumer
// wants more.
func (e *ChunkedEngine) emit(c *pendingChunk, matcher *Matcher, yield func(*types.Log, error) bool) bool {
	if c.err != nil {
		return yield(nil, &ChunkError{Range: c.rng, Err: c.err})
	}

	matched := 0
	defer func() { e.metrics.AddLogsMatched(matched) }()

	for i := range c.logs {
		raw := &c.logs[i]
		// Undecodable elements cannot be matched and are always reported.
		if raw.Err == nil && !matcher.Match(raw) {
			continue
		}

		log, err := raw.Normalize()
		if err != nil {
			e.metrics.IncLogsMalformed()
			e.log.Debugw("malformed upstream log",
				"from", c.rng.From,
				"to", c.rng.To,
				"error", err,
			)
			if !yield(nil, err) {
				return false
			}
			continue
		}

		matched++
		if !yield(log, nil) {
			return false
		}
	}
	return true
}

func (e *ChunkedEngine) fetch(ctx context.Context, r types.BlockRange, coarse types.CoarseFilter) ([]types.RawLog, error) {
	fetchCtx, cancel := context.WithTimeout(ctx, e.cfg.ChunkTimeout)
	defer cancel()

	e.metrics.IncChunksInFlight()
	defer e.metrics.DecChunksInFlight()

	start := time.Now()
	logs, err := e.source.FetchLogs(fetchCtx, r, coarse)
	if err == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
		err = fetchCtx.Err()
	}
	e.metrics.RecordChunk(err, time.Since(start).Seconds(), len(logs))

	if err != nil {
		if ctx.Err() == nil && errors.Is(fetchCtx.Err(), context.DeadlineExceeded) {
			err = fmt.Errorf("timed out after %s: %w", e.cfg.ChunkTimeout, err)
		}
		if ctx.Err() == nil {
			e.log.Warnw("failed to fetch chunk",
				"from", r.From,
				"to", r.To,
				"error", err,
			)
		}
		return nil, err
	}
	return logs, nil
}
