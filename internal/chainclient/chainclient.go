// Package chainclient is the JSON-RPC upstream of the log engine. It speaks
// eth_getLogs and eth_blockNumber to any Ethereum-compatible node.
package chainclient

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"
	"go.uber.org/zap"

	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/types"
)

const (
	methodGetLogs     = "eth_getLogs"
	methodBlockNumber = "eth_blockNumber"
)

// Client wraps the underlying RPC client. It is safe for concurrent use.
type Client struct {
	rpc     *rpc.Client
	eth     *ethclient.Client
	log     *zap.SugaredLogger
	metrics *metrics.Metrics // nil if metrics disabled
}

var _ engine.Source = (*Client)(nil)

// Option configures the Client.
type Option func(*Client)

// WithMetrics enables metrics collection for the client.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithLogger sets the logger used for per-element decode failures.
func WithLogger(log *zap.SugaredLogger) Option {
	return func(c *Client) {
		c.log = log
	}
}

// New dials url and returns a Client. HTTP(S) and WS(S) endpoints are supported.
func New(ctx context.Context, url string, opts ...Option) (*Client, error) {
	c, err := rpc.DialContext(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("dial rpc %s: %w", url, err)
	}
	return NewWithRPC(c, opts...), nil
}

// NewWithRPC wraps an existing RPC client.
func NewWithRPC(c *rpc.Client, opts ...Option) *Client {
	client := &Client{
		rpc: c,
		eth: ethclient.NewClient(c),
		log: zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(client)
	}
	return client
}

// BlockNumber returns the upstream head.
func (c *Client) BlockNumber(ctx context.Context) (uint64, error) {
	var head uint64
	err := c.observe(methodBlockNumber, func() error {
		var err error
		head, err = c.eth.BlockNumber(ctx)
		return err
	})
	if err != nil {
		return 0, fmt.Errorf("get block number: %w", err)
	}
	return head, nil
}

// FetchLogs returns the logs of r restricted by filter. Each array element
// of the response is decoded on its own, so one bad element becomes a
// RawLog with Err set instead of failing the whole range.
func (c *Client) FetchLogs(ctx context.Context, r types.BlockRange, filter types.CoarseFilter) ([]types.RawLog, error) {
	if r.From < 0 || r.From > r.To {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRange, r)
	}

	var elems []json.RawMessage
	if err := c.call(ctx, &elems, methodGetLogs, toFilterArg(r, filter)); err != nil {
		return nil, fmt.Errorf("get logs %s: %w", r, err)
	}

	logs := make([]types.RawLog, 0, len(elems))
	for i, elem := range elems {
		raw, err := decodeLog(elem)
		if err != nil {
			c.log.Debugw("undecodable log element",
				"from", r.From,
				"to", r.To,
				"position", i,
				"error", err,
			)
			raw = types.RawLog{Err: fmt.Errorf("element %d: %w", i, err)}
		}
		logs = append(logs, raw)
	}
	return logs, nil
}

// Close closes the underlying RPC client.
func (c *Client) Close() {
	c.rpc.Close()
}

func (c *Client) call(ctx context.Context, result any, method string, args ...any) error {
	return c.observe(method, func() error {
		return c.rpc.CallContext(ctx, result, method, args...)
	})
}

func (c *Client) observe(method string, fn func() error) error {
	start := time.Now()

	c.metrics.IncRPCInFlight()
	defer c.metrics.DecRPCInFlight()

	err := fn()
	c.metrics.RecordRPCCall(method, err, time.Since(start).Seconds())
	return err
}
