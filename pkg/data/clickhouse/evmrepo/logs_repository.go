package evmrepo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/blockpipe/gateway/pkg/clickhouse"
	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/types"
)

const (
	methodSelectLogs = "clickhouse_select_logs"
	methodSelectHead = "clickhouse_select_head"
)

// Logs reads indexed logs from ClickHouse. It is an engine.Source, so an
// indexed store can stand in for a JSON-RPC node.
type Logs struct {
	client    clickhouse.Client
	tableName string
	metrics   *metrics.Metrics
}

var _ engine.Source = (*Logs)(nil)

// NewLogs creates a logs repository over tableName. m may be nil.
func NewLogs(client clickhouse.Client, tableName string, m *metrics.Metrics) (*Logs, error) {
	if client == nil {
		return nil, errors.New("invalid client: must not be nil")
	}
	if tableName == "" {
		return nil, errors.New("invalid table name: must not be empty")
	}
	return &Logs{
		client:    client,
		tableName: tableName,
		metrics:   m,
	}, nil
}

type headRow struct {
	Head uint64 `ch:"head"`
}

// BlockNumber returns the highest indexed block, 0 for an empty table.
func (r *Logs) BlockNumber(ctx context.Context) (uint64, error) {
	start := time.Now()
	var rows []headRow
	err := r.client.Conn().Select(ctx, &rows, HeadSelectQuery(r.tableName))
	r.metrics.RecordRPCCall(methodSelectHead, err, time.Since(start).Seconds())
	if err != nil {
		return 0, fmt.Errorf("failed to select head block: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Head, nil
}

// CreateTableIfNotExists creates the logs table if it doesn't exist.
func (r *Logs) CreateTableIfNotExists(ctx context.Context) error {
	if err := r.client.Conn().Exec(ctx, CreateLogsTableQuery(r.tableName)); err != nil {
		return fmt.Errorf("failed to create logs table: %w", err)
	}
	return nil
}

// FetchLogs selects the logs of r matching the coarse filter, ordered by
// block number and log index.
func (r *Logs) FetchLogs(ctx context.Context, rng types.BlockRange, filter types.CoarseFilter) ([]types.RawLog, error) {
	if rng.From < 0 || rng.From > rng.To {
		return nil, fmt.Errorf("%w: %s", types.ErrInvalidRange, rng)
	}

	query, args := LogsSelectQuery(r.tableName, rng, filter)

	start := time.Now()
	r.metrics.IncRPCInFlight()
	var rows []LogRow
	err := r.client.Conn().Select(ctx, &rows, query, args...)
	r.metrics.DecRPCInFlight()
	r.metrics.RecordRPCCall(methodSelectLogs, err, time.Since(start).Seconds())
	if err != nil {
		return nil, fmt.Errorf("failed to select logs %s: %w", rng, err)
	}

	logs := make([]types.RawLog, len(rows))
	for i := range rows {
		logs[i] = rows[i].ToRawLog()
	}
	return logs, nil
}
