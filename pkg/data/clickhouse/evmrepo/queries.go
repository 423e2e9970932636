package evmrepo

import (
	"strings"

	"github.com/blockpipe/gateway/pkg/types"
)

// logColumns is the projection scanned into LogRow.
const logColumns = `block_number, block_hash, toUnixTimestamp(block_time) AS block_timestamp,
		log_index, tx_hash, tx_index, address, topics, data`

// LogsSelectQuery returns the SELECT for one block range and its arguments.
// Empty address or topic lists add no condition. FixedString columns are
// compared against raw byte strings.
func LogsSelectQuery(tableName string, r types.BlockRange, filter types.CoarseFilter) (string, []any) {
	var sb strings.Builder
	sb.WriteString(`SELECT ` + logColumns + `
		FROM ` + tableName + `
		WHERE block_number >= ? AND block_number <= ? AND removed = 0`)
	args := []any{uint64(r.From), uint64(r.To)}

	if len(filter.Addresses) > 0 {
		addrs := make([]string, len(filter.Addresses))
		for i, a := range filter.Addresses {
			addrs[i] = string(a[:])
		}
		sb.WriteString(` AND address IN (?)`)
		args = append(args, addrs)
	}
	if len(filter.Topic0s) > 0 {
		topics := make([]string, len(filter.Topic0s))
		for i, t := range filter.Topic0s {
			topics[i] = string(t[:])
		}
		// Arrays are 1-indexed; topics[1] of an empty array is the empty
		// default and never equals a 32-byte topic.
		sb.WriteString(` AND topics[1] IN (?)`)
		args = append(args, topics)
	}

	sb.WriteString(`
		ORDER BY block_number, log_index`)
	return sb.String(), args
}

// HeadSelectQuery returns the query for the highest indexed block.
func HeadSelectQuery(tableName string) string {
	return `SELECT max(block_number) AS head FROM ` + tableName + ` WHERE removed = 0`
}

// CreateLogsTableQuery returns the CREATE TABLE statement of the logs table
// this repository reads.
func CreateLogsTableQuery(tableName string) string {
	return `CREATE TABLE IF NOT EXISTS ` + tableName + ` (
		blockchain_id String,
		block_number UInt64,
		block_hash FixedString(32),
		block_time DateTime64(3, 'UTC'),
		tx_hash FixedString(32),
		tx_index UInt32,
		address FixedString(20),
		topics Array(FixedString(32)),
		data String,
		log_index UInt32,
		removed UInt8
	)
	ENGINE = MergeTree
	ORDER BY (block_number, log_index)
	SETTINGS index_granularity = 8192`
}
