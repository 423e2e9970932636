package evmrepo

import (
	"fmt"

	"github.com/blockpipe/gateway/pkg/types"
)

// LogRow is one row of the logs table as selected by LogsSelectQuery.
type LogRow struct {
	BlockNumber    uint64   `ch:"block_number"`
	BlockHash      string   `ch:"block_hash"` // FixedString(32), raw bytes
	BlockTimestamp uint32   `ch:"block_timestamp"`
	LogIndex       uint32   `ch:"log_index"`
	TxHash         string   `ch:"tx_hash"` // FixedString(32), raw bytes
	TxIndex        uint32   `ch:"tx_index"`
	Address        string   `ch:"address"` // FixedString(20), raw bytes
	Topics         []string `ch:"topics"`  // Array(FixedString(32)), raw bytes
	Data           string   `ch:"data"`
}

// ToRawLog converts the row. A column of the wrong width yields a RawLog
// carrying the decode error.
func (r *LogRow) ToRawLog() types.RawLog {
	blockHash, err := types.HashFromBytes([]byte(r.BlockHash))
	if err != nil {
		return types.RawLog{Err: fmt.Errorf("block_hash: %w", err)}
	}
	txHash, err := types.HashFromBytes([]byte(r.TxHash))
	if err != nil {
		return types.RawLog{Err: fmt.Errorf("tx_hash: %w", err)}
	}
	address, err := types.AddressFromBytes([]byte(r.Address))
	if err != nil {
		return types.RawLog{Err: fmt.Errorf("address: %w", err)}
	}
	topics := make([]types.Hash, len(r.Topics))
	for i, t := range r.Topics {
		topics[i], err = types.HashFromBytes([]byte(t))
		if err != nil {
			return types.RawLog{Err: fmt.Errorf("topic %d: %w", i, err)}
		}
	}

	blockNumber := r.BlockNumber
	timestamp := uint64(r.BlockTimestamp)
	logIndex := uint64(r.LogIndex)
	txIndex := uint64(r.TxIndex)
	return types.RawLog{
		Address:        &address,
		Topics:         topics,
		Data:           []byte(r.Data),
		BlockNumber:    &blockNumber,
		BlockHash:      &blockHash,
		BlockTimestamp: &timestamp,
		LogIndex:       &logIndex,
		TxHash:         &txHash,
		TxIndex:        &txIndex,
	}
}
