package types

import (
	"errors"
	"fmt"
	"math"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Log is the normalized record streamed to clients. On the wire it is a
// 9-element CBOR array in field order.
type Log struct {
	_              struct{}      `cbor:",toarray"`
	BlockNumber    int64         `json:"blockNumber"`
	BlockHash      Hash          `json:"blockHash"`
	BlockTimestamp int64         `json:"blockTimestamp"`
	LogIndex       int64         `json:"logIndex"`
	TxHash         Hash          `json:"transactionHash"`
	TxIndex        int64         `json:"transactionIndex"`
	Address        Address       `json:"address"`
	Topics         []Hash        `json:"topics"`
	Data           hexutil.Bytes `json:"data"`
}

// RawLog is a log as reported by a source. Every field is optional because
// sources are not trusted to provide them; Normalize enforces presence.
// Err is set when the source could not decode the element at all.
type RawLog struct {
	Address        *Address
	Topics         []Hash
	Data           []byte
	BlockNumber    *uint64
	BlockHash      *Hash
	BlockTimestamp *uint64
	LogIndex       *uint64
	TxHash         *Hash
	TxIndex        *uint64
	Err            error
}

// Topic0 returns the first topic, or false for an anonymous log.
func (r *RawLog) Topic0() (Hash, bool) {
	if len(r.Topics) == 0 {
		return Hash{}, false
	}
	return r.Topics[0], true
}

// Normalize converts the raw log into a Log. Missing required fields produce
// an error wrapping ErrMalformed that names every missing field.
// BlockTimestamp is optional and defaults to zero.
func (r *RawLog) Normalize() (*Log, error) {
	if r.Err != nil {
		return nil, fmt.Errorf("%w: undecodable log: %v", ErrMalformed, r.Err)
	}

	var errs []error
	blockNumber := toInt64("blockNumber", r.BlockNumber, &errs)
	logIndex := toInt64("logIndex", r.LogIndex, &errs)
	txIndex := toInt64("transactionIndex", r.TxIndex, &errs)
	if r.BlockHash == nil {
		errs = append(errs, errors.New("missing blockHash"))
	}
	if r.TxHash == nil {
		errs = append(errs, errors.New("missing transactionHash"))
	}
	if r.Address == nil {
		errs = append(errs, errors.New("missing address"))
	}
	var timestamp int64
	if r.BlockTimestamp != nil {
		timestamp = toInt64("blockTimestamp", r.BlockTimestamp, &errs)
	}
	if len(errs) > 0 {
		return nil, fmt.Errorf("%w: log at block %s index %s: %w",
			ErrMalformed, describe(r.BlockNumber), describe(r.LogIndex), errors.Join(errs...))
	}

	topics := make([]Hash, len(r.Topics))
	copy(topics, r.Topics)
	data := make([]byte, len(r.Data))
	copy(data, r.Data)

	return &Log{
		BlockNumber:    blockNumber,
		BlockHash:      *r.BlockHash,
		BlockTimestamp: timestamp,
		LogIndex:       logIndex,
		TxHash:         *r.TxHash,
		TxIndex:        txIndex,
		Address:        *r.Address,
		Topics:         topics,
		Data:           data,
	}, nil
}

func toInt64(field string, v *uint64, errs *[]error) int64 {
	if v == nil {
		*errs = append(*errs, fmt.Errorf("missing %s", field))
		return 0
	}
	if *v > math.MaxInt64 {
		*errs = append(*errs, fmt.Errorf("%s %d overflows int64", field, *v))
		return 0
	}
	return int64(*v)
}

func describe(v *uint64) string {
	if v == nil {
		return "?"
	}
	return fmt.Sprintf("%d", *v)
}
