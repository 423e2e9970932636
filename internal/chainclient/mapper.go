package chainclient

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	"github.com/blockpipe/gateway/pkg/types"
)

// rpcLog is one eth_getLogs element. Every field is optional so that
// missing fields are reported by normalization rather than by decoding.
type rpcLog struct {
	Address        *common.Address `json:"address"`
	Topics         []common.Hash   `json:"topics"`
	Data           hexutil.Bytes   `json:"data"`
	BlockNumber    *hexutil.Uint64 `json:"blockNumber"`
	BlockHash      *common.Hash    `json:"blockHash"`
	BlockTimestamp *hexutil.Uint64 `json:"blockTimestamp"`
	LogIndex       *hexutil.Uint64 `json:"logIndex"`
	TxHash         *common.Hash    `json:"transactionHash"`
	TxIndex        *hexutil.Uint64 `json:"transactionIndex"`
}

func decodeLog(elem json.RawMessage) (types.RawLog, error) {
	var l rpcLog
	if err := json.Unmarshal(elem, &l); err != nil {
		return types.RawLog{}, err
	}
	return mapToRawLog(&l), nil
}

func mapToRawLog(l *rpcLog) types.RawLog {
	raw := types.RawLog{
		Data:           l.Data,
		BlockNumber:    uint64Ptr(l.BlockNumber),
		BlockTimestamp: uint64Ptr(l.BlockTimestamp),
		LogIndex:       uint64Ptr(l.LogIndex),
		TxIndex:        uint64Ptr(l.TxIndex),
	}
	if l.Address != nil {
		a := types.Address(*l.Address)
		raw.Address = &a
	}
	if l.BlockHash != nil {
		h := types.Hash(*l.BlockHash)
		raw.BlockHash = &h
	}
	if l.TxHash != nil {
		h := types.Hash(*l.TxHash)
		raw.TxHash = &h
	}
	if len(l.Topics) > 0 {
		raw.Topics = make([]types.Hash, len(l.Topics))
		for i, t := range l.Topics {
			raw.Topics[i] = types.Hash(t)
		}
	}
	return raw
}

func uint64Ptr(v *hexutil.Uint64) *uint64 {
	if v == nil {
		return nil
	}
	u := uint64(*v)
	return &u
}

// toFilterArg builds the eth_getLogs filter object. Empty lists are left
// out so that the node applies no restriction.
func toFilterArg(r types.BlockRange, filter types.CoarseFilter) map[string]any {
	arg := map[string]any{
		"fromBlock": hexutil.EncodeUint64(uint64(r.From)),
		"toBlock":   hexutil.EncodeUint64(uint64(r.To)),
	}
	if len(filter.Addresses) > 0 {
		addrs := make([]common.Address, len(filter.Addresses))
		for i, a := range filter.Addresses {
			addrs[i] = common.Address(a)
		}
		arg["address"] = addrs
	}
	if len(filter.Topic0s) > 0 {
		topic0s := make([]common.Hash, len(filter.Topic0s))
		for i, t := range filter.Topic0s {
			topic0s[i] = common.Hash(t)
		}
		arg["topics"] = [][]common.Hash{topic0s}
	}
	return arg
}
