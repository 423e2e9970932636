// Package network names the chains a query can be qualified with.
package network

import (
	"errors"
	"fmt"
)

var ErrUnknownNetwork = errors.New("unknown network")

// Network is a symbolic chain identifier in snake_case form.
type Network string

const (
	EthereumMainnet Network = "ethereum_mainnet"
	EthereumGoerli  Network = "ethereum_goerli"
	EthereumSepolia Network = "ethereum_sepolia"
	ArbitrumOne     Network = "arbitrum_one"
	ArbitrumGoerli  Network = "arbitrum_goerli"
	OptimismMainnet Network = "optimism_mainnet"
)

var all = []Network{
	EthereumMainnet,
	EthereumGoerli,
	EthereumSepolia,
	ArbitrumOne,
	ArbitrumGoerli,
	OptimismMainnet,
}

// All returns every known network in declaration order.
func All() []Network {
	out := make([]Network, len(all))
	copy(out, all)
	return out
}

// Parse returns the network named s.
func Parse(s string) (Network, error) {
	for _, n := range all {
		if string(n) == s {
			return n, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownNetwork, s)
}

func (n Network) String() string {
	return string(n)
}

func (n Network) MarshalText() ([]byte, error) {
	if _, err := Parse(string(n)); err != nil {
		return nil, err
	}
	return []byte(n), nil
}

func (n *Network) UnmarshalText(text []byte) error {
	parsed, err := Parse(string(text))
	if err != nil {
		return err
	}
	*n = parsed
	return nil
}
