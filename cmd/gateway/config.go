package main

import (
	"fmt"
	"math"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/blockpipe/gateway/pkg/clickhouse"
	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/network"
	"github.com/blockpipe/gateway/pkg/types"
)

const (
	sourceJSONRPC    = "jsonrpc"
	sourceClickHouse = "clickhouse"
)

// Config holds all configuration for the gateway run command
type Config struct {
	// Application settings
	Verbose  bool
	LogLevel string

	// Server settings
	Host         string
	Port         int
	MaxFrameSize uint32

	// Upstream settings
	Source  string
	RPCURL  string
	Network network.Network

	// Engine settings
	Engine engine.Config

	// HeadPollInterval is how often the upstream head is read; 0 disables it
	HeadPollInterval time.Duration

	// ClickHouse settings, only loaded for the clickhouse source
	ClickHouse clickhouse.Config

	// Metrics settings
	MetricsHost   string
	MetricsPort   int
	Environment   string
	Region        string
	CloudProvider string
}

// ListenAddr returns the address client connections are accepted on
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// MetricsAddr returns the formatted metrics address
func (c *Config) MetricsAddr() string {
	return fmt.Sprintf("%s:%d", c.MetricsHost, c.MetricsPort)
}

// buildConfig builds a Config from CLI context flags
func buildConfig(c *cli.Context) (*Config, error) {
	n, err := network.Parse(c.String("network"))
	if err != nil {
		return nil, fmt.Errorf("invalid network: %w", err)
	}

	maxFrameSize := c.Uint("max-frame-size")
	if maxFrameSize == 0 || maxFrameSize > math.MaxUint32 {
		return nil, fmt.Errorf("max-frame-size must be between 1 and %d, got %d", uint32(math.MaxUint32), maxFrameSize)
	}

	cfg := &Config{
		Verbose:      c.Bool("verbose"),
		LogLevel:     c.String("log-level"),
		Host:         c.String("host"),
		Port:         c.Int("port"),
		MaxFrameSize: uint32(maxFrameSize),
		Source:       strings.ToLower(c.String("source")),
		RPCURL:       c.String("rpc-url"),
		Network:      n,
		Engine: engine.Config{
			ChunkSize:    c.Int64("chunk-size"),
			Concurrency:  c.Int64("concurrency"),
			ChunkTimeout: c.Duration("chunk-timeout"),
		},
		HeadPollInterval: c.Duration("head-poll-interval"),
		MetricsHost:      c.String("metrics-host"),
		MetricsPort:      c.Int("metrics-port"),
		Environment:      c.String("environment"),
		Region:           c.String("region"),
		CloudProvider:    c.String("cloud-provider"),
	}

	switch cfg.Source {
	case sourceJSONRPC:
		if cfg.RPCURL == "" {
			return nil, fmt.Errorf("rpc-url is required for the %s source", sourceJSONRPC)
		}
	case sourceClickHouse:
		chCfg, err := clickhouse.Load()
		if err != nil {
			return nil, fmt.Errorf("failed to build ClickHouse config: %w", err)
		}
		cfg.ClickHouse = chCfg
	default:
		return nil, fmt.Errorf("invalid source %q: must be %s or %s", cfg.Source, sourceJSONRPC, sourceClickHouse)
	}

	if err := validateEngineConfig(cfg.Engine); err != nil {
		return nil, err
	}
	if cfg.HeadPollInterval < 0 {
		return nil, fmt.Errorf("head-poll-interval must not be negative, got %s", cfg.HeadPollInterval)
	}
	if cfg.Port < 0 || cfg.Port > math.MaxUint16 {
		return nil, fmt.Errorf("port must be between 0 and %d, got %d", math.MaxUint16, cfg.Port)
	}
	return cfg, nil
}

func validateEngineConfig(cfg engine.Config) error {
	if cfg.ChunkSize <= 0 {
		return fmt.Errorf("chunk-size must be greater than 0, got %d", cfg.ChunkSize)
	}
	if cfg.Concurrency <= 0 {
		return fmt.Errorf("concurrency must be greater than 0, got %d", cfg.Concurrency)
	}
	if cfg.ChunkTimeout <= 0 {
		return fmt.Errorf("chunk-timeout must be greater than 0, got %s", cfg.ChunkTimeout)
	}
	return nil
}

// QueryConfig holds the configuration of the query and ping commands
type QueryConfig struct {
	Addr    string
	Timeout time.Duration
	Query   types.Query
}

// buildQueryConfig builds a QueryConfig from CLI context flags. Range flags
// are only read when present.
func buildQueryConfig(c *cli.Context) (*QueryConfig, error) {
	cfg := &QueryConfig{
		Addr:    c.String("addr"),
		Timeout: c.Duration("timeout"),
	}
	if !c.IsSet("from-block") {
		return cfg, nil
	}

	filters, err := parseFilters(c.StringSlice("filter"))
	if err != nil {
		return nil, err
	}
	cfg.Query = types.Query{
		FromBlock: c.Int64("from-block"),
		ToBlock:   c.Int64("to-block"),
		Filters:   filters,
	}
	if err := cfg.Query.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// parseFilters parses address:topic0 pairs.
func parseFilters(values []string) ([]types.Filter, error) {
	filters := make([]types.Filter, 0, len(values))
	for _, v := range values {
		addr, topic, ok := strings.Cut(v, ":")
		if !ok {
			return nil, fmt.Errorf("invalid filter %q: want address:topic0", v)
		}
		a, err := types.HexToAddress(strings.TrimSpace(addr))
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", v, err)
		}
		h, err := types.HexToHash(strings.TrimSpace(topic))
		if err != nil {
			return nil, fmt.Errorf("invalid filter %q: %w", v, err)
		}
		filters = append(filters, types.NewFilter(a, h))
	}
	return filters, nil
}
