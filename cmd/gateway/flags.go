package main

import (
	"time"

	"github.com/urfave/cli/v2"

	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/network"
	"github.com/blockpipe/gateway/pkg/protocol"
	"github.com/blockpipe/gateway/pkg/scheduler"
)

const (
	defaultPort    = 9167
	defaultRPCURL  = "https://eth.llamarpc.com"
	defaultAddress = "127.0.0.1:9167"
)

// runFlags returns all CLI flags for the gateway run command
func runFlags() []cli.Flag {
	return []cli.Flag{
		&cli.BoolFlag{
			Name:    "verbose",
			Aliases: []string{"v"},
			Usage:   "Enable verbose logging",
			EnvVars: []string{"VERBOSE"},
			Value:   false,
		},
		&cli.StringFlag{
			Name:    "log-level",
			Usage:   "Log level when not verbose (debug, info, warn, error)",
			EnvVars: []string{"LOG_LEVEL"},
			Value:   "info",
		},
		&cli.StringFlag{
			Name:    "host",
			Usage:   "The host to accept client connections on",
			EnvVars: []string{"HOST"},
			Value:   "0.0.0.0",
		},
		&cli.IntFlag{
			Name:    "port",
			Aliases: []string{"p"},
			Usage:   "The port to accept client connections on",
			EnvVars: []string{"PORT"},
			Value:   defaultPort,
		},
		&cli.StringFlag{
			Name:    "source",
			Aliases: []string{"s"},
			Usage:   "Where logs are read from (jsonrpc or clickhouse)",
			EnvVars: []string{"SOURCE"},
			Value:   sourceJSONRPC,
		},
		&cli.StringFlag{
			Name:    "rpc-url",
			Aliases: []string{"r"},
			Usage:   "The HTTP or websocket JSON-RPC URL of the upstream node",
			EnvVars: []string{"RPC_URL"},
			Value:   defaultRPCURL,
		},
		&cli.StringFlag{
			Name:    "network",
			Aliases: []string{"n"},
			Usage:   "The network served by the upstream, used to label logs and metrics",
			EnvVars: []string{"NETWORK"},
			Value:   network.EthereumMainnet.String(),
		},
		&cli.Int64Flag{
			Name:    "chunk-size",
			Usage:   "The number of blocks requested from the upstream per chunk",
			EnvVars: []string{"CHUNK_SIZE"},
			Value:   engine.DefaultChunkSize,
		},
		&cli.Int64Flag{
			Name:    "concurrency",
			Aliases: []string{"c"},
			Usage:   "The number of chunks fetched concurrently for one request",
			EnvVars: []string{"CONCURRENCY"},
			Value:   engine.DefaultConcurrency,
		},
		&cli.DurationFlag{
			Name:    "chunk-timeout",
			Usage:   "The timeout for fetching one chunk from the upstream",
			EnvVars: []string{"CHUNK_TIMEOUT"},
			Value:   engine.DefaultChunkTimeout,
		},
		&cli.UintFlag{
			Name:    "max-frame-size",
			Usage:   "The maximum size in bytes of a request frame",
			EnvVars: []string{"MAX_FRAME_SIZE"},
			Value:   protocol.DefaultMaxFrameSize,
		},
		&cli.DurationFlag{
			Name:    "head-poll-interval",
			Usage:   "How often the upstream head block is read for metrics (0 disables)",
			EnvVars: []string{"HEAD_POLL_INTERVAL"},
			Value:   scheduler.DefaultHeadPollInterval,
		},
		&cli.StringFlag{
			Name:    "metrics-host",
			Usage:   "The host to listen on for metrics",
			EnvVars: []string{"METRICS_HOST"},
			Value:   "",
		},
		&cli.IntFlag{
			Name:    "metrics-port",
			Aliases: []string{"m"},
			Usage:   "The port to listen on for metrics",
			EnvVars: []string{"METRICS_PORT"},
			Value:   9090,
		},
		&cli.StringFlag{
			Name:    "environment",
			Aliases: []string{"E"},
			Usage:   "Deployment environment for metrics labels (e.g., 'production', 'staging')",
			EnvVars: []string{"ENVIRONMENT"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "region",
			Aliases: []string{"R"},
			Usage:   "Cloud region for metrics labels (e.g., 'us-east-1')",
			EnvVars: []string{"REGION"},
			Value:   "",
		},
		&cli.StringFlag{
			Name:    "cloud-provider",
			Aliases: []string{"CP"},
			Usage:   "Cloud provider for metrics labels (e.g., 'aws', 'gcp')",
			EnvVars: []string{"CLOUD_PROVIDER"},
			Value:   "",
		},
	}
}

func clientFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{
			Name:    "addr",
			Aliases: []string{"a"},
			Usage:   "The gateway address",
			EnvVars: []string{"GATEWAY_ADDR"},
			Value:   defaultAddress,
		},
		&cli.DurationFlag{
			Name:    "timeout",
			Aliases: []string{"t"},
			Usage:   "The timeout for the whole exchange",
			EnvVars: []string{"GATEWAY_TIMEOUT"},
			Value:   time.Minute,
		},
	}
}

// queryFlags returns the flags for the query command
func queryFlags() []cli.Flag {
	return append(clientFlags(),
		&cli.Int64Flag{
			Name:     "from-block",
			Aliases:  []string{"f"},
			Usage:    "The first block of the range (inclusive)",
			Required: true,
		},
		&cli.Int64Flag{
			Name:     "to-block",
			Aliases:  []string{"T"},
			Usage:    "The last block of the range (inclusive)",
			Required: true,
		},
		&cli.StringSliceFlag{
			Name:    "filter",
			Aliases: []string{"F"},
			Usage:   "An address:topic0 pair in 0x-prefixed hex; repeat for more. No filter matches every log",
		},
	)
}

func pingFlags() []cli.Flag {
	return clientFlags()
}
