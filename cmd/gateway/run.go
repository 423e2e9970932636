package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/blockpipe/gateway/internal/chainclient"
	"github.com/blockpipe/gateway/pkg/clickhouse"
	"github.com/blockpipe/gateway/pkg/data/clickhouse/evmrepo"
	"github.com/blockpipe/gateway/pkg/engine"
	"github.com/blockpipe/gateway/pkg/metrics"
	"github.com/blockpipe/gateway/pkg/scheduler"
	"github.com/blockpipe/gateway/pkg/server"
	"github.com/blockpipe/gateway/pkg/utils"
)

// upstream is a log source that can also report its head block.
type upstream interface {
	engine.Source
	scheduler.HeadSource
}

func run(c *cli.Context) error {
	// Build configuration from CLI flags
	cfg, err := buildConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	sugar, err := utils.NewSugaredLogger(cfg.Verbose, cfg.LogLevel, "network", cfg.Network.String())
	if err != nil {
		return fmt.Errorf("failed to create logger: %w", err)
	}
	defer sugar.Desugar().Sync() //nolint:errcheck // best-effort flush; ignore sync errors

	sugar.Infow("config",
		"verbose", cfg.Verbose,
		"listenAddr", cfg.ListenAddr(),
		"source", cfg.Source,
		"rpcURL", cfg.RPCURL,
		"chunkSize", cfg.Engine.ChunkSize,
		"concurrency", cfg.Engine.Concurrency,
		"chunkTimeout", cfg.Engine.ChunkTimeout,
		"maxFrameSize", cfg.MaxFrameSize,
		"headPollInterval", cfg.HeadPollInterval,
		"metricsHost", cfg.MetricsHost,
		"metricsPort", cfg.MetricsPort,
		"environment", cfg.Environment,
		"region", cfg.Region,
		"cloudProvider", cfg.CloudProvider,
	)

	// Initialize Prometheus metrics with labels for multi-instance filtering
	registry := prometheus.NewRegistry()
	m, err := metrics.NewWithLabels(registry, metrics.Labels{
		Network:       cfg.Network.String(),
		Environment:   cfg.Environment,
		Region:        cfg.Region,
		CloudProvider: cfg.CloudProvider,
	})
	if err != nil {
		return fmt.Errorf("failed to create metrics: %w", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	source, closeSource, err := newSource(ctx, cfg, sugar, m)
	if err != nil {
		return err
	}
	defer closeSource()

	head, err := source.BlockNumber(ctx)
	if err != nil {
		return fmt.Errorf("failed to get latest block height: %w", err)
	}
	m.SetUpstreamHead(head)
	sugar.Infof("upstream latest block height: %d", head)

	eng, err := engine.New(sugar, source, m, cfg.Engine)
	if err != nil {
		return fmt.Errorf("failed to create engine: %w", err)
	}

	srv, err := server.New(sugar, eng,
		server.WithMetrics(m),
		server.WithMaxFrameSize(cfg.MaxFrameSize),
	)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	metricsServer := metrics.NewServer(cfg.MetricsAddr(), registry)
	if cfg.MetricsHost == "" {
		sugar.Infof("metrics server listening on http://0.0.0.0:%d/metrics", cfg.MetricsPort)
	} else {
		sugar.Infof("metrics server listening on http://%s/metrics", cfg.MetricsAddr())
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return metricsServer.Run(gctx)
	})
	g.Go(func() error {
		return srv.ListenAndServe(gctx, cfg.ListenAddr())
	})
	if cfg.HeadPollInterval > 0 {
		g.Go(func() error {
			return scheduler.StartHeadPoller(gctx, sugar, source, m, cfg.HeadPollInterval)
		})
	}

	err = g.Wait()
	if errors.Is(err, context.Canceled) {
		sugar.Infow("exiting due to context cancellation")
		err = nil
	} else if err != nil {
		sugar.Errorw("run failed", "error", err)
	}

	sugar.Info("shutdown complete")
	return err
}

// newSource builds the upstream log source selected by cfg.Source. The
// returned func releases it.
func newSource(ctx context.Context, cfg *Config, sugar *zap.SugaredLogger, m *metrics.Metrics) (upstream, func(), error) {
	switch cfg.Source {
	case sourceJSONRPC:
		client, err := chainclient.New(ctx, cfg.RPCURL,
			chainclient.WithLogger(sugar),
			chainclient.WithMetrics(m),
		)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to dial rpc: %w", err)
		}
		return client, client.Close, nil

	case sourceClickHouse:
		chClient, err := clickhouse.New(ctx, cfg.ClickHouse, sugar)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to create ClickHouse client: %w", err)
		}
		closeClient := func() {
			if err := chClient.Close(); err != nil {
				sugar.Warnw("failed to close ClickHouse client", "error", err)
			}
		}
		sugar.Info("ClickHouse client created successfully")

		repo, err := evmrepo.NewLogs(chClient, cfg.ClickHouse.LogsTable, m)
		if err != nil {
			closeClient()
			return nil, nil, fmt.Errorf("failed to create logs repository: %w", err)
		}
		if cfg.ClickHouse.CreateLogsTable {
			if err := repo.CreateTableIfNotExists(ctx); err != nil {
				closeClient()
				return nil, nil, fmt.Errorf("failed to check existence or create logs table: %w", err)
			}
		}
		return repo, closeClient, nil

	default:
		return nil, nil, fmt.Errorf("invalid source: %s", cfg.Source)
	}
}
