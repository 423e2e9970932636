package clickhouse

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/ClickHouse/clickhouse-go/v2"
	"github.com/ClickHouse/clickhouse-go/v2/lib/driver"
	"go.uber.org/zap"
)

// Client wraps the ClickHouse connection
type Client interface {
	// Conn returns the underlying ClickHouse connection
	Conn() driver.Conn
	// Ping checks the connection to ClickHouse
	Ping(ctx context.Context) error
	// Close closes the connection
	Close() error
}

// ClickHouse setting keys
const (
	maxExecutionTime = "max_execution_time"
	maxBlockSize     = "max_block_size"
)

// Connection timeout for initial ping during client creation
const defaultPingTimeout = 10 * time.Second

type client struct {
	conn   driver.Conn
	logger *zap.SugaredLogger
}

// New opens a ClickHouse connection and pings it. The gateway must not
// start against an unreachable store, so a failed ping is returned as an error.
func New(ctx context.Context, cfg Config, sugar *zap.SugaredLogger) (Client, error) {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}

	opts := &clickhouse.Options{
		Addr: cfg.Hosts,
		Auth: clickhouse.Auth{
			Database: cfg.Database,
			Username: cfg.Username,
			Password: cfg.Password,
		},
		DialContext: func(ctx context.Context, addr string) (net.Conn, error) {
			var d net.Dialer
			return d.DialContext(ctx, "tcp", addr)
		},
		Settings: clickhouse.Settings{
			maxExecutionTime: cfg.MaxExecutionTime,
			maxBlockSize:     cfg.MaxBlockSize,
		},
		Compression: &clickhouse.Compression{
			Method: clickhouse.CompressionLZ4,
		},
		DialTimeout:          time.Duration(cfg.DialTimeout) * time.Second,
		MaxOpenConns:         cfg.MaxOpenConns,
		MaxIdleConns:         cfg.MaxIdleConns,
		ConnMaxLifetime:      time.Duration(cfg.ConnMaxLifetime) * time.Minute,
		ConnOpenStrategy:     clickhouse.ConnOpenInOrder,
		BlockBufferSize:      uint8(cfg.BlockBufferSize),
		MaxCompressionBuffer: cfg.MaxCompressionBuffer,
		ClientInfo: clickhouse.ClientInfo{
			Products: []struct {
				Name    string
				Version string
			}{
				{Name: cfg.ClientName, Version: cfg.ClientVersion},
			},
		},
		TLS: &tls.Config{
			//nolint:gosec // InsecureSkipVerify is configurable via environment variable for development/testing
			InsecureSkipVerify: cfg.InsecureSkipVerify,
		},
	}

	if cfg.Debug {
		opts.Debugf = func(format string, v ...any) {
			sugar.Debugf(format, v...)
		}
	}

	conn, err := clickhouse.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to open ClickHouse connection: %w", err)
	}

	c := NewWithConn(conn, sugar)

	pingCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()
	if err := c.Ping(pingCtx); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return c, nil
}

// NewWithConn wraps an already opened connection.
func NewWithConn(conn driver.Conn, sugar *zap.SugaredLogger) Client {
	if sugar == nil {
		sugar = zap.NewNop().Sugar()
	}
	return &client{conn: conn, logger: sugar}
}

func (c *client) Conn() driver.Conn {
	return c.conn
}

func (c *client) Ping(ctx context.Context) error {
	err := c.conn.Ping(ctx)
	if err == nil {
		return nil
	}
	var exception *clickhouse.Exception
	if errors.As(err, &exception) {
		c.logger.Errorw("failed to ping ClickHouse",
			"code", exception.Code,
			"message", exception.Message,
		)
	} else {
		c.logger.Errorw("failed to ping ClickHouse", "error", err)
	}
	return err
}

func (c *client) Close() error {
	return c.conn.Close()
}
