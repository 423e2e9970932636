package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/blockpipe/gateway/pkg/client"
)

// query runs one GetLogs request against a gateway, printing each log as a
// JSON line on stdout and each request error on stderr.
func query(c *cli.Context) error {
	cfg, err := buildQueryConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.Timeout)
	defer cancel()

	gw, err := client.Dial(ctx, cfg.Addr)
	if err != nil {
		return err
	}

	res, err := gw.GetLogs(ctx, cfg.Query)
	if err != nil {
		_ = gw.Close()
		return err
	}
	if err := gw.Bye(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	return printResult(c.App.Writer, c.App.ErrWriter, res)
}

func printResult(stdout, stderr io.Writer, res *client.Result) error {
	enc := json.NewEncoder(stdout)
	for _, l := range res.Logs {
		if err := enc.Encode(l); err != nil {
			return fmt.Errorf("failed to write log: %w", err)
		}
	}
	for _, msg := range res.Errors {
		fmt.Fprintf(stderr, "error: %s\n", msg)
	}
	fmt.Fprintf(stderr, "%d logs, %d errors\n", res.Count, len(res.Errors))
	return nil
}

func ping(c *cli.Context) error {
	cfg, err := buildQueryConfig(c)
	if err != nil {
		return fmt.Errorf("failed to build config: %w", err)
	}

	ctx, cancel := context.WithTimeout(c.Context, cfg.Timeout)
	defer cancel()

	gw, err := client.Dial(ctx, cfg.Addr)
	if err != nil {
		return err
	}

	start := time.Now()
	if err := gw.Ping(ctx); err != nil {
		_ = gw.Close()
		return err
	}
	elapsed := time.Since(start)
	if err := gw.Bye(); err != nil {
		return fmt.Errorf("failed to close connection: %w", err)
	}

	fmt.Fprintf(c.App.Writer, "Pong from %s in %s\n", cfg.Addr, elapsed.Round(time.Microsecond))
	return nil
}
