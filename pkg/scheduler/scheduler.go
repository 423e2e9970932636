// Package scheduler runs the gateway's periodic background jobs.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/blockpipe/gateway/pkg/metrics"
)

const (
	DefaultHeadPollInterval = 30 * time.Second
	readTimeout             = 5 * time.Second
	maxRetries              = 3
	backoff                 = 300 * time.Millisecond
)

var (
	ErrInvalidLogger   = errors.New("invalid logger: must not be nil")
	ErrInvalidSource   = errors.New("invalid head source: must not be nil")
	ErrInvalidInterval = errors.New("invalid interval: must be greater than 0")
)

// HeadSource reports the latest block height of an upstream.
type HeadSource interface {
	BlockNumber(ctx context.Context) (uint64, error)
}

// StartHeadPoller reads the upstream head every interval and publishes it
// to m until ctx is cancelled. A poll is retried up to maxRetries times; a
// poll that still fails is logged and counted, and the poller keeps going.
func StartHeadPoller(
	ctx context.Context,
	sugar *zap.SugaredLogger,
	src HeadSource,
	m *metrics.Metrics,
	interval time.Duration,
) error {
	if sugar == nil {
		return ErrInvalidLogger
	}
	if src == nil {
		return ErrInvalidSource
	}
	if interval <= 0 {
		return ErrInvalidInterval
	}

	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
			head, err := pollHead(ctx, src)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				m.IncError(metrics.ErrTypeHeadPoll)
				sugar.Warnw("failed to read upstream head", "error", err)
				continue
			}
			m.SetUpstreamHead(head)
			sugar.Debugw("upstream head", "height", head)
		}
	}
}

func pollHead(ctx context.Context, src HeadSource) (uint64, error) {
	var err error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		ctxR, cancel := context.WithTimeout(ctx, readTimeout)
		var head uint64
		head, err = src.BlockNumber(ctxR)
		cancel()
		if err == nil {
			return head, nil
		}
		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return 0, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}
	return 0, fmt.Errorf("after %d attempts: %w", maxRetries+1, err)
}
