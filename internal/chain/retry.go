package chain

import (
	"context"
	"time"

	"github.com/pixelmint/orchestrator/internal/config"
)

// Retry is a bounded-retry policy for idempotent reads. Writes never go
// through it: a failed write may still have been accepted by the node.
type Retry struct {
	MaxAttempts int
	Backoff     time.Duration
}

func RetryFromConfig(cfg config.RetryConfig) Retry {
	r := Retry{
		MaxAttempts: cfg.MaxAttempts,
		Backoff:     time.Duration(cfg.BackoffMs) * time.Millisecond,
	}
	if r.MaxAttempts < 1 {
		r.MaxAttempts = 1
	}
	return r
}

// Do runs op up to MaxAttempts times with linear backoff between attempts.
func (r Retry) Do(ctx context.Context, op func() error) error {
	var err error
	for attempt := 1; ; attempt++ {
		if err = op(); err == nil {
			return nil
		}
		if attempt >= r.MaxAttempts {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(time.Duration(attempt) * r.Backoff):
		}
	}
}
