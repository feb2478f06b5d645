package backend

import (
	"context"
	"time"

	"github.com/mattjoyce/chatrelay/internal/log"
)

// retrying re-sends on Transport errors with exponential backoff.
type retrying struct {
	next     Dispatcher
	attempts int
	backoff  time.Duration
}

// WithRetry wraps d so that Transport failures are retried up to attempts
// times in total. UnexpectedShape is returned immediately. attempts <= 1
// returns d unchanged.
func WithRetry(d Dispatcher, attempts int, backoff time.Duration) Dispatcher {
	if attempts <= 1 {
		return d
	}
	return &retrying{next: d, attempts: attempts, backoff: backoff}
}

func (r *retrying) Name() string { return r.next.Name() }

func (r *retrying) Send(ctx context.Context, req Request) (Result, error) {
	logger := log.WithComponent("backend")
	wait := r.backoff
	var err error
	for attempt := 1; attempt <= r.attempts; attempt++ {
		var res Result
		res, err = r.next.Send(ctx, req)
		if err == nil || !IsTransport(err) || attempt == r.attempts {
			return res, err
		}
		logger.Warn("backend call failed, retrying",
			"backend", r.next.Name(),
			"attempt", attempt,
			"max_attempts", r.attempts,
			"backoff", wait.String(),
			"error", err,
		)
		if err := sleep(ctx, wait); err != nil {
			return Result{}, transportErr(r.next.Name(), 0, err)
		}
		wait *= 2
	}
	return Result{}, err
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
