package calendar

import (
	"context"
	"time"
)

// retryPolicy bounds how often a transient API failure is retried.
type retryPolicy struct {
	attempts int
	baseWait time.Duration
}

var defaultRetryPolicy = retryPolicy{attempts: 4, baseWait: 500 * time.Millisecond}

// withRetry runs fn, retrying transient failures with exponential
// backoff until the attempt budget or the context runs out. Other
// failures (including ErrNotFound) are returned immediately, after
// classification.
func (c *Client) withRetry(ctx context.Context, fn func() error) error {
	wait := c.retry.baseWait
	var err error
	for attempt := 1; ; attempt++ {
		err = classify(fn())
		if err == nil {
			return nil
		}
		if !IsTransient(err) || attempt >= c.retry.attempts {
			return err
		}

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
}
