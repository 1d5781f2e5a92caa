package client

import (
	"context"
	"fmt"
	"time"
)

// RetryPolicy bounds reconnection attempts. The delay doubles after every
// failed attempt up to MaxBackoff.
type RetryPolicy struct {
	Attempts   int
	Backoff    time.Duration
	MaxBackoff time.Duration
}

// DefaultRetryPolicy makes five attempts starting at 500ms.
var DefaultRetryPolicy = RetryPolicy{
	Attempts:   5,
	Backoff:    500 * time.Millisecond,
	MaxBackoff: 10 * time.Second,
}

// DialWithRetry dials until it succeeds, the attempts are used up or ctx is
// done.
func DialWithRetry(ctx context.Context, url, origin string, policy RetryPolicy, opts ...Option) (*Client, error) { // A
	c := New(url, origin, opts...)
	if err := c.Reconnect(ctx, policy); err != nil {
		return nil, err
	}
	return c, nil
}

// Reconnect connects a disconnected client under policy. Room history is
// persisted server side, so callers rejoin and request it again afterwards.
func (c *Client) Reconnect(ctx context.Context, policy RetryPolicy) error { // A
	if policy.Attempts <= 0 {
		policy.Attempts = 1
	}
	delay := policy.Backoff

	var lastErr error
	for attempt := 1; attempt <= policy.Attempts; attempt++ {
		lastErr = c.Connect(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == policy.Attempts {
			break
		}
		c.log.Debug("connect failed, retrying",
			"attempt", attempt,
			"delay", delay,
			"error", lastErr,
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if policy.MaxBackoff > 0 && delay > policy.MaxBackoff {
			delay = policy.MaxBackoff
		}
	}
	return fmt.Errorf("client: giving up after %d attempts: %w", policy.Attempts, lastErr)
}
