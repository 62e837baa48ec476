package exchange

import (
	"context"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"
)

// RetryPolicy is the bounded, jittered exponential backoff applied to
// transient exchange failures. Rejections and auth failures fail fast.
type RetryPolicy struct {
	Attempts     int
	InitialDelay time.Duration
	MaxDelay     time.Duration
	Logger       *zap.SugaredLogger
}

// Do runs fn up to Attempts times. It returns immediately on success, on a
// non-retryable error, or when ctx is cancelled.
func (p RetryPolicy) Do(ctx context.Context, op string, fn func() error) error {
	b := &backoff.Backoff{
		Min:    p.InitialDelay,
		Max:    p.MaxDelay,
		Factor: 2,
		Jitter: true,
	}

	var err error
	for attempt := 1; attempt <= p.Attempts; attempt++ {
		err = fn()
		if err == nil {
			return nil
		}
		if !IsTransient(err) {
			return err
		}
		if attempt == p.Attempts {
			break
		}

		delay := b.Duration()
		if p.Logger != nil {
			p.Logger.Warnf("%s failed (attempt %d/%d), retrying in %s: %v", op, attempt, p.Attempts, delay, err)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(delay):
		}
	}
	return err
}
