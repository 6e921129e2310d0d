package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/BaSui01/flowkit/types"
)

// Policy configures bounded retries with exponential backoff.
type Policy struct {
	// MaxAttempts is the total number of attempts including the first.
	MaxAttempts int `yaml:"max_attempts" json:"max_attempts"`
	// BackoffBase is the delay before the second attempt.
	BackoffBase time.Duration `yaml:"backoff_base" json:"backoff_base"`
	// BackoffMax caps the exponential delay (jitter excluded).
	BackoffMax time.Duration `yaml:"backoff_max" json:"backoff_max"`
	// MaxJitter bounds the uniform jitter added to every delay.
	MaxJitter time.Duration `yaml:"max_jitter" json:"max_jitter"`
	// Retryable classifies errors; nil means DefaultRetryable.
	Retryable func(error) bool `yaml:"-" json:"-"`
}

// DefaultPolicy returns the policy the executor uses when a node declares
// retries without tuning them.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		BackoffBase: 500 * time.Millisecond,
		BackoffMax:  30 * time.Second,
		MaxJitter:   250 * time.Millisecond,
	}
}

// DefaultRetryable retries only rate-limit-shaped errors.
func DefaultRetryable(err error) bool {
	return types.IsRetryable(err)
}

// Delay computes the backoff before the given attempt (attempt 1 is the
// first retry).
func (p Policy) Delay(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	base := p.BackoffBase
	if base <= 0 {
		base = 500 * time.Millisecond
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if p.BackoffMax > 0 && delay >= p.BackoffMax {
			delay = p.BackoffMax
			break
		}
	}
	if p.BackoffMax > 0 && delay > p.BackoffMax {
		delay = p.BackoffMax
	}
	if p.MaxJitter > 0 {
		delay += time.Duration(rand.Int63n(int64(p.MaxJitter)))
	}
	return delay
}

// Do runs op under the policy, sleeping the computed delay between
// attempts. Non-retryable errors and exhaustion both re-raise the last
// error. Context cancellation during a backoff wait aborts immediately.
func (p Policy) Do(ctx context.Context, op func(ctx context.Context) error) error {
	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}
	retryable := p.Retryable
	if retryable == nil {
		retryable = DefaultRetryable
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		lastErr = op(ctx)
		if lastErr == nil {
			return nil
		}
		if attempt == attempts || !retryable(lastErr) {
			return lastErr
		}
		timer := time.NewTimer(p.Delay(attempt))
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		}
	}
	return lastErr
}
