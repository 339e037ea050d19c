package retry

import (
	"context"
	"math"
	"math/rand/v2"
	"time"
)

// ExponentialBackoff computes delays of InitialDelay * 2^attempt capped at MaxDelay,
// plus up to JitterFactor of the capped value in random jitter.
type ExponentialBackoff struct {
	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration
	// MaxDelay caps the exponential part of the delay
	MaxDelay time.Duration
	// JitterFactor adds randomness to avoid thundering herd (0.0 to 1.0)
	JitterFactor float64
	// Rand returns a value in [0, 1); nil uses math/rand/v2
	Rand func() float64
}

// NewBackoff creates a backoff from a policy
func NewBackoff(p Policy) *ExponentialBackoff {
	return &ExponentialBackoff{
		InitialDelay: p.InitialDelay,
		MaxDelay:     p.MaxDelay,
		JitterFactor: p.JitterFactor,
	}
}

// Capped returns the jitter-free delay for a zero-based attempt index
func (eb *ExponentialBackoff) Capped(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	if eb.InitialDelay <= 0 {
		return 0
	}

	delay := float64(eb.InitialDelay) * math.Pow(2, float64(attempt))
	if eb.MaxDelay > 0 && delay > float64(eb.MaxDelay) {
		return eb.MaxDelay
	}
	// guard the float->int conversion when no cap is set
	if delay >= math.MaxInt64 {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(delay)
}

// Next returns Capped(attempt) plus uniform jitter in [0, JitterFactor*Capped(attempt)]
func (eb *ExponentialBackoff) Next(attempt int) time.Duration {
	capped := eb.Capped(attempt)
	jitter := eb.JitterFactor
	if jitter <= 0 {
		return capped
	}
	if jitter > 1 {
		jitter = 1
	}

	random := eb.Rand
	if random == nil {
		random = rand.Float64
	}
	return capped + time.Duration(float64(capped)*jitter*random())
}

// Wait waits for the specified duration or until context is cancelled
func Wait(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
