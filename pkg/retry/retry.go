package retry

import (
	"context"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"
)

// Operation is one attempt at a call that reports failures as classified errors
type Operation[T any] func(ctx context.Context) outcome.Outcome[T, *errs.Error]

// Event describes a scheduled retry
type Event struct {
	// Attempt is the zero-based index of the attempt that failed
	Attempt int
	Kind    errs.Kind
	Delay   time.Duration
	Err     *errs.Error
}

// SleepFunc waits for d or until ctx is done
type SleepFunc func(ctx context.Context, d time.Duration) error

// Config holds retry configuration
type Config struct {
	// Policy bounds attempts and delays
	Policy Policy
	// OnRetry is called before each wait
	OnRetry func(Event)
	// Logger for retry attempts
	Logger logger.Logger
	// Sleep defaults to Wait
	Sleep SleepFunc
	// Rand returns a value in [0, 1) for jitter; nil uses math/rand/v2
	Rand func() float64
}

// DefaultConfig returns a retry configuration using the process-wide default policy
func DefaultConfig() *Config {
	return &Config{
		Policy: DefaultPolicy(),
		Logger: logger.GetLogger(),
	}
}

// WithPolicy returns a copy with a different policy
func (c *Config) WithPolicy(p Policy) *Config {
	next := *c
	next.Policy = p
	return &next
}

// WithMaxAttempts returns a copy with a different attempt bound
func (c *Config) WithMaxAttempts(maxAttempts int) *Config {
	next := *c
	next.Policy.MaxAttempts = maxAttempts
	return &next
}

// WithOnRetry returns a copy with a different retry observer
func (c *Config) WithOnRetry(fn func(Event)) *Config {
	next := *c
	next.OnRetry = fn
	return &next
}

// WithLogger returns a copy with a different logger
func (c *Config) WithLogger(l logger.Logger) *Config {
	next := *c
	next.Logger = l
	return &next
}

// Do executes op until it succeeds, fails with a non-retryable kind, or
// runs out of attempts. The returned failure is always the last classified
// error; cancelling ctx during a backoff wait returns it as well.
func Do[T any](ctx context.Context, op Operation[T], cfg *Config) outcome.Outcome[T, *errs.Error] {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	policy := cfg.Policy
	if policy.MaxAttempts < 1 {
		policy.MaxAttempts = 1
	}

	backoff := NewBackoff(policy)
	backoff.Rand = cfg.Rand

	sleep := cfg.Sleep
	if sleep == nil {
		sleep = Wait
	}

	log := cfg.Logger
	if log == nil {
		log = logger.NewNopLogger()
	}

	for attempt := 0; ; attempt++ {
		result := op(ctx)

		failure, failed := result.Error()
		if !failed {
			if attempt > 0 {
				log.DebugWithFields("operation succeeded after retry", map[string]interface{}{
					"attempt": attempt,
				})
			}
			return result
		}
		if failure == nil {
			failure = errs.Unknown("operation failed without an error", nil)
			result = outcome.Failure[T](failure)
		}

		if !errs.IsRetryable(failure.Kind) {
			log.DebugWithFields("error is not retryable", map[string]interface{}{
				"kind":  string(failure.Kind),
				"error": failure.Error(),
			})
			return result
		}

		if attempt >= policy.MaxAttempts-1 {
			log.WarnWithFields("retry attempts exhausted", map[string]interface{}{
				"attempts": attempt + 1,
				"kind":     string(failure.Kind),
				"error":    failure.Error(),
			})
			return result
		}

		delay := delayFor(failure, attempt, backoff)

		if cfg.OnRetry != nil {
			cfg.OnRetry(Event{
				Attempt: attempt,
				Kind:    failure.Kind,
				Delay:   delay,
				Err:     failure,
			})
		}

		log.WarnWithFields("retrying operation", map[string]interface{}{
			"attempt":      attempt + 1,
			"max_attempts": policy.MaxAttempts,
			"kind":         string(failure.Kind),
			"delay_ms":     delay.Milliseconds(),
			"error":        failure.Error(),
		})

		if err := sleep(ctx, delay); err != nil {
			log.WarnWithFields("retry cancelled", map[string]interface{}{
				"attempt": attempt + 1,
				"reason":  err.Error(),
			})
			return result
		}
	}
}

// delayFor uses the server hint verbatim when there is one, otherwise the backoff
func delayFor(failure *errs.Error, attempt int, backoff *ExponentialBackoff) time.Duration {
	if hint, ok := failure.RetryAfterHint(); ok {
		return hint
	}
	return backoff.Next(attempt)
}

// Retrier provides a reusable retry mechanism
type Retrier struct {
	config *Config
}

// NewRetrier creates a new retrier with the given configuration
func NewRetrier(cfg *Config) *Retrier {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	return &Retrier{config: cfg}
}

// Config returns a copy of the retrier's configuration
func (r *Retrier) Config() *Config {
	c := *r.config
	return &c
}

// WithMaxAttempts returns a new retrier with updated max attempts
func (r *Retrier) WithMaxAttempts(maxAttempts int) *Retrier {
	return &Retrier{config: r.config.WithMaxAttempts(maxAttempts)}
}

// WithOnRetry returns a new retrier with a different retry observer
func (r *Retrier) WithOnRetry(fn func(Event)) *Retrier {
	return &Retrier{config: r.config.WithOnRetry(fn)}
}

// Run executes op with the retrier's configuration
func Run[T any](ctx context.Context, r *Retrier, op Operation[T]) outcome.Outcome[T, *errs.Error] {
	return Do(ctx, op, r.config)
}

// Wrap returns an Operation that retries op on every call
func Wrap[T any](op Operation[T], cfg *Config) Operation[T] {
	return func(ctx context.Context) outcome.Outcome[T, *errs.Error] {
		return Do(ctx, op, cfg)
	}
}
