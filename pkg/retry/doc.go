// Package retry runs operations that return classified outcomes with
// exponential backoff.
//
// Only retryable kinds (quota, rate_limit, server, network) are retried.
// Auth, not_found, validation and unknown failures are returned at once.
// Quota and rate-limit failures that carry a server wait hint are retried
// after exactly that wait; everything else uses the backoff.
//
// Basic usage:
//
//	result := retry.Do(ctx, func(ctx context.Context) outcome.Outcome[*Widget, *errs.Error] {
//		return classify.Capture(ctx, client.GetWidget)
//	}, nil)
//
//	// Custom policy with an observer
//	cfg := retry.DefaultConfig().
//		WithPolicy(retry.Policy{MaxAttempts: 6, InitialDelay: 500 * time.Millisecond, MaxDelay: 10 * time.Second, JitterFactor: 0.1}).
//		WithOnRetry(collector.ObserveRetry)
//	result := retry.Do(ctx, op, cfg)
//
// MaxAttempts counts invocations, so a policy of 4 calls the operation at
// most four times and waits at most three times.
package retry
