package retry_test

import (
	"context"
	"fmt"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/outcome"
	"apikit/pkg/retry"
)

func ExampleDo() {
	calls := 0
	op := func(ctx context.Context) outcome.Outcome[string, *errs.Error] {
		calls++
		if calls < 3 {
			return outcome.Failure[string](errs.Server("bad gateway", 502, ""))
		}
		return outcome.Success[string, *errs.Error]("ok")
	}

	cfg := &retry.Config{
		Policy: retry.Policy{MaxAttempts: 4, InitialDelay: 100 * time.Millisecond, MaxDelay: time.Second},
		OnRetry: func(ev retry.Event) {
			fmt.Printf("attempt %d failed (%s), waiting %s\n", ev.Attempt+1, ev.Kind, ev.Delay)
		},
		Sleep: func(ctx context.Context, d time.Duration) error { return nil },
	}

	value, ok := retry.Do(context.Background(), op, cfg).Value()
	fmt.Println(value, ok)
	// Output:
	// attempt 1 failed (server), waiting 100ms
	// attempt 2 failed (server), waiting 200ms
	// ok true
}

func ExampleDo_notRetryable() {
	op := func(ctx context.Context) outcome.Outcome[int, *errs.Error] {
		return outcome.Failure[int](errs.NotFound("no such widget", "w-9"))
	}

	failure, _ := retry.Do(context.Background(), op, &retry.Config{Policy: retry.StandardPolicy()}).Error()
	fmt.Println(failure.Kind, failure.ResourceID)
	// Output: not_found w-9
}
