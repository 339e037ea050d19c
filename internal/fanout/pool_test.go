package fanout

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"
	"apikit/pkg/ratelimit"
	"apikit/pkg/retry"
)

// countingOp succeeds with its own id after an optional delay
func countingOp(id string, delay time.Duration, calls *int32) retry.Operation[string] {
	return func(ctx context.Context) outcome.Outcome[string, *errs.Error] {
		atomic.AddInt32(calls, 1)
		if delay > 0 {
			time.Sleep(delay)
		}
		return outcome.Success[string, *errs.Error](id)
	}
}

func TestPoolBasicFunctionality(t *testing.T) {
	var calls int32
	pool := NewPool[string](context.Background(), 3, ratelimit.NewTokenBucket(100, time.Second), logger.NewNopLogger())
	pool.Start()

	go func() {
		for i := 0; i < 5; i++ {
			id := fmt.Sprintf("job-%d", i)
			if err := pool.Submit(Job[string]{ID: id, Op: countingOp(id, 10*time.Millisecond, &calls)}); err != nil {
				t.Errorf("Submit failed: %v", err)
			}
		}
		pool.Stop()
	}()

	results := 0
	for r := range pool.Results() {
		results++
		value, ok := r.Outcome.Value()
		if !ok {
			t.Errorf("Job %s failed: %v", r.Job.ID, r.Outcome)
		}
		if value != r.Job.ID {
			t.Errorf("Expected value %s, got %s", r.Job.ID, value)
		}
		if r.Worker < 0 || r.Worker >= pool.Workers() {
			t.Errorf("Unexpected worker id %d", r.Worker)
		}
	}

	if results != 5 {
		t.Errorf("Expected 5 results, got %d", results)
	}
	if atomic.LoadInt32(&calls) != 5 {
		t.Errorf("Expected 5 operation calls, got %d", calls)
	}
}

func TestPoolWithErrors(t *testing.T) {
	tl := logger.NewTestLogger()
	pool := NewPool[string](context.Background(), 2, nil, tl)
	pool.Start()

	go func() {
		for i := 0; i < 3; i++ {
			pool.Submit(Job[string]{
				ID: fmt.Sprintf("job-%d", i),
				Op: func(ctx context.Context) outcome.Outcome[string, *errs.Error] {
					return outcome.Failure[string](errs.Server("upstream down", 503, ""))
				},
			})
		}
		pool.Stop()
	}()

	failures := 0
	for r := range pool.Results() {
		failure, failed := r.Outcome.Error()
		if !failed {
			t.Errorf("Expected job %s to fail", r.Job.ID)
			continue
		}
		if failure.Kind != errs.KindServer {
			t.Errorf("Expected server failure, got %s", failure.Kind)
		}
		failures++
	}

	if failures != 3 {
		t.Errorf("Expected 3 failures, got %d", failures)
	}
	if !tl.HasMessage("Job failed") {
		t.Error("Expected failed jobs to be logged")
	}
}

func TestPoolConcurrency(t *testing.T) {
	var running, peak int32
	op := func(ctx context.Context) outcome.Outcome[string, *errs.Error] {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(50 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return outcome.Success[string, *errs.Error]("ok")
	}

	jobs := make([]Job[string], 8)
	for i := range jobs {
		jobs[i] = Job[string]{ID: fmt.Sprintf("job-%d", i), Op: op}
	}

	start := time.Now()
	results := Run(context.Background(), 4, nil, logger.NewNopLogger(), jobs)
	elapsed := time.Since(start)

	if len(results) != 8 {
		t.Fatalf("Expected 8 results, got %d", len(results))
	}
	if peak > 4 {
		t.Errorf("Expected at most 4 concurrent operations, saw %d", peak)
	}
	// 8 jobs of 50ms on 4 workers take about 100ms
	if elapsed > 300*time.Millisecond {
		t.Errorf("Jobs did not run concurrently, took %v", elapsed)
	}
}

func TestRunPreservesOrder(t *testing.T) {
	var calls int32
	jobs := make([]Job[string], 10)
	for i := range jobs {
		id := fmt.Sprintf("item-%02d", i)
		// later jobs finish first
		jobs[i] = Job[string]{ID: id, Op: countingOp(id, time.Duration(10-i)*time.Millisecond, &calls)}
	}

	results := Run(context.Background(), 5, nil, logger.NewNopLogger(), jobs)
	for i, r := range results {
		if r.Seq != i {
			t.Errorf("Result %d has seq %d", i, r.Seq)
		}
		if value, _ := r.Outcome.Value(); value != jobs[i].ID {
			t.Errorf("Result %d: expected %s, got %s", i, jobs[i].ID, value)
		}
	}
}

func TestRunCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var calls int32
	jobs := []Job[string]{
		{ID: "a", Op: countingOp("a", 0, &calls)},
		{ID: "b", Op: countingOp("b", 0, &calls)},
	}

	results := Run(ctx, 2, nil, logger.NewNopLogger(), jobs)
	if len(results) != 2 {
		t.Fatalf("Expected a result per job, got %d", len(results))
	}
	for _, r := range results {
		if r.Outcome.IsOK() {
			t.Errorf("Expected job %s to fail after cancellation", r.Job.ID)
		}
	}
	if calls != 0 {
		t.Errorf("Expected no operations to run, got %d", calls)
	}
}

func TestSubmitAfterCancel(t *testing.T) {
	pool := NewPool[string](context.Background(), 1, nil, logger.NewNopLogger())
	pool.Start()
	pool.Cancel()

	if err := pool.Submit(Job[string]{ID: "late"}); err != ErrPoolStopped {
		t.Errorf("Expected ErrPoolStopped, got %v", err)
	}
	pool.Stop()
}

func TestQueueSize(t *testing.T) {
	var calls int32
	pool := NewPool[string](context.Background(), 2, nil, logger.NewNopLogger())
	if pool.Workers() != 2 {
		t.Errorf("Expected 2 workers, got %d", pool.Workers())
	}

	// nothing drains the queue until Start
	for i := 0; i < 3; i++ {
		if err := pool.Submit(Job[string]{ID: fmt.Sprintf("job-%d", i), Op: countingOp("x", 0, &calls)}); err != nil {
			t.Fatalf("Submit failed: %v", err)
		}
	}
	if got := pool.QueueSize(); got != 3 {
		t.Errorf("Expected 3 queued jobs, got %d", got)
	}

	done := make(chan int)
	go func() {
		n := 0
		for range pool.Results() {
			n++
		}
		done <- n
	}()
	pool.Start()
	pool.Stop()

	if n := <-done; n != 3 {
		t.Errorf("Expected 3 results, got %d", n)
	}
	if got := pool.QueueSize(); got != 0 {
		t.Errorf("Expected an empty queue after Stop, got %d", got)
	}
}

func TestPoolWithRetriedOperation(t *testing.T) {
	var attempts int32
	flaky := func(ctx context.Context) outcome.Outcome[string, *errs.Error] {
		if atomic.AddInt32(&attempts, 1) < 3 {
			return outcome.Failure[string](errs.Network("connection reset", nil))
		}
		return outcome.Success[string, *errs.Error]("recovered")
	}

	cfg := &retry.Config{
		Policy: retry.Policy{MaxAttempts: 5, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond},
		Logger: logger.NewNopLogger(),
		Sleep:  func(ctx context.Context, d time.Duration) error { return nil },
	}

	results := Run(context.Background(), 1, nil, logger.NewNopLogger(), []Job[string]{
		{ID: "flaky", Op: retry.Wrap(flaky, cfg)},
	})

	if value, ok := results[0].Outcome.Value(); !ok || value != "recovered" {
		t.Errorf("Expected recovered value, got %v", results[0].Outcome)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}
