// Package fanout runs retried operations on a fixed set of workers.
package fanout

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"apikit/pkg/classify"
	errs "apikit/pkg/errors"
	"apikit/pkg/logger"
	"apikit/pkg/outcome"
	"apikit/pkg/ratelimit"
	"apikit/pkg/retry"
)

// ErrPoolStopped is returned by Submit once the pool is shutting down
var ErrPoolStopped = errors.New("worker pool is shutting down")

// Job is one unit of work. Op should already carry its retry policy.
type Job[T any] struct {
	ID string
	Op retry.Operation[T]
}

// Result reports how a job ended
type Result[T any] struct {
	Job     Job[T]
	Outcome outcome.Outcome[T, *errs.Error]
	// Seq is the order the job was submitted in, starting at 0
	Seq      int
	Worker   int
	Duration time.Duration
}

type queued[T any] struct {
	job Job[T]
	seq int
}

// Pool runs submitted jobs on numWorkers goroutines
type Pool[T any] struct {
	numWorkers int
	jobs       chan queued[T]
	results    chan Result[T]
	wg         sync.WaitGroup
	ctx        context.Context
	cancel     context.CancelFunc
	limiter    ratelimit.Limiter
	logger     logger.Logger
	seq        atomic.Int64
	stopOnce   sync.Once
}

// NewPool creates a pool bound to ctx. A nil limiter does not throttle.
func NewPool[T any](ctx context.Context, numWorkers int, limiter ratelimit.Limiter, log logger.Logger) *Pool[T] {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if limiter == nil {
		limiter = ratelimit.Unlimited{}
	}
	ctx, cancel := context.WithCancel(ctx)

	return &Pool[T]{
		numWorkers: numWorkers,
		jobs:       make(chan queued[T], numWorkers*2),
		results:    make(chan Result[T], numWorkers),
		ctx:        ctx,
		cancel:     cancel,
		limiter:    limiter,
		logger:     logger.OrNop(log),
	}
}

// Start launches the workers
func (p *Pool[T]) Start() {
	p.logger.DebugWithFields("Starting worker pool", map[string]interface{}{
		"num_workers": p.numWorkers,
	})
	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
}

// Stop stops accepting jobs, waits for queued ones and closes Results
func (p *Pool[T]) Stop() {
	p.stopOnce.Do(func() {
		close(p.jobs)
		p.wg.Wait()
		close(p.results)
		p.cancel()
		p.logger.Debug("Worker pool stopped")
	})
}

// Cancel abandons queued jobs; running operations see a cancelled context
func (p *Pool[T]) Cancel() {
	p.cancel()
}

// Submit queues a job, blocking while the queue is full
func (p *Pool[T]) Submit(job Job[T]) error {
	if err := p.ctx.Err(); err != nil {
		return ErrPoolStopped
	}
	q := queued[T]{job: job, seq: int(p.seq.Add(1) - 1)}
	select {
	case p.jobs <- q:
		return nil
	case <-p.ctx.Done():
		return ErrPoolStopped
	}
}

// Results delivers one Result per completed job
func (p *Pool[T]) Results() <-chan Result[T] {
	return p.results
}

// QueueSize returns the number of jobs waiting for a worker
func (p *Pool[T]) QueueSize() int {
	return len(p.jobs)
}

// Workers returns the number of workers
func (p *Pool[T]) Workers() int {
	return p.numWorkers
}

func (p *Pool[T]) worker(id int) {
	defer p.wg.Done()

	for q := range p.jobs {
		if p.ctx.Err() != nil {
			p.logger.DebugWithFields("Worker stopping - context cancelled", map[string]interface{}{
				"worker_id": id,
			})
			return
		}

		result := p.run(q, id)

		select {
		case p.results <- result:
		case <-p.ctx.Done():
			return
		}
	}
}

func (p *Pool[T]) run(q queued[T], workerID int) Result[T] {
	start := time.Now()
	result := Result[T]{Job: q.job, Seq: q.seq, Worker: workerID}

	if err := p.limiter.Wait(p.ctx); err != nil {
		result.Outcome = outcome.Failure[T](classify.Classify(err))
		result.Duration = time.Since(start)
		return result
	}

	result.Outcome = q.job.Op(p.ctx)
	result.Duration = time.Since(start)

	if failure, failed := result.Outcome.Error(); failed {
		p.logger.WarnWithFields("Job failed", map[string]interface{}{
			"worker_id": workerID,
			"job":       q.job.ID,
			"kind":      string(failure.Kind),
			"error":     failure.Error(),
			"duration":  result.Duration,
		})
	}
	return result
}

// Run executes jobs on a temporary pool and returns their results in
// submission order. Jobs not run because ctx ended are reported as failures.
func Run[T any](ctx context.Context, numWorkers int, limiter ratelimit.Limiter, log logger.Logger, jobs []Job[T]) []Result[T] {
	pool := NewPool[T](ctx, numWorkers, limiter, log)
	pool.Start()

	ordered := make([]Result[T], len(jobs))
	seen := make([]bool, len(jobs))
	done := make(chan struct{})
	go func() {
		defer close(done)
		for r := range pool.Results() {
			ordered[r.Seq] = r
			seen[r.Seq] = true
		}
	}()

	for _, job := range jobs {
		if err := pool.Submit(job); err != nil {
			break
		}
	}
	pool.Stop()
	<-done

	for i := range ordered {
		if !seen[i] {
			ordered[i] = Result[T]{
				Job:     jobs[i],
				Seq:     i,
				Outcome: outcome.Failure[T](errs.Interrupted(ctx.Err())),
			}
		}
	}
	return ordered
}
