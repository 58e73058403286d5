package workers

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
	"golang.org/x/sync/singleflight"

	"webp-gateway/internal/metrics"
)

// Pool bounds concurrent jobs and collapses concurrent jobs with the same key.
type Pool struct {
	size     int64
	timeout  time.Duration
	sem      *semaphore.Weighted
	group    singleflight.Group
	inFlight atomic.Int64
}

// NewPool creates a pool running at most size jobs at once. A zero timeout
// lets jobs run until they finish.
func NewPool(size int, timeout time.Duration) *Pool {
	if size < 1 {
		size = 1
	}
	return &Pool{
		size:    int64(size),
		timeout: timeout,
		sem:     semaphore.NewWeighted(int64(size)),
	}
}

// Size returns the maximum number of concurrent jobs.
func (p *Pool) Size() int {
	return int(p.size)
}

// Timeout returns the per-job timeout.
func (p *Pool) Timeout() time.Duration {
	return p.timeout
}

// InFlight returns the number of jobs currently holding a worker slot.
func (p *Pool) InFlight() int {
	return int(p.inFlight.Load())
}

// Do runs fn for key unless a job for key is already running, in which case it
// waits for that job. shared reports whether the result was delivered to more
// than one caller.
func (p *Pool) Do(ctx context.Context, key string, fn func(ctx context.Context) error) (shared bool, err error) {
	ch := p.group.DoChan(key, func() (interface{}, error) {
		return nil, p.run(context.WithoutCancel(ctx), fn)
	})

	select {
	case res := <-ch:
		return res.Shared, res.Err
	case <-ctx.Done():
		return false, ctx.Err()
	}
}

// run waits for a worker slot, then runs fn under the pool timeout. Time spent
// queued does not count against the timeout.
func (p *Pool) run(ctx context.Context, fn func(ctx context.Context) error) error {
	waitStart := time.Now()
	if err := p.sem.Acquire(ctx, 1); err != nil {
		return err
	}
	defer p.sem.Release(1)
	metrics.ConversionQueueWait.Observe(time.Since(waitStart).Seconds())

	if p.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, p.timeout)
		defer cancel()
	}

	p.inFlight.Add(1)
	metrics.ConversionsInFlight.Inc()
	defer func() {
		p.inFlight.Add(-1)
		metrics.ConversionsInFlight.Dec()
	}()

	return fn(ctx)
}
