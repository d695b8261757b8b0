package suite

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
)

// PoolMetrics tracks what a test pool did during one suite run.
type PoolMetrics struct {
	Active   int64 `json:"active"`
	Finished int64 `json:"finished"`
	Failed   int64 `json:"failed"` // tests that ran but did not pass
	Panics   int64 `json:"panics"`
}

// ErrPoolClosed is returned when a test is submitted to a closed pool.
var ErrPoolClosed = errors.New("test pool is closed")

// WorkerPool runs tests concurrently with a fixed bound. Submission
// blocks while the pool is at capacity, so chunk scheduling naturally
// backpressures instead of queueing unbounded work.
type WorkerPool struct {
	slots  chan struct{}
	wg     sync.WaitGroup
	stats  PoolMetrics
	mu     sync.Mutex
	done   chan struct{}
	closed bool
}

// NewWorkerPool creates a pool running at most size tests at once.
func NewWorkerPool(size int) *WorkerPool {
	if size <= 0 {
		size = 1
	}
	return &WorkerPool{
		slots: make(chan struct{}, size),
		done:  make(chan struct{}),
	}
}

// Submit schedules one test run. It blocks until a slot frees up, the
// context ends, or the pool closes. The run function reports the final
// test status so the pool can keep counts.
func (p *WorkerPool) Submit(ctx context.Context, run func(ctx context.Context) TestStatus) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrPoolClosed
	}
	p.mu.Unlock()

	select {
	case p.slots <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	case <-p.done:
		return ErrPoolClosed
	}

	// Re-check after acquiring the slot in case Close raced the acquire.
	// wg.Add must happen under the lock so Close's wg.Wait cannot miss it.
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.slots
		return ErrPoolClosed
	}
	p.wg.Add(1)
	atomic.AddInt64(&p.stats.Active, 1)
	p.mu.Unlock()

	go func() {
		status := TestErrored
		defer func() {
			if r := recover(); r != nil {
				atomic.AddInt64(&p.stats.Panics, 1)
			}
			atomic.AddInt64(&p.stats.Finished, 1)
			if status != TestPassed {
				atomic.AddInt64(&p.stats.Failed, 1)
			}
			atomic.AddInt64(&p.stats.Active, -1)
			<-p.slots
			p.wg.Done()
		}()
		status = run(ctx)
	}()
	return nil
}

// Wait blocks until every submitted test has finished.
func (p *WorkerPool) Wait() {
	p.wg.Wait()
}

// Close stops accepting tests and waits for running ones to finish.
// Closing twice is a no-op.
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.done)
	p.mu.Unlock()

	p.wg.Wait()
}

// Metrics returns a snapshot of the pool counters.
func (p *WorkerPool) Metrics() PoolMetrics {
	return PoolMetrics{
		Active:   atomic.LoadInt64(&p.stats.Active),
		Finished: atomic.LoadInt64(&p.stats.Finished),
		Failed:   atomic.LoadInt64(&p.stats.Failed),
		Panics:   atomic.LoadInt64(&p.stats.Panics),
	}
}
