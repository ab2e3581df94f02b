package qa

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"
)

// Job is one Phase 2 unit of work: generate candidate questions for a
// single passage.
type Job struct {
	Index   int
	Passage Passage
}

// BatchResult is one job's outcome, keyed by the originating job's
// index so the caller can restore passage order after concurrent
// completion.
type BatchResult struct {
	Index     int
	Questions []Question
	Err       error
}

// PoolHealth is a point-in-time snapshot of the Phase 2 worker pool:
// active count, queue depth, last activity.
type PoolHealth struct {
	Parallelism   int
	ActiveWorkers int
	QueueDepth    int
	LastActivity  time.Time
}

// WorkerPool runs a bounded pipeline of exactly Parallelism workers: all
// workers read jobs off one shared channel and the caller collects
// results indexed back to the submitting job, so ordering is restored
// at assembly time even though completion order is not guaranteed.
type WorkerPool struct {
	parallelism int

	mu            sync.RWMutex
	lastActivity  time.Time
	queueDepth    int32
	activeWorkers int32
}

// NewWorkerPool constructs a pool bounded to parallelism concurrent
// workers (minimum 1).
func NewWorkerPool(parallelism int) *WorkerPool {
	if parallelism <= 0 {
		parallelism = 1
	}
	return &WorkerPool{parallelism: parallelism}
}

// Run submits jobs to the bounded pipeline and blocks until every job
// has been handled or the context is cancelled. Results are returned in
// job-index order.
func (p *WorkerPool) Run(ctx context.Context, jobs []Job, handler func(context.Context, Job) BatchResult) ([]BatchResult, error) {
	results := make([]BatchResult, len(jobs))

	input := make(chan Job, len(jobs))
	for _, j := range jobs {
		input <- j
	}
	close(input)
	atomic.StoreInt32(&p.queueDepth, int32(len(jobs)))

	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(p.parallelism)

	for i := 0; i < p.parallelism; i++ {
		g.Go(func() error {
			for job := range input {
				select {
				case <-gCtx.Done():
					return gCtx.Err()
				default:
				}
				atomic.AddInt32(&p.activeWorkers, 1)
				atomic.AddInt32(&p.queueDepth, -1)
				p.touch()
				res := handler(gCtx, job)
				atomic.AddInt32(&p.activeWorkers, -1)
				results[job.Index] = res
			}
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

func (p *WorkerPool) touch() {
	p.mu.Lock()
	p.lastActivity = time.Now()
	p.mu.Unlock()
}

// Health reports the pool's current state. Safe to call concurrently
// with Run.
func (p *WorkerPool) Health() PoolHealth {
	p.mu.RLock()
	last := p.lastActivity
	p.mu.RUnlock()
	return PoolHealth{
		Parallelism:   p.parallelism,
		ActiveWorkers: int(atomic.LoadInt32(&p.activeWorkers)),
		QueueDepth:    int(atomic.LoadInt32(&p.queueDepth)),
		LastActivity:  last,
	}
}
