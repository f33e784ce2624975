package pagination

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

type fetchFunc func(ctx context.Context, page int) (Page, error)

type pageResult struct {
	page Page
	err  error
}

type pageJob struct {
	ctx    context.Context
	page   int
	result chan<- pageResult
}

// workerPool runs page fetches on a fixed set of goroutines.
type workerPool struct {
	jobs    chan pageJob
	fetch   fetchFunc
	timeout time.Duration
	logger  zerolog.Logger

	mu     sync.RWMutex // guards closed and sends on jobs
	closed bool
	wg     sync.WaitGroup
}

func newWorkerPool(workers int, timeout time.Duration, fetch fetchFunc, logger zerolog.Logger) *workerPool {
	p := &workerPool{
		jobs:    make(chan pageJob, workers),
		fetch:   fetch,
		timeout: timeout,
		logger:  logger,
	}
	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	return p
}

// submit queues a fetch of page. The returned channel receives exactly one
// result.
func (p *workerPool) submit(ctx context.Context, page int) (<-chan pageResult, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return nil, ErrClosed
	}

	result := make(chan pageResult, 1)
	select {
	case p.jobs <- pageJob{ctx: ctx, page: page, result: result}:
		return result, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// close stops accepting jobs and waits for the workers to drain the queue.
func (p *workerPool) close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	p.wg.Wait()
}

func (p *workerPool) worker(workerID int) {
	defer p.wg.Done()
	pagesProcessed := 0

	for job := range p.jobs {
		if err := job.ctx.Err(); err != nil {
			job.result <- pageResult{err: err}
			continue
		}

		ctx, cancel := job.ctx, context.CancelFunc(func() {})
		if p.timeout > 0 {
			ctx, cancel = context.WithTimeout(job.ctx, p.timeout)
		}
		page, err := p.fetch(ctx, job.page)
		cancel()

		if err != nil {
			p.logger.Warn().
				Err(err).
				Int("worker_id", workerID).
				Int("page", job.page).
				Msg("Page fetch failed")
		} else {
			pagesProcessed++
		}
		job.result <- pageResult{page: page, err: err}
	}

	if pagesProcessed > 0 {
		p.logger.Debug().
			Int("worker_id", workerID).
			Int("pages_processed", pagesProcessed).
			Msg("Worker stopped")
	}
}
