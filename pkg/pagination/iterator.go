package pagination

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"sync/atomic"
	"time"

	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"
)

// Worker pool sizes.
const (
	// DefaultWorkers bounds in-flight batch requests for most collections.
	DefaultWorkers = 5

	// StargazersWorkers is the default for KindStargazers, whose pages are
	// small and numerous.
	StargazersWorkers = 10
)

// Option configures an Iterator.
type Option func(*options)

type options struct {
	workers      int
	budget       ratelimit.Recorder
	logger       *zerolog.Logger
	fetchTimeout time.Duration
}

// WithWorkers sets the worker pool size.
func WithWorkers(n int) Option {
	return func(o *options) { o.workers = n }
}

// WithBudget sets where budget observations go. Without it they are dropped.
func WithBudget(budget ratelimit.Recorder) Option {
	return func(o *options) { o.budget = budget }
}

// WithLogger replaces the default component logger.
func WithLogger(logger zerolog.Logger) Option {
	return func(o *options) { o.logger = &logger }
}

// WithFetchTimeout bounds each page fetch dispatched by NextBatch.
func WithFetchTimeout(d time.Duration) Option {
	return func(o *options) { o.fetchTimeout = d }
}

// Iterator hands out the pages of one collection.
//
// Page indices are consumed from TotalPages down to 1. The remaining counter
// only ever decreases and never goes below zero, also when Next and
// NextBatch are called from several goroutines. An index is consumed when it
// is handed to a fetch, so a failed fetch is not repeated by later calls.
//
// An Iterator owns a worker pool and must be closed; With does that for you.
type Iterator struct {
	endpoint  Endpoint
	fetcher   *Fetcher
	pool      *workerPool
	workers   int
	total     int
	remaining atomic.Int64
	closed    atomic.Bool
	logger    zerolog.Logger
}

// New resolves the page count of e and returns an iterator positioned at the
// last page. Resolution failures are returned as *ResolutionError and invalid
// endpoints as *ConfigurationError; in both cases no iterator is built.
func New(ctx context.Context, getter Getter, e Endpoint, opts ...Option) (*Iterator, error) {
	if getter == nil {
		return nil, &ConfigurationError{Field: "getter", Reason: "is required"}
	}

	e = e.normalized()
	if err := e.Validate(); err != nil {
		return nil, err
	}

	o := options{workers: DefaultWorkers}
	if e.Kind == KindStargazers {
		o.workers = StargazersWorkers
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.workers < 1 {
		return nil, &ConfigurationError{Field: "workers", Reason: fmt.Sprintf("must be >= 1 (got %d)", o.workers)}
	}

	logger := log.With().Str("component", "pagination").Logger()
	if o.logger != nil {
		logger = *o.logger
	}
	logger = logger.With().
		Str("project", e.Project).
		Str("collection", string(e.Kind)).
		Logger()

	total, err := NewResolver(getter, o.budget, logger).Resolve(ctx, e)
	if err != nil {
		return nil, err
	}

	it := &Iterator{
		endpoint: e,
		fetcher:  NewFetcher(getter, o.budget, logger),
		workers:  o.workers,
		total:    total,
		logger:   logger,
	}
	it.remaining.Store(int64(total))
	it.pool = newWorkerPool(o.workers, o.fetchTimeout, func(ctx context.Context, page int) (Page, error) {
		return it.fetcher.Fetch(ctx, it.endpoint, page)
	}, logger)

	logger.Info().
		Int("total_pages", total).
		Int("workers", o.workers).
		Str("filters", e.Filters.Mode().String()).
		Msg("Iterator ready")

	return it, nil
}

// With builds an iterator, passes it to fn and closes it however fn returns.
func With(ctx context.Context, getter Getter, e Endpoint, fn func(*Iterator) error, opts ...Option) (err error) {
	it, err := New(ctx, getter, e, opts...)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := it.Close(); cerr != nil && !errors.Is(cerr, ErrClosed) && err == nil {
			err = cerr
		}
	}()
	return fn(it)
}

// Endpoint returns the normalized endpoint the iterator walks.
func (it *Iterator) Endpoint() Endpoint {
	return it.endpoint
}

// TotalPages returns the page count resolved at construction.
func (it *Iterator) TotalPages() int {
	return it.total
}

// Workers returns the size of the worker pool.
func (it *Iterator) Workers() int {
	return it.workers
}

// Remaining returns how many page indices have not been handed out yet.
func (it *Iterator) Remaining() int {
	return int(it.remaining.Load())
}

// HasNext reports whether Next would fetch a page. It is false once the
// iterator is closed.
func (it *Iterator) HasNext() bool {
	return !it.closed.Load() && it.remaining.Load() > 0
}

// reserve takes up to n indices off the counter and returns the highest one
// and how many were taken. The taken indices are first, first-1, ...
func (it *Iterator) reserve(n int) (first, count int) {
	for {
		r := it.remaining.Load()
		if r <= 0 || n <= 0 {
			return 0, 0
		}
		k := int64(n)
		if k > r {
			k = r
		}
		if it.remaining.CompareAndSwap(r, r-k) {
			return int(r), int(k)
		}
	}
}

// Next fetches the next page on the calling goroutine.
func (it *Iterator) Next(ctx context.Context) (Page, error) {
	if it.closed.Load() {
		return Page{}, ErrClosed
	}

	index, count := it.reserve(1)
	if count == 0 {
		return Page{}, ErrExhausted
	}

	return it.fetcher.Fetch(ctx, it.endpoint, index)
}

// NextBatch fetches up to n pages in parallel on the worker pool. A batch
// larger than Remaining is clamped to it. The indices are reserved before
// any request starts and the pages come back in descending index order.
//
// The first failing fetch cancels the rest of the batch and is returned;
// pages already fetched by that batch are discarded.
func (it *Iterator) NextBatch(ctx context.Context, n int) ([]Page, error) {
	if it.closed.Load() {
		return nil, ErrClosed
	}
	if n <= 0 {
		return []Page{}, nil
	}

	if left := it.remaining.Load(); int64(n) > left {
		it.logger.Warn().
			Int("batch_size", n).
			Int64("remaining", left).
			Msg("Batch size is bigger than number of pages left, decreasing batch size")
	}

	first, count := it.reserve(n)
	if count == 0 {
		return []Page{}, nil
	}
	githubBatchSize.Observe(float64(count))

	start := time.Now()
	pages := make([]Page, count)
	g, gctx := errgroup.WithContext(ctx)

	for i := 0; i < count; i++ {
		slot, index := i, first-i
		g.Go(func() error {
			result, err := it.pool.submit(gctx, index)
			if err != nil {
				return err
			}
			select {
			case res := <-result:
				if res.err != nil {
					return res.err
				}
				pages[slot] = res.page
				return nil
			case <-gctx.Done():
				return gctx.Err()
			}
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	it.logger.Debug().
		Int("batch_size", count).
		Int("first_page", first).
		Int("remaining", it.Remaining()).
		Dur("duration", time.Since(start)).
		Msg("Batch completed")

	return pages, nil
}

// All yields the remaining pages one by one. Iteration stops after the first
// error, which is yielded with a zero Page.
func (it *Iterator) All(ctx context.Context) iter.Seq2[Page, error] {
	return func(yield func(Page, error) bool) {
		for it.HasNext() {
			page, err := it.Next(ctx)
			if errors.Is(err, ErrExhausted) {
				return
			}
			if !yield(page, err) || err != nil {
				return
			}
		}
	}
}

// Collect drains the iterator in batches of the pool size. On error the
// pages collected so far are returned with it.
func (it *Iterator) Collect(ctx context.Context) ([]Page, error) {
	pages := make([]Page, 0, it.Remaining())
	for it.HasNext() {
		batch, err := it.NextBatch(ctx, it.workers)
		if err != nil {
			return pages, err
		}
		pages = append(pages, batch...)
	}
	if it.closed.Load() && it.Remaining() > 0 {
		return pages, ErrClosed
	}
	return pages, nil
}

// Close stops the worker pool and waits for in-flight fetches. Later calls
// to Next, NextBatch and Close return ErrClosed.
func (it *Iterator) Close() error {
	if !it.closed.CompareAndSwap(false, true) {
		return ErrClosed
	}
	it.pool.close()

	it.logger.Debug().
		Int("total_pages", it.total).
		Int("remaining", it.Remaining()).
		Msg("Iterator closed")
	return nil
}
