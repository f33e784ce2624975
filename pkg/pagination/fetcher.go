package pagination

import (
	"context"
	"encoding/json"
	"time"

	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/rs/zerolog"
)

// Prometheus metrics for page fetching.
var (
	githubPagesFetchedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_pages_fetched_total",
		Help: "Total pages fetched by collection",
	}, []string{"collection"})

	githubPageFetchFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_page_fetch_failures_total",
		Help: "Total failed page fetches by collection",
	}, []string{"collection"})

	githubBatchSize = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "github_batch_size",
		Help:    "Number of pages requested per batch after clamping",
		Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
	})
)

// Fetcher retrieves single pages.
type Fetcher struct {
	getter Getter
	budget ratelimit.Recorder
	logger zerolog.Logger
}

// NewFetcher creates a fetcher. budget may be nil.
func NewFetcher(getter Getter, budget ratelimit.Recorder, logger zerolog.Logger) *Fetcher {
	return &Fetcher{getter: getter, budget: budget, logger: logger}
}

// Fetch requests one page of e. On success the budget is updated from the
// response headers as a side effect.
func (f *Fetcher) Fetch(ctx context.Context, e Endpoint, page int) (Page, error) {
	pageURL := e.PageURL(page)
	collection := string(e.Kind)
	start := time.Now()

	resp, err := f.getter.Get(ctx, pageURL)
	if err != nil {
		githubPageFetchFailuresTotal.WithLabelValues(collection).Inc()
		return Page{}, &FetchError{URL: pageURL, Page: page, Err: err}
	}
	if !json.Valid(resp.Body) {
		githubPageFetchFailuresTotal.WithLabelValues(collection).Inc()
		return Page{}, &FetchError{URL: pageURL, Page: page, Err: ErrInvalidPayload}
	}

	recordBudget(ctx, f.budget, resp, f.logger)
	githubPagesFetchedTotal.WithLabelValues(collection).Inc()

	f.logger.Debug().
		Str("url", pageURL).
		Int("page", page).
		Int("bytes", len(resp.Body)).
		Dur("duration", time.Since(start)).
		Msg("Page fetched")

	return Page{Index: page, URL: pageURL, Data: json.RawMessage(resp.Body)}, nil
}
