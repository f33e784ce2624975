// Package metrics exposes the Prometheus metrics of the GitHub pager.
// The metrics themselves are defined in their respective packages
// (client, pagination, ratelimit) and registered via promauto.
package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// Registry is the default Prometheus registry used by the pager.
// All metrics are automatically registered via promauto in their respective packages.
var Registry = prometheus.DefaultRegisterer

// Gatherer is the source Handler serves from.
var Gatherer = prometheus.DefaultGatherer

// Handler serves all registered metrics in the Prometheus text format.
func Handler() http.Handler {
	return promhttp.HandlerFor(Gatherer, promhttp.HandlerOpts{})
}

// Serve exposes /metrics on addr until ctx is cancelled.
func Serve(ctx context.Context, addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", Handler())

	srv := &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	logger := log.With().Str("component", "metrics").Logger()

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", addr).Msg("Serving metrics")
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		logger.Info().Msg("Metrics server stopped")
		return nil
	}
}

// Metrics Documentation
//
// Budget Metrics (pkg/ratelimit):
//   - github_rate_limit_remaining (Gauge): Last recorded X-RateLimit-Remaining
//   - github_rate_limit_updates_total{outcome} (Counter): Header observations by outcome
//   - github_rate_limit_publish_errors_total (Counter): Failed Redis publishes
//
// Pagination Metrics (pkg/pagination):
//   - github_pages_fetched_total{collection} (Counter): Pages fetched by collection
//   - github_page_fetch_failures_total{collection} (Counter): Failed page fetches
//   - github_batch_size (Histogram): Pages per batch after clamping
//
// Request Metrics (pkg/client):
//   - github_requests_total{collection, status} (Counter): Requests by collection and HTTP status
//   - github_request_duration_seconds{collection} (Histogram): Request duration by collection
//   - github_errors_total{class} (Counter): Errors by class (client, server, rate_limit, network)
//
// Retry Metrics (pkg/client):
//   - github_retries_total{error_class} (Counter): Retry attempts by error class
//   - github_retry_backoff_seconds{error_class} (Histogram): Backoff duration by error class
//   - github_retry_exhausted_total{error_class} (Counter): Requests that exhausted max retries
//
// Example Prometheus Queries:
//
//   # Budget Status
//   github_rate_limit_remaining < 100
//
//   # Page Throughput
//   sum by (collection) (rate(github_pages_fetched_total[5m]))
//
//   # Request Error Rate
//   rate(github_errors_total[5m])
//
//   # P95 Request Latency
//   histogram_quantile(0.95, rate(github_request_duration_seconds_bucket[5m]))
