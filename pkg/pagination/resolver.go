package pagination

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/analytics4github/github-pager/pkg/client"
	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/rs/zerolog"
)

// Getter is the HTTP collaborator: it returns the JSON body and headers of
// a GET request. *client.Client implements it.
type Getter interface {
	Get(ctx context.Context, url string) (*client.Response, error)
}

// Resolver finds how many pages a collection spans.
type Resolver struct {
	getter Getter
	budget ratelimit.Recorder
	logger zerolog.Logger
}

// NewResolver creates a resolver. budget may be nil.
func NewResolver(getter Getter, budget ratelimit.Recorder, logger zerolog.Logger) *Resolver {
	return &Resolver{getter: getter, budget: budget, logger: logger}
}

// Resolve requests the first page of e and reads the rel="last" entry of its
// Link header. A missing header, a missing entry or an unparsable one all
// mean the collection fits in a single page, so 1 is returned. Failing to
// get or decode the first page is a *ResolutionError.
func (r *Resolver) Resolve(ctx context.Context, e Endpoint) (int, error) {
	pageURL := e.PageURL(1)

	r.logger.Debug().Str("url", pageURL).Msg("Resolving last page number")

	resp, err := r.getter.Get(ctx, pageURL)
	if err != nil {
		return 0, &ResolutionError{URL: pageURL, Err: err}
	}
	if !json.Valid(resp.Body) {
		return 0, &ResolutionError{URL: pageURL, Err: ErrInvalidPayload}
	}

	recordBudget(ctx, r.budget, resp, r.logger)

	link := strings.Join(resp.Header.Values("Link"), ", ")
	if link == "" {
		r.logger.Info().
			Str("project", e.Project).
			Str("collection", string(e.Kind)).
			Msg("No Link header, collection probably consists of one page")
		return 1, nil
	}

	last, ok := LastPage(link)
	if !ok {
		r.logger.Debug().
			Str("link", link).
			Msg("Link header has no usable last page, assuming one page")
		return 1, nil
	}

	r.logger.Debug().Int("total_pages", last).Msg("Parsed last page number")
	return last, nil
}

// recordBudget feeds response headers to budget. Failures are logged and
// dropped: a request that succeeded must not fail over budget bookkeeping.
func recordBudget(ctx context.Context, budget ratelimit.Recorder, resp *client.Response, logger zerolog.Logger) {
	if budget == nil {
		return
	}
	if err := budget.UpdateFromHeaders(ctx, resp.Header); err != nil {
		logger.Debug().Err(err).Msg("Failed to update budget from headers")
	}
}
