package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/analytics4github/github-pager/pkg/pagination"
	"github.com/analytics4github/github-pager/pkg/ratelimit"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

// endpointFlags selects a collection and its filters.
type endpointFlags struct {
	author  string
	since   string
	until   string
	perPage int
}

func (f *endpointFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.author, "author", "", "only commits by this author")
	cmd.Flags().StringVar(&f.since, "since", "", "only items after this time (RFC3339 or YYYY-MM-DD)")
	cmd.Flags().StringVar(&f.until, "until", "", "only items before this time, requires --since")
	cmd.Flags().IntVar(&f.perPage, "per-page", 0, "items per page (server default when 0)")
}

func (f *endpointFlags) endpoint(baseURL, project, kind string) (pagination.Endpoint, error) {
	e := pagination.Endpoint{
		BaseURL: baseURL,
		Project: project,
		Kind:    pagination.Kind(kind),
		PerPage: f.perPage,
		Filters: pagination.Filters{Author: f.author},
	}

	var err error
	if e.Filters.Since, err = parseTimeFlag("since", f.since); err != nil {
		return e, err
	}
	if e.Filters.Until, err = parseTimeFlag("until", f.until); err != nil {
		return e, err
	}
	return e, e.Validate()
}

func parseTimeFlag(name, value string) (*time.Time, error) {
	if value == "" {
		return nil, nil
	}
	for _, layout := range []string{time.RFC3339, time.DateOnly} {
		if t, err := time.Parse(layout, value); err == nil {
			return &t, nil
		}
	}
	return nil, fmt.Errorf("invalid --%s %q: want RFC3339 or YYYY-MM-DD", name, value)
}

func newPagesCmd(opts *rootOptions, getenv func(string) string) *cobra.Command {
	var ef endpointFlags

	cmd := &cobra.Command{
		Use:   "pages <owner/name> <kind>",
		Short: "Print how many pages a collection spans",
		Example: `  ghpager pages golang/go stargazers
  ghpager pages golang/go commits --since 2024-01-01 --per-page 100`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ef.endpoint(opts.apiURL, args[0], args[1])
			if err != nil {
				return err
			}

			s, err := opts.open(cmd.Context(), getenv)
			if err != nil {
				return err
			}
			defer s.close()

			return pagination.With(cmd.Context(), s.client, e, func(it *pagination.Iterator) error {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(struct {
					Project    string `json:"project"`
					Kind       string `json:"kind"`
					Filters    string `json:"filters"`
					TotalPages int    `json:"total_pages"`
				}{e.Project, string(e.Kind), e.Filters.Mode().String(), it.TotalPages()})
			}, pagination.WithBudget(s.recorder()), pagination.WithLogger(s.logger))
		},
	}

	ef.bind(cmd)
	return cmd
}

func newFetchCmd(opts *rootOptions, getenv func(string) string) *cobra.Command {
	var (
		ef       endpointFlags
		workers  int
		batch    int
		maxPages int
		timeout  time.Duration
	)

	cmd := &cobra.Command{
		Use:   "fetch <owner/name> <kind>",
		Short: "Fetch the pages of a collection, last page first",
		Long: `fetch writes one JSON object per page to stdout:

  {"page": 7, "url": "...", "items": [...]}

Pages are fetched in parallel batches and written newest page first.`,
		Example: `  ghpager fetch golang/go contributors --per-page 100
  ghpager fetch golang/go commits --author rsc --max-pages 3`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			e, err := ef.endpoint(opts.apiURL, args[0], args[1])
			if err != nil {
				return err
			}

			s, err := opts.open(cmd.Context(), getenv)
			if err != nil {
				return err
			}
			defer s.close()

			iterOpts := []pagination.Option{
				pagination.WithBudget(s.recorder()),
				pagination.WithLogger(s.logger),
				pagination.WithFetchTimeout(timeout),
			}
			if workers > 0 {
				iterOpts = append(iterOpts, pagination.WithWorkers(workers))
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			written := 0
			err = pagination.With(cmd.Context(), s.client, e, func(it *pagination.Iterator) error {
				size := batch
				if size <= 0 {
					size = it.Workers()
				}

				for it.HasNext() && (maxPages <= 0 || written < maxPages) {
					n := size
					if maxPages > 0 && maxPages-written < n {
						n = maxPages - written
					}

					pages, err := it.NextBatch(cmd.Context(), n)
					if err != nil {
						return err
					}
					for _, p := range pages {
						if err := enc.Encode(pageRecord{Page: p.Index, URL: p.URL, Items: p.Data}); err != nil {
							return fmt.Errorf("write page %d: %w", p.Index, err)
						}
						written++
					}
				}
				return nil
			}, iterOpts...)

			logBudget(s.logger.Info(), s.budget).
				Int("pages_written", written).
				Msg("Fetch finished")
			return err
		},
	}

	ef.bind(cmd)
	cmd.Flags().IntVar(&workers, "workers", 0, "worker pool size (5, or 10 for stargazers, when 0)")
	cmd.Flags().IntVar(&batch, "batch", 0, "pages per batch (pool size when 0)")
	cmd.Flags().IntVar(&maxPages, "max-pages", 0, "stop after this many pages (all when 0)")
	cmd.Flags().DurationVar(&timeout, "page-timeout", 0, "deadline for each page fetched in a batch (none when 0)")
	return cmd
}

type pageRecord struct {
	Page  int             `json:"page"`
	URL   string          `json:"url"`
	Items json.RawMessage `json:"items"`
}

func newBudgetCmd(opts *rootOptions, getenv func(string) string) *cobra.Command {
	var shared bool

	cmd := &cobra.Command{
		Use:   "budget",
		Short: "Show the remaining request budget",
		Long: `budget asks GitHub's /rate_limit endpoint for the current budget, which does
not count against it, and records the answer. With --shared the budget
last published to Redis by any ghpager process is shown instead.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := opts.open(cmd.Context(), getenv)
			if err != nil {
				return err
			}
			defer s.close()

			var state ratelimit.BudgetState
			if shared {
				if s.tracker == nil {
					return errors.New("--shared needs --redis-url or REDIS_URL")
				}
				var ok bool
				state, ok, err = s.tracker.GetState(cmd.Context())
				if err != nil {
					return err
				}
				if !ok {
					return errors.New("no budget published to redis yet")
				}
			} else {
				observed, err := s.client.RateLimit(cmd.Context())
				if err != nil {
					return err
				}
				state = s.budget.Record(observed)
				if s.tracker != nil {
					if err := s.tracker.Publish(cmd.Context(), state); err != nil {
						s.logger.Warn().Err(err).Msg("Failed to publish budget")
					}
				}
			}

			enc := json.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent("", "  ")
			return enc.Encode(state)
		},
	}

	cmd.Flags().BoolVar(&shared, "shared", false, "read the budget shared through Redis")
	return cmd
}

func logBudget(ev *zerolog.Event, budget *ratelimit.Budget) *zerolog.Event {
	if state, ok := budget.State(); ok {
		return ev.Int("requests_left", state.Remaining).Time("reset_at", state.ResetAt)
	}
	return ev.Str("requests_left", "unknown")
}
