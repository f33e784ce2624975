package ratelimit

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for budget tracking.
var (
	githubRateLimitRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "github_rate_limit_remaining",
		Help: "Requests remaining in the current GitHub rate limit window, as last observed",
	})

	githubRateLimitUpdatesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "github_rate_limit_updates_total",
		Help: "Budget header observations by outcome",
	}, []string{"outcome"})
)

// Recorder accepts budget observations taken from response headers.
// Implementations must be safe for concurrent use.
type Recorder interface {
	UpdateFromHeaders(ctx context.Context, headers http.Header) error
}

// Policy decides how a new observation combines with the stored one.
type Policy int

const (
	// PolicyLastWriteWins overwrites the stored value with every observation.
	// Concurrent fetches race and the tracked value is whichever landed last,
	// which is not necessarily the smallest.
	PolicyLastWriteWins Policy = iota

	// PolicyMinimumObserved keeps the smallest Remaining seen within one reset
	// window. An observation with a later ResetAt starts a new window.
	PolicyMinimumObserved
)

// String returns the policy name.
func (p Policy) String() string {
	switch p {
	case PolicyLastWriteWins:
		return "last_write_wins"
	case PolicyMinimumObserved:
		return "minimum_observed"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Budget holds the most recent budget observation for one session.
// The zero value is ready to use with PolicyLastWriteWins.
type Budget struct {
	policy Policy
	state  atomic.Pointer[BudgetState]
}

// NewBudget creates an empty budget using the given policy.
func NewBudget(policy Policy) *Budget {
	return &Budget{policy: policy}
}

// Policy returns the combination policy of the budget.
func (b *Budget) Policy() Policy {
	return b.policy
}

// State returns the stored observation. ok is false until the first one arrives.
func (b *Budget) State() (state BudgetState, ok bool) {
	s := b.state.Load()
	if s == nil {
		return BudgetState{}, false
	}
	return *s, true
}

// Remaining returns the tracked number of requests left, or -1 if unknown.
func (b *Budget) Remaining() int {
	s := b.state.Load()
	if s == nil {
		return -1
	}
	return s.Remaining
}

// Record stores an observation according to the budget policy and returns
// the value that is tracked afterwards.
func (b *Budget) Record(obs BudgetState) BudgetState {
	next := obs
	for {
		cur := b.state.Load()
		if cur != nil && b.policy == PolicyMinimumObserved && !obs.ResetAt.After(cur.ResetAt) && cur.Remaining <= obs.Remaining {
			return *cur
		}
		if b.state.CompareAndSwap(cur, &next) {
			githubRateLimitRemaining.Set(float64(next.Remaining))
			return next
		}
	}
}

// UpdateFromHeaders records the budget carried by headers. Responses without
// an X-RateLimit-Remaining header are ignored; malformed values are returned
// as errors and leave the stored state untouched.
func (b *Budget) UpdateFromHeaders(_ context.Context, headers http.Header) error {
	state, ok, err := ParseHeaders(headers, time.Now())
	if err != nil {
		githubRateLimitUpdatesTotal.WithLabelValues("malformed").Inc()
		return err
	}
	if !ok {
		githubRateLimitUpdatesTotal.WithLabelValues("absent").Inc()
		return nil
	}
	b.Record(state)
	githubRateLimitUpdatesTotal.WithLabelValues("recorded").Inc()
	return nil
}

// ParseHeaders extracts a budget observation from response headers.
// ok is false when X-RateLimit-Remaining is absent. X-RateLimit-Limit and
// X-RateLimit-Reset are optional, but malformed values are reported.
func ParseHeaders(headers http.Header, now time.Time) (state BudgetState, ok bool, err error) {
	remainStr := headers.Get(HeaderRemaining)
	if remainStr == "" {
		return BudgetState{}, false, nil
	}

	remain, err := strconv.Atoi(remainStr)
	if err != nil {
		return BudgetState{}, false, fmt.Errorf("parse %s header: %w", HeaderRemaining, err)
	}
	if remain < 0 {
		return BudgetState{}, false, fmt.Errorf("parse %s header: negative value %d", HeaderRemaining, remain)
	}

	state = BudgetState{
		Remaining:  remain,
		LastUpdate: now,
	}

	if limitStr := headers.Get(HeaderLimit); limitStr != "" {
		limit, err := strconv.Atoi(limitStr)
		if err != nil {
			return BudgetState{}, false, fmt.Errorf("parse %s header: %w", HeaderLimit, err)
		}
		state.Limit = limit
	}

	if resetStr := headers.Get(HeaderReset); resetStr != "" {
		reset, err := strconv.ParseInt(resetStr, 10, 64)
		if err != nil {
			return BudgetState{}, false, fmt.Errorf("parse %s header: %w", HeaderReset, err)
		}
		state.ResetAt = time.Unix(reset, 0)
	}

	return state, true, nil
}
