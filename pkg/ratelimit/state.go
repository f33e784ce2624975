// Package ratelimit tracks the GitHub request budget reported through the
// X-RateLimit-Remaining, X-RateLimit-Limit and X-RateLimit-Reset headers.
//
// The budget is observed, never enforced: nothing in this package blocks a
// request when the budget runs out.
package ratelimit

import (
	"time"
)

// Redis keys for shared budget state.
const (
	RedisKeyRemaining  = "github:rate_limit:remaining"
	RedisKeyLimit      = "github:rate_limit:limit"
	RedisKeyResetAt    = "github:rate_limit:reset_timestamp"
	RedisKeyLastUpdate = "github:rate_limit:last_update"
)

// Response headers carrying the budget.
const (
	HeaderRemaining = "X-RateLimit-Remaining"
	HeaderLimit     = "X-RateLimit-Limit"
	HeaderReset     = "X-RateLimit-Reset"
)

// Thresholds used for log levels only.
const (
	// BudgetThresholdLow marks the budget as running low.
	BudgetThresholdLow = 100

	// BudgetThresholdCritical marks the budget as nearly exhausted.
	BudgetThresholdCritical = 10
)

// BudgetState is one observation of the request budget.
type BudgetState struct {
	// Remaining is the number of requests the API will still accept.
	// Extracted from the X-RateLimit-Remaining header.
	Remaining int `json:"remaining"`

	// Limit is the size of the budget window (X-RateLimit-Limit).
	// Zero when the header was absent.
	Limit int `json:"limit"`

	// ResetAt is when the budget window resets (X-RateLimit-Reset).
	// Zero when the header was absent.
	ResetAt time.Time `json:"reset_at"`

	// LastUpdate is when this observation was recorded.
	LastUpdate time.Time `json:"last_update"`
}

// IsStale returns true if the observation is older than maxAge.
func (s BudgetState) IsStale(maxAge time.Duration) bool {
	return time.Since(s.LastUpdate) > maxAge
}

// IsExhausted reports whether the server said no requests are left.
func (s BudgetState) IsExhausted() bool {
	return s.Remaining <= 0
}

// IsLow reports whether the remaining budget fell below BudgetThresholdLow.
func (s BudgetState) IsLow() bool {
	return s.Remaining < BudgetThresholdLow
}

// TimeUntilReset returns the duration until the budget window resets.
// Returns 0 if the reset time is unknown or has already passed.
func (s BudgetState) TimeUntilReset() time.Duration {
	if s.ResetAt.IsZero() {
		return 0
	}
	d := time.Until(s.ResetAt)
	if d < 0 {
		return 0
	}
	return d
}
