package ratelimit

import (
	"testing"
	"time"
)

func TestBudgetState_IsStale(t *testing.T) {
	tests := []struct {
		name       string
		lastUpdate time.Time
		maxAge     time.Duration
		expected   bool
	}{
		{
			name:       "fresh state",
			lastUpdate: time.Now(),
			maxAge:     5 * time.Second,
			expected:   false,
		},
		{
			name:       "stale state",
			lastUpdate: time.Now().Add(-10 * time.Second),
			maxAge:     5 * time.Second,
			expected:   true,
		},
		{
			name:       "never updated",
			lastUpdate: time.Time{},
			maxAge:     time.Hour,
			expected:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := BudgetState{LastUpdate: tt.lastUpdate}
			if got := state.IsStale(tt.maxAge); got != tt.expected {
				t.Errorf("IsStale(%v) = %v, want %v", tt.maxAge, got, tt.expected)
			}
		})
	}
}

func TestBudgetState_Levels(t *testing.T) {
	tests := []struct {
		name          string
		remaining     int
		wantExhausted bool
		wantLow       bool
	}{
		{name: "plenty", remaining: 4999, wantExhausted: false, wantLow: false},
		{name: "at low threshold", remaining: BudgetThresholdLow, wantExhausted: false, wantLow: false},
		{name: "below low threshold", remaining: BudgetThresholdLow - 1, wantExhausted: false, wantLow: true},
		{name: "exhausted", remaining: 0, wantExhausted: true, wantLow: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := BudgetState{Remaining: tt.remaining}
			if got := state.IsExhausted(); got != tt.wantExhausted {
				t.Errorf("IsExhausted() = %v, want %v", got, tt.wantExhausted)
			}
			if got := state.IsLow(); got != tt.wantLow {
				t.Errorf("IsLow() = %v, want %v", got, tt.wantLow)
			}
		})
	}
}

func TestBudgetState_TimeUntilReset(t *testing.T) {
	tests := []struct {
		name      string
		resetAt   time.Time
		expected  time.Duration
		tolerance time.Duration
	}{
		{
			name:      "reset in future",
			resetAt:   time.Now().Add(5 * time.Minute),
			expected:  5 * time.Minute,
			tolerance: time.Second,
		},
		{
			name:     "reset already passed",
			resetAt:  time.Now().Add(-5 * time.Minute),
			expected: 0,
		},
		{
			name:     "reset unknown",
			resetAt:  time.Time{},
			expected: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			state := BudgetState{ResetAt: tt.resetAt}
			result := state.TimeUntilReset()

			diff := result - tt.expected
			if diff < 0 {
				diff = -diff
			}
			if diff > tt.tolerance {
				t.Errorf("TimeUntilReset() = %v, want approximately %v (tolerance %v)", result, tt.expected, tt.tolerance)
			}
		})
	}
}

func TestThresholdConstants(t *testing.T) {
	if BudgetThresholdCritical >= BudgetThresholdLow {
		t.Errorf("BudgetThresholdCritical (%d) must be less than BudgetThresholdLow (%d)",
			BudgetThresholdCritical, BudgetThresholdLow)
	}
}
