package client

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestDefaultRetryConfig(t *testing.T) {
	config := DefaultRetryConfig()

	if config.MaxAttempts != 1 {
		t.Errorf("MaxAttempts = %d, want 1 (no automatic retry)", config.MaxAttempts)
	}
	if config.InitialBackoff != 1*time.Second {
		t.Errorf("InitialBackoff = %v, want 1s", config.InitialBackoff)
	}
	if config.MaxBackoff != 30*time.Second {
		t.Errorf("MaxBackoff = %v, want 30s", config.MaxBackoff)
	}
	if config.BackoffMultiplier != 2.0 {
		t.Errorf("BackoffMultiplier = %v, want 2.0", config.BackoffMultiplier)
	}
}

func fastRetryConfig(attempts int) RetryConfig {
	return RetryConfig{
		MaxAttempts:       attempts,
		InitialBackoff:    time.Millisecond,
		MaxBackoff:        5 * time.Millisecond,
		BackoffMultiplier: 2.0,
	}
}

func TestRetryWithBackoff(t *testing.T) {
	errBoom := errors.New("boom")

	tests := []struct {
		name          string
		attempts      int
		class         ErrorClass
		failures      int
		wantCalls     int
		wantErr       bool
		wantExhausted bool
	}{
		{
			name:      "success on first attempt",
			attempts:  3,
			failures:  0,
			wantCalls: 1,
		},
		{
			name:      "server error then success",
			attempts:  3,
			class:     ErrorClassServer,
			failures:  2,
			wantCalls: 3,
		},
		{
			name:          "server error exhausts attempts",
			attempts:      3,
			class:         ErrorClassServer,
			failures:      5,
			wantCalls:     3,
			wantErr:       true,
			wantExhausted: true,
		},
		{
			name:      "client error is not retried",
			attempts:  3,
			class:     ErrorClassClient,
			failures:  5,
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "rate limit error is not retried",
			attempts:  3,
			class:     ErrorClassRateLimit,
			failures:  5,
			wantCalls: 1,
			wantErr:   true,
		},
		{
			name:      "single attempt returns error unwrapped",
			attempts:  1,
			class:     ErrorClassNetwork,
			failures:  5,
			wantCalls: 1,
			wantErr:   true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			calls := 0
			err := retryWithBackoff(context.Background(), fastRetryConfig(tt.attempts), zerolog.Nop(), func() (ErrorClass, error) {
				calls++
				if calls <= tt.failures {
					return tt.class, errBoom
				}
				return "", nil
			})

			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
			if tt.wantErr != (err != nil) {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if err == nil {
				return
			}
			if !errors.Is(err, errBoom) {
				t.Errorf("err = %v, want it to wrap the attempt error", err)
			}
			if got := errors.Is(err, ErrRetryExhausted); got != tt.wantExhausted {
				t.Errorf("errors.Is(err, ErrRetryExhausted) = %v, want %v", got, tt.wantExhausted)
			}
		})
	}
}

func TestRetryWithBackoff_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())

	cfg := RetryConfig{
		MaxAttempts:       5,
		InitialBackoff:    time.Hour,
		BackoffMultiplier: 2.0,
	}

	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- retryWithBackoff(ctx, cfg, zerolog.Nop(), func() (ErrorClass, error) {
			calls++
			return ErrorClassServer, errors.New("unavailable")
		})
	}()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if !errors.Is(err, ErrContextCancelled) {
			t.Errorf("err = %v, want ErrContextCancelled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("retryWithBackoff did not return after cancellation")
	}

	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}
