package ratelimit

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var githubRateLimitPublishErrorsTotal = promauto.NewCounter(prometheus.CounterOpts{
	Name: "github_rate_limit_publish_errors_total",
	Help: "Total number of failed budget writes to Redis",
})

// Tracker shares the budget of one token across processes through Redis.
// Every observation is recorded in a local Budget first, then the tracked
// value is published. Redis writes from different processes race and the
// last one wins, same as within a single Budget.
type Tracker struct {
	redis  *redis.Client
	budget *Budget
	logger zerolog.Logger
}

// NewTracker creates a Redis-backed tracker around budget.
// A nil budget gets a fresh PolicyLastWriteWins one.
func NewTracker(redisClient *redis.Client, budget *Budget, logger zerolog.Logger) *Tracker {
	if budget == nil {
		budget = NewBudget(PolicyLastWriteWins)
	}
	return &Tracker{
		redis:  redisClient,
		budget: budget,
		logger: logger,
	}
}

// Budget returns the local budget the tracker records into.
func (t *Tracker) Budget() *Budget {
	return t.budget
}

// GetState retrieves the shared budget state from Redis.
// ok is false when no process has published yet.
func (t *Tracker) GetState(ctx context.Context) (state BudgetState, ok bool, err error) {
	vals, err := t.redis.MGet(ctx, RedisKeyRemaining, RedisKeyLimit, RedisKeyResetAt, RedisKeyLastUpdate).Result()
	if err != nil {
		return BudgetState{}, false, fmt.Errorf("get budget state: %w", err)
	}
	if vals[0] == nil {
		t.logger.Debug().Msg("No budget state in Redis")
		return BudgetState{}, false, nil
	}

	remaining, err := redisInt(vals[0])
	if err != nil {
		return BudgetState{}, false, fmt.Errorf("parse remaining: %w", err)
	}
	state.Remaining = int(remaining)

	if vals[1] != nil {
		limit, err := redisInt(vals[1])
		if err != nil {
			return BudgetState{}, false, fmt.Errorf("parse limit: %w", err)
		}
		state.Limit = int(limit)
	}

	if vals[2] != nil {
		reset, err := redisInt(vals[2])
		if err != nil {
			return BudgetState{}, false, fmt.Errorf("parse reset timestamp: %w", err)
		}
		if reset > 0 {
			state.ResetAt = time.Unix(reset, 0)
		}
	}

	if s, isStr := vals[3].(string); isStr && s != "" {
		if err := json.Unmarshal([]byte(s), &state.LastUpdate); err != nil {
			return BudgetState{}, false, fmt.Errorf("parse last update: %w", err)
		}
	}

	return state, true, nil
}

// UpdateFromHeaders records the budget from response headers locally and
// publishes the tracked value to Redis.
func (t *Tracker) UpdateFromHeaders(ctx context.Context, headers http.Header) error {
	state, ok, err := ParseHeaders(headers, time.Now())
	if err != nil {
		githubRateLimitUpdatesTotal.WithLabelValues("malformed").Inc()
		return err
	}
	if !ok {
		githubRateLimitUpdatesTotal.WithLabelValues("absent").Inc()
		return nil
	}
	githubRateLimitUpdatesTotal.WithLabelValues("recorded").Inc()
	return t.Publish(ctx, t.budget.Record(state))
}

// Publish stores state in Redis.
func (t *Tracker) Publish(ctx context.Context, state BudgetState) error {
	lastUpdateJSON, err := json.Marshal(state.LastUpdate)
	if err != nil {
		return fmt.Errorf("marshal last update: %w", err)
	}

	var resetUnix int64
	if !state.ResetAt.IsZero() {
		resetUnix = state.ResetAt.Unix()
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyLimit, state.Limit, 0)
	pipe.Set(ctx, RedisKeyResetAt, resetUnix, 0)
	pipe.Set(ctx, RedisKeyLastUpdate, lastUpdateJSON, 0)
	if _, err := pipe.Exec(ctx); err != nil {
		githubRateLimitPublishErrorsTotal.Inc()
		return fmt.Errorf("store budget state in redis: %w", err)
	}

	var event *zerolog.Event
	switch {
	case state.Remaining < BudgetThresholdCritical:
		event = t.logger.Warn()
	case state.IsLow():
		event = t.logger.Info()
	default:
		event = t.logger.Debug()
	}
	event.
		Int("requests_left", state.Remaining).
		Int("limit", state.Limit).
		Time("reset_at", state.ResetAt).
		Msg("Budget state published")

	return nil
}

func redisInt(v interface{}) (int64, error) {
	s, ok := v.(string)
	if !ok {
		return 0, errors.New("unexpected redis value type")
	}
	return strconv.ParseInt(s, 10, 64)
}
