package budget

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Prometheus metrics for budget tracking.
var (
	budgetRemaining = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "linecheck_budget_remaining",
		Help: "Failure budget remaining in the current window",
	})

	budgetBlocksTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecheck_budget_blocks_total",
		Help: "Total number of calls blocked due to critical failure budget",
	})

	budgetThrottlesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "linecheck_budget_throttles_total",
		Help: "Total number of calls throttled due to low failure budget",
	})
)

// Tracker monitors the shared failure budget and gates calls.
// State lives in Redis so it is shared across every worker of a run.
type Tracker struct {
	redis  *redis.Client
	logger zerolog.Logger
}

// NewTracker creates a failure budget tracker.
func NewTracker(redisClient *redis.Client, logger zerolog.Logger) *Tracker {
	return &Tracker{
		redis:  redisClient,
		logger: logger,
	}
}

// GetState retrieves the current budget state from Redis. A missing or
// expired window yields a fresh full budget.
func (t *Tracker) GetState(ctx context.Context) (*State, error) {
	remaining, err := t.redis.Get(ctx, RedisKeyRemaining).Int()
	if err == redis.Nil {
		t.logger.Debug().Msg("No budget state in Redis, starting fresh window")
		return t.resetWindow(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get budget remaining: %w", err)
	}

	resetTimestamp, err := t.redis.Get(ctx, RedisKeyResetTimestamp).Int64()
	if err == redis.Nil {
		t.logger.Debug().Msg("No budget state in Redis, starting fresh window")
		return t.resetWindow(ctx)
	}
	if err != nil {
		return nil, fmt.Errorf("get reset timestamp: %w", err)
	}

	state := &State{
		Remaining: remaining,
		ResetAt:   time.Unix(resetTimestamp, 0),
	}

	if state.Expired() {
		t.logger.Info().Msg("Budget window expired, refilling")
		return t.resetWindow(ctx)
	}

	return state, nil
}

// resetWindow starts a fresh budget window in Redis.
func (t *Tracker) resetWindow(ctx context.Context) (*State, error) {
	state := &State{
		Remaining: WindowBudget,
		ResetAt:   time.Now().Add(WindowLength),
	}

	pipe := t.redis.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, state.Remaining, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, state.ResetAt.Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		return nil, fmt.Errorf("store budget state in redis: %w", err)
	}

	budgetRemaining.Set(float64(state.Remaining))
	return state, nil
}

// RecordExhausted consumes one unit of budget for an exhausted item.
func (t *Tracker) RecordExhausted(ctx context.Context) error {
	// Make sure a window exists before decrementing.
	if _, err := t.GetState(ctx); err != nil {
		return err
	}

	remaining, err := t.redis.Decr(ctx, RedisKeyRemaining).Result()
	if err != nil {
		return fmt.Errorf("decrement budget: %w", err)
	}

	budgetRemaining.Set(float64(remaining))

	logEvent := t.logger.Info()
	if remaining < ThresholdCritical {
		logEvent = t.logger.Error()
		logEvent = logEvent.Str("action", "blocking")
	} else if remaining < ThresholdWarning {
		logEvent = t.logger.Warn()
		logEvent = logEvent.Str("action", "throttling")
	}
	logEvent.Int64("budget_remaining", remaining).Msg("Failure budget consumed")

	return nil
}

// Allow checks if a call should proceed based on the current budget.
// Returns false if the call must be blocked until the window resets.
// May sleep for one second to throttle when the budget is low.
func (t *Tracker) Allow(ctx context.Context) (bool, error) {
	state, err := t.GetState(ctx)
	if err != nil {
		return false, fmt.Errorf("get budget state: %w", err)
	}

	if state.NeedsCriticalBlock() {
		t.logger.Error().
			Int("budget_remaining", state.Remaining).
			Dur("wait_duration", state.TimeUntilReset()).
			Msg("Failure budget critical - blocking call")

		budgetBlocksTotal.Inc()
		return false, nil
	}

	if state.NeedsThrottling() {
		t.logger.Warn().
			Int("budget_remaining", state.Remaining).
			Msg("Failure budget low - throttling call")

		budgetThrottlesTotal.Inc()
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(1 * time.Second):
		}
	}

	return true, nil
}
