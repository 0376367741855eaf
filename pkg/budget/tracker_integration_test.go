//go:build integration

package budget

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// setupRedis starts a Redis container and returns a client
func setupRedis(t *testing.T) (*redis.Client, func()) {
	ctx := context.Background()

	req := testcontainers.ContainerRequest{
		Image:        "redis:7-alpine",
		ExposedPorts: []string{"6379/tcp"},
		WaitingFor:   wait.ForLog("Ready to accept connections"),
	}

	redisContainer, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		t.Fatalf("Failed to start Redis container: %v", err)
	}

	endpoint, err := redisContainer.Endpoint(ctx, "")
	if err != nil {
		t.Fatalf("Failed to get Redis endpoint: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr: endpoint,
	})

	// Test connection
	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_FreshWindow(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if state.Remaining != WindowBudget {
		t.Errorf("Fresh window Remaining = %d, want %d", state.Remaining, WindowBudget)
	}
	if state.Expired() {
		t.Error("Fresh window should not be expired")
	}
}

func TestTracker_Integration_RecordExhausted(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := tracker.RecordExhausted(ctx); err != nil {
			t.Fatalf("RecordExhausted() error = %v", err)
		}
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if state.Remaining != WindowBudget-3 {
		t.Errorf("Remaining after 3 exhaustions = %d, want %d", state.Remaining, WindowBudget-3)
	}
}

func TestTracker_Integration_AllowBlocksOnCritical(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	// Healthy budget allows calls.
	allowed, err := tracker.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if !allowed {
		t.Error("Allow() = false with a full budget, want true")
	}

	// Burn the budget below the critical threshold.
	pipe := redisClient.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, ThresholdCritical-1, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, time.Now().Add(WindowLength).Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatalf("Failed to seed budget state: %v", err)
	}

	allowed, err = tracker.Allow(ctx)
	if err != nil {
		t.Fatalf("Allow() error = %v", err)
	}
	if allowed {
		t.Error("Allow() = true below the critical threshold, want false")
	}
}

// A half-written window (one key present, the other missing) must refill
// rather than read the missing remaining count as zero and block.
func TestTracker_Integration_PartialStateRefills(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	tests := []struct {
		name    string
		seedKey string
		value   interface{}
	}{
		{"only reset timestamp present", RedisKeyResetTimestamp, time.Now().Add(WindowLength).Unix()},
		{"only remaining present", RedisKeyRemaining, 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if err := redisClient.FlushDB(ctx).Err(); err != nil {
				t.Fatalf("Failed to flush Redis: %v", err)
			}
			if err := redisClient.Set(ctx, tt.seedKey, tt.value, 0).Err(); err != nil {
				t.Fatalf("Failed to seed budget state: %v", err)
			}

			state, err := tracker.GetState(ctx)
			if err != nil {
				t.Fatalf("GetState() error = %v", err)
			}

			if state.Remaining != WindowBudget {
				t.Errorf("Remaining = %d, want refilled %d", state.Remaining, WindowBudget)
			}
			if state.NeedsCriticalBlock() {
				t.Error("Partial state produced a critical block, want fresh window")
			}
		})
	}
}

func TestTracker_Integration_ExpiredWindowRefills(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, logger)
	ctx := context.Background()

	// Seed an exhausted window that ended in the past.
	pipe := redisClient.Pipeline()
	pipe.Set(ctx, RedisKeyRemaining, 0, 0)
	pipe.Set(ctx, RedisKeyResetTimestamp, time.Now().Add(-time.Minute).Unix(), 0)
	if _, err := pipe.Exec(ctx); err != nil {
		t.Fatalf("Failed to seed budget state: %v", err)
	}

	state, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}

	if state.Remaining != WindowBudget {
		t.Errorf("Remaining after window expiry = %d, want refilled %d", state.Remaining, WindowBudget)
	}
}
