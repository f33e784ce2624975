//go:build integration

package ratelimit

import (
	"context"
	"net/http"
	"os"
	"strconv"
	"sync"
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

	if err := client.Ping(ctx).Err(); err != nil {
		t.Fatalf("Failed to connect to Redis: %v", err)
	}

	cleanup := func() {
		client.Close()
		redisContainer.Terminate(ctx)
	}

	return client, cleanup
}

func TestTracker_Integration_RoundTrip(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	tracker := NewTracker(redisClient, nil, logger)
	ctx := context.Background()

	reset := time.Now().Add(time.Hour).Truncate(time.Second)
	headers := http.Header{}
	headers.Set(HeaderRemaining, "75")
	headers.Set(HeaderLimit, "60")
	headers.Set(HeaderReset, strconv.FormatInt(reset.Unix(), 10))

	if err := tracker.UpdateFromHeaders(ctx, headers); err != nil {
		t.Fatalf("UpdateFromHeaders() error = %v", err)
	}

	state, ok, err := tracker.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !ok {
		t.Fatal("GetState() ok = false after update")
	}
	if state.Remaining != 75 {
		t.Errorf("Remaining = %d, want 75", state.Remaining)
	}

	tolerance := 5 * time.Second
	if d := state.TimeUntilReset(); d < time.Hour-tolerance || d > time.Hour+tolerance {
		t.Errorf("TimeUntilReset = %v, want approximately %v", d, time.Hour)
	}
}

func TestTracker_Integration_SharedAcrossTrackers(t *testing.T) {
	redisClient, cleanup := setupRedis(t)
	defer cleanup()

	logger := zerolog.New(os.Stderr).Level(zerolog.Disabled)
	writer := NewTracker(redisClient, nil, logger)
	reader := NewTracker(redisClient, nil, logger)
	ctx := context.Background()

	const writers = 20
	reported := make(map[int]bool, writers)

	var wg sync.WaitGroup
	for i := 0; i < writers; i++ {
		v := 4000 - i
		reported[v] = true
		wg.Add(1)
		go func() {
			defer wg.Done()
			headers := http.Header{}
			headers.Set(HeaderRemaining, strconv.Itoa(v))
			if err := writer.UpdateFromHeaders(ctx, headers); err != nil {
				t.Errorf("UpdateFromHeaders() error = %v", err)
			}
		}()
	}
	wg.Wait()

	state, ok, err := reader.GetState(ctx)
	if err != nil {
		t.Fatalf("GetState() error = %v", err)
	}
	if !ok {
		t.Fatal("GetState() ok = false")
	}
	if !reported[state.Remaining] {
		t.Errorf("Remaining = %d, want one of the reported values", state.Remaining)
	}
}
