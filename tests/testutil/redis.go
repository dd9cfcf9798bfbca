package testutil

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// Redis test configuration constants
const (
	redisCtxTimeout           = 10 * time.Second
	redisContainerMemoryLimit = 128 * 1024 * 1024 // 128MB
	redisTestPoolSize         = 10
)

var sharedRedis = newSharedContainer("Redis", testcontainers.ContainerRequest{
	Image:              "redis:7-alpine",
	ExposedPorts:       []string{"6379/tcp"},
	HostConfigModifier: memoryLimit(redisContainerMemoryLimit),
	WaitingFor: wait.ForAll(
		wait.ForLog("Ready to accept connections").WithStartupTimeout(containerStartupTimeout),
		wait.ForListeningPort("6379/tcp").WithStartupTimeout(containerStartupTimeout),
	),
}, "6379")

// SetupTestRedis creates a Redis client using the shared container.
// The database is flushed after the test.
func SetupTestRedis(t *testing.T) *redis.Client {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), redisCtxTimeout)
	defer cancel()

	addr, err := sharedRedis.Addr(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared Redis container: %v", err)
	}

	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		PoolSize: redisTestPoolSize,
	})

	if err = pingWithRetry(func(ctx context.Context) error { return client.Ping(ctx).Err() }); err != nil {
		_ = client.Close()
		t.Fatalf("Failed to ping Redis: %v", err)
	}

	// Cleanup: flush DB and close client after test
	t.Cleanup(func() {
		cleanupCtx, cleanupCancel := context.WithTimeout(context.Background(), redisCtxTimeout)
		defer cleanupCancel()
		_ = client.FlushDB(cleanupCtx).Err()
		_ = client.Close()
	})

	return client
}

// SetupTestRedisWithPrefix creates a Redis client and returns a unique channel
// prefix for test isolation.
func SetupTestRedisWithPrefix(t *testing.T) (*redis.Client, string) {
	t.Helper()

	client := SetupTestRedis(t)
	prefix := fmt.Sprintf("test:%s:", uniqueName("", t.Name()))

	return client, prefix
}

// CleanupSharedRedisContainer terminates the shared Redis container.
func CleanupSharedRedisContainer() {
	sharedRedis.Terminate()
}
