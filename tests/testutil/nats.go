package testutil

import (
	"context"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

const natsCtxTimeout = 10 * time.Second

var sharedNATS = newSharedContainer("NATS", testcontainers.ContainerRequest{
	Image:        "nats:2.10-alpine",
	ExposedPorts: []string{"4222/tcp"},
	WaitingFor: wait.ForAll(
		wait.ForLog("Server is ready").WithStartupTimeout(containerStartupTimeout),
		wait.ForListeningPort("4222/tcp").WithStartupTimeout(containerStartupTimeout),
	),
}, "4222")

// SetupTestNATS connects to the shared NATS container.
func SetupTestNATS(t *testing.T) *nats.Conn {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), natsCtxTimeout)
	defer cancel()

	addr, err := sharedNATS.Addr(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared NATS container: %v", err)
	}

	conn, err := nats.Connect("nats://"+addr, nats.Name(t.Name()), nats.Timeout(natsCtxTimeout))
	if err != nil {
		t.Fatalf("Failed to connect to NATS: %v", err)
	}

	t.Cleanup(conn.Close)

	return conn
}

// NATSURL returns the client URL of the shared NATS container.
func NATSURL(t *testing.T) string {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), natsCtxTimeout)
	defer cancel()

	addr, err := sharedNATS.Addr(ctx)
	if err != nil {
		t.Fatalf("Failed to get shared NATS container: %v", err)
	}
	return "nats://" + addr
}

// CleanupSharedNATSContainer terminates the shared NATS container.
func CleanupSharedNATSContainer() {
	sharedNATS.Terminate()
}
