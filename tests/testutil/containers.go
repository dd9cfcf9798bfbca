package testutil

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/docker/docker/api/types/container"
	"github.com/docker/go-connections/nat"
	"github.com/testcontainers/testcontainers-go"
)

// Shared container configuration constants
const (
	containerStartupTimeout   = 90 * time.Second
	containerTerminateTimeout = 5 * time.Second
	pingTimeout               = 2 * time.Second
	pingRetryDelay            = 500 * time.Millisecond
	pingRetries               = 5
	maxTestNameLength         = 40
)

// sharedContainer starts a container once per test binary and hands out its
// address to every test.
type sharedContainer struct {
	name string
	req  testcontainers.ContainerRequest
	port string

	mu        sync.Mutex
	container testcontainers.Container
	addr      string
}

func newSharedContainer(name string, req testcontainers.ContainerRequest, port string) *sharedContainer {
	return &sharedContainer{name: name, req: req, port: port}
}

// Addr returns host:port of the running container, starting or restarting
// it when needed.
func (c *sharedContainer) Addr(ctx context.Context) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.container != nil {
		state, err := c.container.State(ctx)
		if err == nil && state.Running {
			return c.addr, nil
		}
		c.terminateLocked()
	}

	startupCtx, cancel := context.WithTimeout(context.Background(), containerStartupTimeout)
	defer cancel()

	cont, addr, err := startContainer(startupCtx, c.req, c.port)
	if err != nil {
		return "", fmt.Errorf("failed to start %s container: %w", c.name, err)
	}

	c.container = cont
	c.addr = addr
	return addr, nil
}

// Terminate stops the container. This is typically called from TestMain.
func (c *sharedContainer) Terminate() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.terminateLocked()
}

func (c *sharedContainer) terminateLocked() {
	if c.container == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), containerTerminateTimeout)
	defer cancel()
	_ = c.container.Terminate(ctx)
	c.container = nil
	c.addr = ""
}

// startContainer starts req and resolves the mapped address of port.
func startContainer(
	ctx context.Context,
	req testcontainers.ContainerRequest,
	port string,
) (testcontainers.Container, string, error) {
	cont, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: req,
		Started:          true,
	})
	if err != nil {
		return nil, "", err
	}

	host, err := cont.Host(ctx)
	if err != nil {
		return nil, "", fmt.Errorf("failed to get container host: %w", err)
	}

	mapped, err := cont.MappedPort(ctx, nat.Port(port))
	if err != nil {
		return nil, "", fmt.Errorf("failed to get container port: %w", err)
	}

	return cont, net.JoinHostPort(host, mapped.Port()), nil
}

// memoryLimit caps the memory of a test container.
func memoryLimit(bytes int64) func(hc *container.HostConfig) {
	return func(hc *container.HostConfig) {
		hc.Memory = bytes
		hc.MemorySwap = bytes
	}
}

// pingWithRetry calls ping until it succeeds or the retries run out.
func pingWithRetry(ping func(ctx context.Context) error) error {
	var err error
	for i := range pingRetries {
		pingCtx, cancel := context.WithTimeout(context.Background(), pingTimeout)
		err = ping(pingCtx)
		cancel()
		if err == nil {
			return nil
		}
		if i < pingRetries-1 {
			time.Sleep(pingRetryDelay)
		}
	}
	return fmt.Errorf("ping failed after %d retries: %w", pingRetries, err)
}

// uniqueName derives a database name from a test name.
func uniqueName(prefix, testName string) string {
	testName = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		default:
			return '_'
		}
	}, testName)

	if len(testName) > maxTestNameLength {
		hash := sha256.Sum256([]byte(testName))
		testName = testName[:20] + "_" + hex.EncodeToString(hash[:])[:12]
	}
	return prefix + testName
}
