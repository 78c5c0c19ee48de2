//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"

	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

// RedisContainer wraps a Redis server without persistence or auth.
type RedisContainer struct {
	container testcontainers.Container
	addr      string
}

// RedisConfig holds configuration for Redis container creation.
type RedisConfig struct {
	// Image tag (default: "7-alpine")
	ImageTag string
}

// DefaultRedisConfig returns a RedisConfig with sensible defaults.
func DefaultRedisConfig() RedisConfig {
	return RedisConfig{ImageTag: "7-alpine"}
}

// NewRedisContainer creates and starts a Redis container.
// If config is nil, uses DefaultRedisConfig().
func NewRedisContainer(ctx context.Context, config *RedisConfig) (*RedisContainer, error) {
	if config == nil {
		defaultCfg := DefaultRedisConfig()
		config = &defaultCfg
	}

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:" + config.ImageTag,
			ExposedPorts: []string{"6379/tcp"},
			Cmd:          []string{"redis-server", "--save", "", "--appendonly", "no"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(30 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to start Redis container: %w", err)
	}

	host, err := container.Host(ctx)
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get container host: %w", err)
	}
	mappedPort, err := container.MappedPort(ctx, "6379")
	if err != nil {
		_ = container.Terminate(context.Background())
		return nil, fmt.Errorf("failed to get mapped port: %w", err)
	}
	if err := WaitForTCP(ctx, host, mappedPort.Int(), 10*time.Second); err != nil {
		_ = container.Terminate(context.Background())
		return nil, err
	}

	return &RedisContainer{
		container: container,
		addr:      net.JoinHostPort(host, strconv.Itoa(mappedPort.Int())),
	}, nil
}

// Addr returns the host:port of the server.
func (c *RedisContainer) Addr() string {
	return c.addr
}

// Terminate stops and removes the container.
func (c *RedisContainer) Terminate(ctx context.Context) error {
	if c.container == nil {
		return nil
	}
	if err := c.container.Terminate(ctx); err != nil {
		return fmt.Errorf("failed to terminate container: %w", err)
	}
	return nil
}
