//go:build integration

package containers

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"time"
)

// WaitForTCP waits for a TCP port to accept connections.
// It retries every 500ms until the port is open or the timeout is reached.
func WaitForTCP(ctx context.Context, host string, port int, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	address := net.JoinHostPort(host, strconv.Itoa(port))
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	var dialer net.Dialer
	for {
		dialCtx, dialCancel := context.WithTimeout(ctx, 2*time.Second)
		conn, err := dialer.DialContext(dialCtx, "tcp", address)
		dialCancel()
		if err == nil {
			_ = conn.Close()
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for TCP port %s: %w", address, ctx.Err())
		case <-ticker.C:
		}
	}
}

// RetryWithBackoff retries fn with exponential backoff.
// It starts with initialDelay and doubles it on each retry up to maxDelay.
// Returns the last error if maxAttempts is reached.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	initialDelay time.Duration,
	maxDelay time.Duration,
	fn func() error,
) error {
	var lastErr error
	delay := initialDelay

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}
		if attempt == maxAttempts {
			break
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("retry cancelled: %w (last error: %w)", ctx.Err(), lastErr)
		case <-time.After(delay):
			delay = min(delay*2, maxDelay)
		}
	}

	return fmt.Errorf("max attempts (%d) reached: %w", maxAttempts, lastErr)
}
