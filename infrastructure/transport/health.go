package transport

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/go-rollouts/internal/domain"
)

const (
	healthPollInterval = 250 * time.Millisecond
	healthPollBackoff  = 2 * time.Second
)

// WaitHealthy polls the named service's /health endpoint until it
// answers 200, the context expires, or the service turns out not to be
// declared at all. Undeclared services fail immediately; polling
// cannot cure a configuration error.
func WaitHealthy(ctx context.Context, client *Client, category, name string) error {
	interval := healthPollInterval
	var lastErr error
	for {
		err := client.GetJSON(ctx, category, name, "/health", nil)
		if err == nil {
			return nil
		}
		if errors.Is(err, domain.ErrServiceNotDeclared) {
			return err
		}
		lastErr = err

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for %s/%s: %w (last error: %v)", category, name, ctx.Err(), lastErr)
		case <-time.After(interval):
		}
		if interval < healthPollBackoff {
			interval *= 2
		}
	}
}
