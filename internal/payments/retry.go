package payments

import (
	"context"
	"time"
)

// RetryConfig bounds the backoff loop used for transient gateway failures.
type RetryConfig struct {
	MaxAttempts int
	BaseDelay   time.Duration
	MaxDelay    time.Duration
}

// DefaultRetryConfig matches the gateway SLO: a handful of quick attempts,
// never stalling checkout for more than a few seconds.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{MaxAttempts: 3, BaseDelay: 200 * time.Millisecond, MaxDelay: 2 * time.Second}
}

// CreateOrderWithRetry calls CreateOrder through the manager, retrying only
// temporary gateway errors with exponential backoff. Validation errors and
// context cancellation abort immediately.
func CreateOrderWithRetry(ctx context.Context, m *Manager, provider string, req GatewayOrderRequest, cfg RetryConfig) (GatewayOrder, error) {
	if cfg.MaxAttempts < 1 {
		cfg.MaxAttempts = 1
	}
	delay := cfg.BaseDelay
	var lastErr error
	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		order, err := m.CreateOrder(ctx, provider, req)
		if err == nil {
			return order, nil
		}
		lastErr = err
		if !IsTemporaryGatewayError(err) || attempt == cfg.MaxAttempts {
			break
		}
		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			return GatewayOrder{}, ctx.Err()
		case <-timer.C:
		}
		delay *= 2
		if cfg.MaxDelay > 0 && delay > cfg.MaxDelay {
			delay = cfg.MaxDelay
		}
	}
	return GatewayOrder{}, lastErr
}
