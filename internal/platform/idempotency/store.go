// Package idempotency deduplicates webhook deliveries. A key is marked before
// its side effect runs and released if the effect fails, so the gateway's
// redelivery can retry it.
package idempotency

import (
	"context"
	"time"
)

// DefaultTTL is how long processed keys are retained before the gateway is
// assumed to have stopped redelivering.
const DefaultTTL = 7 * 24 * time.Hour

// Store persists processed-event markers.
type Store interface {
	// MarkProcessed atomically records the key. It returns false when the
	// key was already marked by an earlier delivery.
	MarkProcessed(ctx context.Context, key string, now time.Time, ttl time.Duration) (bool, error)
	// Release removes the marker so a redelivery can be processed again.
	Release(ctx context.Context, key string) error
}
