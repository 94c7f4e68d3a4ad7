package services

import (
	"context"
	"sync"
	"time"
)

const (
	// OrderEventPaymentConfirmed fires when a payment is verified and the
	// order reaches paymentConfirmed.
	OrderEventPaymentConfirmed = "order.payment.confirmed"
	// OrderEventPaymentFailed fires when the gateway reports a failed payment.
	OrderEventPaymentFailed = "order.payment.failed"
	// OrderEventStatusChanged fires on every fulfilment transition.
	OrderEventStatusChanged = "order.status.changed"
	// OrderEventCancelled fires when an order is cancelled.
	OrderEventCancelled = "order.cancelled"
)

// OrderEvent captures metadata for emitted order domain events.
type OrderEvent struct {
	Type           string
	OrderID        string
	PreviousStatus string
	CurrentStatus  string
	OccurredAt     time.Time
	Metadata       map[string]any
}

// OrderEventPublisher publishes order domain events for downstream consumers.
type OrderEventPublisher interface {
	PublishOrderEvent(ctx context.Context, event OrderEvent) error
}

// OrderEventHandler receives published events. Handlers must not block.
type OrderEventHandler func(ctx context.Context, event OrderEvent)

// OrderEventBus fans out order events to in-process subscribers. The checkout
// service subscribes to learn about payment outcomes without polling.
type OrderEventBus struct {
	mu       sync.RWMutex
	handlers []OrderEventHandler
}

// NewOrderEventBus constructs an empty bus.
func NewOrderEventBus() *OrderEventBus {
	return &OrderEventBus{}
}

// Subscribe registers a handler for all future events.
func (b *OrderEventBus) Subscribe(handler OrderEventHandler) {
	if handler == nil {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.handlers = append(b.handlers, handler)
}

// PublishOrderEvent implements OrderEventPublisher. Delivery is synchronous
// and in registration order.
func (b *OrderEventBus) PublishOrderEvent(ctx context.Context, event OrderEvent) error {
	b.mu.RLock()
	handlers := make([]OrderEventHandler, len(b.handlers))
	copy(handlers, b.handlers)
	b.mu.RUnlock()

	for _, handler := range handlers {
		handler(ctx, event)
	}
	return nil
}
