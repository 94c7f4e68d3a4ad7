// Package payments abstracts the external payment gateway: creating
// gateway-side payment orders, looking payments up for reconciliation, and
// verifying gateway signatures.
package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Status enumerates the normalised payment states shared across providers.
type Status string

const (
	// StatusCreated indicates the gateway order exists but is unpaid.
	StatusCreated Status = "created"
	// StatusCaptured indicates the gateway reports the payment as captured.
	StatusCaptured Status = "captured"
	// StatusFailed indicates the gateway reports a failed attempt.
	StatusFailed Status = "failed"
)

// ErrUnsupportedProvider is returned when the manager cannot locate a provider.
var ErrUnsupportedProvider = errors.New("payments: unsupported provider")

// GatewayError wraps a network or provider failure creating or reading a
// gateway order. Temporary errors may be retried with backoff; validation
// (4xx) errors are terminal.
type GatewayError struct {
	Provider   string
	Op         string
	StatusCode int
	Message    string
	Temporary  bool
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("payments: %s %s failed with status %d: %s", e.Provider, e.Op, e.StatusCode, e.Message)
	}
	return fmt.Sprintf("payments: %s %s failed: %s", e.Provider, e.Op, e.Message)
}

func (e *GatewayError) Unwrap() error { return e.Err }

// IsTemporaryGatewayError reports whether err is a retryable gateway failure.
func IsTemporaryGatewayError(err error) bool {
	var gw *GatewayError
	return errors.As(err, &gw) && gw.Temporary
}

// GatewayOrderRequest carries the payload for creating a gateway-side order.
// Amount is in minor units; Notes travel to the gateway and come back on
// webhook events (they carry the local order id).
type GatewayOrderRequest struct {
	Amount   int64
	Currency string
	Receipt  string
	Notes    map[string]string
}

// GatewayOrder is the provider's record of a single checkout attempt, bound
// 1:1 to a local order at creation time.
type GatewayOrder struct {
	ID        string
	Provider  string
	Amount    int64
	Currency  string
	Receipt   string
	Status    Status
	CreatedAt time.Time
}

// PaymentRecord normalises provider-specific payment fields for reconciliation.
type PaymentRecord struct {
	ID             string
	GatewayOrderID string
	Amount         int64
	Currency       string
	Status         Status
	Method         string
	CapturedAt     *time.Time
}

// Provider defines the contract gateway adapters implement.
type Provider interface {
	CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error)
	LookupPayment(ctx context.Context, paymentID string) (PaymentRecord, error)
}

// Manager selects among registered providers and exposes the aggregated
// gateway client interface.
type Manager struct {
	providers       map[string]Provider
	defaultProvider string
}

// ManagerOption configures optional behaviour when building a Manager.
type ManagerOption func(*Manager)

// WithDefaultProvider overrides which provider handles requests that do not
// name one explicitly.
func WithDefaultProvider(provider string) ManagerOption {
	return func(m *Manager) {
		m.defaultProvider = strings.ToLower(strings.TrimSpace(provider))
	}
}

// NewManager constructs a Manager over the supplied providers.
func NewManager(providers map[string]Provider, opts ...ManagerOption) (*Manager, error) {
	if len(providers) == 0 {
		return nil, errors.New("payments: at least one provider is required")
	}
	registry := make(map[string]Provider, len(providers))
	for key, p := range providers {
		name := strings.ToLower(strings.TrimSpace(key))
		if name == "" || p == nil {
			return nil, fmt.Errorf("payments: invalid provider registration for key %q", key)
		}
		registry[name] = p
	}
	m := &Manager{providers: registry}
	if _, ok := registry["razorpay"]; ok {
		m.defaultProvider = "razorpay"
	}
	for _, opt := range opts {
		opt(m)
	}
	return m, nil
}

func (m *Manager) resolve(preferred string) (string, Provider, error) {
	if m == nil || len(m.providers) == 0 {
		return "", nil, errors.New("payments: no providers registered")
	}
	if name := strings.ToLower(strings.TrimSpace(preferred)); name != "" {
		if p, ok := m.providers[name]; ok {
			return name, p, nil
		}
		return "", nil, fmt.Errorf("%w: %q", ErrUnsupportedProvider, preferred)
	}
	if m.defaultProvider != "" {
		if p, ok := m.providers[m.defaultProvider]; ok {
			return m.defaultProvider, p, nil
		}
	}
	if len(m.providers) == 1 {
		for name, p := range m.providers {
			return name, p, nil
		}
	}
	return "", nil, ErrUnsupportedProvider
}

// CreateOrder delegates to the named (or default) provider.
func (m *Manager) CreateOrder(ctx context.Context, provider string, req GatewayOrderRequest) (GatewayOrder, error) {
	name, p, err := m.resolve(provider)
	if err != nil {
		return GatewayOrder{}, err
	}
	order, err := p.CreateOrder(ctx, req)
	if err != nil {
		return GatewayOrder{}, err
	}
	order.Provider = name
	return order, nil
}

// LookupPayment delegates to the named (or default) provider.
func (m *Manager) LookupPayment(ctx context.Context, provider string, paymentID string) (PaymentRecord, error) {
	_, p, err := m.resolve(provider)
	if err != nil {
		return PaymentRecord{}, err
	}
	return p.LookupPayment(ctx, paymentID)
}
