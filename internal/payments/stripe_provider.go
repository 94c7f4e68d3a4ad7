package payments

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

type stripePaymentIntentAPI interface {
	New(params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
	Get(id string, params *stripe.PaymentIntentParams) (*stripe.PaymentIntent, error)
}

// StripeProviderConfig configures the StripeProvider. Intents is overridable
// so tests can stub the Stripe API.
type StripeProviderConfig struct {
	APIKey   string
	Backends *stripe.Backends
	Clock    func() time.Time
	Intents  stripePaymentIntentAPI
}

// StripeProvider implements Provider using Stripe Payment Intents. A gateway
// order maps to an intent created in manual-confirmation mode.
type StripeProvider struct {
	intents stripePaymentIntentAPI
	clock   func() time.Time
}

// NewStripeProvider constructs a Stripe Provider using the given configuration.
func NewStripeProvider(cfg StripeProviderConfig) (*StripeProvider, error) {
	apiKey := strings.TrimSpace(cfg.APIKey)
	if apiKey == "" && cfg.Intents == nil {
		return nil, errors.New("stripe: api key is required")
	}

	intents := cfg.Intents
	if intents == nil {
		sc := client.New(apiKey, cfg.Backends)
		intents = sc.PaymentIntents
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	return &StripeProvider{
		intents: intents,
		clock: func() time.Time {
			return clock().UTC()
		},
	}, nil
}

// CreateOrder creates a Payment Intent carrying the local order id in its
// metadata so webhook events can be routed back.
func (p *StripeProvider) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	if p == nil {
		return GatewayOrder{}, errors.New("stripe: provider is nil")
	}

	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(req.Amount),
		Currency: stripe.String(strings.ToLower(req.Currency)),
	}
	params.Context = ctx
	if req.Receipt != "" {
		params.SetIdempotencyKey(req.Receipt)
	}
	if len(req.Notes) > 0 {
		params.Metadata = make(map[string]string, len(req.Notes)+1)
		for k, v := range req.Notes {
			params.Metadata[k] = v
		}
	}
	if req.Receipt != "" {
		if params.Metadata == nil {
			params.Metadata = map[string]string{}
		}
		params.Metadata["receipt"] = req.Receipt
	}

	intent, err := p.intents.New(params)
	if err != nil {
		return GatewayOrder{}, wrapStripeError("create_order", err)
	}

	createdAt := p.clock()
	if intent.Created != 0 {
		createdAt = time.Unix(intent.Created, 0).UTC()
	}

	return GatewayOrder{
		ID:        intent.ID,
		Provider:  "stripe",
		Amount:    intent.Amount,
		Currency:  strings.ToUpper(string(intent.Currency)),
		Receipt:   req.Receipt,
		Status:    mapStripeIntentStatus(intent.Status),
		CreatedAt: createdAt,
	}, nil
}

// LookupPayment retrieves a Payment Intent by id.
func (p *StripeProvider) LookupPayment(ctx context.Context, paymentID string) (PaymentRecord, error) {
	if p == nil {
		return PaymentRecord{}, errors.New("stripe: provider is nil")
	}
	params := &stripe.PaymentIntentParams{}
	params.Context = ctx
	intent, err := p.intents.Get(paymentID, params)
	if err != nil {
		return PaymentRecord{}, wrapStripeError("lookup_payment", err)
	}

	record := PaymentRecord{
		ID:             intent.ID,
		GatewayOrderID: intent.ID,
		Amount:         intent.Amount,
		Currency:       strings.ToUpper(string(intent.Currency)),
		Status:         mapStripeIntentStatus(intent.Status),
	}
	if charge := intent.LatestCharge; charge != nil && (charge.Paid || charge.Captured) {
		t := time.Unix(charge.Created, 0).UTC()
		record.CapturedAt = &t
	}
	return record, nil
}

func mapStripeIntentStatus(status stripe.PaymentIntentStatus) Status {
	switch status {
	case stripe.PaymentIntentStatusSucceeded:
		return StatusCaptured
	case stripe.PaymentIntentStatusCanceled:
		return StatusFailed
	default:
		return StatusCreated
	}
}

func wrapStripeError(op string, err error) error {
	var apiErr *stripe.Error
	if errors.As(err, &apiErr) {
		return &GatewayError{
			Provider:   "stripe",
			Op:         op,
			StatusCode: apiErr.HTTPStatusCode,
			Message:    apiErr.Msg,
			Temporary:  apiErr.HTTPStatusCode == 429 || apiErr.HTTPStatusCode >= 500,
			Err:        err,
		}
	}
	return &GatewayError{
		Provider:  "stripe",
		Op:        op,
		Message:   fmt.Sprintf("stripe request failed: %v", err),
		Temporary: true,
		Err:       err,
	}
}
