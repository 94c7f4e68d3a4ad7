package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/platform/idempotency"
)

// WebhookServiceDeps bundles collaborators for the webhook processor.
type WebhookServiceDeps struct {
	Orders   OrderService
	Verifier PaymentVerifier
	Dedup    idempotency.Store
	DedupTTL time.Duration
	Clock    func() time.Time
	Logger   func(ctx context.Context, event string, fields map[string]any)
}

type webhookService struct {
	orders   OrderService
	verifier PaymentVerifier
	dedup    idempotency.Store
	dedupTTL time.Duration
	clock    func() time.Time
	logger   func(context.Context, string, map[string]any)
}

// NewWebhookService constructs the gateway webhook processor.
func NewWebhookService(deps WebhookServiceDeps) (WebhookProcessor, error) {
	if deps.Orders == nil {
		return nil, errors.New("webhook service: order service is required")
	}
	if deps.Verifier == nil {
		return nil, errors.New("webhook service: payment verifier is required")
	}
	if deps.Dedup == nil {
		return nil, errors.New("webhook service: dedup store is required")
	}
	ttl := deps.DedupTTL
	if ttl <= 0 {
		ttl = idempotency.DefaultTTL
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &webhookService{
		orders:   deps.Orders,
		verifier: deps.Verifier,
		dedup:    deps.Dedup,
		dedupTTL: ttl,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Process applies a webhook delivery exactly once. The dedup marker is taken
// before the side effect and released again when the effect fails, so the
// gateway's redelivery gets another chance.
func (s *webhookService) Process(ctx context.Context, event domain.WebhookEvent) error {
	if err := validateWebhookEvent(event); err != nil {
		return err
	}

	switch event.Event {
	case domain.WebhookEventPaymentCaptured, domain.WebhookEventPaymentFailed:
	default:
		// Unknown event types are acknowledged without effect so the
		// gateway stops redelivering them.
		s.logger(ctx, "webhook.event.ignored", map[string]any{
			"eventType": event.Event,
			"paymentId": event.Payment.ID,
		})
		return nil
	}

	key := event.DedupKey()
	fresh, err := s.dedup.MarkProcessed(ctx, key, s.clock(), s.dedupTTL)
	if err != nil {
		return fmt.Errorf("webhook: mark processed: %w", err)
	}
	if !fresh {
		s.logger(ctx, "webhook.event.duplicate", map[string]any{
			"eventType": event.Event,
			"paymentId": event.Payment.ID,
		})
		return nil
	}

	if err := s.apply(ctx, event); err != nil {
		if releaseErr := s.dedup.Release(ctx, key); releaseErr != nil {
			s.logger(ctx, "webhook.dedup.release_failed", map[string]any{
				"key":   key,
				"error": releaseErr.Error(),
			})
		}
		return err
	}
	return nil
}

func (s *webhookService) apply(ctx context.Context, event domain.WebhookEvent) error {
	switch event.Event {
	case domain.WebhookEventPaymentCaptured:
		return s.applyCaptured(ctx, event)
	case domain.WebhookEventPaymentFailed:
		return s.applyFailed(ctx, event)
	}
	return nil
}

// applyCaptured resolves the order by the local id carried in the event's
// notes, then delegates to the payment verifier. A capture is only trusted
// after the verifier has matched the amount, the gateway order id and the
// payment signature.
func (s *webhookService) applyCaptured(ctx context.Context, event domain.WebhookEvent) error {
	order, err := s.orders.Get(ctx, event.Payment.LocalOrderID())
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			// No local order for this delivery. Acknowledge so the gateway
			// does not redeliver forever.
			s.logger(ctx, "webhook.order.unknown", map[string]any{
				"orderId":   event.Payment.LocalOrderID(),
				"paymentId": event.Payment.ID,
			})
			return nil
		}
		return err
	}

	if event.Payment.Amount <= 0 {
		// A capture without an amount cannot be matched against the order.
		s.logger(ctx, "webhook.amount.mismatch", map[string]any{
			"orderId":   order.ID,
			"paymentId": event.Payment.ID,
			"expected":  order.Payment.Amount.MinorUnits(),
			"received":  event.Payment.Amount,
		})
		_, err := s.orders.MarkPaymentFailed(ctx, order.ID, event.Payment.ID)
		if errors.Is(err, ErrOrderInvalidTransition) {
			return nil
		}
		return err
	}

	result, err := s.verifier.Verify(ctx, VerifyPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   event.Payment.OrderID,
		GatewayPaymentID: event.Payment.ID,
		Signature:        event.Payment.Signature,
		Amount:           domain.AmountFromMinorUnits(event.Payment.Amount),
	})
	if err != nil {
		if errors.Is(err, ErrOrderInvalidTransition) {
			// The order already moved on; there is nothing to redeliver.
			s.logger(ctx, "webhook.transition.skipped", map[string]any{
				"orderId":   order.ID,
				"eventType": event.Event,
			})
			return nil
		}
		return err
	}
	if !result.Valid {
		// The verifier already recorded the failed attempt; acknowledge the
		// delivery so the gateway does not retry a terminal rejection.
		s.logger(ctx, "webhook.verification.rejected", map[string]any{
			"orderId":   order.ID,
			"paymentId": event.Payment.ID,
			"reason":    result.Reason,
		})
	}
	return nil
}

func (s *webhookService) applyFailed(ctx context.Context, event domain.WebhookEvent) error {
	order, err := s.orders.GetByGatewayOrderID(ctx, event.Payment.OrderID)
	if err != nil {
		if errors.Is(err, ErrOrderNotFound) {
			s.logger(ctx, "webhook.order.unknown", map[string]any{
				"gatewayOrderId": event.Payment.OrderID,
				"paymentId":      event.Payment.ID,
			})
			return nil
		}
		return err
	}

	_, err = s.orders.MarkPaymentFailed(ctx, order.ID, event.Payment.ID)
	if errors.Is(err, ErrOrderInvalidTransition) {
		s.logger(ctx, "webhook.transition.skipped", map[string]any{
			"orderId":   order.ID,
			"eventType": event.Event,
		})
		return nil
	}
	return err
}

func validateWebhookEvent(event domain.WebhookEvent) error {
	if strings.TrimSpace(event.Event) == "" {
		return fmt.Errorf("%w: event type is required", ErrMalformedWebhook)
	}
	if strings.TrimSpace(event.Payment.ID) == "" {
		return fmt.Errorf("%w: payment id is required", ErrMalformedWebhook)
	}
	if strings.TrimSpace(event.Payment.OrderID) == "" {
		return fmt.Errorf("%w: gateway order id is required", ErrMalformedWebhook)
	}
	if event.Event == domain.WebhookEventPaymentCaptured && event.Payment.LocalOrderID() == "" {
		return fmt.Errorf("%w: order id missing from notes", ErrMalformedWebhook)
	}
	return nil
}
