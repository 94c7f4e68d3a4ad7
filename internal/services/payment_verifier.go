package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/payments"
)

// PaymentVerifierDeps bundles collaborators for the payment verifier.
type PaymentVerifierDeps struct {
	Orders        OrderService
	SigningSecret string
	Clock         func() time.Time
	Logger        func(ctx context.Context, event string, fields map[string]any)
}

type paymentVerifier struct {
	orders OrderService
	secret string
	clock  func() time.Time
	logger func(context.Context, string, map[string]any)
}

// NewPaymentVerifier constructs the verifier guarding the paymentConfirmed
// transition.
func NewPaymentVerifier(deps PaymentVerifierDeps) (PaymentVerifier, error) {
	if deps.Orders == nil {
		return nil, errors.New("payment verifier: order service is required")
	}
	if strings.TrimSpace(deps.SigningSecret) == "" {
		return nil, errors.New("payment verifier: signing secret is required")
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}
	return &paymentVerifier{
		orders: deps.Orders,
		secret: deps.SigningSecret,
		clock: func() time.Time {
			return clock().UTC()
		},
		logger: logger,
	}, nil
}

// Verify runs the verification checks in order and short-circuits on the
// first failure. Only a fully valid callback confirms the payment; any
// failed check records a failed payment attempt and leaves the order
// awaiting retry.
func (v *paymentVerifier) Verify(ctx context.Context, cmd VerifyPaymentCommand) (VerificationResult, error) {
	paymentID := strings.TrimSpace(cmd.GatewayPaymentID)
	if paymentID == "" {
		return VerificationResult{}, fmt.Errorf("%w: gateway payment id is required", ErrOrderInvalidInput)
	}

	var order domain.Order
	var err error
	if orderID := strings.TrimSpace(cmd.OrderID); orderID != "" {
		order, err = v.orders.Get(ctx, orderID)
	} else {
		order, err = v.orders.GetByGatewayOrderID(ctx, strings.TrimSpace(cmd.GatewayOrderID))
	}
	if err != nil {
		return VerificationResult{}, err
	}

	if reason := v.check(order, cmd); reason != "" {
		v.logger(ctx, "payment.verification.rejected", map[string]any{
			"orderId":   order.ID,
			"paymentId": paymentID,
			"reason":    reason,
		})
		failed, err := v.orders.MarkPaymentFailed(ctx, order.ID, paymentID)
		if err != nil && !errors.Is(err, ErrOrderInvalidTransition) {
			return VerificationResult{}, err
		}
		if err == nil {
			order = failed
		}
		return VerificationResult{Valid: false, Reason: reason, Order: order}, nil
	}

	confirmed, err := v.orders.ConfirmPayment(ctx, order.ID, paymentID, strings.TrimSpace(cmd.Signature), v.clock())
	if err != nil {
		return VerificationResult{}, err
	}
	return VerificationResult{Valid: true, Order: confirmed}, nil
}

func (v *paymentVerifier) check(order domain.Order, cmd VerifyPaymentCommand) string {
	if cmd.Amount != 0 && cmd.Amount != order.Payment.Amount {
		return "amount mismatch"
	}
	gatewayOrderID := strings.TrimSpace(cmd.GatewayOrderID)
	if gatewayOrderID == "" || gatewayOrderID != order.Payment.GatewayOrderID {
		return "gateway order id mismatch"
	}
	if !payments.VerifyPaymentSignature(v.secret, gatewayOrderID, strings.TrimSpace(cmd.GatewayPaymentID), strings.TrimSpace(cmd.Signature)) {
		return "signature mismatch"
	}
	return ""
}
