package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/payments"
)

const testSigningSecret = "whsec_test"

func newVerifierFixture(t *testing.T) (*orderServiceFixture, PaymentVerifier) {
	t.Helper()
	fx := newOrderServiceFixture(t)
	verifier, err := NewPaymentVerifier(PaymentVerifierDeps{
		Orders:        fx.service,
		SigningSecret: testSigningSecret,
		Clock:         func() time.Time { return fx.now },
	})
	if err != nil {
		t.Fatalf("NewPaymentVerifier: %v", err)
	}
	return fx, verifier
}

func TestVerifyConfirmsValidPayment(t *testing.T) {
	fx, verifier := newVerifierFixture(t)
	order := fx.placeOrder(t)
	sig := payments.PaymentSignature(testSigningSecret, order.Payment.GatewayOrderID, "pay_1")

	result, err := verifier.Verify(context.Background(), VerifyPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        sig,
		Amount:           order.Payment.Amount,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got reason %q", result.Reason)
	}
	if result.Order.Status != domain.OrderStatusPaymentConfirmed {
		t.Fatalf("expected paymentConfirmed, got %s", result.Order.Status)
	}
}

func TestVerifyRejectsBadSignature(t *testing.T) {
	fx, verifier := newVerifierFixture(t)
	order := fx.placeOrder(t)

	result, err := verifier.Verify(context.Background(), VerifyPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        "deadbeef",
		Amount:           order.Payment.Amount,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid {
		t.Fatal("tampered signature must not verify")
	}
	if result.Reason != "signature mismatch" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
	if result.Order.Status != domain.OrderStatusPlaced {
		t.Fatalf("rejected verification must leave the order at orderPlaced, got %s", result.Order.Status)
	}
	if result.Order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("rejected verification must record a failed payment, got %s", result.Order.Payment.Status)
	}
}

func TestVerifyRejectsGatewayOrderMismatch(t *testing.T) {
	fx, verifier := newVerifierFixture(t)
	order := fx.placeOrder(t)
	sig := payments.PaymentSignature(testSigningSecret, "order_gw_other", "pay_1")

	result, err := verifier.Verify(context.Background(), VerifyPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   "order_gw_other",
		GatewayPaymentID: "pay_1",
		Signature:        sig,
		Amount:           order.Payment.Amount,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid {
		t.Fatal("mismatched gateway order must not verify")
	}
	if result.Reason != "gateway order id mismatch" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
	if result.Order.Status != domain.OrderStatusPlaced {
		t.Fatalf("order must stay at orderPlaced, got %s", result.Order.Status)
	}
}

func TestVerifyRejectsAmountMismatch(t *testing.T) {
	fx, verifier := newVerifierFixture(t)
	order := fx.placeOrder(t)
	sig := payments.PaymentSignature(testSigningSecret, order.Payment.GatewayOrderID, "pay_1")

	result, err := verifier.Verify(context.Background(), VerifyPaymentCommand{
		OrderID:          order.ID,
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        sig,
		Amount:           order.Payment.Amount - 100,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if result.Valid {
		t.Fatal("mismatched amount must not verify")
	}
	if result.Reason != "amount mismatch" {
		t.Fatalf("unexpected reason %q", result.Reason)
	}
}

func TestVerifyUnknownOrder(t *testing.T) {
	_, verifier := newVerifierFixture(t)
	_, err := verifier.Verify(context.Background(), VerifyPaymentCommand{
		OrderID:          "ord-missing",
		GatewayOrderID:   "order_gw_1",
		GatewayPaymentID: "pay_1",
		Signature:        "sig",
	})
	if !errors.Is(err, ErrOrderNotFound) {
		t.Fatalf("expected ErrOrderNotFound, got %v", err)
	}
}

func TestVerifyResolvesByGatewayOrderID(t *testing.T) {
	fx, verifier := newVerifierFixture(t)
	order := fx.placeOrder(t)
	sig := payments.PaymentSignature(testSigningSecret, order.Payment.GatewayOrderID, "pay_1")

	result, err := verifier.Verify(context.Background(), VerifyPaymentCommand{
		GatewayOrderID:   order.Payment.GatewayOrderID,
		GatewayPaymentID: "pay_1",
		Signature:        sig,
	})
	if err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got reason %q", result.Reason)
	}
}
