package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/payments"
	"github.com/vesture-shop/api/internal/pricing"
	"github.com/vesture-shop/api/internal/repositories/memory"
)

type checkoutFixture struct {
	orders   OrderService
	checkout *CheckoutService
	bus      *OrderEventBus
}

func newCheckoutFixture(t *testing.T, window time.Duration) *checkoutFixture {
	t.Helper()
	repo := memory.NewOrderRepository()
	catalog := memory.DefaultCatalog()
	engine := pricing.NewEngine(pricing.Config{})
	bus := NewOrderEventBus()
	manager, err := payments.NewManager(map[string]payments.Provider{"razorpay": &gatewayStub{}})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}
	orders, err := NewOrderService(OrderServiceDeps{
		Orders:  repo,
		Catalog: catalog,
		Pricing: engine,
		Gateway: manager,
		Events:  bus,
	})
	if err != nil {
		t.Fatalf("NewOrderService: %v", err)
	}
	checkout, err := NewCheckoutService(CheckoutServiceDeps{
		Orders:            orders,
		Catalog:           catalog,
		Pricing:           engine,
		PaymentWindow:     window,
		ReconcileInterval: 10 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewCheckoutService: %v", err)
	}
	bus.Subscribe(checkout.HandlePaymentOutcome)
	t.Cleanup(checkout.Close)
	return &checkoutFixture{orders: orders, checkout: checkout, bus: bus}
}

func beginSession(t *testing.T, fx *checkoutFixture) CheckoutSession {
	t.Helper()
	session, err := fx.checkout.Begin(context.Background(), BeginCheckoutCommand{
		UserID: "user-1",
		Items:  []OrderItemInput{{ProductID: "prod-sneaker-court", Quantity: 1, Size: "9", Color: "white"}},
		Customer: domain.CustomerInfo{
			Name:  "Asha Rao",
			Email: "asha@example.com",
		},
	})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	return session
}

func advanceToProcessing(t *testing.T, fx *checkoutFixture) CheckoutSession {
	t.Helper()
	ctx := context.Background()
	session := beginSession(t, fx)

	if _, err := fx.checkout.Next(ctx, session.ID); err != nil {
		t.Fatalf("Next to address: %v", err)
	}
	if _, err := fx.checkout.SetAddress(ctx, session.ID, domain.Address{
		Line1:      "14 MG Road",
		City:       "Bengaluru",
		State:      "KA",
		PostalCode: "560001",
		Country:    "IN",
	}); err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	if _, err := fx.checkout.Next(ctx, session.ID); err != nil {
		t.Fatalf("Next to paymentMethod: %v", err)
	}
	if _, err := fx.checkout.SetPaymentMethod(ctx, session.ID, domain.PaymentMethodRazorpay); err != nil {
		t.Fatalf("SetPaymentMethod: %v", err)
	}
	if _, err := fx.checkout.Next(ctx, session.ID); err != nil {
		t.Fatalf("Next to reviewOrder: %v", err)
	}
	out, err := fx.checkout.Next(ctx, session.ID)
	if err != nil {
		t.Fatalf("Next to processingPayment: %v", err)
	}
	return out
}

func TestCheckoutHappyPathPlacesOrder(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)

	if session.Step != CheckoutStepProcessingPayment {
		t.Fatalf("expected processingPayment, got %s", session.Step)
	}
	if session.OrderID == "" {
		t.Fatal("entering payment must place an order")
	}

	order, err := fx.orders.Get(context.Background(), session.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != domain.OrderStatusPlaced {
		t.Fatalf("expected orderPlaced, got %s", order.Status)
	}
	if order.Totals.Total != session.Totals.Total {
		t.Fatal("session totals must match the placed order")
	}
}

func TestCheckoutNextPreconditions(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	ctx := context.Background()
	session := beginSession(t, fx)

	if _, err := fx.checkout.Next(ctx, session.ID); err != nil {
		t.Fatalf("Next to address: %v", err)
	}
	if _, err := fx.checkout.Next(ctx, session.ID); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("advancing without an address must fail, got %v", err)
	}
	if _, err := fx.checkout.SetAddress(ctx, session.ID, domain.Address{Line1: "14 MG Road", City: "Bengaluru", PostalCode: "560001"}); err != nil {
		t.Fatalf("SetAddress: %v", err)
	}
	if _, err := fx.checkout.Next(ctx, session.ID); err != nil {
		t.Fatalf("Next to paymentMethod: %v", err)
	}
	if _, err := fx.checkout.Next(ctx, session.ID); !errors.Is(err, ErrCheckoutInvalidInput) {
		t.Fatalf("advancing without a payment method must fail, got %v", err)
	}
}

func TestCheckoutPrevious(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	ctx := context.Background()
	session := beginSession(t, fx)

	if _, err := fx.checkout.Previous(ctx, session.ID); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("review has no previous step, got %v", err)
	}

	if _, err := fx.checkout.Next(ctx, session.ID); err != nil {
		t.Fatalf("Next: %v", err)
	}
	back, err := fx.checkout.Previous(ctx, session.ID)
	if err != nil {
		t.Fatalf("Previous: %v", err)
	}
	if back.Step != CheckoutStepReview {
		t.Fatalf("expected review, got %s", back.Step)
	}
}

func TestCheckoutApplyCoupon(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	ctx := context.Background()
	session := beginSession(t, fx)
	baseTotal := session.Totals.Total

	discounted, err := fx.checkout.ApplyCoupon(ctx, session.ID, "welcome10")
	if err != nil {
		t.Fatalf("ApplyCoupon: %v", err)
	}
	if discounted.CouponCode != "WELCOME10" {
		t.Fatalf("expected normalised code, got %q", discounted.CouponCode)
	}
	if discounted.Totals.Discount == 0 || discounted.Totals.Total >= baseTotal {
		t.Fatalf("coupon must reduce the total: %+v", discounted.Totals)
	}

	unknown, err := fx.checkout.ApplyCoupon(ctx, session.ID, "BOGUS50")
	if err != nil {
		t.Fatalf("unknown coupon must not error: %v", err)
	}
	if unknown.CouponNotice == "" {
		t.Fatal("unknown coupon must surface a notice")
	}
	if unknown.CouponCode != "" {
		t.Fatalf("unknown coupon must clear the code, got %q", unknown.CouponCode)
	}
	if unknown.Totals.Total != baseTotal {
		t.Fatalf("unknown coupon must restore the undiscounted total, got %s", unknown.Totals.Total)
	}
}

func TestCheckoutPaymentSuccessViaEventBus(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	if _, err := fx.orders.ConfirmPayment(ctx, session.OrderID, "pay_1", "sig", time.Now()); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}

	updated, err := fx.checkout.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if updated.Step != CheckoutStepSuccess {
		t.Fatalf("expected success, got %s", updated.Step)
	}
}

func TestCheckoutPaymentFailureAndRetry(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	if _, err := fx.orders.MarkPaymentFailed(ctx, session.OrderID, "pay_1"); err != nil {
		t.Fatalf("MarkPaymentFailed: %v", err)
	}

	failed, err := fx.checkout.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if failed.Step != CheckoutStepFailed {
		t.Fatalf("expected failed, got %s", failed.Step)
	}
	if failed.FailureReason == "" {
		t.Fatal("failed sessions must carry a reason")
	}

	retried, err := fx.checkout.Retry(ctx, session.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Step != CheckoutStepProcessingPayment {
		t.Fatalf("expected processingPayment after retry, got %s", retried.Step)
	}
	if retried.PaymentAttempts != 2 {
		t.Fatalf("expected second attempt, got %d", retried.PaymentAttempts)
	}

	if _, err := fx.orders.ConfirmPayment(ctx, session.OrderID, "pay_2", "sig", time.Now()); err != nil {
		t.Fatalf("ConfirmPayment: %v", err)
	}
	final, _ := fx.checkout.Get(ctx, session.ID)
	if final.Step != CheckoutStepSuccess {
		t.Fatalf("expected success after retry, got %s", final.Step)
	}
}

func TestCheckoutPaymentWindowExpiry(t *testing.T) {
	fx := newCheckoutFixture(t, 50*time.Millisecond)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	deadline := time.Now().Add(2 * time.Second)
	for {
		current, err := fx.checkout.Get(ctx, session.ID)
		if err != nil {
			t.Fatalf("Get: %v", err)
		}
		if current.Step == CheckoutStepFailed {
			if current.FailureReason != "payment window expired" {
				t.Fatalf("unexpected reason %q", current.FailureReason)
			}
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("payment window did not expire, still at %s", current.Step)
		}
		time.Sleep(10 * time.Millisecond)
	}

	order, err := fx.orders.Get(ctx, session.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != domain.OrderStatusPlaced {
		t.Fatalf("expiry must leave the order retryable at orderPlaced, got %s", order.Status)
	}
	if order.Payment.Status != domain.PaymentStatusFailed {
		t.Fatalf("expiry must record a failed payment, got %s", order.Payment.Status)
	}
}

func TestCheckoutRetryAfterExpiryCanStillConfirm(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	fx.checkout.expirePayment(session.ID)
	expired, err := fx.checkout.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if expired.Step != CheckoutStepFailed {
		t.Fatalf("expected failed after expiry, got %s", expired.Step)
	}

	retried, err := fx.checkout.Retry(ctx, session.ID)
	if err != nil {
		t.Fatalf("Retry: %v", err)
	}
	if retried.Step != CheckoutStepProcessingPayment {
		t.Fatalf("expected processingPayment after retry, got %s", retried.Step)
	}

	// A payment completed on the retried attempt still confirms the order
	// and resolves the session.
	if _, err := fx.orders.ConfirmPayment(ctx, session.OrderID, "pay_retry", "sig", time.Now()); err != nil {
		t.Fatalf("ConfirmPayment after retry: %v", err)
	}
	final, err := fx.checkout.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if final.Step != CheckoutStepSuccess {
		t.Fatalf("expected success after retried payment, got %s", final.Step)
	}
	order, err := fx.orders.Get(ctx, session.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != domain.OrderStatusPaymentConfirmed {
		t.Fatalf("expected paymentConfirmed, got %s", order.Status)
	}
}

func TestCheckoutCancelAtProcessingCancelsOrder(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	cancelled, err := fx.checkout.Cancel(ctx, session.ID, "changed my mind")
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if cancelled.Step != CheckoutStepCancelled {
		t.Fatalf("expected cancelled, got %s", cancelled.Step)
	}

	order, err := fx.orders.Get(ctx, session.OrderID)
	if err != nil {
		t.Fatalf("Get order: %v", err)
	}
	if order.Status != domain.OrderStatusCancelled {
		t.Fatalf("cancelling checkout must cancel the order, got %s", order.Status)
	}
	if order.Metadata.Attributes["cancelReason"] != "changed my mind" {
		t.Fatalf("cancel reason not propagated: %v", order.Metadata.Attributes)
	}
}

func TestCheckoutLateOutcomeAfterCancelIsSwallowed(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	if _, err := fx.checkout.Cancel(ctx, session.ID, "abandoned"); err != nil {
		t.Fatalf("Cancel: %v", err)
	}

	// A late failure event for the cancelled session changes nothing.
	fx.checkout.HandlePaymentOutcome(ctx, OrderEvent{
		Type:    OrderEventPaymentFailed,
		OrderID: session.OrderID,
	})
	current, err := fx.checkout.Get(ctx, session.ID)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if current.Step != CheckoutStepCancelled {
		t.Fatalf("late outcomes must not resurrect the session, got %s", current.Step)
	}
}

func TestCheckoutMutationsLockedDuringPayment(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	session := advanceToProcessing(t, fx)
	ctx := context.Background()

	if _, err := fx.checkout.SetAddress(ctx, session.ID, domain.Address{Line1: "x", City: "y", PostalCode: "z"}); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("address must be locked during payment, got %v", err)
	}
	if _, err := fx.checkout.SetPaymentMethod(ctx, session.ID, domain.PaymentMethodCOD); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("payment method must be locked during payment, got %v", err)
	}
	if _, err := fx.checkout.ApplyCoupon(ctx, session.ID, "WELCOME10"); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("coupons must be locked during payment, got %v", err)
	}
	if _, err := fx.checkout.Previous(ctx, session.ID); !errors.Is(err, ErrCheckoutInvalidStep) {
		t.Fatalf("previous must be locked during payment, got %v", err)
	}
}

func TestCheckoutUnknownSession(t *testing.T) {
	fx := newCheckoutFixture(t, time.Minute)
	if _, err := fx.checkout.Get(context.Background(), "chk_missing"); !errors.Is(err, ErrCheckoutNotFound) {
		t.Fatalf("expected ErrCheckoutNotFound, got %v", err)
	}
}
