package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/vesture-shop/api/internal/payments"
	"github.com/vesture-shop/api/internal/platform/idempotency"
	"github.com/vesture-shop/api/internal/pricing"
	"github.com/vesture-shop/api/internal/repositories/memory"
	"github.com/vesture-shop/api/internal/services"
)

const testSigningSecret = "whsec_handlers"

type stubGateway struct {
	createFn func(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error)
}

func (s *stubGateway) CreateOrder(ctx context.Context, req payments.GatewayOrderRequest) (payments.GatewayOrder, error) {
	if s.createFn != nil {
		return s.createFn(ctx, req)
	}
	return payments.GatewayOrder{
		ID:       "rzp_order_" + req.Receipt,
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   payments.StatusCreated,
	}, nil
}

func (s *stubGateway) LookupPayment(context.Context, string) (payments.PaymentRecord, error) {
	return payments.PaymentRecord{}, fmt.Errorf("not implemented")
}

type apiFixture struct {
	router   http.Handler
	orders   services.OrderService
	checkout *services.CheckoutService
	clock    time.Time
}

func newAPIFixture(t *testing.T) *apiFixture {
	t.Helper()

	repo := memory.NewOrderRepository()
	catalog := memory.DefaultCatalog()
	engine := pricing.NewEngine(pricing.Config{})
	clock := time.Date(2026, 4, 2, 9, 0, 0, 0, time.UTC)

	manager, err := payments.NewManager(map[string]payments.Provider{
		"razorpay": &stubGateway{},
	})
	if err != nil {
		t.Fatalf("new manager: %v", err)
	}

	bus := services.NewOrderEventBus()

	counter := 0
	orders, err := services.NewOrderService(services.OrderServiceDeps{
		Orders:   repo,
		Catalog:  catalog,
		Pricing:  engine,
		Gateway:  manager,
		Currency: "INR",
		Clock:    func() time.Time { return clock },
		IDGenerator: func() string {
			counter++
			return fmt.Sprintf("ord_%04d", counter)
		},
		Events: bus,
	})
	if err != nil {
		t.Fatalf("new order service: %v", err)
	}

	verifier, err := services.NewPaymentVerifier(services.PaymentVerifierDeps{
		Orders:        orders,
		SigningSecret: testSigningSecret,
		Clock:         func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("new verifier: %v", err)
	}

	webhooks, err := services.NewWebhookService(services.WebhookServiceDeps{
		Orders:   orders,
		Verifier: verifier,
		Dedup:    idempotency.NewMemoryStore(),
		Clock:    func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("new webhook service: %v", err)
	}

	checkout, err := services.NewCheckoutService(services.CheckoutServiceDeps{
		Orders:  orders,
		Catalog: catalog,
		Pricing: engine,
		Clock:   func() time.Time { return clock },
	})
	if err != nil {
		t.Fatalf("new checkout service: %v", err)
	}
	t.Cleanup(checkout.Close)
	bus.Subscribe(checkout.HandlePaymentOutcome)

	orderHandlers := NewOrderHandlers(orders)
	paymentHandlers := NewPaymentHandlers(PaymentHandlersConfig{
		Verifier:      verifier,
		Webhooks:      webhooks,
		SigningSecret: testSigningSecret,
	})
	checkoutHandlers := NewCheckoutHandlers(checkout)

	router := NewRouter(
		WithOrderRoutes(orderHandlers.Routes),
		WithPaymentRoutes(paymentHandlers.Routes),
		WithCheckoutRoutes(checkoutHandlers.Routes),
	)

	return &apiFixture{
		router:   router,
		orders:   orders,
		checkout: checkout,
		clock:    clock,
	}
}

func (f *apiFixture) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal request body: %v", err)
		}
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}
	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func decodeResponse[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var out T
	if err := json.Unmarshal(rec.Body.Bytes(), &out); err != nil {
		t.Fatalf("decode response %q: %v", rec.Body.String(), err)
	}
	return out
}

func validOrderBody() map[string]any {
	return map[string]any{
		"userId": "user-1",
		"items": []map[string]any{
			{"productId": "prod-sneaker-court", "quantity": 1, "size": "9", "color": "white"},
		},
		"customer": map[string]any{
			"name":  "Asha Rao",
			"email": "asha@example.com",
			"address": map[string]any{
				"line1":      "14 Marine Drive",
				"city":       "Mumbai",
				"postalCode": "400001",
			},
		},
		"paymentMethod": "razorpay",
	}
}

func (f *apiFixture) placeOrder(t *testing.T) orderPayload {
	t.Helper()
	rec := f.do(t, http.MethodPost, "/api/v1/orders", validOrderBody())
	if rec.Code != http.StatusCreated {
		t.Fatalf("create order: status %d body %s", rec.Code, rec.Body.String())
	}
	return decodeResponse[orderResponse](t, rec).Order
}
