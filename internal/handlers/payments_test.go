package handlers

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/payments"
)

// confirmPayment drives the verify endpoint with a correctly signed payload.
func (f *apiFixture) confirmPayment(t *testing.T, order orderPayload, paymentID string) {
	t.Helper()
	amount, err := domain.ParseAmount(order.Totals.Total)
	if err != nil {
		t.Fatalf("parse total: %v", err)
	}
	rec := f.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
		"orderId":          order.ID,
		"gatewayOrderId":   order.Payment.GatewayOrderID,
		"gatewayPaymentId": paymentID,
		"signature":        payments.PaymentSignature(testSigningSecret, order.Payment.GatewayOrderID, paymentID),
		"expectedAmount":   amount.MinorUnits(),
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("verify: code = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeResponse[verifyPaymentResponse](t, rec)
	if !result.IsValid {
		t.Fatalf("verify rejected: %+v", result)
	}
}

func TestVerifyPaymentConfirmsOrder(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)

	fixture.confirmPayment(t, created, "pay_abc")

	rec := fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	order := decodeResponse[orderResponse](t, rec).Order
	if order.Status != "paymentConfirmed" {
		t.Fatalf("status = %q, want paymentConfirmed", order.Status)
	}
	if !order.Payment.Verified {
		t.Fatal("expected payment to be marked verified")
	}
	if order.Payment.GatewayPaymentID != "pay_abc" {
		t.Fatalf("gateway payment id = %q, want pay_abc", order.Payment.GatewayPaymentID)
	}
}

func TestVerifyPaymentBadSignature(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)

	rec := fixture.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
		"orderId":          created.ID,
		"gatewayOrderId":   created.Payment.GatewayOrderID,
		"gatewayPaymentId": "pay_abc",
		"signature":        "deadbeef",
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}
	result := decodeResponse[verifyPaymentResponse](t, rec)
	if result.IsValid {
		t.Fatal("expected verification to fail")
	}
	if result.Reason == "" {
		t.Fatal("expected a failure reason")
	}

	// The order stays retryable at orderPlaced with a failed payment.
	rec = fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	order := decodeResponse[orderResponse](t, rec).Order
	if order.Status != "orderPlaced" {
		t.Fatalf("status = %q, want orderPlaced", order.Status)
	}
	if order.Payment.Status != "failed" {
		t.Fatalf("payment status = %q, want failed", order.Payment.Status)
	}
}

func TestVerifyPaymentUnknownOrder(t *testing.T) {
	fixture := newAPIFixture(t)

	rec := fixture.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
		"orderId":          "ord_missing",
		"gatewayOrderId":   "rzp_order_missing",
		"gatewayPaymentId": "pay_abc",
		"signature":        "irrelevant",
	})
	if rec.Code != http.StatusNotFound {
		t.Fatalf("code = %d, want 404", rec.Code)
	}
}

func TestVerifyPaymentMissingFields(t *testing.T) {
	fixture := newAPIFixture(t)

	rec := fixture.do(t, http.MethodPost, "/api/v1/payments/verify", map[string]any{
		"orderId": "ord_1",
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
}

func webhookBody(order orderPayload, event, paymentID string, amount int64) map[string]any {
	return map[string]any{
		"event": event,
		"payload": map[string]any{
			"payment": map[string]any{
				"id":        paymentID,
				"order_id":  order.Payment.GatewayOrderID,
				"amount":    amount,
				"currency":  "INR",
				"signature": payments.PaymentSignature(testSigningSecret, order.Payment.GatewayOrderID, paymentID),
				"notes":     map[string]string{"order_id": order.ID},
			},
		},
	}
}

// deliverWebhook posts a webhook body with a valid transport signature header,
// the way the gateway delivers it.
func (f *apiFixture) deliverWebhook(t *testing.T, body map[string]any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	if err != nil {
		t.Fatalf("marshal webhook body: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Razorpay-Signature", payments.WebhookSignature(testSigningSecret, raw))
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func TestWebhookCapturedConfirmsOrder(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)
	amount, _ := domain.ParseAmount(created.Totals.Total)

	body := webhookBody(created, "payment.captured", "pay_hook", amount.MinorUnits())
	rec := fixture.deliverWebhook(t, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	order := decodeResponse[orderResponse](t, rec).Order
	if order.Status != "paymentConfirmed" {
		t.Fatalf("status = %q, want paymentConfirmed", order.Status)
	}

	// Redelivery of the same event is acknowledged without another transition.
	rec = fixture.deliverWebhook(t, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("redelivery code = %d, want 200", rec.Code)
	}
	rec = fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	replayed := decodeResponse[orderResponse](t, rec).Order
	if replayed.Version != order.Version {
		t.Fatalf("version moved on redelivery: %d -> %d", order.Version, replayed.Version)
	}
}

func TestWebhookFailedRecordsFailure(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)

	rec := fixture.deliverWebhook(t, webhookBody(created, "payment.failed", "pay_hook", 0))
	if rec.Code != http.StatusOK {
		t.Fatalf("code = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	order := decodeResponse[orderResponse](t, rec).Order
	if order.Status != "orderPlaced" {
		t.Fatalf("status = %q, want orderPlaced", order.Status)
	}
	if order.Payment.Status != "failed" {
		t.Fatalf("payment status = %q, want failed", order.Payment.Status)
	}
}

func TestWebhookMalformedPayload(t *testing.T) {
	fixture := newAPIFixture(t)

	rec := fixture.deliverWebhook(t, map[string]any{
		"event":   "payment.captured",
		"payload": map[string]any{"payment": map[string]any{}},
	})
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}
	errBody := decodeResponse[map[string]any](t, rec)
	if errBody["error"] != "malformed_webhook" {
		t.Fatalf("error code = %v, want malformed_webhook", errBody["error"])
	}
}

func TestWebhookMissingNotesRejected(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)
	amount, _ := domain.ParseAmount(created.Totals.Total)

	body := webhookBody(created, "payment.captured", "pay_hook", amount.MinorUnits())
	body["payload"].(map[string]any)["payment"].(map[string]any)["notes"] = map[string]string{}
	rec := fixture.deliverWebhook(t, body)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("code = %d, want 400", rec.Code)
	}

	rec = fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	order := decodeResponse[orderResponse](t, rec).Order
	if order.Status != "orderPlaced" {
		t.Fatalf("status = %q, want orderPlaced", order.Status)
	}
}

func TestWebhookSignatureHeader(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)
	amount, _ := domain.ParseAmount(created.Totals.Total)

	raw, err := json.Marshal(webhookBody(created, "payment.captured", "pay_signed", amount.MinorUnits()))
	if err != nil {
		t.Fatalf("marshal body: %v", err)
	}

	// A wrong header signature is rejected before any processing.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(raw))
	req.Header.Set("X-Razorpay-Signature", "bogus")
	rec := httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("bad header: code = %d, want 401", rec.Code)
	}

	// Omitting the header entirely is rejected the same way.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(raw))
	rec = httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("missing header: code = %d, want 401", rec.Code)
	}

	// A correct header signature passes through.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/payments/webhook", bytes.NewReader(raw))
	req.Header.Set("X-Razorpay-Signature", payments.WebhookSignature(testSigningSecret, raw))
	rec = httptest.NewRecorder()
	fixture.router.ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("good header: code = %d, body %s", rec.Code, rec.Body.String())
	}
}

func TestWebhookForgedCaptureDoesNotConfirm(t *testing.T) {
	fixture := newAPIFixture(t)
	created := fixture.placeOrder(t)

	// An attacker without the signing secret cannot confirm an order: the
	// unsigned delivery is rejected at the transport, and even a delivery
	// that somehow reached processing fails payment verification.
	body := webhookBody(created, "payment.captured", "pay_forged", 0)
	body["payload"].(map[string]any)["payment"].(map[string]any)["signature"] = "totally-forged"

	rec := fixture.do(t, http.MethodPost, "/api/v1/payments/webhook", body)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unsigned delivery: code = %d, want 401", rec.Code)
	}

	rec = fixture.deliverWebhook(t, body)
	if rec.Code != http.StatusOK {
		t.Fatalf("signed delivery: code = %d, body %s", rec.Code, rec.Body.String())
	}

	rec = fixture.do(t, http.MethodGet, "/api/v1/orders/"+created.ID, nil)
	order := decodeResponse[orderResponse](t, rec).Order
	if order.Status != "orderPlaced" {
		t.Fatalf("status = %q, want orderPlaced", order.Status)
	}
	if order.Payment.Verified {
		t.Fatal("forged capture must not mark the payment verified")
	}
	if order.Payment.Status != "failed" {
		t.Fatalf("payment status = %q, want failed", order.Payment.Status)
	}
}
