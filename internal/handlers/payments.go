package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/payments"
	"github.com/vesture-shop/api/internal/platform/httpx"
	"github.com/vesture-shop/api/internal/services"
)

const (
	maxWebhookBodySize = 256 * 1024

	webhookSignatureHeader = "X-Razorpay-Signature"
)

// Gateway-facing amounts are integers in minor units, matching what the
// provider sends on its wire. Client-facing payloads use decimal strings.

type verifyPaymentRequest struct {
	OrderID          string `json:"orderId"`
	GatewayOrderID   string `json:"gatewayOrderId"`
	GatewayPaymentID string `json:"gatewayPaymentId"`
	Signature        string `json:"signature"`
	ExpectedAmount   int64  `json:"expectedAmount"`
}

type verifyPaymentResponse struct {
	IsValid bool          `json:"isValid"`
	Reason  string        `json:"reason,omitempty"`
	Order   *orderPayload `json:"order,omitempty"`
}

type webhookRequest struct {
	Event   string `json:"event"`
	Payload struct {
		Payment struct {
			ID        string            `json:"id"`
			OrderID   string            `json:"order_id"`
			Amount    int64             `json:"amount"`
			Currency  string            `json:"currency"`
			Signature string            `json:"signature"`
			Notes     map[string]string `json:"notes"`
		} `json:"payment"`
	} `json:"payload"`
}

// PaymentHandlers exposes payment verification and gateway webhook endpoints.
type PaymentHandlers struct {
	verifier      services.PaymentVerifier
	webhooks      services.WebhookProcessor
	signingSecret string
}

// PaymentHandlersConfig bundles the collaborators for PaymentHandlers.
type PaymentHandlersConfig struct {
	Verifier services.PaymentVerifier
	Webhooks services.WebhookProcessor

	// SigningSecret enables webhook body signature checks when set. Every
	// delivery must then carry a matching signature header.
	SigningSecret string
}

// NewPaymentHandlers constructs a new PaymentHandlers instance.
func NewPaymentHandlers(cfg PaymentHandlersConfig) *PaymentHandlers {
	return &PaymentHandlers{
		verifier:      cfg.Verifier,
		webhooks:      cfg.Webhooks,
		signingSecret: cfg.SigningSecret,
	}
}

// Routes registers the /payments endpoints.
func (h *PaymentHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/verify", h.verifyPayment)
	r.Post("/webhook", h.handleWebhook)
}

func (h *PaymentHandlers) verifyPayment(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.verifier == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "payment service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := decodeBody[verifyPaymentRequest](ctx, w, r)
	if !ok {
		return
	}

	if strings.TrimSpace(req.GatewayPaymentID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "gateway payment id is required", http.StatusBadRequest))
		return
	}
	if strings.TrimSpace(req.OrderID) == "" && strings.TrimSpace(req.GatewayOrderID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "order id or gateway order id is required", http.StatusBadRequest))
		return
	}

	result, err := h.verifier.Verify(ctx, services.VerifyPaymentCommand{
		OrderID:          strings.TrimSpace(req.OrderID),
		GatewayOrderID:   strings.TrimSpace(req.GatewayOrderID),
		GatewayPaymentID: strings.TrimSpace(req.GatewayPaymentID),
		Signature:        strings.TrimSpace(req.Signature),
		Amount:           domain.AmountFromMinorUnits(req.ExpectedAmount),
	})
	if err != nil {
		writeOrderError(ctx, w, err)
		return
	}

	response := verifyPaymentResponse{
		IsValid: result.Valid,
		Reason:  result.Reason,
	}
	if result.Order.ID != "" {
		payload := buildOrderPayload(result.Order)
		response.Order = &payload
	}
	writeJSONResponse(w, http.StatusOK, response)
}

func (h *PaymentHandlers) handleWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.webhooks == nil {
		httpx.WriteError(ctx, w, httpx.NewError("payment_service_unavailable", "webhook processor unavailable", http.StatusServiceUnavailable))
		return
	}

	body, err := readLimitedBody(r, maxWebhookBodySize)
	if err != nil {
		switch {
		case errors.Is(err, errBodyTooLarge):
			httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
		default:
			httpx.WriteError(ctx, w, httpx.NewError("malformed_webhook", "webhook body is required", http.StatusBadRequest))
		}
		return
	}

	if h.signingSecret != "" {
		// A missing header fails the same way a wrong one does; deliveries
		// cannot opt out of the check.
		signature := strings.TrimSpace(r.Header.Get(webhookSignatureHeader))
		if !payments.VerifyWebhookSignature(h.signingSecret, body, signature) {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_signature", "webhook signature mismatch", http.StatusUnauthorized))
			return
		}
	}

	var req webhookRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("malformed_webhook", "invalid JSON body", http.StatusBadRequest))
		return
	}

	event := domain.WebhookEvent{
		Event:      strings.TrimSpace(req.Event),
		ReceivedAt: time.Now().UTC(),
		Payment: domain.WebhookPayment{
			ID:        strings.TrimSpace(req.Payload.Payment.ID),
			OrderID:   strings.TrimSpace(req.Payload.Payment.OrderID),
			Amount:    req.Payload.Payment.Amount,
			Currency:  strings.TrimSpace(req.Payload.Payment.Currency),
			Signature: strings.TrimSpace(req.Payload.Payment.Signature),
			Notes:     req.Payload.Payment.Notes,
		},
	}

	if err := h.webhooks.Process(ctx, event); err != nil {
		writeWebhookError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, map[string]string{"status": "ok"})
}

func writeWebhookError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, services.ErrMalformedWebhook):
		// Redelivery cannot fix a malformed payload; reject it permanently.
		httpx.WriteError(ctx, w, httpx.NewError("malformed_webhook", err.Error(), http.StatusBadRequest))
	default:
		// Any other failure signals the gateway to redeliver.
		httpx.WriteError(ctx, w, httpx.NewError("webhook_error", "failed to process webhook", http.StatusInternalServerError))
	}
}
