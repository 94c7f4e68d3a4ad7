package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/platform/httpx"
	"github.com/vesture-shop/api/internal/services"
)

type beginCheckoutRequest struct {
	UserID   string             `json:"userId"`
	Items    []orderItemRequest `json:"items"`
	Customer customerRequest    `json:"customer"`
}

type checkoutAddressRequest struct {
	Address addressRequest `json:"address"`
}

type checkoutPaymentMethodRequest struct {
	Method string `json:"method"`
}

type checkoutCouponRequest struct {
	Code string `json:"code"`
}

type checkoutCancelRequest struct {
	Reason string `json:"reason"`
}

// CheckoutHandlers exposes the checkout session endpoints.
type CheckoutHandlers struct {
	checkout *services.CheckoutService
}

// NewCheckoutHandlers constructs a new CheckoutHandlers instance.
func NewCheckoutHandlers(checkout *services.CheckoutService) *CheckoutHandlers {
	return &CheckoutHandlers{checkout: checkout}
}

// Routes registers the /checkout endpoints.
func (h *CheckoutHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Post("/sessions", h.beginSession)
	r.Route("/sessions/{sessionID}", func(session chi.Router) {
		session.Get("/", h.getSession)
		session.Post("/next", h.nextStep)
		session.Post("/previous", h.previousStep)
		session.Post("/cancel", h.cancelSession)
		session.Post("/retry", h.retryPayment)
		session.Put("/address", h.setAddress)
		session.Put("/payment-method", h.setPaymentMethod)
		session.Put("/coupon", h.applyCoupon)
	})
}

func (h *CheckoutHandlers) beginSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	req, ok := decodeBody[beginCheckoutRequest](ctx, w, r)
	if !ok {
		return
	}

	cmd := services.BeginCheckoutCommand{
		UserID: strings.TrimSpace(req.UserID),
		Items:  make([]services.OrderItemInput, 0, len(req.Items)),
		Customer: domain.CustomerInfo{
			Name:  strings.TrimSpace(req.Customer.Name),
			Email: strings.TrimSpace(req.Customer.Email),
			Phone: strings.TrimSpace(req.Customer.Phone),
			Address: domain.Address{
				Line1:      strings.TrimSpace(req.Customer.Address.Line1),
				Line2:      strings.TrimSpace(req.Customer.Address.Line2),
				City:       strings.TrimSpace(req.Customer.Address.City),
				State:      strings.TrimSpace(req.Customer.Address.State),
				PostalCode: strings.TrimSpace(req.Customer.Address.PostalCode),
				Country:    strings.TrimSpace(req.Customer.Address.Country),
			},
		},
	}
	for _, item := range req.Items {
		cmd.Items = append(cmd.Items, services.OrderItemInput{
			ProductID: strings.TrimSpace(item.ProductID),
			Quantity:  item.Quantity,
			Size:      strings.TrimSpace(item.Size),
			Color:     strings.TrimSpace(item.Color),
		})
	}

	session, err := h.checkout.Begin(ctx, cmd)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusCreated, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func (h *CheckoutHandlers) getSession(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, sessionID string) (services.CheckoutSession, error) {
		return h.checkout.Get(ctx, sessionID)
	})
}

func (h *CheckoutHandlers) nextStep(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, sessionID string) (services.CheckoutSession, error) {
		return h.checkout.Next(ctx, sessionID)
	})
}

func (h *CheckoutHandlers) previousStep(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, sessionID string) (services.CheckoutSession, error) {
		return h.checkout.Previous(ctx, sessionID)
	})
}

func (h *CheckoutHandlers) retryPayment(w http.ResponseWriter, r *http.Request) {
	h.withSession(w, r, func(ctx context.Context, sessionID string) (services.CheckoutSession, error) {
		return h.checkout.Retry(ctx, sessionID)
	})
}

func (h *CheckoutHandlers) cancelSession(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	// An empty body is a plain cancel with the default reason.
	var req checkoutCancelRequest
	if body, err := readLimitedBody(r, maxOrderBodySize); err == nil {
		if err := json.Unmarshal(body, &req); err != nil {
			httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON body", http.StatusBadRequest))
			return
		}
	} else if !errors.Is(err, errEmptyBody) {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	session, err := h.checkout.Cancel(ctx, sessionID, strings.TrimSpace(req.Reason))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func (h *CheckoutHandlers) setAddress(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	req, ok := decodeBody[checkoutAddressRequest](ctx, w, r)
	if !ok {
		return
	}

	session, err := h.checkout.SetAddress(ctx, sessionID, domain.Address{
		Line1:      strings.TrimSpace(req.Address.Line1),
		Line2:      strings.TrimSpace(req.Address.Line2),
		City:       strings.TrimSpace(req.Address.City),
		State:      strings.TrimSpace(req.Address.State),
		PostalCode: strings.TrimSpace(req.Address.PostalCode),
		Country:    strings.TrimSpace(req.Address.Country),
	})
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func (h *CheckoutHandlers) setPaymentMethod(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	req, ok := decodeBody[checkoutPaymentMethodRequest](ctx, w, r)
	if !ok {
		return
	}

	method := domain.PaymentMethod(strings.ToLower(strings.TrimSpace(req.Method)))
	session, err := h.checkout.SetPaymentMethod(ctx, sessionID, method)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func (h *CheckoutHandlers) applyCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	req, ok := decodeBody[checkoutCouponRequest](ctx, w, r)
	if !ok {
		return
	}

	session, err := h.checkout.ApplyCoupon(ctx, sessionID, strings.TrimSpace(req.Code))
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func (h *CheckoutHandlers) withSession(w http.ResponseWriter, r *http.Request, fn func(ctx context.Context, sessionID string) (services.CheckoutSession, error)) {
	ctx := r.Context()
	if h.checkout == nil {
		httpx.WriteError(ctx, w, httpx.NewError("checkout_service_unavailable", "checkout service unavailable", http.StatusServiceUnavailable))
		return
	}

	sessionID := strings.TrimSpace(chi.URLParam(r, "sessionID"))
	if sessionID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "session id is required", http.StatusBadRequest))
		return
	}

	session, err := fn(ctx, sessionID)
	if err != nil {
		writeCheckoutError(ctx, w, err)
		return
	}

	writeJSONResponse(w, http.StatusOK, checkoutSessionResponse{Session: buildCheckoutSessionPayload(session)})
}

func writeCheckoutError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCheckoutNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("checkout_not_found", "checkout session not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCheckoutInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCheckoutInvalidStep):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_step", err.Error(), http.StatusConflict))
	case errors.Is(err, services.ErrOrderInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("checkout_error", "failed to process checkout request", http.StatusInternalServerError))
	}
}
