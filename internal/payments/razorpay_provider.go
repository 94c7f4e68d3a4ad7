package payments

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

const defaultRazorpayBaseURL = "https://api.razorpay.com"

// RazorpayConfig configures the Razorpay REST adapter. BaseURL is
// overridable for tests.
type RazorpayConfig struct {
	KeyID     string
	KeySecret string
	BaseURL   string
	Client    *http.Client
}

// RazorpayProvider talks to the Razorpay Orders and Payments APIs using basic
// auth over the public REST surface.
type RazorpayProvider struct {
	keyID     string
	keySecret string
	baseURL   string
	client    *http.Client
}

// NewRazorpayProvider builds the adapter, defaulting the HTTP client to a
// 15s timeout so a wedged gateway cannot hold a checkout open indefinitely.
func NewRazorpayProvider(cfg RazorpayConfig) (*RazorpayProvider, error) {
	if cfg.KeyID == "" || cfg.KeySecret == "" {
		return nil, fmt.Errorf("payments: razorpay key id and secret are required")
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultRazorpayBaseURL
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &RazorpayProvider{
		keyID:     cfg.KeyID,
		keySecret: cfg.KeySecret,
		baseURL:   baseURL,
		client:    client,
	}, nil
}

type razorpayOrderRequest struct {
	Amount   int64             `json:"amount"`
	Currency string            `json:"currency"`
	Receipt  string            `json:"receipt,omitempty"`
	Notes    map[string]string `json:"notes,omitempty"`
}

type razorpayOrderResponse struct {
	ID        string `json:"id"`
	Amount    int64  `json:"amount"`
	Currency  string `json:"currency"`
	Receipt   string `json:"receipt"`
	Status    string `json:"status"`
	CreatedAt int64  `json:"created_at"`
}

type razorpayPaymentResponse struct {
	ID       string `json:"id"`
	OrderID  string `json:"order_id"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
	Status   string `json:"status"`
	Method   string `json:"method"`
	Captured bool   `json:"captured"`
}

type razorpayErrorResponse struct {
	Error struct {
		Code        string `json:"code"`
		Description string `json:"description"`
	} `json:"error"`
}

// CreateOrder creates a Razorpay order bound to a local order via Notes.
func (p *RazorpayProvider) CreateOrder(ctx context.Context, req GatewayOrderRequest) (GatewayOrder, error) {
	body := razorpayOrderRequest{
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Notes:    req.Notes,
	}
	var resp razorpayOrderResponse
	if err := p.do(ctx, http.MethodPost, "/v1/orders", body, &resp); err != nil {
		return GatewayOrder{}, err
	}
	return GatewayOrder{
		ID:        resp.ID,
		Provider:  "razorpay",
		Amount:    resp.Amount,
		Currency:  resp.Currency,
		Receipt:   resp.Receipt,
		Status:    mapRazorpayStatus(resp.Status),
		CreatedAt: time.Unix(resp.CreatedAt, 0).UTC(),
	}, nil
}

// LookupPayment fetches a payment by id for reconciliation.
func (p *RazorpayProvider) LookupPayment(ctx context.Context, paymentID string) (PaymentRecord, error) {
	if paymentID == "" {
		return PaymentRecord{}, &GatewayError{Provider: "razorpay", Op: "lookup_payment", Message: "payment id is required"}
	}
	var resp razorpayPaymentResponse
	if err := p.do(ctx, http.MethodGet, "/v1/payments/"+paymentID, nil, &resp); err != nil {
		return PaymentRecord{}, err
	}
	return PaymentRecord{
		ID:             resp.ID,
		GatewayOrderID: resp.OrderID,
		Amount:         resp.Amount,
		Currency:       resp.Currency,
		Status:         mapRazorpayStatus(resp.Status),
		Method:         resp.Method,
	}, nil
}

func (p *RazorpayProvider) do(ctx context.Context, method, path string, in, out any) error {
	var reqBody io.Reader
	if in != nil {
		encoded, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("payments: encode razorpay request: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("payments: build razorpay request: %w", err)
	}
	req.SetBasicAuth(p.keyID, p.keySecret)
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return &GatewayError{Provider: "razorpay", Op: method + " " + path, Message: err.Error(), Temporary: true, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return &GatewayError{Provider: "razorpay", Op: method + " " + path, Message: err.Error(), Temporary: true, Err: err}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		msg := strings.TrimSpace(string(raw))
		var apiErr razorpayErrorResponse
		if json.Unmarshal(raw, &apiErr) == nil && apiErr.Error.Description != "" {
			msg = apiErr.Error.Description
		}
		return &GatewayError{
			Provider:   "razorpay",
			Op:         method + " " + path,
			StatusCode: resp.StatusCode,
			Message:    msg,
			Temporary:  resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500,
		}
	}
	if out != nil {
		if err := json.Unmarshal(raw, out); err != nil {
			return fmt.Errorf("payments: decode razorpay response: %w", err)
		}
	}
	return nil
}

func mapRazorpayStatus(status string) Status {
	switch status {
	case "captured", "paid":
		return StatusCaptured
	case "failed":
		return StatusFailed
	default:
		return StatusCreated
	}
}
