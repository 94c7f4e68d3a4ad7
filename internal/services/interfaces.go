// Package services implements the order and checkout business logic behind
// the HTTP handlers.
package services

import (
	"context"
	"errors"
	"time"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/repositories"
)

var (
	// ErrOrderInvalidInput signals the caller provided invalid data.
	ErrOrderInvalidInput = errors.New("order: invalid input")
	// ErrOrderNotFound indicates the order could not be located.
	ErrOrderNotFound = errors.New("order: not found")
	// ErrOrderInvalidTransition indicates an invalid status transition was attempted.
	ErrOrderInvalidTransition = errors.New("order: invalid status transition")
	// ErrOrderConflict indicates optimistic concurrency conflicts or duplicates.
	ErrOrderConflict = errors.New("order: conflict")
	// ErrMalformedWebhook indicates a webhook payload missing required fields.
	ErrMalformedWebhook = errors.New("webhook: malformed payload")
)

// OrderItemInput identifies a catalog product and purchase options.
type OrderItemInput struct {
	ProductID string
	Quantity  int
	Size      string
	Color     string
}

// CreateOrderCommand carries everything needed to place an order.
type CreateOrderCommand struct {
	UserID        string
	Items         []OrderItemInput
	Customer      domain.CustomerInfo
	PaymentMethod domain.PaymentMethod
	PromoCode     string
}

// CancelOrderCommand cancels an order with an operator-supplied reason.
type CancelOrderCommand struct {
	OrderID string
	Reason  string
}

// UpdateStatusCommand advances an order along the fulfilment path.
type UpdateStatusCommand struct {
	OrderID string
	Status  domain.OrderStatus
}

// ListOrdersQuery filters the order listing.
type ListOrdersQuery struct {
	UserID      string
	Statuses    []domain.OrderStatus
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// OrderService exposes the order lifecycle operations.
type OrderService interface {
	Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error)
	Get(ctx context.Context, orderID string) (domain.Order, error)
	GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	List(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error)
	UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (domain.Order, error)
	Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error)
	ConfirmPayment(ctx context.Context, orderID, paymentID, signature string, paidAt time.Time) (domain.Order, error)
	MarkPaymentFailed(ctx context.Context, orderID, paymentID string) (domain.Order, error)
}

// VerifyPaymentCommand carries the gateway callback fields for verification.
type VerifyPaymentCommand struct {
	OrderID          string
	GatewayOrderID   string
	GatewayPaymentID string
	Signature        string
	Amount           domain.Amount
}

// VerificationResult reports the outcome of a payment verification attempt.
type VerificationResult struct {
	Valid  bool
	Reason string
	Order  domain.Order
}

// PaymentVerifier validates gateway payment callbacks and drives the
// payment-confirmed transition.
type PaymentVerifier interface {
	Verify(ctx context.Context, cmd VerifyPaymentCommand) (VerificationResult, error)
}

// WebhookProcessor consumes gateway webhook deliveries.
type WebhookProcessor interface {
	Process(ctx context.Context, event domain.WebhookEvent) error
}

func mapRepositoryError(err error, notFound error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			return notFound
		case repoErr.IsConflict():
			return ErrOrderConflict
		}
	}
	return err
}
