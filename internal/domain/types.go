package domain

import (
	"strings"
	"time"
)

// OrderStatus enumerates valid lifecycle states for orders.
type OrderStatus string

const (
	// OrderStatusPlaced is the initial state of every order.
	OrderStatusPlaced OrderStatus = "orderPlaced"
	// OrderStatusPaymentConfirmed is reached only through signature verification.
	OrderStatusPaymentConfirmed OrderStatus = "paymentConfirmed"
	// OrderStatusProcessing indicates the order is being prepared for shipment.
	OrderStatusProcessing OrderStatus = "processing"
	// OrderStatusShipped indicates the order left the warehouse.
	OrderStatusShipped OrderStatus = "shipped"
	// OrderStatusDelivered is the successful terminal state.
	OrderStatusDelivered OrderStatus = "delivered"
	// OrderStatusCancelled is the terminal state reached via an explicit cancel.
	OrderStatusCancelled OrderStatus = "cancelled"
)

// IsTerminal reports whether no further automatic transition can occur.
func (s OrderStatus) IsTerminal() bool {
	return s == OrderStatusDelivered || s == OrderStatusCancelled
}

// PaymentStatus enumerates normalised payment states.
type PaymentStatus string

const (
	PaymentStatusPending   PaymentStatus = "pending"
	PaymentStatusSucceeded PaymentStatus = "succeeded"
	PaymentStatusFailed    PaymentStatus = "failed"
	PaymentStatusCancelled PaymentStatus = "cancelled"
)

// ShippingStatus is a projection of the order status; it is derived, never
// set independently.
type ShippingStatus string

const (
	ShippingStatusPending    ShippingStatus = "pending"
	ShippingStatusProcessing ShippingStatus = "processing"
	ShippingStatusInTransit  ShippingStatus = "inTransit"
	ShippingStatusDelivered  ShippingStatus = "delivered"
	ShippingStatusCancelled  ShippingStatus = "cancelled"
)

// DeriveShippingStatus maps an order status onto its shipping projection.
func DeriveShippingStatus(status OrderStatus) ShippingStatus {
	switch status {
	case OrderStatusProcessing:
		return ShippingStatusProcessing
	case OrderStatusShipped:
		return ShippingStatusInTransit
	case OrderStatusDelivered:
		return ShippingStatusDelivered
	case OrderStatusCancelled:
		return ShippingStatusCancelled
	default:
		return ShippingStatusPending
	}
}

// PaymentMethod identifies how an order is paid.
type PaymentMethod string

const (
	// PaymentMethodRazorpay is the primary gateway-based path.
	PaymentMethodRazorpay PaymentMethod = "razorpay"
	// PaymentMethodStripe routes payment through the Stripe provider.
	PaymentMethodStripe PaymentMethod = "stripe"
	// PaymentMethodCOD is cash on delivery; no gateway order is created.
	PaymentMethodCOD PaymentMethod = "cod"
)

// IsGateway reports whether the method requires a gateway-side payment order.
func (m PaymentMethod) IsGateway() bool {
	return m == PaymentMethodRazorpay || m == PaymentMethodStripe
}

// Product is a catalog record consumed by the order core. The catalog
// provider owns these; the core only snapshots them into line items.
type Product struct {
	ID     string
	Name   string
	Price  Amount
	Sizes  []string
	Colors []string
}

// OrderItem is an immutable line-item snapshot. Unit price is frozen at
// order-creation time regardless of later catalog changes.
type OrderItem struct {
	ProductID  string
	Name       string
	UnitPrice  Amount
	Quantity   int
	Size       string
	Color      string
	TotalPrice Amount
}

// OrderTotals breaks down the monetary composition of an order.
// Total == Subtotal - Discount + Shipping, and Subtotal == sum of line totals.
type OrderTotals struct {
	Subtotal Amount
	Discount Amount
	Shipping Amount
	Total    Amount
}

// Address is a postal address captured with the customer info.
type Address struct {
	Line1      string
	Line2      string
	City       string
	State      string
	PostalCode string
	Country    string
}

// CustomerInfo snapshots the purchaser's identity and shipping address.
type CustomerInfo struct {
	Name    string
	Email   string
	Phone   string
	Address Address
}

// PaymentDetails tracks the gateway-side state of an order's payment.
// Verified flips to true only after the signature verifier matched payment
// id, gateway order id, and amount against the locally stored gateway order.
type PaymentDetails struct {
	Method           PaymentMethod
	GatewayOrderID   string
	GatewayPaymentID *string
	GatewaySignature *string
	Amount           Amount
	Currency         string
	Status           PaymentStatus
	PaidAt           *time.Time
	Verified         bool
}

// ShippingInfo carries fulfilment state. Status is derived from the order
// status and never leads it.
type ShippingInfo struct {
	Method         string
	Cost           Amount
	Carrier        string
	TrackingNumber *string
	Status         ShippingStatus
	ShippedAt      *time.Time
	DeliveredAt    *time.Time
}

// OrderMetadata holds the free-form annotations attached to an order.
type OrderMetadata struct {
	PromoCode  string
	Tags       []string
	Attributes map[string]string
}

// Order is the aggregate root owned by the order lifecycle service. It is
// treated as an immutable value: transitions build a new Order and persist it
// through a compare-and-set update on Version.
type Order struct {
	ID          string
	UserID      string
	Items       []OrderItem
	Totals      OrderTotals
	Status      OrderStatus
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
	Customer    CustomerInfo
	Payment     PaymentDetails
	Shipping    ShippingInfo
	Metadata    OrderMetadata
	Version     int64
}

// TotalAmount is the caller-visible order total. It is fixed at creation and
// never recomputed afterwards.
func (o Order) TotalAmount() Amount { return o.Totals.Total }

// CanBeCancelled reports whether the cancellation policy still allows an
// explicit cancel: any state strictly before shipped.
func (o Order) CanBeCancelled() bool {
	switch o.Status {
	case OrderStatusPlaced, OrderStatusPaymentConfirmed, OrderStatusProcessing:
		return true
	default:
		return false
	}
}

// DiscountType distinguishes percentage from fixed-amount coupons.
type DiscountType string

const (
	DiscountTypePercentage DiscountType = "percentage"
	DiscountTypeFixed      DiscountType = "fixed"
)

// DiscountInfo resolves a coupon code. Value is a percent for percentage
// coupons and a minor-unit amount for fixed coupons.
type DiscountInfo struct {
	Code        string
	Type        DiscountType
	Value       int64
	Description string
}

// AmountOff computes the discount against a subtotal, capped so the
// discounted result never goes negative.
func (d DiscountInfo) AmountOff(subtotal Amount) Amount {
	var off Amount
	switch d.Type {
	case DiscountTypePercentage:
		off = subtotal.PercentOf(d.Value)
	case DiscountTypeFixed:
		off = Amount(d.Value)
	}
	if off < 0 {
		off = 0
	}
	if off > subtotal {
		off = subtotal
	}
	return off
}

// WebhookPayment is the payment payload embedded in a gateway webhook event.
// Amount is in minor units as delivered by the gateway.
type WebhookPayment struct {
	ID        string
	OrderID   string
	Amount    int64
	Currency  string
	Signature string
	Notes     map[string]string
}

// LocalOrderID extracts the local order id carried in the payment's notes.
// Gateways echo notes back verbatim, so both key spellings are accepted.
func (p WebhookPayment) LocalOrderID() string {
	for _, key := range []string{"order_id", "orderId"} {
		if id := strings.TrimSpace(p.Notes[key]); id != "" {
			return id
		}
	}
	return ""
}

// WebhookEvent is a transient gateway notification. Its dedup key must be
// recorded long enough to guarantee idempotency across redelivery.
type WebhookEvent struct {
	Event      string
	Payment    WebhookPayment
	ReceivedAt time.Time
}

const (
	// WebhookEventPaymentCaptured announces a server-confirmed capture.
	WebhookEventPaymentCaptured = "payment.captured"
	// WebhookEventPaymentFailed announces a failed payment attempt.
	WebhookEventPaymentFailed = "payment.failed"
)

// DedupKey identifies a webhook delivery for idempotency purposes.
func (e WebhookEvent) DedupKey() string {
	return e.Payment.ID + ":" + e.Event
}
