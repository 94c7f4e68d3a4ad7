package handlers

import (
	"strings"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/services"
)

// Monetary fields are serialised as fixed two-decimal strings ("4597.00") so
// clients never round-trip money through binary floating point.

type orderResponse struct {
	Order orderPayload `json:"order"`
}

type orderListResponse struct {
	Items []orderPayload `json:"items"`
}

type orderPayload struct {
	ID          string             `json:"id"`
	UserID      string             `json:"userId"`
	Status      string             `json:"status"`
	Items       []orderItemPayload `json:"items"`
	Totals      orderTotalsPayload `json:"totals"`
	Customer    customerPayload    `json:"customer"`
	Payment     paymentPayload     `json:"payment"`
	Shipping    shippingPayload    `json:"shipping"`
	Metadata    *metadataPayload   `json:"metadata,omitempty"`
	CreatedAt   string             `json:"createdAt"`
	UpdatedAt   string             `json:"updatedAt,omitempty"`
	CompletedAt string             `json:"completedAt,omitempty"`
	Version     int64              `json:"version"`
}

type orderItemPayload struct {
	ProductID  string `json:"productId"`
	Name       string `json:"name"`
	UnitPrice  string `json:"unitPrice"`
	Quantity   int    `json:"quantity"`
	Size       string `json:"size,omitempty"`
	Color      string `json:"color,omitempty"`
	TotalPrice string `json:"totalPrice"`
}

type orderTotalsPayload struct {
	Subtotal string `json:"subtotal"`
	Discount string `json:"discount"`
	Shipping string `json:"shipping"`
	Total    string `json:"total"`
}

type customerPayload struct {
	Name    string         `json:"name"`
	Email   string         `json:"email"`
	Phone   string         `json:"phone,omitempty"`
	Address addressPayload `json:"address"`
}

type addressPayload struct {
	Line1      string `json:"line1"`
	Line2      string `json:"line2,omitempty"`
	City       string `json:"city"`
	State      string `json:"state,omitempty"`
	PostalCode string `json:"postalCode"`
	Country    string `json:"country,omitempty"`
}

type paymentPayload struct {
	Method           string `json:"method"`
	GatewayOrderID   string `json:"gatewayOrderId,omitempty"`
	GatewayPaymentID string `json:"gatewayPaymentId,omitempty"`
	Amount           string `json:"amount"`
	Currency         string `json:"currency"`
	Status           string `json:"status"`
	PaidAt           string `json:"paidAt,omitempty"`
	Verified         bool   `json:"verified"`
}

type shippingPayload struct {
	Method         string `json:"method,omitempty"`
	Cost           string `json:"cost"`
	Carrier        string `json:"carrier,omitempty"`
	TrackingNumber string `json:"trackingNumber,omitempty"`
	Status         string `json:"status"`
	ShippedAt      string `json:"shippedAt,omitempty"`
	DeliveredAt    string `json:"deliveredAt,omitempty"`
}

type metadataPayload struct {
	PromoCode  string            `json:"promoCode,omitempty"`
	Tags       []string          `json:"tags,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
}

func buildOrderPayload(order domain.Order) orderPayload {
	payload := orderPayload{
		ID:     order.ID,
		UserID: order.UserID,
		Status: string(order.Status),
		Items:  make([]orderItemPayload, 0, len(order.Items)),
		Totals: orderTotalsPayload{
			Subtotal: order.Totals.Subtotal.String(),
			Discount: order.Totals.Discount.String(),
			Shipping: order.Totals.Shipping.String(),
			Total:    order.Totals.Total.String(),
		},
		Customer: customerPayload{
			Name:    order.Customer.Name,
			Email:   order.Customer.Email,
			Phone:   order.Customer.Phone,
			Address: buildAddressPayload(order.Customer.Address),
		},
		Payment: paymentPayload{
			Method:         string(order.Payment.Method),
			GatewayOrderID: order.Payment.GatewayOrderID,
			Amount:         order.Payment.Amount.String(),
			Currency:       strings.ToUpper(order.Payment.Currency),
			Status:         string(order.Payment.Status),
			PaidAt:         formatTimePointer(order.Payment.PaidAt),
			Verified:       order.Payment.Verified,
		},
		Shipping: shippingPayload{
			Method:      order.Shipping.Method,
			Cost:        order.Shipping.Cost.String(),
			Carrier:     order.Shipping.Carrier,
			Status:      string(order.Shipping.Status),
			ShippedAt:   formatTimePointer(order.Shipping.ShippedAt),
			DeliveredAt: formatTimePointer(order.Shipping.DeliveredAt),
		},
		CreatedAt:   formatTime(order.CreatedAt),
		UpdatedAt:   formatTime(order.UpdatedAt),
		CompletedAt: formatTimePointer(order.CompletedAt),
		Version:     order.Version,
	}

	if order.Payment.GatewayPaymentID != nil {
		payload.Payment.GatewayPaymentID = *order.Payment.GatewayPaymentID
	}
	if order.Shipping.TrackingNumber != nil {
		payload.Shipping.TrackingNumber = *order.Shipping.TrackingNumber
	}

	for _, item := range order.Items {
		payload.Items = append(payload.Items, orderItemPayload{
			ProductID:  item.ProductID,
			Name:       item.Name,
			UnitPrice:  item.UnitPrice.String(),
			Quantity:   item.Quantity,
			Size:       item.Size,
			Color:      item.Color,
			TotalPrice: item.TotalPrice.String(),
		})
	}

	if order.Metadata.PromoCode != "" || len(order.Metadata.Tags) > 0 || len(order.Metadata.Attributes) > 0 {
		payload.Metadata = &metadataPayload{
			PromoCode:  order.Metadata.PromoCode,
			Tags:       append([]string(nil), order.Metadata.Tags...),
			Attributes: cloneStringMap(order.Metadata.Attributes),
		}
	}

	return payload
}

func buildAddressPayload(addr domain.Address) addressPayload {
	return addressPayload{
		Line1:      addr.Line1,
		Line2:      addr.Line2,
		City:       addr.City,
		State:      addr.State,
		PostalCode: addr.PostalCode,
		Country:    addr.Country,
	}
}

func cloneStringMap(src map[string]string) map[string]string {
	if len(src) == 0 {
		return nil
	}
	out := make(map[string]string, len(src))
	for k, v := range src {
		out[k] = v
	}
	return out
}

type checkoutSessionResponse struct {
	Session checkoutSessionPayload `json:"session"`
}

type checkoutSessionPayload struct {
	ID              string             `json:"id"`
	UserID          string             `json:"userId"`
	Step            string             `json:"step"`
	Items           []checkoutItemData `json:"items"`
	Address         *addressPayload    `json:"address,omitempty"`
	PaymentMethod   string             `json:"paymentMethod,omitempty"`
	CouponCode      string             `json:"couponCode,omitempty"`
	CouponNotice    string             `json:"couponNotice,omitempty"`
	Totals          orderTotalsPayload `json:"totals"`
	OrderID         string             `json:"orderId,omitempty"`
	FailureReason   string             `json:"failureReason,omitempty"`
	PaymentAttempts int                `json:"paymentAttempts,omitempty"`
	CreatedAt       string             `json:"createdAt"`
	UpdatedAt       string             `json:"updatedAt,omitempty"`
}

type checkoutItemData struct {
	ProductID string `json:"productId"`
	Quantity  int    `json:"quantity"`
	Size      string `json:"size,omitempty"`
	Color     string `json:"color,omitempty"`
}

func buildCheckoutSessionPayload(session services.CheckoutSession) checkoutSessionPayload {
	payload := checkoutSessionPayload{
		ID:            session.ID,
		UserID:        session.UserID,
		Step:          string(session.Step),
		Items:         make([]checkoutItemData, 0, len(session.Items)),
		PaymentMethod: string(session.PaymentMethod),
		CouponCode:    session.CouponCode,
		CouponNotice:  session.CouponNotice,
		Totals: orderTotalsPayload{
			Subtotal: session.Totals.Subtotal.String(),
			Discount: session.Totals.Discount.String(),
			Shipping: session.Totals.Shipping.String(),
			Total:    session.Totals.Total.String(),
		},
		OrderID:         session.OrderID,
		FailureReason:   session.FailureReason,
		PaymentAttempts: session.PaymentAttempts,
		CreatedAt:       formatTime(session.CreatedAt),
		UpdatedAt:       formatTime(session.UpdatedAt),
	}

	for _, item := range session.Items {
		payload.Items = append(payload.Items, checkoutItemData{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			Size:      item.Size,
			Color:     item.Color,
		})
	}

	if session.Address.Line1 != "" {
		addr := buildAddressPayload(session.Address)
		payload.Address = &addr
	}

	return payload
}
