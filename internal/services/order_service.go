package services

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/payments"
	"github.com/vesture-shop/api/internal/pricing"
	"github.com/vesture-shop/api/internal/repositories"
)

const (
	orderIDPrefix = "ord_"

	// OrderEventCreated fires when a new order is accepted.
	OrderEventCreated = "order.created"

	cancelReasonAttribute = "cancelReason"

	updateRetryAttempts = 3
)

// Forward fulfilment moves one step at a time. paymentConfirmed and cancelled
// are reachable only through ConfirmPayment and Cancel.
var orderStateTransitions = map[domain.OrderStatus][]domain.OrderStatus{
	domain.OrderStatusPlaced:           {domain.OrderStatusPaymentConfirmed, domain.OrderStatusCancelled},
	domain.OrderStatusPaymentConfirmed: {domain.OrderStatusProcessing, domain.OrderStatusCancelled},
	domain.OrderStatusProcessing:       {domain.OrderStatusShipped, domain.OrderStatusCancelled},
	domain.OrderStatusShipped:          {domain.OrderStatusDelivered},
	domain.OrderStatusDelivered:        {},
	domain.OrderStatusCancelled:        {},
}

// OrderServiceDeps bundles collaborators required to construct the order service.
type OrderServiceDeps struct {
	Orders      repositories.OrderRepository
	Catalog     repositories.CatalogProvider
	Pricing     *pricing.Engine
	Gateway     *payments.Manager
	Retry       payments.RetryConfig
	Currency    string
	Clock       func() time.Time
	IDGenerator func() string
	Events      OrderEventPublisher
	Logger      func(ctx context.Context, event string, fields map[string]any)
}

type orderService struct {
	orders   repositories.OrderRepository
	catalog  repositories.CatalogProvider
	pricing  *pricing.Engine
	gateway  *payments.Manager
	retry    payments.RetryConfig
	currency string
	clock    func() time.Time
	newID    func() string
	events   OrderEventPublisher
	logger   func(context.Context, string, map[string]any)
}

// NewOrderService wires dependencies into a concrete OrderService implementation.
func NewOrderService(deps OrderServiceDeps) (OrderService, error) {
	if deps.Orders == nil {
		return nil, errors.New("order service: order repository is required")
	}
	if deps.Catalog == nil {
		return nil, errors.New("order service: catalog provider is required")
	}
	if deps.Pricing == nil {
		return nil, errors.New("order service: pricing engine is required")
	}
	if deps.Gateway == nil {
		return nil, errors.New("order service: gateway manager is required")
	}

	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}

	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string {
			return orderIDPrefix + ulid.Make().String()
		}
	}

	logger := deps.Logger
	if logger == nil {
		logger = func(context.Context, string, map[string]any) {}
	}

	retry := deps.Retry
	if retry.MaxAttempts == 0 {
		retry = payments.DefaultRetryConfig()
	}

	currency := strings.ToUpper(strings.TrimSpace(deps.Currency))
	if currency == "" {
		currency = "INR"
	}

	return &orderService{
		orders:   deps.Orders,
		catalog:  deps.Catalog,
		pricing:  deps.Pricing,
		gateway:  deps.Gateway,
		retry:    retry,
		currency: currency,
		clock: func() time.Time {
			return clock().UTC()
		},
		newID:  idGen,
		events: deps.Events,
		logger: logger,
	}, nil
}

func (s *orderService) Create(ctx context.Context, cmd CreateOrderCommand) (domain.Order, error) {
	if err := validateCreateCommand(cmd); err != nil {
		return domain.Order{}, err
	}

	items, err := s.resolveItems(ctx, cmd.Items)
	if err != nil {
		return domain.Order{}, err
	}

	totals, notice := s.pricing.Quote(items, cmd.PromoCode)
	if notice != "" {
		s.logger(ctx, "order.coupon.ignored", map[string]any{
			"promoCode": cmd.PromoCode,
			"notice":    notice,
		})
	}

	now := s.now()
	order := domain.Order{
		ID:        s.newID(),
		UserID:    strings.TrimSpace(cmd.UserID),
		Items:     items,
		Totals:    totals,
		Status:    domain.OrderStatusPlaced,
		CreatedAt: now,
		UpdatedAt: now,
		Customer:  cmd.Customer,
		Payment: domain.PaymentDetails{
			Method:   cmd.PaymentMethod,
			Amount:   totals.Total,
			Currency: s.currency,
			Status:   domain.PaymentStatusPending,
		},
		Shipping: domain.ShippingInfo{
			Method: "standard",
			Cost:   totals.Shipping,
			Status: domain.ShippingStatusPending,
		},
		Metadata: domain.OrderMetadata{PromoCode: strings.ToUpper(strings.TrimSpace(cmd.PromoCode))},
	}
	if notice != "" {
		order.Metadata.PromoCode = ""
	}

	if cmd.PaymentMethod.IsGateway() {
		gatewayOrder, err := payments.CreateOrderWithRetry(ctx, s.gateway, string(cmd.PaymentMethod), payments.GatewayOrderRequest{
			Amount:   totals.Total.MinorUnits(),
			Currency: s.currency,
			Receipt:  order.ID,
			Notes:    map[string]string{"orderId": order.ID},
		}, s.retry)
		if err != nil {
			s.logger(ctx, "order.gateway.create_failed", map[string]any{
				"orderId": order.ID,
				"error":   err.Error(),
			})
			return domain.Order{}, fmt.Errorf("order: create gateway order: %w", err)
		}
		order.Payment.GatewayOrderID = gatewayOrder.ID
	}

	if err := s.orders.Insert(ctx, order); err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	order.Version = 1

	s.publish(ctx, OrderEvent{
		Type:          OrderEventCreated,
		OrderID:       order.ID,
		CurrentStatus: string(order.Status),
		OccurredAt:    now,
	})
	s.logger(ctx, "order.created", map[string]any{
		"orderId": order.ID,
		"total":   order.Totals.Total.String(),
		"method":  string(order.Payment.Method),
	})

	return order, nil
}

func (s *orderService) Get(ctx context.Context, orderID string) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByID(ctx, orderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) GetByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	gatewayOrderID = strings.TrimSpace(gatewayOrderID)
	if gatewayOrderID == "" {
		return domain.Order{}, fmt.Errorf("%w: gateway order id is required", ErrOrderInvalidInput)
	}
	order, err := s.orders.FindByGatewayOrderID(ctx, gatewayOrderID)
	if err != nil {
		return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
	}
	return order, nil
}

func (s *orderService) List(ctx context.Context, query ListOrdersQuery) ([]domain.Order, error) {
	return s.orders.List(ctx, repositories.OrderListFilter{
		UserID:      strings.TrimSpace(query.UserID),
		Statuses:    query.Statuses,
		CreatedFrom: query.CreatedFrom,
		CreatedTo:   query.CreatedTo,
		Limit:       query.Limit,
	})
}

func (s *orderService) UpdateStatus(ctx context.Context, cmd UpdateStatusCommand) (domain.Order, error) {
	target := cmd.Status
	switch target {
	case domain.OrderStatusPlaced, domain.OrderStatusProcessing, domain.OrderStatusShipped, domain.OrderStatusDelivered:
	case domain.OrderStatusPaymentConfirmed:
		return domain.Order{}, fmt.Errorf("%w: paymentConfirmed requires payment verification", ErrOrderInvalidTransition)
	case domain.OrderStatusCancelled:
		return domain.Order{}, fmt.Errorf("%w: cancellation requires an explicit cancel request", ErrOrderInvalidTransition)
	default:
		return domain.Order{}, fmt.Errorf("%w: unknown status %q", ErrOrderInvalidInput, target)
	}

	var previous domain.OrderStatus
	updated, err := s.updateOrder(ctx, cmd.OrderID, func(order *domain.Order) error {
		previous = order.Status
		if !transitionAllowed(order.Status, target) {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, target)
		}
		now := s.now()
		order.Status = target
		order.Shipping.Status = domain.DeriveShippingStatus(target)
		switch target {
		case domain.OrderStatusShipped:
			order.Shipping.ShippedAt = &now
		case domain.OrderStatusDelivered:
			order.Shipping.DeliveredAt = &now
			order.CompletedAt = &now
		}
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Type:           OrderEventStatusChanged,
		OrderID:        updated.ID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     updated.UpdatedAt,
	})
	return updated, nil
}

func (s *orderService) Cancel(ctx context.Context, cmd CancelOrderCommand) (domain.Order, error) {
	reason := strings.TrimSpace(cmd.Reason)
	if reason == "" {
		return domain.Order{}, fmt.Errorf("%w: cancellation reason is required", ErrOrderInvalidInput)
	}

	var previous domain.OrderStatus
	updated, err := s.updateOrder(ctx, cmd.OrderID, func(order *domain.Order) error {
		previous = order.Status
		if !order.CanBeCancelled() {
			return fmt.Errorf("%w: %s orders cannot be cancelled", ErrOrderInvalidTransition, order.Status)
		}
		now := s.now()
		order.Status = domain.OrderStatusCancelled
		order.Shipping.Status = domain.ShippingStatusCancelled
		order.Payment.Status = domain.PaymentStatusCancelled
		if order.Metadata.Attributes == nil {
			order.Metadata.Attributes = map[string]string{}
		}
		order.Metadata.Attributes[cancelReasonAttribute] = reason
		order.UpdatedAt = now
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Type:           OrderEventCancelled,
		OrderID:        updated.ID,
		PreviousStatus: string(previous),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"reason": reason},
	})
	s.logger(ctx, "order.cancelled", map[string]any{
		"orderId": updated.ID,
		"reason":  reason,
	})
	return updated, nil
}

func (s *orderService) ConfirmPayment(ctx context.Context, orderID, paymentID, signature string, paidAt time.Time) (domain.Order, error) {
	paymentID = strings.TrimSpace(paymentID)
	if paymentID == "" {
		return domain.Order{}, fmt.Errorf("%w: payment id is required", ErrOrderInvalidInput)
	}

	updated, err := s.updateOrder(ctx, orderID, func(order *domain.Order) error {
		if order.Status == domain.OrderStatusPaymentConfirmed &&
			order.Payment.GatewayPaymentID != nil && *order.Payment.GatewayPaymentID == paymentID {
			// Already confirmed by an earlier delivery of the same payment.
			return nil
		}
		if order.Status != domain.OrderStatusPlaced {
			return fmt.Errorf("%w: %s -> %s", ErrOrderInvalidTransition, order.Status, domain.OrderStatusPaymentConfirmed)
		}
		when := paidAt.UTC()
		if paidAt.IsZero() {
			when = s.now()
		}
		order.Status = domain.OrderStatusPaymentConfirmed
		order.Payment.GatewayPaymentID = &paymentID
		if sig := strings.TrimSpace(signature); sig != "" {
			order.Payment.GatewaySignature = &sig
		}
		order.Payment.Status = domain.PaymentStatusSucceeded
		order.Payment.PaidAt = &when
		order.Payment.Verified = true
		order.Shipping.Status = domain.DeriveShippingStatus(order.Status)
		order.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Type:           OrderEventPaymentConfirmed,
		OrderID:        updated.ID,
		PreviousStatus: string(domain.OrderStatusPlaced),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"paymentId": paymentID},
	})
	s.logger(ctx, "order.payment.confirmed", map[string]any{
		"orderId":   updated.ID,
		"paymentId": paymentID,
	})
	return updated, nil
}

func (s *orderService) MarkPaymentFailed(ctx context.Context, orderID, paymentID string) (domain.Order, error) {
	updated, err := s.updateOrder(ctx, orderID, func(order *domain.Order) error {
		if order.Status != domain.OrderStatusPlaced {
			return fmt.Errorf("%w: payment failure is only recordable on %s orders", ErrOrderInvalidTransition, domain.OrderStatusPlaced)
		}
		// The order stays at orderPlaced so the customer can retry payment.
		order.Payment.Status = domain.PaymentStatusFailed
		if id := strings.TrimSpace(paymentID); id != "" {
			order.Payment.GatewayPaymentID = &id
		}
		order.UpdatedAt = s.now()
		return nil
	})
	if err != nil {
		return domain.Order{}, err
	}

	s.publish(ctx, OrderEvent{
		Type:           OrderEventPaymentFailed,
		OrderID:        updated.ID,
		PreviousStatus: string(updated.Status),
		CurrentStatus:  string(updated.Status),
		OccurredAt:     updated.UpdatedAt,
		Metadata:       map[string]any{"paymentId": paymentID},
	})
	s.logger(ctx, "order.payment.failed", map[string]any{
		"orderId":   updated.ID,
		"paymentId": paymentID,
	})
	return updated, nil
}

// updateOrder runs mutate under an optimistic-concurrency retry loop. On a
// version conflict the order is re-read and mutate re-applied.
func (s *orderService) updateOrder(ctx context.Context, orderID string, mutate func(*domain.Order) error) (domain.Order, error) {
	orderID = strings.TrimSpace(orderID)
	if orderID == "" {
		return domain.Order{}, fmt.Errorf("%w: order id is required", ErrOrderInvalidInput)
	}

	var lastErr error
	for attempt := 0; attempt < updateRetryAttempts; attempt++ {
		order, err := s.orders.FindByID(ctx, orderID)
		if err != nil {
			return domain.Order{}, mapRepositoryError(err, ErrOrderNotFound)
		}
		if err := mutate(&order); err != nil {
			return domain.Order{}, err
		}
		updated, err := s.orders.Update(ctx, order)
		if err == nil {
			return updated, nil
		}
		lastErr = mapRepositoryError(err, ErrOrderNotFound)
		if !errors.Is(lastErr, ErrOrderConflict) {
			return domain.Order{}, lastErr
		}
	}
	return domain.Order{}, lastErr
}

func (s *orderService) resolveItems(ctx context.Context, inputs []OrderItemInput) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(inputs))
	for _, input := range inputs {
		product, err := s.catalog.Product(ctx, input.ProductID)
		if err != nil {
			if repositories.IsNotFound(err) {
				return nil, fmt.Errorf("%w: unknown product %q", ErrOrderInvalidInput, input.ProductID)
			}
			return nil, err
		}
		if input.Size != "" && !containsString(product.Sizes, input.Size) {
			return nil, fmt.Errorf("%w: product %q has no size %q", ErrOrderInvalidInput, product.ID, input.Size)
		}
		if input.Color != "" && !containsString(product.Colors, input.Color) {
			return nil, fmt.Errorf("%w: product %q has no color %q", ErrOrderInvalidInput, product.ID, input.Color)
		}
		items = append(items, domain.OrderItem{
			ProductID:  product.ID,
			Name:       product.Name,
			UnitPrice:  product.Price,
			Quantity:   input.Quantity,
			Size:       input.Size,
			Color:      input.Color,
			TotalPrice: product.Price * domain.Amount(input.Quantity),
		})
	}
	return items, nil
}

func (s *orderService) now() time.Time {
	return s.clock()
}

func (s *orderService) publish(ctx context.Context, event OrderEvent) {
	if s.events == nil {
		return
	}
	if err := s.events.PublishOrderEvent(ctx, event); err != nil {
		s.logger(ctx, "order.event.publish_failed", map[string]any{
			"eventType": event.Type,
			"orderId":   event.OrderID,
			"error":     err.Error(),
		})
	}
}

func validateCreateCommand(cmd CreateOrderCommand) error {
	if strings.TrimSpace(cmd.UserID) == "" {
		return fmt.Errorf("%w: user id is required", ErrOrderInvalidInput)
	}
	if len(cmd.Items) == 0 {
		return fmt.Errorf("%w: at least one item is required", ErrOrderInvalidInput)
	}
	for _, item := range cmd.Items {
		if strings.TrimSpace(item.ProductID) == "" {
			return fmt.Errorf("%w: item product id is required", ErrOrderInvalidInput)
		}
		if item.Quantity <= 0 {
			return fmt.Errorf("%w: item quantity must be positive", ErrOrderInvalidInput)
		}
	}
	if strings.TrimSpace(cmd.Customer.Name) == "" {
		return fmt.Errorf("%w: customer name is required", ErrOrderInvalidInput)
	}
	if strings.TrimSpace(cmd.Customer.Email) == "" {
		return fmt.Errorf("%w: customer email is required", ErrOrderInvalidInput)
	}
	switch cmd.PaymentMethod {
	case domain.PaymentMethodRazorpay, domain.PaymentMethodStripe, domain.PaymentMethodCOD:
	default:
		return fmt.Errorf("%w: unsupported payment method %q", ErrOrderInvalidInput, cmd.PaymentMethod)
	}
	return nil
}

func transitionAllowed(from, to domain.OrderStatus) bool {
	for _, allowed := range orderStateTransitions[from] {
		if allowed == to {
			return true
		}
	}
	return false
}

func containsString(values []string, value string) bool {
	for _, v := range values {
		if strings.EqualFold(v, value) {
			return true
		}
	}
	return false
}
