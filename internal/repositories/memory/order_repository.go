// Package memory provides in-process repository implementations used by the
// default deployment and the test suite.
package memory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/repositories"
)

var (
	errOrderNotFound = errors.New("order not found")
	errOrderExists   = errors.New("order already exists")
	errStaleVersion  = errors.New("order version is stale")
)

// OrderRepository keeps order aggregates in a mutex-guarded map with a
// secondary index on the gateway order id.
type OrderRepository struct {
	mu        sync.RWMutex
	orders    map[string]domain.Order
	byGateway map[string]string
}

// NewOrderRepository constructs an empty in-memory order repository.
func NewOrderRepository() *OrderRepository {
	return &OrderRepository{
		orders:    make(map[string]domain.Order),
		byGateway: make(map[string]string),
	}
}

// Insert stores a new order. The stored copy always starts at version 1.
func (r *OrderRepository) Insert(ctx context.Context, order domain.Order) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.orders[order.ID]; ok {
		return repositories.NewConflict("memory.orders.insert", errOrderExists)
	}
	order.Version = 1
	r.orders[order.ID] = cloneOrder(order)
	if gw := order.Payment.GatewayOrderID; gw != "" {
		r.byGateway[gw] = order.ID
	}
	return nil
}

// FindByID returns the order with the given id.
func (r *OrderRepository) FindByID(ctx context.Context, orderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("memory.orders.find", errOrderNotFound)
	}
	return cloneOrder(order), nil
}

// FindByGatewayOrderID resolves an order through the gateway order index.
func (r *OrderRepository) FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	orderID, ok := r.byGateway[gatewayOrderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("memory.orders.findByGateway", errOrderNotFound)
	}
	order, ok := r.orders[orderID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("memory.orders.findByGateway", errOrderNotFound)
	}
	return cloneOrder(order), nil
}

// Update replaces the stored order if the caller holds the current version.
// On success the returned copy carries the incremented version.
func (r *OrderRepository) Update(ctx context.Context, order domain.Order) (domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return domain.Order{}, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.orders[order.ID]
	if !ok {
		return domain.Order{}, repositories.NewNotFound("memory.orders.update", errOrderNotFound)
	}
	if current.Version != order.Version {
		return domain.Order{}, repositories.NewConflict("memory.orders.update", errStaleVersion)
	}

	order.Version = current.Version + 1
	stored := cloneOrder(order)
	r.orders[order.ID] = stored
	if gw := order.Payment.GatewayOrderID; gw != "" {
		r.byGateway[gw] = order.ID
	}
	return cloneOrder(stored), nil
}

// List returns orders matching the filter, newest first.
func (r *OrderRepository) List(ctx context.Context, filter repositories.OrderListFilter) ([]domain.Order, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	matched := make([]domain.Order, 0, len(r.orders))
	for _, order := range r.orders {
		if filter.UserID != "" && order.UserID != filter.UserID {
			continue
		}
		if len(filter.Statuses) > 0 && !containsStatus(filter.Statuses, order.Status) {
			continue
		}
		if !filter.CreatedFrom.IsZero() && order.CreatedAt.Before(filter.CreatedFrom) {
			continue
		}
		if !filter.CreatedTo.IsZero() && order.CreatedAt.After(filter.CreatedTo) {
			continue
		}
		matched = append(matched, cloneOrder(order))
	}

	sort.Slice(matched, func(i, j int) bool {
		if matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].ID > matched[j].ID
		}
		return matched[i].CreatedAt.After(matched[j].CreatedAt)
	})

	if filter.Limit > 0 && len(matched) > filter.Limit {
		matched = matched[:filter.Limit]
	}
	return matched, nil
}

func containsStatus(statuses []domain.OrderStatus, status domain.OrderStatus) bool {
	for _, s := range statuses {
		if s == status {
			return true
		}
	}
	return false
}

func cloneOrder(order domain.Order) domain.Order {
	out := order
	if len(order.Items) > 0 {
		out.Items = append([]domain.OrderItem(nil), order.Items...)
	}
	if order.Payment.GatewayPaymentID != nil {
		v := *order.Payment.GatewayPaymentID
		out.Payment.GatewayPaymentID = &v
	}
	if order.Payment.GatewaySignature != nil {
		v := *order.Payment.GatewaySignature
		out.Payment.GatewaySignature = &v
	}
	if order.Payment.PaidAt != nil {
		v := *order.Payment.PaidAt
		out.Payment.PaidAt = &v
	}
	if order.Shipping.TrackingNumber != nil {
		v := *order.Shipping.TrackingNumber
		out.Shipping.TrackingNumber = &v
	}
	if order.Shipping.ShippedAt != nil {
		v := *order.Shipping.ShippedAt
		out.Shipping.ShippedAt = &v
	}
	if order.Shipping.DeliveredAt != nil {
		v := *order.Shipping.DeliveredAt
		out.Shipping.DeliveredAt = &v
	}
	if order.CompletedAt != nil {
		v := *order.CompletedAt
		out.CompletedAt = &v
	}
	if len(order.Metadata.Tags) > 0 {
		out.Metadata.Tags = append([]string(nil), order.Metadata.Tags...)
	}
	if len(order.Metadata.Attributes) > 0 {
		out.Metadata.Attributes = make(map[string]string, len(order.Metadata.Attributes))
		for k, v := range order.Metadata.Attributes {
			out.Metadata.Attributes[k] = v
		}
	}
	return out
}
