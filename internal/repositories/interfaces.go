// Package repositories declares the persistence contracts consumed by the
// service layer. Implementations live in subpackages keyed by backend.
package repositories

import (
	"context"
	"time"

	"github.com/vesture-shop/api/internal/domain"
)

// RepositoryError wraps low-level persistence failures with categorisation
// used by services.
type RepositoryError interface {
	error
	IsNotFound() bool
	IsConflict() bool
	IsUnavailable() bool
}

// OrderListFilter narrows order listings. Zero values mean "no constraint".
type OrderListFilter struct {
	UserID      string
	Statuses    []domain.OrderStatus
	CreatedFrom time.Time
	CreatedTo   time.Time
	Limit       int
}

// OrderRepository persists order aggregates. Update enforces optimistic
// concurrency on Order.Version and returns a conflict error when the stored
// version has moved on.
type OrderRepository interface {
	Insert(ctx context.Context, order domain.Order) error
	FindByID(ctx context.Context, orderID string) (domain.Order, error)
	FindByGatewayOrderID(ctx context.Context, gatewayOrderID string) (domain.Order, error)
	Update(ctx context.Context, order domain.Order) (domain.Order, error)
	List(ctx context.Context, filter OrderListFilter) ([]domain.Order, error)
}

// CatalogProvider resolves products at order time so line items snapshot the
// price in effect when the order was placed.
type CatalogProvider interface {
	Product(ctx context.Context, productID string) (domain.Product, error)
}
