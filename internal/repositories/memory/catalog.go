package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/repositories"
)

var errProductNotFound = errors.New("product not found")

// Catalog is a fixed in-memory product catalog.
type Catalog struct {
	mu       sync.RWMutex
	products map[string]domain.Product
}

// NewCatalog constructs a catalog over the given products.
func NewCatalog(products []domain.Product) *Catalog {
	byID := make(map[string]domain.Product, len(products))
	for _, p := range products {
		byID[p.ID] = p
	}
	return &Catalog{products: byID}
}

// DefaultCatalog returns the stock product set the API ships with.
func DefaultCatalog() *Catalog {
	return NewCatalog([]domain.Product{
		{
			ID:     "prod-tee-classic",
			Name:   "Classic Crew Tee",
			Price:  domain.AmountFromMinorUnits(129900),
			Sizes:  []string{"S", "M", "L", "XL"},
			Colors: []string{"black", "white", "navy"},
		},
		{
			ID:     "prod-denim-slim",
			Name:   "Slim Fit Denim",
			Price:  domain.AmountFromMinorUnits(329900),
			Sizes:  []string{"30", "32", "34", "36"},
			Colors: []string{"indigo", "washed"},
		},
		{
			ID:     "prod-hoodie-zip",
			Name:   "Zip-Up Hoodie",
			Price:  domain.AmountFromMinorUnits(249900),
			Sizes:  []string{"S", "M", "L", "XL"},
			Colors: []string{"grey", "olive"},
		},
		{
			ID:     "prod-sneaker-court",
			Name:   "Court Sneaker",
			Price:  domain.AmountFromMinorUnits(459700),
			Sizes:  []string{"7", "8", "9", "10", "11"},
			Colors: []string{"white", "black"},
		},
		{
			ID:     "prod-cap-sport",
			Name:   "Sport Cap",
			Price:  domain.AmountFromMinorUnits(79900),
			Sizes:  []string{"OS"},
			Colors: []string{"black", "red"},
		},
	})
}

// Product returns the product with the given id.
func (c *Catalog) Product(ctx context.Context, productID string) (domain.Product, error) {
	if err := ctx.Err(); err != nil {
		return domain.Product{}, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	product, ok := c.products[productID]
	if !ok {
		return domain.Product{}, repositories.NewNotFound("memory.catalog.product", errProductNotFound)
	}
	out := product
	out.Sizes = append([]string(nil), product.Sizes...)
	out.Colors = append([]string(nil), product.Colors...)
	return out, nil
}

// Add registers (or replaces) a product. Used by tests and local seeding.
func (c *Catalog) Add(product domain.Product) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.products[product.ID] = product
}
