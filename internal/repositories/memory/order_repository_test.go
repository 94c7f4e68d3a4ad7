package memory

import (
	"context"
	"testing"
	"time"

	"github.com/vesture-shop/api/internal/domain"
	"github.com/vesture-shop/api/internal/repositories"
)

func sampleOrder(id, gatewayOrderID string, createdAt time.Time) domain.Order {
	return domain.Order{
		ID:        id,
		UserID:    "user-1",
		Status:    domain.OrderStatusPlaced,
		CreatedAt: createdAt,
		UpdatedAt: createdAt,
		Payment: domain.PaymentDetails{
			Method:         domain.PaymentMethodRazorpay,
			GatewayOrderID: gatewayOrderID,
			Amount:         domain.AmountFromMinorUnits(459700),
			Currency:       "INR",
			Status:         domain.PaymentStatusPending,
		},
	}
}

func TestInsertAndFindByGatewayOrderID(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Insert(ctx, sampleOrder("ord-1", "order_gw_1", now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.FindByGatewayOrderID(ctx, "order_gw_1")
	if err != nil {
		t.Fatalf("FindByGatewayOrderID: %v", err)
	}
	if got.ID != "ord-1" {
		t.Fatalf("unexpected order %q", got.ID)
	}
	if got.Version != 1 {
		t.Fatalf("inserted order should start at version 1, got %d", got.Version)
	}
}

func TestInsertRejectsDuplicateID(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Insert(ctx, sampleOrder("ord-1", "order_gw_1", now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	err := repo.Insert(ctx, sampleOrder("ord-1", "order_gw_2", now))
	if !repositories.IsConflict(err) {
		t.Fatalf("expected conflict, got %v", err)
	}
}

func TestUpdateEnforcesOptimisticConcurrency(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	now := time.Now().UTC()

	if err := repo.Insert(ctx, sampleOrder("ord-1", "order_gw_1", now)); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	first, err := repo.FindByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}

	first.Status = domain.OrderStatusProcessing
	updated, err := repo.Update(ctx, first)
	if err != nil {
		t.Fatalf("Update: %v", err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected version 2 after update, got %d", updated.Version)
	}

	// A writer still holding version 1 must lose.
	stale := first
	stale.Status = domain.OrderStatusCancelled
	if _, err := repo.Update(ctx, stale); !repositories.IsConflict(err) {
		t.Fatalf("expected conflict for stale version, got %v", err)
	}
}

func TestUpdateMissingOrderIsNotFound(t *testing.T) {
	repo := NewOrderRepository()
	_, err := repo.Update(context.Background(), sampleOrder("ord-missing", "order_gw_x", time.Now()))
	if !repositories.IsNotFound(err) {
		t.Fatalf("expected not found, got %v", err)
	}
}

func TestListFiltersAndOrdersNewestFirst(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)

	older := sampleOrder("ord-1", "order_gw_1", base)
	newer := sampleOrder("ord-2", "order_gw_2", base.Add(time.Hour))
	newer.Status = domain.OrderStatusProcessing
	other := sampleOrder("ord-3", "order_gw_3", base.Add(2*time.Hour))
	other.UserID = "user-2"

	for _, o := range []domain.Order{older, newer, other} {
		if err := repo.Insert(ctx, o); err != nil {
			t.Fatalf("Insert %s: %v", o.ID, err)
		}
	}

	got, err := repo.List(ctx, repositories.OrderListFilter{UserID: "user-1"})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 orders for user-1, got %d", len(got))
	}
	if got[0].ID != "ord-2" || got[1].ID != "ord-1" {
		t.Fatalf("expected newest first, got %s then %s", got[0].ID, got[1].ID)
	}

	byStatus, err := repo.List(ctx, repositories.OrderListFilter{Statuses: []domain.OrderStatus{domain.OrderStatusProcessing}})
	if err != nil {
		t.Fatalf("List by status: %v", err)
	}
	if len(byStatus) != 1 || byStatus[0].ID != "ord-2" {
		t.Fatalf("unexpected status filter result: %+v", byStatus)
	}
}

func TestFindReturnsACopy(t *testing.T) {
	repo := NewOrderRepository()
	ctx := context.Background()
	order := sampleOrder("ord-1", "order_gw_1", time.Now().UTC())
	order.Items = []domain.OrderItem{{ProductID: "prod-1", Quantity: 1}}
	if err := repo.Insert(ctx, order); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	got, err := repo.FindByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	got.Items[0].Quantity = 99
	got.Status = domain.OrderStatusCancelled

	again, err := repo.FindByID(ctx, "ord-1")
	if err != nil {
		t.Fatalf("FindByID: %v", err)
	}
	if again.Items[0].Quantity != 1 || again.Status != domain.OrderStatusPlaced {
		t.Fatal("mutating a returned order must not affect the stored copy")
	}
}
