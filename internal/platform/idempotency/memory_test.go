package idempotency

import (
	"context"
	"testing"
	"time"
)

func TestMemoryStoreMarkProcessedOnce(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	first, err := store.MarkProcessed(ctx, "pay_1:payment.captured", now, time.Hour)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !first {
		t.Fatal("first delivery must be marked as new")
	}

	second, err := store.MarkProcessed(ctx, "pay_1:payment.captured", now.Add(time.Minute), time.Hour)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if second {
		t.Fatal("replayed delivery must be rejected while the marker is live")
	}
}

func TestMemoryStoreExpiredMarkerIsReusable(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if ok, _ := store.MarkProcessed(ctx, "pay_1:payment.captured", now, time.Minute); !ok {
		t.Fatal("first mark should succeed")
	}
	ok, err := store.MarkProcessed(ctx, "pay_1:payment.captured", now.Add(2*time.Minute), time.Minute)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !ok {
		t.Fatal("an expired marker must not block new deliveries")
	}
}

func TestMemoryStoreRelease(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if ok, _ := store.MarkProcessed(ctx, "pay_1:payment.captured", now, time.Hour); !ok {
		t.Fatal("first mark should succeed")
	}
	if err := store.Release(ctx, "pay_1:payment.captured"); err != nil {
		t.Fatalf("Release: %v", err)
	}
	ok, err := store.MarkProcessed(ctx, "pay_1:payment.captured", now, time.Hour)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !ok {
		t.Fatal("released key must be markable again")
	}
}

func TestMemoryStoreKeysAreIndependent(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()
	now := time.Now()

	if ok, _ := store.MarkProcessed(ctx, "pay_1:payment.captured", now, time.Hour); !ok {
		t.Fatal("first mark should succeed")
	}
	ok, err := store.MarkProcessed(ctx, "pay_1:payment.failed", now, time.Hour)
	if err != nil {
		t.Fatalf("MarkProcessed: %v", err)
	}
	if !ok {
		t.Fatal("a different event type for the same payment is a distinct key")
	}
}
