package memory

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
)

func TestEquityStore_AppendAndRange(t *testing.T) {
	store := NewEquityStore()
	ctx := context.Background()

	for _, ts := range []int64{1000, 2000, 3000} {
		err := store.Append(ctx, &domain.EquityPoint{
			SessionID: "s1",
			Timestamp: ts,
			Equity:    decimal.NewFromInt(ts),
			Cash:      decimal.NewFromInt(ts),
		})
		if err != nil {
			t.Fatalf("Append failed: %v", err)
		}
	}

	points, err := store.Range(ctx, "s1", 1500, 2500)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(points) != 1 || points[0].Timestamp != 2000 {
		t.Errorf("unexpected range result: %+v", points)
	}

	all, err := store.Range(ctx, "s1", 0, 0)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("len = %d, want 3", len(all))
	}
	for i := 1; i < len(all); i++ {
		if all[i].Timestamp < all[i-1].Timestamp {
			t.Errorf("not ordered at %d", i)
		}
	}
}

func TestEquityStore_SessionIsolation(t *testing.T) {
	store := NewEquityStore()
	ctx := context.Background()

	if err := store.Append(ctx, &domain.EquityPoint{SessionID: "s1", Timestamp: 1000}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}

	points, err := store.Range(ctx, "s2", 0, 0)
	if err != nil {
		t.Fatalf("Range failed: %v", err)
	}
	if len(points) != 0 {
		t.Errorf("len = %d, want 0", len(points))
	}
}
