package shop

import (
	"context"
	"testing"
)

func TestSearchByCategory(t *testing.T) {
	d := NewDirectory()

	got, err := d.Search(context.Background(), "technology", "", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 3 {
		t.Fatalf("got %d publishers, want 3", len(got))
	}
	for _, p := range got {
		if p.Category != "technology" {
			t.Errorf("got category %q, want technology", p.Category)
		}
	}
	// Best rated first.
	for i := 1; i < len(got); i++ {
		if got[i].Rating > got[i-1].Rating {
			t.Errorf("results not sorted by rating: %v before %v", got[i-1].Rating, got[i].Rating)
		}
	}
}

func TestSearchQueryMatchesSpecialties(t *testing.T) {
	d := NewDirectory()

	got, err := d.Search(context.Background(), "", "machine learning", 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 1 || got[0].ID != "pub-003" {
		t.Errorf("got %v, want only pub-003", got)
	}
}

func TestSearchLimit(t *testing.T) {
	d := NewDirectory()

	got, err := d.Search(context.Background(), "", "", 2)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(got) != 2 {
		t.Errorf("got %d publishers, want 2", len(got))
	}
}

func TestSearchCancelled(t *testing.T) {
	d := NewDirectory()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := d.Search(ctx, "technology", "", 10); err == nil {
		t.Error("expected error from cancelled context")
	}
}

func TestCartAddAndMerge(t *testing.T) {
	s := NewCartService()
	ctx := context.Background()

	snap, err := s.Add(ctx, "u1", CartItem{ItemID: "b1", Title: "Go in Practice", Price: 29.99, Quantity: 1})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Count != 1 || snap.Total != 29.99 {
		t.Errorf("got count=%d total=%v", snap.Count, snap.Total)
	}

	snap, err = s.Add(ctx, "u1", CartItem{ItemID: "b1", Title: "Go in Practice", Price: 29.99, Quantity: 2})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(snap.Items) != 1 {
		t.Fatalf("repeated item id should merge, got %d lines", len(snap.Items))
	}
	if snap.Count != 3 || snap.Total != 89.97 {
		t.Errorf("got count=%d total=%v, want 3 and 89.97", snap.Count, snap.Total)
	}
}

func TestCartsIsolatedPerUser(t *testing.T) {
	s := NewCartService()
	ctx := context.Background()

	if _, err := s.Add(ctx, "u1", CartItem{ItemID: "b1", Price: 10}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	snap, err := s.View(ctx, "u2")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if snap.Count != 0 {
		t.Errorf("u2 cart should be empty, got %d items", snap.Count)
	}
}

func TestCheckoutApprovedAndClears(t *testing.T) {
	carts := NewCartService()
	p := NewPayments(carts)
	ctx := context.Background()

	if _, err := carts.Add(ctx, "u1", CartItem{ItemID: "b1", Price: 15.50, Quantity: 2}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	res, err := p.Checkout(ctx, "u1", "card")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "approved" {
		t.Errorf("status: got %q, want approved", res.Status)
	}
	if res.Amount != 31.00 {
		t.Errorf("amount: got %v, want 31.00", res.Amount)
	}
	if res.TransactionID == "" {
		t.Error("expected a transaction id")
	}

	snap, _ := carts.View(ctx, "u1")
	if snap.Count != 0 {
		t.Errorf("cart should be empty after checkout, got %d items", snap.Count)
	}
}

func TestCheckoutEmptyCartDeclined(t *testing.T) {
	p := NewPayments(NewCartService())

	res, err := p.Checkout(context.Background(), "u1", "")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if res.Status != "declined" {
		t.Errorf("status: got %q, want declined", res.Status)
	}
	if res.Method != "card" {
		t.Errorf("default method: got %q, want card", res.Method)
	}
}
