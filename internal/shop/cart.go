package shop

import (
	"context"
	"math"
	"sync"
	"time"
)

const cartLatency = 10 * time.Millisecond

// CartItem is one line in a user's cart.
type CartItem struct {
	ItemID   string  `json:"itemId"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

// CartSnapshot is the full cart state returned by every cart operation.
type CartSnapshot struct {
	Items []CartItem `json:"items"`
	Count int        `json:"count"`
	Total float64    `json:"total"`
}

// CartService keeps one cart per user in memory.
type CartService struct {
	mu    sync.Mutex
	carts map[string][]CartItem
}

// NewCartService creates an empty cart service.
func NewCartService() *CartService {
	return &CartService{carts: make(map[string][]CartItem)}
}

// View returns the user's current cart.
func (s *CartService) View(ctx context.Context, userID string) (CartSnapshot, error) {
	if err := simulateLatency(ctx, cartLatency); err != nil {
		return CartSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot(userID), nil
}

// Add puts an item in the user's cart, merging quantities on repeated
// item ids, and returns the updated cart.
func (s *CartService) Add(ctx context.Context, userID string, item CartItem) (CartSnapshot, error) {
	if err := simulateLatency(ctx, cartLatency); err != nil {
		return CartSnapshot{}, err
	}
	if item.Quantity <= 0 {
		item.Quantity = 1
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := s.carts[userID]
	merged := false
	for i := range items {
		if items[i].ItemID == item.ItemID {
			items[i].Quantity += item.Quantity
			merged = true
			break
		}
	}
	if !merged {
		items = append(items, item)
	}
	s.carts[userID] = items

	return s.snapshot(userID), nil
}

// Clear empties the user's cart and returns what it held.
func (s *CartService) Clear(ctx context.Context, userID string) (CartSnapshot, error) {
	if err := simulateLatency(ctx, cartLatency); err != nil {
		return CartSnapshot{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := s.snapshot(userID)
	delete(s.carts, userID)
	return snap, nil
}

// snapshot must be called with the mutex held.
func (s *CartService) snapshot(userID string) CartSnapshot {
	items := s.carts[userID]
	snap := CartSnapshot{Items: make([]CartItem, len(items))}
	copy(snap.Items, items)
	for _, it := range items {
		snap.Count += it.Quantity
		snap.Total += it.Price * float64(it.Quantity)
	}
	snap.Total = math.Round(snap.Total*100) / 100
	return snap
}
