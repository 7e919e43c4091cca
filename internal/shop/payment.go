package shop

import (
	"context"
	"time"

	"github.com/oklog/ulid/v2"
)

const paymentLatency = 50 * time.Millisecond

// PaymentResult is the outcome of a checkout attempt.
type PaymentResult struct {
	Status        string  `json:"status"`
	TransactionID string  `json:"transactionId"`
	Amount        float64 `json:"amount"`
	Method        string  `json:"method"`
	Message       string  `json:"message"`
}

// Payments is the payment processor stub. It approves any non-empty
// cart; a real processor sits behind the same shape.
type Payments struct {
	carts *CartService
}

// NewPayments creates the payment stub backed by the given cart service.
func NewPayments(carts *CartService) *Payments {
	return &Payments{carts: carts}
}

// Checkout charges the user's cart and empties it on success.
func (p *Payments) Checkout(ctx context.Context, userID, method string) (PaymentResult, error) {
	if err := simulateLatency(ctx, paymentLatency); err != nil {
		return PaymentResult{}, err
	}
	if method == "" {
		method = "card"
	}

	snap, err := p.carts.View(ctx, userID)
	if err != nil {
		return PaymentResult{}, err
	}
	if snap.Count == 0 {
		return PaymentResult{
			Status:  "declined",
			Method:  method,
			Message: "cart is empty",
		}, nil
	}

	if _, err := p.carts.Clear(ctx, userID); err != nil {
		return PaymentResult{}, err
	}

	return PaymentResult{
		Status:        "approved",
		TransactionID: ulid.Make().String(),
		Amount:        snap.Total,
		Method:        method,
		Message:       "payment processed",
	}, nil
}
