package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/inkwell-ai/quill/internal/llm"
	"github.com/inkwell-ai/quill/internal/session"
	"github.com/inkwell-ai/quill/internal/shop"
)

// Result is the outcome of a tool execution. Payload carries the full
// structured result for the transport layer; Summary is the compact
// text that re-enters the model's context. Event names the UI event the
// payload should be broadcast under.
type Result struct {
	Name    string
	Payload any
	Summary string
	Event   session.EventType
	IsError bool
}

// Registry declares the available tools and dispatches executions to
// the shop back-ends.
type Registry struct {
	directory *shop.Directory
	carts     *shop.CartService
	payments  *shop.Payments
	logger    *slog.Logger
}

// NewRegistry creates the tool registry.
func NewRegistry(directory *shop.Directory, carts *shop.CartService, payments *shop.Payments, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		directory: directory,
		carts:     carts,
		payments:  payments,
		logger:    logger.With("component", "tools"),
	}
}

// Declarations returns the tool declarations sent with model calls.
func (r *Registry) Declarations() []llm.Tool {
	return []llm.Tool{
		{
			Name:        NameBrowsePublishers,
			Description: "Search the publisher directory by category and optional free-text query. Use this when the user asks to find, browse, or compare publishers.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"category": map[string]any{
						"type":        "string",
						"description": "Publisher category to search (e.g., technology, fiction, science)",
					},
					"query": map[string]any{
						"type":        "string",
						"description": "Optional free-text filter over name, location, and specialties",
					},
					"limit": map[string]any{
						"type":        "integer",
						"description": "Maximum number of results (default 10)",
					},
				},
				"required": []string{"category"},
			},
		},
		{
			Name:        NameViewCart,
			Description: "Show the user's current shopping cart with items and totals.",
			Parameters: map[string]any{
				"type":       "object",
				"properties": map[string]any{},
			},
		},
		{
			Name:        NameAddToCart,
			Description: "Add an item to the user's shopping cart.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"itemId": map[string]any{
						"type":        "string",
						"description": "Stable identifier of the item",
					},
					"title": map[string]any{
						"type":        "string",
						"description": "Display title of the item",
					},
					"price": map[string]any{
						"type":        "number",
						"description": "Unit price",
					},
					"quantity": map[string]any{
						"type":        "integer",
						"description": "Number of units (default 1)",
					},
				},
				"required": []string{"itemId", "title", "price"},
			},
		},
		{
			Name:        NameCheckout,
			Description: "Pay for the items currently in the user's cart.",
			Parameters: map[string]any{
				"type": "object",
				"properties": map[string]any{
					"paymentMethod": map[string]any{
						"type":        "string",
						"description": "Payment method (default card)",
					},
				},
			},
		},
	}
}

// Execute parses, validates, and runs the named tool for the given
// user. Failures never surface as errors: they are folded into an
// error-shaped result the model can react to.
func (r *Registry) Execute(ctx context.Context, userID, name string, raw json.RawMessage) Result {
	args, err := ParseArgs(name, raw)
	if err != nil {
		r.logger.Warn("tool arguments rejected", "tool", name, "error", err)
		return errorResult(name, "invalid arguments", err)
	}

	var res Result
	switch a := args.(type) {
	case BrowsePublishersArgs:
		res = r.browsePublishers(ctx, a)
	case ViewCartArgs:
		res = r.viewCart(ctx, userID)
	case AddToCartArgs:
		res = r.addToCart(ctx, userID, a)
	case CheckoutArgs:
		res = r.checkout(ctx, userID, a)
	default:
		res = errorResult(name, "unknown tool", fmt.Errorf("unhandled args type %T", args))
	}

	if res.IsError {
		r.logger.Warn("tool execution failed", "tool", name)
	} else {
		r.logger.Debug("tool executed", "tool", name, "user", userID)
	}
	return res
}

func (r *Registry) browsePublishers(ctx context.Context, a BrowsePublishersArgs) Result {
	publishers, err := r.directory.Search(ctx, a.Category, a.Query, a.Limit)
	if err != nil {
		return errorResult(NameBrowsePublishers, "publisher search failed", err)
	}

	// The full result set goes to the UI; the model sees only a count
	// and a one-line summary to bound token usage.
	summary, _ := json.Marshal(map[string]any{
		"summary": fmt.Sprintf("Found %d publishers matching %q", len(publishers), a.Category),
		"count":   len(publishers),
	})
	return Result{
		Name: NameBrowsePublishers,
		Payload: map[string]any{
			"publishers": publishers,
			"count":      len(publishers),
		},
		Summary: string(summary),
		Event:   session.EventPublishersData,
	}
}

func (r *Registry) viewCart(ctx context.Context, userID string) Result {
	snap, err := r.carts.View(ctx, userID)
	if err != nil {
		return errorResult(NameViewCart, "cart lookup failed", err)
	}
	return Result{
		Name:    NameViewCart,
		Payload: snap,
		Summary: fmt.Sprintf("Cart holds %d items totaling $%.2f", snap.Count, snap.Total),
		Event:   session.EventCartUpdated,
	}
}

func (r *Registry) addToCart(ctx context.Context, userID string, a AddToCartArgs) Result {
	snap, err := r.carts.Add(ctx, userID, shop.CartItem{
		ItemID:   a.ItemID,
		Title:    a.Title,
		Price:    a.Price,
		Quantity: a.Quantity,
	})
	if err != nil {
		return errorResult(NameAddToCart, "cart update failed", err)
	}
	return Result{
		Name:    NameAddToCart,
		Payload: snap,
		Summary: fmt.Sprintf("Added %q; cart now holds %d items totaling $%.2f", a.Title, snap.Count, snap.Total),
		Event:   session.EventCartUpdated,
	}
}

func (r *Registry) checkout(ctx context.Context, userID string, a CheckoutArgs) Result {
	res, err := r.payments.Checkout(ctx, userID, a.PaymentMethod)
	if err != nil {
		return errorResult(NameCheckout, "payment failed", err)
	}
	return Result{
		Name:    NameCheckout,
		Payload: res,
		Summary: fmt.Sprintf("Payment %s: $%.2f via %s", res.Status, res.Amount, res.Method),
		Event:   session.EventPaymentResult,
	}
}

// errorResult folds an execution failure into a normal tool result so
// the model can explain the failure instead of the turn aborting.
func errorResult(name, message string, err error) Result {
	details := ""
	if err != nil {
		details = err.Error()
	}
	return Result{
		Name: name,
		Payload: map[string]any{
			"error":   true,
			"message": message,
			"details": details,
		},
		Summary: fmt.Sprintf("Tool %s failed: %s (%s)", name, message, details),
		IsError: true,
	}
}
