// Package tools defines the tools the model can select during a turn:
// their declarations, typed arguments, and dispatch to the shop
// back-ends.
package tools

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Tool names as declared to the model.
const (
	NameBrowsePublishers = "browsePublishers"
	NameViewCart         = "viewCart"
	NameAddToCart        = "addToCart"
	NameCheckout         = "checkout"
)

// Args is the closed set of tool argument types. Raw model output is
// parsed and validated into one of these before any dispatch happens,
// so handlers never see untyped maps.
type Args interface {
	isArgs()
}

// BrowsePublishersArgs searches the publisher directory.
type BrowsePublishersArgs struct {
	Category string `json:"category"`
	Query    string `json:"query"`
	Limit    int    `json:"limit"`
}

func (BrowsePublishersArgs) isArgs() {}

// ViewCartArgs has no fields; the cart is keyed by the requesting user.
type ViewCartArgs struct{}

func (ViewCartArgs) isArgs() {}

// AddToCartArgs puts an item in the user's cart.
type AddToCartArgs struct {
	ItemID   string  `json:"itemId"`
	Title    string  `json:"title"`
	Price    float64 `json:"price"`
	Quantity int     `json:"quantity"`
}

func (AddToCartArgs) isArgs() {}

// CheckoutArgs triggers payment for the user's cart.
type CheckoutArgs struct {
	PaymentMethod string `json:"paymentMethod"`
}

func (CheckoutArgs) isArgs() {}

// ParseArgs decodes and validates raw model-provided arguments for the
// named tool. Unknown tools and invalid arguments are rejected here, at
// the boundary.
func ParseArgs(name string, raw json.RawMessage) (Args, error) {
	if len(raw) == 0 {
		raw = json.RawMessage(`{}`)
	}

	switch name {
	case NameBrowsePublishers:
		var a BrowsePublishersArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", name, err)
		}
		if strings.TrimSpace(a.Category) == "" && strings.TrimSpace(a.Query) == "" {
			return nil, fmt.Errorf("%s: category or query is required", name)
		}
		return a, nil

	case NameViewCart:
		return ViewCartArgs{}, nil

	case NameAddToCart:
		var a AddToCartArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", name, err)
		}
		if strings.TrimSpace(a.ItemID) == "" {
			return nil, fmt.Errorf("%s: itemId is required", name)
		}
		if strings.TrimSpace(a.Title) == "" {
			return nil, fmt.Errorf("%s: title is required", name)
		}
		if a.Price < 0 {
			return nil, fmt.Errorf("%s: price must not be negative", name)
		}
		return a, nil

	case NameCheckout:
		var a CheckoutArgs
		if err := json.Unmarshal(raw, &a); err != nil {
			return nil, fmt.Errorf("decode %s arguments: %w", name, err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown tool %q", name)
	}
}
