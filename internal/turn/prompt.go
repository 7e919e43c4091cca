package turn

import (
	"context"
	"fmt"
	"strings"

	"github.com/inkwell-ai/quill/internal/shop"
)

// baseInstructions is the assistant persona prepended to every turn.
const baseInstructions = `You are Quill, a helpful shopping assistant for an online book marketplace.
You help users discover publishers, manage their cart, and check out.
Use the available tools when the user asks to search, browse, or buy.
Keep responses short and conversational. Never invent publishers or prices.`

// summarizeInstructions replaces the base instructions for the
// follow-up call after a tool executed.
const summarizeInstructions = `You are Quill, a helpful shopping assistant.
A tool was just executed and its result is in the conversation.
Summarize the outcome for the user in one or two friendly sentences.
Do not call any more tools.`

// buildSystemContext composes the system message: base instructions,
// retrieval context when the room has an owner, and the cart summary
// when the client sent a snapshot.
func (e *Engine) buildSystemContext(ctx context.Context, in Inbound, owner string, hasOwner bool) string {
	parts := []string{baseInstructions}

	if hasOwner && e.retriever != nil {
		if retrieved := e.retriever.Build(ctx, owner, in.Content, in.SelectedDocuments); retrieved != "" {
			parts = append(parts, retrieved)
		}
	}

	if in.Cart != nil && in.Cart.Count > 0 {
		parts = append(parts, cartSummary(*in.Cart))
	}

	return strings.Join(parts, "\n\n")
}

// cartSummary renders the client-provided cart snapshot for the model.
func cartSummary(cart shop.CartSnapshot) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "The user's cart currently holds %d items totaling $%.2f:\n", cart.Count, cart.Total)
	for _, it := range cart.Items {
		fmt.Fprintf(&sb, "- %s x%d at $%.2f\n", it.Title, it.Quantity, it.Price)
	}
	return strings.TrimRight(sb.String(), "\n")
}

// documentTaskPhrases signal the message is about working with the
// user's documents, where tool calls would be a distraction.
var documentTaskPhrases = []string{
	"summarize",
	"summarise",
	"explain this document",
	"explain the document",
	"analyze",
	"analyse",
	"according to the document",
	"in the document",
	"in this document",
	"in my document",
	"from the report",
	"in the report",
	"key points",
	"key takeaways",
}

// isDocumentTask reports whether the message phrasing indicates a
// document task. Tools are disabled for those turns.
func isDocumentTask(message string) bool {
	lower := strings.ToLower(message)
	for _, p := range documentTaskPhrases {
		if strings.Contains(lower, p) {
			return true
		}
	}
	return false
}
