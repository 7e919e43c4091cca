// Package llm provides the model-completion provider consumed by the
// turn controller: chat completions with optional tool/function calls.
package llm

import (
	"context"
	"encoding/json"
	"errors"
)

// Role values for chat messages.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleTool      = "tool"
)

// Message represents a chat message for the model.
type Message struct {
	Role      string     `json:"role"`
	Content   string     `json:"content"`
	Name      string     `json:"name,omitempty"` // Tool name for role "tool"
	ToolCalls []ToolCall `json:"tool_calls,omitempty"`
}

// ToolCall is a model-selected structured invocation of a tool.
// Arguments stay raw here; the tools package validates and decodes them
// into a typed variant before dispatch.
type ToolCall struct {
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// Tool declares a callable tool to the model.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatResponse is the unified response from a completion call.
type ChatResponse struct {
	Model   string
	Message Message
	Done    bool
}

// ToolCall returns the first tool call in the response, or nil.
// At most one tool call is consumed per turn.
func (r *ChatResponse) ToolCall() *ToolCall {
	if r == nil || len(r.Message.ToolCalls) == 0 {
		return nil
	}
	return &r.Message.ToolCalls[0]
}

// Client is the completion provider interface. Implementations must
// honor ctx cancellation by returning an error that wraps
// [context.Canceled].
type Client interface {
	Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error)
}

// IsCancellation reports whether err is the cancellation-specific
// failure raised when an in-flight call is aborted. Timeouts are normal
// errors, not cancellations.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled)
}
