package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/inkwell-ai/quill/internal/httpkit"
)

// OllamaClient is a client for an Ollama-compatible chat API.
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
}

// NewOllamaClient creates a new Ollama client for the given model.
func NewOllamaClient(baseURL, model string) *OllamaClient {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: httpkit.NewClient(
			httpkit.WithTimeout(30 * time.Second),
		),
	}
}

// chatRequest is the request format for the Ollama chat API.
type chatRequest struct {
	Model    string           `json:"model"`
	Messages []wireMessage    `json:"messages"`
	Stream   bool             `json:"stream"`
	Tools    []map[string]any `json:"tools,omitempty"`
}

// wireMessage is the provider wire format for a message.
type wireMessage struct {
	Role      string         `json:"role"`
	Content   string         `json:"content"`
	Name      string         `json:"name,omitempty"`
	ToolCalls []wireToolCall `json:"tool_calls,omitempty"`
}

// wireToolCall is the provider wire format for a tool call. Ollama
// returns arguments as a JSON object, not a string.
type wireToolCall struct {
	Function struct {
		Name      string          `json:"name"`
		Arguments json.RawMessage `json:"arguments"`
	} `json:"function"`
}

// chatResponse is the response from the Ollama chat API.
type chatResponse struct {
	Model     string      `json:"model"`
	CreatedAt string      `json:"created_at"`
	Message   wireMessage `json:"message"`
	Done      bool        `json:"done"`
}

// Chat sends a chat completion request. Tool declarations are
// serialized as OpenAI-style function schemas. Cancelling ctx aborts
// the in-flight HTTP request and returns an error wrapping
// [context.Canceled].
func (c *OllamaClient) Chat(ctx context.Context, messages []Message, tools []Tool) (*ChatResponse, error) {
	req := chatRequest{
		Model:    c.model,
		Messages: toWire(messages),
		Stream:   false,
		Tools:    declarations(tools),
	}

	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.baseURL+"/api/chat", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		// Surface ctx cancellation directly so callers can distinguish
		// an aborted turn from a provider failure.
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chat call aborted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		errBody := httpkit.ReadErrorBody(resp.Body, 512)
		return nil, fmt.Errorf("API error %d: %s", resp.StatusCode, errBody)
	}

	var chatResp chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		if ctx.Err() != nil {
			return nil, fmt.Errorf("chat call aborted: %w", ctx.Err())
		}
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &ChatResponse{
		Model:   chatResp.Model,
		Message: fromWire(chatResp.Message),
		Done:    chatResp.Done,
	}, nil
}

// Ping checks if the provider is reachable.
func (c *OllamaClient) Ping(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.baseURL+"/api/tags", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	httpkit.DrainAndClose(resp.Body, 1024)

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API error %d", resp.StatusCode)
	}

	return nil
}

// declarations serializes tools as OpenAI-style function schemas.
func declarations(tools []Tool) []map[string]any {
	if len(tools) == 0 {
		return nil
	}
	result := make([]map[string]any, 0, len(tools))
	for _, t := range tools {
		result = append(result, map[string]any{
			"type": "function",
			"function": map[string]any{
				"name":        t.Name,
				"description": t.Description,
				"parameters":  t.Parameters,
			},
		})
	}
	return result
}

func toWire(messages []Message) []wireMessage {
	out := make([]wireMessage, len(messages))
	for i, m := range messages {
		out[i] = wireMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		}
		for _, tc := range m.ToolCalls {
			var wtc wireToolCall
			wtc.Function.Name = tc.Name
			wtc.Function.Arguments = tc.Arguments
			out[i].ToolCalls = append(out[i].ToolCalls, wtc)
		}
	}
	return out
}

func fromWire(m wireMessage) Message {
	msg := Message{
		Role:    m.Role,
		Content: m.Content,
		Name:    m.Name,
	}
	for _, wtc := range m.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			Name:      wtc.Function.Name,
			Arguments: wtc.Function.Arguments,
		})
	}
	return msg
}
