// Package transport carries the WebSocket surface: envelope framing,
// connection pumps, and the request handler that feeds the turn engine.
package transport

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/inkwell-ai/quill/internal/shop"
)

// Inbound envelope types.
const (
	TypeJoinRoom       = "join_room"
	TypeChatMessage    = "chat_message"
	TypeStopGeneration = "stop_generation"
)

// Envelope is the wire frame for every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	Timestamp time.Time       `json:"timestamp"`
	MessageID string          `json:"message_id"`
}

// NewEnvelope wraps a payload in a stamped envelope.
func NewEnvelope(eventType string, payload any) (Envelope, error) {
	var raw json.RawMessage
	if payload != nil {
		b, err := json.Marshal(payload)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", eventType, err)
		}
		raw = b
	}
	return Envelope{
		Type:      eventType,
		Payload:   raw,
		Timestamp: time.Now().UTC(),
		MessageID: uuid.NewString(),
	}, nil
}

// JoinRoomPayload is the payload for join_room frames.
type JoinRoomPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
}

// ChatMessagePayload is the payload for chat_message frames.
type ChatMessagePayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Message struct {
		Role    string `json:"role"`
		Content string `json:"content"`
	} `json:"message"`
	SelectedDocuments []string           `json:"selectedDocuments"`
	CartSnapshot      *shop.CartSnapshot `json:"cartSnapshot"`
}

// StopGenerationPayload is the payload for stop_generation frames.
type StopGenerationPayload struct {
	RoomID string `json:"roomId"`
}
