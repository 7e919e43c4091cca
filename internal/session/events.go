package session

// EventType identifies an outbound room event.
type EventType string

// Outbound event types delivered to room members.
const (
	EventConnectionEstablished EventType = "connection_established"
	EventMessageReceived       EventType = "message_received"
	EventTextStream            EventType = "text_stream"
	EventTextStreamEnd         EventType = "text_stream_end"
	EventFunctionCall          EventType = "function_call"
	EventFunctionCallStart     EventType = "function_call_start"
	EventFunctionCallEnd       EventType = "function_call_end"
	EventFunctionResult        EventType = "function_result"
	EventPublishersData        EventType = "publishers_data"
	EventCartUpdated           EventType = "cart_updated"
	EventPaymentResult         EventType = "payment_result"
	EventError                 EventType = "error"
)

// Event is a room-scoped event. The transport layer wraps it in an
// envelope (timestamp, message id) when writing to a connection.
type Event struct {
	Type    EventType `json:"type"`
	Payload any       `json:"payload,omitempty"`
}

// TextChunk is the payload for EventTextStream events.
type TextChunk struct {
	Content string `json:"content"`
	Done    bool   `json:"done"`
}

// ErrorPayload is the payload for EventError events.
type ErrorPayload struct {
	Message string `json:"message"`
}
