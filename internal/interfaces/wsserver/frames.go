package wsserver

import (
	"encoding/json"
	"fmt"
)

// Action is the inbound frame discriminator. Dispatch is an exhaustive
// switch so an unhandled action is caught at review time, not at runtime.
type Action string

const (
	ActionStart Action = "start"
	ActionSend  Action = "send"
	ActionEnd   Action = "end"
)

// Outbound frame types that are not direct action echoes.
const (
	TypeError             = "error"
	TypeMessageBroadcast  = "message_broadcast"
	TypeConversationEnded = "conversation_ended"
)

// InboundFrame is one client request: {action, data}.
type InboundFrame struct {
	Action Action          `json:"action"`
	Data   json.RawMessage `json:"data"`
}

// StartPayload opens a new conversation, or attaches to an existing one
// when conversationId is set (reconnecting it if it has ended).
type StartPayload struct {
	ConversationID string `json:"conversationId,omitempty"`
	Title          string `json:"title,omitempty"`
	SystemMessage  string `json:"systemMessage,omitempty"`
}

// SendPayload runs one conversation turn.
type SendPayload struct {
	ConversationID string `json:"conversationId"`
	Content        string `json:"content"`
}

// EndPayload transitions a conversation to ended.
type EndPayload struct {
	ConversationID string `json:"conversationId"`
}

// OutboundFrame is one server response or broadcast:
// {type, success, data?, error?}.
type OutboundFrame struct {
	Type    string `json:"type"`
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

// SuccessFrame builds a successful response frame.
func SuccessFrame(frameType string, data any) OutboundFrame {
	return OutboundFrame{Type: frameType, Success: true, Data: data}
}

// ErrorFrame builds a failed response frame. The connection stays usable.
func ErrorFrame(frameType, message string) OutboundFrame {
	return OutboundFrame{Type: frameType, Success: false, Error: message}
}

// ParseInbound decodes one raw frame. A decode failure is a protocol
// error for that frame only.
func ParseInbound(raw []byte) (*InboundFrame, error) {
	var frame InboundFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return nil, fmt.Errorf("invalid JSON frame: %w", err)
	}
	if frame.Action == "" {
		return nil, fmt.Errorf("frame has no action")
	}
	return &frame, nil
}

func decodePayload(data json.RawMessage, out any) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("invalid frame data: %w", err)
	}
	return nil
}
