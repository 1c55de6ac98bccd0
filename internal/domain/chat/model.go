package chat

import (
	"time"
)

// ConversationStatus is the lifecycle state of a conversation.
type ConversationStatus string

const (
	ConversationStatusActive   ConversationStatus = "active"
	ConversationStatusEnded    ConversationStatus = "ended"
	ConversationStatusArchived ConversationStatus = "archived"
)

// MessageRole indicates who authored a message.
type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
	RoleSystem    MessageRole = "system"
	RoleFunction  MessageRole = "function"
)

// Conversation is a logical chat thread. The core only ever moves it
// between active and ended; archived is reachable through the admin
// surface, not through this service.
type Conversation struct {
	ID        string             `json:"id"`
	UserID    *string            `json:"user_id,omitempty"`
	Title     string             `json:"title"`
	Status    ConversationStatus `json:"status"`
	Metadata  map[string]any     `json:"metadata,omitempty"`
	CreatedAt time.Time          `json:"created_at"`
	EndedAt   *time.Time         `json:"ended_at,omitempty"`
	UpdatedAt time.Time          `json:"updated_at"`

	// Aggregates, maintained with atomic increments.
	MessageCount int   `json:"message_count"`
	TotalTokens  int64 `json:"total_tokens"`
}

// IsActive reports whether the conversation accepts new turns.
func (c *Conversation) IsActive() bool {
	return c.Status == ConversationStatusActive
}

// Message is one append-only entry of a conversation. Messages are never
// mutated after creation.
type Message struct {
	ID             string         `json:"id"`
	ConversationID string         `json:"conversation_id"`
	Role           MessageRole    `json:"role"`
	Content        string         `json:"content"`
	Model          *string        `json:"model,omitempty"`
	TokensUsed     *int           `json:"tokens_used,omitempty"`
	ResponseTimeMs *int           `json:"response_time_ms,omitempty"`
	Metadata       map[string]any `json:"metadata,omitempty"`
	CreatedAt      time.Time      `json:"created_at"`
}

// Metadata keys stamped onto assistant messages.
const (
	MetadataToolUsed     = "tool_used"
	MetadataToolName     = "tool_name"
	MetadataProviderID   = "provider_id"
	MetadataFinishReason = "finish_reason"
)

// TurnResult is what one completed send operation returns to the caller.
type TurnResult struct {
	ConversationID   string   `json:"conversation_id"`
	UserMessage      *Message `json:"user_message"`
	AssistantMessage *Message `json:"assistant_message"`
	ResponseTimeMs   int      `json:"response_time_ms"`
}
