package entities

import (
	"time"

	"gorm.io/datatypes"

	"chat-platform/services/chat-api/internal/domain/chat"
)

// Message is the database schema for chat messages. Rows are append-only.
type Message struct {
	ID        string    `gorm:"type:varchar(50);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime;index:idx_message_conversation_created"`

	ConversationID string           `gorm:"type:varchar(50);index:idx_message_conversation_created;not null"`
	Role           chat.MessageRole `gorm:"type:varchar(20);not null"`
	Content        string           `gorm:"type:text;not null"`
	Model          *string          `gorm:"type:varchar(100)"`
	TokensUsed     *int
	ResponseTimeMs *int
	Metadata       datatypes.JSONMap `gorm:"type:jsonb"`
}

// TableName specifies the table name for Message.
func (Message) TableName() string {
	return "chat_messages"
}

// EtoD converts the database entity to the domain model.
func (m *Message) EtoD() *chat.Message {
	return &chat.Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Model:          m.Model,
		TokensUsed:     m.TokensUsed,
		ResponseTimeMs: m.ResponseTimeMs,
		Metadata:       m.Metadata,
		CreatedAt:      m.CreatedAt,
	}
}

// NewSchemaMessage creates a database entity from the domain model.
func NewSchemaMessage(m *chat.Message) *Message {
	return &Message{
		ID:             m.ID,
		ConversationID: m.ConversationID,
		Role:           m.Role,
		Content:        m.Content,
		Model:          m.Model,
		TokensUsed:     m.TokensUsed,
		ResponseTimeMs: m.ResponseTimeMs,
		Metadata:       datatypes.JSONMap(m.Metadata),
		CreatedAt:      m.CreatedAt,
	}
}
