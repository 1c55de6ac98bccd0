package entities

import (
	"time"

	"gorm.io/datatypes"

	"chat-platform/services/chat-api/internal/domain/chat"
)

// Conversation is the database schema for conversations.
type Conversation struct {
	ID        string    `gorm:"type:varchar(50);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	UserID   *string                 `gorm:"type:varchar(64);index:idx_conversation_user_status"`
	Title    string                  `gorm:"type:varchar(256);not null"`
	Status   chat.ConversationStatus `gorm:"type:varchar(20);index:idx_conversation_user_status;not null;default:'active'"`
	EndedAt  *time.Time
	Metadata datatypes.JSONMap       `gorm:"type:jsonb"`

	MessageCount int   `gorm:"not null;default:0"`
	TotalTokens  int64 `gorm:"not null;default:0"`

	Messages []Message `gorm:"foreignKey:ConversationID"`
}

// TableName specifies the table name for Conversation.
func (Conversation) TableName() string {
	return "conversations"
}

// EtoD converts the database entity to the domain model.
func (c *Conversation) EtoD() *chat.Conversation {
	return &chat.Conversation{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		Status:       c.Status,
		Metadata:     c.Metadata,
		CreatedAt:    c.CreatedAt,
		EndedAt:      c.EndedAt,
		UpdatedAt:    c.UpdatedAt,
		MessageCount: c.MessageCount,
		TotalTokens:  c.TotalTokens,
	}
}

// NewSchemaConversation creates a database entity from the domain model.
func NewSchemaConversation(c *chat.Conversation) *Conversation {
	return &Conversation{
		ID:           c.ID,
		UserID:       c.UserID,
		Title:        c.Title,
		Status:       c.Status,
		EndedAt:      c.EndedAt,
		Metadata:     datatypes.JSONMap(c.Metadata),
		MessageCount: c.MessageCount,
		TotalTokens:  c.TotalTokens,
		CreatedAt:    c.CreatedAt,
		UpdatedAt:    c.UpdatedAt,
	}
}
