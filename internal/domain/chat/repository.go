package chat

import "context"

// ConversationRepository persists conversation metadata keyed by opaque
// string IDs.
type ConversationRepository interface {
	Create(ctx context.Context, conversation *Conversation) error
	FindByID(ctx context.Context, id string) (*Conversation, error)
	UpdateStatus(ctx context.Context, id string, status ConversationStatus) error
	// IncrementCounters applies atomic deltas to the aggregate columns so
	// that concurrent turns on one conversation never lose updates.
	IncrementCounters(ctx context.Context, id string, messages int, tokens int) error
	ListByUser(ctx context.Context, userID string, limit int) ([]*Conversation, error)
}

// MessageRepository persists individual messages, append-only.
type MessageRepository interface {
	Create(ctx context.Context, message *Message) error
	// ListByConversation returns messages in ascending creation order;
	// limit 0 returns the full history.
	ListByConversation(ctx context.Context, conversationID string, limit int) ([]*Message, error)
}
