package chatrepo

import (
	"context"

	"gorm.io/gorm"

	"chat-platform/services/chat-api/internal/domain/chat"
	"chat-platform/services/chat-api/internal/infrastructure/database/entities"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

type messageRepository struct {
	db *gorm.DB
}

// NewMessageRepository creates a GORM-backed chat.MessageRepository.
func NewMessageRepository(db *gorm.DB) chat.MessageRepository {
	return &messageRepository{db: db}
}

func (r *messageRepository) Create(ctx context.Context, message *chat.Message) error {
	entity := entities.NewSchemaMessage(message)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to create message", err)
	}
	message.CreatedAt = entity.CreatedAt
	return nil
}

// ListByConversation returns messages in chronological order. A limit of
// zero returns the full history; otherwise the most recent limit messages
// are returned, still oldest first.
func (r *messageRepository) ListByConversation(ctx context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	var rows []entities.Message

	query := r.db.WithContext(ctx).Where("conversation_id = ?", conversationID)
	if limit > 0 {
		sub := r.db.Model(&entities.Message{}).
			Select("id").
			Where("conversation_id = ?", conversationID).
			Order("created_at DESC").
			Limit(limit)
		query = query.Where("id IN (?)", sub)
	}
	if err := query.Order("created_at ASC").Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to list messages", err)
	}

	messages := make([]*chat.Message, 0, len(rows))
	for i := range rows {
		messages = append(messages, rows[i].EtoD())
	}
	return messages, nil
}
