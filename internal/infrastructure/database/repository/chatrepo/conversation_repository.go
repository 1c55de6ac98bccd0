package chatrepo

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"chat-platform/services/chat-api/internal/domain/chat"
	"chat-platform/services/chat-api/internal/infrastructure/database/entities"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

type conversationRepository struct {
	db *gorm.DB
}

// NewConversationRepository creates a GORM-backed chat.ConversationRepository.
func NewConversationRepository(db *gorm.DB) chat.ConversationRepository {
	return &conversationRepository{db: db}
}

func (r *conversationRepository) Create(ctx context.Context, conversation *chat.Conversation) error {
	entity := entities.NewSchemaConversation(conversation)
	if err := r.db.WithContext(ctx).Create(entity).Error; err != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to create conversation", err)
	}
	conversation.CreatedAt = entity.CreatedAt
	conversation.UpdatedAt = entity.UpdatedAt
	return nil
}

func (r *conversationRepository) FindByID(ctx context.Context, id string) (*chat.Conversation, error) {
	var entity entities.Conversation
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&entity).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
				platformerrors.ErrorTypeNotFound, "conversation not found", err)
		}
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to load conversation", err)
	}
	return entity.EtoD(), nil
}

// UpdateStatus transitions a conversation and keeps ended_at consistent:
// ending stamps the time, reactivating clears it.
func (r *conversationRepository) UpdateStatus(ctx context.Context, id string, status chat.ConversationStatus) error {
	updates := map[string]any{
		"status": status,
	}
	switch status {
	case chat.ConversationStatusEnded:
		now := time.Now().UTC()
		updates["ended_at"] = &now
	case chat.ConversationStatusActive:
		updates["ended_at"] = gorm.Expr("NULL")
	}
	result := r.db.WithContext(ctx).
		Model(&entities.Conversation{}).
		Where("id = ?", id).
		Updates(updates)
	if result.Error != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to update conversation status", result.Error)
	}
	if result.RowsAffected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeNotFound, "conversation not found", nil)
	}
	return nil
}

// IncrementCounters bumps the aggregate counters atomically so that
// concurrent turns on separate connections never lose updates.
func (r *conversationRepository) IncrementCounters(ctx context.Context, id string, messages int, tokens int) error {
	result := r.db.WithContext(ctx).
		Model(&entities.Conversation{}).
		Where("id = ?", id).
		Updates(map[string]any{
			"message_count": gorm.Expr("message_count + ?", messages),
			"total_tokens":  gorm.Expr("total_tokens + ?", tokens),
		})
	if result.Error != nil {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to increment conversation counters", result.Error)
	}
	if result.RowsAffected == 0 {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeNotFound, "conversation not found", nil)
	}
	return nil
}

func (r *conversationRepository) ListByUser(ctx context.Context, userID string, limit int) ([]*chat.Conversation, error) {
	query := r.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("updated_at DESC")
	if limit > 0 {
		query = query.Limit(limit)
	}

	var rows []entities.Conversation
	if err := query.Find(&rows).Error; err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeDatabaseError, "failed to list conversations", err)
	}

	conversations := make([]*chat.Conversation, 0, len(rows))
	for i := range rows {
		conversations = append(conversations, rows[i].EtoD())
	}
	return conversations, nil
}
