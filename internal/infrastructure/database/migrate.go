package database

import (
	"context"

	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"chat-platform/services/chat-api/internal/infrastructure/database/entities"
)

// AutoMigrate applies the schema for all chat-api entities.
func AutoMigrate(ctx context.Context, db *gorm.DB, log zerolog.Logger) error {
	err := db.WithContext(ctx).AutoMigrate(
		&entities.Conversation{},
		&entities.Message{},
		&entities.ToolProvider{},
	)
	if err != nil {
		return err
	}
	log.Info().Msg("database schema migrated")
	return nil
}
