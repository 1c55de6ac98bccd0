package entities

import (
	"time"

	"gorm.io/datatypes"

	"chat-platform/services/chat-api/internal/domain/mcp"
)

// ToolProvider is the database schema for registered MCP servers.
type ToolProvider struct {
	ID        string    `gorm:"type:varchar(50);primaryKey"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`

	UserID      string            `gorm:"type:varchar(64);index:idx_tool_provider_user_active;not null"`
	Name        string            `gorm:"type:varchar(256);not null"`
	Description string            `gorm:"type:text"`
	EndpointURL string            `gorm:"type:varchar(500);not null"`
	APIKey      *string           `gorm:"type:varchar(500)"`
	IsActive    bool              `gorm:"index:idx_tool_provider_user_active;not null;default:true"`
	Config      datatypes.JSONMap `gorm:"type:jsonb"`
}

// TableName specifies the table name for ToolProvider.
func (ToolProvider) TableName() string {
	return "tool_providers"
}

// EtoD converts the database entity to the domain model.
func (p *ToolProvider) EtoD() *mcp.Provider {
	return &mcp.Provider{
		ID:          p.ID,
		UserID:      p.UserID,
		Name:        p.Name,
		Description: p.Description,
		EndpointURL: p.EndpointURL,
		APIKey:      p.APIKey,
		IsActive:    p.IsActive,
		Config:      p.Config,
		CreatedAt:   p.CreatedAt,
		UpdatedAt:   p.UpdatedAt,
	}
}
