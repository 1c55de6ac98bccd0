//go:build wireinject

package main

import (
	"context"

	"github.com/google/wire"
	"github.com/rs/zerolog"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"chat-platform/services/chat-api/internal/config"
	"chat-platform/services/chat-api/internal/domain/chat"
	"chat-platform/services/chat-api/internal/domain/mcp"
	"chat-platform/services/chat-api/internal/infrastructure/auth"
	"chat-platform/services/chat-api/internal/infrastructure/database"
	"chat-platform/services/chat-api/internal/infrastructure/database/repository/chatrepo"
	"chat-platform/services/chat-api/internal/infrastructure/database/repository/mcprepo"
	"chat-platform/services/chat-api/internal/infrastructure/llmprovider"
	"chat-platform/services/chat-api/internal/infrastructure/logger"
	"chat-platform/services/chat-api/internal/infrastructure/mcpclient"
	"chat-platform/services/chat-api/internal/interfaces/httpserver"
	"chat-platform/services/chat-api/internal/interfaces/wsserver"
)

var repositorySet = wire.NewSet(
	chatrepo.NewConversationRepository,
	chatrepo.NewMessageRepository,
	mcprepo.NewProviderRepository,
)

var domainSet = wire.NewSet(
	newRPCClient,
	newToolService,
	wire.Bind(new(chat.ToolGateway), new(*mcp.Service)),
	newModelProvider,
	newChatService,
	wire.Bind(new(wsserver.Conversations), new(*chat.Service)),
)

// BuildApplication assembles the chat service with Wire.
func BuildApplication(ctx context.Context) (*Application, error) {
	wire.Build(
		config.Load,
		logger.New,
		newDatabaseConfig,
		newGormDB,
		newAuthValidator,
		repositorySet,
		domainSet,
		wsserver.NewRegistry,
		httpserver.New,
		NewApplication,
	)
	return nil, nil
}

func newDatabaseConfig(cfg *config.Config) database.Config {
	return database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	}
}

func newGormDB(ctx context.Context, cfg database.Config, log zerolog.Logger) (*gorm.DB, error) {
	db, err := database.Connect(cfg)
	if err != nil {
		return nil, err
	}
	if err := database.AutoMigrate(ctx, db, log); err != nil {
		return nil, err
	}
	return db, nil
}

func newAuthValidator(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*auth.Validator, error) {
	return auth.NewValidator(ctx, cfg, log)
}

func newRPCClient(log zerolog.Logger) mcp.RPCClient {
	return mcpclient.NewClient(log)
}

func newToolService(repo mcp.Repository, rpc mcp.RPCClient, cfg *config.Config, log zerolog.Logger) *mcp.Service {
	return mcp.NewService(repo, rpc, log, cfg.ToolDiscoveryTimeout, cfg.ToolInvocationTimeout)
}

func newModelProvider(cfg *config.Config) *llmprovider.OpenAIProvider {
	return llmprovider.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
}

func newChatService(conversations chat.ConversationRepository, messages chat.MessageRepository, model *llmprovider.OpenAIProvider, tools chat.ToolGateway, cfg *config.Config, log zerolog.Logger) *chat.Service {
	return chat.NewService(conversations, messages, model, tools, log, chat.Options{
		Model:        cfg.OpenAIModel,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		HistoryLimit: cfg.ContextHistoryLimit,
	})
}
