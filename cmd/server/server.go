package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
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

type Application struct {
	httpServer *httpserver.HttpServer
	log        zerolog.Logger
}

func NewApplication(httpServer *httpserver.HttpServer, log zerolog.Logger) *Application {
	return &Application{
		httpServer: httpServer,
		log:        log,
	}
}

func (a *Application) Start(ctx context.Context) error {
	return a.httpServer.Run(ctx)
}

func main() {
	loadEnvFiles()

	cfg, err := config.Load()
	if err != nil {
		panic(err)
	}

	log := logger.New(cfg)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := database.Connect(database.Config{
		DSN:             cfg.DatabaseURL,
		MaxIdleConns:    cfg.DBMaxIdleConns,
		MaxOpenConns:    cfg.DBMaxOpenConns,
		ConnMaxLifetime: cfg.DBConnLifetime,
		LogLevel:        gormlogger.Warn,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("connect database")
	}

	if err := database.AutoMigrate(ctx, db, log); err != nil {
		log.Fatal().Err(err).Msg("migrate database")
	}

	authValidator, err := auth.NewValidator(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("initialize auth validator")
	}

	conversationRepo := chatrepo.NewConversationRepository(db)
	messageRepo := chatrepo.NewMessageRepository(db)
	providerRepo := mcprepo.NewProviderRepository(db)

	rpcClient := mcpclient.NewClient(log)
	toolService := mcp.NewService(providerRepo, rpcClient, log,
		cfg.ToolDiscoveryTimeout, cfg.ToolInvocationTimeout)

	modelProvider := llmprovider.NewOpenAIProvider(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	chatService := chat.NewService(conversationRepo, messageRepo, modelProvider, toolService, log, chat.Options{
		Model:        cfg.OpenAIModel,
		MaxTokens:    cfg.MaxTokens,
		Temperature:  cfg.Temperature,
		HistoryLimit: cfg.ContextHistoryLimit,
	})

	registry := wsserver.NewRegistry()

	httpServer := httpserver.New(cfg, log, chatService, registry, authValidator)
	app := NewApplication(httpServer, log)

	if err := app.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("application stopped with error")
	}

	log.Info().Msg("application exited cleanly")
}

func loadEnvFiles() {
	paths := []string{".env", "../.env"}
	for _, path := range paths {
		if _, err := os.Stat(path); err == nil {
			if err := godotenv.Overload(path); err != nil {
				fmt.Fprintf(os.Stderr, "warning: failed to load %s: %v\n", path, err)
			}
		}
	}
}
