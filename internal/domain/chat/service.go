package chat

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"chat-platform/services/chat-api/internal/domain/llm"
	"chat-platform/services/chat-api/internal/domain/mcp"
	"chat-platform/services/chat-api/internal/utils/idgen"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

const defaultTitle = "New Conversation"

// ToolGateway is the slice of the MCP service the orchestrator needs.
type ToolGateway interface {
	Discover(ctx context.Context, callerID, delegatedCred string) *mcp.Toolset
	Invoke(ctx context.Context, providerID, toolName string, arguments map[string]any, callerID, delegatedCred string) mcp.Outcome
}

// Options tune one orchestrator instance.
type Options struct {
	Model       string
	MaxTokens   int
	Temperature float32
	// HistoryLimit caps the trailing messages replayed as context.
	// 0 replays the full history.
	HistoryLimit int
}

// Service orchestrates conversation turns: it validates conversation
// state, persists both sides of the exchange, and drives the model/tool
// round trips.
type Service struct {
	conversations ConversationRepository
	messages      MessageRepository
	model         llm.Provider
	tools         ToolGateway
	log           zerolog.Logger
	opts          Options
}

// NewService constructs the conversation orchestrator. The model provider
// is injected so tests can substitute a fake without global state.
func NewService(conversations ConversationRepository, messages MessageRepository, model llm.Provider, tools ToolGateway, log zerolog.Logger, opts Options) *Service {
	return &Service{
		conversations: conversations,
		messages:      messages,
		model:         model,
		tools:         tools,
		log:           log.With().Str("component", "conversation-service").Logger(),
		opts:          opts,
	}
}

// Start creates a new active conversation, optionally seeding it with a
// system message.
func (s *Service) Start(ctx context.Context, userID *string, title, systemMessage string) (*Conversation, error) {
	if title == "" {
		title = defaultTitle
	}

	conversation := &Conversation{
		ID:        idgen.MustGenerateSecureID(idgen.PrefixConversation, 12),
		UserID:    userID,
		Title:     title,
		Status:    ConversationStatusActive,
		Metadata:  map[string]any{"model": s.opts.Model},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.conversations.Create(ctx, conversation); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "create conversation")
	}

	if systemMessage != "" {
		model := s.opts.Model
		msg := &Message{
			ID:             idgen.MustGenerateSecureID(idgen.PrefixMessage, 10),
			ConversationID: conversation.ID,
			Role:           RoleSystem,
			Content:        systemMessage,
			Model:          &model,
			CreatedAt:      time.Now().UTC(),
		}
		if err := s.messages.Create(ctx, msg); err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist system message")
		}
		if err := s.conversations.IncrementCounters(ctx, conversation.ID, 1, 0); err != nil {
			s.log.Warn().Err(err).Str("conversation_id", conversation.ID).Msg("increment counters")
		}
	}

	s.log.Info().
		Str("conversation_id", conversation.ID).
		Msg("conversation started")
	return conversation, nil
}

// Attach loads an existing conversation for a session joining it,
// reconnecting it (ended to active) when necessary. History is never
// altered by a reconnect.
func (s *Service) Attach(ctx context.Context, conversationID, callerID string) (*Conversation, error) {
	conversation, err := s.loadOwned(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}

	switch conversation.Status {
	case ConversationStatusActive:
		return conversation, nil
	case ConversationStatusEnded:
		if err := s.conversations.UpdateStatus(ctx, conversationID, ConversationStatusActive); err != nil {
			return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "reconnect conversation")
		}
		conversation.Status = ConversationStatusActive
		conversation.EndedAt = nil
		s.log.Info().Str("conversation_id", conversationID).Msg("conversation reconnected")
		return conversation, nil
	default:
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInvalidState,
			fmt.Sprintf("conversation is %s", conversation.Status), nil)
	}
}

// End transitions an active conversation to ended and stamps the end time.
func (s *Service) End(ctx context.Context, conversationID, callerID string) (*Conversation, error) {
	conversation, err := s.loadOwned(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if conversation.Status != ConversationStatusActive {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInvalidState,
			"conversation is not active", nil)
	}

	if err := s.conversations.UpdateStatus(ctx, conversationID, ConversationStatusEnded); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "end conversation")
	}
	now := time.Now().UTC()
	conversation.Status = ConversationStatusEnded
	conversation.EndedAt = &now

	s.log.Info().Str("conversation_id", conversationID).Msg("conversation ended")
	return conversation, nil
}

// Send runs one full turn: persist the user message, build context,
// optionally augment with tools, and persist the assistant's answer.
func (s *Service) Send(ctx context.Context, conversationID, content, callerID, delegatedCred string) (*TurnResult, error) {
	conversation, err := s.loadOwned(ctx, conversationID, callerID)
	if err != nil {
		return nil, err
	}
	if !conversation.IsActive() {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeInvalidState,
			"conversation is not active", nil)
	}

	started := time.Now()

	model := s.opts.Model
	userMessage := &Message{
		ID:             idgen.MustGenerateSecureID(idgen.PrefixMessage, 10),
		ConversationID: conversationID,
		Role:           RoleUser,
		Content:        content,
		Model:          &model,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, userMessage); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist user message")
	}

	history, err := s.buildContext(ctx, conversationID)
	if err != nil {
		return nil, err
	}

	answer, err := s.completeTurn(ctx, history, content, callerID, delegatedCred)
	if err != nil {
		return nil, err
	}

	responseTime := int(time.Since(started).Milliseconds())
	tokens := answer.usage.TotalTokens

	assistantMessage := &Message{
		ID:             idgen.MustGenerateSecureID(idgen.PrefixMessage, 10),
		ConversationID: conversationID,
		Role:           RoleAssistant,
		Content:        answer.content,
		Model:          &model,
		TokensUsed:     &tokens,
		ResponseTimeMs: &responseTime,
		Metadata:       answer.metadata,
		CreatedAt:      time.Now().UTC(),
	}
	if err := s.messages.Create(ctx, assistantMessage); err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "persist assistant message")
	}

	if err := s.conversations.IncrementCounters(ctx, conversationID, 2, tokens); err != nil {
		s.log.Warn().Err(err).Str("conversation_id", conversationID).Msg("increment counters")
	}

	s.log.Info().
		Str("conversation_id", conversationID).
		Int("tokens", tokens).
		Int("response_time_ms", responseTime).
		Msg("turn completed")

	return &TurnResult{
		ConversationID:   conversationID,
		UserMessage:      userMessage,
		AssistantMessage: assistantMessage,
		ResponseTimeMs:   responseTime,
	}, nil
}

// RecentMessages returns the trailing messages of a conversation in
// ascending chronological order.
func (s *Service) RecentMessages(ctx context.Context, conversationID string, limit int) ([]*Message, error) {
	if _, err := s.conversations.FindByID(ctx, conversationID); err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
			"conversation not found", err)
	}
	messages, err := s.messages.ListByConversation(ctx, conversationID, limit)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "list messages")
	}
	return messages, nil
}

func (s *Service) loadOwned(ctx context.Context, conversationID, callerID string) (*Conversation, error) {
	conversation, err := s.conversations.FindByID(ctx, conversationID)
	if err != nil || conversation == nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeNotFound,
			"conversation not found", err)
	}
	if conversation.UserID != nil && callerID != "" && *conversation.UserID != callerID {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerDomain, platformerrors.ErrorTypeForbidden,
			"conversation belongs to another user", nil)
	}
	return conversation, nil
}

func (s *Service) buildContext(ctx context.Context, conversationID string) ([]llm.ChatMessage, error) {
	messages, err := s.messages.ListByConversation(ctx, conversationID, s.opts.HistoryLimit)
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "load conversation history")
	}

	history := make([]llm.ChatMessage, 0, len(messages))
	for _, m := range messages {
		history = append(history, llm.ChatMessage{
			Role:    string(m.Role),
			Content: m.Content,
		})
	}
	return history, nil
}

// turnAnswer is the internal result of the model/tool round trips.
type turnAnswer struct {
	content  string
	usage    llm.Usage
	metadata map[string]any
}

// completeTurn drives the model and, when tools are available, the
// tool-augmented two-call protocol. Tool failures are folded into
// successful conversational content; only model failures propagate.
func (s *Service) completeTurn(ctx context.Context, history []llm.ChatMessage, content, callerID, delegatedCred string) (*turnAnswer, error) {
	if callerID != "" && s.tools != nil {
		toolset := s.tools.Discover(ctx, callerID, delegatedCred)
		if !toolset.Empty() {
			answer, err := s.completeWithTools(ctx, history, toolset, callerID, delegatedCred)
			if err != nil {
				return nil, err
			}
			if answer.content != "" {
				return answer, nil
			}
		}
	}

	result, err := s.model.CreateCompletion(ctx, llm.CompletionRequest{
		Model:       s.opts.Model,
		Messages:    history,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "model completion")
	}

	return &turnAnswer{
		content: result.Content,
		usage:   result.Usage,
		metadata: map[string]any{
			MetadataToolUsed:     false,
			MetadataFinishReason: result.FinishReason,
		},
	}, nil
}

func (s *Service) completeWithTools(ctx context.Context, history []llm.ChatMessage, toolset *mcp.Toolset, callerID, delegatedCred string) (*turnAnswer, error) {
	first, err := s.model.CreateCompletion(ctx, llm.CompletionRequest{
		Model:        s.opts.Model,
		Messages:     history,
		Functions:    toolset.FunctionSchema(),
		FunctionCall: llm.FunctionCallAuto,
		MaxTokens:    s.opts.MaxTokens,
		Temperature:  s.opts.Temperature,
	})
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "model completion with tools")
	}

	if first.FunctionCall == nil {
		// Model answered directly; use it unmodified.
		return &turnAnswer{
			content: first.Content,
			usage:   first.Usage,
			metadata: map[string]any{
				MetadataToolUsed:     false,
				MetadataFinishReason: first.FinishReason,
			},
		}, nil
	}

	toolName := first.FunctionCall.Name

	var arguments map[string]any
	if raw := first.FunctionCall.Arguments; raw != "" {
		if err := json.Unmarshal([]byte(raw), &arguments); err != nil {
			s.log.Warn().Err(err).Str("tool", toolName).Msg("malformed function arguments")
			return s.apologyAnswer(toolName, "", "the request arguments could not be parsed", first.Usage), nil
		}
	}

	providerID, ok := toolset.Resolve(toolName)
	if !ok {
		s.log.Warn().Str("tool", toolName).Msg("model elected an unknown tool")
		return s.apologyAnswer(toolName, "", "no registered tool provider offers it", first.Usage), nil
	}

	outcome := s.tools.Invoke(ctx, providerID, toolName, arguments, callerID, delegatedCred)
	if outcome.Failed() {
		return s.apologyAnswer(toolName, providerID, outcome.Err, first.Usage), nil
	}

	followUp := append(append([]llm.ChatMessage(nil), history...),
		llm.ChatMessage{
			Role:         llm.RoleAssistant,
			FunctionCall: first.FunctionCall,
		},
		llm.ChatMessage{
			Role:    llm.RoleFunction,
			Name:    toolName,
			Content: outcome.Result,
		},
	)

	second, err := s.model.CreateCompletion(ctx, llm.CompletionRequest{
		Model:       s.opts.Model,
		Messages:    followUp,
		MaxTokens:   s.opts.MaxTokens,
		Temperature: s.opts.Temperature,
	})
	if err != nil {
		return nil, platformerrors.AsError(ctx, platformerrors.LayerDomain, err, "model completion after tool call")
	}

	usage := first.Usage
	usage.Add(second.Usage)

	return &turnAnswer{
		content: second.Content,
		usage:   usage,
		metadata: map[string]any{
			MetadataToolUsed:     true,
			MetadataToolName:     toolName,
			MetadataProviderID:   providerID,
			MetadataFinishReason: second.FinishReason,
		},
	}, nil
}

// apologyAnswer turns a tool failure into a successful conversational
// response; a broken optional capability must never break the turn.
func (s *Service) apologyAnswer(toolName, providerID, reason string, usage llm.Usage) *turnAnswer {
	metadata := map[string]any{
		MetadataToolUsed: false,
		MetadataToolName: toolName,
		"tool_error":     reason,
	}
	if providerID != "" {
		metadata[MetadataProviderID] = providerID
	}
	return &turnAnswer{
		content: fmt.Sprintf(
			"I tried to use the %s tool to help with your request, but it ran into a problem: %s. I'm sorry about that - please try again in a moment, or ask me something I can answer directly.",
			toolName, reason),
		usage:    usage,
		metadata: metadata,
	}
}
