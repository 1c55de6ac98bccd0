package chat_test

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-platform/services/chat-api/internal/domain/chat"
	"chat-platform/services/chat-api/internal/domain/llm"
	"chat-platform/services/chat-api/internal/domain/mcp"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

type memConversationRepo struct {
	mu    sync.Mutex
	items map[string]*chat.Conversation
}

func newMemConversationRepo() *memConversationRepo {
	return &memConversationRepo{items: make(map[string]*chat.Conversation)}
}

func (r *memConversationRepo) Create(_ context.Context, c *chat.Conversation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	clone := *c
	r.items[c.ID] = &clone
	return nil
}

func (r *memConversationRepo) FindByID(ctx context.Context, id string) (*chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeNotFound, "conversation not found", nil)
	}
	clone := *c
	return &clone, nil
}

func (r *memConversationRepo) UpdateStatus(ctx context.Context, id string, status chat.ConversationStatus) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.items[id]
	if !ok {
		return platformerrors.NewError(ctx, platformerrors.LayerRepository,
			platformerrors.ErrorTypeNotFound, "conversation not found", nil)
	}
	c.Status = status
	switch status {
	case chat.ConversationStatusEnded:
		now := time.Now().UTC()
		c.EndedAt = &now
	case chat.ConversationStatusActive:
		c.EndedAt = nil
	}
	return nil
}

func (r *memConversationRepo) IncrementCounters(_ context.Context, id string, messages int, tokens int) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if c, ok := r.items[id]; ok {
		c.MessageCount += messages
		c.TotalTokens += int64(tokens)
	}
	return nil
}

func (r *memConversationRepo) ListByUser(_ context.Context, userID string, _ int) ([]*chat.Conversation, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*chat.Conversation
	for _, c := range r.items {
		if c.UserID != nil && *c.UserID == userID {
			clone := *c
			out = append(out, &clone)
		}
	}
	return out, nil
}

type memMessageRepo struct {
	mu    sync.Mutex
	items []*chat.Message
	seq   int
}

func newMemMessageRepo() *memMessageRepo {
	return &memMessageRepo{}
}

func (r *memMessageRepo) Create(_ context.Context, m *chat.Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	// Monotonic timestamps even when two inserts land in the same tick.
	r.seq++
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	m.CreatedAt = m.CreatedAt.Add(time.Duration(r.seq) * time.Microsecond)
	clone := *m
	r.items = append(r.items, &clone)
	return nil
}

func (r *memMessageRepo) ListByConversation(_ context.Context, conversationID string, limit int) ([]*chat.Message, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*chat.Message
	for _, m := range r.items {
		if m.ConversationID == conversationID {
			clone := *m
			out = append(out, &clone)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[len(out)-limit:]
	}
	return out, nil
}

// scriptedModel returns canned results in order and records every request.
type scriptedModel struct {
	mu       sync.Mutex
	results  []*llm.CompletionResult
	err      error
	requests []llm.CompletionRequest
}

func (m *scriptedModel) CreateCompletion(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests = append(m.requests, req)
	if m.err != nil {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeUpstream, "model completion failed", m.err)
	}
	if len(m.results) == 0 {
		return &llm.CompletionResult{Content: "default answer", FinishReason: "stop"}, nil
	}
	next := m.results[0]
	m.results = m.results[1:]
	return next, nil
}

type scriptedTools struct {
	toolset     *mcp.Toolset
	outcome     mcp.Outcome
	invocations []string
}

func (t *scriptedTools) Discover(context.Context, string, string) *mcp.Toolset {
	if t.toolset == nil {
		return &mcp.Toolset{}
	}
	return t.toolset
}

func (t *scriptedTools) Invoke(_ context.Context, providerID, toolName string, _ map[string]any, _, _ string) mcp.Outcome {
	t.invocations = append(t.invocations, fmt.Sprintf("%s/%s", providerID, toolName))
	return t.outcome
}

func clockToolset() *mcp.Toolset {
	return &mcp.Toolset{Providers: []mcp.ProviderTools{{
		ProviderID:   "mcp_clock",
		ProviderName: "clock",
		EndpointURL:  "http://clock.local/mcp",
		Tools: []mcp.Tool{{
			Name:        "get_current_time",
			Description: "Returns the current time in a timezone",
			InputSchema: map[string]any{"type": "object"},
		}},
	}}}
}

func newTestService(model llm.Provider, tools chat.ToolGateway) (*chat.Service, *memConversationRepo, *memMessageRepo) {
	conversations := newMemConversationRepo()
	messages := newMemMessageRepo()
	svc := chat.NewService(conversations, messages, model, tools, zerolog.Nop(), chat.Options{
		Model:     "gpt-3.5-turbo",
		MaxTokens: 256,
	})
	return svc, conversations, messages
}

func TestStartCreatesActiveConversation(t *testing.T) {
	svc, _, messages := newTestService(&scriptedModel{}, &scriptedTools{})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "", "You are terse.")
	require.NoError(t, err)

	assert.Equal(t, chat.ConversationStatusActive, conversation.Status)
	assert.Equal(t, "New Conversation", conversation.Title)
	assert.True(t, strings.HasPrefix(conversation.ID, "conv_"))

	history, err := messages.ListByConversation(context.Background(), conversation.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, chat.RoleSystem, history[0].Role)
	assert.Equal(t, "You are terse.", history[0].Content)
}

func TestSendPlainCompletionWithoutCaller(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{{
		Content:      "hello there",
		FinishReason: "stop",
		Usage:        llm.Usage{PromptTokens: 10, CompletionTokens: 5, TotalTokens: 15},
	}}}
	svc, conversations, _ := newTestService(model, &scriptedTools{toolset: clockToolset()})

	conversation, err := svc.Start(context.Background(), nil, "T", "")
	require.NoError(t, err)

	result, err := svc.Send(context.Background(), conversation.ID, "hi", "", "")
	require.NoError(t, err)

	assert.Equal(t, "hello there", result.AssistantMessage.Content)
	assert.Equal(t, false, result.AssistantMessage.Metadata[chat.MetadataToolUsed])
	require.NotNil(t, result.AssistantMessage.TokensUsed)
	assert.Equal(t, 15, *result.AssistantMessage.TokensUsed)

	// Anonymous turns never present a function schema.
	require.Len(t, model.requests, 1)
	assert.Empty(t, model.requests[0].Functions)

	updated, err := conversations.FindByID(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, updated.MessageCount)
	assert.Equal(t, int64(15), updated.TotalTokens)
}

func TestSendZeroProvidersTakesFallback(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{{Content: "plain", FinishReason: "stop"}}}
	svc, _, _ := newTestService(model, &scriptedTools{})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), conversation.ID, "hi", userID, "")
	require.NoError(t, err)

	require.Len(t, model.requests, 1)
	assert.Empty(t, model.requests[0].Functions)
	assert.Empty(t, model.requests[0].FunctionCall)
}

func TestSendWithToolRoundTrip(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{
		{
			FunctionCall: &llm.FunctionCall{Name: "get_current_time", Arguments: `{"timezone":"Asia/Tokyo"}`},
			FinishReason: "function_call",
			Usage:        llm.Usage{PromptTokens: 20, CompletionTokens: 8, TotalTokens: 28},
		},
		{
			Content:      "It is 9pm in Tokyo.",
			FinishReason: "stop",
			Usage:        llm.Usage{PromptTokens: 30, CompletionTokens: 10, TotalTokens: 40},
		},
	}}
	tools := &scriptedTools{
		toolset: clockToolset(),
		outcome: mcp.Outcome{Result: "21:00 Asia/Tokyo"},
	}
	svc, _, _ := newTestService(model, tools)

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	result, err := svc.Send(context.Background(), conversation.ID, "What time is it in Tokyo?", userID, "cred")
	require.NoError(t, err)

	assert.Equal(t, "It is 9pm in Tokyo.", result.AssistantMessage.Content)
	assert.Equal(t, true, result.AssistantMessage.Metadata[chat.MetadataToolUsed])
	assert.Equal(t, "get_current_time", result.AssistantMessage.Metadata[chat.MetadataToolName])
	assert.Equal(t, []string{"mcp_clock/get_current_time"}, tools.invocations)

	// Token usage sums across both model calls.
	require.NotNil(t, result.AssistantMessage.TokensUsed)
	assert.Equal(t, 68, *result.AssistantMessage.TokensUsed)

	require.Len(t, model.requests, 2)
	assert.NotEmpty(t, model.requests[0].Functions)
	assert.Equal(t, llm.FunctionCallAuto, model.requests[0].FunctionCall)

	// The follow-up call replays the function election and its result.
	followUp := model.requests[1].Messages
	require.GreaterOrEqual(t, len(followUp), 2)
	assert.Equal(t, llm.RoleAssistant, followUp[len(followUp)-2].Role)
	require.NotNil(t, followUp[len(followUp)-2].FunctionCall)
	assert.Equal(t, llm.RoleFunction, followUp[len(followUp)-1].Role)
	assert.Equal(t, "get_current_time", followUp[len(followUp)-1].Name)
	assert.Equal(t, "21:00 Asia/Tokyo", followUp[len(followUp)-1].Content)
}

func TestToolFailureYieldsSuccessfulApology(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{{
		FunctionCall: &llm.FunctionCall{Name: "get_current_time", Arguments: `{}`},
		FinishReason: "function_call",
	}}}
	tools := &scriptedTools{
		toolset: clockToolset(),
		outcome: mcp.Outcome{Err: "HTTP 500 from provider"},
	}
	svc, conversations, _ := newTestService(model, tools)

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	result, err := svc.Send(context.Background(), conversation.ID, "time?", userID, "")
	require.NoError(t, err, "tool failures must never fail the operation")

	assert.Contains(t, result.AssistantMessage.Content, "get_current_time")
	assert.Contains(t, result.AssistantMessage.Content, "HTTP 500 from provider")
	assert.Equal(t, false, result.AssistantMessage.Metadata[chat.MetadataToolUsed])

	// Only the first model call ran; no follow-up after a failed tool.
	assert.Len(t, model.requests, 1)

	updated, err := conversations.FindByID(context.Background(), conversation.ID)
	require.NoError(t, err)
	assert.True(t, updated.IsActive())
}

func TestMalformedFunctionArgumentsYieldApology(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{{
		FunctionCall: &llm.FunctionCall{Name: "get_current_time", Arguments: `{not json`},
		FinishReason: "function_call",
	}}}
	tools := &scriptedTools{toolset: clockToolset()}
	svc, _, _ := newTestService(model, tools)

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	result, err := svc.Send(context.Background(), conversation.ID, "time?", userID, "")
	require.NoError(t, err)
	assert.Contains(t, result.AssistantMessage.Content, "get_current_time")
	assert.Empty(t, tools.invocations, "malformed arguments must not reach the provider")
}

func TestUnknownElectedToolYieldsApology(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{{
		FunctionCall: &llm.FunctionCall{Name: "no_such_tool", Arguments: `{}`},
		FinishReason: "function_call",
	}}}
	tools := &scriptedTools{toolset: clockToolset()}
	svc, _, _ := newTestService(model, tools)

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	result, err := svc.Send(context.Background(), conversation.ID, "time?", userID, "")
	require.NoError(t, err)
	assert.Contains(t, result.AssistantMessage.Content, "no_such_tool")
	assert.Empty(t, tools.invocations)
}

func TestModelFailureSurfacesAsUpstreamError(t *testing.T) {
	model := &scriptedModel{err: fmt.Errorf("quota exceeded")}
	svc, _, messages := newTestService(model, &scriptedTools{})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), conversation.ID, "hi", userID, "")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeUpstream))

	// The user message was persisted before the model call.
	history, err := messages.ListByConversation(context.Background(), conversation.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, chat.RoleUser, history[0].Role)
}

func TestSendUnknownConversation(t *testing.T) {
	svc, _, _ := newTestService(&scriptedModel{}, &scriptedTools{})

	_, err := svc.Send(context.Background(), "conv_missing", "hi", "user-1", "")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeNotFound))
}

func TestSendOnEndedConversationIsInvalidState(t *testing.T) {
	svc, _, _ := newTestService(&scriptedModel{}, &scriptedTools{})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)
	_, err = svc.End(context.Background(), conversation.ID, userID)
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), conversation.ID, "hi", userID, "")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInvalidState))
}

func TestOwnershipMismatchIsForbidden(t *testing.T) {
	svc, _, _ := newTestService(&scriptedModel{}, &scriptedTools{})

	owner := "user-1"
	conversation, err := svc.Start(context.Background(), &owner, "T", "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), conversation.ID, "hi", "user-2", "")
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeForbidden))
}

func TestEndThenReconnectCycle(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{{Content: "a", FinishReason: "stop"}}}
	svc, _, messages := newTestService(model, &scriptedTools{})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), conversation.ID, "hi", userID, "")
	require.NoError(t, err)
	before, err := messages.ListByConversation(context.Background(), conversation.ID, 0)
	require.NoError(t, err)

	ended, err := svc.End(context.Background(), conversation.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, chat.ConversationStatusEnded, ended.Status)
	require.NotNil(t, ended.EndedAt)

	// Ending twice is invalid.
	_, err = svc.End(context.Background(), conversation.ID, userID)
	require.Error(t, err)
	assert.True(t, platformerrors.IsErrorType(err, platformerrors.ErrorTypeInvalidState))

	reconnected, err := svc.Attach(context.Background(), conversation.ID, userID)
	require.NoError(t, err)
	assert.Equal(t, chat.ConversationStatusActive, reconnected.Status)
	assert.Nil(t, reconnected.EndedAt)

	// Reconnecting never duplicates history.
	after, err := messages.ListByConversation(context.Background(), conversation.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, len(before), len(after))
}

func TestRecentMessagesAscendingOrder(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{
		{Content: "first answer", FinishReason: "stop"},
		{Content: "second answer", FinishReason: "stop"},
	}}
	svc, _, _ := newTestService(model, &scriptedTools{})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	_, err = svc.Send(context.Background(), conversation.ID, "first", userID, "")
	require.NoError(t, err)
	_, err = svc.Send(context.Background(), conversation.ID, "second", userID, "")
	require.NoError(t, err)

	history, err := svc.RecentMessages(context.Background(), conversation.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 4)
	for i := 1; i < len(history); i++ {
		assert.False(t, history[i].CreatedAt.Before(history[i-1].CreatedAt),
			"timestamps must be non-decreasing in creation order")
	}
	assert.Equal(t, "first", history[0].Content)
	assert.Equal(t, "first answer", history[1].Content)
	assert.Equal(t, "second", history[2].Content)
	assert.Equal(t, "second answer", history[3].Content)
}

func TestHistoryLimitCapsModelContext(t *testing.T) {
	model := &scriptedModel{results: []*llm.CompletionResult{
		{Content: "a1", FinishReason: "stop"},
		{Content: "a2", FinishReason: "stop"},
		{Content: "a3", FinishReason: "stop"},
	}}
	conversations := newMemConversationRepo()
	messages := newMemMessageRepo()
	svc := chat.NewService(conversations, messages, model, &scriptedTools{}, zerolog.Nop(), chat.Options{
		Model:        "gpt-3.5-turbo",
		HistoryLimit: 2,
	})

	userID := "user-1"
	conversation, err := svc.Start(context.Background(), &userID, "T", "")
	require.NoError(t, err)

	for _, content := range []string{"m1", "m2", "m3"} {
		_, err = svc.Send(context.Background(), conversation.ID, content, userID, "")
		require.NoError(t, err)
	}

	last := model.requests[len(model.requests)-1]
	assert.Len(t, last.Messages, 2)
}
