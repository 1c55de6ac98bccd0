package llmprovider

import (
	"context"
	"errors"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"chat-platform/services/chat-api/internal/domain/llm"
	"chat-platform/services/chat-api/internal/infrastructure/metrics"
	"chat-platform/services/chat-api/internal/utils/platformerrors"
)

// OpenAIProvider implements llm.Provider on the OpenAI chat completions API.
type OpenAIProvider struct {
	client *openai.Client
}

// NewOpenAIProvider creates a provider for the given API key. baseURL
// overrides the default endpoint when pointing at a compatible gateway.
func NewOpenAIProvider(apiKey, baseURL string) *OpenAIProvider {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	return &OpenAIProvider{client: openai.NewClientWithConfig(cfg)}
}

// CreateCompletion runs one chat completion call. All provider failures,
// including quota and authentication errors, surface as UPSTREAM platform
// errors so callers never branch on transport details.
func (p *OpenAIProvider) CreateCompletion(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResult, error) {
	start := time.Now()
	resp, err := p.client.CreateChatCompletion(ctx, toOpenAIRequest(req))
	metrics.RecordModelLatency(req.Model, time.Since(start).Seconds())
	if err != nil {
		return nil, normalizeError(ctx, err)
	}

	if len(resp.Choices) == 0 {
		return nil, platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeUpstream, "model returned no choices", nil)
	}

	choice := resp.Choices[0]
	result := &llm.CompletionResult{
		Content:      choice.Message.Content,
		FinishReason: string(choice.FinishReason),
		Model:        resp.Model,
		Usage: llm.Usage{
			PromptTokens:     resp.Usage.PromptTokens,
			CompletionTokens: resp.Usage.CompletionTokens,
			TotalTokens:      resp.Usage.TotalTokens,
		},
	}
	if choice.Message.FunctionCall != nil {
		result.FunctionCall = &llm.FunctionCall{
			Name:      choice.Message.FunctionCall.Name,
			Arguments: choice.Message.FunctionCall.Arguments,
		}
	}
	return result, nil
}

func toOpenAIRequest(req llm.CompletionRequest) openai.ChatCompletionRequest {
	out := openai.ChatCompletionRequest{
		Model:       req.Model,
		MaxTokens:   req.MaxTokens,
		Temperature: req.Temperature,
	}

	out.Messages = make([]openai.ChatCompletionMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msg := openai.ChatCompletionMessage{
			Role:    m.Role,
			Content: m.Content,
			Name:    m.Name,
		}
		if m.FunctionCall != nil {
			msg.FunctionCall = &openai.FunctionCall{
				Name:      m.FunctionCall.Name,
				Arguments: m.FunctionCall.Arguments,
			}
		}
		out.Messages = append(out.Messages, msg)
	}

	for _, f := range req.Functions {
		out.Functions = append(out.Functions, openai.FunctionDefinition{
			Name:        f.Name,
			Description: f.Description,
			Parameters:  f.Parameters,
		})
	}
	if req.FunctionCall != "" {
		out.FunctionCall = req.FunctionCall
	}
	return out
}

func normalizeError(ctx context.Context, err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeUpstream, "model completion failed", err,
			map[string]any{
				"status_code": apiErr.HTTPStatusCode,
				"api_type":    apiErr.Type,
			})
	}

	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return platformerrors.NewErrorWithContext(ctx, platformerrors.LayerInfrastructure,
			platformerrors.ErrorTypeUpstream, "model request failed", err,
			map[string]any{"status_code": reqErr.HTTPStatusCode})
	}

	return platformerrors.NewError(ctx, platformerrors.LayerInfrastructure,
		platformerrors.ErrorTypeUpstream, "model completion failed", err)
}
