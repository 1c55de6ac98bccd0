package llm

import "context"

// Message roles accepted by the completion backend.
const (
	RoleSystem    = "system"
	RoleUser      = "user"
	RoleAssistant = "assistant"
	RoleFunction  = "function"
)

// FunctionCallAuto lets the model decide whether to call a function.
const FunctionCallAuto = "auto"

// ChatMessage is one entry of the model context.
type ChatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
	// Name identifies the function whose output this message carries.
	// Only set on function-role messages.
	Name string `json:"name,omitempty"`
	// FunctionCall echoes the assistant's function election when the
	// message is replayed as context for the follow-up call.
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
}

// FunctionDefinition describes one callable function presented to the model.
type FunctionDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// FunctionCall is the structured directive a model emits instead of free text.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// CompletionRequest carries the ordered context and optional function schema.
type CompletionRequest struct {
	Model        string               `json:"model"`
	Messages     []ChatMessage        `json:"messages"`
	Functions    []FunctionDefinition `json:"functions,omitempty"`
	FunctionCall string               `json:"function_call,omitempty"`
	MaxTokens    int                  `json:"max_tokens,omitempty"`
	Temperature  float32              `json:"temperature,omitempty"`
}

// Usage counts tokens consumed by one completion call.
type Usage struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
}

// Add accumulates usage across multiple calls in one turn.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// CompletionResult is the normalized outcome of one completion call.
type CompletionResult struct {
	Content      string        `json:"content"`
	FunctionCall *FunctionCall `json:"function_call,omitempty"`
	FinishReason string        `json:"finish_reason"`
	Model        string        `json:"model"`
	Usage        Usage         `json:"usage"`
}

// Provider is the model-completion backend. Implementations normalize
// provider failures (quota, malformed request, authentication) into an
// UPSTREAM platform error.
type Provider interface {
	CreateCompletion(ctx context.Context, req CompletionRequest) (*CompletionResult, error)
}
