package mcp

import (
	"context"
	"time"

	"chat-platform/services/chat-api/internal/domain/llm"
)

// Provider is an externally hosted MCP server registered by a user.
// Providers are owned by exactly one user and are referenced, never
// copied, during discovery and invocation.
type Provider struct {
	ID          string         `json:"id"`
	UserID      string         `json:"user_id"`
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	EndpointURL string         `json:"endpoint_url"`
	APIKey      *string        `json:"-"`
	IsActive    bool           `json:"is_active"`
	Config      map[string]any `json:"config,omitempty"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// Credential picks the bearer token for a provider call: the caller's
// delegated credential wins over the provider's static key, which wins
// over no credential at all.
func (p *Provider) Credential(delegated string) string {
	if delegated != "" {
		return delegated
	}
	if p.APIKey != nil && *p.APIKey != "" {
		return *p.APIKey
	}
	return ""
}

// Repository reads provider registrations. Registration and lifecycle
// management live outside this service; here providers are only
// resolved and enumerated. Every read sees the current row, so a
// deactivated provider disappears from discovery on the next turn.
type Repository interface {
	FindByID(ctx context.Context, id string) (*Provider, error)
	// ListActiveByUser returns only providers with the active flag set;
	// deactivation immediately excludes a provider from discovery.
	ListActiveByUser(ctx context.Context, userID string) ([]*Provider, error)
}

// Tool is one capability advertised by a provider's tools/list response.
type Tool struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	InputSchema map[string]any `json:"inputSchema"`
}

// ToFunctionDefinition converts the MCP manifest entry into the callable
// function schema presented to the model.
func (t Tool) ToFunctionDefinition() llm.FunctionDefinition {
	params := t.InputSchema
	if params == nil {
		params = map[string]any{"type": "object", "properties": map[string]any{}}
	}
	return llm.FunctionDefinition{
		Name:        t.Name,
		Description: t.Description,
		Parameters:  params,
	}
}

// ProviderTools groups the tools discovered from one provider.
type ProviderTools struct {
	ProviderID   string `json:"provider_id"`
	ProviderName string `json:"provider_name"`
	EndpointURL  string `json:"endpoint_url"`
	Tools        []Tool `json:"tools"`
}

// Toolset is the aggregate discovery result for one turn.
type Toolset struct {
	Providers []ProviderTools `json:"providers"`
}

// Empty reports whether discovery produced no callable tools.
func (ts *Toolset) Empty() bool {
	if ts == nil {
		return true
	}
	for _, p := range ts.Providers {
		if len(p.Tools) > 0 {
			return false
		}
	}
	return true
}

// FunctionSchema flattens every discovered tool into the function list
// handed to the model.
func (ts *Toolset) FunctionSchema() []llm.FunctionDefinition {
	if ts == nil {
		return nil
	}
	var defs []llm.FunctionDefinition
	for _, p := range ts.Providers {
		for _, t := range p.Tools {
			defs = append(defs, t.ToFunctionDefinition())
		}
	}
	return defs
}

// Resolve maps a function name elected by the model back to the provider
// that advertised it. First registration wins on name collisions.
func (ts *Toolset) Resolve(toolName string) (providerID string, ok bool) {
	if ts == nil {
		return "", false
	}
	for _, p := range ts.Providers {
		for _, t := range p.Tools {
			if t.Name == toolName {
				return p.ProviderID, true
			}
		}
	}
	return "", false
}

// Outcome is the uniform result shape for a tool invocation. Transport
// failures, protocol-level error objects and application errors all
// collapse into Err; the orchestrator never branches on which it was.
type Outcome struct {
	Result string `json:"result,omitempty"`
	Err    string `json:"error,omitempty"`
}

// Failed reports whether the invocation produced an error of any kind.
func (o Outcome) Failed() bool {
	return o.Err != ""
}

// RPCClient speaks JSON-RPC 2.0 to a provider endpoint.
type RPCClient interface {
	ListTools(ctx context.Context, endpointURL, bearer string) ([]Tool, error)
	CallTool(ctx context.Context, endpointURL, bearer, toolName string, arguments map[string]any) Outcome
}
