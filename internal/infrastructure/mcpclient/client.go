package mcpclient

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"chat-platform/services/chat-api/internal/domain/mcp"
)

const jsonRPCVersion = "2.0"

// Client speaks JSON-RPC 2.0 over HTTP POST to MCP provider endpoints.
type Client struct {
	httpClient *resty.Client
	log        zerolog.Logger
}

var _ mcp.RPCClient = (*Client)(nil)

// NewClient creates an MCP JSON-RPC client. Per-call deadlines come from
// the caller's context; the resty client itself carries no timeout.
func NewClient(log zerolog.Logger) *Client {
	client := resty.New().
		SetHeader("User-Agent", "chat-api-mcp/1.0").
		SetHeader("Content-Type", "application/json")

	return &Client{
		httpClient: client,
		log:        log.With().Str("component", "mcp_client").Logger(),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  any    `json:"params,omitempty"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    any    `json:"data,omitempty"`
}

type rpcResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
}

type listToolsResult struct {
	Tools []mcp.Tool `json:"tools"`
}

type callToolResult struct {
	Content []contentItem `json:"content"`
	IsError bool          `json:"isError,omitempty"`
}

type contentItem struct {
	Type string `json:"type"`
	Text string `json:"text,omitempty"`
}

// ListTools fetches the provider's tool manifest via tools/list.
func (c *Client) ListTools(ctx context.Context, endpointURL, bearer string) ([]mcp.Tool, error) {
	var result listToolsResult
	if err := c.call(ctx, endpointURL, bearer, "tools/list", nil, &result); err != nil {
		return nil, err
	}
	return result.Tools, nil
}

// CallTool executes one tool via tools/call. Every failure mode collapses
// into the Outcome error field; callers never see a Go error.
func (c *Client) CallTool(ctx context.Context, endpointURL, bearer, toolName string, arguments map[string]any) mcp.Outcome {
	params := map[string]any{
		"name": toolName,
	}
	if arguments != nil {
		params["arguments"] = arguments
	}

	var result callToolResult
	if err := c.call(ctx, endpointURL, bearer, "tools/call", params, &result); err != nil {
		c.log.Warn().Err(err).
			Str("tool", toolName).
			Str("endpoint", endpointURL).
			Msg("tool invocation failed")
		return mcp.Outcome{Err: err.Error()}
	}

	text := firstText(result.Content)
	if result.IsError {
		if text == "" {
			text = "tool reported an error"
		}
		return mcp.Outcome{Err: text}
	}
	return mcp.Outcome{Result: text}
}

func (c *Client) call(ctx context.Context, endpointURL, bearer, method string, params any, out any) error {
	req := rpcRequest{
		JSONRPC: jsonRPCVersion,
		ID:      uuid.NewString(),
		Method:  method,
		Params:  params,
	}

	var rpcResp rpcResponse
	r := c.httpClient.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&rpcResp).
		SetError(&rpcResp)
	if bearer != "" {
		r.SetHeader("Authorization", "Bearer "+bearer)
	}

	resp, err := r.Post(endpointURL)
	if err != nil {
		return fmt.Errorf("%s request failed: %w", method, err)
	}
	if resp.IsError() {
		return fmt.Errorf("%s returned HTTP %d", method, resp.StatusCode())
	}
	if rpcResp.Error != nil {
		return fmt.Errorf("%s error %d: %s", method, rpcResp.Error.Code, rpcResp.Error.Message)
	}
	if len(rpcResp.Result) == 0 {
		return fmt.Errorf("%s returned empty result", method)
	}
	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("%s result decode failed: %w", method, err)
	}
	return nil
}

// firstText returns the payload of the first text-typed content item.
// Providers may interleave other content types; those never carry the
// tool output, even when they happen to set a text field.
func firstText(items []contentItem) string {
	for _, item := range items {
		if item.Type == "text" {
			return item.Text
		}
	}
	return ""
}
