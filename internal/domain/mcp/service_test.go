package mcp_test

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"chat-platform/services/chat-api/internal/domain/mcp"
	"chat-platform/services/chat-api/internal/infrastructure/metrics"
)

type memProviderRepo struct {
	providers map[string]*mcp.Provider
}

func newMemProviderRepo(providers ...*mcp.Provider) *memProviderRepo {
	repo := &memProviderRepo{providers: make(map[string]*mcp.Provider)}
	for _, p := range providers {
		repo.providers[p.ID] = p
	}
	return repo
}

func (r *memProviderRepo) FindByID(_ context.Context, id string) (*mcp.Provider, error) {
	p, ok := r.providers[id]
	if !ok {
		return nil, fmt.Errorf("provider not found")
	}
	return p, nil
}

func (r *memProviderRepo) ListActiveByUser(_ context.Context, userID string) ([]*mcp.Provider, error) {
	var out []*mcp.Provider
	for _, p := range r.providers {
		if p.UserID == userID && p.IsActive {
			out = append(out, p)
		}
	}
	return out, nil
}

// scriptedRPC maps endpoint URLs to canned manifests/outcomes and records
// the bearer used per call.
type scriptedRPC struct {
	mu       sync.Mutex
	tools    map[string][]mcp.Tool
	listErrs map[string]error
	outcome  mcp.Outcome
	bearers  []string
}

func (c *scriptedRPC) ListTools(_ context.Context, endpointURL, bearer string) ([]mcp.Tool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearers = append(c.bearers, bearer)
	if err := c.listErrs[endpointURL]; err != nil {
		return nil, err
	}
	return c.tools[endpointURL], nil
}

func (c *scriptedRPC) CallTool(_ context.Context, _, bearer, _ string, _ map[string]any) mcp.Outcome {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.bearers = append(c.bearers, bearer)
	return c.outcome
}

func activeProvider(id, userID, endpoint string) *mcp.Provider {
	return &mcp.Provider{
		ID:          id,
		UserID:      userID,
		Name:        id,
		EndpointURL: endpoint,
		IsActive:    true,
	}
}

func newToolService(repo mcp.Repository, rpc mcp.RPCClient) *mcp.Service {
	return mcp.NewService(repo, rpc, zerolog.Nop(), time.Second, time.Second)
}

func TestDiscoverAggregatesAcrossProviders(t *testing.T) {
	repo := newMemProviderRepo(
		activeProvider("mcp_a", "user-1", "http://a"),
		activeProvider("mcp_b", "user-1", "http://b"),
	)
	rpc := &scriptedRPC{tools: map[string][]mcp.Tool{
		"http://a": {{Name: "alpha"}},
		"http://b": {{Name: "beta"}},
	}}

	toolset := newToolService(repo, rpc).Discover(context.Background(), "user-1", "")
	require.False(t, toolset.Empty())
	assert.Len(t, toolset.Providers, 2)
	assert.Len(t, toolset.FunctionSchema(), 2)
}

func TestDiscoverOmitsFailingProvider(t *testing.T) {
	repo := newMemProviderRepo(
		activeProvider("mcp_good", "user-1", "http://good"),
		activeProvider("mcp_bad", "user-1", "http://bad"),
	)
	rpc := &scriptedRPC{
		tools:    map[string][]mcp.Tool{"http://good": {{Name: "alpha"}}},
		listErrs: map[string]error{"http://bad": fmt.Errorf("connection refused")},
	}

	toolset := newToolService(repo, rpc).Discover(context.Background(), "user-1", "")
	require.Len(t, toolset.Providers, 1)
	assert.Equal(t, "mcp_good", toolset.Providers[0].ProviderID)
}

func TestDiscoverExcludesInactiveProviders(t *testing.T) {
	inactive := activeProvider("mcp_off", "user-1", "http://off")
	inactive.IsActive = false
	repo := newMemProviderRepo(
		activeProvider("mcp_on", "user-1", "http://on"),
		inactive,
	)
	rpc := &scriptedRPC{tools: map[string][]mcp.Tool{
		"http://on":  {{Name: "alpha"}},
		"http://off": {{Name: "hidden"}},
	}}

	toolset := newToolService(repo, rpc).Discover(context.Background(), "user-1", "")
	require.Len(t, toolset.Providers, 1)
	assert.Equal(t, "mcp_on", toolset.Providers[0].ProviderID)
}

func TestDiscoverWithNoProvidersIsEmpty(t *testing.T) {
	toolset := newToolService(newMemProviderRepo(), &scriptedRPC{}).
		Discover(context.Background(), "user-1", "")
	assert.True(t, toolset.Empty())
	assert.Nil(t, toolset.FunctionSchema())
}

func TestInvokeEnforcesOwnership(t *testing.T) {
	repo := newMemProviderRepo(activeProvider("mcp_a", "owner", "http://a"))
	svc := newToolService(repo, &scriptedRPC{outcome: mcp.Outcome{Result: "ok"}})

	outcome := svc.Invoke(context.Background(), "mcp_a", "alpha", nil, "intruder", "")
	assert.True(t, outcome.Failed())
	assert.Contains(t, outcome.Err, "access denied")
}

func TestInvokeRejectsInactiveProvider(t *testing.T) {
	provider := activeProvider("mcp_a", "user-1", "http://a")
	provider.IsActive = false
	svc := newToolService(newMemProviderRepo(provider), &scriptedRPC{})

	outcome := svc.Invoke(context.Background(), "mcp_a", "alpha", nil, "user-1", "")
	assert.True(t, outcome.Failed())
	assert.Contains(t, outcome.Err, "not active")
}

func TestInvokeUnknownProvider(t *testing.T) {
	svc := newToolService(newMemProviderRepo(), &scriptedRPC{})

	outcome := svc.Invoke(context.Background(), "mcp_missing", "alpha", nil, "user-1", "")
	assert.True(t, outcome.Failed())
}

func TestInvokeSuccess(t *testing.T) {
	repo := newMemProviderRepo(activeProvider("mcp_a", "user-1", "http://a"))
	rpc := &scriptedRPC{outcome: mcp.Outcome{Result: "42"}}
	svc := newToolService(repo, rpc)

	outcome := svc.Invoke(context.Background(), "mcp_a", "alpha", map[string]any{"x": 1}, "user-1", "")
	require.False(t, outcome.Failed())
	assert.Equal(t, "42", outcome.Result)
}

func TestInvokeRecordsToolCallOutcome(t *testing.T) {
	repo := newMemProviderRepo(activeProvider("mcp_a", "user-1", "http://a"))
	svc := newToolService(repo, &scriptedRPC{outcome: mcp.Outcome{Result: "ok"}})

	okBefore := testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("alpha", "ok"))
	svc.Invoke(context.Background(), "mcp_a", "alpha", nil, "user-1", "")
	assert.Equal(t, okBefore+1,
		testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("alpha", "ok")))

	errBefore := testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("alpha", "error"))
	svc.Invoke(context.Background(), "mcp_a", "alpha", nil, "intruder", "")
	assert.Equal(t, errBefore+1,
		testutil.ToFloat64(metrics.ToolCallsTotal.WithLabelValues("alpha", "error")))
}

func TestCredentialPriority(t *testing.T) {
	static := "static-key"
	provider := &mcp.Provider{ID: "mcp_a", UserID: "user-1", APIKey: &static, IsActive: true}

	assert.Equal(t, "delegated", provider.Credential("delegated"),
		"delegated credential wins over the static key")
	assert.Equal(t, "static-key", provider.Credential(""))

	provider.APIKey = nil
	assert.Equal(t, "", provider.Credential(""))
}

func TestInvokeForwardsDelegatedCredential(t *testing.T) {
	static := "static-key"
	provider := activeProvider("mcp_a", "user-1", "http://a")
	provider.APIKey = &static
	rpc := &scriptedRPC{outcome: mcp.Outcome{Result: "ok"}}
	svc := newToolService(newMemProviderRepo(provider), rpc)

	svc.Invoke(context.Background(), "mcp_a", "alpha", nil, "user-1", "user-token")
	require.Len(t, rpc.bearers, 1)
	assert.Equal(t, "user-token", rpc.bearers[0])

	svc.Invoke(context.Background(), "mcp_a", "alpha", nil, "user-1", "")
	require.Len(t, rpc.bearers, 2)
	assert.Equal(t, "static-key", rpc.bearers[1])
}

func TestToolsetResolveFirstRegistrationWins(t *testing.T) {
	toolset := &mcp.Toolset{Providers: []mcp.ProviderTools{
		{ProviderID: "mcp_first", Tools: []mcp.Tool{{Name: "dup"}}},
		{ProviderID: "mcp_second", Tools: []mcp.Tool{{Name: "dup"}}},
	}}

	providerID, ok := toolset.Resolve("dup")
	require.True(t, ok)
	assert.Equal(t, "mcp_first", providerID)

	_, ok = toolset.Resolve("missing")
	assert.False(t, ok)
}
