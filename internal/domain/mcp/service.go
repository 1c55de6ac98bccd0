package mcp

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"chat-platform/services/chat-api/internal/infrastructure/metrics"
)

// Service discovers tools across a caller's active providers and executes
// named tool calls against the owning provider.
type Service struct {
	repo              Repository
	rpc               RPCClient
	log               zerolog.Logger
	discoveryTimeout  time.Duration
	invocationTimeout time.Duration
}

// NewService constructs the tool discovery/invocation service.
func NewService(repo Repository, rpc RPCClient, log zerolog.Logger, discoveryTimeout, invocationTimeout time.Duration) *Service {
	return &Service{
		repo:              repo,
		rpc:               rpc,
		log:               log.With().Str("component", "mcp-service").Logger(),
		discoveryTimeout:  discoveryTimeout,
		invocationTimeout: invocationTimeout,
	}
}

// Discover enumerates the caller's active providers and collects their
// capability manifests in parallel. A single provider failing never fails
// discovery as a whole; it is logged and omitted from the result.
func (s *Service) Discover(ctx context.Context, callerID, delegatedCred string) *Toolset {
	providers, err := s.repo.ListActiveByUser(ctx, callerID)
	if err != nil {
		s.log.Error().Err(err).Str("user_id", callerID).Msg("list tool providers")
		return &Toolset{}
	}
	if len(providers) == 0 {
		return &Toolset{}
	}

	var (
		mu      sync.Mutex
		results = make([]ProviderTools, 0, len(providers))
	)

	g, gctx := errgroup.WithContext(ctx)
	for _, provider := range providers {
		provider := provider
		g.Go(func() error {
			callCtx := gctx
			var cancel context.CancelFunc
			if s.discoveryTimeout > 0 {
				callCtx, cancel = context.WithTimeout(gctx, s.discoveryTimeout)
				defer cancel()
			}

			tools, err := s.rpc.ListTools(callCtx, provider.EndpointURL, provider.Credential(delegatedCred))
			if err != nil {
				s.log.Warn().
					Err(err).
					Str("provider_id", provider.ID).
					Str("provider_name", provider.Name).
					Msg("tool discovery failed, provider omitted")
				return nil
			}
			if len(tools) == 0 {
				return nil
			}

			mu.Lock()
			results = append(results, ProviderTools{
				ProviderID:   provider.ID,
				ProviderName: provider.Name,
				EndpointURL:  provider.EndpointURL,
				Tools:        tools,
			})
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	s.log.Debug().
		Str("user_id", callerID).
		Int("providers", len(results)).
		Msg("tool discovery complete")

	return &Toolset{Providers: results}
}

// Invoke re-resolves the provider record before calling it, defending
// against a stale reference from an earlier discovery snapshot, then
// executes the named tool and returns a uniform outcome.
func (s *Service) Invoke(ctx context.Context, providerID, toolName string, arguments map[string]any, callerID, delegatedCred string) Outcome {
	outcome := s.invoke(ctx, providerID, toolName, arguments, callerID, delegatedCred)

	status := "ok"
	if outcome.Failed() {
		status = "error"
	}
	metrics.RecordToolCall(toolName, status)

	return outcome
}

func (s *Service) invoke(ctx context.Context, providerID, toolName string, arguments map[string]any, callerID, delegatedCred string) Outcome {
	provider, err := s.repo.FindByID(ctx, providerID)
	if err != nil || provider == nil {
		return Outcome{Err: "tool provider not found"}
	}
	if provider.UserID != callerID {
		return Outcome{Err: "access denied to this tool provider"}
	}
	if !provider.IsActive {
		return Outcome{Err: "tool provider is not active"}
	}

	callCtx := ctx
	var cancel context.CancelFunc
	if s.invocationTimeout > 0 {
		callCtx, cancel = context.WithTimeout(ctx, s.invocationTimeout)
		defer cancel()
	}

	outcome := s.rpc.CallTool(callCtx, provider.EndpointURL, provider.Credential(delegatedCred), toolName, arguments)
	if outcome.Failed() {
		s.log.Warn().
			Str("provider_id", providerID).
			Str("tool", toolName).
			Str("error", outcome.Err).
			Msg("tool invocation failed")
	}
	return outcome
}
