// Package gateway normalizes heterogeneous LLM providers behind the
// model.Gateway streaming call interface.
//
// Each provider has one adapter (AnthropicGateway, OpenAIGateway,
// OllamaGateway) that translates SDK-specific wire events into
// model.StreamEvent values. The Router dispatches calls over the closed set
// of adapters by descriptor provider kind; adding a provider means adding
// one adapter and one Router case, nothing else changes.
//
// Adapters guarantee the stream contract: tokens in generation order,
// tool-call arguments assembled into complete JSON before emission, and
// exactly one terminal event per call. All provider failures surface as
// typed errors (see errors.go); secrets are injected at construction and
// never logged.
package gateway

import (
	"context"
	"fmt"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"chatcore/model"
)

// Config holds construction settings for the router and its adapters.
// API keys arrive from the external credential environment; an empty key
// simply leaves that provider unconfigured.
type Config struct {
	AnthropicBaseURL string
	AnthropicAPIKey  string
	OpenAIBaseURL    string
	OpenAIAPIKey     string
	OllamaHost       string

	// RequestsPerSecond throttles outbound calls across retries.
	// Zero disables throttling.
	RequestsPerSecond float64
}

// Router implements model.Gateway over the closed set of provider adapters.
type Router struct {
	adapters map[model.ProviderKind]model.Gateway
}

// NewRouter builds adapters for every configured provider. Ollama is always
// constructed since it needs no credentials; cloud providers are only added
// when an API key is present.
func NewRouter(cfg Config) (*Router, error) {
	var limiter *rate.Limiter
	if cfg.RequestsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), 1)
	}

	adapters := make(map[model.ProviderKind]model.Gateway)

	ollama, err := NewOllamaGateway(cfg.OllamaHost, limiter)
	if err != nil {
		return nil, fmt.Errorf("ollama gateway: %w", err)
	}
	adapters[model.ProviderOllama] = ollama

	if cfg.AnthropicAPIKey != "" {
		anthropic, err := NewAnthropicGateway(cfg.AnthropicBaseURL, cfg.AnthropicAPIKey, limiter)
		if err != nil {
			return nil, fmt.Errorf("anthropic gateway: %w", err)
		}
		adapters[model.ProviderAnthropic] = anthropic
	}

	if cfg.OpenAIAPIKey != "" {
		openai, err := NewOpenAIGateway(cfg.OpenAIBaseURL, cfg.OpenAIAPIKey, limiter)
		if err != nil {
			return nil, fmt.Errorf("openai gateway: %w", err)
		}
		adapters[model.ProviderOpenAI] = openai
	}

	return &Router{adapters: adapters}, nil
}

// Call implements model.Gateway by dispatching to the adapter for the
// descriptor's provider. Tools are stripped when the descriptor says the
// model cannot call them.
func (r *Router) Call(ctx context.Context, desc model.ModelDescriptor, messages []model.Message, tools []mcptypes.Tool) (*model.Stream, error) {
	if len(messages) == 0 {
		return nil, fmt.Errorf("messages must not be empty")
	}

	adapter, ok := r.adapters[desc.Provider]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", desc.Provider)
	}

	if !desc.Capabilities.ToolCalling {
		tools = nil
	}

	return adapter.Call(ctx, desc, messages, tools)
}

// Ping implements model.Gateway.
func (r *Router) Ping(ctx context.Context, desc model.ModelDescriptor) error {
	adapter, ok := r.adapters[desc.Provider]
	if !ok {
		return fmt.Errorf("provider %q not configured", desc.Provider)
	}
	return adapter.Ping(ctx, desc)
}

// modelLister is the optional adapter surface for model discovery. It is
// not part of model.Gateway because call sites that generate never need it.
type modelLister interface {
	ListModels(ctx context.Context) ([]string, error)
}

// ListModels returns the model IDs the named provider currently serves.
func (r *Router) ListModels(ctx context.Context, kind model.ProviderKind) ([]string, error) {
	adapter, ok := r.adapters[kind]
	if !ok {
		return nil, fmt.Errorf("provider %q not configured", kind)
	}
	lister, ok := adapter.(modelLister)
	if !ok {
		return nil, fmt.Errorf("provider %q does not support model listing", kind)
	}
	return lister.ListModels(ctx)
}

// Configured reports whether an adapter exists for the provider kind.
func (r *Router) Configured(kind model.ProviderKind) bool {
	_, ok := r.adapters[kind]
	return ok
}
