package gateway

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/ollama/ollama/api"
	"golang.org/x/time/rate"

	"chatcore/model"
	"chatcore/tool"
)

// OllamaGateway adapts a local Ollama server to the normalized streaming
// event contract.
type OllamaGateway struct {
	client  *api.Client
	limiter *rate.Limiter
}

// NewOllamaGateway creates an Ollama adapter. baseURL defaults to the
// standard local server address.
func NewOllamaGateway(baseURL string, limiter *rate.Limiter) (*OllamaGateway, error) {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}

	parsedURL, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid Ollama URL: %w", err)
	}

	return &OllamaGateway{
		client:  api.NewClient(parsedURL, http.DefaultClient),
		limiter: limiter,
	}, nil
}

// Call implements model.Gateway.
func (g *OllamaGateway) Call(ctx context.Context, desc model.ModelDescriptor, messages []model.Message, tools []mcptypes.Tool) (*model.Stream, error) {
	req := &api.ChatRequest{
		Model:    desc.ModelID,
		Messages: toOllamaMessages(messages),
		Stream:   func(b bool) *bool { return &b }(true),
	}
	if len(tools) > 0 {
		req.Tools = tool.ToOllama(tools)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := model.NewStream(cancel)
	go g.produce(ctx, stream, req)
	return stream, nil
}

func (g *OllamaGateway) produce(ctx context.Context, out *model.Stream, req *api.ChatRequest) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			out.Fail(err)
			return
		}
	}

	var tokensUsed int

	err := g.client.Chat(ctx, req, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			out.Emit(model.StreamEvent{Kind: model.EventToken, Token: resp.Message.Content})
		}

		// Ollama delivers tool calls whole, never as fragments.
		for _, tc := range resp.Message.ToolCalls {
			call := model.ToolCall{
				ID:        uuid.New().String(),
				Name:      tc.Function.Name,
				Arguments: tc.Function.Arguments,
			}
			if raw, err := json.Marshal(tc.Function.Arguments); err == nil {
				call.RawArguments = string(raw)
			}
			out.Emit(model.StreamEvent{Kind: model.EventToolCallEnd, CallID: call.ID, ToolCall: &call})
		}

		if resp.Done {
			tokensUsed = resp.Metrics.PromptEvalCount + resp.Metrics.EvalCount
		}
		return nil
	})

	if err != nil {
		out.Fail(classifyOllama(err))
		return
	}
	out.Finish(tokensUsed)
}

// ListModels returns the names of locally available models.
func (g *OllamaGateway) ListModels(ctx context.Context) ([]string, error) {
	resp, err := g.client.List(ctx)
	if err != nil {
		return nil, classifyOllama(err)
	}
	names := make([]string, 0, len(resp.Models))
	for _, m := range resp.Models {
		names = append(names, m.Name)
	}
	return names, nil
}

// Ping implements model.Gateway by listing local models.
func (g *OllamaGateway) Ping(ctx context.Context, _ model.ModelDescriptor) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if _, err := g.client.List(ctx); err != nil {
		return classifyOllama(err)
	}
	return nil
}

// toolCallingModels tracks which local model families support the tool
// calling API. Curated from Ollama documentation and community testing.
var toolCallingModels = map[string]bool{
	"qwen":      true,
	"llama3.1":  true,
	"llama3.2":  true,
	"llama3.3":  true,
	"mistral":   true,
	"command-r": true,
	"nemotron":  true,
	"granite3":  true,

	"llama3-gradient": false,
	"llama3":          false, // original llama3, not 3.1/3.2/3.3
	"phi":             false,
	"gemma":           false,
	"codellama":       false,
	"deepseek":        false,
}

// orderedPrefixes lists prefixes most specific first so llama3.2 never
// matches the generic llama3 entry.
var orderedPrefixes = []string{
	"llama3.3", "llama3.2", "llama3.1",
	"llama3-gradient",
	"command-r", "qwen", "mistral", "nemotron", "granite3",
	"codellama",
	"llama3",
	"deepseek", "phi", "gemma",
}

// OllamaModelSupportsTools reports whether a local model name is known to
// support tool calling. Unknown models default to false.
func OllamaModelSupportsTools(modelName string) bool {
	modelName = strings.ToLower(modelName)
	for _, prefix := range orderedPrefixes {
		if strings.HasPrefix(modelName, prefix) {
			if supported, exists := toolCallingModels[prefix]; exists {
				return supported
			}
		}
	}
	return false
}
