package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"golang.org/x/time/rate"

	"chatcore/model"
	"chatcore/tool"
)

const defaultAnthropicMaxTokens = 4096

// AnthropicGateway adapts Anthropic's official SDK to the normalized
// streaming event contract.
type AnthropicGateway struct {
	client  *anthropic.Client
	limiter *rate.Limiter
}

// NewAnthropicGateway creates an Anthropic adapter. Returns an error if the
// API key is missing; baseURL defaults to the public endpoint.
func NewAnthropicGateway(baseURL, apiKey string, limiter *rate.Limiter) (*AnthropicGateway, error) {
	if baseURL == "" {
		baseURL = "https://api.anthropic.com"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("Anthropic API key is required")
	}

	client := anthropic.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &AnthropicGateway{client: &client, limiter: limiter}, nil
}

// Call implements model.Gateway.
func (g *AnthropicGateway) Call(ctx context.Context, desc model.ModelDescriptor, messages []model.Message, tools []mcptypes.Tool) (*model.Stream, error) {
	anthropicMessages, systemPrompt := toAnthropicMessages(messages)

	maxTokens := desc.Capabilities.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultAnthropicMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(desc.ModelID),
		Messages:  anthropicMessages,
		MaxTokens: int64(maxTokens),
	}
	if len(systemPrompt) > 0 {
		params.System = systemPrompt
	}
	if len(tools) > 0 {
		params.Tools = tool.ToAnthropic(tools)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := model.NewStream(cancel)
	go g.produce(ctx, stream, params)
	return stream, nil
}

// produce drives the SDK stream and translates events. It always terminates
// the stream exactly once.
func (g *AnthropicGateway) produce(ctx context.Context, out *model.Stream, params anthropic.MessageNewParams) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			out.Fail(err)
			return
		}
	}

	sdkStream := g.client.Messages.NewStreaming(ctx, params)

	// Accumulate the full message so tool calls can be assembled from
	// partial input JSON deltas.
	msg := anthropic.Message{}

	for sdkStream.Next() {
		event := sdkStream.Current()

		if err := msg.Accumulate(event); err != nil {
			out.Fail(malformed("accumulate response: %v", err))
			return
		}

		switch eventVariant := event.AsAny().(type) {
		case anthropic.ContentBlockStartEvent:
			if toolUse, ok := eventVariant.ContentBlock.AsAny().(anthropic.ToolUseBlock); ok {
				out.Emit(model.StreamEvent{Kind: model.EventToolCallStart, CallID: toolUse.ID})
			}

		case anthropic.ContentBlockDeltaEvent:
			switch deltaVariant := eventVariant.Delta.AsAny().(type) {
			case anthropic.TextDelta:
				out.Emit(model.StreamEvent{Kind: model.EventToken, Token: deltaVariant.Text})
			case anthropic.InputJSONDelta:
				out.Emit(model.StreamEvent{Kind: model.EventToolCallDelta, Delta: deltaVariant.PartialJSON})
			}
		}
	}

	if err := sdkStream.Err(); err != nil {
		out.Fail(classifyAnthropic(err))
		return
	}

	for _, call := range extractAnthropicToolCalls(msg.Content) {
		out.Emit(model.StreamEvent{Kind: model.EventToolCallEnd, CallID: call.ID, ToolCall: &call})
	}

	out.Finish(int(msg.Usage.InputTokens + msg.Usage.OutputTokens))
}

// ListModels returns the model IDs the API currently serves.
func (g *AnthropicGateway) ListModels(ctx context.Context) ([]string, error) {
	page, err := g.client.Models.List(ctx, anthropic.ModelListParams{})
	if err != nil {
		return nil, classifyAnthropic(err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Ping implements model.Gateway. Anthropic has no health endpoint, so a
// minimal one-token request stands in.
func (g *AnthropicGateway) Ping(ctx context.Context, desc model.ModelDescriptor) error {
	_, err := g.client.Messages.New(ctx, anthropic.MessageNewParams{
		Model:     anthropic.Model(desc.ModelID),
		MaxTokens: 1,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock("ping")),
		},
	})
	if err != nil {
		return classifyAnthropic(err)
	}
	return nil
}

// extractAnthropicToolCalls pulls completed tool calls out of accumulated
// message content. Unparsable argument payloads are kept with raw text only;
// the executor's schema validation reports them as invalid input.
func extractAnthropicToolCalls(content []anthropic.ContentBlockUnion) []model.ToolCall {
	var calls []model.ToolCall

	for _, block := range content {
		toolUse, ok := block.AsAny().(anthropic.ToolUseBlock)
		if !ok {
			continue
		}

		call := model.ToolCall{
			ID:           toolUse.ID,
			Name:         toolUse.Name,
			RawArguments: string(toolUse.Input),
		}
		var args map[string]any
		if err := json.Unmarshal(toolUse.Input, &args); err == nil {
			call.Arguments = args
		}
		calls = append(calls, call)
	}

	return calls
}
