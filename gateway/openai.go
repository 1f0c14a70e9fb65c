package gateway

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"golang.org/x/time/rate"

	"chatcore/model"
	"chatcore/tool"
)

// OpenAIGateway adapts OpenAI's official SDK to the normalized streaming
// event contract.
type OpenAIGateway struct {
	client  openai.Client
	limiter *rate.Limiter
}

// NewOpenAIGateway creates an OpenAI adapter. Returns an error if the API
// key is missing; baseURL defaults to the public endpoint.
func NewOpenAIGateway(baseURL, apiKey string, limiter *rate.Limiter) (*OpenAIGateway, error) {
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	if apiKey == "" {
		return nil, fmt.Errorf("OpenAI API key is required")
	}

	client := openai.NewClient(
		option.WithBaseURL(baseURL),
		option.WithAPIKey(apiKey),
	)

	return &OpenAIGateway{client: client, limiter: limiter}, nil
}

// Call implements model.Gateway.
func (g *OpenAIGateway) Call(ctx context.Context, desc model.ModelDescriptor, messages []model.Message, tools []mcptypes.Tool) (*model.Stream, error) {
	params := openai.ChatCompletionNewParams{
		Messages: toOpenAIMessages(messages),
		Model:    openai.ChatModel(desc.ModelID),
	}
	if len(tools) > 0 {
		params.Tools = tool.ToOpenAI(tools)
	}

	ctx, cancel := context.WithCancel(ctx)
	stream := model.NewStream(cancel)
	go g.produce(ctx, stream, params)
	return stream, nil
}

// produce drives the SDK stream and translates chunks. OpenAI delivers tool
// call arguments as fragments; the accumulator assembles them, so consumers
// only ever see complete calls.
func (g *OpenAIGateway) produce(ctx context.Context, out *model.Stream, params openai.ChatCompletionNewParams) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			out.Fail(err)
			return
		}
	}

	sdkStream := g.client.Chat.Completions.NewStreaming(ctx, params)
	acc := openai.ChatCompletionAccumulator{}

	for sdkStream.Next() {
		chunk := sdkStream.Current()
		acc.AddChunk(chunk)

		if finished, ok := acc.JustFinishedToolCall(); ok {
			call := model.ToolCall{
				ID:           uuid.New().String(),
				Name:         finished.Name,
				RawArguments: finished.Arguments,
			}
			var args map[string]any
			if err := json.Unmarshal([]byte(finished.Arguments), &args); err == nil {
				call.Arguments = args
			}
			out.Emit(model.StreamEvent{Kind: model.EventToolCallEnd, CallID: call.ID, ToolCall: &call})
		}

		if len(chunk.Choices) > 0 && chunk.Choices[0].Delta.Content != "" {
			out.Emit(model.StreamEvent{Kind: model.EventToken, Token: chunk.Choices[0].Delta.Content})
		}
	}

	if err := sdkStream.Err(); err != nil {
		out.Fail(classifyOpenAI(err))
		return
	}

	out.Finish(int(acc.Usage.TotalTokens))
}

// ListModels returns the model IDs available to the configured account.
func (g *OpenAIGateway) ListModels(ctx context.Context) ([]string, error) {
	page, err := g.client.Models.List(ctx)
	if err != nil {
		return nil, classifyOpenAI(err)
	}
	ids := make([]string, 0, len(page.Data))
	for _, m := range page.Data {
		ids = append(ids, m.ID)
	}
	return ids, nil
}

// Ping implements model.Gateway by listing models, the cheapest
// authenticated call OpenAI offers.
func (g *OpenAIGateway) Ping(ctx context.Context, _ model.ModelDescriptor) error {
	if _, err := g.client.Models.List(ctx); err != nil {
		return classifyOpenAI(err)
	}
	return nil
}
