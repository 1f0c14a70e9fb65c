// Package testutil provides mock gateways for store and workflow tests.
package testutil

import (
	"context"
	"sync"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatcore/model"
)

// ScriptedCall describes what one gateway call should produce.
type ScriptedCall struct {
	// Tokens are emitted in order before any tool calls.
	Tokens []string

	// ToolCalls are emitted as complete tool_call_end events after tokens.
	ToolCalls []model.ToolCall

	// Err terminates the stream with an error instead of finish.
	Err error

	// TokensUsed is reported on the finish event.
	TokensUsed int

	// Delay is inserted before each token, to give cancellation tests a
	// window to interrupt mid-stream.
	Delay time.Duration
}

// RecordedCall captures the arguments of one Call invocation.
type RecordedCall struct {
	Desc     model.ModelDescriptor
	Messages []model.Message
	Tools    []mcptypes.Tool
}

// MockGateway implements model.Gateway with scripted responses.
// Scripted calls are consumed in order; the last one repeats once the
// script is exhausted.
type MockGateway struct {
	mu     sync.Mutex
	script []ScriptedCall
	next   int

	// Calls records every invocation, in order.
	Calls []RecordedCall

	// CallFunc, when set, replaces the scripted behavior entirely.
	CallFunc func(ctx context.Context, desc model.ModelDescriptor, messages []model.Message, tools []mcptypes.Tool) (*model.Stream, error)

	// PingErr is returned from Ping.
	PingErr error
}

// NewMockGateway creates a mock that plays back the given script.
func NewMockGateway(script ...ScriptedCall) *MockGateway {
	return &MockGateway{script: script}
}

// Call implements model.Gateway.
func (m *MockGateway) Call(ctx context.Context, desc model.ModelDescriptor, messages []model.Message, tools []mcptypes.Tool) (*model.Stream, error) {
	m.mu.Lock()
	m.Calls = append(m.Calls, RecordedCall{Desc: desc, Messages: messages, Tools: tools})
	if m.CallFunc != nil {
		fn := m.CallFunc
		m.mu.Unlock()
		return fn(ctx, desc, messages, tools)
	}

	var scripted ScriptedCall
	if len(m.script) > 0 {
		idx := m.next
		if idx >= len(m.script) {
			idx = len(m.script) - 1
		}
		scripted = m.script[idx]
		m.next++
	} else {
		scripted = ScriptedCall{Tokens: []string{"ok"}}
	}
	m.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)
	stream := model.NewStream(cancel)

	go func() {
		for _, tok := range scripted.Tokens {
			if scripted.Delay > 0 {
				select {
				case <-time.After(scripted.Delay):
				case <-ctx.Done():
					stream.Fail(ctx.Err())
					return
				}
			}
			if ctx.Err() != nil {
				stream.Fail(ctx.Err())
				return
			}
			stream.Emit(model.StreamEvent{Kind: model.EventToken, Token: tok})
		}
		for i := range scripted.ToolCalls {
			call := scripted.ToolCalls[i]
			stream.Emit(model.StreamEvent{Kind: model.EventToolCallEnd, CallID: call.ID, ToolCall: &call})
		}
		if scripted.Err != nil {
			stream.Fail(scripted.Err)
			return
		}
		stream.Finish(scripted.TokensUsed)
	}()

	return stream, nil
}

// Ping implements model.Gateway.
func (m *MockGateway) Ping(ctx context.Context, desc model.ModelDescriptor) error {
	return m.PingErr
}

// CallCount returns how many calls were made.
func (m *MockGateway) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}
