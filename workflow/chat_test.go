package workflow

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	mcptypes "github.com/mark3labs/mcp-go/mcp"

	"chatcore/gateway"
	"chatcore/gateway/testutil"
	"chatcore/model"
	"chatcore/store"
	"chatcore/tool"
)

func chatFixture(t *testing.T, mock model.Gateway) (*Engine, *store.Store, model.Conversation) {
	t.Helper()
	st := store.NewStore(nil, 0)
	conv := st.CreateConversation("chat test", testDescriptor())
	return newTestEngine(mock, nil, nil), st, conv
}

func TestChatStreamsAssistantReply(t *testing.T) {
	mock := testutil.NewMockGateway(testutil.ScriptedCall{Tokens: []string{"Hello", " there", "!"}})
	engine, st, conv := chatFixture(t, mock)

	run, err := engine.Chat(context.Background(), st, ChatSpec{
		ConversationID: conv.ID,
		Input:          "hi",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitRun(t, run)

	if run.Status() != RunCompleted {
		t.Fatalf("status: got %q (err %v)", run.Status(), run.Err())
	}

	msgs := st.Messages(conv.ID)
	if len(msgs) != 2 {
		t.Fatalf("messages: got %d, want 2", len(msgs))
	}
	if msgs[0].Role != model.RoleUser || msgs[0].Content != "hi" {
		t.Errorf("user message: %+v", msgs[0])
	}
	if msgs[1].Role != model.RoleAssistant {
		t.Errorf("assistant role: got %q", msgs[1].Role)
	}
	if msgs[1].Content != "Hello there!" {
		t.Errorf("assistant content: got %q", msgs[1].Content)
	}
	if msgs[1].Status != model.StatusCompleted {
		t.Errorf("assistant status: got %q", msgs[1].Status)
	}
	if _, streaming := st.StreamingMessage(conv.ID); streaming {
		t.Error("conversation still streaming after completed turn")
	}
}

func TestChatHistoryIsResubmitted(t *testing.T) {
	mock := testutil.NewMockGateway(
		testutil.ScriptedCall{Tokens: []string{"first reply"}},
		testutil.ScriptedCall{Tokens: []string{"second reply"}},
	)
	engine, st, conv := chatFixture(t, mock)

	for _, input := range []string{"one", "two"} {
		run, err := engine.Chat(context.Background(), st, ChatSpec{
			ConversationID: conv.ID,
			Input:          input,
		})
		if err != nil {
			t.Fatalf("chat %q: %v", input, err)
		}
		waitRun(t, run)
	}

	second := mock.Calls[1]
	var contents []string
	for _, msg := range second.Messages {
		contents = append(contents, msg.Content)
	}
	joined := strings.Join(contents, " | ")
	for _, want := range []string{"one", "first reply", "two"} {
		if !strings.Contains(joined, want) {
			t.Errorf("second call history missing %q: %s", want, joined)
		}
	}
}

func TestChatFailureWritesFriendlySummary(t *testing.T) {
	rawErr := &gateway.Error{
		Kind:   gateway.KindUnavailable,
		Status: 503,
		Err:    errors.New(`{"error":{"type":"overloaded","internal_trace":"secret"}}`),
	}
	mock := testutil.NewMockGateway(testutil.ScriptedCall{Err: rawErr})
	engine, st, conv := chatFixture(t, mock)

	run, err := engine.Chat(context.Background(), st, ChatSpec{
		ConversationID: conv.ID,
		Input:          "hi",
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitRun(t, run)

	if run.Status() != RunFailed {
		t.Fatalf("status: got %q, want %q", run.Status(), RunFailed)
	}

	msgs := st.Messages(conv.ID)
	assistant := msgs[1]
	if assistant.Status != model.StatusError {
		t.Errorf("status: got %q, want %q", assistant.Status, model.StatusError)
	}
	// Raw provider bodies stay out of the conversation.
	if strings.Contains(assistant.Content, "internal_trace") {
		t.Errorf("raw provider error leaked into content: %q", assistant.Content)
	}
	if assistant.Content == "" {
		t.Error("no user-facing summary written")
	}
	if _, streaming := st.StreamingMessage(conv.ID); streaming {
		t.Error("conversation still streaming after failed turn")
	}
}

func registerChatTool(t *testing.T, reg *tool.Registry, name string, fn func(context.Context, map[string]any) (string, error)) {
	t.Helper()
	err := reg.Register(tool.Definition{
		Name:        name,
		Description: name,
		InputSchema: mcptypes.ToolInputSchema{Type: "object"},
		Execute:     fn,
	})
	if err != nil {
		t.Fatalf("register %s: %v", name, err)
	}
}

func TestChatToolOutcomesVisibleInSnapshot(t *testing.T) {
	registry := tool.NewRegistry()
	registerChatTool(t, registry, "lookup", func(ctx context.Context, args map[string]any) (string, error) {
		return "the value", nil
	})
	registerChatTool(t, registry, "boom", func(ctx context.Context, args map[string]any) (string, error) {
		time.Sleep(time.Millisecond)
		return "", errors.New("kaput")
	})
	executor := tool.NewExecutor(registry, 0)

	// Two tool rounds: the second round's recording must not erase the
	// first round's outcome.
	mock := testutil.NewMockGateway(
		testutil.ScriptedCall{ToolCalls: []model.ToolCall{
			{ID: "c1", Name: "lookup", Arguments: map[string]any{}},
		}},
		testutil.ScriptedCall{ToolCalls: []model.ToolCall{
			{ID: "c2", Name: "boom", Arguments: map[string]any{}},
		}},
		testutil.ScriptedCall{Tokens: []string{"done"}},
	)
	st := store.NewStore(nil, 0)
	conv := st.CreateConversation("tools", testDescriptor())
	engine := newTestEngine(mock, registry, executor)

	run, err := engine.Chat(context.Background(), st, ChatSpec{
		ConversationID: conv.ID,
		Input:          "go",
		UseTools:       true,
	})
	if err != nil {
		t.Fatalf("chat: %v", err)
	}
	waitRun(t, run)

	if run.Status() != RunCompleted {
		t.Fatalf("status: got %q (err %v)", run.Status(), run.Err())
	}

	msgs := st.Messages(conv.ID)
	assistant := msgs[1]
	if len(assistant.ToolCalls) != 2 {
		t.Fatalf("tool calls on assistant message: got %d, want 2", len(assistant.ToolCalls))
	}

	byID := make(map[string]model.ToolCall)
	for _, call := range assistant.ToolCalls {
		byID[call.ID] = call
	}

	lookup := byID["c1"]
	if !lookup.Executed || lookup.Failed() {
		t.Errorf("lookup outcome: %+v", lookup)
	}
	if lookup.Output != "the value" {
		t.Errorf("lookup output: got %q", lookup.Output)
	}

	boom := byID["c2"]
	if !boom.Executed || !boom.Failed() {
		t.Errorf("boom outcome not visible in snapshot: %+v", boom)
	}
	if boom.ErrorKind != model.ToolExecutionError {
		t.Errorf("boom error kind: got %q, want %q", boom.ErrorKind, model.ToolExecutionError)
	}
	if boom.Duration <= 0 {
		t.Errorf("boom duration not recorded: %v", boom.Duration)
	}
	// The raw tool error stays out of the persisted output.
	if strings.Contains(boom.Output, "kaput") {
		t.Errorf("raw tool error leaked into output: %q", boom.Output)
	}
}

func TestChatRejectsConcurrentTurn(t *testing.T) {
	st := store.NewStore(nil, 0)
	conv := st.CreateConversation("busy", testDescriptor())
	engine := newTestEngine(testutil.NewMockGateway(), nil, nil)

	// Simulate an in-flight generation.
	msg, _ := st.AddMessage(conv.ID, model.RoleAssistant, "")
	if err := st.AppendToken(msg.ID, "partial"); err != nil {
		t.Fatalf("append: %v", err)
	}

	_, err := engine.Chat(context.Background(), st, ChatSpec{
		ConversationID: conv.ID,
		Input:          "another",
	})
	if !errors.Is(err, store.ErrConcurrentStream) {
		t.Errorf("err: got %v, want ErrConcurrentStream", err)
	}
}

func TestChatUnknownConversation(t *testing.T) {
	st := store.NewStore(nil, 0)
	engine := newTestEngine(testutil.NewMockGateway(), nil, nil)

	_, err := engine.Chat(context.Background(), st, ChatSpec{
		ConversationID: "missing",
		Input:          "hello?",
	})
	if err == nil {
		t.Error("expected error for unknown conversation")
	}
}

func TestUserFacingSummary(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want string
	}{
		{"auth", &gateway.Error{Kind: gateway.KindAuth, Err: errors.New("401")}, "credentials"},
		{"rate limited", &gateway.Error{Kind: gateway.KindRateLimited, Err: errors.New("429")}, "busy"},
		{"unavailable", &gateway.Error{Kind: gateway.KindUnavailable, Err: errors.New("503")}, "unavailable"},
		{"malformed", &gateway.Error{Kind: gateway.KindMalformed, Err: errors.New("bad json")}, "unexpected"},
		{"cancelled", context.Canceled, "cancelled"},
		{"timeout", ErrWorkflowTimeout, "timed out"},
		{"unknown", errors.New("who knows"), "went wrong"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := userFacingSummary(tt.err)
			if !strings.Contains(got, tt.want) {
				t.Errorf("summary %q missing %q", got, tt.want)
			}
			if strings.Contains(got, "401") || strings.Contains(got, "503") {
				t.Errorf("summary leaks status detail: %q", got)
			}
		})
	}
}
