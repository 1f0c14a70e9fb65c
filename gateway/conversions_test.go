package gateway

import (
	"testing"

	"chatcore/model"
)

func TestToOllamaMessages(t *testing.T) {
	tests := []struct {
		name  string
		input []model.Message
		want  []struct{ role, content string }
	}{
		{
			name:  "empty",
			input: []model.Message{},
			want:  nil,
		},
		{
			name: "mixed roles pass through",
			input: []model.Message{
				{Role: model.RoleSystem, Content: "be brief"},
				{Role: model.RoleUser, Content: "hi"},
				{Role: model.RoleAssistant, Content: "hello"},
				{Role: model.RoleTool, Content: "tool said 42"},
			},
			want: []struct{ role, content string }{
				{"system", "be brief"},
				{"user", "hi"},
				{"assistant", "hello"},
				{"tool", "tool said 42"},
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := toOllamaMessages(tt.input)
			if len(got) != len(tt.want) {
				t.Fatalf("length: got %d, want %d", len(got), len(tt.want))
			}
			for i, msg := range got {
				if msg.Role != tt.want[i].role {
					t.Errorf("message %d role: got %q, want %q", i, msg.Role, tt.want[i].role)
				}
				if msg.Content != tt.want[i].content {
					t.Errorf("message %d content: got %q, want %q", i, msg.Content, tt.want[i].content)
				}
			}
		})
	}
}

func TestToAnthropicMessagesSeparatesSystem(t *testing.T) {
	input := []model.Message{
		{Role: model.RoleSystem, Content: "you are terse"},
		{Role: model.RoleUser, Content: "question"},
		{Role: model.RoleAssistant, Content: "answer"},
		{Role: model.RoleTool, Content: "tool output"},
	}

	messages, system := toAnthropicMessages(input)

	if len(system) != 1 || system[0].Text != "you are terse" {
		t.Errorf("system blocks: %+v", system)
	}
	if len(messages) != 3 {
		t.Fatalf("messages: got %d, want 3 (system extracted)", len(messages))
	}
	// Tool results ride as user turns.
	if messages[2].Role != "user" {
		t.Errorf("tool message role: got %q, want %q", messages[2].Role, "user")
	}
}

func TestToOpenAIMessages(t *testing.T) {
	input := []model.Message{
		{Role: model.RoleSystem, Content: "sys"},
		{Role: model.RoleUser, Content: "u"},
		{Role: model.RoleAssistant, Content: "a"},
		{Role: model.RoleTool, Content: "t"},
	}

	got := toOpenAIMessages(input)
	if len(got) != 4 {
		t.Fatalf("length: got %d, want 4", len(got))
	}
	if got[0].OfSystem == nil {
		t.Error("system message not converted to system param")
	}
	if got[1].OfUser == nil {
		t.Error("user message not converted to user param")
	}
	if got[2].OfAssistant == nil {
		t.Error("assistant message not converted to assistant param")
	}
	if got[3].OfUser == nil {
		t.Error("tool message should flatten into a user param")
	}
}
