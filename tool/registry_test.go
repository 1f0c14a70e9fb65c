package tool

import (
	"context"
	"testing"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

func echoDefinition(name string) Definition {
	return Definition{
		Name:        name,
		Description: "echoes its input",
		InputSchema: mcptypes.ToolInputSchema{
			Type: "object",
			Properties: map[string]any{
				"text": map[string]any{"type": "string"},
			},
			Required: []string{"text"},
		},
		Execute: func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			return text, nil
		},
	}
}

func TestRegister(t *testing.T) {
	tests := []struct {
		name    string
		def     Definition
		wantErr bool
	}{
		{
			name:    "valid definition",
			def:     echoDefinition("echo"),
			wantErr: false,
		},
		{
			name:    "empty name",
			def:     Definition{Execute: func(ctx context.Context, args map[string]any) (string, error) { return "", nil }},
			wantErr: true,
		},
		{
			name:    "nil execute",
			def:     Definition{Name: "broken"},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewRegistry()
			err := r.Register(tt.def)
			if (err != nil) != tt.wantErr {
				t.Errorf("Register: got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestRegisterDuplicateName(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoDefinition("echo")); err != nil {
		t.Fatalf("first register: %v", err)
	}
	if err := r.Register(echoDefinition("echo")); err == nil {
		t.Error("expected error registering duplicate name")
	}
}

func TestListPreservesRegistrationOrder(t *testing.T) {
	r := NewRegistry()
	names := []string{"zeta", "alpha", "mid"}
	for _, name := range names {
		if err := r.Register(echoDefinition(name)); err != nil {
			t.Fatalf("register %s: %v", name, err)
		}
	}

	defs := r.List()
	if len(defs) != len(names) {
		t.Fatalf("list length: got %d, want %d", len(defs), len(names))
	}
	for i, def := range defs {
		if def.Name != names[i] {
			t.Errorf("list[%d]: got %q, want %q", i, def.Name, names[i])
		}
	}

	mcpTools := r.MCPTools()
	for i, mt := range mcpTools {
		if mt.Name != names[i] {
			t.Errorf("mcp tools[%d]: got %q, want %q", i, mt.Name, names[i])
		}
	}
}

func TestValidate(t *testing.T) {
	r := NewRegistry()
	if err := r.Register(echoDefinition("echo")); err != nil {
		t.Fatalf("register: %v", err)
	}

	tests := []struct {
		name    string
		args    map[string]any
		wantErr bool
	}{
		{"valid args", map[string]any{"text": "hello"}, false},
		{"missing required", map[string]any{}, true},
		{"wrong type", map[string]any{"text": 42}, true},
		{"nil args", nil, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := r.validate("echo", tt.args)
			if (err != nil) != tt.wantErr {
				t.Errorf("validate: got err %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestValidateUnknownTool(t *testing.T) {
	r := NewRegistry()
	if err := r.validate("nope", map[string]any{}); err == nil {
		t.Error("expected error for unknown tool")
	}
}
