// Package tool provides the typed tool registry and executor.
//
// Tools are schema-validated functions the model may request invocation of
// mid-generation. Definitions are registered once at process start and are
// immutable afterwards. Tool input schemas use the MCP tool vocabulary
// (mcptypes.ToolInputSchema) so definitions convert cleanly to every
// provider's wire format; see convert.go.
//
// Execution is sandboxed at the call-input boundary: a tool receives only
// its validated arguments, never store or gateway internals.
package tool

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/google/jsonschema-go/jsonschema"
	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Definition describes one registered tool.
type Definition struct {
	Name        string
	Description string
	InputSchema mcptypes.ToolInputSchema

	// HaltsOnError marks tools whose failure stops a sequential batch.
	// Parallel batches always run to completion regardless.
	HaltsOnError bool

	// Execute runs the tool with validated arguments. The returned string
	// is surfaced to the model as the tool result.
	Execute func(ctx context.Context, args map[string]any) (string, error)
}

// MCPTool returns the definition in MCP tool form for provider advertisement.
func (d Definition) MCPTool() mcptypes.Tool {
	return mcptypes.Tool{
		Name:        d.Name,
		Description: d.Description,
		InputSchema: d.InputSchema,
	}
}

type entry struct {
	def      Definition
	resolved *jsonschema.Resolved
}

// Registry holds tool definitions keyed by unique name. Registration happens
// at startup; reads afterwards are lock-cheap (RWMutex, read-mostly).
type Registry struct {
	mu      sync.RWMutex
	entries map[string]entry
	order   []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{entries: make(map[string]entry)}
}

// Register adds a definition. It fails on empty name, nil Execute, a schema
// that does not compile, or a name that is already registered.
func (r *Registry) Register(def Definition) error {
	if def.Name == "" {
		return fmt.Errorf("tool name is required")
	}
	if def.Execute == nil {
		return fmt.Errorf("tool %q has no execute function", def.Name)
	}

	resolved, err := compileSchema(def.InputSchema)
	if err != nil {
		return fmt.Errorf("tool %q schema: %w", def.Name, err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[def.Name]; exists {
		return fmt.Errorf("tool %q already registered", def.Name)
	}
	r.entries[def.Name] = entry{def: def, resolved: resolved}
	r.order = append(r.order, def.Name)
	return nil
}

// Get returns the definition for name.
func (r *Registry) Get(name string) (Definition, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[name]
	return e.def, ok
}

// List returns all definitions in registration order.
func (r *Registry) List() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Definition, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def)
	}
	return out
}

// MCPTools returns all definitions in MCP tool form, in registration order.
// This is what gets advertised to the model on a gateway call.
func (r *Registry) MCPTools() []mcptypes.Tool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]mcptypes.Tool, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.entries[name].def.MCPTool())
	}
	return out
}

// validate checks raw arguments against the tool's compiled schema.
func (r *Registry) validate(name string, args map[string]any) error {
	r.mu.RLock()
	e, ok := r.entries[name]
	r.mu.RUnlock()
	if !ok {
		return fmt.Errorf("unknown tool %q", name)
	}
	if e.resolved == nil {
		return nil
	}
	if args == nil {
		args = map[string]any{}
	}
	return e.resolved.Validate(args)
}

// compileSchema converts an MCP input schema into a resolved JSON schema.
// The MCP type marshals to standard JSON Schema, so round-tripping through
// JSON is the supported conversion path.
func compileSchema(in mcptypes.ToolInputSchema) (*jsonschema.Resolved, error) {
	raw, err := json.Marshal(in)
	if err != nil {
		return nil, fmt.Errorf("marshal schema: %w", err)
	}
	var schema jsonschema.Schema
	if err := json.Unmarshal(raw, &schema); err != nil {
		return nil, fmt.Errorf("parse schema: %w", err)
	}
	resolved, err := schema.Resolve(nil)
	if err != nil {
		return nil, fmt.Errorf("resolve schema: %w", err)
	}
	return resolved, nil
}
