package model

import (
	"context"

	mcptypes "github.com/mark3labs/mcp-go/mcp"
)

// Gateway normalizes heterogeneous LLM providers behind one streaming call
// interface using provider-agnostic types from the model layer.
//
// The interface lives in the model package (not gateway) to avoid import
// cycles: gateway adapters import model, and consumers of the interface
// (workflow engine, composition root) depend only on model.
type Gateway interface {
	// Call opens a streaming generation against the model identified by
	// desc. Messages must be non-empty and ordered oldest-first. Tools,
	// when non-nil, are advertised to the model for invocation.
	//
	// The returned stream emits tokens in generation order and exactly
	// one terminal event. Call itself only fails on request construction
	// problems; transport and provider errors surface as stream error
	// events so callers have a single error path.
	Call(ctx context.Context, desc ModelDescriptor, messages []Message, tools []mcptypes.Tool) (*Stream, error)

	// Ping checks whether the provider behind desc is reachable.
	Ping(ctx context.Context, desc ModelDescriptor) error
}
