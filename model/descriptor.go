package model

import "fmt"

// ProviderKind identifies the backing provider implementation.
type ProviderKind string

const (
	ProviderOllama    ProviderKind = "ollama"
	ProviderOpenAI    ProviderKind = "openai"
	ProviderAnthropic ProviderKind = "anthropic"
)

// Capabilities describes what a model supports. Looked up once from the
// descriptor registry and treated as immutable reference data.
type Capabilities struct {
	Streaming   bool `json:"streaming"`
	ToolCalling bool `json:"tool_calling"`
	MaxTokens   int  `json:"max_tokens"`
}

// ModelDescriptor identifies a concrete model behind a provider.
type ModelDescriptor struct {
	Provider     ProviderKind `json:"provider"`
	ModelID      string       `json:"model_id"`
	Capabilities Capabilities `json:"capabilities"`
}

func (d ModelDescriptor) String() string {
	return fmt.Sprintf("%s/%s", d.Provider, d.ModelID)
}

// DescriptorRegistry holds the known model descriptors. It is populated at
// startup and read-only afterwards, so no locking is needed.
type DescriptorRegistry struct {
	descriptors map[string]ModelDescriptor
}

// NewDescriptorRegistry builds a registry from the given descriptors.
// Later duplicates win, matching config-file override semantics.
func NewDescriptorRegistry(descriptors ...ModelDescriptor) *DescriptorRegistry {
	m := make(map[string]ModelDescriptor, len(descriptors))
	for _, d := range descriptors {
		m[d.String()] = d
	}
	return &DescriptorRegistry{descriptors: m}
}

// Lookup returns the descriptor for provider/modelID.
func (r *DescriptorRegistry) Lookup(provider ProviderKind, modelID string) (ModelDescriptor, error) {
	d, ok := r.descriptors[fmt.Sprintf("%s/%s", provider, modelID)]
	if !ok {
		return ModelDescriptor{}, fmt.Errorf("unknown model: %s/%s", provider, modelID)
	}
	return d, nil
}

// List returns all registered descriptors.
func (r *DescriptorRegistry) List() []ModelDescriptor {
	out := make([]ModelDescriptor, 0, len(r.descriptors))
	for _, d := range r.descriptors {
		out = append(out, d)
	}
	return out
}
