package config

import (
	"errors"
	"fmt"
	"sync"

	"github.com/relaydesk/relaydesk/pkg/provider/embeddings"
	"github.com/relaydesk/relaydesk/pkg/provider/llm"
)

// ErrProviderNotRegistered is returned by the Create methods when the name
// in the config's providers block has no registered factory.
var ErrProviderNotRegistered = errors.New("config: provider not registered")

// Registry resolves the provider names in relaydesk.yaml ("openai",
// "anyllm", "ollama") to constructors. main registers the built-in backends
// at startup; tests register fakes. Safe for concurrent use.
type Registry struct {
	mu             sync.RWMutex
	llmFactories   map[string]func(ProviderEntry) (llm.Provider, error)
	embedFactories map[string]func(ProviderEntry) (embeddings.Provider, error)
}

// NewRegistry returns an empty, ready-to-use [Registry].
func NewRegistry() *Registry {
	return &Registry{
		llmFactories:   make(map[string]func(ProviderEntry) (llm.Provider, error)),
		embedFactories: make(map[string]func(ProviderEntry) (embeddings.Provider, error)),
	}
}

// RegisterLLM registers an LLM factory under name. Re-registering a name
// replaces the previous factory.
func (r *Registry) RegisterLLM(name string, factory func(ProviderEntry) (llm.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.llmFactories[name] = factory
}

// RegisterEmbeddings registers an embeddings factory under name.
func (r *Registry) RegisterEmbeddings(name string, factory func(ProviderEntry) (embeddings.Provider, error)) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.embedFactories[name] = factory
}

// CreateLLM builds the LLM provider named by entry.Name.
func (r *Registry) CreateLLM(entry ProviderEntry) (llm.Provider, error) {
	r.mu.RLock()
	factory, ok := r.llmFactories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: llm/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}

// CreateEmbeddings builds the embeddings provider named by entry.Name.
func (r *Registry) CreateEmbeddings(entry ProviderEntry) (embeddings.Provider, error) {
	r.mu.RLock()
	factory, ok := r.embedFactories[entry.Name]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: embeddings/%q", ErrProviderNotRegistered, entry.Name)
	}
	return factory(entry)
}
