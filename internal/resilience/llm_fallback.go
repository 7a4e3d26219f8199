package resilience

import (
	"context"

	"github.com/relaydesk/relaydesk/pkg/provider/llm"
)

// LLMFallback implements [llm.Provider] with automatic failover across LLM
// backends. The assist layer talks to it like any single provider; a dead
// primary costs one failed call, after which its breaker keeps turns on the
// healthy fallback.
type LLMFallback struct {
	chain *Chain[llm.Provider]
}

// Compile-time interface assertion.
var _ llm.Provider = (*LLMFallback)(nil)

// NewLLMFallback creates an [LLMFallback] with primary as the preferred
// backend.
func NewLLMFallback(primary llm.Provider, primaryName string, cfg FallbackConfig) *LLMFallback {
	return &LLMFallback{
		chain: NewChain(primary, primaryName, cfg),
	}
}

// AddFallback registers an additional LLM backend, tried after the primary.
func (f *LLMFallback) AddFallback(name string, provider llm.Provider) {
	f.chain.AddFallback(name, provider)
}

// Complete sends the request to the first healthy backend.
func (f *LLMFallback) Complete(ctx context.Context, req llm.CompletionRequest) (*llm.CompletionResponse, error) {
	return ChainResult(f.chain, func(p llm.Provider) (*llm.CompletionResponse, error) {
		return p.Complete(ctx, req)
	})
}

// StreamCompletion opens a chunk stream on the first healthy backend. Only
// the connection attempt participates in failover; once a stream is up,
// mid-stream errors belong to the caller.
func (f *LLMFallback) StreamCompletion(ctx context.Context, req llm.CompletionRequest) (<-chan llm.Chunk, error) {
	return ChainResult(f.chain, func(p llm.Provider) (<-chan llm.Chunk, error) {
		return p.StreamCompletion(ctx, req)
	})
}

// CountTokens delegates to the first healthy backend's tokenizer.
func (f *LLMFallback) CountTokens(messages []llm.Message) (int, error) {
	return ChainResult(f.chain, func(p llm.Provider) (int, error) {
		return p.CountTokens(messages)
	})
}

// Capabilities reports the primary's capabilities; static metadata does not
// fail over.
func (f *LLMFallback) Capabilities() llm.ModelCapabilities {
	if len(f.chain.entries) > 0 {
		return f.chain.entries[0].value.Capabilities()
	}
	return llm.ModelCapabilities{}
}
