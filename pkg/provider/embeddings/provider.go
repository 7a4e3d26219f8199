// Package embeddings abstracts the vector-embedding backends used for
// scenario retrieval. Caller utterances and tenant scenario triggers are
// embedded into the same space; pgvector then ranks scenarios by cosine
// distance against the utterance vector.
//
// Implementations must be safe for concurrent use.
package embeddings

import "context"

// Provider maps text to dense float32 vectors.
//
// Every vector produced by one Provider instance has the same length,
// reported by Dimensions. Vectors from different instances must not be
// compared unless both wrap the same model.
type Provider interface {
	// Embed computes the vector for a single text. The text is passed to
	// the model verbatim; any model-specific prefixing is the caller's job.
	Embed(ctx context.Context, text string) ([]float32, error)

	// EmbedBatch embeds texts in one provider call. The result is
	// positional: element i corresponds to texts[i]. On error no partial
	// results are returned.
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)

	// Dimensions is the fixed vector length for this provider's model.
	Dimensions() int

	// ModelID names the underlying model ("text-embedding-3-small", ...),
	// stored next to persisted vectors so a model change can invalidate
	// them.
	ModelID() string
}
