// Package capability declares the typed contracts the pipeline depends on.
// Every capability is injected at construction; the core owns no network
// clients directly.
package capability

import (
	"context"
	"errors"

	"github.com/climateqa/climateqa/internal/models"
)

// ErrCacheMiss is returned by Cache.Get when the key does not exist.
var ErrCacheMiss = errors.New("cache miss")

// Translator converts text between two languages, identified by their human
// names. Implementations must return the input unchanged on failure; errors
// never cross this boundary.
type Translator interface {
	Translate(ctx context.Context, text, sourceLangName, targetLangName string) string
}

// StructuredLLM issues a single prompt and returns a line-delimited
// structured block for the classifier/rewriter and scorer adapters to parse.
type StructuredLLM interface {
	GenerateStructured(ctx context.Context, prompt, system string) (string, error)
}

// ResponseLLM produces a grounded English answer for one model family.
type ResponseLLM interface {
	GenerateAnswer(ctx context.Context, query string, docs []models.Document, system string, history []models.Message) (string, error)
	// ModelName labels results so callers know which backend answered.
	ModelName() string
}

// Embedder turns text into a dense vector. Implementations must be safe for
// concurrent use; the first call may be expensive.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// IndexHit is one raw match from the vector index, normalized to Documents
// by the retriever.
type IndexHit struct {
	ID      string
	Score   float64
	Payload map[string]any
}

// VectorIndex answers nearest-neighbour queries.
type VectorIndex interface {
	Query(ctx context.Context, vector []float32, topK int) ([]IndexHit, error)
}

// Reranker reorders candidate documents by relevance to the query.
type Reranker interface {
	Rerank(ctx context.Context, query string, candidates []models.Document, topK int) ([]models.Document, error)
}

// Cache is the only shared mutable resource in the system. All operations
// may fail; callers degrade to miss/no-op and log, never abort the request.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte, ttlSeconds int) error
	// PushRecent prepends an entry to the bounded recent-query list.
	PushRecent(ctx context.Context, entry string, maxLen int) error
	// ReadRecent returns up to n entries, most recent first.
	ReadRecent(ctx context.Context, n int) ([]string, error)
}
