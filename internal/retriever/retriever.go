// Package retriever runs the retrieval stage: embed the English query,
// search the vector index, rerank the candidates and clean the survivors.
package retriever

import (
	"context"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/capability"
	"github.com/climateqa/climateqa/internal/models"
)

const (
	snippetLength     = 200
	minContentLength  = 10
	defaultCandidates = 20
	defaultTopN       = 6
)

// Config bounds the candidate and result set sizes.
type Config struct {
	Candidates int // vector search fan-out
	TopN       int // documents surviving rerank
}

// DefaultConfig returns the production fan-out.
func DefaultConfig() Config {
	return Config{Candidates: defaultCandidates, TopN: defaultTopN}
}

// Retriever composes an embedder, a vector index and a reranker. Retrieval
// failures degrade to an empty document list; generation then falls back to
// conversation context or a no-documents error downstream.
type Retriever struct {
	embedder capability.Embedder
	index    capability.VectorIndex
	reranker capability.Reranker
	config   Config
	logger   *logrus.Logger
}

// New creates a retriever.
func New(embedder capability.Embedder, index capability.VectorIndex, reranker capability.Reranker, config Config, logger *logrus.Logger) *Retriever {
	if config.Candidates <= 0 {
		config.Candidates = defaultCandidates
	}
	if config.TopN <= 0 {
		config.TopN = defaultTopN
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Retriever{
		embedder: embedder,
		index:    index,
		reranker: reranker,
		config:   config,
		logger:   logger,
	}
}

// Retrieve returns up to TopN cleaned documents for the query. Any stage
// failure is logged and yields an empty list rather than an error.
func (r *Retriever) Retrieve(ctx context.Context, query string) []models.Document {
	vector, err := r.embedder.Embed(ctx, query)
	if err != nil {
		r.logger.WithError(err).Warn("Embedding failed, returning no documents")
		return nil
	}

	hits, err := r.index.Query(ctx, vector, r.config.Candidates)
	if err != nil {
		r.logger.WithError(err).Warn("Vector search failed, returning no documents")
		return nil
	}
	if len(hits) == 0 {
		return nil
	}

	candidates := hitsToDocuments(hits)

	reranked, err := r.reranker.Rerank(ctx, query, candidates, r.config.TopN)
	if err != nil {
		r.logger.WithError(err).Warn("Rerank failed, keeping vector search order")
		reranked = candidates
	}

	docs := Preprocess(reranked, r.config.TopN)
	r.logger.WithFields(logrus.Fields{
		"candidates": len(candidates),
		"kept":       len(docs),
	}).Debug("Retrieval completed")
	return docs
}

// hitsToDocuments maps index payloads onto documents. The index stores
// title, url (or source) and content keys.
func hitsToDocuments(hits []capability.IndexHit) []models.Document {
	docs := make([]models.Document, 0, len(hits))
	for _, hit := range hits {
		doc := models.Document{
			Title:   payloadString(hit.Payload, "title"),
			URL:     payloadString(hit.Payload, "url"),
			Content: payloadString(hit.Payload, "content"),
			Score:   hit.Score,
		}
		if doc.URL == "" {
			doc.URL = payloadString(hit.Payload, "source")
		}
		docs = append(docs, doc)
	}
	return docs
}

func payloadString(payload map[string]any, key string) string {
	if payload == nil {
		return ""
	}
	if s, ok := payload[key].(string); ok {
		return strings.TrimSpace(s)
	}
	return ""
}

// Preprocess cleans a ranked document list: drops documents with an empty
// title or near-empty content, deduplicates by title keeping the
// highest-ranked copy, attaches snippets and truncates to topN.
func Preprocess(docs []models.Document, topN int) []models.Document {
	seen := make(map[string]bool, len(docs))
	out := make([]models.Document, 0, topN)
	for _, doc := range docs {
		title := strings.TrimSpace(doc.Title)
		if title == "" || len(strings.TrimSpace(doc.Content)) < minContentLength {
			continue
		}
		key := strings.ToLower(title)
		if seen[key] {
			continue
		}
		seen[key] = true

		doc.Title = title
		doc.Snippet = makeSnippet(doc.Content)
		out = append(out, doc)
		if len(out) == topN {
			break
		}
	}
	return out
}

// makeSnippet keeps roughly the first 200 characters, cut at a rune boundary.
func makeSnippet(content string) string {
	content = strings.TrimSpace(content)
	runes := []rune(content)
	if len(runes) <= snippetLength {
		return content
	}
	return string(runes[:snippetLength]) + "..."
}
