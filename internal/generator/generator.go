// Package generator produces grounded English answers. One algorithm serves
// both model families; the family tag selects the backend and its history
// treatment.
package generator

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/singleflight"

	"github.com/climateqa/climateqa/internal/capability"
	"github.com/climateqa/climateqa/internal/models"
	"github.com/climateqa/climateqa/internal/retriever"
)

// ErrNoDocuments means there is nothing to ground an answer in: retrieval
// produced no documents and the request carried no conversation history.
var ErrNoDocuments = errors.New("no documents and no conversation history to answer from")

const contextDocTitle = "Conversation context"

const answerSystemPrompt = `You are a climate change assistant. Answer the user's question using only the provided sources.
Be accurate, cite sources by title, and say so when the sources do not cover the question.
Respond in English and format the answer as Markdown.`

const historyScoringPrompt = `Rate each numbered conversation turn for relevance to the current question on a scale of 1 to 5.
Respond with one line per turn in the form "N: score" and nothing else.`

// Config controls the optional response cache and history filtering.
type Config struct {
	ResponseCacheEnabled bool
	ResponseCacheTTL     int // seconds
	HistoryFallbackTurns int
}

// DefaultConfig returns production defaults. The response cache is off by
// default; the pipeline-level query cache already absorbs repeats.
func DefaultConfig() Config {
	return Config{
		ResponseCacheEnabled: false,
		ResponseCacheTTL:     1800,
		HistoryFallbackTurns: 2,
	}
}

// Generator dispatches generation to the backend matching the family tag.
type Generator struct {
	primary   capability.ResponseLLM
	secondary capability.ResponseLLM
	scorer    capability.StructuredLLM
	cache     capability.Cache
	config    Config
	group     singleflight.Group
	logger    *logrus.Logger
}

// Output is a generated answer with its citations and the model that
// produced it.
type Output struct {
	Answer    string            `json:"answer"`
	Citations []models.Citation `json:"citations"`
	ModelUsed string            `json:"model_used"`
}

// New creates a generator. scorer may be nil to disable history re-scoring;
// cache may be nil when the response cache is disabled.
func New(primary, secondary capability.ResponseLLM, scorer capability.StructuredLLM, cache capability.Cache, config Config, logger *logrus.Logger) *Generator {
	if config.HistoryFallbackTurns <= 0 {
		config.HistoryFallbackTurns = 2
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Generator{
		primary:   primary,
		secondary: secondary,
		scorer:    scorer,
		cache:     cache,
		config:    config,
		logger:    logger,
	}
}

// Generate produces an English answer for the query, grounded in docs. When
// docs is empty a synthetic conversation-context document is built from
// history; with neither, ErrNoDocuments is returned.
func (g *Generator) Generate(ctx context.Context, query string, docs []models.Document, family models.Family, lang string, history []models.Message) (Output, error) {
	docs = retriever.Preprocess(docs, len(docs))

	synthetic := false
	if len(docs) == 0 {
		if len(history) == 0 {
			return Output{}, ErrNoDocuments
		}
		docs = []models.Document{contextDocument(history)}
		synthetic = true
	}

	if !g.config.ResponseCacheEnabled || g.cache == nil {
		return g.generate(ctx, query, docs, family, history, synthetic)
	}

	key := responseCacheKey(lang, family, query, docs)
	if cached, ok := g.cacheGet(ctx, key); ok {
		g.logger.WithField("family", string(family)).Debug("Response cache hit")
		return cached, nil
	}

	result, err, _ := g.group.Do(key, func() (any, error) {
		out, err := g.generate(ctx, query, docs, family, history, synthetic)
		if err == nil {
			g.cacheSet(ctx, key, out)
		}
		return out, err
	})
	if err != nil {
		return Output{}, err
	}
	return result.(Output), nil
}

func (g *Generator) generate(ctx context.Context, query string, docs []models.Document, family models.Family, history []models.Message, synthetic bool) (Output, error) {
	backend := g.secondary
	if family == models.FamilyClaude {
		backend = g.primary
		history = g.filterHistory(ctx, query, history)
	}

	answer, err := backend.GenerateAnswer(ctx, query, docs, answerSystemPrompt, history)
	if err != nil {
		return Output{}, fmt.Errorf("generation failed: %w", err)
	}

	return Output{
		Answer:    PostProcess(answer),
		Citations: citations(docs, synthetic),
		ModelUsed: backend.ModelName(),
	}, nil
}

// filterHistory re-scores history turns for relevance with a lightweight
// structured call, keeping turns scoring 3 or higher. Any failure falls back
// to the most recent turns.
func (g *Generator) filterHistory(ctx context.Context, query string, history []models.Message) []models.Message {
	if len(history) == 0 {
		return history
	}
	if g.scorer == nil {
		return lastTurns(history, g.config.HistoryFallbackTurns)
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Current question: %s\n\nConversation turns:\n", query)
	for i, turn := range history {
		fmt.Fprintf(&sb, "%d. [%s] %s\n", i+1, turn.Role, turn.Content)
	}

	raw, err := g.scorer.GenerateStructured(ctx, sb.String(), historyScoringPrompt)
	if err != nil {
		g.logger.WithError(err).Debug("History scoring failed, keeping recent turns")
		return lastTurns(history, g.config.HistoryFallbackTurns)
	}

	scores := parseTurnScores(raw, len(history))
	if scores == nil {
		return lastTurns(history, g.config.HistoryFallbackTurns)
	}

	kept := make([]models.Message, 0, len(history))
	for i, turn := range history {
		if scores[i] >= 3 {
			kept = append(kept, turn)
		}
	}
	if len(kept) == 0 {
		return lastTurns(history, g.config.HistoryFallbackTurns)
	}
	return kept
}

var turnScoreLine = regexp.MustCompile(`(?m)^\s*(\d+)\s*[:.]\s*(\d)\s*$`)

// parseTurnScores reads "N: score" lines. Returns nil when no line parses.
func parseTurnScores(raw string, turns int) []int {
	matches := turnScoreLine.FindAllStringSubmatch(raw, -1)
	if len(matches) == 0 {
		return nil
	}
	scores := make([]int, turns)
	found := false
	for _, m := range matches {
		idx, err1 := strconv.Atoi(m[1])
		score, err2 := strconv.Atoi(m[2])
		if err1 != nil || err2 != nil || idx < 1 || idx > turns {
			continue
		}
		scores[idx-1] = score
		found = true
	}
	if !found {
		return nil
	}
	return scores
}

func lastTurns(history []models.Message, n int) []models.Message {
	if len(history) <= n {
		return history
	}
	return history[len(history)-n:]
}

// contextDocument collapses the conversation into one synthetic document so
// the backend can answer followup questions without retrieval hits.
func contextDocument(history []models.Message) models.Document {
	var sb strings.Builder
	for _, turn := range history {
		fmt.Fprintf(&sb, "%s: %s\n", turn.Role, turn.Content)
	}
	return models.Document{
		Title:   contextDocTitle,
		Content: sb.String(),
	}
}

// citations projects the grounding documents, deduplicated by title. The
// synthetic context document is excluded unless it carries a URL.
func citations(docs []models.Document, synthetic bool) []models.Citation {
	out := make([]models.Citation, 0, len(docs))
	seen := make(map[string]bool, len(docs))
	for _, doc := range docs {
		if synthetic && doc.Title == contextDocTitle && doc.URL == "" {
			continue
		}
		key := strings.ToLower(doc.Title)
		if seen[key] {
			continue
		}
		seen[key] = true
		out = append(out, doc.ToCitation())
	}
	return out
}

var (
	headingSpacing = regexp.MustCompile(`(?m)^(#{1,6})([^#\s])`)
	trailingHTML   = regexp.MustCompile(`(?s)<[^>]*$`)
)

// PostProcess repairs Markdown heading spacing and strips a trailing
// truncated HTML fragment left by a cut-off completion.
func PostProcess(answer string) string {
	answer = headingSpacing.ReplaceAllString(answer, "$1 $2")
	answer = trailingHTML.ReplaceAllString(answer, "")
	return strings.TrimSpace(answer)
}

// responseCacheKey fingerprints the grounding set so different documents
// never share a cached answer.
func responseCacheKey(lang string, family models.Family, query string, docs []models.Document) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s", lang, family, strings.ToLower(strings.TrimSpace(query)))
	for _, doc := range docs {
		fmt.Fprintf(h, "|%s:%s", doc.Title, doc.URL)
	}
	return "r:" + lang + ":" + hex.EncodeToString(h.Sum(nil))
}

func (g *Generator) cacheGet(ctx context.Context, key string) (Output, bool) {
	data, err := g.cache.Get(ctx, key)
	if err != nil {
		if !errors.Is(err, capability.ErrCacheMiss) {
			g.logger.WithError(err).Warn("Response cache read failed")
		}
		return Output{}, false
	}
	var out Output
	if err := json.Unmarshal(data, &out); err != nil {
		g.logger.WithError(err).Warn("Response cache entry corrupt")
		return Output{}, false
	}
	return out, true
}

func (g *Generator) cacheSet(ctx context.Context, key string, out Output) {
	data, err := json.Marshal(out)
	if err != nil {
		return
	}
	if err := g.cache.Set(ctx, key, data, g.config.ResponseCacheTTL); err != nil {
		g.logger.WithError(err).Warn("Response cache write failed")
	}
}
