package cache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/capability"
	"github.com/climateqa/climateqa/internal/models"
)

// Entry is the self-describing document stored per cache key.
type Entry struct {
	Version         int           `json:"version"`
	NormalizedQuery string        `json:"normalized_query"`
	Language        string        `json:"language"`
	Family          models.Family `json:"family"`
	CreatedAt       time.Time     `json:"created_at"`
	Result          models.Result `json:"result"`
}

const entryVersion = 1

// QueryCacheConfig carries the tunables for lookup and write behavior.
type QueryCacheConfig struct {
	TTLSeconds     int     // default 3600
	RecentListSize int     // default 100
	FuzzyScanLimit int     // how many recent entries fuzzy matching considers
	FuzzyThreshold float64 // default 0.92
}

// DefaultQueryCacheConfig returns the production defaults.
func DefaultQueryCacheConfig() QueryCacheConfig {
	return QueryCacheConfig{
		TTLSeconds:     3600,
		RecentListSize: 100,
		FuzzyScanLimit: 50,
		FuzzyThreshold: 0.92,
	}
}

// QueryCache guarantees at most one generated artifact per
// (language, family, normalized query) and enables reuse across
// near-duplicate queries within the same language.
//
// Every cache failure degrades to a miss or a no-op with a warning; the
// pipeline behaves as if the cache were absent.
type QueryCache struct {
	store  capability.Cache
	config QueryCacheConfig
	logger *logrus.Logger
}

// NewQueryCache wires a QueryCache over any capability.Cache.
func NewQueryCache(store capability.Cache, config QueryCacheConfig, logger *logrus.Logger) *QueryCache {
	if logger == nil {
		logger = logrus.New()
	}
	if config.TTLSeconds <= 0 {
		config.TTLSeconds = 3600
	}
	if config.RecentListSize <= 0 {
		config.RecentListSize = 100
	}
	if config.FuzzyScanLimit <= 0 {
		config.FuzzyScanLimit = 50
	}
	if config.FuzzyThreshold <= 0 {
		config.FuzzyThreshold = 0.92
	}
	return &QueryCache{store: store, config: config, logger: logger}
}

// NormalizeQuery lowercases, collapses whitespace and trims. No stemming, no
// accent folding. The function is idempotent.
func NormalizeQuery(q string) string {
	return strings.Join(strings.Fields(strings.ToLower(q)), " ")
}

// Key computes the deterministic cache key. The language code appears both
// as the key prefix and inside the hashed material; hashing without the
// language would let translations collide.
func Key(lang string, family models.Family, normalizedQuery string) string {
	sum := sha256.Sum256([]byte(lang + ":" + string(family) + ":" + normalizedQuery))
	return fmt.Sprintf("q:%s:%s", lang, hex.EncodeToString(sum[:]))
}

// Match describes how a lookup found its entry.
type Match int

const (
	MatchNone Match = iota
	MatchExact
	MatchFuzzy
)

// Lookup performs an exact lookup and, on miss, a fuzzy one. It returns the
// stored entry, the key it was found under and how it matched. Failures
// degrade to a miss.
func (c *QueryCache) Lookup(ctx context.Context, lang string, family models.Family, query string) (*Entry, string, Match) {
	normalized := NormalizeQuery(query)
	key := Key(lang, family, normalized)

	if entry, ok := c.get(ctx, key); ok {
		return entry, key, MatchExact
	}

	fuzzyKey, ok := c.fuzzyMatch(ctx, lang, normalized)
	if !ok {
		return nil, "", MatchNone
	}
	if entry, ok := c.get(ctx, fuzzyKey); ok {
		return entry, fuzzyKey, MatchFuzzy
	}
	return nil, "", MatchNone
}

// Store writes the result under the key for (lang, family, query) and
// records the query in the recent index. Best-effort; errors are logged.
func (c *QueryCache) Store(ctx context.Context, lang string, family models.Family, query string, result models.Result) {
	normalized := NormalizeQuery(query)
	key := Key(lang, family, normalized)

	entry := Entry{
		Version:         entryVersion,
		NormalizedQuery: normalized,
		Language:        lang,
		Family:          family,
		CreatedAt:       time.Now().UTC(),
		Result:          result,
	}
	data, err := json.Marshal(entry)
	if err != nil {
		c.logger.WithError(err).Warn("Failed to serialize cache entry")
		return
	}

	if err := c.store.Set(ctx, key, data, c.config.TTLSeconds); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Cache write failed")
		return
	}

	recent := fmt.Sprintf("%s|%s|%s", key, normalized, lang)
	if err := c.store.PushRecent(ctx, recent, c.config.RecentListSize); err != nil {
		c.logger.WithError(err).Warn("Recent-query index update failed")
	}
}

func (c *QueryCache) get(ctx context.Context, key string) (*Entry, bool) {
	data, err := c.store.Get(ctx, key)
	if err != nil {
		if err != capability.ErrCacheMiss {
			c.logger.WithError(err).WithField("key", key).Warn("Cache read failed")
		}
		return nil, false
	}
	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		c.logger.WithError(err).WithField("key", key).Warn("Corrupt cache entry")
		return nil, false
	}
	return &entry, true
}

// fuzzyMatch scans the recent-query index for a same-language entry whose
// normalized query is close enough to reuse. Identical normalized strings
// count as similarity 1.0 and take precedence over token overlap.
func (c *QueryCache) fuzzyMatch(ctx context.Context, lang, normalized string) (string, bool) {
	entries, err := c.store.ReadRecent(ctx, c.config.FuzzyScanLimit)
	if err != nil {
		c.logger.WithError(err).Warn("Recent-query index read failed")
		return "", false
	}

	bestKey, bestScore := "", 0.0
	for _, raw := range entries {
		parts := strings.SplitN(raw, "|", 3)
		if len(parts) != 3 {
			continue
		}
		key, candidate, entryLang := parts[0], parts[1], parts[2]
		if entryLang != lang {
			continue
		}
		if candidate == normalized {
			return key, true
		}
		score := jaccard(normalized, candidate)
		if score > bestScore {
			bestKey, bestScore = key, score
		}
	}

	if bestScore >= c.config.FuzzyThreshold {
		c.logger.WithFields(logrus.Fields{
			"similarity": bestScore,
			"lang":       lang,
		}).Debug("Fuzzy cache match")
		return bestKey, true
	}
	return "", false
}

// jaccard computes token-set similarity over whitespace-split tokens with
// surrounding punctuation stripped, so "change" and "change?" compare equal.
func jaccard(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	intersection := 0
	for tok := range setA {
		if _, ok := setB[tok]; ok {
			intersection++
		}
	}
	union := len(setA) + len(setB) - intersection
	return float64(intersection) / float64(union)
}

func tokenSet(s string) map[string]struct{} {
	fields := strings.Fields(s)
	set := make(map[string]struct{}, len(fields))
	for _, f := range fields {
		f = strings.TrimFunc(f, func(r rune) bool {
			return !unicode.IsLetter(r) && !unicode.IsNumber(r)
		})
		if f == "" {
			continue
		}
		set[f] = struct{}{}
	}
	return set
}
