// Package config loads service configuration from the environment.
package config

import (
	"os"
	"strconv"
	"time"
)

// Config is the full service configuration.
type Config struct {
	Server       ServerConfig
	Redis        RedisConfig
	Qdrant       QdrantConfig
	Claude       ClaudeConfig
	Cohere       CohereConfig
	Cache        CacheConfig
	Retriever    RetrieverConfig
	Generator    GeneratorConfig
	Faithfulness FaithfulnessConfig
	Budgets      BudgetConfig
	LogLevel     string
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host         string
	Port         string
	Mode         string // gin mode
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// RedisConfig holds cache store settings.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// QdrantConfig holds vector database settings.
type QdrantConfig struct {
	Host       string
	Port       int
	APIKey     string
	UseTLS     bool
	Collection string
}

// ClaudeConfig holds primary-family backend settings.
type ClaudeConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Timeout time.Duration
}

// CohereConfig holds secondary-family backend settings.
type CohereConfig struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	RerankModel string
	Timeout     time.Duration
}

// CacheConfig tunes the query cache.
type CacheConfig struct {
	TTLSeconds     int
	RecentListSize int
	FuzzyScanLimit int
	FuzzyThreshold float64
}

// RetrieverConfig bounds retrieval fan-out.
type RetrieverConfig struct {
	TopK   int
	FinalN int
}

// GeneratorConfig tunes generation behavior.
type GeneratorConfig struct {
	ResponseCacheEnabled bool
	ResponseCacheTTL     int
}

// FaithfulnessConfig holds the guard thresholds.
type FaithfulnessConfig struct {
	Threshold     float64
	DegradedFloor float64
}

// BudgetConfig holds per-stage wall-clock budgets.
type BudgetConfig struct {
	TranslateIn     time.Duration
	Classify        time.Duration
	CacheLookup     time.Duration
	Retrieve        time.Duration
	Generate        time.Duration
	Faithfulness    time.Duration
	TranslateOut    time.Duration
	CacheWrite      time.Duration
	RequestDeadline time.Duration
}

// Load reads configuration from environment variables with production
// defaults. Secrets have no defaults and must be set.
func Load() *Config {
	return &Config{
		Server: ServerConfig{
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Port:         getEnv("PORT", "8080"),
			Mode:         getEnv("GIN_MODE", "release"),
			ReadTimeout:  getDurationEnv("READ_TIMEOUT", 30*time.Second),
			WriteTimeout: getDurationEnv("WRITE_TIMEOUT", 90*time.Second),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getIntEnv("REDIS_DB", 0),
		},
		Qdrant: QdrantConfig{
			Host:       getEnv("QDRANT_HOST", "localhost"),
			Port:       getIntEnv("QDRANT_PORT", 6334),
			APIKey:     getEnv("QDRANT_API_KEY", ""),
			UseTLS:     getBoolEnv("QDRANT_USE_TLS", false),
			Collection: getEnv("QDRANT_COLLECTION", "climate_docs"),
		},
		Claude: ClaudeConfig{
			APIKey:  getEnv("ANTHROPIC_API_KEY", ""),
			BaseURL: getEnv("ANTHROPIC_BASE_URL", "https://api.anthropic.com"),
			Model:   getEnv("CLAUDE_MODEL", "claude-3-haiku-20240307"),
			Timeout: getDurationEnv("CLAUDE_TIMEOUT", 30*time.Second),
		},
		Cohere: CohereConfig{
			APIKey:      getEnv("COHERE_API_KEY", ""),
			BaseURL:     getEnv("COHERE_BASE_URL", "https://api.cohere.ai"),
			ChatModel:   getEnv("COHERE_CHAT_MODEL", "command-r"),
			EmbedModel:  getEnv("COHERE_EMBED_MODEL", "embed-multilingual-v3.0"),
			RerankModel: getEnv("COHERE_RERANK_MODEL", "rerank-english-v3.0"),
			Timeout:     getDurationEnv("COHERE_TIMEOUT", 30*time.Second),
		},
		Cache: CacheConfig{
			TTLSeconds:     getIntEnv("CACHE_TTL_SECONDS", 3600),
			RecentListSize: getIntEnv("RECENT_LIST_SIZE", 100),
			FuzzyScanLimit: getIntEnv("FUZZY_SCAN_LIMIT", 50),
			FuzzyThreshold: getFloatEnv("FUZZY_THRESHOLD", 0.92),
		},
		Retriever: RetrieverConfig{
			TopK:   getIntEnv("RETRIEVER_TOP_K", 20),
			FinalN: getIntEnv("RETRIEVER_FINAL_N", 6),
		},
		Generator: GeneratorConfig{
			ResponseCacheEnabled: getBoolEnv("RESPONSE_CACHE_ENABLED", false),
			ResponseCacheTTL:     getIntEnv("RESPONSE_CACHE_TTL", 1800),
		},
		Faithfulness: FaithfulnessConfig{
			Threshold:     getFloatEnv("FAITHFULNESS_THRESHOLD", 0.7),
			DegradedFloor: getFloatEnv("FAITHFULNESS_DEGRADED_FLOOR", 0.4),
		},
		Budgets: BudgetConfig{
			TranslateIn:     getDurationEnv("BUDGET_TRANSLATE_IN", 5*time.Second),
			Classify:        getDurationEnv("BUDGET_CLASSIFY", 10*time.Second),
			CacheLookup:     getDurationEnv("BUDGET_CACHE_LOOKUP", 200*time.Millisecond),
			Retrieve:        getDurationEnv("BUDGET_RETRIEVE", 15*time.Second),
			Generate:        getDurationEnv("BUDGET_GENERATE", 20*time.Second),
			Faithfulness:    getDurationEnv("BUDGET_FAITHFULNESS", 5*time.Second),
			TranslateOut:    getDurationEnv("BUDGET_TRANSLATE_OUT", 10*time.Second),
			CacheWrite:      getDurationEnv("BUDGET_CACHE_WRITE", 500*time.Millisecond),
			RequestDeadline: getDurationEnv("REQUEST_DEADLINE", 60*time.Second),
		},
		LogLevel: getEnv("LOG_LEVEL", "info"),
	}
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getBoolEnv(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

func getFloatEnv(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatValue, err := strconv.ParseFloat(value, 64); err == nil {
			return floatValue
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
