package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, "localhost:6379", cfg.Redis.Addr)
	assert.Equal(t, 6334, cfg.Qdrant.Port)
	assert.Equal(t, "climate_docs", cfg.Qdrant.Collection)
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.InDelta(t, 0.92, cfg.Cache.FuzzyThreshold, 1e-9)
	assert.Equal(t, 20, cfg.Retriever.TopK)
	assert.Equal(t, 6, cfg.Retriever.FinalN)
	assert.InDelta(t, 0.7, cfg.Faithfulness.Threshold, 1e-9)
	assert.Equal(t, 60*time.Second, cfg.Budgets.RequestDeadline)
	assert.False(t, cfg.Generator.ResponseCacheEnabled)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("CACHE_TTL_SECONDS", "120")
	t.Setenv("FUZZY_THRESHOLD", "0.8")
	t.Setenv("BUDGET_GENERATE", "45s")
	t.Setenv("RESPONSE_CACHE_ENABLED", "true")

	cfg := Load()
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 120, cfg.Cache.TTLSeconds)
	assert.InDelta(t, 0.8, cfg.Cache.FuzzyThreshold, 1e-9)
	assert.Equal(t, 45*time.Second, cfg.Budgets.Generate)
	assert.True(t, cfg.Generator.ResponseCacheEnabled)
}

func TestLoadMalformedValuesFallBack(t *testing.T) {
	t.Setenv("CACHE_TTL_SECONDS", "not a number")
	t.Setenv("BUDGET_GENERATE", "soon")

	cfg := Load()
	assert.Equal(t, 3600, cfg.Cache.TTLSeconds)
	assert.Equal(t, 20*time.Second, cfg.Budgets.Generate)
}
