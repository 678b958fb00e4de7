package cohere

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climateqa/climateqa/internal/models"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	return NewClient(Config{APIKey: "test-key", BaseURL: server.URL}, nil)
}

func TestGenerateAnswerChatHistoryRoles(t *testing.T) {
	var captured map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/chat", r.URL.Path)
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(`{"text":"Sea levels are rising."}`))
	})

	history := []models.Message{
		{Role: models.RoleUser, Content: "hi"},
		{Role: models.RoleAssistant, Content: "hello"},
	}
	docs := []models.Document{{Title: "NOAA Report", Content: "Tide gauge data shows acceleration."}}

	answer, err := client.GenerateAnswer(context.Background(), "Is sea level rising?", docs, "preamble text", history)
	require.NoError(t, err)
	assert.Equal(t, "Sea levels are rising.", answer)

	turns, ok := captured["chat_history"].([]any)
	require.True(t, ok)
	require.Len(t, turns, 2)
	first := turns[0].(map[string]any)
	second := turns[1].(map[string]any)
	assert.Equal(t, "USER", first["role"])
	assert.Equal(t, "CHATBOT", second["role"])
	assert.Equal(t, "preamble text", captured["preamble"])

	passedDocs, ok := captured["documents"].([]any)
	require.True(t, ok)
	require.Len(t, passedDocs, 1)
	assert.Equal(t, "NOAA Report", passedDocs[0].(map[string]any)["title"])
}

func TestGenerateAnswerEmptyTextIsError(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"text":"  "}`))
	})

	_, err := client.GenerateAnswer(context.Background(), "q", nil, "", nil)
	assert.Error(t, err)
}

func TestEmbed(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/embed", r.URL.Path)
		var req map[string]any
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "search_query", req["input_type"])
		w.Write([]byte(`{"embeddings":[[0.1,0.2,0.3]]}`))
	})

	vec, err := client.Embed(context.Background(), "climate query")
	require.NoError(t, err)
	assert.Equal(t, []float32{0.1, 0.2, 0.3}, vec)
}

func TestEmbedNoEmbeddingReturned(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"embeddings":[]}`))
	})

	_, err := client.Embed(context.Background(), "q")
	assert.Error(t, err)
}

func TestRerankMapsIndicesAndScores(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/rerank", r.URL.Path)
		w.Write([]byte(`{"results":[
			{"index":2,"relevance_score":0.95},
			{"index":0,"relevance_score":0.41},
			{"index":7,"relevance_score":0.99}
		]}`))
	})

	candidates := []models.Document{
		{Title: "A", Content: "alpha"},
		{Title: "B", Content: "beta"},
		{Title: "C", Content: "gamma"},
	}

	out, err := client.Rerank(context.Background(), "query", candidates, 3)
	require.NoError(t, err)
	require.Len(t, out, 2, "out-of-range index is dropped")
	assert.Equal(t, "C", out[0].Title)
	assert.InDelta(t, 0.95, out[0].Score, 1e-9)
	assert.Equal(t, "A", out[1].Title)
}

func TestRerankEmptyCandidates(t *testing.T) {
	called := false
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		called = true
	})

	out, err := client.Rerank(context.Background(), "query", nil, 5)
	require.NoError(t, err)
	assert.Empty(t, out)
	assert.False(t, called, "no HTTP call for an empty candidate set")
}

func TestUpstreamErrorIncludesStatus(t *testing.T) {
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"message":"invalid key"}`, http.StatusUnauthorized)
	})

	_, err := client.Embed(context.Background(), "q")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "401")
}
