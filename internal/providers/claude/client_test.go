package claude

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

func newTestServer(t *testing.T, handler http.HandlerFunc) (*Client, *httptest.Server) {
	t.Helper()
	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)
	client := NewClient(Config{APIKey: "test-key", BaseURL: server.URL}, nil)
	return client, server
}

func textResponse(text string) string {
	resp := map[string]any{
		"content": []map[string]string{{"type": "text", "text": text}},
	}
	data, _ := json.Marshal(resp)
	return string(data)
}

func TestGenerateAnswer(t *testing.T) {
	var captured messagesRequest
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/v1/messages", r.URL.Path)
		assert.Equal(t, "test-key", r.Header.Get("x-api-key"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&captured))
		w.Write([]byte(textResponse("Greenhouse gases trap heat.")))
	})

	docs := []models.Document{{Title: "IPCC Overview", Content: "CO2 concentrations are rising."}}
	history := []models.Message{{Role: models.RoleUser, Content: "earlier question"}}

	answer, err := client.GenerateAnswer(context.Background(), "What causes climate change?", docs, "system prompt", history)
	require.NoError(t, err)
	assert.Equal(t, "Greenhouse gases trap heat.", answer)

	assert.Equal(t, "system prompt", captured.System)
	require.Len(t, captured.Messages, 2)
	assert.Equal(t, "earlier question", captured.Messages[0].Content)
	assert.Contains(t, captured.Messages[1].Content, "IPCC Overview")
	assert.Contains(t, captured.Messages[1].Content, "What causes climate change?")
}

func TestGenerateStructured(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		var req messagesRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, 0.0, req.Temperature)
		w.Write([]byte(textResponse("Language: en\nClassification: on-topic")))
	})

	out, err := client.GenerateStructured(context.Background(), "classify this", "gatekeeper")
	require.NoError(t, err)
	assert.Contains(t, out, "Classification: on-topic")
}

func TestGenerateAnswerUpstreamError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"overloaded"}`, http.StatusTooManyRequests)
	})

	_, err := client.GenerateAnswer(context.Background(), "q", nil, "", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "429")
}

func TestTranslate(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(textResponse("¿Qué causa el cambio climático?")))
	})

	out := client.Translate(context.Background(), "What causes climate change?", "English", "Spanish")
	assert.Equal(t, "¿Qué causa el cambio climático?", out)
}

func TestTranslateFailureReturnsInput(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	})

	out := client.Translate(context.Background(), "original text", "English", "Spanish")
	assert.Equal(t, "original text", out, "translator must return the input unchanged on failure")
}

func TestTranslateSameLanguageSkipsCall(t *testing.T) {
	calls := 0
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.Write([]byte(textResponse("x")))
	})

	out := client.Translate(context.Background(), "text", "English", "English")
	assert.Equal(t, "text", out)
	assert.Zero(t, calls)
}

func TestEmptyCompletionIsError(t *testing.T) {
	client, _ := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"content":[]}`))
	})

	_, err := client.GenerateAnswer(context.Background(), "q", nil, "", nil)
	assert.Error(t, err)
}
