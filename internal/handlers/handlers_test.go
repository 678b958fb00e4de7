package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/climateqa/climateqa/internal/models"
	"github.com/climateqa/climateqa/internal/pipeline"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubProcessor struct {
	result   models.Result
	stageErr *pipeline.StageError
	received models.QueryRequest
	emit     []models.ProgressEvent
}

func (s *stubProcessor) Process(_ context.Context, req models.QueryRequest, progress chan<- models.ProgressEvent) (models.Result, *pipeline.StageError) {
	s.received = req
	for _, ev := range s.emit {
		if progress != nil {
			progress <- ev
		}
	}
	return s.result, s.stageErr
}

func successResult() models.Result {
	return models.Result{
		Success:           true,
		Response:          "Greenhouse gases trap heat.",
		Citations:         []models.Citation{{Title: "IPCC Overview", URL: "https://ipcc.ch"}},
		FaithfulnessScore: 0.85,
		LanguageCode:      "en",
		ModelUsed:         "test-model",
		ModelFamily:       models.FamilyClaude,
	}
}

func newRouter(p Processor) *gin.Engine {
	r := gin.New()
	h := NewQueryHandler(p, nil)
	h.RegisterRoutes(r.Group("/v1"))
	return r
}

func postQuery(t *testing.T, r *gin.Engine, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/query", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestQueryNonStreaming(t *testing.T) {
	p := &stubProcessor{result: successResult()}
	w := postQuery(t, newRouter(p), `{"query":"What causes climate change?","language":"en"}`)

	require.Equal(t, http.StatusOK, w.Code)
	var resp struct {
		models.Result
		RequestID string `json:"request_id"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.True(t, resp.Success)
	assert.NotEmpty(t, resp.RequestID)
	assert.Len(t, resp.Citations, 1)
	assert.Equal(t, "en", p.received.Language)
}

func TestQueryParsesLegacyHistoryShapes(t *testing.T) {
	p := &stubProcessor{result: successResult()}
	body := `{"query":"q","language":"en","conversation_history":[
		"a plain string turn",
		{"role":"assistant","content":"a dict turn"},
		{"user":"a role-as-key turn"}
	]}`
	w := postQuery(t, newRouter(p), body)

	require.Equal(t, http.StatusOK, w.Code)
	require.Len(t, p.received.History, 3)
	assert.Equal(t, models.RoleUser, p.received.History[0].Role)
	assert.Equal(t, models.RoleAssistant, p.received.History[1].Role)
	assert.Equal(t, "a role-as-key turn", p.received.History[2].Content)
}

func TestQueryMissingBodyIsBadRequest(t *testing.T) {
	w := postQuery(t, newRouter(&stubProcessor{}), `{"language":"en"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestQueryStatusMapping(t *testing.T) {
	tests := []struct {
		kind   pipeline.ErrorKind
		status int
	}{
		{pipeline.KindInputInvalid, http.StatusBadRequest},
		{pipeline.KindLanguageMismatch, http.StatusOK},
		{pipeline.KindRefusal, http.StatusOK},
		{pipeline.KindUpstreamTimeout, http.StatusGatewayTimeout},
		{pipeline.KindUpstreamFailure, http.StatusBadGateway},
		{pipeline.KindCancelled, 499},
		{pipeline.KindInternal, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind), func(t *testing.T) {
			p := &stubProcessor{
				result:   models.Result{Success: false, Response: "nope", Citations: []models.Citation{}},
				stageErr: &pipeline.StageError{Kind: tt.kind, Stage: "Routing", Message: "nope"},
			}
			w := postQuery(t, newRouter(p), `{"query":"q","language":"en"}`)
			assert.Equal(t, tt.status, w.Code)
		})
	}
}

func streamEvents(t *testing.T, body string) []map[string]any {
	t.Helper()
	var events []map[string]any
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		var ev map[string]any
		require.NoError(t, json.Unmarshal([]byte(strings.TrimPrefix(line, "data: ")), &ev))
		events = append(events, ev)
	}
	return events
}

func TestQueryStreaming(t *testing.T) {
	p := &stubProcessor{
		result: successResult(),
		emit: []models.ProgressEvent{
			{Stage: "Routing", Pct: 0.02},
			{Stage: "Generating", Pct: 0.70},
			{Stage: "Complete", Pct: 1.0},
		},
	}
	w := postQuery(t, newRouter(p), `{"query":"q","language":"en","stream":true}`)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Content-Type"), "text/event-stream")

	events := streamEvents(t, w.Body.String())
	require.NotEmpty(t, events)

	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	assert.Contains(t, types, "progress")
	assert.Contains(t, types, "language_detected")
	assert.Contains(t, types, "token")
	assert.Contains(t, types, "citation")
	assert.Equal(t, "end", types[len(types)-1], "end is always last")

	completes := 0
	for _, ev := range events {
		if ev["type"] == "complete" {
			completes++
			assert.Equal(t, "Greenhouse gases trap heat.", ev["final_response"])
			assert.InDelta(t, 0.85, ev["faithfulness_score"].(float64), 1e-9)
			assert.Equal(t, "en", ev["language_used"])
		}
		assert.NotEmpty(t, ev["request_id"])
	}
	assert.Equal(t, 1, completes, "exactly one complete event")
}

func TestStreamingLanguageDetectedReflectsUtterance(t *testing.T) {
	p := &stubProcessor{
		result: successResult(),
		emit:   []models.ProgressEvent{{Stage: "Routing", Pct: 0.02}},
	}
	body := `{"query":"what is the greenhouse effect and how does it work","language":"ru","stream":true}`
	w := postQuery(t, newRouter(p), body)

	var detected map[string]any
	for _, ev := range streamEvents(t, w.Body.String()) {
		if ev["type"] == "language_detected" {
			detected = ev
		}
	}
	require.NotNil(t, detected)
	assert.Equal(t, "en", detected["language"], "the event carries what detection saw, not the declared code")
	assert.Equal(t, "command", detected["family"], "the family follows the declared language")
}

func TestStreamingLanguageDetectedFallsBackToDeclared(t *testing.T) {
	p := &stubProcessor{
		result: successResult(),
		emit:   []models.ProgressEvent{{Stage: "Routing", Pct: 0.02}},
	}
	w := postQuery(t, newRouter(p), `{"query":"zzz","language":"es","stream":true}`)

	var detected map[string]any
	for _, ev := range streamEvents(t, w.Body.String()) {
		if ev["type"] == "language_detected" {
			detected = ev
		}
	}
	require.NotNil(t, detected)
	assert.Equal(t, "es", detected["language"])
}

func TestQueryStreamingError(t *testing.T) {
	p := &stubProcessor{
		result:   models.Result{Success: false, Response: "The service could not complete your request. Please try again.", Citations: []models.Citation{}},
		stageErr: &pipeline.StageError{Kind: pipeline.KindUpstreamFailure, Stage: "Generating", Message: "boom"},
	}
	w := postQuery(t, newRouter(p), `{"query":"q","language":"en","stream":true}`)

	events := streamEvents(t, w.Body.String())
	require.NotEmpty(t, events)

	var types []string
	for _, ev := range events {
		types = append(types, ev["type"].(string))
	}
	assert.Contains(t, types, "error")
	assert.NotContains(t, types, "complete", "error and complete are mutually exclusive")
	assert.Equal(t, "end", types[len(types)-1])
}

func TestHealthHealthy(t *testing.T) {
	r := gin.New()
	h := NewHealthHandler(map[string]CheckFunc{
		"redis":  func(context.Context) error { return nil },
		"qdrant": func(context.Context) error { return nil },
	}, nil)
	h.RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	require.Equal(t, http.StatusOK, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "healthy", resp["status"])
}

func TestHealthDegraded(t *testing.T) {
	r := gin.New()
	h := NewHealthHandler(map[string]CheckFunc{
		"redis":  func(context.Context) error { return nil },
		"qdrant": func(context.Context) error { return errors.New("unreachable") },
	}, nil)
	h.RegisterRoutes(r.Group("/v1"))

	w := httptest.NewRecorder()
	r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/health", nil))

	require.Equal(t, http.StatusServiceUnavailable, w.Code)
	var resp map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, "degraded", resp["status"])
	components := resp["components"].(map[string]any)
	assert.Equal(t, "unhealthy", components["qdrant"])
}
