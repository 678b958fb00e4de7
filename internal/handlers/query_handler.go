// Package handlers exposes the question-answering pipeline over HTTP.
package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/language"
	"github.com/climateqa/climateqa/internal/models"
	"github.com/climateqa/climateqa/internal/pipeline"
)

// Processor runs one query through the pipeline.
type Processor interface {
	Process(ctx context.Context, req models.QueryRequest, progress chan<- models.ProgressEvent) (models.Result, *pipeline.StageError)
}

// QueryHandler serves /v1/query in both JSON and SSE modes.
type QueryHandler struct {
	processor Processor
	logger    *logrus.Logger
}

// NewQueryHandler creates the handler.
func NewQueryHandler(processor Processor, logger *logrus.Logger) *QueryHandler {
	if logger == nil {
		logger = logrus.New()
	}
	return &QueryHandler{processor: processor, logger: logger}
}

// RegisterRoutes attaches the query routes to a router group.
func (h *QueryHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.POST("/query", h.Query)
}

// queryRequest is the wire shape. History items arrive in several legacy
// shapes and are collapsed by models.ParseHistory.
type queryRequest struct {
	Query     string `json:"query" binding:"required"`
	Language  string `json:"language"`
	History   []any  `json:"conversation_history"`
	Stream    bool   `json:"stream"`
	SkipCache bool   `json:"skip_cache"`
}

// queryResponse is the non-streaming response: the pipeline result plus a
// server-assigned request id.
type queryResponse struct {
	models.Result
	RequestID string `json:"request_id"`
}

// Query handles POST /v1/query.
func (h *QueryHandler) Query(c *gin.Context) {
	var req queryRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request body: " + err.Error()})
		return
	}

	requestID := uuid.New().String()
	pipelineReq := models.QueryRequest{
		Query:     req.Query,
		Language:  req.Language,
		History:   models.ParseHistory(req.History),
		Stream:    req.Stream,
		SkipCache: req.SkipCache,
	}

	logger := h.logger.WithFields(logrus.Fields{
		"request_id": requestID,
		"language":   req.Language,
		"stream":     req.Stream,
	})
	logger.Info("Query received")

	if req.Stream {
		h.stream(c, requestID, pipelineReq)
		return
	}

	result, stageErr := h.processor.Process(c.Request.Context(), pipelineReq, nil)
	c.JSON(statusFor(stageErr), queryResponse{Result: result, RequestID: requestID})
}

// statusFor maps an error kind to an HTTP status. Mismatches and refusals
// are answer-shaped results, not transport errors.
func statusFor(stageErr *pipeline.StageError) int {
	if stageErr == nil {
		return http.StatusOK
	}
	switch stageErr.Kind {
	case pipeline.KindInputInvalid:
		return http.StatusBadRequest
	case pipeline.KindLanguageMismatch, pipeline.KindRefusal:
		return http.StatusOK
	case pipeline.KindUpstreamTimeout:
		return http.StatusGatewayTimeout
	case pipeline.KindUpstreamFailure:
		return http.StatusBadGateway
	case pipeline.KindCancelled:
		return 499 // client closed request
	default:
		return http.StatusInternalServerError
	}
}

// stream runs the pipeline in a goroutine and relays progress over SSE,
// followed by the terminal events.
func (h *QueryHandler) stream(c *gin.Context, requestID string, req models.QueryRequest) {
	flusher, ok := c.Writer.(http.Flusher)
	if !ok {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming not supported"})
		return
	}

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")

	progress := make(chan models.ProgressEvent, 32)
	type outcome struct {
		result   models.Result
		stageErr *pipeline.StageError
	}
	done := make(chan outcome, 1)

	go func() {
		result, stageErr := h.processor.Process(c.Request.Context(), req, progress)
		close(progress)
		done <- outcome{result, stageErr}
	}()

	send := func(event any) {
		data, err := json.Marshal(event)
		if err != nil {
			h.logger.WithError(err).Error("Failed to encode stream event")
			return
		}
		fmt.Fprintf(c.Writer, "data: %s\n\n", data)
		flusher.Flush()
	}

	// The event reports what detection saw in the utterance, falling back to
	// the declared code on ambiguity. The family is always the declared
	// language's: that is what picks the serving backend.
	declared := language.Normalize(req.Language)
	detected := language.Detect(req.Query)
	if detected == language.Unknown {
		detected = declared
	}
	announcedLanguage := false
	for ev := range progress {
		send(gin.H{"type": "progress", "stage": ev.Stage, "pct": ev.Pct, "request_id": requestID})
		if !announcedLanguage {
			announcedLanguage = true
			send(gin.H{
				"type":       "language_detected",
				"language":   detected,
				"family":     language.FamilyFor(declared),
				"request_id": requestID,
			})
		}
	}

	out := <-done
	if out.stageErr != nil {
		send(gin.H{"type": "error", "error": out.result.Response, "request_id": requestID})
		send(gin.H{"type": "end", "request_id": requestID})
		return
	}

	// Backends do not stream tokens; the full answer goes out as one token.
	send(gin.H{
		"type":             "token",
		"content":          out.result.Response,
		"partial_response": out.result.Response,
		"request_id":       requestID,
	})
	for _, citation := range out.result.Citations {
		send(gin.H{"type": "citation", "citation": citation, "request_id": requestID})
	}
	send(gin.H{
		"type":               "complete",
		"final_response":     out.result.Response,
		"citations":          out.result.Citations,
		"faithfulness_score": out.result.FaithfulnessScore,
		"model_used":         out.result.ModelUsed,
		"language_used":      out.result.LanguageCode,
		"request_id":         requestID,
	})
	send(gin.H{"type": "end", "request_id": requestID})
}
