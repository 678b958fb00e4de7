// Package cohere is the secondary-family backend. One client covers the
// three Cohere APIs the pipeline consumes: chat (answer generation with
// native chat history), embed (query embeddings) and rerank.
package cohere

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/climateqa/climateqa/internal/models"
)

// Config holds client settings.
type Config struct {
	APIKey      string
	BaseURL     string
	ChatModel   string
	EmbedModel  string
	RerankModel string
	Timeout     time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL:     "https://api.cohere.ai",
		ChatModel:   "command-r",
		EmbedModel:  "embed-multilingual-v3.0",
		RerankModel: "rerank-english-v3.0",
		Timeout:     30 * time.Second,
	}
}

// Client calls the Cohere HTTP API.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     *logrus.Logger
}

// NewClient creates a client. Zero-value config fields fall back to defaults.
func NewClient(config Config, logger *logrus.Logger) *Client {
	defaults := DefaultConfig()
	if config.BaseURL == "" {
		config.BaseURL = defaults.BaseURL
	}
	if config.ChatModel == "" {
		config.ChatModel = defaults.ChatModel
	}
	if config.EmbedModel == "" {
		config.EmbedModel = defaults.EmbedModel
	}
	if config.RerankModel == "" {
		config.RerankModel = defaults.RerankModel
	}
	if config.Timeout == 0 {
		config.Timeout = defaults.Timeout
	}
	if logger == nil {
		logger = logrus.New()
	}
	return &Client{
		config:     config,
		httpClient: &http.Client{Timeout: config.Timeout},
		logger:     logger,
	}
}

// ModelName labels results produced by this backend.
func (c *Client) ModelName() string {
	return c.config.ChatModel
}

func (c *Client) doRequest(ctx context.Context, endpoint string, payload any, result any) error {
	jsonData, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(jsonData))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.config.APIKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("Cohere returned status %d: %s", resp.StatusCode, string(body))
	}

	if err := json.NewDecoder(resp.Body).Decode(result); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

type chatDocument struct {
	Title   string `json:"title"`
	Snippet string `json:"snippet"`
}

// GenerateAnswer produces an English answer grounded in docs, passing the
// conversation history in the API's native chat_history shape.
func (c *Client) GenerateAnswer(ctx context.Context, query string, docs []models.Document, system string, history []models.Message) (string, error) {
	chatHistory := make([]map[string]string, 0, len(history))
	for _, turn := range history {
		role := "USER"
		if turn.Role == models.RoleAssistant {
			role = "CHATBOT"
		}
		chatHistory = append(chatHistory, map[string]string{"role": role, "message": turn.Content})
	}

	documents := make([]chatDocument, 0, len(docs))
	for _, doc := range docs {
		documents = append(documents, chatDocument{Title: doc.Title, Snippet: doc.Content})
	}

	payload := map[string]any{
		"model":        c.config.ChatModel,
		"message":      query,
		"preamble":     system,
		"chat_history": chatHistory,
		"documents":    documents,
		"temperature":  0.3,
	}

	var response struct {
		Text string `json:"text"`
	}
	if err := c.doRequest(ctx, "/v1/chat", payload, &response); err != nil {
		return "", err
	}
	if strings.TrimSpace(response.Text) == "" {
		return "", fmt.Errorf("empty completion")
	}
	return response.Text, nil
}

// Embed returns the query embedding for retrieval.
func (c *Client) Embed(ctx context.Context, text string) ([]float32, error) {
	payload := map[string]any{
		"model":      c.config.EmbedModel,
		"texts":      []string{text},
		"input_type": "search_query",
	}

	var response struct {
		Embeddings [][]float32 `json:"embeddings"`
	}
	if err := c.doRequest(ctx, "/v1/embed", payload, &response); err != nil {
		return nil, err
	}
	if len(response.Embeddings) == 0 {
		return nil, fmt.Errorf("no embedding returned")
	}
	return response.Embeddings[0], nil
}

// Rerank reorders candidates by relevance to the query and returns the topK
// best, with rerank scores attached.
func (c *Client) Rerank(ctx context.Context, query string, candidates []models.Document, topK int) ([]models.Document, error) {
	if len(candidates) == 0 {
		return candidates, nil
	}

	documents := make([]string, len(candidates))
	for i, doc := range candidates {
		documents[i] = doc.Content
	}

	payload := map[string]any{
		"model":            c.config.RerankModel,
		"query":            query,
		"documents":        documents,
		"top_n":            topK,
		"return_documents": false,
	}

	var response struct {
		Results []struct {
			Index          int     `json:"index"`
			RelevanceScore float64 `json:"relevance_score"`
		} `json:"results"`
	}
	if err := c.doRequest(ctx, "/v1/rerank", payload, &response); err != nil {
		return nil, err
	}

	reranked := make([]models.Document, 0, len(response.Results))
	for _, r := range response.Results {
		if r.Index < 0 || r.Index >= len(candidates) {
			continue
		}
		doc := candidates[r.Index]
		doc.Score = r.RelevanceScore
		reranked = append(reranked, doc)
	}
	return reranked, nil
}
