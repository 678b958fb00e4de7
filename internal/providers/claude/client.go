// Package claude is the primary-family backend: an Anthropic-style messages
// API client serving answer generation, structured classification calls and
// translation.
package claude

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

// Config holds client settings. BaseURL is overridable for tests and proxies.
type Config struct {
	APIKey  string
	BaseURL string
	Model   string
	Version string
	Timeout time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig() Config {
	return Config{
		BaseURL: "https://api.anthropic.com",
		Model:   "claude-3-haiku-20240307",
		Version: "2023-06-01",
		Timeout: 30 * time.Second,
	}
}

// Client is a minimal messages-API client.
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
	if config.Model == "" {
		config.Model = defaults.Model
	}
	if config.Version == "" {
		config.Version = defaults.Version
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
	return c.config.Model
}

type apiMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type messagesRequest struct {
	Model       string       `json:"model"`
	System      string       `json:"system,omitempty"`
	Messages    []apiMessage `json:"messages"`
	MaxTokens   int          `json:"max_tokens"`
	Temperature float64      `json:"temperature"`
}

type messagesResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
}

// complete issues one messages-API call and returns the concatenated text.
func (c *Client) complete(ctx context.Context, system string, messages []apiMessage, maxTokens int, temperature float64) (string, error) {
	payload := messagesRequest{
		Model:       c.config.Model,
		System:      system,
		Messages:    messages,
		MaxTokens:   maxTokens,
		Temperature: temperature,
	}

	jsonData, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/v1/messages", bytes.NewBuffer(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("anthropic-version", c.config.Version)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var response messagesResponse
	if err := json.NewDecoder(resp.Body).Decode(&response); err != nil {
		return "", fmt.Errorf("failed to decode response: %w", err)
	}

	var sb strings.Builder
	for _, block := range response.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", fmt.Errorf("empty completion")
	}
	return sb.String(), nil
}

// GenerateAnswer produces an English answer grounded in docs. History turns
// are already filtered for relevance by the generator.
func (c *Client) GenerateAnswer(ctx context.Context, query string, docs []models.Document, system string, history []models.Message) (string, error) {
	messages := make([]apiMessage, 0, len(history)+1)
	for _, turn := range history {
		messages = append(messages, apiMessage{Role: turn.Role, Content: turn.Content})
	}
	messages = append(messages, apiMessage{Role: models.RoleUser, Content: buildGroundedPrompt(query, docs)})

	return c.complete(ctx, system, messages, 1024, 0.3)
}

// GenerateStructured issues a single low-temperature prompt for adapters
// that parse line-delimited verdicts.
func (c *Client) GenerateStructured(ctx context.Context, prompt, system string) (string, error) {
	messages := []apiMessage{{Role: models.RoleUser, Content: prompt}}
	return c.complete(ctx, system, messages, 512, 0.0)
}

// Translate converts text between two named languages. On any failure the
// input is returned unchanged; translation errors never fail a request.
func (c *Client) Translate(ctx context.Context, text, sourceLangName, targetLangName string) string {
	if strings.TrimSpace(text) == "" || sourceLangName == targetLangName {
		return text
	}

	system := "You are a translator. Output only the translation, with no preamble or commentary."
	prompt := fmt.Sprintf("Translate the following text from %s to %s:\n\n%s", sourceLangName, targetLangName, text)

	translated, err := c.complete(ctx, system, []apiMessage{{Role: models.RoleUser, Content: prompt}}, 2048, 0.0)
	if err != nil {
		c.logger.WithError(err).WithFields(logrus.Fields{
			"source": sourceLangName,
			"target": targetLangName,
		}).Warn("Translation failed, returning original text")
		return text
	}
	return strings.TrimSpace(translated)
}

// buildGroundedPrompt renders the retrieved documents as numbered context
// blocks ahead of the question.
func buildGroundedPrompt(query string, docs []models.Document) string {
	if len(docs) == 0 {
		return query
	}
	var sb strings.Builder
	sb.WriteString("Answer the question using only the sources below. Cite sources by title.\n\n")
	for i, doc := range docs {
		fmt.Fprintf(&sb, "Source %d: %s\n%s\n\n", i+1, doc.Title, doc.Content)
	}
	sb.WriteString("Question: ")
	sb.WriteString(query)
	return sb.String()
}
