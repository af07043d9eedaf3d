// Package llm holds the completion, planning and retrieval clients the
// orchestration core consumes through the domain interfaces.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// OllamaClient is a CompletionService over a local Ollama server
type OllamaClient struct {
	baseURL    string
	model      string
	httpClient *http.Client
	options    OllamaOptions
}

// OllamaOptions configures generation defaults
type OllamaOptions struct {
	Temperature float64       `json:"temperature"`
	MaxTokens   int           `json:"max_tokens"`
	TopP        float64       `json:"top_p"`
	Timeout     time.Duration `json:"timeout"`
}

type ollamaRequest struct {
	Model    string                 `json:"model"`
	Messages []ollamaMessage        `json:"messages"`
	Options  map[string]interface{} `json:"options,omitempty"`
	Stream   bool                   `json:"stream"`
}

type ollamaMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type ollamaResponse struct {
	Message         ollamaMessage `json:"message"`
	Done            bool          `json:"done"`
	PromptEvalCount int           `json:"prompt_eval_count"`
	EvalCount       int           `json:"eval_count"`
}

// NewOllamaClient creates a client against baseURL for the given model
func NewOllamaClient(baseURL, model string, options *OllamaOptions) *OllamaClient {
	if options == nil {
		options = &OllamaOptions{
			Temperature: 0.7,
			MaxTokens:   2048,
			TopP:        0.9,
			Timeout:     2 * time.Minute,
		}
	}

	return &OllamaClient{
		baseURL: baseURL,
		model:   model,
		httpClient: &http.Client{
			Timeout: options.Timeout,
		},
		options: *options,
	}
}

var _ domain.CompletionService = (*OllamaClient)(nil)

// Complete sends a single-turn chat request and returns the response text.
// Network and server errors are classified transient; a malformed request is
// fatal.
func (c *OllamaClient) Complete(ctx context.Context, prompt string) (string, error) {
	req := ollamaRequest{
		Model: c.model,
		Messages: []ollamaMessage{
			{Role: "user", Content: prompt},
		},
		Options: map[string]interface{}{
			"temperature": c.options.Temperature,
			"num_predict": c.options.MaxTokens,
			"top_p":       c.options.TopP,
		},
		Stream: false,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return "", domain.Fatal(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/api/chat", c.baseURL),
		bytes.NewReader(body),
	)
	if err != nil {
		return "", domain.Fatal(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", domain.Transient(fmt.Errorf("request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("ollama returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return "", domain.Transient(err)
		}
		return "", domain.Fatal(err)
	}

	var chatResp ollamaResponse
	if err := json.NewDecoder(resp.Body).Decode(&chatResp); err != nil {
		return "", domain.Transient(fmt.Errorf("failed to decode response: %w", err))
	}
	return chatResp.Message.Content, nil
}

// CheckHealth verifies the Ollama service is reachable
func (c *OllamaClient) CheckHealth(ctx context.Context) error {
	httpReq, err := http.NewRequestWithContext(
		ctx,
		"GET",
		fmt.Sprintf("%s/api/tags", c.baseURL),
		nil,
	)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("ollama service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
