package llm

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

// OpenAIClient is a CompletionService over the OpenAI chat API, or any
// OpenAI-compatible endpoint when a base URL is set.
type OpenAIClient struct {
	client *openai.Client
	model  string
}

// NewOpenAIClient creates a client for the given model. baseURL may be empty
// for api.openai.com.
func NewOpenAIClient(apiKey, baseURL, model string) *OpenAIClient {
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = baseURL
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	return &OpenAIClient{
		client: openai.NewClientWithConfig(cfg),
		model:  model,
	}
}

var _ domain.CompletionService = (*OpenAIClient)(nil)

// Complete sends a single-turn chat completion. Rate limits and server
// errors are classified transient; auth and request errors are fatal.
func (c *OpenAIClient) Complete(ctx context.Context, prompt string) (string, error) {
	resp, err := c.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: c.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: prompt},
		},
	})
	if err != nil {
		return "", classifyOpenAIError(err)
	}
	if len(resp.Choices) == 0 {
		return "", domain.Transient(fmt.Errorf("empty completion response"))
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

func classifyOpenAIError(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.HTTPStatusCode {
		case http.StatusTooManyRequests, http.StatusInternalServerError,
			http.StatusBadGateway, http.StatusServiceUnavailable, http.StatusGatewayTimeout:
			return domain.Transient(err)
		default:
			return domain.Fatal(err)
		}
	}
	// Transport-level failure.
	return domain.Transient(err)
}
