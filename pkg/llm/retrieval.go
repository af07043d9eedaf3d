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

// RetrievalClient is a RetrievalService over an HTTP search endpoint (web
// search gateway or RAG service). The endpoint takes {"query": ..., "limit":
// ...} and answers {"results": [{content, source_url, source_title,
// relevance_score, confidence_score}]}.
type RetrievalClient struct {
	baseURL    string
	limit      int
	httpClient *http.Client
}

// NewRetrievalClient creates a client against baseURL, returning at most
// limit documents per search.
func NewRetrievalClient(baseURL string, limit int, timeout time.Duration) *RetrievalClient {
	if limit <= 0 {
		limit = 10
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &RetrievalClient{
		baseURL:    baseURL,
		limit:      limit,
		httpClient: &http.Client{Timeout: timeout},
	}
}

var _ domain.RetrievalService = (*RetrievalClient)(nil)

type searchRequest struct {
	Query string `json:"query"`
	Limit int    `json:"limit"`
}

type searchResponse struct {
	Results []domain.RetrievedDocument `json:"results"`
}

// Search posts the query and returns the scored documents. Failures are
// transient; retrieval endpoints recover.
func (c *RetrievalClient) Search(ctx context.Context, query string) ([]domain.RetrievedDocument, error) {
	body, err := json.Marshal(searchRequest{Query: query, Limit: c.limit})
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("failed to marshal request: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(
		ctx,
		"POST",
		fmt.Sprintf("%s/search", c.baseURL),
		bytes.NewReader(body),
	)
	if err != nil {
		return nil, domain.Fatal(fmt.Errorf("failed to create request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, domain.Transient(fmt.Errorf("search request failed: %w", err))
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("search returned status %d: %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, domain.Transient(err)
		}
		return nil, domain.Fatal(err)
	}

	var result searchResponse
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, domain.Transient(fmt.Errorf("failed to decode response: %w", err))
	}
	return result.Results, nil
}
