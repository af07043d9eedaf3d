package llm

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evidencechain/orchestrator/pkg/domain"
)

func TestOllamaComplete(t *testing.T) {
	var gotReq ollamaRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/chat", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		json.NewEncoder(w).Encode(ollamaResponse{
			Message: ollamaMessage{Role: "assistant", Content: "the answer"},
			Done:    true,
		})
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "llama3.2", nil)
	got, err := client.Complete(context.Background(), "a prompt")
	require.NoError(t, err)
	assert.Equal(t, "the answer", got)

	assert.Equal(t, "llama3.2", gotReq.Model)
	assert.False(t, gotReq.Stream)
	require.Len(t, gotReq.Messages, 1)
	assert.Equal(t, "a prompt", gotReq.Messages[0].Content)
}

func TestOllamaCompleteErrorClassification(t *testing.T) {
	tests := []struct {
		name          string
		status        int
		wantTransient bool
	}{
		{"server error", http.StatusInternalServerError, true},
		{"rate limited", http.StatusTooManyRequests, true},
		{"bad request", http.StatusBadRequest, false},
		{"not found", http.StatusNotFound, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "nope", tt.status)
			}))
			defer server.Close()

			client := NewOllamaClient(server.URL, "llama3.2", nil)
			_, err := client.Complete(context.Background(), "a prompt")
			require.Error(t, err)
			assert.Equal(t, tt.wantTransient, domain.IsTransient(err))
		})
	}
}

func TestOllamaCompleteConnectionRefusedIsTransient(t *testing.T) {
	client := NewOllamaClient("http://127.0.0.1:1", "llama3.2", nil)

	_, err := client.Complete(context.Background(), "a prompt")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}

func TestOllamaCheckHealth(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/tags", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	client := NewOllamaClient(server.URL, "llama3.2", nil)
	assert.NoError(t, client.CheckHealth(context.Background()))

	down := NewOllamaClient("http://127.0.0.1:1", "llama3.2", nil)
	assert.Error(t, down.CheckHealth(context.Background()))
}

func TestRetrievalSearch(t *testing.T) {
	relevance := 0.8
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "grid storage", req.Query)
		assert.Equal(t, 5, req.Limit)

		json.NewEncoder(w).Encode(searchResponse{
			Results: []domain.RetrievedDocument{
				{Content: "a hit", SourceURL: "https://example.com", RelevanceScore: &relevance},
			},
		})
	}))
	defer server.Close()

	client := NewRetrievalClient(server.URL, 5, 0)
	docs, err := client.Search(context.Background(), "grid storage")
	require.NoError(t, err)
	require.Len(t, docs, 1)
	assert.Equal(t, "a hit", docs[0].Content)
	require.NotNil(t, docs[0].RelevanceScore)
	assert.InDelta(t, 0.8, *docs[0].RelevanceScore, 1e-9)
}

func TestRetrievalSearchServerErrorIsTransient(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client := NewRetrievalClient(server.URL, 5, 0)
	_, err := client.Search(context.Background(), "query")
	require.Error(t, err)
	assert.True(t, domain.IsTransient(err))
}
