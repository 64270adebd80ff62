package rerank

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jinford/doc-rag/internal/core/retrieve"
	"github.com/jinford/doc-rag/pkg/apperr"
)

func testPairs(query string, docs ...string) []retrieve.RerankPair {
	pairs := make([]retrieve.RerankPair, len(docs))
	for i, doc := range docs {
		pairs[i] = retrieve.RerankPair{Query: query, Document: doc}
	}
	return pairs
}

func TestRerankReturnsIndices(t *testing.T) {
	var gotReq rerankRequest
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotReq))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{
				{"index": 2, "relevance_score": 0.95},
				{"index": 0, "relevance_score": 0.40},
			},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "test-key")
	indices, err := client.Rerank(context.Background(), testPairs("query", "a", "b", "c"), 2)
	require.NoError(t, err)
	assert.Equal(t, []int{2, 0}, indices)

	assert.Equal(t, "query", gotReq.Query)
	assert.Equal(t, []string{"a", "b", "c"}, gotReq.Documents)
	assert.Equal(t, 2, gotReq.TopN)
}

func TestRerankEmptyPairs(t *testing.T) {
	client := NewClient("http://unused.invalid", "")
	indices, err := client.Rerank(context.Background(), nil, 5)
	require.NoError(t, err)
	assert.Nil(t, indices)
}

func TestRerankRetriesServerErrors(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 0, "relevance_score": 0.9}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithMaxRetries(5))
	indices, err := client.Rerank(context.Background(), testPairs("q", "a"), 1)
	require.NoError(t, err)
	assert.Equal(t, []int{0}, indices)
	assert.Equal(t, int64(3), calls.Load())
}

func TestRerankAuthFailureNotRetried(t *testing.T) {
	var calls atomic.Int64
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer server.Close()

	client := NewClient(server.URL, "bad-key", WithMaxRetries(5))
	_, err := client.Rerank(context.Background(), testPairs("q", "a"), 1)
	require.Error(t, err)
	assert.Equal(t, apperr.ReasonAuth, apperr.ProviderReasonOf(err))
	assert.Equal(t, int64(1), calls.Load())
}

func TestRerankRateLimitClassified(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer server.Close()

	client := NewClient(server.URL, "", WithMaxRetries(1))
	_, err := client.Rerank(context.Background(), testPairs("q", "a"), 1)
	require.Error(t, err)
	assert.True(t, apperr.IsProviderUnavailable(err))
	assert.Equal(t, apperr.ReasonRateLimit, apperr.ProviderReasonOf(err))
}

func TestRerankRejectsOutOfRangeIndex(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"results": []map[string]any{{"index": 7, "relevance_score": 0.9}},
		})
	}))
	defer server.Close()

	client := NewClient(server.URL, "")
	_, err := client.Rerank(context.Background(), testPairs("q", "a", "b"), 2)
	require.Error(t, err)
	assert.True(t, apperr.IsProviderUnavailable(err))
}
