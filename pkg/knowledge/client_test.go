package knowledge

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestClient_Search(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/knowledge-bases/kb-1/search", r.URL.Path)

		var req searchRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "refund policy", req.Query)
		assert.Equal(t, 2, req.Limit)

		_, _ = w.Write([]byte(`{"results": [
			{"id": "a", "content": "Refunds within 30 days", "score": 0.91},
			{"id": "b", "content": "Contact billing", "score": 0.72},
			{"id": "c", "content": "Unrelated", "score": 0.1}
		]}`))
	}))
	defer server.Close()

	results, err := NewClient(testLogger(), server.URL+"/api", "").Search(context.Background(), "kb-1", "refund policy", 2)
	require.NoError(t, err)

	require.Len(t, results, 2)
	assert.Equal(t, "Refunds within 30 days", results[0].Content)
	assert.InDelta(t, 0.91, results[0].Score, 0.0001)
}

func TestClient_SearchErrors(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewClient(testLogger(), server.URL, "key")

	_, err := client.Search(context.Background(), "kb-1", "q", 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "500")

	_, err = client.Search(context.Background(), "", "q", 0)
	require.Error(t, err)
}
