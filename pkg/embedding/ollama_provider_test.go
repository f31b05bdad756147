package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOllamaProvider_Generate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embeddings", r.URL.Path)

		var req ollamaEmbeddingRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "nomic-embed-text", req.Model)
		assert.Equal(t, "hello", req.Prompt)

		_ = json.NewEncoder(w).Encode(ollamaEmbeddingResponse{Embedding: []float64{3, 4}})
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "", 2)
	vec, err := p.Generate(context.Background(), "hello")
	require.NoError(t, err)
	assert.InDeltaSlice(t, []float32{0.6, 0.8}, vec, 1e-6)
}

func TestOllamaProvider_Errors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model not found", http.StatusNotFound)
	}))
	defer srv.Close()

	p := NewOllamaProvider(srv.URL, "missing", 2)
	_, err := p.Generate(context.Background(), "hello")
	assert.ErrorContains(t, err, "model not found")

	_, err = p.Generate(context.Background(), "")
	assert.ErrorIs(t, err, ErrEmptyText)
}
