package vectorindex

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/kiranshivaraju/fleetsignal/internal/config"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_Providers(t *testing.T) {
	idx, err := New(config.VectorIndexConfig{Provider: "none"})
	require.NoError(t, err)
	assert.Nil(t, idx)

	idx, err = New(config.VectorIndexConfig{Provider: "http", BaseURL: "http://x", Timeout: time.Second})
	require.NoError(t, err)
	assert.IsType(t, &HTTPClient{}, idx)

	_, err = New(config.VectorIndexConfig{Provider: "faiss"})
	assert.Error(t, err)
}

func TestHTTPClient_EmbeddingAndSearch(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/v1/embeddings/s1":
			json.NewEncoder(w).Encode(map[string]any{"vector": []float32{1, 0}})
		case r.Method == http.MethodGet:
			w.WriteHeader(http.StatusNotFound)
		case r.URL.Path == "/v1/search":
			var body struct {
				K int `json:"k"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			assert.Equal(t, 2, body.K)
			json.NewEncoder(w).Encode(map[string]any{"neighbors": []Neighbor{{SensorID: "s2", Distance: 0.1}}})
		}
	}))
	defer ts.Close()

	c := NewHTTPClient(ts.URL, "", time.Second)
	vec, err := c.Embedding(context.Background(), "s1")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 0}, vec)

	_, err = c.Embedding(context.Background(), "unknown")
	assert.ErrorIs(t, err, ErrEmbeddingNotFound)

	hits, err := c.Search(context.Background(), vec, 2)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "s2", hits[0].SensorID)
}

func TestHTTPClient_ServerError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	_, err := NewHTTPClient(ts.URL, "", time.Second).Search(context.Background(), []float32{1}, 3)
	assert.ErrorIs(t, err, ErrIndexUnavailable)
}

func TestMemoryIndex_SearchOrdersByDistance(t *testing.T) {
	m := NewMemoryIndex()
	m.Put("same", []float32{1, 0})
	m.Put("near", []float32{1, 0.2})
	m.Put("far", []float32{0, 1})

	hits, err := m.Search(context.Background(), []float32{1, 0}, 2)
	require.NoError(t, err)
	require.Len(t, hits, 2)
	assert.Equal(t, "same", hits[0].SensorID)
	assert.Equal(t, "near", hits[1].SensorID)

	_, err = m.Embedding(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrEmbeddingNotFound)
}
