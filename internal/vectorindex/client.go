package vectorindex

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"
)

// HTTPClient talks to a vector index over its REST API.
type HTTPClient struct {
	baseURL string
	apiKey  string
	client  *http.Client
}

func NewHTTPClient(baseURL, apiKey string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		apiKey:  apiKey,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Embedding(ctx context.Context, sensorID string) ([]float32, error) {
	u := fmt.Sprintf("%s/v1/embeddings/%s", c.baseURL, url.PathEscape(sensorID))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusOK:
	case http.StatusNotFound:
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingNotFound, sensorID)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrIndexUnavailable, resp.StatusCode)
	}

	var body struct {
		Vector []float32 `json:"vector"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding embedding: %w", err)
	}
	if len(body.Vector) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrEmbeddingNotFound, sensorID)
	}
	return body.Vector, nil
}

func (c *HTTPClient) Search(ctx context.Context, embedding []float32, k int) ([]Neighbor, error) {
	payload, err := json.Marshal(map[string]any{"vector": embedding, "k": k})
	if err != nil {
		return nil, fmt.Errorf("encoding search: %w", err)
	}
	u := fmt.Sprintf("%s/v1/search", c.baseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	c.setHeaders(req)

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrIndexUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: status %d", ErrIndexUnavailable, resp.StatusCode)
	}

	var body struct {
		Neighbors []Neighbor `json:"neighbors"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return nil, fmt.Errorf("decoding search results: %w", err)
	}
	return body.Neighbors, nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
}

var _ Index = (*HTTPClient)(nil)
