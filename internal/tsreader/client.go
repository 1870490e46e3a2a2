package tsreader

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/kiranshivaraju/fleetsignal/pkg/models"
)

// HTTPClient implements Reader against the controller's series query API.
type HTTPClient struct {
	baseURL string
	token   string
	client  *http.Client
}

// NewHTTPClient creates a new time-series HTTP client.
func NewHTTPClient(baseURL, token string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		baseURL: baseURL,
		token:   token,
		client:  &http.Client{Timeout: timeout},
	}
}

func (c *HTTPClient) Query(ctx context.Context, req QueryRequest) (*QueryResult, error) {
	body, err := json.Marshal(queryRequest{
		SensorIDs:       req.SensorIDs,
		Start:           req.Start.Unix(),
		End:             req.End.Unix(),
		IntervalSeconds: req.IntervalSeconds,
	})
	if err != nil {
		return nil, fmt.Errorf("encoding query: %w", err)
	}

	u := fmt.Sprintf("%s/api/v1/series/query", c.baseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return nil, classifyError(err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return nil, fmt.Errorf("%w: status %d", ErrReaderUnavailable, resp.StatusCode)
	default:
		return nil, fmt.Errorf("%w: status %d", ErrReaderQuery, resp.StatusCode)
	}

	var qr queryResponse
	if err := json.NewDecoder(resp.Body).Decode(&qr); err != nil {
		return nil, fmt.Errorf("%w: decoding response: %v", ErrReaderQuery, err)
	}

	result := &QueryResult{Series: make(map[string][]models.Point, len(req.SensorIDs))}
	if qr.Watermark > 0 {
		result.Watermark = time.Unix(qr.Watermark, 0).UTC()
	}
	for _, id := range req.SensorIDs {
		pts := qr.Series[id]
		if pts == nil {
			pts = []models.Point{}
		}
		result.Series[id] = pts
	}
	return result, nil
}

// Ready checks that the series API is reachable.
func (c *HTTPClient) Ready(ctx context.Context) error {
	u := fmt.Sprintf("%s/ready", c.baseURL)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	c.setHeaders(httpReq)

	resp, err := c.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrReaderUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: reader not ready (status %d)", ErrReaderUnavailable, resp.StatusCode)
	}
	return nil
}

func (c *HTTPClient) setHeaders(req *http.Request) {
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
}

// classifyError maps transport-level errors to sentinel errors.
func classifyError(err error) error {
	if errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrReaderTimeout, err)
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return fmt.Errorf("%w: %v", ErrReaderTimeout, err)
	}
	return fmt.Errorf("%w: %v", ErrReaderUnavailable, err)
}

// --- wire types ---

type queryRequest struct {
	SensorIDs       []string `json:"sensor_ids"`
	Start           int64    `json:"start"`
	End             int64    `json:"end"`
	IntervalSeconds int64    `json:"interval_seconds"`
}

type queryResponse struct {
	Series    map[string][]models.Point `json:"series"`
	Watermark int64                     `json:"watermark"`
}

// Compile-time check that HTTPClient implements Reader.
var _ Reader = (*HTTPClient)(nil)
