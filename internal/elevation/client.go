package elevation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/avaviz/flowrender/internal/grid"
)

// DefaultBatchSize bounds the number of points per request.
const DefaultBatchSize = 1000

// Client queries a remote elevation service over HTTP.
//
// Request:  POST <baseURL>/elevation {"crs": "...", "points": [[x, y], ...]}
// Response: {"elevations": [...]} in the same order.
type Client struct {
	baseURL    string
	apiKey     string
	batchSize  int
	httpClient *http.Client
}

// NewClient creates an elevation client. batchSize <= 0 selects
// DefaultBatchSize.
func NewClient(baseURL, apiKey string, batchSize int) *Client {
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		apiKey:     apiKey,
		batchSize:  batchSize,
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

type sampleRequest struct {
	CRS    string       `json:"crs"`
	Points [][2]float64 `json:"points"`
}

type sampleResponse struct {
	Elevations []float64 `json:"elevations"`
}

// Healthcheck checks if the elevation service is reachable.
func (c *Client) Healthcheck(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthcheck", nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("healthcheck request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthcheck returned status %d", resp.StatusCode)
	}
	return nil
}

// Sample queries the service in batches and concatenates the answers.
func (c *Client) Sample(ctx context.Context, points []grid.XY, crs string) ([]float64, error) {
	out := make([]float64, 0, len(points))
	for start := 0; start < len(points); start += c.batchSize {
		end := min(start+c.batchSize, len(points))
		elev, err := c.sampleBatch(ctx, points[start:end], crs)
		if err != nil {
			return nil, fmt.Errorf("batch %d-%d: %w", start, end, err)
		}
		out = append(out, elev...)
	}
	return out, nil
}

func (c *Client) sampleBatch(ctx context.Context, points []grid.XY, crs string) ([]float64, error) {
	body := sampleRequest{CRS: crs, Points: make([][2]float64, len(points))}
	for i, p := range points {
		body.Points[i] = [2]float64{p.X, p.Y}
	}
	data, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/elevation", bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("elevation request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("elevation service returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var res sampleResponse
	if err := json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return nil, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(res.Elevations) != len(points) {
		return nil, fmt.Errorf("got %d elevations for %d points", len(res.Elevations), len(points))
	}
	return res.Elevations, nil
}
