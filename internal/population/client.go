// Package population hands airports that still need populating to the
// population service, one scheduler per source.
package population

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/johndauphine/airport-sync/internal/model"
)

// Populator populates a batch of airports for one source.
type Populator interface {
	Populate(ctx context.Context, source model.Source, idents []string) error
}

// Request is the body POSTed to the population service.
type Request struct {
	Source   string   `json:"source"`
	Airports []string `json:"airports"`
}

// HTTPClient calls the population service over HTTP. Any 2xx response marks
// the batch handled.
type HTTPClient struct {
	url        string
	httpClient *http.Client
}

// NewHTTPClient creates a client for the service at url.
func NewHTTPClient(url string, timeout time.Duration) *HTTPClient {
	return &HTTPClient{
		url:        url,
		httpClient: &http.Client{Timeout: timeout},
	}
}

// Populate sends one batch.
func (c *HTTPClient) Populate(ctx context.Context, source model.Source, idents []string) error {
	payload, err := json.Marshal(Request{Source: string(source), Airports: idents})
	if err != nil {
		return fmt.Errorf("marshaling request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("calling population service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("population service returned status %d: %s", resp.StatusCode, bytes.TrimSpace(body))
	}
	return nil
}
