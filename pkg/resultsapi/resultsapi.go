// Package resultsapi provides a client for the external results service that
// archives finalized category rankings.
package resultsapi

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/abrezinsky/cragboard/internal/logger"
	"github.com/abrezinsky/cragboard/internal/models"
)

// SaveResponse is the acknowledgment returned by save_ranking
type SaveResponse struct {
	Status string   `json:"status"`
	Saved  []string `json:"saved"`
}

// Client defines the interface for results service operations
type Client interface {
	// SaveRanking delivers a finalized category to the results service
	SaveRanking(ctx context.Context, payload models.ResultsPayload) (*SaveResponse, error)
	// BaseURL returns the configured base URL
	BaseURL() string
	// SetBaseURL updates the base URL
	SetBaseURL(url string)
}

// HTTPClient is a real HTTP client for the results service
type HTTPClient struct {
	baseURL    string
	httpClient *http.Client
	log        logger.Logger
}

// NewHTTPClient creates a new results service HTTP client
func NewHTTPClient(baseURL string, log logger.Logger) *HTTPClient {
	return NewHTTPClientWithHTTPClient(baseURL, &http.Client{Timeout: 30 * time.Second}, log)
}

// NewHTTPClientWithHTTPClient creates a new client with a custom http.Client
func NewHTTPClientWithHTTPClient(baseURL string, httpClient *http.Client, log logger.Logger) *HTTPClient {
	return &HTTPClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		log:        log,
	}
}

// BaseURL returns the configured base URL
func (c *HTTPClient) BaseURL() string {
	return c.baseURL
}

// SetBaseURL updates the base URL
func (c *HTTPClient) SetBaseURL(url string) {
	c.baseURL = strings.TrimRight(url, "/")
}

// SaveRanking posts the payload to {baseURL}/api/save_ranking
func (c *HTTPClient) SaveRanking(ctx context.Context, payload models.ResultsPayload) (*SaveResponse, error) {
	var resp SaveResponse
	if err := c.doRequest(ctx, "/api/save_ranking", payload, &resp); err != nil {
		return nil, err
	}
	if resp.Status != "" && resp.Status != "ok" {
		return nil, fmt.Errorf("results service error: status %q", resp.Status)
	}
	return &resp, nil
}

// doRequest executes a JSON POST and decodes the JSON response
func (c *HTTPClient) doRequest(ctx context.Context, path string, body, response interface{}) error {
	if c.baseURL == "" {
		return fmt.Errorf("results service URL is not configured")
	}

	raw, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	apiURL := c.baseURL + path
	c.log.Debug("Results request", "method", "POST", "url", apiURL, "bytes", len(raw))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, apiURL, bytes.NewReader(raw))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to connect to results service: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response: %w", err)
	}

	c.log.Debug("Results response", "status", resp.StatusCode, "body", string(respBody))

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("results service returned status %d: %s", resp.StatusCode, string(respBody))
	}

	if err := json.Unmarshal(respBody, response); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}
