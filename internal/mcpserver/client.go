package mcpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

// Config holds the configuration for connecting to the Kestrel API.
type Config struct {
	APIURL string // Base URL, e.g. "http://localhost:8080"
	APIKey string // Optional API key
}

// KestrelClient is a pure HTTP client for the Kestrel risk API.
type KestrelClient struct {
	cfg        Config
	httpClient *http.Client
}

// NewKestrelClient creates a new client for the Kestrel API.
func NewKestrelClient(cfg Config) *KestrelClient {
	return &KestrelClient{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
	}
}

// apiError represents an error response from the API.
type apiError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// doRequest makes an HTTP request to the API and returns the response body.
func (c *KestrelClient) doRequest(ctx context.Context, method, path string, query url.Values, body any) (json.RawMessage, error) {
	u, err := url.Parse(c.cfg.APIURL + path)
	if err != nil {
		return nil, fmt.Errorf("invalid URL: %w", err)
	}
	if query != nil {
		u.RawQuery = query.Encode()
	}

	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reqBody)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode >= 400 {
		var apiErr apiError
		if json.Unmarshal(respBody, &apiErr) == nil && apiErr.Message != "" {
			return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, apiErr.Message)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
	}

	return json.RawMessage(respBody), nil
}

// OpenInvestigation creates a new investigation for a user.
func (c *KestrelClient) OpenInvestigation(ctx context.Context, userID string) (json.RawMessage, error) {
	body := map[string]string{
		"user_id": userID,
	}
	return c.doRequest(ctx, http.MethodPost, "/v1/investigations", nil, body)
}

// GetInvestigation fetches an investigation and its verdict, if one exists.
func (c *KestrelClient) GetInvestigation(ctx context.Context, investigationID string) (json.RawMessage, error) {
	path := "/v1/investigations/" + investigationID
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}

// AssessDomains runs the requested domain analyzers for an investigation.
// An empty domain list runs all four.
func (c *KestrelClient) AssessDomains(ctx context.Context, investigationID string, domains []string, domainContext map[string]any) (json.RawMessage, error) {
	path := "/v1/investigations/" + investigationID + "/assess"
	body := map[string]any{}
	if len(domains) > 0 {
		body["domains"] = domains
	}
	if len(domainContext) > 0 {
		body["context"] = domainContext
	}
	return c.doRequest(ctx, http.MethodPost, path, nil, body)
}

// AggregateRisk produces the overall verdict from completed domain assessments.
func (c *KestrelClient) AggregateRisk(ctx context.Context, investigationID string) (json.RawMessage, error) {
	path := "/v1/investigations/" + investigationID + "/aggregate"
	return c.doRequest(ctx, http.MethodPost, path, nil, nil)
}

// ListAssessments returns the stored per-domain assessments for an investigation.
func (c *KestrelClient) ListAssessments(ctx context.Context, investigationID string) (json.RawMessage, error) {
	path := "/v1/investigations/" + investigationID + "/assessments"
	return c.doRequest(ctx, http.MethodGet, path, nil, nil)
}
