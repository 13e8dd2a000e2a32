package signals

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/kestrelsec/kestrel/internal/assessment"
)

// HTTPSource fetches signals from an upstream feed over HTTP. The feed is
// expected to expose GET /signals returning a JSON array of flat records.
type HTTPSource struct {
	baseURL string
	client  *http.Client
}

// NewHTTPSource creates a signal source against the given feed base URL.
func NewHTTPSource(baseURL string, timeout time.Duration) *HTTPSource {
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &HTTPSource{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

func (s *HTTPSource) Fetch(ctx context.Context, userID string, domain assessment.Domain, tr TimeRange) ([]assessment.Signal, error) {
	q := url.Values{}
	q.Set("user_id", userID)
	q.Set("domain", string(domain))
	if !tr.From.IsZero() {
		q.Set("from", tr.From.UTC().Format(time.RFC3339))
	}
	if !tr.To.IsZero() {
		q.Set("to", tr.To.UTC().Format(time.RFC3339))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.baseURL+"/signals?"+q.Encode(), nil)
	if err != nil {
		return nil, fmt.Errorf("build signals request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch signals: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode == http.StatusNotFound {
		// Feed treats unknown users as no data, and so do we.
		return nil, nil
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("signals feed returned status %d", resp.StatusCode)
	}

	var out []assessment.Signal
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode signals response: %w", err)
	}
	return out, nil
}
