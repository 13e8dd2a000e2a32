// Package model wraps the language-model invocation boundary. It is the only
// network-bound step in the assessment pipeline: every call is bounded by a
// timeout, guarded by a per-agent circuit breaker, and surfaces failures as a
// small closed set of typed error kinds instead of free-text messages.
package model

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kestrelsec/kestrel/internal/circuitbreaker"
	"github.com/kestrelsec/kestrel/internal/retry"
)

var (
	modelCallsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: "kestrel",
		Subsystem: "model",
		Name:      "calls_total",
		Help:      "Model invocations by agent and outcome.",
	}, []string{"agent", "outcome"})

	modelCallDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "kestrel",
		Subsystem: "model",
		Name:      "call_duration_seconds",
		Help:      "Model invocation latency in seconds.",
		Buckets:   []float64{0.25, 0.5, 1, 2, 4, 8, 16},
	}, []string{"agent"})
)

func init() {
	prometheus.MustRegister(modelCallsTotal, modelCallDuration)
}

// Metadata accompanies every invocation for correlation and audit.
type Metadata struct {
	AgentName     string
	CorrelationID string
	UserContext   map[string]string
}

// Invoker is the interface both the assessor and the aggregator consume.
// Implementations return the raw response text plus a provider trace ID, and
// fail with *Error so callers can branch on the kind.
type Invoker interface {
	Invoke(ctx context.Context, prompt string, meta Metadata) (raw string, traceID string, err error)
}

// Config holds the model client configuration. All values are passed in
// explicitly; nothing is read from ambient globals.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Timeout     time.Duration // per-call deadline, default 8s
	MaxAttempts int           // attempts for transient failures, default 2
	Temperature float64
}

// Client invokes a chat-completion style HTTP endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	breaker    *circuitbreaker.Breaker
}

// NewClient creates a model client. The circuit breaker is keyed by agent
// name so a flapping aggregation prompt cannot trip the domain assessors.
func NewClient(cfg Config) *Client {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 8 * time.Second
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 2
	}
	return &Client{
		cfg: cfg,
		httpClient: &http.Client{
			// The per-call context carries the real deadline; this is a
			// backstop against a missing one.
			Timeout: cfg.Timeout + 2*time.Second,
		},
		breaker: circuitbreaker.New(5, 30*time.Second),
	}
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatResponse struct {
	ID      string `json:"id"`
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// Invoke sends the prompt and returns the raw completion text. Transient
// service failures are retried once with backoff; everything else fails fast
// with a classified *Error.
func (c *Client) Invoke(ctx context.Context, prompt string, meta Metadata) (string, string, error) {
	agent := meta.AgentName
	if agent == "" {
		agent = "unknown"
	}

	if !c.breaker.Allow(agent) {
		modelCallsTotal.WithLabelValues(agent, "circuit_open").Inc()
		return "", "", &Error{
			Kind: KindServiceUnavailable,
			Op:   "chat completion",
			Err:  fmt.Errorf("circuit open for agent %s", agent),
		}
	}

	timer := prometheus.NewTimer(modelCallDuration.WithLabelValues(agent))
	defer timer.ObserveDuration()

	var raw, traceID string
	err := retry.Do(ctx, c.cfg.MaxAttempts, 250*time.Millisecond, func() error {
		var callErr error
		raw, traceID, callErr = c.call(ctx, prompt, meta)
		if callErr == nil {
			return nil
		}
		// Only service-unavailable failures are worth a retry; malformed
		// requests and timeouts will not improve on a second attempt.
		if KindOf(callErr) != KindServiceUnavailable {
			return retry.Permanent(callErr)
		}
		return callErr
	})

	if err != nil {
		c.breaker.RecordFailure(agent)
		modelCallsTotal.WithLabelValues(agent, KindOf(err).String()).Inc()
		return "", "", err
	}

	c.breaker.RecordSuccess(agent)
	modelCallsTotal.WithLabelValues(agent, "success").Inc()
	return raw, traceID, nil
}

// call performs a single HTTP round trip with the configured deadline.
func (c *Client) call(ctx context.Context, prompt string, meta Metadata) (string, string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	body, err := json.Marshal(chatRequest{
		Model:       c.cfg.Model,
		Messages:    []chatMessage{{Role: "user", Content: prompt}},
		Temperature: c.cfg.Temperature,
	})
	if err != nil {
		return "", "", &Error{Kind: KindOther, Op: "chat completion", Err: err}
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/v1/chat/completions", bytes.NewReader(body))
	if err != nil {
		return "", "", &Error{Kind: KindOther, Op: "chat completion", Err: err}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	if meta.CorrelationID != "" {
		req.Header.Set("X-Correlation-ID", meta.CorrelationID)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", "", classifyTransportError(err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", "", classifyTransportError(err)
	}

	if kind, ok := classifyStatus(resp.StatusCode); ok {
		return "", "", &Error{
			Kind: kind,
			Op:   "chat completion",
			Err:  fmt.Errorf("status %d: %s", resp.StatusCode, truncate(string(respBody), 200)),
		}
	}

	var parsed chatResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return "", "", &Error{Kind: KindOther, Op: "chat completion", Err: fmt.Errorf("decode response: %w", err)}
	}
	if len(parsed.Choices) == 0 {
		return "", "", &Error{Kind: KindOther, Op: "chat completion", Err: errors.New("response contained no choices")}
	}

	return parsed.Choices[0].Message.Content, parsed.ID, nil
}

// classifyTransportError maps connection-level failures to kinds. Deadline
// expiry is a Timeout; everything else at this layer means the backend is
// unreachable.
func classifyTransportError(err error) *Error {
	kind := KindServiceUnavailable
	if errors.Is(err, context.DeadlineExceeded) {
		kind = KindTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		kind = KindTimeout
	}
	return &Error{Kind: kind, Op: "chat completion", Err: err}
}

// classifyStatus maps HTTP status codes to failure kinds. 2xx returns ok=false.
func classifyStatus(code int) (Kind, bool) {
	switch {
	case code >= 200 && code < 300:
		return KindOther, false
	case code == http.StatusBadRequest,
		code == http.StatusRequestEntityTooLarge,
		code == http.StatusUnprocessableEntity:
		return KindMalformedRequest, true
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return KindTimeout, true
	case code == http.StatusTooManyRequests, code >= 500:
		return KindServiceUnavailable, true
	default:
		return KindOther, true
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
