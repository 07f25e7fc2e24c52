// Package llmgen is the provider-agnostic LLM client used by the draft
// engine (C5) to turn a prompt into a candidate package. It generalizes
// the teacher's llm.Client: the same capability/fallback-chain retry
// loop, but Complete returns raw producer text for draft.go to parse as
// JSON instead of a chat answer.
package llmgen

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"time"

	"github.com/c360studio/changeops/internal/errs"
	"github.com/google/uuid"
)

// maxResponseSize bounds how much of a producer's HTTP response body we
// read, so a misbehaving endpoint cannot exhaust memory.
const maxResponseSize = 10 * 1024 * 1024

// Request is a single completion request routed by capability rather
// than by a hardcoded model name.
type Request struct {
	Capability  Capability
	Messages    []Message
	Temperature *float64
	MaxTokens   int
}

// Client sends completion requests through a capability's fallback
// chain, retrying transient failures with jittered exponential backoff
// and falling through to the next endpoint on persistent failure.
type Client struct {
	registry    *Registry
	httpClient  *http.Client
	retryConfig RetryConfig
	logger      *slog.Logger
}

// ClientOption configures a Client.
type ClientOption func(*Client)

func WithHTTPClient(c *http.Client) ClientOption {
	return func(cl *Client) { cl.httpClient = c }
}

func WithRetryConfig(cfg RetryConfig) ClientOption {
	return func(cl *Client) { cl.retryConfig = cfg }
}

func WithLogger(logger *slog.Logger) ClientOption {
	return func(cl *Client) { cl.logger = logger }
}

// NewClient constructs a Client bound to registry.
func NewClient(registry *Registry, opts ...ClientOption) *Client {
	c := &Client{
		registry:    registry,
		retryConfig: DefaultRetryConfig(),
		httpClient:  &http.Client{Timeout: 180 * time.Second},
		logger:      slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Complete resolves req.Capability to a fallback chain and tries each
// endpoint in order until one succeeds or the chain is exhausted.
// Exhaustion surfaces as a CodeProducerError, matching C5's contract
// that upstream LLM failure is reported after retries, never silently
// swallowed.
func (c *Client) Complete(ctx context.Context, req Request) (*Response, error) {
	if len(req.Messages) == 0 {
		return nil, errs.New(errs.CodeProducerError, "at least one message is required")
	}

	chain := c.registry.GetAvailableFallbackChain(req.Capability)
	if len(chain) == 0 {
		return nil, errs.Newf(errs.CodeProducerError, "no endpoints configured for capability %s", req.Capability)
	}

	var lastErr error
	for _, name := range chain {
		ep, ok := c.registry.GetEndpoint(name)
		if !ok {
			continue
		}

		resp, err := c.tryEndpointWithRetry(ctx, name, ep, req)
		if err == nil {
			resp.RequestID = uuid.New().String()
			return resp, nil
		}

		lastErr = err
		c.logger.Warn("producer endpoint failed, trying fallback",
			"endpoint", name, "provider", ep.Provider, "error", err)

		if errs.IsFatal(err) {
			break
		}
	}

	return nil, errs.Wrap(errs.CodeProducerError, fmt.Sprintf("all endpoints failed for capability %s", req.Capability), lastErr)
}

func (c *Client) tryEndpointWithRetry(ctx context.Context, name string, ep EndpointConfig, req Request) (*Response, error) {
	var lastErr error

	for attempt := 1; attempt <= c.retryConfig.MaxAttempts; attempt++ {
		resp, err := c.doRequest(ctx, ep, req)
		if err == nil {
			c.registry.MarkEndpointSuccess(name)
			return resp, nil
		}

		lastErr = err

		if errs.IsFatal(err) {
			return nil, err
		}

		if attempt < c.retryConfig.MaxAttempts {
			backoff := c.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(backoff):
			}
		}
	}

	c.registry.MarkEndpointFailure(name)
	return nil, lastErr
}

// calculateBackoff computes exponential backoff with +/-25% jitter to
// avoid synchronized retries across concurrent drafts.
func (c *Client) calculateBackoff(attempt int) time.Duration {
	multiplier := 1.0
	for i := 1; i < attempt; i++ {
		multiplier *= c.retryConfig.BackoffMultiplier
	}
	backoff := time.Duration(float64(c.retryConfig.BackoffBase) * multiplier)
	if backoff > c.retryConfig.MaxBackoff {
		backoff = c.retryConfig.MaxBackoff
	}
	jitter := float64(backoff) * 0.25 * (rand.Float64()*2 - 1)
	return backoff + time.Duration(jitter)
}

func (c *Client) doRequest(ctx context.Context, ep EndpointConfig, req Request) (*Response, error) {
	producer := GetProducer(ep.Provider)
	if producer == nil {
		return nil, errs.NewFatalError(fmt.Errorf("unknown producer: %s", ep.Provider))
	}

	url := producer.BuildURL(ep.URL)
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = ep.MaxTokens
	}

	body, err := producer.BuildRequestBody(ep.Model, req.Messages, req.Temperature, maxTokens)
	if err != nil {
		return nil, errs.NewFatalError(fmt.Errorf("build request body: %w", err))
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, errs.NewFatalError(fmt.Errorf("create http request: %w", err))
	}
	httpReq.Header.Set("Content-Type", "application/json")
	producer.SetHeaders(httpReq)

	httpResp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, errs.NewTransientError(fmt.Errorf("http request failed: %w", err))
	}
	defer httpResp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseSize))
	if err != nil {
		return nil, errs.NewTransientError(fmt.Errorf("read response body: %w", err))
	}

	if httpResp.StatusCode != http.StatusOK {
		return nil, classifyHTTPError(httpResp.StatusCode, respBody)
	}

	return producer.ParseResponse(respBody, ep.Model)
}

// classifyHTTPError turns a provider's HTTP status into a
// transient/fatal error classification: rate limiting and upstream 5xx
// are worth retrying, auth and bad-request errors are not.
func classifyHTTPError(statusCode int, body []byte) error {
	bodyStr := string(body)
	if len(bodyStr) > 200 {
		bodyStr = bodyStr[:200] + "..."
	}
	err := fmt.Errorf("producer API error (status %d): %s", statusCode, bodyStr)

	switch {
	case statusCode == http.StatusTooManyRequests:
		return errs.NewTransientError(err)
	case statusCode == http.StatusServiceUnavailable,
		statusCode == http.StatusBadGateway,
		statusCode == http.StatusGatewayTimeout,
		statusCode >= 500:
		return errs.NewTransientError(err)
	case statusCode == http.StatusUnauthorized, statusCode == http.StatusForbidden, statusCode == http.StatusBadRequest:
		return errs.NewFatalError(err)
	default:
		return errs.NewFatalError(err)
	}
}
