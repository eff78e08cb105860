// Package generate is the client for the content-generation collaborator.
// Generation itself is an external service; this package only carries the
// authenticated request/response plumbing and outbound pacing.
package generate

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"github.com/contentplane/governor/errors"
)

// Request is the payload sent to the collaborator for one unit of work.
type Request struct {
	Type     string `json:"type"`  // content category: evergreen | seasonal
	Topic    string `json:"topic"` // keyword or rotation-pool topic
	Language string `json:"language"`
	RunID    string `json:"runId"`
}

// Result is the successful collaborator response.
type Result struct {
	ContentID string
}

type generateResponse struct {
	Content struct {
		ID string `json:"id"`
	} `json:"content"`
	Error string `json:"error,omitempty"`
}

// Client calls the content-generation collaborator over HTTP with a static
// bearer token (distinct from user session tokens) and a fixed timeout.
// Outbound calls are paced so a misconfigured tight tick interval cannot
// hammer the collaborator.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
}

// NewClient creates a collaborator client. maxCallsPerMinute <= 0 disables
// outbound pacing.
func NewClient(baseURL, token string, timeout time.Duration, maxCallsPerMinute int) *Client {
	var limiter *rate.Limiter
	if maxCallsPerMinute > 0 {
		limiter = rate.NewLimiter(rate.Limit(float64(maxCallsPerMinute)/60.0), 1)
	}
	return &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: timeout},
		limiter: limiter,
	}
}

// Generate requests one piece of content. Timeouts and non-2xx responses
// surface as UpstreamFailure so the scheduler records the tick as failed
// without retrying.
func (c *Client) Generate(ctx context.Context, req Request) (*Result, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, errors.Wrap(errors.ErrUpstreamFailure, "cancelled while pacing generation call")
		}
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, errors.Wrap(err, "failed to encode generation request")
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/internal/generate", bytes.NewReader(body))
	if err != nil {
		return nil, errors.Wrap(err, "failed to build generation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.token)

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamFailure, "generation call failed: %v", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamFailure, "failed to read generation response: %v", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var parsed generateResponse
		if json.Unmarshal(respBody, &parsed) == nil && parsed.Error != "" {
			return nil, errors.Wrapf(errors.ErrUpstreamFailure, "generator returned %d: %s", resp.StatusCode, parsed.Error)
		}
		return nil, errors.Wrapf(errors.ErrUpstreamFailure, "generator returned %d", resp.StatusCode)
	}

	var parsed generateResponse
	if err := json.Unmarshal(respBody, &parsed); err != nil {
		return nil, errors.Wrapf(errors.ErrUpstreamFailure, "invalid generation response: %v", err)
	}
	if parsed.Content.ID == "" {
		return nil, errors.Wrap(errors.ErrUpstreamFailure, "generation response missing content id")
	}

	return &Result{ContentID: parsed.Content.ID}, nil
}
