// Package platform holds thin clients for the dashboard's data surfaces
// (alerts, compliance). Every call routes through the token coordinator's
// guard, so an expired access token is refreshed once and the call replayed
// without the caller noticing.
package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"

	apperrors "github.com/argussec/go-console/internal/errors"
	"github.com/argussec/go-console/token"
)

const defaultTimeout = 15 * time.Second

// Client issues authenticated platform API calls.
type Client struct {
	baseURL string
	http    *http.Client
	guard   *token.Coordinator
	log     zerolog.Logger
}

// Option configures the Client.
type Option func(*Client)

// WithHTTPClient overrides the underlying HTTP client (primarily for tests).
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) { c.http = hc }
}

// WithLogger sets the client logger.
func WithLogger(log zerolog.Logger) Option {
	return func(c *Client) { c.log = log }
}

// New creates a platform client rooted at baseURL, guarded by coordinator.
func New(baseURL string, guard *token.Coordinator, options ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		guard:   guard,
		log:     zerolog.Nop(),
	}
	for _, opt := range options {
		opt(c)
	}
	return c
}

// getJSON performs a guarded GET and decodes the response into out.
func (c *Client) getJSON(ctx context.Context, path string, query url.Values, out any) error {
	return c.guard.Do(ctx, func(ctx context.Context, accessToken string) error {
		u := c.baseURL + path
		if len(query) > 0 {
			u += "?" + query.Encode()
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		return c.send(req, accessToken, out)
	})
}

// postJSON performs a guarded POST. The request body is re-encoded on every
// attempt so a replay after refresh sends a complete body.
func (c *Client) postJSON(ctx context.Context, path string, body, out any) error {
	return c.guard.Do(ctx, func(ctx context.Context, accessToken string) error {
		raw, err := json.Marshal(body)
		if err != nil {
			return errors.Wrap(err, "marshal request")
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(raw))
		if err != nil {
			return errors.Wrap(err, "new request")
		}
		req.Header.Set("Content-Type", "application/json")
		return c.send(req, accessToken, out)
	})
}

func (c *Client) send(req *http.Request, accessToken string, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.http.Do(req)
	if err != nil {
		return errors.Wrapf(apperrors.ErrNetwork, "%s %s: %v", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusUnauthorized:
		return apperrors.ErrTokenExpired
	case resp.StatusCode >= 400:
		return errors.Errorf("platform api: %s %s: status %d", req.Method, req.URL.Path, resp.StatusCode)
	}

	if out == nil {
		_, _ = io.Copy(io.Discard, resp.Body)
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.Wrap(err, "decode response")
	}
	return nil
}
