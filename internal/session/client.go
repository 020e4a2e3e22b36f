package session

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"portafirmas.dev/internal/credential"
)

const profilePath = "/users/me"

// Client resolves profiles against the records backend over HTTP.
type Client struct {
	baseURL string
	httpc   *http.Client
}

// ClientOption configures the client.
type ClientOption func(*Client)

// WithHTTPClient overrides the underlying HTTP client.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *Client) {
		if hc != nil {
			c.httpc = hc
		}
	}
}

// NewClient constructs a profile client for the given backend base URL.
func NewClient(baseURL string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpc:   http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// FetchProfile issues GET /users/me with the bearer credential.
func (c *Client) FetchProfile(ctx context.Context, cred credential.Credential) (*Session, error) {
	if cred.IsEmpty() {
		return nil, ErrNoCredential
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+profilePath, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+string(cred))
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, fmt.Errorf("session: fetch profile: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		// Drain so the connection can be reused.
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, fmt.Errorf("session: profile fetch returned %d", resp.StatusCode)
	}

	var sess Session
	if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&sess); err != nil {
		return nil, fmt.Errorf("session: decode profile: %w", err)
	}
	return &sess, nil
}
