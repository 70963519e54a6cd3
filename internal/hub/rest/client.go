// Package rest is a small client for the hub's REST API, used where the
// WebSocket protocol has no equivalent: injecting an entity state.
package rest

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

const (
	defaultTimeout = 10 * time.Second

	// maxErrorBody caps how much of a failed response is kept in StatusError.
	maxErrorBody = 4096
)

// Client calls the hub REST API with a bearer token.
//
// Thread Safety: All methods are safe for concurrent use.
type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// New creates a client for baseURL (scheme and host, e.g.
// "http://homeassistant.local:8123").
func New(baseURL, token string) (*Client, error) {
	u, err := url.Parse(baseURL)
	if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
		return nil, fmt.Errorf("%w: %q", ErrBaseURL, baseURL)
	}
	return &Client{
		baseURL:    strings.TrimRight(u.Scheme+"://"+u.Host, "/"),
		token:      token,
		httpClient: &http.Client{Timeout: defaultTimeout},
	}, nil
}

// BaseURLFromWebSocket derives the REST base URL from the WebSocket
// endpoint: ws becomes http, wss becomes https, and the path is dropped.
func BaseURLFromWebSocket(wsURL string) (string, error) {
	u, err := url.Parse(wsURL)
	if err != nil || u.Host == "" {
		return "", fmt.Errorf("%w: %q", ErrBaseURL, wsURL)
	}

	switch u.Scheme {
	case "ws":
		u.Scheme = "http"
	case "wss":
		u.Scheme = "https"
	default:
		return "", fmt.Errorf("%w: unsupported scheme %q", ErrBaseURL, u.Scheme)
	}
	return u.Scheme + "://" + u.Host, nil
}

// BaseURL returns the base URL requests are sent to.
func (c *Client) BaseURL() string { return c.baseURL }

type stateBody struct {
	State      string         `json:"state"`
	Attributes map[string]any `json:"attributes,omitempty"`
}

// SetState creates or replaces the state of entityID on the hub.
//
// Returns created=true when the hub answers 201 (the entity did not exist)
// and false for 200. Any other status is a *StatusError.
func (c *Client) SetState(ctx context.Context, entityID, state string, attrs map[string]any) (created bool, err error) {
	if entityID == "" {
		return false, ErrEntityID
	}

	body, err := json.Marshal(stateBody{State: state, Attributes: attrs})
	if err != nil {
		return false, fmt.Errorf("rest: encode state: %w", err)
	}

	endpoint := c.baseURL + "/api/states/" + url.PathEscape(entityID)
	resp, err := c.do(ctx, http.MethodPost, endpoint, body)
	if err != nil {
		return false, err
	}
	defer resp.Body.Close()

	switch resp.StatusCode {
	case http.StatusCreated:
		_, _ = io.Copy(io.Discard, resp.Body)
		return true, nil
	case http.StatusOK:
		_, _ = io.Copy(io.Discard, resp.Body)
		return false, nil
	default:
		return false, newStatusError(http.MethodPost, endpoint, resp)
	}
}

// HealthCheck verifies the REST API answers with the configured token.
func (c *Client) HealthCheck(ctx context.Context) error {
	endpoint := c.baseURL + "/api/"
	resp, err := c.do(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return newStatusError(http.MethodGet, endpoint, resp)
	}
	// Drain body to allow connection reuse
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

func (c *Client) do(ctx context.Context, method, endpoint string, body []byte) (*http.Response, error) {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, reader)
	if err != nil {
		return nil, fmt.Errorf("rest: build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("rest: %s %s: %w", method, endpoint, err)
	}
	return resp, nil
}

func newStatusError(method, endpoint string, resp *http.Response) *StatusError {
	data, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	return &StatusError{
		Method:     method,
		URL:        endpoint,
		StatusCode: resp.StatusCode,
		Body:       strings.TrimSpace(string(data)),
	}
}
