// Package githubactions reads triggering events from the GitHub Actions runner
// environment and from webhook deliveries, and requests OIDC id-tokens.
package githubactions

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"
)

var (
	// ErrOIDCUnavailable means the job was not granted the id-token permission.
	ErrOIDCUnavailable = errors.New("GitHub Actions OIDC token endpoint is not available")
)

// Environment variables set by the runner when the job may request id-tokens.
const (
	EnvIDTokenRequestURL   = "ACTIONS_ID_TOKEN_REQUEST_URL"
	EnvIDTokenRequestToken = "ACTIONS_ID_TOKEN_REQUEST_TOKEN"
)

// Client requests OIDC id-tokens from the Actions runtime.
type Client struct {
	requestURL   string
	requestToken string
	httpClient   *http.Client
}

// NewClient creates a client for the given token endpoint.
func NewClient(requestURL, requestToken string) *Client {
	return &Client{
		requestURL:   requestURL,
		requestToken: requestToken,
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// ClientFromEnv builds a client from the runner environment.
func ClientFromEnv(getenv func(string) string) (*Client, error) {
	requestURL := getenv(EnvIDTokenRequestURL)
	requestToken := getenv(EnvIDTokenRequestToken)
	if requestURL == "" || requestToken == "" {
		return nil, fmt.Errorf("%w: %s and %s must be set (is `permissions: id-token: write` granted?)",
			ErrOIDCUnavailable, EnvIDTokenRequestURL, EnvIDTokenRequestToken)
	}
	return NewClient(requestURL, requestToken), nil
}

// OIDCAvailable reports whether the runner environment allows id-token requests.
func OIDCAvailable(getenv func(string) string) bool {
	return getenv(EnvIDTokenRequestURL) != ""
}

// RequestIDToken returns a signed id-token for audience.
func (c *Client) RequestIDToken(ctx context.Context, audience string) (string, error) {
	u, err := url.Parse(c.requestURL)
	if err != nil {
		return "", fmt.Errorf("invalid id-token request URL: %w", err)
	}
	if audience != "" {
		q := u.Query()
		q.Set("audience", audience)
		u.RawQuery = q.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return "", err
	}

	req.Header.Set("Authorization", "Bearer "+c.requestToken)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request id-token: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return "", fmt.Errorf("id-token endpoint error %d: %s", resp.StatusCode, string(body))
	}

	var token idTokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return "", fmt.Errorf("decode id-token response: %w", err)
	}
	if token.Value == "" {
		return "", errors.New("id-token endpoint returned an empty token")
	}

	return token.Value, nil
}
