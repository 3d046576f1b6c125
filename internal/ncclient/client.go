// Package ncclient implements the gateway's HTTP collaborator against the
// upstream Nextcloud application: credential verification for the session
// handshake, and the reverse test-cookie probe for AuxEndpoints.
package ncclient

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
)

// Client talks to a single Nextcloud instance over HTTP(S).
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// Option configures a Client at construction time.
type Option func(*Client)

// WithAllowSelfSigned disables TLS certificate verification for the
// upstream connection. Only ever pass this from resolved configuration.
func WithAllowSelfSigned(allow bool) Option {
	return func(c *Client) {
		if !allow {
			return
		}
		transport := &http.Transport{
			TLSClientConfig: &tls.Config{InsecureSkipVerify: true}, //nolint:gosec // operator opt-in
		}
		c.httpClient.Transport = transport
	}
}

// WithTimeout overrides the client's request timeout (default 10s).
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.httpClient.Timeout = d }
}

// New constructs a Client against baseURL, appending a trailing slash if
// baseURL lacks one.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL:    normalizeBaseURL(baseURL),
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

type whoamiResponse struct {
	Valid bool `json:"valid"`
}

// VerifyCredentials checks (user, password) against the upstream app's
// session-auth endpoint. It returns (false, nil) for a clean rejection and
// a non-nil error only for a transport/protocol failure.
func (c *Client) VerifyCredentials(ctx context.Context, username, password string) (bool, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"ocs/v2.php/cloud/user", nil)
	if err != nil {
		return false, fmt.Errorf("build credential check request: %w", err)
	}
	req.SetBasicAuth(username, password)
	req.Header.Set("OCS-APIREQUEST", "true")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return false, fmt.Errorf("credential check request: %w", err)
	}
	defer resp.Body.Close()

	switch {
	case resp.StatusCode == http.StatusOK:
		return true, nil
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return false, nil
	default:
		return false, fmt.Errorf("credential check: unexpected status %d", resp.StatusCode)
	}
}

// GetTestCookie fetches the upstream app's current test-cookie value, used
// by the /reverse_cookie_test aux endpoint for round-trip liveness checks.
func (c *Client) GetTestCookie(ctx context.Context) (uint32, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"apps/notify_push/test/cookie", nil)
	if err != nil {
		return 0, fmt.Errorf("build test cookie request: %w", err)
	}
	req.Header.Set("X-Request-Id", uuid.NewString())

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("test cookie request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("test cookie: unexpected status %d", resp.StatusCode)
	}

	var body struct {
		Cookie uint32 `json:"cookie"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return 0, fmt.Errorf("decode test cookie response: %w", err)
	}
	return body.Cookie, nil
}

// normalizeBaseURL ensures baseURL ends in "/" (appending one only when it
// has none; repeated trailing slashes are left as they are), matching the
// upstream's own convention of always appending a trailing slash.
func normalizeBaseURL(baseURL string) string {
	if strings.HasSuffix(baseURL, "/") {
		return baseURL
	}
	return baseURL + "/"
}
