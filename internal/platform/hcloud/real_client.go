package hcloud

import (
	"context"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hetznercloud/hcloud-go/v2/hcloud"

	"github.com/strandtools/strand/internal/config"
	"github.com/strandtools/strand/internal/util/retry"
)

// RealClient implements InfrastructureManager against the Hetzner Cloud
// API.
type RealClient struct {
	client      *hcloud.Client
	timeouts    *config.Timeouts
	httpClient  *http.Client
	retryNotify RetryNotify
}

// RetryNotify is invoked before each backoff of a retried API
// operation, carrying the operation name, the failed attempt number
// and the error that triggered the retry.
type RetryNotify func(operation string, attempt int, err error)

// ClientOption configures a RealClient.
type ClientOption func(*RealClient)

// WithTimeouts sets custom timeouts for the client.
func WithTimeouts(t *config.Timeouts) ClientOption {
	return func(c *RealClient) {
		c.timeouts = t
	}
}

// WithHTTPClient sets a custom HTTP client for non-API requests.
func WithHTTPClient(hc *http.Client) ClientOption {
	return func(c *RealClient) {
		c.httpClient = hc
	}
}

// WithHCloudClient sets a custom hcloud client (useful for testing
// against a stub API server).
func WithHCloudClient(hc *hcloud.Client) ClientOption {
	return func(c *RealClient) {
		c.client = hc
	}
}

// WithRetryNotify registers a callback for retried API operations, so
// retry activity can feed metrics.
func WithRetryNotify(fn RetryNotify) ClientOption {
	return func(c *RealClient) {
		c.retryNotify = fn
	}
}

// notifyOption adapts the client's retry callback to one operation.
func (c *RealClient) notifyOption(operation string) retry.Option {
	return retry.Notify(func(attempt int, _ time.Duration, err error) {
		if c.retryNotify != nil {
			c.retryNotify(operation, attempt, err)
		}
	})
}

// NewRealClient creates a RealClient authenticated with the given API
// token.
func NewRealClient(token string, opts ...ClientOption) *RealClient {
	c := &RealClient{
		client:     hcloud.NewClient(hcloud.WithToken(token), hcloud.WithApplication("strand", "")),
		timeouts:   config.LoadTimeouts(),
		httpClient: http.DefaultClient,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// GetPublicIP returns the public IPv4 address of the host running this
// tool.
func (c *RealClient) GetPublicIP(ctx context.Context) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "https://ipv4.icanhazip.com", nil)
	if err != nil {
		return "", err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer func() {
		_ = resp.Body.Close()
	}()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(body)), nil
}
