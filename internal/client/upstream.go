// Package client provides the upstream HTTP client for allowed game hosts.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/model"
	"embed-proxy-go/internal/policy"
)

const maxRedirects = 10

// UpstreamClient fetches targets that already passed the proxy policy.
type UpstreamClient struct {
	httpClient *http.Client
	logger     *slog.Logger
	metrics    *metrics.Metrics
}

// NewUpstreamClient creates an UpstreamClient with connection pooling and timeouts.
//
// The timeout bounds connection setup and the wait for response headers only;
// the body is streamed without a deadline so large game assets are not cut.
// Redirects are followed only while they stay inside the allow-list; otherwise
// the 3xx response itself is returned.
// The metrics parameter is optional; pass nil to disable upstream metrics recording.
func NewUpstreamClient(cfg *config.Config, allow *policy.Allowlist, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	timeout := time.Duration(cfg.Upstream.TimeoutSeconds) * time.Second

	transport := &http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          cfg.Upstream.IdleConnections,
		MaxIdleConnsPerHost:   cfg.Upstream.IdleConnections,
		IdleConnTimeout:       90 * time.Second,
		TLSHandshakeTimeout:   timeout,
		ResponseHeaderTimeout: timeout,
		ForceAttemptHTTP2:     true,
		// Relay bodies byte-for-byte, including Content-Encoding and Content-Length.
		DisableCompression: true,
		DialContext: (&net.Dialer{
			Timeout:   timeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
	}

	return NewUpstreamClientForTest(&http.Client{
		Transport:     transport,
		CheckRedirect: RedirectPolicy(allow),
	}, logger, m)
}

// NewUpstreamClientForTest wraps an existing http.Client, such as the one
// returned by httptest.Server.Client.
func NewUpstreamClientForTest(hc *http.Client, logger *slog.Logger, m *metrics.Metrics) *UpstreamClient {
	return &UpstreamClient{
		httpClient: hc,
		logger:     logger.With("component", "upstream_client"),
		metrics:    m,
	}
}

// RedirectPolicy follows redirects only while they stay on allow-listed https
// hosts. Any other redirect is handed back as the response itself, so the
// client sees the 3xx and its Location instead of an unvetted page.
func RedirectPolicy(allow *policy.Allowlist) func(*http.Request, []*http.Request) error {
	return func(req *http.Request, via []*http.Request) error {
		if len(via) >= maxRedirects {
			return errors.New("stopped after 10 redirects")
		}
		if !allow.Evaluate(req.URL.String()).Allowed {
			return http.ErrUseLastResponse
		}
		return nil
	}
}

// Fetch issues a GET for target with the given header set and returns the
// response with its body unread. The caller is responsible for closing it.
// ctx controls the lifetime of the upstream request, body included: when
// the inbound client disconnects, the upstream request is canceled too.
func (c *UpstreamClient) Fetch(ctx context.Context, target *url.URL, header http.Header) (*model.UpstreamResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target.String(), http.NoBody)
	if err != nil {
		return nil, fmt.Errorf("build upstream request: %w", err)
	}
	req.Header = header

	host := target.Hostname()
	c.logger.Debug("upstream request",
		"host", host,
		"path", target.Path,
	)

	start := time.Now()
	resp, err := c.httpClient.Do(req) //nolint:bodyclose // body ownership transfers to caller via UpstreamResponse
	duration := time.Since(start).Seconds()

	if c.metrics != nil {
		c.metrics.UpstreamDuration.WithLabelValues(host).Observe(duration)
	}

	if err != nil {
		if c.metrics != nil {
			c.metrics.UpstreamErrors.WithLabelValues(host).Inc()
		}
		return nil, fmt.Errorf("upstream request: %w", err)
	}

	if c.metrics != nil {
		c.metrics.UpstreamResponses.WithLabelValues(host, strconv.Itoa(resp.StatusCode)).Inc()
	}

	return &model.UpstreamResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     resp.Header,
		Body:       resp.Body,
	}, nil
}
