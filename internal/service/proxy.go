// Package service implements the core proxy pipeline: validate, fetch, transform.
package service

import (
	"errors"
	"fmt"
	"log/slog"

	"embed-proxy-go/internal/client"
	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/model"
	"embed-proxy-go/internal/policy"
)

// ErrUpstreamFetch is returned when the target could not be fetched at all.
// Non-2xx upstream responses are not errors.
var ErrUpstreamFetch = errors.New("failed to fetch target URL")

// ProxyService runs a ProxyRequest through the policy, the upstream fetch
// and the header rewrite. It holds no per-request state.
type ProxyService struct {
	client    *client.UpstreamClient
	allow     *policy.Allowlist
	logger    *slog.Logger
	metrics   *metrics.Metrics
	userAgent string
	maxAge    int
}

// NewProxyService creates a ProxyService. m may be nil.
func NewProxyService(c *client.UpstreamClient, allow *policy.Allowlist, cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *ProxyService {
	return &ProxyService{
		client:    c,
		allow:     allow,
		logger:    logger.With("component", "proxy_service"),
		metrics:   m,
		userAgent: cfg.Upstream.UserAgent,
		maxAge:    cfg.Proxy.DefaultMaxAgeSeconds,
	}
}

// Forward validates pr.Target, fetches it and returns the rewritten response.
// The caller is responsible for closing the response body.
//
// A rejected target yields a *policy.RejectError; a failed fetch yields an
// error wrapping ErrUpstreamFetch.
func (s *ProxyService) Forward(pr *model.ProxyRequest) (*model.ProxiedResponse, error) {
	decision := s.allow.Evaluate(pr.Target)
	if err := decision.Err(); err != nil {
		if s.metrics != nil {
			s.metrics.PolicyRejections.WithLabelValues(string(decision.Reason)).Inc()
		}
		s.logger.Debug("target rejected",
			"reason", decision.Reason,
			"method", pr.Method,
		)
		return nil, err
	}

	target := decision.Target
	s.logger.Debug("forwarding request",
		"method", pr.Method,
		"host", target.Hostname(),
		"path", target.Path,
	)

	resp, err := s.client.Fetch(pr.Ctx, target, UpstreamHeaders(target, s.userAgent))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUpstreamFetch, err)
	}

	return &model.ProxiedResponse{
		StatusCode: resp.StatusCode,
		Status:     resp.Status,
		Header:     TransformHeaders(resp.Header, s.maxAge),
		Body:       resp.Body,
	}, nil
}
