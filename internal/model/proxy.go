// Package model defines shared types for the proxy.
package model

import (
	"context"
	"io"
	"net/http"
)

// ProxyRequest is an inbound request asking the proxy to fetch Target.
// Inbound headers are carried for logging only and never forwarded.
type ProxyRequest struct {
	Ctx    context.Context
	Method string
	Target string // raw value of the "url" query parameter
	Header http.Header
}

// UpstreamResponse is the response obtained from fetching a validated target.
type UpstreamResponse struct {
	StatusCode int
	Status     string // e.g. "404 Not Found"
	Header     http.Header
	Body       io.ReadCloser
}

// ProxiedResponse is an UpstreamResponse with its header set rewritten for
// embedding. Status and body are the upstream's, unmodified.
type ProxiedResponse struct {
	StatusCode int
	Status     string
	Header     http.Header
	Body       io.ReadCloser
}
