package service

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
)

// embeddingRestrictionHeaders stop browsers from rendering a page in a
// cross-origin frame.
var embeddingRestrictionHeaders = []string{
	"X-Frame-Options",
	"Content-Security-Policy",
	"X-Content-Security-Policy",
	"X-Webkit-Csp",
}

// hopByHopHeaders are headers that should not be forwarded by proxies.
var hopByHopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"TE",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// CORS values shared by proxied responses and preflight replies.
const (
	AllowOrigin  = "*"
	AllowMethods = "GET, POST, OPTIONS"
	AllowHeaders = "*"
)

// TransformHeaders returns a copy of the upstream header set made safe to
// frame from any origin. in is never modified.
//
// Embedding restrictions and hop-by-hop headers are dropped, CORS headers
// are set unconditionally, and Cache-Control defaults to
// "public, max-age=<maxAge>" when the upstream sent none.
func TransformHeaders(in http.Header, maxAge int) http.Header {
	out := in.Clone()
	if out == nil {
		out = make(http.Header)
	}

	for key := range out {
		if isDropped(key) {
			delete(out, key)
		}
	}

	out.Set("Access-Control-Allow-Origin", AllowOrigin)
	out.Set("Access-Control-Allow-Methods", AllowMethods)
	out.Set("Access-Control-Allow-Headers", AllowHeaders)

	if !hasHeader(out, "Cache-Control") {
		out.Set("Cache-Control", "public, max-age="+strconv.Itoa(maxAge))
	}

	return out
}

// UpstreamHeaders builds the fixed request header set sent to target.
// Nothing from the inbound request is forwarded.
func UpstreamHeaders(target *url.URL, userAgent string) http.Header {
	h := make(http.Header, 4)
	h.Set("User-Agent", userAgent)
	h.Set("Referer", origin(target))
	h.Set("Accept", "*/*")
	h.Set("Accept-Language", "en-US,en;q=0.9")
	return h
}

// isDropped matches key case-insensitively so non-canonical maps are handled too.
func isDropped(key string) bool {
	for _, h := range embeddingRestrictionHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(key, h) {
			return true
		}
	}
	return false
}

func hasHeader(h http.Header, name string) bool {
	for key, vals := range h {
		if strings.EqualFold(key, name) && len(vals) > 0 {
			return true
		}
	}
	return false
}

// origin returns scheme://host[:port] of u.
func origin(u *url.URL) string {
	return u.Scheme + "://" + strings.ToLower(u.Host)
}
