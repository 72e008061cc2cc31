package service

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"embed-proxy-go/internal/client"
	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/model"
	"embed-proxy-go/internal/policy"
)

// newTestService returns a ProxyService whose allow-list admits the loopback
// address httptest servers listen on.
func newTestService(t *testing.T, srv *httptest.Server, m *metrics.Metrics) *ProxyService {
	t.Helper()
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{
		Proxy:    config.ProxyConfig{DefaultMaxAgeSeconds: 300},
		Upstream: config.UpstreamConfig{UserAgent: config.DefaultUserAgent},
	}

	hc := http.DefaultClient
	if srv != nil {
		hc = srv.Client()
	}
	c := client.NewUpstreamClientForTest(hc, logger, m)
	allow := policy.NewAllowlist(append([]string{"127.0.0.1"}, policy.DefaultHosts...))
	return NewProxyService(c, allow, cfg, logger, m)
}

func newRequest(target string) *model.ProxyRequest {
	return &model.ProxyRequest{
		Ctx:    context.Background(),
		Method: http.MethodGet,
		Target: target,
		Header: http.Header{},
	}
}

func TestForward_HappyPath(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			t.Errorf("method = %q, want GET", r.Method)
		}
		if got := r.Header.Get("User-Agent"); got != config.DefaultUserAgent {
			t.Errorf("User-Agent = %q, want desktop browser agent", got)
		}
		if got := r.Header.Get("Referer"); got != "https://"+r.Host {
			t.Errorf("Referer = %q, want %q", got, "https://"+r.Host)
		}
		if r.URL.Query().Get("level") != "2" {
			t.Errorf("query level = %q, want %q", r.URL.Query().Get("level"), "2")
		}
		w.Header().Set("Content-Type", "text/html")
		w.Header().Set("X-Frame-Options", "DENY")
		w.Header().Set("Content-Security-Policy", "frame-ancestors 'none'")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("<html>game</html>"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream, nil)

	resp, err := svc.Forward(newRequest(upstream.URL + "/game?level=2"))
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusOK)
	}
	if resp.Header.Get("X-Frame-Options") != "" {
		t.Errorf("X-Frame-Options should be stripped, got %q", resp.Header.Get("X-Frame-Options"))
	}
	if resp.Header.Get("Content-Security-Policy") != "" {
		t.Errorf("Content-Security-Policy should be stripped, got %q", resp.Header.Get("Content-Security-Policy"))
	}
	if resp.Header.Get("Cache-Control") != "public, max-age=300" {
		t.Errorf("Cache-Control = %q, want %q", resp.Header.Get("Cache-Control"), "public, max-age=300")
	}
	if resp.Header.Get("Content-Type") != "text/html" {
		t.Errorf("Content-Type = %q, want %q", resp.Header.Get("Content-Type"), "text/html")
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("ReadAll: %v", err)
	}
	if string(body) != "<html>game</html>" {
		t.Errorf("body = %q, want %q", string(body), "<html>game</html>")
	}
}

func TestForward_InboundHeadersNotForwarded(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		for _, h := range []string{"Cookie", "Authorization", "X-Custom"} {
			if r.Header.Get(h) != "" {
				t.Errorf("inbound header %s forwarded upstream", h)
			}
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream, nil)
	pr := newRequest(upstream.URL + "/")
	pr.Header = http.Header{
		"Cookie":        {"session=abc"},
		"Authorization": {"Bearer secret"},
		"X-Custom":      {"1"},
	}

	resp, err := svc.Forward(pr)
	if err != nil {
		t.Fatalf("Forward() error = %v", err)
	}
	_ = resp.Body.Close()
}

func TestForward_UpstreamNon2xxPassesThrough(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("X-Frame-Options", "SAMEORIGIN")
		w.Header().Set("Cache-Control", "no-store")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte("gone"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream, nil)

	resp, err := svc.Forward(newRequest(upstream.URL + "/missing"))
	if err != nil {
		t.Fatalf("Forward() error = %v; non-2xx upstream must not be an error", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("StatusCode = %d, want %d", resp.StatusCode, http.StatusNotFound)
	}
	if resp.Status != "404 Not Found" {
		t.Errorf("Status = %q, want %q", resp.Status, "404 Not Found")
	}
	if resp.Header.Get("X-Frame-Options") != "" {
		t.Error("X-Frame-Options should be stripped on non-2xx responses too")
	}
	if resp.Header.Get("Cache-Control") != "no-store" {
		t.Errorf("Cache-Control = %q, want upstream value %q", resp.Header.Get("Cache-Control"), "no-store")
	}
}

func TestForward_PolicyRejections(t *testing.T) {
	tests := []struct {
		name       string
		target     string
		wantReason policy.Reason
	}{
		{"missing", "", policy.ReasonMissingParam},
		{"invalid", "not a url", policy.ReasonInvalidURL},
		{"http", "http://play.famobi.com/game", policy.ReasonBadScheme},
		{"domain", "https://evil.example.com/x", policy.ReasonDomainNotWhitelisted},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.New()
			svc := newTestService(t, nil, m)

			_, err := svc.Forward(newRequest(tt.target))
			if err == nil {
				t.Fatal("Forward() expected error, got nil")
			}

			var rej *policy.RejectError
			if !errors.As(err, &rej) {
				t.Fatalf("Forward() error = %v, want *policy.RejectError", err)
			}
			if rej.Reason != tt.wantReason {
				t.Errorf("Reason = %q, want %q", rej.Reason, tt.wantReason)
			}
			if errors.Is(err, ErrUpstreamFetch) {
				t.Error("policy rejection must not be reported as an upstream failure")
			}

			families, err := m.Registry.Gather()
			if err != nil {
				t.Fatalf("Gather() error = %v", err)
			}
			found := false
			for _, f := range families {
				if f.GetName() != "embed_proxy_policy_rejections_total" {
					continue
				}
				for _, metric := range f.GetMetric() {
					for _, lp := range metric.GetLabel() {
						if lp.GetName() == "reason" && lp.GetValue() == string(tt.wantReason) {
							found = true
						}
					}
				}
			}
			if !found {
				t.Errorf("expected embed_proxy_policy_rejections_total{reason=%q}", tt.wantReason)
			}
		})
	}
}

func TestForward_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {}))
	target := upstream.URL + "/game"
	hc := upstream.Client()
	upstream.Close() // nothing listens any more

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	cfg := &config.Config{Proxy: config.ProxyConfig{DefaultMaxAgeSeconds: 300}}
	svc := NewProxyService(
		client.NewUpstreamClientForTest(hc, logger, nil),
		policy.NewAllowlist([]string{"127.0.0.1"}),
		cfg, logger, nil,
	)

	_, err := svc.Forward(newRequest(target))
	if err == nil {
		t.Fatal("Forward() expected error, got nil")
	}
	if !errors.Is(err, ErrUpstreamFetch) {
		t.Errorf("Forward() error = %v, want ErrUpstreamFetch", err)
	}
}

func TestForward_CanceledContext(t *testing.T) {
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	pr := newRequest(upstream.URL + "/slow")
	pr.Ctx = ctx

	_, err := svc.Forward(pr)
	if !errors.Is(err, ErrUpstreamFetch) {
		t.Fatalf("Forward() error = %v, want ErrUpstreamFetch", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Forward() error = %v, want it to wrap context.Canceled", err)
	}
}

func TestForward_IndependentFetches(t *testing.T) {
	hits := 0
	upstream := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		_, _ = w.Write([]byte("ok"))
	}))
	defer upstream.Close()

	svc := newTestService(t, upstream, nil)

	for range 2 {
		resp, err := svc.Forward(newRequest(upstream.URL + "/same"))
		if err != nil {
			t.Fatalf("Forward() error = %v", err)
		}
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}

	if hits != 2 {
		t.Errorf("upstream hits = %d, want 2", hits)
	}
}
