package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/middleware"
)

// proxyMethods is every method the router knows except OPTIONS, which is
// answered by the preflight handler. The pipeline does not depend on the method.
var proxyMethods = []string{
	http.MethodGet,
	http.MethodHead,
	http.MethodPost,
	http.MethodPut,
	http.MethodPatch,
	http.MethodDelete,
	http.MethodConnect,
	http.MethodTrace,
	echo.PROPFIND,
	echo.REPORT,
}

// RegisterRoutes wires all route handlers onto the Echo instance.
// Operational endpoints get security headers; /proxy must stay frameable.
func RegisterRoutes(e *echo.Echo, proxy *ProxyHandler, health *HealthHandler) {
	e.Match(proxyMethods, "/proxy", proxy.Handle)
	e.OPTIONS("/proxy", proxy.Preflight)

	sec := middleware.SecurityHeaders()
	e.GET("/healthz", health.Healthz, sec)
	e.GET("/proxy/status", health.Status, sec)
	e.GET("/proxy/allowlist", health.Allowlist, sec)
}

// RegisterMetrics exposes the Prometheus registry when metrics are enabled.
func RegisterMetrics(e *echo.Echo, cfg *config.Config, m *metrics.Metrics) {
	if !cfg.Metrics.Enabled {
		return
	}
	h := promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
	e.GET(cfg.Metrics.Path, echo.WrapHandler(h), middleware.SecurityHeaders())
}
