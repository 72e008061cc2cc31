// Package handler contains the Echo handlers and route wiring.
package handler

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/policy"
)

// Version is a string type for dependency injection of the build version.
type Version string

// HealthHandler serves health, status and allow-list endpoints.
type HealthHandler struct {
	cfg     *config.Config
	allow   *policy.Allowlist
	version Version
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(cfg *config.Config, allow *policy.Allowlist, v Version) *HealthHandler {
	return &HealthHandler{cfg: cfg, allow: allow, version: v}
}

// Healthz returns a simple OK response for liveness probes.
func (h *HealthHandler) Healthz(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{
		"status": "ok",
	})
}

type statusResponse struct {
	Status                 string `json:"status"`
	Version                string `json:"version"`
	AllowedHosts           int    `json:"allowed_hosts"`
	UpstreamTimeoutSeconds int    `json:"upstream_timeout_seconds"`
}

// Status returns proxy status information.
func (h *HealthHandler) Status(c echo.Context) error {
	return c.JSON(http.StatusOK, statusResponse{
		Status:                 "ok",
		Version:                string(h.version),
		AllowedHosts:           h.allow.Len(),
		UpstreamTimeoutSeconds: h.cfg.Upstream.TimeoutSeconds,
	})
}

// Allowlist publishes the enforced host list so the portal can decide which
// embeds to route through /proxy.
func (h *HealthHandler) Allowlist(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string][]string{
		"hosts": h.allow.Hosts(),
	})
}
