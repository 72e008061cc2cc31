package handler

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/dustin/go-humanize"
	"github.com/labstack/echo/v4"

	"embed-proxy-go/internal/model"
	"embed-proxy-go/internal/policy"
	"embed-proxy-go/internal/service"
)

const msgFetchFailed = "Failed to fetch target URL"

// ProxyHandler serves the /proxy endpoint.
type ProxyHandler struct {
	service *service.ProxyService
	logger  *slog.Logger
}

// NewProxyHandler creates a ProxyHandler.
func NewProxyHandler(svc *service.ProxyService, logger *slog.Logger) *ProxyHandler {
	return &ProxyHandler{
		service: svc,
		logger:  logger.With("component", "proxy_handler"),
	}
}

// Preflight answers CORS preflight requests. The query string is ignored.
func (h *ProxyHandler) Preflight(c echo.Context) error {
	header := c.Response().Header()
	header.Set("Access-Control-Allow-Origin", service.AllowOrigin)
	header.Set("Access-Control-Allow-Methods", service.AllowMethods)
	header.Set("Access-Control-Allow-Headers", service.AllowHeaders)
	header.Set("Access-Control-Max-Age", "86400")
	return c.NoContent(http.StatusOK)
}

// Handle fetches the target named by the "url" query parameter and streams
// it back with embedding restrictions removed.
func (h *ProxyHandler) Handle(c echo.Context) error {
	req := c.Request()

	pr := &model.ProxyRequest{
		Ctx:    req.Context(),
		Method: req.Method,
		Target: c.QueryParam("url"),
		Header: req.Header,
	}

	resp, err := h.service.Forward(pr)
	if err != nil {
		return h.mapError(c, err)
	}
	defer func() { _ = resp.Body.Close() }()

	// Go always writes the canonical reason phrase; resp.Status is kept for logs.
	out := c.Response().Header()
	for key, vals := range resp.Header {
		out[key] = vals
	}
	c.Response().WriteHeader(resp.StatusCode)
	if req.Method == http.MethodHead {
		return nil
	}

	// Stream the upstream body directly to the client. If io.Copy fails
	// mid-stream (e.g. client disconnect, network error), the HTTP status
	// code has already been sent, so the client receives a truncated
	// response with the original status. We log the error for observability.
	n, err := io.Copy(c.Response(), resp.Body)
	if err != nil {
		h.logger.Error("streaming response body",
			"err", err,
			"upstream_status", resp.Status,
			"bytes", n,
		)
		return nil
	}

	h.logger.Debug("proxied response",
		"upstream_status", resp.Status,
		"size", humanize.IBytes(uint64(n)),
	)
	return nil
}

func (h *ProxyHandler) mapError(c echo.Context, err error) error {
	var rej *policy.RejectError
	if errors.As(err, &rej) {
		return plainText(c, rej.Status, rej.Message)
	}

	if errors.Is(err, context.Canceled) {
		h.logger.Debug("client disconnected before upstream responded",
			"path", c.Request().URL.Path,
		)
	} else {
		h.logger.Error("proxy error",
			"err", err,
			"path", c.Request().URL.Path,
		)
	}

	return plainText(c, http.StatusInternalServerError, msgFetchFailed)
}

// plainText writes a text/plain error body that any origin may read.
func plainText(c echo.Context, status int, msg string) error {
	c.Response().Header().Set("Access-Control-Allow-Origin", service.AllowOrigin)
	return c.Blob(status, "text/plain", []byte(msg))
}
