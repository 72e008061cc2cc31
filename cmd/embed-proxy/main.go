package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/alecthomas/kong"
	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"go.uber.org/fx"
	"golang.org/x/time/rate"

	"embed-proxy-go/internal/client"
	"embed-proxy-go/internal/config"
	"embed-proxy-go/internal/handler"
	"embed-proxy-go/internal/logging"
	"embed-proxy-go/internal/metrics"
	"embed-proxy-go/internal/middleware"
	"embed-proxy-go/internal/policy"
	"embed-proxy-go/internal/server"
	"embed-proxy-go/internal/service"
)

// Set by goreleaser ldflags.
var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	var cli config.CLI
	kong.Parse(&cli,
		kong.Name("embed-proxy"),
		kong.Description("Reverse proxy that makes allow-listed game hosts embeddable in an iframe."),
		kong.Vars{"version": fmt.Sprintf("%s (%s, %s)", version, commit, date)},
	)

	fx.New(
		fx.Provide(
			func() *config.CLI { return &cli },
			func() handler.Version { return handler.Version(version) },
			config.Load,
			logging.New,
			metrics.New,
			newAllowlist,
			newEcho,
			client.NewUpstreamClient,
			service.NewProxyService,
			handler.NewProxyHandler,
			handler.NewHealthHandler,
		),
		fx.Invoke(handler.RegisterRoutes, handler.RegisterMetrics, warnConfigPermissions, startServer),
	).Run()
}

func newAllowlist(cfg *config.Config, logger *slog.Logger) *policy.Allowlist {
	allow := policy.NewAllowlist(cfg.Proxy.AllowedHosts)
	logger.Info("allow-list loaded", "hosts", allow.Hosts())
	return allow
}

func newEcho(cfg *config.Config, logger *slog.Logger, m *metrics.Metrics) *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true

	// Inbound timeouts to mitigate slow-client attacks.
	e.Server.ReadTimeout = 30 * time.Second
	// WriteTimeout is disabled (0) so large game assets can stream to slow
	// clients. Protection is provided by the upstream header timeout,
	// ReadTimeout and IdleTimeout.
	e.Server.WriteTimeout = 0
	e.Server.IdleTimeout = 120 * time.Second
	e.Server.ReadHeaderTimeout = 10 * time.Second

	e.Use(middleware.AllowAnyOrigin())
	e.Use(echomw.Recover())
	e.Use(echomw.RequestIDWithConfig(echomw.RequestIDConfig{Generator: uuid.NewString}))
	e.Use(middleware.RequestLogger(logger))
	if cfg.Metrics.Enabled {
		e.Use(middleware.MetricsMiddleware(m, cfg.Metrics.Path))
	}
	e.Use(middleware.BodyLimit(cfg.Server.BodyMaxBytes, "/proxy"))

	if cfg.Server.RateLimit.Enabled {
		store := echomw.NewRateLimiterMemoryStore(rate.Limit(cfg.Server.RateLimit.RequestsPerSecond))
		e.Use(echomw.RateLimiter(store))
		logger.Info("rate limiter enabled", "rps", cfg.Server.RateLimit.RequestsPerSecond)
	}

	return e
}

func warnConfigPermissions(cfg *config.Config, logger *slog.Logger) {
	if cfg.FilePath() == "" {
		logger.Info("no config file found; using built-in defaults")
	}
	cfg.WarnPermissions(logger)
}

func startServer(lc fx.Lifecycle, e *echo.Echo, cfg *config.Config, logger *slog.Logger) {
	lc.Append(fx.Hook{
		OnStart: func(_ context.Context) error {
			ln, err := server.Listen(&cfg.Server)
			if err != nil {
				return err
			}
			logger.Info("starting server",
				"addr", ln.Addr().String(),
				"proxy_protocol", cfg.Server.ProxyProtocol,
				"trusted_proxies", cfg.Server.TrustedProxies,
				"max_connections", cfg.Server.MaxConnections,
				"body_limit", humanize.IBytes(uint64(cfg.Server.BodyMaxBytes)),
				"upstream_timeout_seconds", cfg.Upstream.TimeoutSeconds,
			)
			go func() {
				if err := e.Server.Serve(ln); err != nil && err != http.ErrServerClosed {
					logger.Error("server error", "err", err)
				}
			}()
			return nil
		},
		OnStop: func(ctx context.Context) error {
			logger.Info("shutting down server")
			return e.Shutdown(ctx)
		},
	})
}
