// Package config handles TOML configuration loading and validation.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"os"
	"strings"

	toml "github.com/pelletier/go-toml/v2"
	"go.uber.org/multierr"

	"embed-proxy-go/internal/policy"
)

// configSearchPaths lists paths checked in order when no explicit config is given.
var configSearchPaths = []string{
	"/etc/embed-proxy/config.toml",
	"configs/config.toml",
}

// CLI holds command-line arguments parsed by Kong.
type CLI struct {
	Config    string `kong:"short='c',help='Path to TOML config file.',env='CONFIG_PATH'"`
	Host      string `kong:"help='Listen host (overrides config).',env='HOST'"`
	Port      int    `kong:"short='p',help='Listen port (overrides config).',env='PORT'"`
	Allowlist string `kong:"short='a',help='Path to YAML allow-list file (overrides config).',env='ALLOWLIST_PATH'"`
	LogLevel  string `kong:"help='Log level: debug|info|warn|error (overrides config).',env='LOG_LEVEL'"`
}

// Config is the top-level application configuration.
type Config struct {
	Server   ServerConfig   `toml:"server"`
	Proxy    ProxyConfig    `toml:"proxy"`
	Upstream UpstreamConfig `toml:"upstream"`
	Log      LogConfig      `toml:"log"`
	Metrics  MetricsConfig  `toml:"metrics"`

	filePath string // resolved config file path (unexported)
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Host           string          `toml:"host"`
	Port           int             `toml:"port"` // 0 means "use default" (8000); TOML cannot distinguish 0 from unset
	BodyMaxBytes   int64           `toml:"body_max_bytes"`
	MaxConnections int             `toml:"max_connections"` // 0 means unlimited
	ProxyProtocol  bool            `toml:"proxy_protocol"`
	TrustedProxies []string        `toml:"trusted_proxies"` // IPs or CIDRs whose PROXY headers are honoured
	RateLimit      RateLimitConfig `toml:"rate_limit"`
}

// RateLimitConfig controls per-IP request rate limiting.
type RateLimitConfig struct {
	Enabled           bool    `toml:"enabled"`
	RequestsPerSecond float64 `toml:"requests_per_second"`
}

// ProxyConfig holds the target policy and response rewriting settings.
type ProxyConfig struct {
	AllowedHosts         []string `toml:"allowed_hosts"`
	AllowlistFile        string   `toml:"allowlist_file"`
	DefaultMaxAgeSeconds int      `toml:"default_max_age_seconds"`
}

// UpstreamConfig holds upstream connection settings.
type UpstreamConfig struct {
	TimeoutSeconds  int    `toml:"timeout_seconds"`
	IdleConnections int    `toml:"idle_connections"`
	UserAgent       string `toml:"user_agent"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level      string `toml:"level"`
	Format     string `toml:"format"`
	File       string `toml:"file"`
	MaxSizeMB  int    `toml:"max_size_mb"`
	MaxBackups int    `toml:"max_backups"`
	Compress   bool   `toml:"compress"`
}

// MetricsConfig holds Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `toml:"enabled"`
	Path    string `toml:"path"`
}

// DefaultUserAgent is sent upstream so game hosts serve the desktop build.
const DefaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// reservedRoutes cannot be shadowed by the metrics endpoint.
var reservedRoutes = []string{"/proxy", "/healthz"}

// Load reads the TOML config file and applies CLI overrides.
// When no explicit path is given (via --config or CONFIG_PATH), it searches
// /etc/embed-proxy/config.toml then configs/config.toml and falls back to
// built-in defaults if neither exists.
func Load(cli *CLI) (*Config, error) {
	path := cli.Config
	if path == "" {
		path = findConfig()
	}

	var cfg Config
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := toml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
		cfg.filePath = path
	}

	cfg.applyCLI(cli)

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("config: validate: %w", err)
	}

	cfg.setDefaults()

	if err := cfg.resolveAllowlist(); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}

	return &cfg, nil
}

// applyCLI overrides config values with non-zero CLI flags.
func (c *Config) applyCLI(cli *CLI) {
	if cli.Host != "" {
		c.Server.Host = cli.Host
	}
	if cli.Port != 0 {
		c.Server.Port = cli.Port
	}
	if cli.Allowlist != "" {
		c.Proxy.AllowlistFile = cli.Allowlist
	}
	if cli.LogLevel != "" {
		c.Log.Level = cli.LogLevel
	}
}

// validate reports every problem found, not just the first.
func (c *Config) validate() error {
	var err error

	// Numeric bounds.
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		err = multierr.Append(err, fmt.Errorf("server.port must be 0–65535; got %d", c.Server.Port))
	}
	if c.Server.BodyMaxBytes < 0 {
		err = multierr.Append(err, fmt.Errorf("server.body_max_bytes must be non-negative; got %d", c.Server.BodyMaxBytes))
	}
	if c.Server.MaxConnections < 0 {
		err = multierr.Append(err, fmt.Errorf("server.max_connections must be non-negative; got %d", c.Server.MaxConnections))
	}
	if c.Upstream.TimeoutSeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("upstream.timeout_seconds must be non-negative; got %d", c.Upstream.TimeoutSeconds))
	}
	if c.Upstream.IdleConnections < 0 {
		err = multierr.Append(err, fmt.Errorf("upstream.idle_connections must be non-negative; got %d", c.Upstream.IdleConnections))
	}
	if c.Proxy.DefaultMaxAgeSeconds < 0 {
		err = multierr.Append(err, fmt.Errorf("proxy.default_max_age_seconds must be non-negative; got %d", c.Proxy.DefaultMaxAgeSeconds))
	}
	if c.Server.RateLimit.Enabled && c.Server.RateLimit.RequestsPerSecond <= 0 {
		err = multierr.Append(err, fmt.Errorf("server.rate_limit.requests_per_second must be > 0 when rate limiting is enabled; got %v", c.Server.RateLimit.RequestsPerSecond))
	}
	if c.Log.MaxSizeMB < 0 || c.Log.MaxBackups < 0 {
		err = multierr.Append(err, fmt.Errorf("log.max_size_mb and log.max_backups must be non-negative"))
	}

	if c.Server.ProxyProtocol && len(c.Server.TrustedProxies) == 0 {
		err = multierr.Append(err, errors.New("server.trusted_proxies must list the load balancer addresses when proxy_protocol is enabled"))
	}
	for _, p := range c.Server.TrustedProxies {
		if !validIPOrCIDR(p) {
			err = multierr.Append(err, fmt.Errorf("server.trusted_proxies: %q is not an IP address or CIDR", p))
		}
	}

	for _, h := range c.Proxy.AllowedHosts {
		if hostErr := validateHost(h); hostErr != nil {
			err = multierr.Append(err, fmt.Errorf("proxy.allowed_hosts: %w", hostErr))
		}
	}

	// Log fields.
	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error", "":
		// valid
	default:
		err = multierr.Append(err, fmt.Errorf("log.level must be one of: debug, info, warn, error; got %q", c.Log.Level))
	}
	switch strings.ToLower(c.Log.Format) {
	case "json", "text", "":
		// valid
	default:
		err = multierr.Append(err, fmt.Errorf("log.format must be one of: json, text; got %q", c.Log.Format))
	}

	// Metrics path validation (only when metrics are enabled).
	if c.Metrics.Enabled && c.Metrics.Path != "" {
		p := c.Metrics.Path
		if p[0] != '/' {
			err = multierr.Append(err, fmt.Errorf("metrics.path must start with '/'; got %q", p))
		}
		for _, reserved := range reservedRoutes {
			if p == reserved || strings.HasPrefix(p, reserved+"/") {
				err = multierr.Append(err, fmt.Errorf("metrics.path %q conflicts with reserved route %q", p, reserved))
			}
		}
	}

	return err
}

func validIPOrCIDR(s string) bool {
	if strings.Contains(s, "/") {
		_, err := netip.ParsePrefix(s)
		return err == nil
	}
	_, err := netip.ParseAddr(s)
	return err == nil
}

// validateHost accepts bare lower-case hostnames only.
func validateHost(h string) error {
	switch {
	case h == "":
		return errors.New("empty hostname")
	case h != strings.ToLower(h):
		return fmt.Errorf("%q must be lower-case", h)
	case strings.ContainsAny(h, "/:@*? "):
		return fmt.Errorf("%q must be a bare hostname without scheme, port, path or wildcard", h)
	}
	return nil
}

// setDefaults fills zero-valued fields with sensible defaults.
// For integer fields (Port, BodyMaxBytes, etc.), zero means "unset" because TOML
// cannot distinguish between an explicit 0 and an omitted key. Setting port=0 in
// the config file therefore results in the default port (8000).
func (c *Config) setDefaults() {
	if c.Server.Host == "" {
		c.Server.Host = "0.0.0.0"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8000
	}
	if c.Server.BodyMaxBytes == 0 {
		c.Server.BodyMaxBytes = 1024 * 1024 // 1 MB; request bodies are never forwarded
	}
	if c.Proxy.DefaultMaxAgeSeconds == 0 {
		c.Proxy.DefaultMaxAgeSeconds = 300
	}
	if c.Upstream.TimeoutSeconds == 0 {
		c.Upstream.TimeoutSeconds = 30
	}
	if c.Upstream.IdleConnections == 0 {
		c.Upstream.IdleConnections = 100
	}
	if c.Upstream.UserAgent == "" {
		c.Upstream.UserAgent = DefaultUserAgent
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
	if c.Log.Format == "" {
		c.Log.Format = "json"
	}
	if c.Log.MaxSizeMB == 0 {
		c.Log.MaxSizeMB = 100
	}
	if c.Metrics.Path == "" {
		c.Metrics.Path = "/metrics"
	}
}

// resolveAllowlist merges hosts from the allow-list file into AllowedHosts and
// falls back to policy.DefaultHosts when neither source names any.
func (c *Config) resolveAllowlist() error {
	if c.Proxy.AllowlistFile != "" {
		hosts, err := policy.LoadFile(c.Proxy.AllowlistFile)
		if err != nil {
			return err
		}
		for _, h := range hosts {
			if err := validateHost(h); err != nil {
				return fmt.Errorf("%s: %w", c.Proxy.AllowlistFile, err)
			}
		}
		c.Proxy.AllowedHosts = append(c.Proxy.AllowedHosts, hosts...)
	}
	if len(c.Proxy.AllowedHosts) == 0 {
		c.Proxy.AllowedHosts = append([]string(nil), policy.DefaultHosts...)
	}
	return nil
}

// findConfig returns the first config path that exists, or empty string.
func findConfig() string {
	return findConfigInPaths(configSearchPaths)
}

// findConfigInPaths returns the first path that exists on disk, or empty string.
func findConfigInPaths(paths []string) string {
	for _, p := range paths {
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}
	return ""
}

// Addr returns the server listen address as host:port.
func (c *ServerConfig) Addr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}

// FilePath returns the config file that was loaded, or "" for built-in defaults.
func (c *Config) FilePath() string {
	return c.filePath
}

// WarnPermissions logs a warning if the config file is readable by group or others.
func (c *Config) WarnPermissions(logger *slog.Logger) {
	if c.filePath == "" {
		return
	}
	info, err := os.Stat(c.filePath)
	if err != nil {
		return
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Warn("config file is readable by group/others; consider chmod 600",
			"path", c.filePath,
			"mode", fmt.Sprintf("%04o", perm),
		)
	}
}
