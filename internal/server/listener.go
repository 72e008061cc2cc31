// Package server binds the TCP listener the Echo server accepts on.
package server

import (
	"fmt"
	"net"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"golang.org/x/net/netutil"

	"embed-proxy-go/internal/config"
)

// proxyHeaderTimeout bounds how long a new connection may take to send its
// PROXY protocol header.
const proxyHeaderTimeout = 10 * time.Second

// Listen binds cfg.Addr(). With max_connections set, at most that many
// connections are accepted at once. With proxy_protocol set, a PROXY v1/v2
// header from one of cfg.TrustedProxies replaces the peer address, so RealIP
// and the rate limiter see the actual client. Headers from any other peer are
// read and discarded, and the connection keeps its real address.
func Listen(cfg *config.ServerConfig) (net.Listener, error) {
	addr := cfg.Addr()
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("bind %s: %w", addr, err)
	}

	if cfg.ProxyProtocol {
		trusted, err := proxyproto.LaxWhiteListPolicy(cfg.TrustedProxies)
		if err != nil {
			_ = ln.Close()
			return nil, fmt.Errorf("trusted proxies: %w", err)
		}
		ln = &proxyproto.Listener{
			Listener:          ln,
			Policy:            trusted,
			ReadHeaderTimeout: proxyHeaderTimeout,
		}
	}
	if cfg.MaxConnections > 0 {
		ln = netutil.LimitListener(ln, cfg.MaxConnections)
	}

	return ln, nil
}
