package server

import (
	"bufio"
	"fmt"
	"net"
	"net/http"
	"testing"
	"time"

	proxyproto "github.com/pires/go-proxyproto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"embed-proxy-go/internal/config"
)

func TestListen_BindError(t *testing.T) {
	_, err := Listen(&config.ServerConfig{Host: "256.0.0.1", Port: 8000})
	assert.Error(t, err)
}

func TestListen_Plain(t *testing.T) {
	ln, err := Listen(&config.ServerConfig{Host: "127.0.0.1", Port: freePort(t)})
	require.NoError(t, err)
	defer ln.Close()

	_, isProxy := ln.(*proxyproto.Listener)
	assert.False(t, isProxy)
}

func TestListen_ProxyProtocolRemoteAddr(t *testing.T) {
	tests := []struct {
		name     string
		trusted  []string
		wantHost string
	}{
		{"trusted peer", []string{"127.0.0.0/8"}, "203.0.113.7"},
		{"untrusted peer keeps real address", []string{"10.0.0.0/8"}, "127.0.0.1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			addr := remoteAddrBehind(t, &config.ServerConfig{
				Host:           "127.0.0.1",
				Port:           freePort(t),
				ProxyProtocol:  true,
				TrustedProxies: tt.trusted,
				MaxConnections: 4,
			})
			host, _, err := net.SplitHostPort(addr)
			require.NoError(t, err)
			assert.Equal(t, tt.wantHost, host)
		})
	}
}

func TestListen_BadTrustedProxy(t *testing.T) {
	_, err := Listen(&config.ServerConfig{
		Host:           "127.0.0.1",
		Port:           freePort(t),
		ProxyProtocol:  true,
		TrustedProxies: []string{"not-an-ip"},
	})
	assert.Error(t, err)
}

// remoteAddrBehind serves one request that arrives with a PROXY v1 header
// claiming 203.0.113.7:51234 and returns the RemoteAddr the handler saw.
func remoteAddrBehind(t *testing.T, cfg *config.ServerConfig) string {
	t.Helper()
	ln, err := Listen(cfg)
	require.NoError(t, err)
	defer ln.Close()

	seen := make(chan string, 1)
	srv := &http.Server{
		Handler: http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen <- r.RemoteAddr
		}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() { _ = srv.Serve(ln) }()
	defer srv.Close()

	conn, err := net.Dial("tcp", ln.Addr().String())
	require.NoError(t, err)
	defer conn.Close()

	_, err = fmt.Fprint(conn, "PROXY TCP4 203.0.113.7 127.0.0.1 51234 8000\r\n")
	require.NoError(t, err)
	_, err = fmt.Fprint(conn, "GET /healthz HTTP/1.1\r\nHost: localhost\r\nConnection: close\r\n\r\n")
	require.NoError(t, err)

	var addr string
	select {
	case addr = <-seen:
	case <-time.After(5 * time.Second):
		t.Fatal("request never reached the handler")
	}

	_, _ = bufio.NewReader(conn).ReadString('\n')
	return addr
}

// freePort asks the kernel for an unused port.
func freePort(t *testing.T) int {
	t.Helper()
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port
}
