package client

import (
	"context"
	"crypto/tls"
	"fmt"
	"net"
	"net/http"
	"time"

	"golang.org/x/net/http2"
)

// Transport modes for NewHTTPClient.
const (
	TransportHTTP1 = "http1"
	// TransportHTTP2 negotiates HTTP/2 over TLS and falls back to HTTP/1.1.
	TransportHTTP2 = "h2"
	// TransportH2C speaks HTTP/2 without TLS (prior knowledge).
	TransportH2C = "h2c"
)

// NewHTTPClient builds the shared HTTP client for provider calls.
// Per-call deadlines come from contexts, so the client itself has no timeout.
func NewHTTPClient(mode string, maxIdleConns int) (*http.Client, error) {
	if maxIdleConns <= 0 {
		maxIdleConns = 10
	}

	switch mode {
	case "", TransportHTTP1:
		return &http.Client{Transport: baseTransport(maxIdleConns)}, nil
	case TransportHTTP2:
		tr := baseTransport(maxIdleConns)
		if err := http2.ConfigureTransport(tr); err != nil {
			return nil, fmt.Errorf("configure http2 transport: %w", err)
		}
		return &http.Client{Transport: tr}, nil
	case TransportH2C:
		tr := &http2.Transport{
			AllowHTTP: true,
			DialTLSContext: func(ctx context.Context, network, addr string, _ *tls.Config) (net.Conn, error) {
				var d net.Dialer
				return d.DialContext(ctx, network, addr)
			},
			ReadIdleTimeout: 30 * time.Second,
		}
		return &http.Client{Transport: tr}, nil
	default:
		return nil, fmt.Errorf("unknown transport mode %q", mode)
	}
}

func baseTransport(maxIdleConns int) *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     90 * time.Second,
		TLSHandshakeTimeout: 5 * time.Second,
		TLSClientConfig:     &tls.Config{MinVersion: tls.VersionTLS12},
	}
}
