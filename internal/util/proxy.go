package util

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"strings"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/proxy"
)

// NewTransport returns an HTTP transport that routes through proxyURL.
// It supports SOCKS5, HTTP, and HTTPS proxies. An empty proxyURL yields a clone of
// http.DefaultTransport.
func NewTransport(proxyURL string) (*http.Transport, error) {
	base := http.DefaultTransport.(*http.Transport).Clone()
	proxyURL = strings.TrimSpace(proxyURL)
	if proxyURL == "" {
		return base, nil
	}
	parsed, errParse := url.Parse(proxyURL)
	if errParse != nil {
		return nil, fmt.Errorf("parse proxy url: %w", errParse)
	}
	switch parsed.Scheme {
	case "socks5":
		var proxyAuth *proxy.Auth
		if parsed.User != nil {
			username := parsed.User.Username()
			password, _ := parsed.User.Password()
			proxyAuth = &proxy.Auth{User: username, Password: password}
		}
		dialer, errSOCKS5 := proxy.SOCKS5("tcp", parsed.Host, proxyAuth, proxy.Direct)
		if errSOCKS5 != nil {
			return nil, fmt.Errorf("create SOCKS5 dialer: %w", errSOCKS5)
		}
		base.Proxy = nil
		if contextDialer, ok := dialer.(proxy.ContextDialer); ok {
			base.DialContext = contextDialer.DialContext
		} else {
			base.DialContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
				return dialer.Dial(network, addr)
			}
		}
	case "http", "https":
		base.Proxy = http.ProxyURL(parsed)
	default:
		return nil, fmt.Errorf("unsupported proxy scheme %q", parsed.Scheme)
	}
	return base, nil
}

// SetProxy configures the provided HTTP client with the given proxy. An invalid proxy is
// logged and the client is returned unchanged.
func SetProxy(proxyURL string, httpClient *http.Client) *http.Client {
	if strings.TrimSpace(proxyURL) == "" {
		return httpClient
	}
	transport, err := NewTransport(proxyURL)
	if err != nil {
		log.Errorf("configure proxy failed: %v", err)
		return httpClient
	}
	httpClient.Transport = transport
	return httpClient
}
