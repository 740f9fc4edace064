// Package gateway implements the authenticated HTTP client used to talk to the photo API.
//
// Every request carries the stored access token. When the backend answers 401 the request is
// handed to a Coordinator, which runs at most one token refresh at a time, parks concurrent
// failures behind it and resends each of them once with the new token. A failed refresh
// clears the token store and notifies the registered logout observer.
package gateway

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"github.com/bookscanner/scanclient/internal/config"
	"github.com/bookscanner/scanclient/internal/util"
	"github.com/bookscanner/scanclient/sdk/auth"
)

// Gateway bundles the authenticated client with its coordinator and token store.
type Gateway struct {
	cfg         *config.Config
	store       auth.TokenStore
	coordinator *Coordinator
	client      *http.Client
	base        *url.URL
}

// Option customizes a Gateway.
type Option func(*options)

type options struct {
	refresher Refresher
	transport http.RoundTripper
}

// WithRefresher replaces the HTTP refresher built from the configuration.
func WithRefresher(r Refresher) Option {
	return func(o *options) { o.refresher = r }
}

// WithBaseTransport replaces the network transport, proxy settings included.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(o *options) { o.transport = rt }
}

// New wires a gateway from cfg. store must be durable for sessions to survive restarts.
// External callers build cfg with the sdk/config package.
func New(cfg *config.Config, store auth.TokenStore, opts ...Option) (*Gateway, error) {
	if cfg == nil {
		return nil, fmt.Errorf("gateway: config is nil")
	}
	if store == nil {
		return nil, fmt.Errorf("gateway: token store is nil")
	}
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/") + "/")
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}

	var o options
	for _, opt := range opts {
		opt(&o)
	}
	network := o.transport
	if network == nil {
		transport, errTransport := util.NewTransport(cfg.ProxyURL)
		if errTransport != nil {
			return nil, fmt.Errorf("gateway: %w", errTransport)
		}
		network = transport
	}

	next := &timeoutTransport{
		next:    &decodingTransport{next: network},
		timeout: cfg.RequestTimeout(),
	}

	refresher := o.refresher
	if refresher == nil {
		refreshURL, errRef := base.Parse(strings.TrimLeft(cfg.RefreshPath, "/"))
		if errRef != nil {
			return nil, fmt.Errorf("gateway: parse refresh path: %w", errRef)
		}
		refresher = &HTTPRefresher{
			URL:       refreshURL.String(),
			Client:    &http.Client{Transport: &decodingTransport{next: network}, Timeout: cfg.RefreshTimeout()},
			UserAgent: cfg.UserAgent,
		}
	}

	coordinator := NewCoordinator(store, refresher, next, cfg.RefreshTimeout())
	client := &http.Client{
		Transport: &Transport{
			Base:        next,
			Store:       store,
			Coordinator: coordinator,
			UserAgent:   cfg.UserAgent,
		},
	}
	return &Gateway{
		cfg:         cfg,
		store:       store,
		coordinator: coordinator,
		client:      client,
		base:        base,
	}, nil
}

// Client returns the authenticated HTTP client.
func (g *Gateway) Client() *http.Client { return g.client }

// Coordinator returns the refresh coordinator behind the client.
func (g *Gateway) Coordinator() *Coordinator { return g.coordinator }

// Store returns the token store the gateway reads from.
func (g *Gateway) Store() auth.TokenStore { return g.store }

// Config returns the configuration the gateway was built from.
func (g *Gateway) Config() *config.Config { return g.cfg }

// OnLogout registers the global logout observer.
func (g *Gateway) OnLogout(fn LogoutFunc) { g.coordinator.OnLogout(fn) }

// URL resolves an API path such as "view/12/" against the configured base URL.
func (g *Gateway) URL(path string) string {
	ref, err := url.Parse(strings.TrimLeft(path, "/"))
	if err != nil {
		return g.base.String() + strings.TrimLeft(path, "/")
	}
	return g.base.ResolveReference(ref).String()
}
