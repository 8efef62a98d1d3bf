package airlock

import (
	"net/http"
	"sync"
	"time"

	"github.com/graph-gophers/graphql-go"
	"github.com/graph-gophers/graphql-go/relay"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"
)

// ClientFactory returns the ListingClient of a new request. cache is the
// process wide response cache.
type ClientFactory func(cache ResponseCache) ListingClient

// Gateway serves the GraphQL schema and builds a RequestContext for every
// request.
type Gateway struct {
	Schema *graphql.Schema
	Cache  ResponseCache

	plugins []Plugin

	mu         sync.RWMutex
	newClient  ClientFactory
	upstream   UpstreamConfig
	cacheTTL   time.Duration
	maxTimeout time.Duration
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewGateway returns a gateway serving schema. Configure must be called
// before requests reach the listings service.
func NewGateway(schema *graphql.Schema, cache ResponseCache, plugins []Plugin) *Gateway {
	if cache == nil {
		cache = NoopCache{}
	}
	g := &Gateway{
		Schema:  schema,
		Cache:   cache,
		plugins: plugins,
	}
	g.newClient = g.newRESTClient
	return g
}

// Configure applies the upstream and cache settings to the requests started
// after the call. It is called again when the config is reloaded.
func (g *Gateway) Configure(upstream UpstreamConfig, cacheTTL time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.upstream = upstream
	g.cacheTTL = cacheTTL
	g.rebuildHTTPClient()

	if upstream.RateLimit > 0 {
		burst := upstream.RateBurst
		if burst <= 0 {
			burst = 1
		}
		g.limiter = rate.NewLimiter(rate.Limit(upstream.RateLimit), burst)
	} else {
		g.limiter = nil
	}

	log.WithFields(log.Fields{
		"upstream": upstream.URL,
		"timeout":  g.httpClient.Timeout.String(),
		"cacheTTL": cacheTTL.String(),
	}).Info("configured upstream")
}

// LimitUpstreamTimeout caps the timeout of upstream requests, whatever the
// upstream config says.
func (g *Gateway) LimitUpstreamTimeout(limit time.Duration) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.maxTimeout = limit
	g.rebuildHTTPClient()
}

// must be called with g.mu held
func (g *Gateway) rebuildHTTPClient() {
	timeout := g.upstream.TimeoutDuration
	if timeout == 0 {
		timeout = 5 * time.Second
	}
	if g.maxTimeout > 0 && g.maxTimeout < timeout {
		timeout = g.maxTimeout
	}
	g.httpClient = NewHTTPClient(timeout)
}

// UseClientFactory replaces the way request clients are built.
func (g *Gateway) UseClientFactory(f ClientFactory) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.newClient = f
}

func (g *Gateway) newRESTClient(cache ResponseCache) ListingClient {
	g.mu.RLock()
	defer g.mu.RUnlock()

	opts := []ClientOpt{
		WithCache(cache),
		WithCacheTTL(g.cacheTTL),
		WithUserAgent(GenerateUserAgent("query")),
		WithRateLimit(g.limiter),
	}
	if g.httpClient != nil {
		opts = append(opts, WithHTTPClient(g.httpClient))
	}
	if g.upstream.MaxResponseSize > 0 {
		opts = append(opts, WithMaxResponseSize(g.upstream.MaxResponseSize))
	}
	return NewRESTClient(g.upstream.URL, opts...)
}

// NewRequestContext returns the context of a new GraphQL request, with a
// fresh client sharing the gateway cache.
func (g *Gateway) NewRequestContext() *RequestContext {
	g.mu.RLock()
	newClient := g.newClient
	g.mu.RUnlock()

	return &RequestContext{
		Listings: newClient(g.Cache),
		Cache:    g.Cache,
	}
}

func (g *Gateway) requestContextMiddleware(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := AddRequestContext(r.Context(), g.NewRequestContext())
		h.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Router returns the public handler, serving GraphQL on /query.
func (g *Gateway) Router() http.Handler {
	mux := http.NewServeMux()

	mux.Handle("/query",
		applyMiddleware(
			&relay.Handler{Schema: g.Schema},
			g.requestContextMiddleware,
		),
	)

	for _, plugin := range g.plugins {
		plugin.SetupPublicMux(mux)
	}

	var result http.Handler = mux

	for i := len(g.plugins) - 1; i >= 0; i-- {
		result = g.plugins[i].ApplyMiddlewarePublicMux(result)
	}

	return applyMiddleware(result, monitoringMiddleware)
}

// PrivateRouter returns the handler for the private port.
func (g *Gateway) PrivateRouter() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"status":"healthy"}`))
	})

	for _, plugin := range g.plugins {
		plugin.SetupPrivateMux(mux)
	}

	var result http.Handler = mux
	for i := len(g.plugins) - 1; i >= 0; i-- {
		result = g.plugins[i].ApplyMiddlewarePrivateMux(result)
	}

	return result
}
