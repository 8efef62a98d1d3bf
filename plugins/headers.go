package plugins

import (
	"encoding/json"
	"net/http"

	"github.com/movio/airlock"
)

func init() {
	airlock.RegisterPlugin(&HeadersPlugin{})
}

// HeadersPlugin forwards the allowed inbound headers to the listings service.
type HeadersPlugin struct {
	airlock.BasePlugin
	config HeadersPluginConfig
}

type HeadersPluginConfig struct {
	AllowedHeaders []string `json:"allowed-headers"`
}

func NewHeadersPlugin(options HeadersPluginConfig) *HeadersPlugin {
	return &HeadersPlugin{airlock.BasePlugin{}, options}
}

func (p *HeadersPlugin) ID() string {
	return "headers"
}

func (p *HeadersPlugin) Configure(cfg *airlock.Config, data json.RawMessage) error {
	return json.Unmarshal(data, &p.config)
}

func (p *HeadersPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return http.HandlerFunc(func(rw http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		for _, header := range p.config.AllowedHeaders {
			for _, value := range r.Header.Values(header) {
				ctx = airlock.AddOutgoingRequestsHeaderToContext(ctx, header, value)
			}
		}
		h.ServeHTTP(rw, r.WithContext(ctx))
	})
}
