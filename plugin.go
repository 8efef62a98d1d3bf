package airlock

import (
	"encoding/json"
	"net/http"

	log "github.com/sirupsen/logrus"
)

// Plugin extends the gateway with routes and middlewares. Plugins register
// themselves with RegisterPlugin and are enabled from the "plugins" config
// section.
type Plugin interface {
	// ID must return the plugin identifier (name). This is the id used to match
	// the plugin in the configuration.
	ID() string
	// Configure is called during initialization and every time the config is modified.
	// The pluginCfg argument is the raw json contained in the "config" key for that plugin.
	Configure(cfg *Config, pluginCfg json.RawMessage) error
	// Init is called once the gateway is built
	Init(gtw *Gateway)
	SetupPublicMux(mux *http.ServeMux)
	SetupPrivateMux(mux *http.ServeMux)
	ApplyMiddlewarePublicMux(http.Handler) http.Handler
	ApplyMiddlewarePrivateMux(http.Handler) http.Handler
}

// BasePlugin implements every Plugin method as a no-op.
type BasePlugin struct{}

func (p *BasePlugin) Configure(*Config, json.RawMessage) error {
	return nil
}

func (p *BasePlugin) Init(*Gateway) {}

func (p *BasePlugin) SetupPublicMux(mux *http.ServeMux) {}

func (p *BasePlugin) SetupPrivateMux(mux *http.ServeMux) {}

func (p *BasePlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return h
}

func (p *BasePlugin) ApplyMiddlewarePrivateMux(h http.Handler) http.Handler {
	return h
}

var registeredPlugins = map[string]Plugin{}

func RegisterPlugin(p Plugin) {
	if _, found := registeredPlugins[p.ID()]; found {
		log.Fatalf("plugin %q already registered", p.ID())
	}
	registeredPlugins[p.ID()] = p
}

func RegisteredPlugins() map[string]Plugin {
	return registeredPlugins
}
