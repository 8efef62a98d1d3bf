package plugins

import (
	"net/http"

	"github.com/99designs/gqlgen/graphql/playground"
	"github.com/movio/airlock"
)

func init() {
	airlock.RegisterPlugin(&PlaygroundPlugin{})
}

// PlaygroundPlugin serves the GraphQL playground on /playground.
type PlaygroundPlugin struct {
	airlock.BasePlugin
}

func (p *PlaygroundPlugin) ID() string {
	return "playground"
}

func (p *PlaygroundPlugin) SetupPublicMux(mux *http.ServeMux) {
	mux.HandleFunc("/playground", playground.Handler("Airlock Playground", "/query"))
}
