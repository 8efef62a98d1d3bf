package plugins

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/movio/airlock"
)

func init() {
	airlock.RegisterPlugin(&LimitsPlugin{})
}

// LimitsPlugin bounds the size of incoming requests and the time spent
// waiting for the listings service.
type LimitsPlugin struct {
	airlock.BasePlugin
	config LimitsPluginConfig
}

type LimitsPluginConfig struct {
	MaxRequestBytes     int64  `json:"max-request-bytes"`
	MaxResponseTime     string `json:"max-response-time"`
	maxResponseDuration time.Duration
}

func NewLimitsPlugin(options LimitsPluginConfig) (*LimitsPlugin, error) {
	p := &LimitsPlugin{airlock.BasePlugin{}, options}
	return p, p.validate()
}

func (p *LimitsPlugin) ID() string {
	return "limits"
}

func (p *LimitsPlugin) Init(gtw *airlock.Gateway) {
	gtw.LimitUpstreamTimeout(p.config.maxResponseDuration)
}

func (p *LimitsPlugin) Configure(cfg *airlock.Config, data json.RawMessage) error {
	if err := json.Unmarshal(data, &p.config); err != nil {
		return err
	}
	return p.validate()
}

func (p *LimitsPlugin) validate() error {
	if p.config.MaxRequestBytes == 0 {
		return fmt.Errorf("MaxRequestBytes is undefined")
	}

	if p.config.MaxResponseTime == "" {
		return fmt.Errorf("MaxResponseTime is undefined")
	}

	var err error
	p.config.maxResponseDuration, err = time.ParseDuration(p.config.MaxResponseTime)
	if err != nil {
		return fmt.Errorf("invalid duration: %w", err)
	}

	return nil
}

func (p *LimitsPlugin) ApplyMiddlewarePublicMux(h http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, p.config.MaxRequestBytes)
		h.ServeHTTP(w, r)
	})
}
