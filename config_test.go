package airlock

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingPlugin struct {
	BasePlugin
	configured json.RawMessage
	gateway    *Gateway
}

func (p *recordingPlugin) ID() string {
	return "recording"
}

func (p *recordingPlugin) Configure(cfg *Config, data json.RawMessage) error {
	if string(data) == `"invalid"` {
		return errors.New("invalid config")
	}
	p.configured = data
	return nil
}

func (p *recordingPlugin) Init(gtw *Gateway) {
	p.gateway = gtw
}

func (p *recordingPlugin) SetupPublicMux(mux *http.ServeMux) {
	mux.HandleFunc("/recording", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("public"))
	})
}

func (p *recordingPlugin) SetupPrivateMux(mux *http.ServeMux) {
	mux.HandleFunc("/recording", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("private"))
	})
}

var testPlugin = &recordingPlugin{}

func init() {
	RegisterPlugin(testPlugin)
}

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("AIRLOCK_LOG_LEVEL", "")
	t.Setenv("AIRLOCK_UPSTREAM_URL", "")
	t.Setenv("AIRLOCK_REDIS_ADDRESS", "")
}

func TestConfig(t *testing.T) {
	t.Run("no interface provided", func(t *testing.T) {
		cfg := new(Config)
		cfg.GatewayPort = 8082
		cfg.PrivatePort = 8083
		cfg.MetricsPort = 8084
		require.Equal(t, ":8082", cfg.GatewayAddress())
		require.Equal(t, ":8083", cfg.PrivateAddress())
		require.Equal(t, ":8084", cfg.MetricAddress())
	})
	t.Run("network address provided", func(t *testing.T) {
		cfg := new(Config)
		cfg.GatewayListenAddress = "0.0.0.0:8082"
		cfg.GatewayPort = 0
		cfg.PrivateListenAddress = "127.0.0.1:8084"
		cfg.PrivatePort = 8083
		cfg.MetricsListenAddress = ""
		cfg.MetricsPort = 8084
		require.Equal(t, "0.0.0.0:8082", cfg.GatewayAddress())
		require.Equal(t, "127.0.0.1:8084", cfg.PrivateAddress())
		require.Equal(t, ":8084", cfg.MetricAddress())
	})
}

func TestGetConfigDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := GetConfig(nil)
	require.NoError(t, err)
	defer cfg.Close()

	assert.Equal(t, DefaultUpstreamURL, cfg.Upstream.URL)
	assert.Equal(t, 5*time.Second, cfg.Upstream.TimeoutDuration)
	assert.Equal(t, int64(1024*1024), cfg.Upstream.MaxResponseSize)
	assert.Equal(t, "memory", cfg.Cache.Type)
	assert.Equal(t, 30*time.Second, cfg.Cache.TTLDuration)
	assert.Equal(t, 10, cfg.Schema.MaxDepth)
	assert.Equal(t, ":8082", cfg.GatewayAddress())
	assert.Equal(t, 10*time.Second, cfg.GatewayTimeouts.WriteTimeoutDuration)
	assert.Equal(t, 120*time.Second, cfg.PrivateTimeouts.IdleTimeoutDuration)
	assert.Equal(t, log.InfoLevel, cfg.LogLevel)
}

func TestGetConfigFromFile(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{
		"gateway-port": 9000,
		"loglevel": "debug",
		"gateway-timeouts": {"write": "30s"},
		"upstream": {"url": "http://listings.internal:8080", "timeout": "2s", "rate-limit": 10},
		"cache": {"type": "none", "ttl": "1m"},
		"plugins": [{"name": "recording", "config": {"enabled": true}}, {"name": "unknown"}]
	}`)

	cfg, err := GetConfig([]string{path})
	require.NoError(t, err)
	defer cfg.Close()
	defer log.SetLevel(log.InfoLevel)

	assert.Equal(t, ":9000", cfg.GatewayAddress())
	assert.Equal(t, log.DebugLevel, cfg.LogLevel)
	assert.Equal(t, 30*time.Second, cfg.GatewayTimeouts.WriteTimeoutDuration)
	assert.Equal(t, 5*time.Second, cfg.GatewayTimeouts.ReadTimeoutDuration)
	assert.Equal(t, "http://listings.internal:8080", cfg.Upstream.URL)
	assert.Equal(t, 2*time.Second, cfg.Upstream.TimeoutDuration)
	assert.Equal(t, 10.0, cfg.Upstream.RateLimit)
	assert.Equal(t, "none", cfg.Cache.Type)
	assert.Equal(t, time.Minute, cfg.Cache.TTLDuration)

	require.Len(t, cfg.plugins, 1)
	assert.Equal(t, "recording", cfg.plugins[0].ID())
	assert.JSONEq(t, `{"enabled": true}`, string(testPlugin.configured))

	require.NoError(t, cfg.Init())
	assert.Same(t, cfg.Gateway(), testPlugin.gateway)
	assert.Equal(t, NoopCache{}, cfg.Gateway().Cache)
}

func TestGetConfigEmptyFile(t *testing.T) {
	clearEnv(t)
	cfg, err := GetConfig([]string{writeConfig(t, "")})
	require.NoError(t, err)
	defer cfg.Close()
	assert.Equal(t, DefaultUpstreamURL, cfg.Upstream.URL)
}

func TestGetConfigEnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("AIRLOCK_UPSTREAM_URL", "https://listings.example.com/v1/")
	t.Setenv("AIRLOCK_REDIS_ADDRESS", "localhost:6379")
	t.Setenv("AIRLOCK_LOG_LEVEL", "warn")
	defer log.SetLevel(log.InfoLevel)

	cfg, err := GetConfig([]string{writeConfig(t, `{"upstream": {"url": "http://ignored"}}`)})
	require.NoError(t, err)
	defer cfg.Close()

	assert.Equal(t, "https://listings.example.com/v1/", cfg.Upstream.URL)
	assert.Equal(t, "redis", cfg.Cache.Type)
	assert.Equal(t, "localhost:6379", cfg.Cache.RedisAddress)
	assert.Equal(t, log.WarnLevel, cfg.LogLevel)
}

func TestGetConfigErrors(t *testing.T) {
	tests := []struct {
		name    string
		content string
		err     string
	}{
		{"malformed json", `{"gateway-port": `, "error decoding config file"},
		{"relative upstream", `{"upstream": {"url": "/listings"}}`, "scheme must be http or https"},
		{"upstream without host", `{"upstream": {"url": "http://"}}`, "missing host"},
		{"upstream timeout", `{"upstream": {"timeout": "soon"}}`, "invalid upstream timeout"},
		{"cache ttl", `{"cache": {"ttl": "forever"}}`, "invalid cache ttl"},
		{"gateway timeout", `{"gateway-timeouts": {"read": "1y"}}`, "invalid gateway read timeout"},
		{"plugin config", `{"plugins": [{"name": "recording", "config": "invalid"}]}`, `error configuring plugin "recording"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			clearEnv(t)
			cfg, err := GetConfig([]string{writeConfig(t, tt.content)})
			defer cfg.Close()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.err)
		})
	}
}

func TestConfigInitInvalidCache(t *testing.T) {
	clearEnv(t)
	cfg, err := GetConfig([]string{writeConfig(t, `{"cache": {"type": "redis"}}`)})
	require.NoError(t, err)
	defer cfg.Close()

	err = cfg.Init()
	var startupErr *StartupError
	require.ErrorAs(t, err, &startupErr)
	assert.Equal(t, "cache", startupErr.Stage)
}

func TestConfigReload(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"cache": {"type": "none"}}`)
	cfg, err := GetConfig([]string{path})
	require.NoError(t, err)
	defer cfg.Close()
	require.NoError(t, cfg.Init())

	require.NoError(t, os.WriteFile(path, []byte(`{"cache": {"type": "none", "ttl": "5m"}, "upstream": {"url": "http://other:1234", "timeout": "1s"}}`), 0o644))
	require.NoError(t, cfg.reload())

	gtw := cfg.Gateway()
	gtw.mu.RLock()
	defer gtw.mu.RUnlock()
	assert.Equal(t, "http://other:1234", gtw.upstream.URL)
	assert.Equal(t, 5*time.Minute, gtw.cacheTTL)
	assert.Equal(t, time.Second, gtw.httpClient.Timeout)
}

func TestConfigReloadKeepsPluginSettings(t *testing.T) {
	clearEnv(t)
	path := writeConfig(t, `{"cache": {"type": "none"}, "plugins": [{"name": "recording", "config": {"version": 1}}]}`)
	cfg, err := GetConfig([]string{path})
	require.NoError(t, err)
	defer cfg.Close()
	require.NoError(t, cfg.Init())

	require.NoError(t, os.WriteFile(path, []byte(`{"cache": {"type": "none"}, "plugins": [{"name": "recording", "config": {"version": 2}}]}`), 0o644))
	require.NoError(t, cfg.reload())

	assert.JSONEq(t, `{"version": 1}`, string(testPlugin.configured))
	require.Len(t, cfg.plugins, 1)
}
