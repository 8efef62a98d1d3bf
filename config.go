package airlock

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

var Version = "dev"

// DefaultUpstreamURL is the listings service used when none is configured.
const DefaultUpstreamURL = "https://rt-airlock-services-listing.herokuapp.com/"

// PluginConfig contains the configuration for the named plugin
type PluginConfig struct {
	Name   string
	Config json.RawMessage
}

type TimeoutConfig struct {
	ReadTimeout          string        `json:"read"`
	ReadTimeoutDuration  time.Duration `json:"-"`
	WriteTimeout         string        `json:"write"`
	WriteTimeoutDuration time.Duration `json:"-"`
	IdleTimeout          string        `json:"idle"`
	IdleTimeoutDuration  time.Duration `json:"-"`
}

// UpstreamConfig describes how to reach the listings service.
type UpstreamConfig struct {
	URL             string        `json:"url"`
	Timeout         string        `json:"timeout"`
	TimeoutDuration time.Duration `json:"-"`
	MaxResponseSize int64         `json:"max-response-size"`
	// RateLimit is the number of requests per second sent to the listings
	// service, 0 disables rate limiting.
	RateLimit float64 `json:"rate-limit"`
	RateBurst int     `json:"rate-burst"`
}

// Config contains the gateway configuration
type Config struct {
	GatewayListenAddress string          `json:"gateway-address"`
	MetricsListenAddress string          `json:"metrics-address"`
	PrivateListenAddress string          `json:"private-address"`
	GatewayPort          int             `json:"gateway-port"`
	MetricsPort          int             `json:"metrics-port"`
	PrivatePort          int             `json:"private-port"`
	DefaultTimeouts      TimeoutConfig   `json:"default-timeouts"`
	GatewayTimeouts      TimeoutConfig   `json:"gateway-timeouts"`
	PrivateTimeouts      TimeoutConfig   `json:"private-timeouts"`
	Upstream             UpstreamConfig  `json:"upstream"`
	Cache                CacheConfig     `json:"cache"`
	Schema               SchemaConfig    `json:"schema"`
	LogLevel             log.Level       `json:"loglevel"`
	Telemetry            TelemetryConfig `json:"telemetry"`
	Plugins              []PluginConfig

	plugins     []Plugin
	gateway     *Gateway
	cache       ResponseCache
	watcher     *fsnotify.Watcher
	tracer      trace.Tracer
	configFiles []string
	linkedFiles []string
}

func (c *Config) addrOrPort(addr string, port int) string {
	if addr != "" {
		return addr
	}
	return fmt.Sprintf(":%d", port)
}

// GatewayAddress returns the host:port string of the gateway
func (c *Config) GatewayAddress() string {
	return c.addrOrPort(c.GatewayListenAddress, c.GatewayPort)
}

// PrivateAddress returns the address for private port
func (c *Config) PrivateAddress() string {
	return c.addrOrPort(c.PrivateListenAddress, c.PrivatePort)
}

// MetricAddress returns the address for the metric port
func (c *Config) MetricAddress() string {
	return c.addrOrPort(c.MetricsListenAddress, c.MetricsPort)
}

// Gateway returns the gateway built by Init.
func (c *Config) Gateway() *Gateway {
	return c.gateway
}

// Load loads or reloads all the config files. Plugins are not reconfigured.
func (c *Config) Load() error {
	// concatenate plugins from all the config files
	var plugins []PluginConfig
	for _, configFile := range c.configFiles {
		c.Plugins = nil
		if err := c.decodeFile(configFile); err != nil {
			return err
		}
		plugins = append(plugins, c.Plugins...)
	}
	c.Plugins = plugins

	logLevel := os.Getenv("AIRLOCK_LOG_LEVEL")
	if level, err := log.ParseLevel(logLevel); err == nil {
		c.LogLevel = level
	} else if logLevel != "" {
		log.WithField("loglevel", logLevel).Warn("invalid loglevel")
	}
	log.SetLevel(c.LogLevel)

	if upstream := os.Getenv("AIRLOCK_UPSTREAM_URL"); upstream != "" {
		c.Upstream.URL = upstream
	}
	if addr := os.Getenv("AIRLOCK_REDIS_ADDRESS"); addr != "" {
		c.Cache.Type = "redis"
		c.Cache.RedisAddress = addr
	}

	if err := validateUpstreamURL(c.Upstream.URL); err != nil {
		return err
	}

	var err error
	c.Upstream.TimeoutDuration, err = time.ParseDuration(c.Upstream.Timeout)
	if err != nil {
		return fmt.Errorf("invalid upstream timeout: %w", err)
	}
	c.Cache.TTLDuration, err = time.ParseDuration(c.Cache.TTL)
	if err != nil {
		return fmt.Errorf("invalid cache ttl: %w", err)
	}

	c.DefaultTimeouts.ReadTimeoutDuration, err = time.ParseDuration(c.DefaultTimeouts.ReadTimeout)
	if err != nil {
		return fmt.Errorf("invalid default read timeout: %w", err)
	}
	c.DefaultTimeouts.WriteTimeoutDuration, err = time.ParseDuration(c.DefaultTimeouts.WriteTimeout)
	if err != nil {
		return fmt.Errorf("invalid default write timeout: %w", err)
	}
	c.DefaultTimeouts.IdleTimeoutDuration, err = time.ParseDuration(c.DefaultTimeouts.IdleTimeout)
	if err != nil {
		return fmt.Errorf("invalid default idle timeout: %w", err)
	}
	if err = c.loadTimeouts(&c.GatewayTimeouts, "gateway", c.DefaultTimeouts); err != nil {
		return err
	}
	return c.loadTimeouts(&c.PrivateTimeouts, "private", c.DefaultTimeouts)
}

func (c *Config) decodeFile(configFile string) error {
	f, err := os.Open(configFile)
	if err != nil {
		return err
	}
	defer f.Close()
	if err := json.NewDecoder(f).Decode(c); err != nil && err != io.EOF {
		return fmt.Errorf("error decoding config file %q: %w", configFile, err)
	}
	return nil
}

func validateUpstreamURL(raw string) error {
	u, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("invalid upstream url: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("invalid upstream url %q: scheme must be http or https", raw)
	}
	if u.Host == "" {
		return fmt.Errorf("invalid upstream url %q: missing host", raw)
	}
	return nil
}

func (c *Config) loadTimeouts(config *TimeoutConfig, name string, defaults TimeoutConfig) error {
	var err error
	if config.ReadTimeout != "" {
		config.ReadTimeoutDuration, err = time.ParseDuration(config.ReadTimeout)
		if err != nil {
			return fmt.Errorf("invalid %s read timeout: %w", name, err)
		}
	}
	if config.ReadTimeoutDuration == 0 {
		config.ReadTimeoutDuration = defaults.ReadTimeoutDuration
	}
	if config.WriteTimeout != "" {
		config.WriteTimeoutDuration, err = time.ParseDuration(config.WriteTimeout)
		if err != nil {
			return fmt.Errorf("invalid %s write timeout: %w", name, err)
		}
	}
	if config.WriteTimeoutDuration == 0 {
		config.WriteTimeoutDuration = defaults.WriteTimeoutDuration
	}
	if config.IdleTimeout != "" {
		config.IdleTimeoutDuration, err = time.ParseDuration(config.IdleTimeout)
		if err != nil {
			return fmt.Errorf("invalid %s idle timeout: %w", name, err)
		}
	}
	if config.IdleTimeoutDuration == 0 {
		config.IdleTimeoutDuration = defaults.IdleTimeoutDuration
	}
	return nil
}

// Watch starts watching the config files for change.
func (c *Config) Watch() {
	for {
		select {
		case err, ok := <-c.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Error("config watch error")
		case e, ok := <-c.watcher.Events:
			if !ok {
				return
			}
			log.WithFields(log.Fields{"event": e, "files": c.configFiles, "links": c.linkedFiles}).Debug("received config file event")
			shouldUpdate := false
			for i := range c.configFiles {
				// we want to reload the config if:
				// - the config file was updated, or
				// - the config file is a symlink and was changed (k8s config map update)
				if filepath.Clean(e.Name) == c.configFiles[i] && (e.Op == fsnotify.Write || e.Op == fsnotify.Create) {
					shouldUpdate = true
					break
				}
				currentFile, _ := filepath.EvalSymlinks(c.configFiles[i])
				if c.linkedFiles[i] != "" && c.linkedFiles[i] != currentFile {
					c.linkedFiles[i] = currentFile
					shouldUpdate = true
					break
				}
			}

			if !shouldUpdate {
				log.Debug("nothing to update")
				continue
			}

			if e.Op != fsnotify.Write && e.Op != fsnotify.Create {
				log.Debug("ignoring non write/create event")
				continue
			}

			if err := c.reload(); err != nil {
				log.WithError(err).Error("error reloading config")
			}
		}
	}
}

func (c *Config) reload() error {
	_, span := c.tracer.Start(context.Background(), "Config Reload")
	defer span.End()

	if err := c.Load(); err != nil {
		return err
	}

	if c.gateway != nil {
		c.gateway.Configure(c.Upstream, c.Cache.TTLDuration)
	}

	log.WithField("upstream", c.Upstream.URL).Info("config file updated")
	return nil
}

// GetConfig returns operational config for the gateway
func GetConfig(configFiles []string) (*Config, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("could not create watcher: %w", err)
	}
	var linkedFiles []string
	for i, configFile := range configFiles {
		configFiles[i] = filepath.Clean(configFile)
		// watch the directory, else we'll lose the watch if the file is relinked
		err = watcher.Add(filepath.Dir(configFile))
		if err != nil {
			return nil, fmt.Errorf("error add file to watcher: %w", err)
		}
		linkedFile, _ := filepath.EvalSymlinks(configFile)
		linkedFiles = append(linkedFiles, linkedFile)
	}

	cfg := Config{
		DefaultTimeouts: TimeoutConfig{
			ReadTimeout:  "5s",
			WriteTimeout: "10s",
			IdleTimeout:  "120s",
		},
		GatewayPort: 8082,
		PrivatePort: 8083,
		MetricsPort: 9009,
		Upstream: UpstreamConfig{
			URL:             DefaultUpstreamURL,
			Timeout:         "5s",
			MaxResponseSize: 1024 * 1024,
		},
		Cache: CacheConfig{
			Type:    "memory",
			TTL:     "30s",
			MaxCost: 64 << 20,
		},
		Schema: SchemaConfig{
			MaxParallelism: 10,
			MaxDepth:       10,
		},
		LogLevel: log.InfoLevel,

		watcher:     watcher,
		tracer:      otel.GetTracerProvider().Tracer(instrumentationName),
		configFiles: configFiles,
		linkedFiles: linkedFiles,
	}
	if err = cfg.Load(); err != nil {
		return &cfg, err
	}
	// plugins serve requests from the config they get here, changing their
	// settings needs a restart
	cfg.plugins, err = cfg.ConfigurePlugins()

	return &cfg, err
}

// ConfigurePlugins calls the Configure method on each plugin.
func (c *Config) ConfigurePlugins() ([]Plugin, error) {
	var enabledPlugins []Plugin
	for _, pl := range c.Plugins {
		p, ok := RegisteredPlugins()[pl.Name]
		if !ok {
			log.Warnf("plugin %q not found", pl.Name)
			continue
		}
		if err := p.Configure(c, pl.Config); err != nil {
			return nil, fmt.Errorf("error configuring plugin %q: %w", pl.Name, err)
		}
		enabledPlugins = append(enabledPlugins, p)
	}

	return enabledPlugins, nil
}

// Init builds the response cache, the schema and the gateway.
func (c *Config) Init() error {
	cache, err := NewResponseCache(c.Cache)
	if err != nil {
		return &StartupError{Stage: "cache", Err: err}
	}
	c.cache = cache

	schema, err := NewSchema(c.Schema)
	if err != nil {
		return err
	}

	c.gateway = NewGateway(schema, cache, c.plugins)
	c.gateway.Configure(c.Upstream, c.Cache.TTLDuration)

	var pluginsNames []string
	for _, plugin := range c.plugins {
		plugin.Init(c.gateway)
		pluginsNames = append(pluginsNames, plugin.ID())
	}
	log.Infof("enabled plugins: %v", pluginsNames)

	return nil
}

// Close stops watching the config files and releases the response cache.
func (c *Config) Close() error {
	if closer, ok := c.cache.(interface{ Close() error }); ok {
		if err := closer.Close(); err != nil {
			log.WithError(err).Error("error closing cache")
		}
	} else if closer, ok := c.cache.(interface{ Close() }); ok {
		closer.Close()
	}
	if c.watcher == nil {
		return nil
	}
	return c.watcher.Close()
}

type arrayFlags []string

func (a *arrayFlags) String() string {
	return strings.Join(*a, ",")
}

func (a *arrayFlags) Set(value string) error {
	*a = append(*a, value)
	return nil
}
