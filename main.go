package airlock

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Main runs the gateway. This function is exported so that it can be reused
// when building the gateway with custom plugins.
func Main() {
	var configFiles arrayFlags
	flag.Var(&configFiles, "config", "Config file (can appear multiple times)")
	flag.Parse()

	log.SetFormatter(&log.JSONFormatter{TimestampFormat: time.RFC3339Nano})

	if err := Run(context.Background(), configFiles); err != nil {
		log.WithError(err).Error("airlock stopped")
		os.Exit(1)
	}
}

// Run starts the gateway and blocks until ctx is cancelled or the process
// receives SIGINT or SIGTERM. Errors returned before the handlers are
// serving are *StartupError.
func Run(ctx context.Context, configFiles []string) error {
	cfg, err := GetConfig(configFiles)
	if err != nil {
		if cfg != nil {
			cfg.Close()
		}
		return &StartupError{Stage: "config", Err: err}
	}
	defer cfg.Close()

	shutdown, err := InitTelemetry(ctx, cfg.Telemetry)
	if err != nil {
		log.WithError(err).Error("error creating telemetry")
	} else {
		defer func() {
			log.Info("flushing and shutting down telemetry")
			if err := shutdown(context.Background()); err != nil {
				log.WithError(err).Error("shutting down telemetry")
			}
		}()
	}

	if err := cfg.Init(); err != nil {
		return err
	}
	// reloads reconfigure the gateway built by Init
	go cfg.Watch()

	log.WithFields(log.Fields{
		"upstream": cfg.Upstream.URL,
		"cache":    cfg.Cache.Type,
	}).Debug("configuration")

	gtw := cfg.Gateway()
	RegisterMetrics()

	handlers := []struct {
		name     string
		addr     string
		timeouts TimeoutConfig
		handler  http.Handler
	}{
		{"metrics", cfg.MetricAddress(), cfg.DefaultTimeouts, NewMetricsHandler()},
		{"private", cfg.PrivateAddress(), cfg.PrivateTimeouts, gtw.PrivateRouter()},
		{"public", cfg.GatewayAddress(), cfg.GatewayTimeouts, gtw.Router()},
	}

	// bind every listener before serving, so that an address already in use
	// fails the startup
	listeners := make([]net.Listener, 0, len(handlers))
	for _, h := range handlers {
		ln, err := net.Listen("tcp", h.addr)
		if err != nil {
			for _, l := range listeners {
				l.Close()
			}
			return &StartupError{Stage: fmt.Sprintf("%s listener", h.name), Err: err}
		}
		listeners = append(listeners, ln)
	}

	ctx, cancel := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer cancel()

	g, ctx := errgroup.WithContext(ctx)
	for i, h := range handlers {
		ln := listeners[i]
		g.Go(func() error {
			return runHandler(ctx, h.name, ln, h.timeouts, h.handler)
		})
	}

	return g.Wait()
}

func runHandler(ctx context.Context, name string, ln net.Listener, timeouts TimeoutConfig, handler http.Handler) error {
	srv := &http.Server{
		Handler:      handler,
		ReadTimeout:  timeouts.ReadTimeoutDuration,
		WriteTimeout: timeouts.WriteTimeoutDuration,
		IdleTimeout:  timeouts.IdleTimeoutDuration,
	}

	errc := make(chan error, 1)
	go func() {
		log.WithField("addr", ln.Addr().String()).Infof("serving %s handler", name)
		errc <- srv.Serve(ln)
	}()

	select {
	case err := <-errc:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("%s handler terminated unexpectedly: %w", name, err)
	case <-ctx.Done():
	}

	timeoutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	log.Infof("shutting down %s handler", name)
	if err := srv.Shutdown(timeoutCtx); err != nil {
		log.WithError(err).Error("error shutting down server")
	}
	log.Infof("shut down %s handler", name)
	return nil
}
