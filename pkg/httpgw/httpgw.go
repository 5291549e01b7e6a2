// MIT License
//
// Copyright (c) 2023 kache.io
//
// Permission is hereby granted, free of charge, to any person obtaining a copy
// of this software and associated documentation files (the "Software"), to deal
// in the Software without restriction, including without limitation the rights
// to use, copy, modify, merge, publish, distribute, sublicense, and/or sell
// copies of the Software, and to permit persons to whom the Software is
// furnished to do so, subject to the following conditions:
//
// The above copyright notice and this permission notice shall be included in all
// copies or substantial portions of the Software.
//
// THE SOFTWARE IS PROVIDED "AS IS", WITHOUT WARRANTY OF ANY KIND, EXPRESS OR
// IMPLIED, INCLUDING BUT NOT LIMITED TO THE WARRANTIES OF MERCHANTABILITY,
// FITNESS FOR A PARTICULAR PURPOSE AND NONINFRINGEMENT. IN NO EVENT SHALL THE
// AUTHORS OR COPYRIGHT HOLDERS BE LIABLE FOR ANY CLAIM, DAMAGES OR OTHER
// LIABILITY, WHETHER IN AN ACTION OF CONTRACT, TORT OR OTHERWISE, ARISING FROM,
// OUT OF OR IN CONNECTION WITH THE SOFTWARE OR THE USE OR OTHER DEALINGS IN THE
// SOFTWARE.

// Package httpgw wires the gateway package, its metrics, and its
// introspection API together into one runnable application.
package httpgw

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/kacheio/httpgw/pkg/api"
	"github.com/kacheio/httpgw/pkg/config"
	"github.com/kacheio/httpgw/pkg/gateway"
	"github.com/kacheio/httpgw/pkg/metrics"
	"github.com/kacheio/httpgw/pkg/utils/version"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
)

// HTTPGateway is the root data structure for the application.
type HTTPGateway struct {
	Config *config.Configuration
	loader *config.Loader

	Registerer prometheus.Registerer

	Metrics *metrics.Counters
	Gateway *gateway.Gateway
	API     *api.API
}

// New makes a new HTTPGateway.
func New(loader *config.Loader, registerer prometheus.Registerer) (*HTTPGateway, error) {
	gw := &HTTPGateway{
		loader:     loader,
		Config:     loader.Config(),
		Registerer: registerer,
	}

	if err := gw.setupModules(); err != nil {
		return nil, err
	}

	return gw, nil
}

// initMetrics initializes the Prometheus-backed counters.
func (t *HTTPGateway) initMetrics() error {
	t.Metrics = metrics.New(t.Registerer)
	return nil
}

// initGateway initializes the fetch gateway.
func (t *HTTPGateway) initGateway() error {
	cfg := gateway.Config{}
	if t.Config.Gateway != nil {
		cfg = *t.Config.Gateway
	}
	t.Gateway = gateway.New(cfg, t.Metrics)
	return nil
}

// initAPI initializes the introspection API.
func (t *HTTPGateway) initAPI() (err error) {
	apiCfg := config.API{}
	if t.Config.API != nil {
		apiCfg = *t.Config.API
	}
	t.API, err = api.New(apiCfg, t.Gateway)
	return err
}

// setupModules initializes the modules in dependency order.
func (t *HTTPGateway) setupModules() error {
	type initFn func() error
	modules := [...]struct {
		Name string
		Init initFn
	}{
		{"Metrics", t.initMetrics},
		{"Gateway", t.initGateway},
		{"API", t.initAPI},
	}

	for _, m := range modules {
		log.Debug().Msgf("initializing %s", m.Name)
		if err := m.Init(); err != nil {
			return err
		}
	}

	return nil
}

// reloadConfig reloads the config, triggered by a SIGHUP signal.
func (t *HTTPGateway) reloadConfig(ctx context.Context) error {
	reloaded, err := t.loader.Load(ctx)
	if err != nil {
		return err
	}
	if !reloaded {
		log.Info().Msg("config not reloaded, no changes detected")
		return nil
	}
	t.applyConfig()
	log.Info().Msg("config reloaded")
	return nil
}

// applyConfig applies the reloaded config to the running modules.
func (t *HTTPGateway) applyConfig() {
	t.Config = t.loader.Config()
	if t.Config.Gateway != nil {
		t.Gateway.UpdateLimits(*t.Config.Gateway)
	}
}

// Run starts the HTTPGateway and its services. Blocks until a shutdown
// signal is received.
func (t *HTTPGateway) Run() error {
	if t.loader.AutoReload() {
		if err := t.loader.Watch(context.Background()); err != nil {
			return err
		}
		defer t.loader.Close()
		go func() {
			for changed := range t.loader.Events {
				if !changed {
					continue
				}
				log.Info().Msg("config file changed, reloading config")
				t.applyConfig()
			}
		}()
	}

	signals := make(chan os.Signal, 1)
	signal.Notify(signals, syscall.SIGHUP)
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		for {
			select {
			case s := <-signals:
				if s == syscall.SIGHUP {
					log.Info().Msg("received SIGHUP, reloading config")
					if err := t.reloadConfig(context.Background()); err != nil {
						log.Error().Err(err).Msg("error reloading config")
					}
				}
			case <-stop:
				return
			}
		}
	}()

	go func() {
		if err := t.API.Run(); err != nil {
			log.Error().Err(err).Msg("API server stopped")
		}
	}()

	ctx, cancel := signal.NotifyContext(context.Background(),
		syscall.SIGINT, syscall.SIGTERM,
	)
	defer cancel()

	log.Info().Str("version", version.Info()).Msg("httpgw started")

	<-ctx.Done()

	log.Info().Msg("shutting down")
	t.Gateway.Close()
	return nil
}
