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

package api

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/kacheio/httpgw/pkg/config"
	"github.com/kacheio/httpgw/pkg/gateway"
	"github.com/rs/zerolog/log"
)

// statsSource is implemented by gateway.Gateway; introspection routes read
// through this interface instead of the concrete type so tests can supply a
// stub.
type statsSource interface {
	Stats() gateway.Stats
}

// API is the root introspection/debug HTTP surface. It never sits in the
// fetch path; it only reports what the gateway is doing.
type API struct {
	config config.API
	router *mux.Router
	filter *IPFilter
	gw     statsSource
}

// New creates a new API bound to gw, the gateway whose state it reports.
func New(cfg config.API, gw statsSource) (*API, error) {
	filter, err := NewIPFilter(cfg.ACL)
	if err != nil {
		return nil, err
	}

	a := &API{
		config: cfg,
		router: mux.NewRouter(),
		filter: filter,
		gw:     gw,
	}
	a.createRoutes()

	if cfg.Debug {
		DebugHandler{}.Append(a.router)
	}

	return a, nil
}

// Run starts the API server. Blocks until the listener fails.
func (a *API) Run() error {
	addr := fmt.Sprintf(":%d", a.config.Port)
	log.Debug().Str("addr", addr).Str("prefix", a.config.GetPrefix()).Msg("starting API server")
	return http.ListenAndServe(addr, a)
}

// ServeHTTP serves the API requests.
func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

// RegisterRoute registers a new handler at the given path, under the
// configured API prefix, subject to the access control list.
func (a *API) RegisterRoute(method, path string, handler http.HandlerFunc) {
	a.router.HandleFunc(a.config.GetPrefix()+path, a.filter.Wrap(handler)).Methods(method)
}

func (a *API) createRoutes() {
	VersionHandler{}.Append(a.router)
	a.RegisterRoute(http.MethodGet, "/stats", a.statsHandler)
}

// statsHandler reports the gateway's current admission snapshot as JSON.
func (a *API) statsHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if a.gw == nil {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	if err := json.NewEncoder(w).Encode(a.gw.Stats()); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
	}
}
