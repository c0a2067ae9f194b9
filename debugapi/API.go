/*
File Name:  API.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner

A loopback-only HTTP surface for inspecting a running node: connected
peers, Noise session state, and a live event stream. Off by default;
never intended to be exposed beyond localhost.
*/

package debugapi

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	core "github.com/vaultmesh/core"
)

// Instance bundles a running backend with the mux.Router serving its
// debug routes.
type Instance struct {
	Backend *core.Backend
	Router  *mux.Router

	server   *http.Server
	listener net.Listener
}

// Addr returns the address the debug API is actually listening on,
// useful when Start was called with an ephemeral port (":0"-style).
func (api *Instance) Addr() string {
	return api.listener.Addr().String()
}

// wsUpgrader upgrades /events to a websocket. Start binds only to
// loopback; CheckOrigin accepts every Origin header.
var wsUpgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// ErrNotLoopback is returned by Start if listen does not resolve to a
// loopback address: the debug API is never meant to be reachable from
// the mesh or the wider network.
var ErrNotLoopback = errors.New("debugapi: listen address must be loopback")

// Start begins serving the debug API on listen (host:port) and returns
// once the listener is bound. The returned Instance's server runs in
// its own goroutine until Stop is called. listen must resolve to a
// loopback address.
func Start(backend *core.Backend, listen string) (*Instance, error) {
	if !isLoopbackAddr(listen) {
		return nil, ErrNotLoopback
	}

	api := &Instance{
		Backend: backend,
		Router:  mux.NewRouter(),
	}

	api.Router.HandleFunc("/peers", api.handlePeers).Methods("GET")
	api.Router.HandleFunc("/sessions", api.handleSessions).Methods("GET")
	api.Router.HandleFunc("/stats", api.handleStats).Methods("GET")
	api.Router.HandleFunc("/events", api.handleEvents).Methods("GET")

	listener, err := net.Listen("tcp", listen)
	if err != nil {
		return nil, err
	}
	api.listener = listener

	api.server = &http.Server{
		Handler:      api.Router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 0, // /events streams indefinitely
	}

	go func() {
		if serveErr := api.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			backend.LogError("debugapi.Start", "serve: %v", serveErr)
		}
	}()

	return api, nil
}

// Stop shuts the debug API down, closing any open /events streams.
func (api *Instance) Stop() error {
	if api.server == nil {
		return nil
	}
	return api.server.Close()
}

// isLoopbackAddr reports whether a host:port string's host is a
// loopback address. A missing host (e.g. ":8182", which net.Listen
// would bind on all interfaces) is rejected rather than assumed safe.
func isLoopbackAddr(listen string) bool {
	host, _, err := net.SplitHostPort(listen)
	if err != nil {
		return false
	}
	if host == "" {
		return false
	}
	if host == "localhost" {
		return true
	}
	ip := net.ParseIP(host)
	return ip != nil && ip.IsLoopback()
}

// encodeJSON writes data as a JSON response body.
func encodeJSON(backend *core.Backend, w http.ResponseWriter, r *http.Request, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(data); err != nil {
		backend.LogError("debugapi.encodeJSON", "encoding response for '%s': %v", r.URL.Path, err)
	}
}
