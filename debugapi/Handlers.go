/*
File Name:  Handlers.go
Copyright:  2021 Peernet s.r.o.
Author:     Peter Kleissner
*/

package debugapi

import (
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

/*
handlePeers returns the peer-liveness registry.

Request:    GET /peers
Result:     200 with JSON array of core.PeerInfo
*/
func (api *Instance) handlePeers(w http.ResponseWriter, r *http.Request) {
	encodeJSON(api.Backend, w, r, api.Backend.PeerList())
}

/*
handleSessions returns every tracked Noise session.

Request:    GET /sessions
Result:     200 with JSON array of noise.SessionInfo
*/
func (api *Instance) handleSessions(w http.ResponseWriter, r *http.Request) {
	encodeJSON(api.Backend, w, r, api.Backend.SessionList())
}

/*
handleStats returns a snapshot of the node's current vital signs.

Request:    GET /stats
Result:     200 with JSON core.Stats
*/
func (api *Instance) handleStats(w http.ResponseWriter, r *http.Request) {
	encodeJSON(api.Backend, w, r, api.Backend.Stats())
}

/*
handleEvents upgrades the connection to a websocket and relays every
capability-API event as it happens, until the connection breaks or the
API is stopped.

Request:    GET /events
Result:     Upgrades to a websocket, sends JSON core.DebugEvent messages.
*/
func (api *Instance) handleEvents(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		// gorilla already replied with an error status.
		return
	}
	defer conn.Close()

	id, events := api.Backend.SubscribeEvents()
	defer api.Backend.UnsubscribeEvents(id)

	// A dead peer on the other end only surfaces once a write fails;
	// a short periodic ping catches it sooner.
	ping := time.NewTicker(30 * time.Second)
	defer ping.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			if werr := conn.WriteJSON(event); werr != nil {
				return
			}
		case <-ping.C:
			if werr := conn.WriteMessage(websocket.PingMessage, nil); werr != nil {
				return
			}
		}
	}
}
