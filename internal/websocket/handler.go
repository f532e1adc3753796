// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package websocket

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/websocket"
)

// ErrHubStopped is returned when a connection arrives after shutdown.
var ErrHubStopped = errors.New("websocket hub stopped")

// NewUpgrader builds an upgrader that accepts the given origins. "*"
// accepts any origin. Requests without an Origin header are rejected since
// browsers always send one.
func NewUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
		HandshakeTimeout: 10 * time.Second,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return false
			}
			for _, allowed := range allowedOrigins {
				if allowed == "*" || strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// Attach upgrades the request and subscribes the connection to userID's
// messages. The upgrader has already written an HTTP error when the
// upgrade fails.
func (h *Hub) Attach(upgrader *websocket.Upgrader, w http.ResponseWriter, r *http.Request, userID string) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}
	client := NewClient(h, conn, userID)
	select {
	case h.Register <- client:
	case <-h.Stopped():
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"))
		_ = conn.Close()
		return ErrHubStopped
	case <-r.Context().Done():
		_ = conn.Close()
		return r.Context().Err()
	}
	client.Start()
	return nil
}
