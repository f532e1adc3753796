// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package api

import (
	"errors"
	"net/http"
	"strings"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/websocket"
)

// WebSocket handles GET /api/v1/ws?user=... and subscribes the connection
// to that user's notifications.
func (h *Handler) WebSocket(w http.ResponseWriter, r *http.Request) {
	rw := NewResponseWriter(w, r)
	if h.hub == nil {
		rw.ServiceUnavailable("notifications are disabled")
		return
	}
	user := strings.TrimSpace(r.URL.Query().Get("user"))
	switch {
	case user == "":
		rw.BadRequest(errUserRequired.Error())
		return
	case len(user) > maxUserIDLen:
		rw.BadRequest(errUserTooLong.Error())
		return
	}

	if err := h.hub.Attach(&h.upgrader, w, r, user); err != nil {
		// A failed upgrade has already been answered by the upgrader.
		if errors.Is(err, websocket.ErrHubStopped) {
			logging.Ctx(r.Context()).Debug().Str("user_id", user).Msg("websocket rejected during shutdown")
			return
		}
		logging.Ctx(r.Context()).Debug().Err(err).Str("user_id", user).Msg("websocket upgrade failed")
	}
}
