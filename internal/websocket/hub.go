// Geotimeline - Location History Timeline Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/geotimeline

package websocket

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/goccy/go-json"
	"github.com/rs/zerolog"

	"github.com/tomtom215/geotimeline/internal/logging"
	"github.com/tomtom215/geotimeline/internal/metrics"
)

// Message types sent to clients. The timeline types match the
// eventprocessor broadcast names.
const (
	MessageTypePing              = "ping"
	MessageTypePong              = "pong"
	MessageTypePointsStored      = "points_stored"
	MessageTypePlaceCreated      = "place_created"
	MessageTypePlaceGeocoded     = "place_geocoded"
	MessageTypeVisitCreated      = "visit_created"
	MessageTypeTripRecalculation = "trip_recalculation"
)

// broadcastBuffer bounds queued broadcasts. When full, new broadcasts are
// dropped.
const broadcastBuffer = 256

// Message is the JSON frame exchanged with clients.
type Message struct {
	Type   string `json:"type"`
	UserID string `json:"user_id,omitempty"`
	Data   any    `json:"data,omitempty"`
}

// Hub tracks connected clients and fans messages out to the clients of the
// addressed user.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Message
	Register   chan *Client
	Unregister chan *Client
	mu         sync.RWMutex
	log        zerolog.Logger

	stopped  chan struct{}
	stopOnce sync.Once
}

func NewHub() *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Message, broadcastBuffer),
		Register:   make(chan *Client),
		Unregister: make(chan *Client),
		log:        logging.WithComponent("websocket-hub"),
		stopped:    make(chan struct{}),
	}
}

// Serve runs the hub until ctx is done, then closes every client. Client
// lifecycle events are handled before queued broadcasts so a client that
// just connected sees the next message.
func (h *Hub) Serve(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		default:
		}

		select {
		case client := <-h.Register:
			h.add(client)
			continue
		case client := <-h.Unregister:
			h.remove(client)
			continue
		default:
		}

		select {
		case <-ctx.Done():
			h.shutdown(ctx)
			return ctx.Err()
		case client := <-h.Register:
			h.add(client)
		case client := <-h.Unregister:
			h.remove(client)
		case msg := <-h.broadcast:
			h.deliver(msg)
		}
	}
}

func (h *Hub) add(c *Client) {
	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebSocketClients(n)
	h.log.Debug().Str("user_id", c.userID).Int("total_clients", n).Msg("websocket client connected")
}

func (h *Hub) remove(c *Client) {
	h.mu.Lock()
	if h.clients[c] {
		delete(h.clients, c)
		close(c.send)
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.SetWebSocketClients(n)
	h.log.Debug().Str("user_id", c.userID).Int("total_clients", n).Msg("websocket client disconnected")
}

func (h *Hub) shutdown(ctx context.Context) {
	h.stopOnce.Do(func() { close(h.stopped) })

	h.mu.Lock()
	n := len(h.clients)
	for _, c := range h.sortedClients() {
		close(c.send)
		delete(h.clients, c)
	}
	h.mu.Unlock()
	metrics.SetWebSocketClients(0)

	reason := "context_canceled"
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		reason = "context_deadline"
	}
	h.log.Info().Str("reason", reason).Int("clients_closed", n).Msg("websocket hub stopped")
}

// sortedClients returns clients in connection order. Callers hold h.mu.
func (h *Hub) sortedClients() []*Client {
	clients := make([]*Client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool { return clients[i].id < clients[j].id })
	return clients
}

// deliver hands msg to every client of msg.UserID. A client whose send
// buffer is full is disconnected.
func (h *Hub) deliver(msg Message) {
	h.mu.Lock()
	defer h.mu.Unlock()

	var slow []*Client
	for _, c := range h.sortedClients() {
		if c.userID != msg.UserID {
			continue
		}
		select {
		case c.send <- msg:
		default:
			slow = append(slow, c)
		}
	}
	for _, c := range slow {
		close(c.send)
		delete(h.clients, c)
		metrics.RecordWebSocketDrop()
		h.log.Warn().Str("user_id", c.userID).Msg("websocket client too slow, disconnected")
	}
	if len(slow) > 0 {
		metrics.SetWebSocketClients(len(h.clients))
	}
}

// Broadcast queues a message for userID's clients. It never blocks; when the
// queue is full the message is dropped.
func (h *Hub) Broadcast(userID, msgType string, data any) {
	select {
	case h.broadcast <- Message{Type: msgType, UserID: userID, Data: data}:
	default:
		metrics.RecordWebSocketDrop()
		h.log.Warn().Str("message_type", msgType).Str("user_id", userID).Msg("broadcast channel full, dropping message")
	}
}

func (h *Hub) String() string { return "websocket-hub" }

// Stopped is closed once Serve has returned.
func (h *Hub) Stopped() <-chan struct{} {
	return h.stopped
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// MarshalMessage encodes msg as a JSON frame.
func MarshalMessage(msg Message) ([]byte, error) {
	return json.Marshal(msg)
}
