// Package server exposes the event stream to external consumers over a
// websocket push endpoint, plus a small status probe.
package server

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/yanun0323/logs"

	"marketfeed/internal/event"
	"marketfeed/internal/feed"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Hub fans bus events out to connected websocket clients. A client that
// cannot keep up is pruned rather than allowed to block the loop.
type Hub struct {
	usecase    *feed.Usecase
	register   chan *Client
	unregister chan *Client
	clients    map[*Client]struct{}
	done       chan struct{}
}

func NewHub(usecase *feed.Usecase) *Hub {
	return &Hub{
		usecase:    usecase,
		register:   make(chan *Client),
		unregister: make(chan *Client),
		clients:    make(map[*Client]struct{}),
		done:       make(chan struct{}),
	}
}

// Run pumps events to clients until ctx is done or the bus closes.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	consumer := h.usecase.Attach(1024, event.OverflowDropOldest)
	defer h.usecase.Detach(consumer)

	events := make(chan event.Event, 256)
	go func() {
		defer close(events)
		for {
			evt, ok := consumer.Next()
			if !ok {
				return
			}
			select {
			case events <- evt:
			case <-ctx.Done():
				return
			}
		}
	}()

	defer func() {
		for client := range h.clients {
			delete(h.clients, client)
			close(client.send)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = struct{}{}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}

		case evt, ok := <-events:
			if !ok {
				return
			}
			payload, err := json.Marshal(evt)
			if err != nil {
				logs.Errorf("marshal event: %+v", err)
				continue
			}
			for client := range h.clients {
				select {
				case client.send <- payload:
				default:
					// Slow consumer; dropping it keeps the loop live.
					delete(h.clients, client)
					close(client.send)
				}
			}
		}
	}
}

// HandleWebSocket upgrades the request and attaches the client to the hub.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		logs.Warnf("upgrade websocket: %+v", err)
		return
	}

	client := &Client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, 256),
	}
	if !h.add(client) {
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// add hands the client to the pump loop; false means the hub already shut
// down and the caller must close the connection itself.
func (h *Hub) add(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) remove(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// HandleStatus reports connection and cache liveness as JSON.
func (h *Hub) HandleStatus(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(h.usecase.Status())
}
