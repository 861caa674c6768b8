// Package stream pushes toasts and live price updates to dashboard clients
// over WebSocket.
package stream

import (
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"market-pulse/models"
	"market-pulse/observability"
)

const (
	EventToast = "toast"
	EventPrice = "price"
)

// broadcastBuffer bounds the events waiting for the hub loop
const broadcastBuffer = 256

// Event is a single message written to every connected client
type Event struct {
	Type  string                `json:"type"`
	Toast *models.Toast         `json:"toast,omitempty"`
	Asset *models.AssetSnapshot `json:"asset,omitempty"`
	Time  time.Time             `json:"time"`
}

// Hub fans events out to connected WebSocket clients. Clients that cannot
// keep up are disconnected so the loop never blocks.
type Hub struct {
	clients    map[*client]struct{}
	register   chan *client
	unregister chan *client
	broadcast  chan Event

	done     chan struct{}
	stopOnce sync.Once
	count    atomic.Int64

	upgrader websocket.Upgrader
}

// NewHub creates a hub. Call Run to start delivering events.
func NewHub(allowedOrigins string) *Hub {
	return &Hub{
		clients:    make(map[*client]struct{}),
		register:   make(chan *client),
		unregister: make(chan *client),
		broadcast:  make(chan Event, broadcastBuffer),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     originChecker(allowedOrigins),
		},
	}
}

func originChecker(allowed string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return allowed == "*" || origin == "" || origin == allowed
	}
}

// Run is the hub loop. It returns after Stop.
func (h *Hub) Run() {
	for {
		select {
		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			observability.Debug("stream client connected", "clients", len(h.clients))

		case c := <-h.unregister:
			h.drop(c)

		case ev := <-h.broadcast:
			for c := range h.clients {
				select {
				case c.send <- ev:
				default:
					observability.Warn("stream client too slow, disconnecting")
					h.drop(c)
				}
			}

		case <-h.done:
			for c := range h.clients {
				h.drop(c)
			}
			return
		}
	}
}

func (h *Hub) drop(c *client) {
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.send)
	h.count.Store(int64(len(h.clients)))
}

// Stop disconnects every client and ends Run. It is safe to call more than once.
func (h *Hub) Stop() {
	h.stopOnce.Do(func() {
		close(h.done)
	})
}

// ClientCount returns the number of connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Toast broadcasts a toast event
func (h *Hub) Toast(toast models.Toast) {
	h.publish(Event{Type: EventToast, Toast: &toast, Time: time.Now()})
}

// OnPrice broadcasts a live price update
func (h *Hub) OnPrice(asset models.AssetSnapshot) {
	asset = asset.Clone()
	h.publish(Event{Type: EventPrice, Asset: &asset, Time: time.Now()})
}

func (h *Hub) publish(ev Event) {
	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- ev:
	case <-h.done:
	default:
		observability.Debug("stream broadcast buffer full, dropping event", "type", ev.Type)
	}
}

// ServeHTTP upgrades the request and attaches the connection to the hub
func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		observability.Warn("failed to upgrade stream connection", "error", err)
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan Event, broadcastBuffer),
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
