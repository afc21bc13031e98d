// Package gateway serves tracker output to browsers: a WebSocket push
// channel for live valuations and a small REST API for position CRUD
// and snapshots.
package gateway

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"optionledger/internal/markethours"
	"optionledger/internal/tracker"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// Single-user tool, same-origin policy intentionally relaxed.
	CheckOrigin: func(*http.Request) bool { return true },
}

// Hub fans tracker updates out to WebSocket clients. New clients get
// the latest envelope immediately so the UI renders without waiting
// for the next pass.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]bool
	latest  []byte

	// OnClientCount is invoked with the client total after every
	// connect/disconnect, for metrics.
	OnClientCount func(n int)
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*Client]bool)}
}

// Run consumes tracker updates until ctx is cancelled.
func (h *Hub) Run(ctx context.Context, updates <-chan tracker.Update) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			h.Broadcast(u)
		}
	}
}

// Broadcast envelopes an update and sends it to every client,
// dropping for clients whose send queue is full.
func (h *Hub) Broadcast(u tracker.Update) {
	envelope, err := json.Marshal(map[string]interface{}{
		"type":         "positions",
		"at":           u.At.Format(time.RFC3339),
		"marketOpen":   u.MarketOpen,
		"marketStatus": markethours.StatusString(u.At),
		"positions":    u.Positions,
		"summary":      u.Summary,
	})
	if err != nil {
		log.Printf("[gateway] envelope marshal: %v", err)
		return
	}

	// Send while holding the lock: removeClient closes send channels
	// under the same lock, so a closed channel is never written to.
	h.mu.Lock()
	h.latest = envelope
	for c := range h.clients {
		select {
		case c.send <- envelope:
		default:
		}
	}
	h.mu.Unlock()
}

// HandleWS upgrades the connection and registers the client.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade: %v", err)
		return
	}

	client := &Client{
		conn: conn,
		send: make(chan []byte, 16),
		hub:  h,
	}

	h.mu.Lock()
	h.clients[client] = true
	count := len(h.clients)
	if latest := h.latest; latest != nil {
		client.send <- latest
	}
	h.mu.Unlock()

	log.Printf("[gateway] ws client connected (%d total)", count)
	h.countChanged(count)

	go client.writePump()
	go client.readPump()
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	if !h.clients[c] {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c)
	close(c.send)
	count := len(h.clients)
	h.mu.Unlock()

	log.Printf("[gateway] ws client disconnected (%d total)", count)
	h.countChanged(count)
}

func (h *Hub) countChanged(n int) {
	if h.OnClientCount != nil {
		h.OnClientCount(n)
	}
}

// ClientCount returns the number of connected WebSocket clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}
