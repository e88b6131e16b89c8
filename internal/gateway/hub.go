// Package gateway fans live status snapshots out to WebSocket dashboard
// clients. The tick loop publishes into an SPSC ring buffer; the hub's
// broadcaster drains it and pushes envelopes to every connected client.
// Slow clients are dropped rather than allowed to backpressure the feed.
package gateway

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"sentinelsniper/internal/metrics"
	"sentinelsniper/internal/model"
	"sentinelsniper/internal/ringbuf"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The dashboard is served from a different origin in development.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Hub manages WebSocket clients and snapshot fan-out.
type Hub struct {
	ring    *ringbuf.Ring
	metrics *metrics.Metrics

	mu      sync.RWMutex
	clients map[*Client]bool
	latest  json.RawMessage // last envelope, replayed to new clients
	seq     int64

	stop chan struct{}
	done chan struct{}
}

// envelope is the wire format pushed to clients.
type envelope struct {
	Channel string             `json:"channel"`
	Seq     int64              `json:"seq"`
	TS      string             `json:"ts"`
	Data    model.LiveSnapshot `json:"data"`
}

// NewHub creates a hub draining ring. m may be nil.
func NewHub(ring *ringbuf.Ring, m *metrics.Metrics) *Hub {
	return &Hub{
		ring:    ring,
		metrics: m,
		clients: make(map[*Client]bool),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
}

// Run drains the ring buffer and broadcasts until Shutdown. Blocks; run in
// its own goroutine.
func (h *Hub) Run() {
	defer close(h.done)
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-h.stop:
			return
		case <-ticker.C:
			for {
				snap, ok := h.ring.Pop()
				if !ok {
					break
				}
				h.broadcast(snap)
			}
		}
	}
}

// Shutdown stops the broadcaster and closes every client connection.
func (h *Hub) Shutdown() {
	close(h.stop)
	<-h.done

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.clients {
		close(c.send)
		delete(h.clients, c)
	}
}

// ServeWS upgrades an HTTP request and registers the peer. The most recent
// snapshot, if any, is replayed immediately so the dashboard renders
// without waiting for the next tick.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("[gateway] ws upgrade failed: %v", err)
		return
	}

	c := &Client{conn: conn, send: make(chan []byte, 64), hub: h}

	h.mu.Lock()
	h.clients[c] = true
	n := len(h.clients)
	if h.latest != nil {
		c.send <- h.latest
	}
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(n))
	}
	log.Printf("[gateway] ws client connected (%d total)", n)

	go c.writePump()
	go c.readPump()
}

// ClientCount returns the number of connected peers.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcast(snap model.LiveSnapshot) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	payload, err := json.Marshal(envelope{
		Channel: "live.status",
		Seq:     h.seq,
		TS:      snap.Timestamp.Format(time.RFC3339Nano),
		Data:    snap,
	})
	if err != nil {
		log.Printf("[gateway] marshal envelope: %v", err)
		return
	}
	h.latest = payload

	for c := range h.clients {
		select {
		case c.send <- payload:
		default:
			// Slow consumer: drop the connection, never the feed.
			close(c.send)
			delete(h.clients, c)
			if h.metrics != nil {
				h.metrics.SnapshotDrops.Inc()
			}
			log.Printf("[gateway] dropped slow ws client (%d left)", len(h.clients))
		}
	}
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}

// removeClient unregisters a peer after its read pump exits.
func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.clients[c] {
		close(c.send)
		delete(h.clients, c)
	}
	if h.metrics != nil {
		h.metrics.WSClients.Set(float64(len(h.clients)))
	}
}
