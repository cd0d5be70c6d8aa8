package telemetry

import (
	"context"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nshruti113/slice-sentinel/internal/models"
)

const writeWait = time.Second

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Message is the envelope sent to dashboard WebSocket clients
type Message struct {
	Type    string      `json:"type"`
	Payload interface{} `json:"payload"`
}

// Hub keeps the connected dashboard clients and broadcasts to them
type Hub struct {
	mu      sync.Mutex
	clients map[*websocket.Conn]bool
}

func NewHub() *Hub {
	return &Hub{clients: make(map[*websocket.Conn]bool)}
}

// ServeWS upgrades the request and holds the connection until the client
// goes away.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("WebSocket upgrade error: %v", err)
		return
	}

	h.mu.Lock()
	h.clients[conn] = true
	h.mu.Unlock()
	log.Println("New WebSocket client connected")

	defer func() {
		h.mu.Lock()
		delete(h.clients, conn)
		h.mu.Unlock()
		conn.Close()
	}()

	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// Clients returns the number of connected clients
func (h *Hub) Clients() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Broadcast sends a message to every client, dropping clients that fail
func (h *Hub) Broadcast(msgType string, payload interface{}) {
	h.broadcast(Message{Type: msgType, Payload: payload}, time.Now().Add(writeWait))
}

// broadcast writes msg to every client; all writes share one deadline
func (h *Hub) broadcast(msg Message, deadline time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		client.SetWriteDeadline(deadline)
		if err := client.WriteJSON(msg); err != nil {
			log.Printf("WebSocket write error: %v", err)
			client.Close()
			delete(h.clients, client)
		}
	}
}

// Deliver implements Sink. Writes stop at the ctx deadline when it is
// sooner than writeWait.
func (h *Hub) Deliver(ctx context.Context, record models.TelemetryRecord) error {
	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	h.broadcast(Message{Type: "new_packet", Payload: record}, deadline)
	return nil
}
