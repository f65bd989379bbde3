package events

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event is the JSON envelope sent to websocket clients.
type Event struct {
	ID        string      `json:"id"`
	Type      string      `json:"type"`
	Payload   interface{} `json:"payload"`
	Timestamp time.Time   `json:"timestamp"`
}

// NewEvent stamps payload with a fresh id and the current time.
func NewEvent(typ string, payload interface{}) Event {
	return Event{
		ID:        uuid.NewString(),
		Type:      typ,
		Payload:   payload,
		Timestamp: time.Now(),
	}
}

// Hub broadcasts events to connected websocket clients.
type Hub struct {
	clients map[*websocket.Conn]bool
	mu      sync.Mutex

	// serialises broadcasts so a connection never has two writers
	sendMu sync.Mutex
}

var _ Publisher = (*Hub)(nil)

func NewHub() *Hub {
	return &Hub{
		clients: make(map[*websocket.Conn]bool),
	}
}

func (h *Hub) AddClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[conn] = true
}

func (h *Hub) RemoveClient(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[conn]; ok {
		delete(h.clients, conn)
		conn.Close()
	}
}

// Len returns the number of connected clients.
func (h *Hub) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Publish wraps payload in an Event and broadcasts it.
func (h *Hub) Publish(typ string, payload interface{}) {
	h.Broadcast(NewEvent(typ, payload))
}

func (h *Hub) Broadcast(event Event) {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	h.mu.Lock()
	clients := make([]*websocket.Conn, 0, len(h.clients))
	for conn := range h.clients {
		clients = append(clients, conn)
	}
	h.mu.Unlock()

	var wg sync.WaitGroup
	var failed []*websocket.Conn
	var failedMu sync.Mutex

	for _, conn := range clients {
		wg.Add(1)
		go func(c *websocket.Conn) {
			defer wg.Done()
			// slow clients must not hold up the session
			c.SetWriteDeadline(time.Now().Add(100 * time.Millisecond))
			if err := c.WriteJSON(event); err != nil {
				failedMu.Lock()
				failed = append(failed, c)
				failedMu.Unlock()
			}
		}(conn)
	}
	wg.Wait()

	for _, conn := range failed {
		log.Debug().Str("remote", conn.RemoteAddr().String()).Msg("dropping websocket client")
		h.RemoveClient(conn)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}
