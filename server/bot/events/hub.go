package events

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

type Event struct {
	Kind     string    `json:"kind"`
	GuildID  string    `json:"guild_id"`
	FileName string    `json:"file_name,omitempty"`
	Volume   float64   `json:"volume,omitempty"`
	At       time.Time `json:"at"`
}

type wsConn interface {
	WriteJSON(v any) error
	Close() error
}

type client struct {
	conn wsConn
	mu   sync.Mutex
}

func (c *client) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Hub broadcasts playback events to connected ops clients. Clients that
// fail a write are dropped.
type Hub struct {
	mu      sync.RWMutex
	clients map[*client]struct{}
}

func NewHub() *Hub {
	return &Hub{clients: map[*client]struct{}{}}
}

func (h *Hub) Register(conn *websocket.Conn) func() {
	return h.register(conn)
}

func (h *Hub) register(conn wsConn) func() {
	c := &client{conn: conn}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	return func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()
		_ = conn.Close()
	}
}

func (h *Hub) Broadcast(event Event) {
	if event.At.IsZero() {
		event.At = time.Now()
	}

	h.mu.RLock()
	targets := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		targets = append(targets, c)
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if err := c.writeJSON(event); err != nil {
			h.mu.Lock()
			delete(h.clients, c)
			h.mu.Unlock()
			_ = c.conn.Close()
		}
	}
}

func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) PlaybackStarted(guildID, fileName string) {
	h.Broadcast(Event{Kind: "playback_started", GuildID: guildID, FileName: fileName})
}

func (h *Hub) PlaybackStopped(guildID string) {
	h.Broadcast(Event{Kind: "playback_stopped", GuildID: guildID})
}

func (h *Hub) VolumeChanged(guildID string, volume float64) {
	h.Broadcast(Event{Kind: "volume_changed", GuildID: guildID, Volume: volume})
}
