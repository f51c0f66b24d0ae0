package http

import (
	"sync"

	"github.com/rs/zerolog/log"
)

// outboundMessage is the envelope every emission travels in.
type outboundMessage struct {
	Event   string `json:"event"`
	Payload any    `json:"payload"`
}

// client is one connected socket's send side. The per-client buffered channel
// decouples broadcast fan-out from individual slow readers.
type client struct {
	id   string
	send chan outboundMessage
}

// Hub routes events to rooms of in-process connections. Durable membership
// lives in the shared store; the hub only knows which sockets this instance
// holds open.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*client
	rooms   map[string]map[string]struct{}
}

func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*client),
		rooms:   make(map[string]map[string]struct{}),
	}
}

func (h *Hub) register(c *client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c.id] = c
}

func (h *Hub) unregister(connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if c, ok := h.clients[connID]; ok {
		close(c.send)
		delete(h.clients, connID)
	}
	for room, members := range h.rooms {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

func (h *Hub) joinRoom(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.rooms[room] == nil {
		h.rooms[room] = make(map[string]struct{})
	}
	h.rooms[room][connID] = struct{}{}
}

func (h *Hub) leaveRoom(room, connID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if members, ok := h.rooms[room]; ok {
		delete(members, connID)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// memberRooms returns every room the connection currently belongs to.
func (h *Hub) memberRooms(connID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()
	var rooms []string
	for room, members := range h.rooms {
		if _, ok := members[connID]; ok {
			rooms = append(rooms, room)
		}
	}
	return rooms
}

// Emit delivers an event to every connection in the room.
func (h *Hub) Emit(room, event string, payload any) {
	h.emit(room, "", event, payload)
}

// EmitExcept delivers to the room minus one connection.
func (h *Hub) EmitExcept(room, exceptConnID, event string, payload any) {
	h.emit(room, exceptConnID, event, payload)
}

func (h *Hub) emit(room, exceptConnID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	msg := outboundMessage{Event: event, Payload: payload}
	for connID := range h.rooms[room] {
		if connID == exceptConnID {
			continue
		}
		c, ok := h.clients[connID]
		if !ok {
			continue
		}
		select {
		case c.send <- msg:
		default:
			// A full buffer means the reader is stuck; dropping beats
			// blocking every other recipient behind it.
			log.Warn().Str("room", room).Str("connId", connID).
				Str("event", event).Msg("dropping event for slow client")
		}
	}
}

// sendTo delivers an event to a single connection regardless of rooms.
func (h *Hub) sendTo(connID, event string, payload any) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	if c, ok := h.clients[connID]; ok {
		select {
		case c.send <- outboundMessage{Event: event, Payload: payload}:
		default:
		}
	}
}
