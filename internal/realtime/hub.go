package realtime

import (
	"sync"

	"github.com/rs/zerolog"

	"github.com/noah-isme/medilink-api/internal/observability"
)

// Stats summarises the hub state of this node.
type Stats struct {
	Connections int `json:"connections"`
	Rooms       int `json:"rooms"`
	Users       int `json:"users"`
}

// Hub tracks local websocket clients and the rooms they belong to.
type Hub struct {
	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}
	log     zerolog.Logger
}

// NewHub constructs an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
		log:     logger.With().Str("component", "realtime_hub").Logger(),
	}
}

func (h *Hub) attach(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = struct{}{}
	observability.RealtimeConnections().Inc()
}

// Join adds the client to room. Joining twice is a no-op.
func (h *Hub) Join(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, exists := h.rooms[room]; !exists {
		h.rooms[room] = make(map[*Client]struct{})
	}
	h.rooms[room][client] = struct{}{}
	client.rooms[room] = struct{}{}
	h.log.Debug().Str("room", room).Str("user_id", client.userID).Msg("client joined room")
}

// Leave removes the client from room.
func (h *Hub) Leave(room string, client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(room, client)
}

// LeaveAll detaches the client from every room and from the hub.
func (h *Hub) LeaveAll(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for room := range client.rooms {
		h.leaveLocked(room, client)
	}
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		observability.RealtimeConnections().Dec()
	}
}

func (h *Hub) leaveLocked(room string, client *Client) {
	delete(client.rooms, room)
	if members, ok := h.rooms[room]; ok {
		delete(members, client)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Deliver queues frame for every member of room and returns how many clients accepted it.
// Members whose send buffer is full miss the frame.
func (h *Hub) Deliver(room string, frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.rooms[room] {
		if client.enqueue(frame) {
			delivered++
			continue
		}
		observability.RealtimeDropped().WithLabelValues("slow_consumer").Inc()
		h.log.Warn().Str("room", room).Str("user_id", client.userID).Msg("dropping realtime frame for slow client")
	}
	return delivered
}

// DeliverAll queues frame for every attached client.
func (h *Hub) DeliverAll(frame []byte) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	delivered := 0
	for client := range h.clients {
		if client.enqueue(frame) {
			delivered++
			continue
		}
		observability.RealtimeDropped().WithLabelValues("slow_consumer").Inc()
	}
	return delivered
}

// Members returns the number of clients in room.
func (h *Hub) Members(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	return len(h.rooms[room])
}

func (h *Hub) isMember(room string, client *Client) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()

	_, ok := client.rooms[room]
	return ok
}

// Stats returns connection and room counts.
func (h *Hub) Stats() Stats {
	h.mu.RLock()
	defer h.mu.RUnlock()

	stats := Stats{Connections: len(h.clients), Rooms: len(h.rooms)}
	for room := range h.rooms {
		if isUserRoom(room) {
			stats.Users++
		}
	}
	return stats
}
