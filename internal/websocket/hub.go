package websocket

import (
	"context"
	"log/slog"
	"sync"

	"github.com/bytedance/sonic"

	"github.com/liga-sync/internal/domain"
)

// Hub maintains connected clients and the rooms they joined
type Hub struct {
	// Joined clients by room
	rooms map[domain.RoomKey]map[*Client]bool

	// All connected clients
	allClients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *delivery
	join       chan *roomRequest
	leave      chan *roomRequest

	mu     sync.RWMutex
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
}

type roomRequest struct {
	client *Client
	room   domain.RoomKey
}

type delivery struct {
	rooms []domain.RoomKey
	data  []byte
}

// HubStats summarizes the hub for the stats endpoint
type HubStats struct {
	Connections int            `json:"connections"`
	Rooms       map[string]int `json:"rooms"`
}

// NewHub creates a new Hub
func NewHub(logger *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		rooms:      make(map[domain.RoomKey]map[*Client]bool),
		allClients: make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *delivery, 256),
		join:       make(chan *roomRequest, 64),
		leave:      make(chan *roomRequest, 64),
		logger:     logger,
		ctx:        ctx,
		cancel:     cancel,
	}
}

// Run starts the hub's main loop
func (h *Hub) Run() {
	h.logger.Info("WebSocket hub started")
	for {
		select {
		case <-h.ctx.Done():
			h.logger.Info("WebSocket hub stopping")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.allClients[client] = true
			h.mu.Unlock()
			h.logger.Debug("client registered", "client_id", client.id, "subject", client.subject)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.allClients[client]; ok {
				delete(h.allClients, client)
				for room, clients := range h.rooms {
					if _, ok := clients[client]; ok {
						delete(clients, client)
						if len(clients) == 0 {
							delete(h.rooms, room)
						}
					}
				}
				close(client.send)
			}
			h.mu.Unlock()
			h.logger.Debug("client unregistered", "client_id", client.id)

		case req := <-h.join:
			h.mu.Lock()
			if _, ok := h.allClients[req.client]; ok {
				if _, ok := h.rooms[req.room]; !ok {
					h.rooms[req.room] = make(map[*Client]bool)
				}
				h.rooms[req.room][req.client] = true
			}
			h.mu.Unlock()
			h.logger.Debug("client joined room", "client_id", req.client.id, "room", req.room.String())

		case req := <-h.leave:
			h.mu.Lock()
			if clients, ok := h.rooms[req.room]; ok {
				delete(clients, req.client)
				if len(clients) == 0 {
					delete(h.rooms, req.room)
				}
			}
			h.mu.Unlock()
			h.logger.Debug("client left room", "client_id", req.client.id, "room", req.room.String())

		case d := <-h.broadcast:
			h.deliver(d)
		}
	}
}

// Stop stops the hub
func (h *Hub) Stop() {
	h.cancel()
}

// deliver sends to every client in the union of the rooms, once per client
func (h *Hub) deliver(d *delivery) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	seen := make(map[*Client]bool)
	for _, room := range d.rooms {
		for client := range h.rooms[room] {
			if seen[client] {
				continue
			}
			seen[client] = true
			select {
			case client.send <- d.data:
			default:
				h.logger.Warn("client buffer full, skipping", "client_id", client.id, "room", room.String())
			}
		}
	}
}

// Broadcast queues ev for every client in the match room and the match's
// zone and category edition rooms.
func (h *Hub) Broadcast(ev domain.MatchEvent) {
	data, err := domain.EncodeEvent(ev)
	if err != nil {
		h.logger.Error("failed to encode event", "type", ev.Type(), "error", err)
		return
	}

	select {
	case h.broadcast <- &delivery{rooms: ev.EventScope().Rooms(), data: data}:
	default:
		h.logger.Warn("broadcast channel full, dropping event",
			"type", ev.Type(),
			"match_id", ev.EventScope().MatchID,
		)
	}
}

// Register adds a client to the hub
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.ctx.Done():
	}
}

// Unregister removes a client from the hub and closes its send queue
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.ctx.Done():
	}
}

// Join adds a client to a room
func (h *Hub) Join(client *Client, room domain.RoomKey) {
	h.join <- &roomRequest{client: client, room: room}
}

// Leave removes a client from a room
func (h *Hub) Leave(client *Client, room domain.RoomKey) {
	h.leave <- &roomRequest{client: client, room: room}
}

// GetSubscriberCount returns the number of clients in a room
func (h *Hub) GetSubscriberCount(room domain.RoomKey) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

// GetTotalConnections returns the total number of connected clients
func (h *Hub) GetTotalConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.allClients)
}

// Stats returns connection and per-room counts
func (h *Hub) Stats() HubStats {
	h.mu.RLock()
	defer h.mu.RUnlock()
	st := HubStats{Connections: len(h.allClients), Rooms: make(map[string]int, len(h.rooms))}
	for room, clients := range h.rooms {
		st.Rooms[room.String()] = len(clients)
	}
	return st
}

// reply encodes a control reply in envelope form
func reply(typ string, room domain.RoomKey, message string) []byte {
	env := domain.Envelope{Type: domain.EventType(typ), Message: message}
	switch room.Kind {
	case domain.RoomMatch:
		env.MatchID = room.ID
	case domain.RoomZone:
		env.ZoneID = room.ID
	case domain.RoomCategoryEdition:
		env.CategoryEditionID = room.ID
	}
	data, _ := sonic.Marshal(env)
	return data
}
