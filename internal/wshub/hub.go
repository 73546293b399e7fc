package wshub

import (
	"context"
	"encoding/json"
	"log"
	"sync"

	"github.com/coder/websocket"

	"geohunt/internal/rooms"
)

// ServerMessage is the JSON structure sent to clients.
type ServerMessage struct {
	// Type is "room" for a membership snapshot, "removed" when the
	// receiving participant has been evicted, "leave" when another
	// participant drops its connection.
	Type          string      `json:"t"`
	ParticipantID string      `json:"id,omitempty"`
	Room          *rooms.Room `json:"room,omitempty"`
}

// Client represents a single WebSocket connection in the hub.
type Client struct {
	ParticipantID string
	RoomID        string
	Conn          *websocket.Conn
	Send          chan []byte
}

// WritePump reads from the Send channel and writes to the WebSocket connection.
func (c *Client) WritePump(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-c.Send:
			if !ok {
				return
			}
			if err := c.Conn.Write(ctx, websocket.MessageText, msg); err != nil {
				return
			}
		}
	}
}

// Hub manages per-room WebSocket connections.
type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[string]*Client),
	}
}

// Register adds a client to the hub, replacing any previous connection for
// the same participant.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	if old, ok := h.clients[c.ParticipantID]; ok {
		close(old.Send)
	}
	h.clients[c.ParticipantID] = c
	h.mu.Unlock()
}

// Unregister removes a client and closes its Send channel, then tells the
// rest of the room the participant's connection dropped. A client that was
// already replaced by a newer connection for the same participant is left
// alone.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	current := h.clients[c.ParticipantID] == c
	if current {
		close(c.Send)
		delete(h.clients, c.ParticipantID)
	}
	h.mu.Unlock()

	if current {
		h.BroadcastRoom(c.RoomID, ServerMessage{
			Type:          "leave",
			ParticipantID: c.ParticipantID,
		})
	}
}

// Send delivers a message to one participant. Non-blocking: drops if the
// client's channel is full.
func (h *Hub) Send(participantID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WSHub] Marshal error: %v\n", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	c, ok := h.clients[participantID]
	if !ok {
		return
	}
	select {
	case c.Send <- data:
	default:
		// Drop message if channel full
	}
}

// BroadcastRoom sends a message to every client in a room. Non-blocking:
// drops if a channel is full.
func (h *Hub) BroadcastRoom(roomID string, msg ServerMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		log.Printf("[WSHub] Marshal error: %v\n", err)
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, c := range h.clients {
		if c.RoomID != roomID {
			continue
		}
		select {
		case c.Send <- data:
		default:
			// Drop message if channel full
		}
	}
}
