package websocket

import (
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

// Event names pushed to viewers
const (
	EventGalleryUpdate = "gallery update"
	EventNewImage      = "new image"
)

// sendBuffer is how many messages a slow viewer may lag behind before
// further broadcasts are dropped for it.
const sendBuffer = 16

// Message is the envelope every broadcast is wrapped in
type Message struct {
	Event string      `json:"event" msgpack:"event"`
	Data  interface{} `json:"data" msgpack:"data"`
}

type outbound struct {
	messageType int
	data        []byte
}

// Hub is the registry of connected viewers. Broadcasts go to every
// viewer joined at the time of the call.
type Hub struct {
	codec   Codec
	mu      sync.RWMutex
	clients map[string]*Client
}

// NewHub creates a hub that encodes messages with codec
func NewHub(codec Codec) *Hub {
	if codec == nil {
		codec = JSONCodec{}
	}
	return &Hub{
		codec:   codec,
		clients: make(map[string]*Client),
	}
}

// Join registers a viewer connection. The caller starts the pumps with Serve.
func (h *Hub) Join(conn *websocket.Conn) *Client {
	c := &Client{
		ID:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan outbound, sendBuffer),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("viewer joined", "viewer", c.ID, "viewers", total)
	return c
}

// Leave removes a viewer. Calling it again for the same viewer does nothing.
func (h *Hub) Leave(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)
	close(c.send)
	total := len(h.clients)
	h.mu.Unlock()

	slog.Info("viewer left", "viewer", c.ID, "viewers", total)
}

// Broadcast queues event for every joined viewer without waiting on any
// of them. Only an encoding failure is reported.
func (h *Hub) Broadcast(event string, payload interface{}) error {
	data, err := h.codec.Encode(Message{Event: event, Data: payload})
	if err != nil {
		return err
	}
	msg := outbound{messageType: h.codec.MessageType(), data: data}

	h.mu.RLock()
	defer h.mu.RUnlock()

	dropped := 0
	for _, c := range h.clients {
		select {
		case c.send <- msg:
		default:
			dropped++
		}
	}

	slog.Debug("broadcast", "event", event, "viewers", len(h.clients), "dropped", dropped, "bytes", len(data))
	return nil
}

// Count returns the number of joined viewers
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every viewer
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.RUnlock()

	for _, c := range clients {
		h.Leave(c)
	}
}
