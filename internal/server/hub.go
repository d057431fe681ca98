package server

import (
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/aminsmd/ai-chat-app/internal/observability"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
)

// Event is the WebSocket wire format, both directions.
type Event struct {
	Type    string  `json:"type"` // "message", "assistant_message", "joined", "error"
	RoomID  string  `json:"room_id,omitempty"`
	UserID  string  `json:"user_id,omitempty"`
	Content string  `json:"content,omitempty"`
	TS      float64 `json:"ts,omitempty"`
}

// Hub tracks connected clients per room and fans events out to them.
type Hub struct {
	mu      sync.Mutex
	rooms   map[string]map[*client]bool
	metrics *observability.Metrics
}

type client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewHub creates an empty hub. metrics may be nil.
func NewHub(metrics *observability.Metrics) *Hub {
	return &Hub{
		rooms:   make(map[string]map[*client]bool),
		metrics: metrics,
	}
}

// Broadcast sends the event to every client in the room. Clients with full
// send buffers are skipped rather than blocking the pipeline.
func (h *Hub) Broadcast(roomID string, ev Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		log.Printf("[HUB] Marshal event: %v", err)
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for c := range h.rooms[roomID] {
		select {
		case c.send <- payload:
		default:
		}
	}
}

func (h *Hub) add(roomID string, c *client) {
	h.mu.Lock()
	if h.rooms[roomID] == nil {
		h.rooms[roomID] = make(map[*client]bool)
	}
	h.rooms[roomID][c] = true
	active := len(h.rooms)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveRooms.Set(float64(active))
	}
}

func (h *Hub) remove(roomID string, c *client) {
	h.mu.Lock()
	if clients, ok := h.rooms[roomID]; ok {
		delete(clients, c)
		if len(clients) == 0 {
			delete(h.rooms, roomID)
		}
	}
	active := len(h.rooms)
	h.mu.Unlock()

	if h.metrics != nil {
		h.metrics.ActiveRooms.Set(float64(active))
	}
	close(c.send)
}

// serve runs the read/write pumps for one connection. onMessage is invoked
// for every inbound chat message; it must not block.
func (h *Hub) serve(roomID string, conn *websocket.Conn, onMessage func(Event)) {
	c := &client{conn: conn, send: make(chan []byte, 32)}
	h.add(roomID, c)

	go c.writePump()

	defer func() {
		h.remove(roomID, c)
		conn.Close()
	}()

	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("[HUB] Read error in room %s: %v", roomID, err)
			}
			return
		}
		var ev Event
		if err := json.Unmarshal(payload, &ev); err != nil {
			log.Printf("[HUB] Bad event payload in room %s: %v", roomID, err)
			continue
		}
		ev.RoomID = roomID
		onMessage(ev)
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
