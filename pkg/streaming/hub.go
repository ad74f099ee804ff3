// Package streaming pushes slip lifecycle updates to websocket clients.
package streaming

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// EventType represents the type of streaming event.
type EventType string

const (
	EventTypePhase     EventType = "phase"
	EventTypePicks     EventType = "picks"
	EventTypeSlips     EventType = "slips"
	EventTypeCountdown EventType = "countdown"
	EventTypeMatches   EventType = "matches"
	EventTypeStats     EventType = "stats"
	EventTypeError     EventType = "error"
	EventTypeHeartbeat EventType = "heartbeat"
)

var allEvents = []EventType{
	EventTypePhase,
	EventTypePicks,
	EventTypeSlips,
	EventTypeCountdown,
	EventTypeMatches,
	EventTypeStats,
	EventTypeError,
	EventTypeHeartbeat,
}

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	heartbeatEvery = 30 * time.Second
	sendBuffer     = 256
)

// Event is a streaming event sent to clients.
type Event struct {
	Type      EventType   `json:"type"`
	Timestamp time.Time   `json:"timestamp"`
	Data      interface{} `json:"data"`
}

// Hub manages websocket connections and broadcasts events.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan Event
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	mu         sync.RWMutex

	upgrader  websocket.Upgrader
	log       *zap.Logger
	onClients func(int)
}

// Client is one websocket connection.
type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	subscriptions map[EventType]bool
	subMu         sync.RWMutex
}

// Option configures a Hub.
type Option func(*Hub)

// WithClientGauge is called with the client count whenever it changes.
func WithClientGauge(fn func(int)) Option {
	return func(h *Hub) { h.onClients = fn }
}

// WithOriginCheck replaces the default allow-all origin check.
func WithOriginCheck(fn func(*http.Request) bool) Option {
	return func(h *Hub) { h.upgrader.CheckOrigin = fn }
}

// NewHub creates a hub. Call Run before serving connections.
func NewHub(log *zap.Logger, opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
		},
		log:       log,
		onClients: func(int) {},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run is the hub's event loop; it returns when ctx is done and closes
// every client.
func (h *Hub) Run(ctx context.Context) {
	heartbeat := time.NewTicker(heartbeatEvery)
	defer heartbeat.Stop()
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			h.onClients(0)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.onClients(n)
			h.log.Debug("websocket client connected", zap.Int("clients", n))

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.onClients(n)
			h.log.Debug("websocket client disconnected", zap.Int("clients", n))

		case event := <-h.broadcast:
			h.broadcastEvent(event)

		case <-heartbeat.C:
			h.broadcastEvent(Event{
				Type:      EventTypeHeartbeat,
				Timestamp: time.Now(),
				Data:      map[string]interface{}{"clients": h.ClientCount()},
			})
		}
	}
}

func (h *Hub) broadcastEvent(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		h.log.Warn("failed to marshal stream event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if !client.isSubscribed(event.Type) {
			continue
		}
		select {
		case client.send <- data:
		default:
			// slow consumer
			close(client.send)
			delete(h.clients, client)
		}
	}
}

// Broadcast queues an event for every subscribed client. It never blocks.
func (h *Hub) Broadcast(eventType EventType, data interface{}) {
	event := Event{Type: eventType, Timestamp: time.Now(), Data: data}
	select {
	case h.broadcast <- event:
	default:
		h.log.Warn("broadcast channel full, dropping event", zap.String("type", string(eventType)))
	}
}

// BroadcastError sends an error event with its context.
func (h *Hub) BroadcastError(err error, context string) {
	h.Broadcast(EventTypeError, map[string]interface{}{
		"error":   err.Error(),
		"context": context,
	})
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// ServeWS handles websocket upgrade requests.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := &Client{
		hub:           h,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		subscriptions: make(map[EventType]bool, len(allEvents)),
	}
	for _, t := range allEvents {
		client.subscriptions[t] = true
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) isSubscribed(eventType EventType) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	return c.subscriptions[eventType]
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("websocket read error", zap.Error(err))
			}
			return
		}
		c.handleMessage(message)
	}
}

// handleMessage applies {"type":"subscribe"|"unsubscribe","events":[...]}.
func (c *Client) handleMessage(message []byte) {
	var msg struct {
		Type   string   `json:"type"`
		Events []string `json:"events"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		return
	}

	c.subMu.Lock()
	defer c.subMu.Unlock()
	switch msg.Type {
	case "subscribe":
		for _, event := range msg.Events {
			c.subscriptions[EventType(event)] = true
		}
	case "unsubscribe":
		for _, event := range msg.Events {
			delete(c.subscriptions, EventType(event))
		}
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
