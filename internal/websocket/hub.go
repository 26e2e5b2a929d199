package websocket

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"go.uber.org/zap"

	"github.com/satriahrh/azscribe/domain"
	"github.com/satriahrh/azscribe/domain/entities"
	"github.com/satriahrh/azscribe/domain/repositories"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Subscribers only send small control messages.
	maxMessageSize = 4 * 1024

	sendBuffer = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Hub broadcasts job events to every connected subscriber
type Hub struct {
	clients map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan entities.JobEvent
	done       chan struct{}

	mu sync.RWMutex

	logger *zap.Logger
}

// Ensure Hub implements the EventPublisher interface
var _ repositories.EventPublisher = (*Hub)(nil)

// NewHub creates a new WebSocket hub
func NewHub(logger *zap.Logger) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan entities.JobEvent, sendBuffer),
		done:       make(chan struct{}),
		logger:     logger,
	}
}

// Run starts the hub's main loop. All subscribers are disconnected when ctx is done.
func (h *Hub) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				delete(h.clients, client)
				close(client.send)
			}
			h.mu.Unlock()
			close(h.done)
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			h.logger.Info("Subscriber registered",
				zap.String("subscriber", client.subscriber),
				zap.String("mediaPackageId", client.mediaPackageID))

		case client := <-h.unregister:
			h.remove(client)

		case event := <-h.broadcast:
			h.deliver(event)
		}
	}
}

// Publish queues event for every subscriber. Events are dropped when the
// queue is full so the dispatcher is never blocked by slow subscribers.
func (h *Hub) Publish(event entities.JobEvent) {
	select {
	case h.broadcast <- event:
	default:
		h.logger.Warn("Event queue full, dropping job event",
			zap.String("transcriptionJobId", event.TranscriptionJobID),
			zap.String("to", string(event.To)))
	}
}

// ClientCount returns the number of connected subscribers
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) deliver(event entities.JobEvent) {
	payload, err := json.Marshal(NewJobEventMessage(event))
	if err != nil {
		h.logger.Error("Failed to marshal job event", zap.Error(err))
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		if !client.wants(event) {
			continue
		}
		select {
		case client.send <- payload:
		default:
			// slow subscriber
			delete(h.clients, client)
			close(client.send)
			h.logger.Warn("Dropped slow subscriber", zap.String("subscriber", client.subscriber))
		}
	}
}

func (h *Hub) remove(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
		h.logger.Info("Subscriber unregistered", zap.String("subscriber", client.subscriber))
	}
}

// NewJobEventMessage converts a job event into its wire message
func NewJobEventMessage(event entities.JobEvent) domain.JobEventMessage {
	return domain.JobEventMessage{
		Type:               domain.MessageTypeJobEvent,
		TranscriptionJobID: event.TranscriptionJobID,
		MediaPackageID:     event.MediaPackageID,
		Provider:           event.Provider,
		From:               string(event.From),
		To:                 string(event.To),
		Timestamp:          event.At.UTC().Format(time.RFC3339),
	}
}

// Client is a middleman between the websocket connection and the hub.
type Client struct {
	hub *Hub

	// The websocket connection.
	conn *websocket.Conn

	// Buffered channel of outbound messages.
	send chan []byte

	// Authenticated subject of the connection
	subscriber string

	// Only events of this media package are delivered when set
	mediaPackageID string

	logger *zap.Logger
}

func (c *Client) wants(event entities.JobEvent) bool {
	return c.mediaPackageID == "" || c.mediaPackageID == event.MediaPackageID
}

// HandleWebSocket upgrades an authenticated request and subscribes it to job
// events. The optional media_package_id query parameter narrows the feed.
func HandleWebSocket(hub *Hub, c echo.Context, subscriber string, logger *zap.Logger) error {
	conn, err := upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		logger.Error("WebSocket upgrade failed", zap.Error(err))
		return err
	}

	client := &Client{
		hub:            hub,
		conn:           conn,
		send:           make(chan []byte, sendBuffer),
		subscriber:     subscriber,
		mediaPackageID: c.QueryParam("media_package_id"),
		logger:         logger,
	}

	select {
	case hub.register <- client:
	case <-hub.done:
		conn.Close()
		return nil
	}

	// Allow collection of memory referenced by the caller by doing all work in
	// new goroutines.
	go client.writePump()
	go client.readPump()

	return nil
}

// readPump answers control messages until the peer goes away.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		messageType, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error("WebSocket error", zap.Error(err))
			}
			break
		}
		if messageType != websocket.TextMessage {
			c.reply(domain.ErrorMessage{Type: domain.MessageTypeError, Error: "unsupported_message", Message: "only text messages are accepted"})
			continue
		}
		c.processMessage(message)
	}
}

func (c *Client) processMessage(message []byte) {
	var msg struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(message, &msg); err != nil {
		c.reply(domain.ErrorMessage{Type: domain.MessageTypeError, Error: "invalid_message", Message: err.Error()})
		return
	}

	switch msg.Type {
	case "ping":
		c.reply(map[string]string{"type": domain.MessageTypePong, "timestamp": time.Now().UTC().Format(time.RFC3339)})
	default:
		c.reply(domain.ErrorMessage{Type: domain.MessageTypeError, Error: "unknown_type", Message: msg.Type})
	}
}

// reply queues a direct response, dropping it when the client is not keeping up
func (c *Client) reply(v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}

	c.hub.mu.RLock()
	defer c.hub.mu.RUnlock()
	if !c.hub.clients[c] {
		return
	}
	select {
	case c.send <- payload:
	default:
	}
}

// writePump pumps messages from the hub to the websocket connection.
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
				c.logger.Error("Failed to write message", zap.Error(err))
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
