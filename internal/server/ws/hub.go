// Package ws streams position updates from the signal bus to websocket
// clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/lendwatch/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
	sendBufferSize = 256
)

// busPattern is the bus subscription feeding the hub.
const busPattern = "positions:*"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// client is one websocket connection. subs holds topic patterns; a trailing
// "*" matches any suffix.
type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
	subs map[string]bool
	mu   sync.RWMutex
}

// subscribeMsg is sent by clients to change their topics, for example
// {"action":"subscribe","topics":["positions:aave:ethereum:0xabc"]}.
type subscribeMsg struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// routeHeader is the part of a bus payload used for routing.
type routeHeader struct {
	Protocol    string `json:"protocol"`
	Network     string `json:"network"`
	UserAddress string `json:"userAddress"`
}

type broadcastMsg struct {
	topic string
	data  []byte
}

// Hub fans bus messages out to subscribed clients.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	done       chan struct{}
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	startedAt  time.Time
}

// NewHub creates a hub reading from bus.
func NewHub(bus domain.SignalBus, logger *slog.Logger) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		bus:        bus,
		logger:     logger,
		startedAt:  time.Now().UTC(),
	}
}

// Topic is the routing key of an update:
// "positions:<protocol>:<network>:<address>", lowercase.
func Topic(protocol, network, address string) string {
	return strings.ToLower(strings.Join([]string{"positions", protocol, network, address}, ":"))
}

// Run serves registrations and broadcasts until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	if h.bus != nil {
		go h.subscribe(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			close(h.done)
			h.mu.Lock()
			for c := range h.clients {
				close(c.send)
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				close(c.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if !c.isSubscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// Publish routes one encoded update to subscribed clients. It never blocks;
// updates are dropped while the broadcast queue is full.
func (h *Hub) Publish(data []byte) {
	var hdr routeHeader
	if err := json.Unmarshal(data, &hdr); err != nil {
		h.logger.Warn("ws: unroutable message", slog.String("error", err.Error()))
		return
	}
	select {
	case h.broadcast <- broadcastMsg{topic: Topic(hdr.Protocol, hdr.Network, hdr.UserAddress), data: data}:
	default:
		h.logger.Warn("ws: broadcast queue full, dropping update")
	}
}

func (h *Hub) subscribe(ctx context.Context) {
	msgs, err := h.bus.Subscribe(ctx, busPattern)
	if err != nil {
		h.logger.Error("ws: failed to subscribe",
			slog.String("pattern", busPattern),
			slog.String("error", err.Error()),
		)
		return
	}
	h.logger.Info("ws: subscribed", slog.String("pattern", busPattern))

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: bus subscription closed")
				return
			}
			h.Publish(data)
		}
	}
}

// HandleWS upgrades the request and registers the client. Topics may be
// preset with ?topic=...; the default is every update.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[string]bool),
	}
	topics := r.URL.Query()["topic"]
	if len(topics) == 0 {
		topics = []string{busPattern}
	}
	for _, t := range topics {
		c.subs[strings.ToLower(t)] = true
	}

	if !h.registerClient(c) {
		conn.Close()
		return
	}
	c.sendHello(topics)

	go c.writePump()
	go c.readPump()
}

// registerClient hands c to Run. It reports false once the hub has stopped.
func (h *Hub) registerClient(c *client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) unregisterClient(c *client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregisterClient(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}
		var sub subscribeMsg
		if json.Unmarshal(message, &sub) == nil {
			c.handleSubscription(sub)
		}
	}
}

func (c *client) handleSubscription(msg subscribeMsg) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, t := range msg.Topics {
		t = strings.ToLower(t)
		switch msg.Action {
		case "subscribe":
			c.subs[t] = true
		case "unsubscribe":
			delete(c.subs, t)
		}
	}
}

// sendHello lets a client confirm the stream is live before any update.
func (c *client) sendHello(topics []string) {
	msg, err := json.Marshal(map[string]any{
		"type": "hello",
		"payload": map[string]any{
			"topics":         topics,
			"uptime_seconds": int64(time.Since(c.hub.startedAt).Seconds()),
		},
	})
	if err != nil {
		return
	}
	select {
	case c.send <- msg:
	default:
	}
}

func (c *client) isSubscribed(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.subs[topic] {
		return true
	}
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(topic, prefix) {
			return true
		}
	}
	return false
}

func (c *client) writePump() {
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
