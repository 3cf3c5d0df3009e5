package notifications

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/charlesng35/socialcounter/pkg/logger"
	"github.com/charlesng35/socialcounter/pkg/metrics"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 << 10

	defaultBufferSize = 64
)

// Message is the JSON frame written to websocket subscribers.
type Message struct {
	Topic string `json:"topic,omitempty"`
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

type controlMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Hub fans events out to websocket clients. Clients subscribe with topic
// filters where "+" matches one level and a trailing "#" matches the rest.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*connection]struct{}
	upgrader websocket.Upgrader
	log      *zap.Logger
}

// NewHub constructs a websocket hub.
func NewHub() *Hub {
	return &Hub{
		clients: make(map[*connection]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin: func(r *http.Request) bool {
				// Allow same-origin requests and explicit localhost development.
				origin := r.Header.Get("Origin")
				if origin == "" {
					return true
				}
				originHost := hostWithoutPort(origin)
				requestHost := hostWithoutPort(r.Host)
				return originHost == requestHost || isLoopback(originHost)
			},
		},
		log: logger.WithModule("realtime"),
	}
}

// Name implements Sink.
func (h *Hub) Name() string { return "websocket" }

// Serve upgrades the request and blocks until the client disconnects.
// The initial filters are subscribed before the first frame is written.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, filters []string) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	client := newConnection(h, conn, r.RemoteAddr)
	h.register(client)
	client.subscribe(filters)

	go client.writeLoop()
	client.readLoop()
}

// Publish implements Sink. Slow clients whose buffer is full are disconnected.
func (h *Hub) Publish(_ context.Context, topic Topic, event Event) error {
	name := topic.String()
	message := Message{Topic: name, Event: eventType, Data: event}

	h.mu.RLock()
	targets := make([]*connection, 0, len(h.clients))
	for client := range h.clients {
		if client.matches(name) {
			targets = append(targets, client)
		}
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if !client.trySend(message) {
			h.log.Warn("dropping slow subscriber", zap.String("remote", client.remote))
			client.close()
		}
	}
	return nil
}

// Connections reports the number of connected clients.
func (h *Hub) Connections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.RLock()
	clients := make([]*connection, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *Hub) register(client *connection) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	h.mu.Unlock()
	metrics.RealtimeConnections.Inc()
}

func (h *Hub) unregister(client *connection) {
	h.mu.Lock()
	_, ok := h.clients[client]
	delete(h.clients, client)
	h.mu.Unlock()
	if ok {
		metrics.RealtimeConnections.Dec()
	}
}

type connection struct {
	hub    *Hub
	socket *websocket.Conn
	remote string
	send   chan Message
	once   sync.Once

	mu      sync.Mutex
	closed  bool
	filters map[string]struct{}
}

func newConnection(hub *Hub, conn *websocket.Conn, remote string) *connection {
	return &connection{
		hub:     hub,
		socket:  conn,
		remote:  remote,
		send:    make(chan Message, defaultBufferSize),
		filters: make(map[string]struct{}),
	}
}

func (c *connection) subscribe(filters []string) {
	accepted := make([]string, 0, len(filters))
	c.mu.Lock()
	for _, filter := range uniqueFilters(filters) {
		if !ValidFilter(filter) {
			c.hub.log.Debug("ignoring invalid topic filter", zap.String("filter", filter))
			continue
		}
		c.filters[filter] = struct{}{}
		accepted = append(accepted, filter)
	}
	c.mu.Unlock()
	c.trySend(Message{Event: "subscribed", Data: accepted})
}

func (c *connection) unsubscribe(filters []string) {
	c.mu.Lock()
	for _, filter := range uniqueFilters(filters) {
		delete(c.filters, filter)
	}
	c.mu.Unlock()
	c.trySend(Message{Event: "unsubscribed", Data: filters})
}

func (c *connection) matches(topic string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	for filter := range c.filters {
		if MatchTopic(filter, topic) {
			return true
		}
	}
	return false
}

// trySend reports false only when the buffer is full.
func (c *connection) trySend(message Message) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- message:
		return true
	default:
		return false
	}
}

func (c *connection) readLoop() {
	defer c.close()

	c.socket.SetReadLimit(maxMessageSize)
	_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
	c.socket.SetPongHandler(func(string) error {
		_ = c.socket.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, payload, err := c.socket.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.log.Debug("unexpected websocket close", zap.String("remote", c.remote), zap.Error(err))
			}
			break
		}
		if len(payload) == 0 {
			continue
		}

		var ctrl controlMessage
		if err := json.Unmarshal(payload, &ctrl); err != nil {
			c.hub.log.Debug("invalid control payload", zap.String("remote", c.remote), zap.Error(err))
			continue
		}

		switch strings.ToLower(strings.TrimSpace(ctrl.Action)) {
		case "subscribe":
			c.subscribe(ctrl.Topics)
		case "unsubscribe":
			c.unsubscribe(ctrl.Topics)
		case "ping":
			c.trySend(Message{Event: "pong"})
		default:
			c.hub.log.Debug("unsupported control action", zap.String("action", ctrl.Action))
		}
	}
}

func (c *connection) writeLoop() {
	defer c.close()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.socket.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.socket.WriteJSON(message); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.socket.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.socket.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *connection) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		c.mu.Lock()
		c.closed = true
		close(c.send)
		c.mu.Unlock()
		_ = c.socket.Close()
	})
}

// ValidFilter reports whether filter is a well formed topic filter.
func ValidFilter(filter string) bool {
	if filter == "" {
		return false
	}
	levels := strings.Split(filter, "/")
	for i, level := range levels {
		if level == "#" && i != len(levels)-1 {
			return false
		}
		if level != "#" && level != "+" && strings.ContainsAny(level, "#+") {
			return false
		}
	}
	return true
}

// MatchTopic applies MQTT style wildcard matching of filter against topic.
func MatchTopic(filter, topic string) bool {
	fl := strings.Split(filter, "/")
	tl := strings.Split(topic, "/")
	for i, level := range fl {
		if level == "#" {
			return true
		}
		if i >= len(tl) {
			return false
		}
		if level != "+" && level != tl[i] {
			return false
		}
	}
	return len(fl) == len(tl)
}

func hostWithoutPort(host string) string {
	host = strings.TrimSpace(host)
	if host == "" {
		return ""
	}

	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		if parsed, err := url.Parse(host); err == nil {
			return hostWithoutPort(parsed.Host)
		}
	}

	if h, _, err := net.SplitHostPort(host); err == nil {
		return h
	}
	return host
}

func isLoopback(host string) bool {
	if ip := net.ParseIP(host); ip != nil {
		return ip.IsLoopback()
	}
	return strings.EqualFold(host, "localhost")
}

func uniqueFilters(filters []string) []string {
	seen := make(map[string]struct{}, len(filters))
	var out []string
	for _, filter := range filters {
		filter = strings.TrimSpace(filter)
		if filter == "" {
			continue
		}
		if _, ok := seen[filter]; ok {
			continue
		}
		seen[filter] = struct{}{}
		out = append(out, filter)
	}
	return out
}
