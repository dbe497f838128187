package notify

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"sync"

	calls "callwatch/internal/calls/domain"

	"github.com/google/uuid"
	gorillawebsocket "github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"
)

// AllTopics subscribes a client to every branch.
const AllTopics = "*"

// HubEvent is what live feed clients receive.
type HubEvent struct {
	Topic   string      `json:"topic"`
	Message CallMessage `json:"message"`
}

// clientMessage is an inbound subscription change.
type clientMessage struct {
	Action string   `json:"action"`
	Topics []string `json:"topics"`
}

// Client is one live feed connection.
type Client struct {
	ID   string
	Send chan []byte

	topics map[string]struct{}
}

// NewClient constructs a client subscribed to topics.
func NewClient(buffer int, topics ...string) *Client {
	c := &Client{
		ID:     uuid.NewString(),
		Send:   make(chan []byte, buffer),
		topics: make(map[string]struct{}),
	}
	for _, t := range topics {
		c.topics[t] = struct{}{}
	}
	return c
}

// Hub fans call notifications out to websocket clients by topic.
type Hub struct {
	mu       sync.RWMutex
	clients  map[*Client]struct{}
	resolver TopicResolver
	logger   zerolog.Logger
	origins  map[string]struct{}
	upgrader gorillawebsocket.Upgrader
}

// HubOption configures a Hub.
type HubOption func(*Hub)

// WithAllowedOrigins accepts browser upgrades from these origins
// (e.g. "https://tv.example.com") besides the server's own host.
func WithAllowedOrigins(origins ...string) HubOption {
	return func(h *Hub) {
		for _, origin := range origins {
			if origin = strings.TrimRight(strings.TrimSpace(origin), "/"); origin != "" {
				h.origins[strings.ToLower(origin)] = struct{}{}
			}
		}
	}
}

// NewHub constructs a hub.
func NewHub(resolver TopicResolver, logger zerolog.Logger, opts ...HubOption) *Hub {
	h := &Hub{
		clients:  make(map[*Client]struct{}),
		resolver: resolver,
		logger:   logger,
		origins:  make(map[string]struct{}),
	}
	for _, opt := range opts {
		opt(h)
	}
	h.upgrader = gorillawebsocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// checkOrigin admits clients without an Origin header, same-host pages
// and the configured origins.
func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		return true
	}
	if _, ok := h.origins[strings.ToLower(strings.TrimRight(origin, "/"))]; ok {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return strings.EqualFold(u.Host, r.Host)
}

// Register adds a client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.clients[c] = struct{}{}
}

// Unregister removes a client and closes its Send channel.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	delete(h.clients, c)
	close(c.Send)
}

func (h *Hub) process(c *Client, msg clientMessage) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, t := range msg.Topics {
		switch msg.Action {
		case "subscribe":
			c.topics[t] = struct{}{}
		case "unsubscribe":
			delete(c.topics, t)
		}
	}
}

// Publish broadcasts the notification to subscribers of its topic.
// Slow clients drop messages rather than block the engine.
func (h *Hub) Publish(_ context.Context, n calls.Notification) error {
	topic := h.resolver.Topic(n.TopicKey)
	data, err := json.Marshal(HubEvent{Topic: topic, Message: MessageFor(n)})
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		_, exact := c.topics[topic]
		_, all := c.topics[AllTopics]
		if !exact && !all {
			continue
		}
		select {
		case c.Send <- data:
		default:
			h.logger.Warn().Str("client_id", c.ID).Msg("live feed client buffer full, dropping")
		}
	}
	return nil
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// HandleConnect upgrades to a websocket and streams notifications.
// Initial topics come from repeated ?topic= parameters; none means all.
func (h *Hub) HandleConnect(c echo.Context) error {
	ws, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		return err
	}
	topics := c.QueryParams()["topic"]
	if len(topics) == 0 {
		topics = []string{AllTopics}
	}
	client := NewClient(256, topics...)
	h.Register(client)

	go h.writePump(client, ws)
	go h.readPump(client, ws)
	return nil
}

func (h *Hub) readPump(client *Client, ws *gorillawebsocket.Conn) {
	defer func() {
		h.Unregister(client)
		ws.Close()
	}()
	for {
		_, raw, err := ws.ReadMessage()
		if err != nil {
			return
		}
		var msg clientMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			continue
		}
		h.process(client, msg)
	}
}

func (h *Hub) writePump(client *Client, ws *gorillawebsocket.Conn) {
	defer ws.Close()
	for message := range client.Send {
		if err := ws.WriteMessage(gorillawebsocket.TextMessage, message); err != nil {
			return
		}
	}
}
