package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/hublink/internal/hub/events"
	"github.com/nerrad567/hublink/internal/infrastructure/config"
	"github.com/nerrad567/hublink/internal/infrastructure/logging"
)

// Local WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"

	// WSChannelAll subscribes a client to every event type.
	WSChannelAll = "*"

	wsSendBufferSize = 256
)

// WSMessage is the envelope for every frame exchanged with local clients.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// WSSubscribePayload is the payload of subscribe and unsubscribe frames.
// Channels are hub event types, or "*" for all of them.
type WSSubscribePayload struct {
	Channels []string `json:"channels"`
}

// wsTiming holds the keepalive settings shared by every client.
type wsTiming struct {
	pingEvery time.Duration
	pongWait  time.Duration
	readLimit int64
}

// deadline is how long a connection may stay silent.
func (t wsTiming) deadline() time.Time {
	return time.Now().Add(t.pingEvery + t.pongWait)
}

func newTiming(cfg config.WebSocketConfig) wsTiming {
	t := wsTiming{
		pingEvery: time.Duration(cfg.PingInterval) * time.Second,
		pongWait:  time.Duration(cfg.PongTimeout) * time.Second,
		readLimit: int64(cfg.MaxMessageSize),
	}
	if t.pingEvery <= 0 {
		t.pingEvery = 30 * time.Second
	}
	if t.pongWait <= 0 {
		t.pongWait = 10 * time.Second
	}
	return t
}

// channelSet is a client's subscriptions. WSChannelAll matches anything.
type channelSet map[string]struct{}

func (s channelSet) matches(channel string) bool {
	if _, ok := s[WSChannelAll]; ok {
		return true
	}
	_, ok := s[channel]
	return ok
}

// Hub tracks local WebSocket clients and relays hub events to them.
type Hub struct {
	timing wsTiming
	logger *logging.Logger

	mu      sync.RWMutex
	clients map[*WSClient]struct{}
}

// WSClient is one connected local client.
type WSClient struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu            sync.RWMutex
	subscriptions channelSet
}

// The API binds to a local address, so any origin is accepted.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// NewHub creates a hub. Unset keepalive values default to a 30s ping and a
// 10s pong wait.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		timing:  newTiming(cfg),
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx is cancelled, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		delete(h.clients, client)
		close(client.send)
		if client.conn != nil {
			client.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(client *WSClient) {
	h.mu.Lock()
	h.clients[client] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "clients", n)
}

// Unregister removes a client. Whoever removes it from the map closes its
// send channel, so a disconnect racing shutdown closes it once.
func (h *Hub) Unregister(client *WSClient) {
	h.mu.Lock()
	_, present := h.clients[client]
	delete(h.clients, client)
	n := len(h.clients)
	h.mu.Unlock()

	if !present {
		return
	}
	close(client.send)
	h.logger.Debug("websocket client disconnected", "clients", n)
}

// BroadcastEvent relays a bus event to clients subscribed to its type,
// stamped with the time the hub fired it. It never blocks; a client with a
// full buffer misses the event.
func (h *Hub) BroadcastEvent(e events.Event) {
	fired := e.TimeFired
	if fired.IsZero() {
		fired = time.Now()
	}
	h.fanOut(e.Type, WSMessage{
		Type:      WSTypeEvent,
		EventType: e.Type,
		Timestamp: stamp(fired),
		Payload:   e,
	})
}

// Broadcast sends an arbitrary payload to clients subscribed to channel.
func (h *Hub) Broadcast(channel string, payload any) {
	h.fanOut(channel, WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: stamp(time.Now()),
		Payload:   payload,
	})
}

// fanOut encodes msg once and hands it to every matching client. The hub
// lock is released before any client lock is taken.
func (h *Hub) fanOut(channel string, msg WSMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		h.logger.Error("encoding websocket event failed", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for client := range h.clients {
		targets = append(targets, client)
	}
	h.mu.RUnlock()

	for _, client := range targets {
		if client.wants(channel) {
			client.trySend(data)
		}
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// handleWebSocket upgrades the request and starts the client's pumps.
// A client may pre-subscribe with ?events=a,b.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &WSClient{
		hub:           s.hub,
		conn:          conn,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(channelSet),
	}
	for _, v := range r.URL.Query()["events"] {
		for _, name := range splitChannels(v) {
			client.subscriptions[name] = struct{}{}
		}
	}

	s.hub.Register(client)
	go client.writePump()
	go client.readPump()
}

func (c *WSClient) readPump() {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	t := c.hub.timing
	if t.readLimit > 0 {
		c.conn.SetReadLimit(t.readLimit)
	}
	//nolint:errcheck // a failed deadline surfaces as a read error
	c.conn.SetReadDeadline(t.deadline())
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(t.deadline())
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "error", err)
			} else {
				c.hub.logger.Debug("websocket closed", "error", err)
			}
			return
		}
		// Any frame proves liveness, for clients that ignore protocol pings.
		//nolint:errcheck // a failed deadline surfaces as a read error
		c.conn.SetReadDeadline(t.deadline())
		c.dispatch(data)
	}
}

func (c *WSClient) writePump() {
	t := c.hub.timing
	ping := time.NewTicker(t.pingEvery)
	defer func() {
		ping.Stop()
		c.conn.Close()
	}()

	write := func(kind int, data []byte) bool {
		//nolint:errcheck // a failed deadline surfaces as a write error
		c.conn.SetWriteDeadline(time.Now().Add(t.pongWait))
		return c.conn.WriteMessage(kind, data) == nil
	}

	for {
		select {
		case data, open := <-c.send:
			if !open {
				write(websocket.CloseMessage, nil)
				return
			}
			if !write(websocket.TextMessage, data) {
				return
			}
		case <-ping.C:
			if !write(websocket.PingMessage, nil) {
				return
			}
		}
	}
}

func (c *WSClient) dispatch(data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		c.reply("", WSTypeError, errorBody("invalid JSON message"))
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		c.updateSubscriptions(msg)
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.reply(msg.ID, WSTypeError, errorBody("unknown message type: "+msg.Type))
	}
}

// updateSubscriptions applies a subscribe or unsubscribe frame. The payload
// must name at least one channel.
func (c *WSClient) updateSubscriptions(msg WSMessage) {
	var sub WSSubscribePayload
	raw, err := json.Marshal(msg.Payload)
	if err == nil {
		err = json.Unmarshal(raw, &sub)
	}
	if err != nil || len(sub.Channels) == 0 {
		c.reply(msg.ID, WSTypeError, errorBody("payload must list channels"))
		return
	}

	add := msg.Type == WSTypeSubscribe
	c.mu.Lock()
	for _, ch := range sub.Channels {
		if add {
			c.subscriptions[ch] = struct{}{}
		} else {
			delete(c.subscriptions, ch)
		}
	}
	c.mu.Unlock()

	if add {
		c.hub.logger.Debug("websocket client subscribed", "channels", sub.Channels)
		c.reply(msg.ID, WSTypeResponse, map[string]any{"subscribed": sub.Channels})
		return
	}
	c.reply(msg.ID, WSTypeResponse, map[string]any{"unsubscribed": sub.Channels})
}

func (c *WSClient) wants(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.subscriptions.matches(channel)
}

// trySend queues data without blocking. A full buffer drops it, and so does
// a channel closed by a disconnect racing the broadcast.
func (c *WSClient) trySend(data []byte) {
	defer func() {
		recover() //nolint:errcheck // send on a closed channel
	}()

	select {
	case c.send <- data:
	default:
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: stamp(time.Now()),
		Payload:   payload,
	})
	if err != nil {
		return
	}
	c.trySend(data)
}

func errorBody(message string) map[string]string {
	return map[string]string{"message": message}
}

func stamp(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func splitChannels(v string) []string {
	var out []string
	for _, name := range strings.Split(v, ",") {
		if name = strings.TrimSpace(name); name != "" {
			out = append(out, name)
		}
	}
	return out
}
