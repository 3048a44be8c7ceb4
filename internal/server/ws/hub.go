// Package ws streams committed ledger events to WebSocket clients.
package ws

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"google.golang.org/protobuf/proto"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/alanyoungcy/marketsettle/internal/domain"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// maxMessageSize is the maximum size of an incoming message.
	maxMessageSize = 4096

	// sendBufferSize is the channel buffer for outgoing messages per client.
	sendBufferSize = 256
)

// Frame encodings selected with ?format= on connect.
const (
	FormatProto = "proto"
	FormatJSON  = "json"
)

// upgrader configures the WebSocket upgrade parameters.
var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// client represents a single WebSocket connection.
type client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	format string
	subs   map[string]bool
	mu     sync.RWMutex

	// sendMu guards send against use after the hub closed it.
	sendMu sync.RWMutex
	closed bool
}

// subscribeMsg is the JSON message a client sends to change its
// subscriptions. Markets is shorthand for their ch:market:<id> channels.
type subscribeMsg struct {
	Action   string   `json:"action"` // "subscribe" or "unsubscribe"
	Channels []string `json:"channels"`
	Markets  []string `json:"markets"`
}

// Hub manages a set of connected WebSocket clients and broadcasts committed
// events from the signal bus to the clients subscribed to their channel.
type Hub struct {
	clients    map[*client]bool
	broadcast  chan broadcastMsg
	register   chan *client
	unregister chan *client
	bus        domain.SignalBus
	mu         sync.RWMutex
	logger     *slog.Logger
	mode       string
	startedAt  time.Time
	ready      chan struct{}
	done       chan struct{}
}

// broadcastMsg carries a message along with its source channel so the hub
// can route it only to clients subscribed to that channel.
type broadcastMsg struct {
	channel string
	payload map[string]any
}

// Config captures runtime metadata sent to clients on connect.
type Config struct {
	Mode      string
	StartedAt time.Time
}

// NewHub creates a hub reading from bus. A nil bus serves connections
// without events.
func NewHub(bus domain.SignalBus, logger *slog.Logger, cfg Config) *Hub {
	mode := strings.TrimSpace(strings.ToLower(cfg.Mode))
	if mode == "" {
		mode = "unknown"
	}
	startedAt := cfg.StartedAt
	if startedAt.IsZero() {
		startedAt = time.Now().UTC()
	}

	return &Hub{
		clients:    make(map[*client]bool),
		broadcast:  make(chan broadcastMsg, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		bus:        bus,
		logger:     logger,
		mode:       mode,
		startedAt:  startedAt,
		ready:      make(chan struct{}),
		done:       make(chan struct{}),
	}
}

// Ready is closed once Run has subscribed to the bus.
func (h *Hub) Ready() <-chan struct{} { return h.ready }

// Run starts the hub's main event loop. It handles client registration,
// unregistration, and message broadcasting until ctx is cancelled.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		if err := h.subscribe(ctx, domain.ChannelEvents, false); err != nil {
			return err
		}
		if err := h.subscribe(ctx, domain.ChannelMarketPrefix+"*", true); err != nil {
			return err
		}
	}
	close(h.ready)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.closeSend()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			h.mu.Unlock()
			h.logger.Info("ws: client connected",
				slog.String("format", c.format),
				slog.Int("total_clients", h.clientCount()),
			)

		case c := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[c]; ok {
				delete(h.clients, c)
				c.closeSend()
			}
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected",
				slog.Int("total_clients", h.clientCount()),
			)

		case msg := <-h.broadcast:
			h.fanOut(msg)
		}
	}
}

// fanOut encodes msg at most once per format and queues it for every
// subscribed client.
func (h *Hub) fanOut(msg broadcastMsg) {
	frames := map[string][]byte{}
	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.clients {
		if !c.isSubscribed(msg.channel) {
			continue
		}
		data, ok := frames[c.format]
		if !ok {
			var err error
			data, err = encode(c.format, envelope("event", msg.channel, msg.payload))
			if err != nil {
				h.logger.Warn("ws: encode event failed", slog.String("error", err.Error()))
				continue
			}
			frames[c.format] = data
		}
		if !c.trySend(data) {
			h.logger.Warn("ws: dropping message for slow client")
		}
	}
}

// subscribe listens on a bus channel and forwards decoded events to the
// broadcast loop. Pattern subscriptions route each event to its market
// channel.
func (h *Hub) subscribe(ctx context.Context, channel string, perMarket bool) error {
	msgCh, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return err
	}
	h.logger.Info("ws: subscribed to channel", slog.String("channel", channel))

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case data, ok := <-msgCh:
				if !ok {
					h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
					return
				}
				var payload map[string]any
				if err := json.Unmarshal(data, &payload); err != nil {
					h.logger.Warn("ws: undecodable bus message",
						slog.String("channel", channel),
						slog.String("error", err.Error()),
					)
					continue
				}
				target := channel
				if perMarket {
					id, _ := payload["market_id"].(string)
					target = domain.MarketChannel(common.HexToHash(id))
				}
				select {
				case h.broadcast <- broadcastMsg{channel: target, payload: payload}:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return nil
}

// HandleWS upgrades an HTTP request to a WebSocket connection and registers
// the client with the hub. Clients start subscribed to the global event
// channel plus any ?market= ids.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	format := FormatProto
	if f := r.URL.Query().Get("format"); f == FormatJSON {
		format = FormatJSON
	} else if f != "" && f != FormatProto {
		http.Error(w, `{"error":"unknown format"}`, http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:    h,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		format: format,
		subs:   map[string]bool{domain.ChannelEvents: true},
	}
	for _, id := range r.URL.Query()["market"] {
		c.subs[domain.MarketChannel(common.HexToHash(id))] = true
	}

	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}
	c.sendStatus()

	go c.writePump()
	go c.readPump()
}

// clientCount returns the number of currently connected clients.
func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// readPump reads subscription requests (JSON text frames) from the client.
func (c *client) readPump() {
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
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error",
					slog.String("error", err.Error()),
				)
			}
			return
		}

		var sub subscribeMsg
		if jsonErr := json.Unmarshal(message, &sub); jsonErr != nil || sub.Action == "" {
			c.queue(map[string]any{"type": "error", "error": "expected {\"action\":\"subscribe\"|\"unsubscribe\",...}"})
			continue
		}
		c.handleSubscription(sub)
	}
}

// handleSubscription applies a subscribe/unsubscribe request and
// acknowledges it with the resulting channel set.
func (c *client) handleSubscription(msg subscribeMsg) {
	channels := append([]string(nil), msg.Channels...)
	for _, id := range msg.Markets {
		channels = append(channels, domain.MarketChannel(common.HexToHash(id)))
	}

	c.mu.Lock()
	switch msg.Action {
	case "subscribe":
		for _, ch := range channels {
			c.subs[ch] = true
		}
	case "unsubscribe":
		for _, ch := range channels {
			delete(c.subs, ch)
		}
	}
	c.mu.Unlock()

	c.queue(map[string]any{"type": "subscriptions", "action": msg.Action, "channels": c.channels()})
}

// sendStatus pushes a status envelope so clients can mark the connection
// healthy before any event flows.
func (c *client) sendStatus() {
	uptime := int64(time.Since(c.hub.startedAt).Seconds())
	if uptime < 0 {
		uptime = 0
	}
	c.queue(map[string]any{
		"type":           "hub_status",
		"mode":           c.hub.mode,
		"uptime_seconds": uptime,
		"channels":       c.channels(),
	})
}

func (c *client) queue(msg map[string]any) {
	data, err := encode(c.format, msg)
	if err != nil {
		return
	}
	c.trySend(data)
}

// trySend queues data without blocking. It reports false when the buffer
// is full or the connection is shutting down.
func (c *client) trySend(data []byte) bool {
	c.sendMu.RLock()
	defer c.sendMu.RUnlock()
	if c.closed {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *client) channels() []any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]any, 0, len(c.subs))
	for ch := range c.subs {
		out = append(out, ch)
	}
	return out
}

// isSubscribed checks whether the client is subscribed to the given channel.
func (c *client) isSubscribed(channel string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if c.subs[channel] {
		return true
	}
	// Wildcard match: "ch:market:*" matches "ch:market:0xabc".
	for sub := range c.subs {
		if prefix, ok := strings.CutSuffix(sub, "*"); ok && strings.HasPrefix(channel, prefix) {
			return true
		}
	}
	return false
}

// writePump pumps messages from the hub to the WebSocket connection,
// binary frames for protobuf clients and text frames for JSON clients,
// with periodic pings for keepalive.
func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	kind := websocket.BinaryMessage
	if c.format == FormatJSON {
		kind = websocket.TextMessage
	}

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(kind, message); err != nil {
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

func envelope(kind, channel string, payload map[string]any) map[string]any {
	return map[string]any{"type": kind, "channel": channel, "payload": payload}
}

// encode renders msg as JSON or as a google.protobuf.Struct.
func encode(format string, msg map[string]any) ([]byte, error) {
	if format == FormatJSON {
		return json.Marshal(msg)
	}
	s, err := structpb.NewStruct(msg)
	if err != nil {
		return nil, err
	}
	return proto.Marshal(s)
}
