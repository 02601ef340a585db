// Package hub fans conversation events out to connected UI clients over
// websockets and routes their inbound messages back to the conversation.
package hub

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/teslashibe/go-galina/pkg/protocol"
)

// ErrNotRunning is returned when publishing before Run or after it exits.
var ErrNotRunning = errors.New("hub: not running")

// Config configures a Hub.
type Config struct {
	Name       string
	SendBuffer int // Per-client outbound queue
	Logger     *slog.Logger
}

// DefaultConfig returns the default hub configuration.
func DefaultConfig() Config {
	return Config{
		Name:       "ui",
		SendBuffer: 256,
	}
}

// Option configures a Hub.
type Option func(*Config)

// WithName sets the name used in log lines.
func WithName(name string) Option {
	return func(c *Config) { c.Name = name }
}

// WithSendBuffer sets the per-client outbound queue length.
func WithSendBuffer(n int) Option {
	return func(c *Config) { c.SendBuffer = n }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

type unicast struct {
	client *Client
	data   []byte
}

// Hub maintains the set of active clients and broadcasts messages to them.
type Hub struct {
	cfg    Config
	logger *slog.Logger

	clients    map[*Client]bool
	broadcast  chan []byte
	unicast    chan unicast
	register   chan *Client
	unregister chan *Client

	mu        sync.RWMutex
	count     int
	onNative  func(*protocol.NativeData)
	onCommand func(*protocol.CommandData)
	onConnect func(clientID string)

	running atomic.Bool
	done    chan struct{}

	received atomic.Uint64
	sent     atomic.Uint64
	dropped  atomic.Uint64
}

// New creates a new Hub. Call Run before clients connect.
func New(opts ...Option) *Hub {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = 1
	}

	return &Hub{
		cfg:        cfg,
		logger:     cfg.Logger.With("component", "hub", "name", cfg.Name),
		clients:    make(map[*Client]bool),
		broadcast:  make(chan []byte, 256),
		unicast:    make(chan unicast, 16),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is cancelled and closes
// every client's queue on the way out.
func (h *Hub) Run(ctx context.Context) {
	h.running.Store(true)
	defer func() {
		h.running.Store(false)
		close(h.done)
		for client := range h.clients {
			h.drop(client)
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return

		case client := <-h.register:
			h.clients[client] = true
			h.setCount(len(h.clients))
			h.logger.Info("client connected", "client", client.id, "total", len(h.clients))

			h.mu.RLock()
			cb := h.onConnect
			h.mu.RUnlock()
			if cb != nil {
				go cb(client.id)
			}

		case client := <-h.unregister:
			if _, ok := h.clients[client]; ok {
				h.drop(client)
				h.logger.Info("client disconnected", "client", client.id, "remaining", len(h.clients))
			}

		case u := <-h.unicast:
			if h.clients[u.client] {
				select {
				case u.client.send <- u.data:
					h.sent.Add(1)
				default:
				}
			}

		case data := <-h.broadcast:
			for client := range h.clients {
				select {
				case client.send <- data:
					h.sent.Add(1)
				default:
					h.drop(client)
					h.logger.Warn("dropped slow client", "client", client.id)
				}
			}
		}
	}
}

func (h *Hub) drop(client *Client) {
	delete(h.clients, client)
	close(client.send)
	h.setCount(len(h.clients))
}

func (h *Hub) setCount(n int) {
	h.mu.Lock()
	h.count = n
	h.mu.Unlock()
}

// Publish queues a message for every connected client. A full broadcast
// queue drops the message.
func (h *Hub) Publish(msg *protocol.Message) error {
	if !h.running.Load() {
		return ErrNotRunning
	}
	data, err := msg.Bytes()
	if err != nil {
		return err
	}
	select {
	case h.broadcast <- data:
	default:
		h.dropped.Add(1)
		h.logger.Warn("broadcast queue full, dropping message", "type", msg.Type)
	}
	return nil
}

// sendTo queues a message for one client. It never blocks the caller.
func (h *Hub) sendTo(client *Client, msg *protocol.Message) {
	data, err := msg.Bytes()
	if err != nil {
		return
	}
	select {
	case h.unicast <- unicast{client: client, data: data}:
	default:
	}
}

// OnNative sets the callback for browser recognizer messages.
func (h *Hub) OnNative(callback func(*protocol.NativeData)) {
	h.mu.Lock()
	h.onNative = callback
	h.mu.Unlock()
}

// OnCommand sets the callback for user commands.
func (h *Hub) OnCommand(callback func(*protocol.CommandData)) {
	h.mu.Lock()
	h.onCommand = callback
	h.mu.Unlock()
}

// OnConnect sets a callback run after a client registers. It runs on its
// own goroutine so it may Publish.
func (h *Hub) OnConnect(callback func(clientID string)) {
	h.mu.Lock()
	h.onConnect = callback
	h.mu.Unlock()
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.count
}

// Stats contains hub statistics.
type Stats struct {
	Clients          int    `json:"clients"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	MessagesDropped  uint64 `json:"messages_dropped"`
}

// GetStats returns hub statistics.
func (h *Hub) GetStats() Stats {
	return Stats{
		Clients:          h.ClientCount(),
		MessagesReceived: h.received.Load(),
		MessagesSent:     h.sent.Load(),
		MessagesDropped:  h.dropped.Load(),
	}
}

// RegisterRoutes mounts the websocket endpoint at /ws on router.
func (h *Hub) RegisterRoutes(router fiber.Router) {
	router.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			c.Locals("allowed", true)
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	router.Get("/ws", websocket.New(h.handle))
}

func (h *Hub) handle(conn *websocket.Conn) {
	client := newClient(h, conn)
	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}
	client.run()
}

// dispatch parses an inbound frame and hands it to the matching callback.
func (h *Hub) dispatch(client *Client, data []byte) {
	h.received.Add(1)

	msg, err := protocol.ParseMessage(data)
	if err != nil {
		h.logger.Debug("parse inbound message", "client", client.id, "error", err)
		return
	}

	h.mu.RLock()
	nativeCb := h.onNative
	commandCb := h.onCommand
	h.mu.RUnlock()

	switch msg.Type {
	case protocol.TypeNative:
		if nativeCb == nil {
			return
		}
		if native, err := msg.GetNativeData(); err == nil {
			nativeCb(native)
		}

	case protocol.TypeCommand:
		if commandCb == nil {
			return
		}
		if cmd, err := msg.GetCommandData(); err == nil {
			commandCb(cmd)
		}

	case protocol.TypePing:
		ping, _ := msg.GetPingData()
		id := ""
		if ping != nil {
			id = ping.ID
		}
		pong, err := protocol.NewPongMessage(id, msg.Timestamp, nowMilli())
		if err != nil {
			return
		}
		h.sendTo(client, pong)

	default:
		h.logger.Debug("ignoring inbound message", "client", client.id, "type", msg.Type)
	}
}
