package broadcast

import (
	"auction-marketplace/internal/models"
	"auction-marketplace/utils"
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
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

	// maxJoinedAuctions caps the rooms one connection may sit in.
	maxJoinedAuctions = 64

	defaultQueueSize = 1024
)

// Option configures a Hub
type Option func(*Hub)

// WithAllowedOrigins restricts websocket upgrades to the given origins; "*" or none allows all
func WithAllowedOrigins(origins []string) Option {
	return func(h *Hub) {
		allowed := make(map[string]struct{}, len(origins))
		for _, o := range origins {
			if o == "*" {
				return
			}
			allowed[strings.TrimRight(o, "/")] = struct{}{}
		}
		if len(allowed) == 0 {
			return
		}
		h.upgrader.CheckOrigin = func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[strings.TrimRight(origin, "/")]
			return ok
		}
	}
}

// WithQueueSize sets how many published events may wait for dispatch before new ones are dropped
func WithQueueSize(n int) Option {
	return func(h *Hub) {
		if n > 0 {
			h.broadcast = make(chan message, n)
		}
	}
}

// Hub fans published events out to connected clients.
// A single Run loop owns the client set and dispatches in publish order.
type Hub struct {
	clients    map[*Client]struct{}
	broadcast  chan message
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	running    atomic.Bool
	count      atomic.Int64
	upgrader   websocket.Upgrader
}

// message carries an encoded event along with the topic it was published on
type message struct {
	topic string
	data  []byte
}

// NewHub creates a new hub; call Run to start dispatching
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		clients:    make(map[*Client]struct{}),
		broadcast:  make(chan message, defaultQueueSize),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// Run starts the hub's main event loop and blocks until ctx is cancelled.
// Remaining clients are disconnected on exit.
func (h *Hub) Run(ctx context.Context) error {
	if !h.running.CompareAndSwap(false, true) {
		return nil
	}
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			for c := range h.clients {
				h.drop(c)
			}
			utils.Info("broadcast hub stopped", nil)
			return nil

		case c := <-h.register:
			h.clients[c] = struct{}{}
			h.count.Store(int64(len(h.clients)))
			utils.Info("ws: client connected", map[string]any{
				"user_id":       c.principal.UserID,
				"total_clients": len(h.clients),
			})

		case c := <-h.unregister:
			if _, ok := h.clients[c]; ok {
				h.drop(c)
				utils.Info("ws: client disconnected", map[string]any{
					"user_id":       c.principal.UserID,
					"total_clients": len(h.clients),
				})
			}

		case msg := <-h.broadcast:
			for c := range h.clients {
				if !c.subscribed(msg.topic) {
					continue
				}
				select {
				case c.send <- msg.data:
				default:
					// Client's send buffer is full; it misses this event.
					utils.Warn("ws: dropping message for slow client", map[string]any{
						"user_id": c.principal.UserID,
						"topic":   msg.topic,
					})
				}
			}
		}
	}
}

func (h *Hub) drop(c *Client) {
	delete(h.clients, c)
	h.count.Store(int64(len(h.clients)))
	close(c.closed)
}

// Publish queues event for every client subscribed to topic.
// It never blocks: when the dispatch queue is full the event is dropped and logged.
func (h *Hub) Publish(topic string, event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		utils.Error("ws: failed to encode event", map[string]any{"event": event.Name, "error": err.Error()})
		return
	}

	select {
	case h.broadcast <- message{topic: topic, data: data}:
	default:
		utils.Warn("ws: dispatch queue full, dropping event", map[string]any{"event": event.Name, "topic": topic})
	}
}

// Subscribe joins c to topic
func (h *Hub) Subscribe(c *Client, topic string) error {
	return c.join(topic)
}

// Unsubscribe removes c from topic
func (h *Hub) Unsubscribe(c *Client, topic string) {
	c.leave(topic)
}

// ClientCount returns the number of currently connected clients
func (h *Hub) ClientCount() int {
	return int(h.count.Load())
}

// Connect registers an in-process client that receives events on Messages
func (h *Hub) Connect(principal models.Principal) (*Client, bool) {
	c := newClient(h, principal, nil)
	if !h.attach(c) {
		return nil, false
	}
	return c, true
}

func (h *Hub) attach(c *Client) bool {
	select {
	case h.register <- c:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) detach(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}

// HandleWS upgrades an authenticated HTTP request to a WebSocket connection and
// registers the client with the hub.
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request, principal models.Principal) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		utils.Warn("ws: upgrade failed", map[string]any{"error": err.Error()})
		return
	}

	c := newClient(h, principal, conn)
	if !h.attach(c) {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"),
			time.Now().Add(writeWait))
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}
