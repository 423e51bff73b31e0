package broadcast

import (
	"auction-marketplace/internal/models"
	"auction-marketplace/utils"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var errTooManyRooms = errors.New("too many joined auctions")

// Client is one connected subscriber. Events arrive on its send buffer in
// dispatch order; closed is closed by the hub when the client is dropped.
type Client struct {
	hub       *Hub
	conn      *websocket.Conn
	principal models.Principal
	send      chan []byte
	closed    chan struct{}

	mu   sync.RWMutex
	subs map[string]struct{}
}

// clientFrame is the JSON message a client sends to join or leave a room.
type clientFrame struct {
	Action    string `json:"action"` // "joinAuction" or "leaveAuction"
	AuctionID string `json:"auctionId"`
}

func newClient(h *Hub, principal models.Principal, conn *websocket.Conn) *Client {
	return &Client{
		hub:       h,
		conn:      conn,
		principal: principal,
		send:      make(chan []byte, sendBufferSize),
		closed:    make(chan struct{}),
		subs:      make(map[string]struct{}),
	}
}

// Messages returns the encoded events delivered to the client
func (c *Client) Messages() <-chan []byte {
	return c.send
}

// Done is closed once the hub has dropped the client
func (c *Client) Done() <-chan struct{} {
	return c.closed
}

// Close unregisters the client from its hub
func (c *Client) Close() {
	c.hub.detach(c)
}

func (c *Client) join(topic string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.subs[topic]; ok {
		return nil
	}
	if len(c.subs) >= maxJoinedAuctions {
		return errTooManyRooms
	}
	c.subs[topic] = struct{}{}
	return nil
}

func (c *Client) leave(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.subs, topic)
}

// subscribed checks whether the client should receive events on topic.
func (c *Client) subscribed(topic string) bool {
	if topic == GlobalTopic {
		return true
	}

	c.mu.RLock()
	defer c.mu.RUnlock()
	_, ok := c.subs[topic]
	return ok
}

// reply queues a direct answer to this client only; it is skipped if the buffer is full
func (c *Client) reply(event Event) {
	data, err := json.Marshal(event)
	if err != nil {
		return
	}
	select {
	case c.send <- data:
	default:
	}
}

// readPump reads join/leave frames from the WebSocket connection.
func (c *Client) readPump() {
	defer func() {
		c.hub.detach(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				utils.Warn("ws: unexpected close error", map[string]any{
					"user_id": c.principal.UserID,
					"error":   err.Error(),
				})
			}
			return
		}

		var frame clientFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.reply(Event{Name: eventError, Data: errorData{Message: "malformed frame"}})
			continue
		}
		c.handleFrame(frame)
	}
}

func (c *Client) handleFrame(frame clientFrame) {
	if frame.AuctionID == "" {
		c.reply(Event{Name: eventError, Data: errorData{Message: "auctionId is required"}})
		return
	}
	topic := AuctionTopic(frame.AuctionID)

	switch frame.Action {
	case "joinAuction":
		if err := c.hub.Subscribe(c, topic); err != nil {
			c.reply(Event{Name: eventError, Data: errorData{Message: err.Error()}})
			return
		}
		utils.Debug("ws: client joined auction", map[string]any{"user_id": c.principal.UserID, "auction_id": frame.AuctionID})
		c.reply(Event{Name: eventJoined, Data: roomData{AuctionID: frame.AuctionID}})
	case "leaveAuction":
		c.hub.Unsubscribe(c, topic)
		c.reply(Event{Name: eventLeft, Data: roomData{AuctionID: frame.AuctionID}})
	default:
		c.reply(Event{Name: eventError, Data: errorData{Message: "unknown action " + frame.Action}})
	}
}

// writePump pumps messages from the hub to the WebSocket connection and
// sends periodic ping frames for keepalive.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}

		case <-c.closed:
			// The hub dropped the client.
			_ = c.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, ""),
				time.Now().Add(writeWait))
			return

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
