package hub

import (
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/google/uuid"
)

const (
	// writeWait is how long to wait for a write to complete
	writeWait = 10 * time.Second

	// pongWait is how long to wait for a pong response
	pongWait = 60 * time.Second

	// pingPeriod must be less than pongWait
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 64 * 1024
)

// Client is a single UI websocket connection.
type Client struct {
	id   string
	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

func newClient(h *Hub, conn *websocket.Conn) *Client {
	return &Client{
		id:   uuid.NewString(),
		hub:  h,
		conn: conn,
		send: make(chan []byte, h.cfg.SendBuffer),
	}
}

// ID returns the client's identifier.
func (c *Client) ID() string { return c.id }

func (c *Client) run() {
	go c.writePump()
	c.readPump() // Blocks until the connection closes
}

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
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		c.hub.dispatch(c, data)
	}
}

// writePump is the only goroutine that writes to the connection.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
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

func nowMilli() int64 { return time.Now().UnixMilli() }
