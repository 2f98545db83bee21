package realtime

import (
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = 45 * time.Second
	sendBuffer   = 32
)

// Client wraps one live socket's outbound queue. Reads stay with the
// connection handler; the hub only ever touches the send channel.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

// NewClient wraps an upgraded connection.
func NewClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan []byte, sendBuffer)}
}

// WritePump drains the send queue onto the socket and keeps the connection
// alive with pings. It returns when the hub closes the send channel or a
// write fails; the caller closes the connection afterwards.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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

// Send queues payload without blocking; the frame is dropped if the queue is
// full, matching the fabric's at-most-once contract.
func (c *Client) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
	}
}

// RefreshReadDeadline arms the read deadline; pair with a pong handler the
// way connection handlers set it up.
func (c *Client) RefreshReadDeadline() {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
}
