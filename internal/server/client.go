package server

import (
	"log"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1 << 16 // 64KiB, comfortably above any chat/group frame
)

// Client wraps one upgraded websocket connection. It implements
// registry.Conn via Send, which never blocks the caller: frames are handed
// to a buffered channel drained by writePump.
type Client struct {
	conn *websocket.Conn
	send chan []byte
}

func newClient(conn *websocket.Conn) *Client {
	return &Client{conn: conn, send: make(chan []byte, 256)}
}

// Send enqueues payload for delivery. If the client's outbound buffer is
// full the frame is dropped rather than letting one slow reader stall the
// dispatcher goroutine that called Send. It never closes c.send: multiple
// goroutines may call Send concurrently (a group fan-out racing a one-to-one
// send to the same recipient), and only the connection's own readPump, on
// exit, is allowed to close the channel.
func (c *Client) Send(payload []byte) {
	select {
	case c.send <- payload:
	default:
		log.Printf("server: client send buffer full, dropping frame")
	}
}

// readPump reads frames off the socket and pushes each one to jobs for a
// worker to decode and dispatch, so this goroutine never blocks on
// handler logic — only on the network read itself.
func (c *Client) readPump(jobs chan<- job, onClose func(*Client)) {
	defer func() {
		onClose(c)
		c.conn.Close()
		close(c.send)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		msg := make([]byte, len(raw))
		copy(msg, raw)
		jobs <- job{conn: c, raw: msg, ts: time.Now()}
	}
}

// writePump is the only goroutine allowed to call WriteMessage on this
// connection, per gorilla/websocket's concurrency rules. It also drives the
// keepalive ping.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

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
