package main

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/kawacukennedy/3d-racing-game-sub001/internal/logging"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/replication"
	"github.com/kawacukennedy/3d-racing-game-sub001/internal/room"
)

const (
	// sendBufferSize bounds the frames queued for one connection.
	sendBufferSize = 256
	// writeWait bounds how long a single websocket write may take.
	writeWait = 10 * time.Second
)

var (
	errSendBufferFull = errors.New("send buffer full")
	errThrottled      = errors.New("best-effort budget exhausted")
)

// Client is one websocket connection. It implements replication.Sink and
// replication.Kicker so rooms can reach the racer without blocking.
type Client struct {
	id     string
	addr   string
	conn   *websocket.Conn
	send   chan []byte
	server *Server
	log    *logging.Logger

	done      chan struct{}
	closeOnce sync.Once
	reason    string

	mu   sync.Mutex
	room *room.Room
}

func newClient(server *Server, conn *websocket.Conn, id, addr string) *Client {
	return &Client{
		id:     id,
		addr:   addr,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		server: server,
		log:    server.log.With(logging.PlayerID(id), logging.String("remote_addr", addr)),
		done:   make(chan struct{}),
	}
}

// ID returns the player id bound to the connection.
func (c *Client) ID() string { return c.id }

// SendReliable queues a lifecycle frame. A connection that cannot keep up with
// reliable traffic is closed.
func (c *Client) SendReliable(frame []byte) error {
	if c == nil {
		return replication.ErrSinkClosed
	}
	select {
	case <-c.done:
		return replication.ErrSinkClosed
	default:
	}
	select {
	case c.send <- frame:
		return nil
	case <-c.done:
		return replication.ErrSinkClosed
	default:
		c.Kick(errSendBufferFull.Error())
		return errSendBufferFull
	}
}

// SendBestEffort queues a kinematic frame when the bandwidth budget allows it.
// Frames over budget or behind a full buffer are dropped.
func (c *Client) SendBestEffort(frame []byte) error {
	if c == nil {
		return replication.ErrSinkClosed
	}
	if bandwidth := c.server.bandwidth; bandwidth != nil && !bandwidth.Allow(c.id, len(frame)) {
		return errThrottled
	}
	select {
	case <-c.done:
		return replication.ErrSinkClosed
	case c.send <- frame:
		return nil
	default:
		return errSendBufferFull
	}
}

// Kick closes the connection with reason as the close frame text.
func (c *Client) Kick(reason string) {
	if c == nil {
		return
	}
	c.closeOnce.Do(func() {
		c.reason = reason
		close(c.done)
	})
}

// Room returns the room the racer is seated in, if it is still live.
func (c *Client) Room() *room.Room {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.room == nil {
		return nil
	}
	select {
	case <-c.room.Done():
		c.room = nil
	default:
	}
	return c.room
}

func (c *Client) assign(seated *room.Room) {
	c.mu.Lock()
	c.room = seated
	c.mu.Unlock()
}

// readPump feeds inbound frames to the dispatcher until the socket fails.
func (c *Client) readPump() {
	defer c.Kick("read closed")

	pingInterval := c.server.cfg.PingInterval
	c.conn.SetReadLimit(c.server.cfg.MaxPayloadBytes)
	_ = c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(2 * pingInterval))
	})
	for {
		messageType, frame, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.log.Debug("websocket read failed", logging.Error(err))
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		c.server.dispatch(c, frame)
	}
}

// writePump drains the send buffer and keeps the connection alive with pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.server.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.Kick("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.Kick("ping failed")
				return
			}
		case <-c.done:
			//1.- Flush what is already queued so a kicked racer still sees why.
			c.flush()
			message := websocket.FormatCloseMessage(websocket.ClosePolicyViolation, c.reason)
			if c.reason == "read closed" || c.reason == shutdownReason {
				message = websocket.FormatCloseMessage(websocket.CloseNormalClosure, c.reason)
			}
			_ = c.conn.WriteControl(websocket.CloseMessage, message, time.Now().Add(writeWait))
			return
		}
	}
}

func (c *Client) flush() {
	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				return
			}
		default:
			return
		}
	}
}

var (
	_ replication.Sink   = (*Client)(nil)
	_ replication.Kicker = (*Client)(nil)
)
