package realtime

import (
	"context"
	"sync"
	"time"

	"github.com/gofiber/websocket/v2"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingPeriod   = (pongWait * 9) / 10
	maxFrameSize = 16 << 10
)

// Conn is the part of a websocket connection the pumps need. *websocket.Conn satisfies it.
type Conn interface {
	ReadMessage() (messageType int, p []byte, err error)
	WriteMessage(messageType int, data []byte) error
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
	Close() error
}

// Client is one websocket connection authenticated as userID.
type Client struct {
	conn   Conn
	userID string
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	// rooms is guarded by the hub mutex.
	rooms map[string]struct{}

	registered bool
}

func newClient(conn Conn, userID string, buffer int) *Client {
	if buffer <= 0 {
		buffer = 32
	}
	return &Client{
		conn:   conn,
		userID: userID,
		send:   make(chan []byte, buffer),
		closed: make(chan struct{}),
		rooms:  make(map[string]struct{}),
	}
}

// UserID returns the authenticated user of the connection.
func (c *Client) UserID() string {
	return c.userID
}

func (c *Client) enqueue(frame []byte) bool {
	select {
	case <-c.closed:
		return false
	default:
	}

	select {
	case c.send <- frame:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context, handle func(context.Context, []byte)) {
	c.conn.SetReadLimit(maxFrameSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		messageType, payload, err := c.conn.ReadMessage()
		if err != nil {
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
		handle(ctx, payload)

		select {
		case <-c.closed:
			return
		default:
		}
	}
}

func (c *Client) writePump(heartbeat func()) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case frame := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.close()
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close()
				return
			}
			if heartbeat != nil {
				heartbeat()
			}
		case <-c.closed:
			return
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		close(c.closed)
		_ = c.conn.Close()
	})
}
