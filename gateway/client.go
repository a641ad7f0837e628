package gateway

import (
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// Client is one websocket connection of an authenticated player.
type Client struct {
	id          uuid.UUID
	identity    string
	displayName string
	conn        *websocket.Conn
	log         *slog.Logger
	send        chan []byte
	limiter     *rate.Limiter
	done        chan struct{}
	closeOnce   sync.Once
}

func newClient(log *slog.Logger, conn *websocket.Conn, identity, displayName string, bufferSize int, limiter *rate.Limiter) *Client {
	id := uuid.New()
	return &Client{
		id:          id,
		identity:    identity,
		displayName: displayName,
		conn:        conn,
		log:         log.With("identity", identity, "conn_id", id.String()),
		send:        make(chan []byte, bufferSize),
		limiter:     limiter,
		done:        make(chan struct{}),
	}
}

// enqueue never blocks, false means the frame was dropped.
func (c *Client) enqueue(data []byte) bool {
	select {
	case <-c.done:
		return false
	default:
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) close(reason string) {
	c.closeOnce.Do(func() {
		close(c.done)
		// WriteControl may run concurrently with writePump
		_ = c.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason),
			time.Now().Add(writeWait))
		_ = c.conn.Close()
	})
}

// readPump hands every frame to handle until the connection fails.
func (c *Client) readPump(handle func([]byte)) {
	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Debug("Read error", "error", err)
			}
			return
		}
		handle(message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case message := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.log.Debug("Write error", "error", err)
				c.close("write failed")
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.close("ping failed")
				return
			}
		}
	}
}
