package ws

import (
	"errors"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/manpreetbhatti/drawsync/internal/protocol"
	"github.com/manpreetbhatti/drawsync/internal/ratelimit"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 1024 * 1024
	sendBufferSize = 512

	maxRateLimitWarnings = 1000
)

var (
	ErrSendBufferFull = errors.New("send buffer full")
	ErrClientClosed   = errors.New("client closed")
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// State of a connection: Connecting -> Active -> Closed
type State int32

const (
	StateConnecting State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	default:
		return "closed"
	}
}

// MessageHandler is the session protocol driven by a client's pumps
type MessageHandler interface {
	Open(conn protocol.Conn)
	Handle(conn protocol.Conn, data []byte)
	Close(conn protocol.Conn)
}

type Config struct {
	MessagesPerSecond float64
	MessageBurst      int
}

type Client struct {
	handler     MessageHandler
	conn        *websocket.Conn
	send        chan []byte
	roomID      string
	clientID    string
	rateLimiter *ratelimit.Limiter
	state       atomic.Int32

	mu     sync.Mutex
	closed bool
}

// ServeWs upgrades the request and runs a session for roomID
func ServeWs(handler MessageHandler, w http.ResponseWriter, r *http.Request, roomID string, cfg Config) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("upgrade error", "error", err)
		return
	}

	client := &Client{
		handler:     handler,
		conn:        conn,
		send:        make(chan []byte, sendBufferSize),
		roomID:      roomID,
		clientID:    uuid.NewString(),
		rateLimiter: ratelimit.NewLimiter(cfg.MessagesPerSecond, cfg.MessageBurst),
	}
	client.Start()
}

func (c *Client) ID() string   { return c.clientID }
func (c *Client) Room() string { return c.roomID }

func (c *Client) State() State {
	return State(c.state.Load())
}

// Send queues data for the write pump without blocking
func (c *Client) Send(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrClientClosed
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrSendBufferFull
	}
}

// Close stops the write pump, which then closes the socket
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.closed {
		c.closed = true
		close(c.send)
	}
	c.state.Store(int32(StateClosed))
	return nil
}

func (c *Client) Start() {
	go c.writePump()
	c.handler.Open(c)
	c.state.CompareAndSwap(int32(StateConnecting), int32(StateActive))
	go c.readPump()
}

func (c *Client) readPump() {
	defer func() {
		c.state.Store(int32(StateClosed))
		c.handler.Close(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	rateLimitWarnings := 0

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				slog.Warn("read error", "room", c.roomID, "clientId", c.clientID, "error", err)
			}
			return
		}

		if !c.rateLimiter.Allow() {
			rateLimitWarnings++
			if rateLimitWarnings%100 == 1 {
				slog.Warn("rate limit exceeded", "room", c.roomID, "clientId", c.clientID, "warnings", rateLimitWarnings)
			}
			if rateLimitWarnings > maxRateLimitWarnings {
				slog.Warn("disconnecting client for excessive rate limit violations", "clientId", c.clientID)
				return
			}
			continue
		}

		c.handler.Handle(c, message)
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				slog.Debug("write error", "clientId", c.clientID, "error", err)
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
