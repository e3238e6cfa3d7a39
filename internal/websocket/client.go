package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/hearth-social/backend/internal/logger"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next frame from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer
	maxMessageSize = 64 * 1024

	// Send buffer size
	sendBufferSize = 256
)

var (
	// ErrClientClosed is returned by Send after Close
	ErrClientClosed = errors.New("client connection closed")

	// ErrSendBufferFull is returned by Send when the client is not draining its buffer
	ErrSendBufferFull = errors.New("send buffer full")
)

// Client is one authenticated socket connection. A user may hold several.
type Client struct {
	// ID is unique per connection
	ID string

	UserID   string
	Username string

	conn *websocket.Conn
	hub  *Hub

	// Buffered channel of outbound frames. Never closed; WritePump exits on ctx.
	send chan []byte

	// Rooms this connection is in, guarded by hub.mu
	rooms map[string]struct{}

	ConnectedAt time.Time
	RemoteAddr  string
	UserAgent   string

	limiter *rate.Limiter

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// NewClient creates a Client for conn. conn may be nil for in-process clients.
func NewClient(hub *Hub, conn *websocket.Conn, userID, username string) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	config := hub.GetRateLimitConfig()

	return &Client{
		ID:          uuid.New().String(),
		UserID:      userID,
		Username:    username,
		conn:        conn,
		hub:         hub,
		send:        make(chan []byte, sendBufferSize),
		rooms:       make(map[string]struct{}),
		ConnectedAt: time.Now().UTC(),
		limiter:     rate.NewLimiter(rate.Limit(config.MessagesPerSecond), config.Burst),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Context is cancelled when the client closes
func (c *Client) Context() context.Context {
	return c.ctx
}

// ReadPump reads frames until the connection fails, then disconnects the client
func (c *Client) ReadPump() {
	defer c.hub.Disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)

	for {
		readCtx, readCancel := context.WithTimeout(c.ctx, pongWait)
		_, data, err := c.conn.Read(readCtx)
		readCancel()

		if err != nil {
			status := websocket.CloseStatus(err)
			if status == websocket.StatusNormalClosure || status == websocket.StatusGoingAway {
				logger.Log.Debug("Client closed connection", logger.WithUserID(c.UserID))
			} else if c.ctx.Err() == nil {
				logger.Log.Warn("Socket read failed", logger.WithUserID(c.UserID), zap.Error(err))
			}
			return
		}

		if !c.limiter.Allow() {
			c.hub.metrics.SocketInboundRejected.WithLabelValues("rate_limited").Inc()
			c.SendError(CodeRateLimited, "Too many messages, please slow down")
			continue
		}

		var message Message
		if err := json.Unmarshal(data, &message); err != nil || message.Event == "" {
			c.hub.metrics.SocketInboundRejected.WithLabelValues("invalid_frame").Inc()
			c.SendError(CodeInvalidJSON, "Frames must be JSON objects with an event name")
			continue
		}
		if message.Timestamp.IsZero() {
			message.Timestamp = FlexibleTime{Time: time.Now().UTC()}
		}

		c.hub.Dispatch(c, &message)
	}
}

// WritePump drains the send buffer to the connection and keeps it alive with pings
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case <-c.ctx.Done():
			c.flush()
			return

		case data := <-c.send:
			if err := c.write(data); err != nil {
				logger.Log.Warn("Socket write failed", logger.WithUserID(c.UserID), zap.Error(err))
				return
			}

		case <-ticker.C:
			ctx, cancel := context.WithTimeout(c.ctx, writeWait)
			err := c.conn.Ping(ctx)
			cancel()
			if err != nil {
				logger.Log.Debug("Ping failed", logger.WithUserID(c.UserID), zap.Error(err))
				return
			}
		}
	}
}

func (c *Client) write(data []byte) error {
	ctx, cancel := context.WithTimeout(context.Background(), writeWait)
	defer cancel()
	return c.conn.Write(ctx, websocket.MessageText, data)
}

// flush writes whatever is already buffered, e.g. the shutdown notice, then closes
func (c *Client) flush() {
	for {
		select {
		case data := <-c.send:
			if err := c.write(data); err != nil {
				return
			}
		default:
			_ = c.conn.Close(websocket.StatusGoingAway, "closing")
			return
		}
	}
}

// enqueue hands an encoded frame to the write pump without blocking
func (c *Client) enqueue(data []byte) bool {
	if c.ctx.Err() != nil {
		return false
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// Send queues message for this client only
func (c *Client) Send(message *Message) error {
	if c.ctx.Err() != nil {
		return ErrClientClosed
	}

	data, err := json.Marshal(message)
	if err != nil {
		return err
	}
	if !c.enqueue(data) {
		return ErrSendBufferFull
	}
	return nil
}

// SendError sends a socketError frame to the client
func (c *Client) SendError(code, message string) {
	_ = c.Send(NewErrorMessage(code, message))
}

// Close stops the pumps. The write pump flushes buffered frames before closing
// the connection. Safe to call more than once.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		c.cancel()
		if c.conn != nil {
			go func() {
				// Give the write pump a moment to flush before forcing the close
				time.Sleep(writeWait)
				_ = c.conn.CloseNow()
			}()
		}
	})
}

// Frames exposes the outbound buffer of an in-process client (one created with a nil
// conn). For socket-backed clients WritePump owns the buffer.
func (c *Client) Frames() <-chan []byte {
	return c.send
}

// IsClosed reports whether Close has been called
func (c *Client) IsClosed() bool {
	return c.ctx.Err() != nil
}

// ClientInfo is the public view of a connection
type ClientInfo struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Username    string    `json:"username"`
	ConnectedAt time.Time `json:"connected_at"`
	RemoteAddr  string    `json:"remote_addr"`
	UserAgent   string    `json:"user_agent"`
}

// GetInfo returns client information
func (c *Client) GetInfo() ClientInfo {
	return ClientInfo{
		ID:          c.ID,
		UserID:      c.UserID,
		Username:    c.Username,
		ConnectedAt: c.ConnectedAt,
		RemoteAddr:  c.RemoteAddr,
		UserAgent:   c.UserAgent,
	}
}
