package ws

import (
	"bytes"
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/marketchat/internal/event"
	"github.com/marketchat/internal/logger"
)

const (
	defaultWriteWait      = 10 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultMaxMessageSize = 8192
	defaultSendBufSize    = 256
)

// bufPool pools bytes.Buffer for JSON encoding in the hot-path (writePump).
var bufPool = sync.Pool{
	New: func() any { return new(bytes.Buffer) },
}

// EventHandler receives decoded frames from a connection.
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, msg IncomingMessage)
}

// ClientOptions tunes one connection. Zero values fall back to defaults.
type ClientOptions struct {
	SendBufferSize int
	MaxMessageSize int
	PongWait       time.Duration
	WriteWait      time.Duration
}

func (o ClientOptions) withDefaults() ClientOptions {
	if o.SendBufferSize <= 0 {
		o.SendBufferSize = defaultSendBufSize
	}
	if o.MaxMessageSize <= 0 {
		o.MaxMessageSize = defaultMaxMessageSize
	}
	if o.PongWait <= 0 {
		o.PongWait = defaultPongWait
	}
	if o.WriteWait <= 0 {
		o.WriteWait = defaultWriteWait
	}
	return o
}

// Client represents a single WebSocket connection of one user.
// Lifecycle: NewClient -> Start(ctx, cancel) -> [readPump, writePump] -> Close -> Wait.
type Client struct {
	registry Registry
	handler  EventHandler
	conn     *websocket.Conn
	send     chan OutgoingMessage
	userID   string
	opts     ClientOptions

	// done is used as a non-blocking guard in sendToClient.
	done   chan struct{}
	cancel context.CancelFunc
	once   sync.Once
	wg     sync.WaitGroup
}

func NewClient(registry Registry, handler EventHandler, conn *websocket.Conn, userID string, opts ClientOptions) *Client {
	opts = opts.withDefaults()
	return &Client{
		registry: registry,
		handler:  handler,
		conn:     conn,
		send:     make(chan OutgoingMessage, opts.SendBufferSize),
		userID:   userID,
		opts:     opts,
		done:     make(chan struct{}),
	}
}

func (c *Client) UserID() string { return c.userID }

// Start launches readPump and writePump goroutines with controlled lifecycle.
func (c *Client) Start(ctx context.Context, cancel context.CancelFunc) {
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(ctx)
	go c.readPump(ctx)
}

// Wait blocks until both pump goroutines have exited.
func (c *Client) Wait() {
	c.wg.Wait()
}

// Close signals the client to stop. Safe to call multiple times from any goroutine.
func (c *Client) Close() {
	c.once.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		close(c.done)
		if c.conn != nil {
			c.conn.Close()
		}
	})
}

func (c *Client) closed() bool {
	select {
	case <-c.done:
		return true
	default:
		return false
	}
}

func (c *Client) readPump(ctx context.Context) {
	defer c.wg.Done()
	defer func() {
		c.registry.Unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(int64(c.opts.MaxMessageSize))
	if err := c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait)); err != nil {
		logger.Errorf("ws set read deadline user=%s: %v", c.userID, err)
		return
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.opts.PongWait))
	})

	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Errorf("ws read error user=%s: %v", c.userID, err)
			}
			return
		}

		var msg IncomingMessage
		if err := json.Unmarshal(raw, &msg); err != nil {
			logger.Debugf("ws unmarshal error user=%s: %v", c.userID, err)
			c.registry.SendToClient(c, event.Error, event.ErrorPayload{Code: "BAD_REQUEST", Message: "malformed frame"})
			continue
		}

		c.handler.HandleEvent(ctx, c, msg)
	}
}

func (c *Client) writePump(ctx context.Context) {
	defer c.wg.Done()
	ticker := time.NewTicker((c.opts.PongWait * 9) / 10)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case <-ctx.Done():
			if err := c.conn.WriteMessage(websocket.CloseMessage, nil); err != nil {
				logger.Debugf("ws close message user=%s: %v", c.userID, err)
			}
			return
		case msg := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			buf := bufPool.Get().(*bytes.Buffer)
			buf.Reset()
			if err := json.NewEncoder(buf).Encode(msg); err != nil {
				bufPool.Put(buf)
				logger.Errorf("ws marshal error user=%s type=%s: %v", c.userID, msg.Type, err)
				continue
			}
			data := bytes.TrimSuffix(buf.Bytes(), []byte{'\n'})
			writeErr := c.conn.WriteMessage(websocket.TextMessage, data)
			bufPool.Put(buf)
			if writeErr != nil {
				return
			}
		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.opts.WriteWait)); err != nil {
				logger.Errorf("ws set write deadline user=%s: %v", c.userID, err)
				return
			}
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
