// Package wsclient provides a reusable, reconnecting WebSocket client used
// by the Binance gateway for both its user-data and ticker streams.
package wsclient

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"gridbot/internal/core"
)

// MessageHandler handles one incoming WebSocket frame.
type MessageHandler func(message []byte)

// Client is a resilient WebSocket client: it reconnects with a fixed wait
// on any read or dial error and keeps the connection alive with pings.
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected func()

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.Logger
}

// New creates a Client bound to url, delivering every decoded frame to handler.
func New(url string, handler MessageHandler, logger core.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		logger:        logger,
	}
}

// SetOnConnected registers a callback invoked after every successful
// (re)connection — the natural place to (re)send stream subscriptions.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// Send writes a JSON message to the socket.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("wsclient: not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages in the background.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and waits (bounded) for the read loop to exit.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("wsclient stop: goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		if err := c.connect(); err != nil {
			if c.logger != nil {
				c.logger.Error("wsclient connect failed", "url", c.url, "error", err)
			}
			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.reconnectWait):
			}
			continue
		}

		c.mu.Lock()
		onConnected := c.onConnected
		pingInterval := c.pingInterval
		c.mu.Unlock()

		if onConnected != nil {
			onConnected()
		}

		heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
		if pingInterval > 0 {
			c.wg.Add(1)
			go c.heartbeat(heartbeatCtx)
		}

		c.readLoop()
		heartbeatCancel()

		select {
		case <-c.ctx.Done():
			return
		case <-time.After(c.reconnectWait):
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()

	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return
			}
			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	conn, _, err := websocket.DefaultDialer.DialContext(c.ctx, c.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
		}

		c.mu.Lock()
		conn := c.conn
		c.mu.Unlock()
		if conn == nil {
			return
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			return
		}

		if c.handler != nil {
			c.handler(message)
		}
	}
}
