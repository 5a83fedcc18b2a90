package client

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/afroash/envmon/internal/models"
)

// ConnectionState represents the current state of the connection
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
)

func (cs ConnectionState) String() string {
	switch cs {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	default:
		return "unknown"
	}
}

// MessageHandler is called for every message received on the stream
type MessageHandler func(msg *models.Message)

// ConnectionConfig holds configuration for the connection
type ConnectionConfig struct {
	URL                  string
	Origin               string
	ReconnectInterval    time.Duration
	MaxReconnectInterval time.Duration
	// ReadTimeout bounds the silence between server frames; the server pings
	// well inside the default.
	ReadTimeout time.Duration
}

// Connection subscribes to the dashboard stream and reconnects with
// exponential backoff when it drops
type Connection struct {
	url                      string
	origin                   string
	logger                   zerolog.Logger
	reconnectInterval        time.Duration
	maxReconnectInterval     time.Duration
	currentReconnectInterval time.Duration
	readTimeout              time.Duration

	stateMutex sync.RWMutex
	state      ConnectionState
	conn       *websocket.Conn
	received   int64
}

// NewConnection creates a new stream subscriber
func NewConnection(config ConnectionConfig, logger zerolog.Logger) *Connection {
	if config.ReadTimeout <= 0 {
		config.ReadTimeout = 90 * time.Second
	}
	return &Connection{
		url:                      config.URL,
		origin:                   config.Origin,
		logger:                   logger.With().Str("component", "stream-client").Logger(),
		reconnectInterval:        config.ReconnectInterval,
		maxReconnectInterval:     config.MaxReconnectInterval,
		currentReconnectInterval: config.ReconnectInterval,
		readTimeout:              config.ReadTimeout,
		state:                    StateDisconnected,
	}
}

// setState safely updates the connection state
func (c *Connection) setState(state ConnectionState) {
	c.stateMutex.Lock()
	c.state = state
	c.stateMutex.Unlock()
	c.logger.Debug().Str("state", state.String()).Msg("Connection state updated")
}

// State returns the current connection state
func (c *Connection) State() ConnectionState {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.state
}

// Received returns the number of messages handled so far
func (c *Connection) Received() int64 {
	c.stateMutex.RLock()
	defer c.stateMutex.RUnlock()
	return c.received
}

// Connect dials the stream once
func (c *Connection) Connect(ctx context.Context) error {
	c.setState(StateConnecting)
	c.logger.Info().Str("url", c.url).Msg("Connecting to stream")

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	header := http.Header{}
	if c.origin != "" {
		header.Set("Origin", c.origin)
	}

	conn, resp, err := dialer.DialContext(ctx, c.url, header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		c.setState(StateDisconnected)
		if resp != nil {
			return fmt.Errorf("dial failed with status %d: %w", resp.StatusCode, err)
		}
		return fmt.Errorf("dial failed: %w", err)
	}

	c.stateMutex.Lock()
	c.conn = conn
	c.stateMutex.Unlock()
	c.setState(StateConnected)
	c.currentReconnectInterval = c.reconnectInterval // reset backoff
	c.logger.Info().Msg("Connected to stream")
	return nil
}

// Run subscribes until ctx is cancelled, reconnecting whenever the stream drops
func (c *Connection) Run(ctx context.Context, handle MessageHandler) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if err := c.Connect(ctx); err != nil {
			c.logger.Warn().Err(err).Msg("Connection failed")
			c.waitBeforeReconnect(ctx)
			continue
		}

		c.readLoop(ctx, handle)

		if ctx.Err() == nil {
			c.logger.Info().Msg("Connection lost, will reconnect")
			c.waitBeforeReconnect(ctx)
		}
	}
}

// waitBeforeReconnect waits before next reconnection attempt with exponential backoff
func (c *Connection) waitBeforeReconnect(ctx context.Context) {
	c.logger.Info().Dur("delay", c.currentReconnectInterval).Msg("Waiting before reconnect")
	select {
	case <-time.After(c.currentReconnectInterval):
	case <-ctx.Done():
		return
	}
	c.currentReconnectInterval *= 2
	if c.currentReconnectInterval > c.maxReconnectInterval {
		c.currentReconnectInterval = c.maxReconnectInterval
	}
}

// readLoop delivers messages until the connection fails or ctx ends
func (c *Connection) readLoop(ctx context.Context, handle MessageHandler) {
	c.stateMutex.RLock()
	conn := c.conn
	c.stateMutex.RUnlock()

	// unblock ReadJSON on cancellation
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer c.disconnect()

	conn.SetReadDeadline(time.Now().Add(c.readTimeout))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		var msg models.Message
		if err := conn.ReadJSON(&msg); err != nil {
			if ctx.Err() == nil {
				c.logger.Warn().Err(err).Msg("Read error")
			}
			return
		}
		conn.SetReadDeadline(time.Now().Add(c.readTimeout))

		c.stateMutex.Lock()
		c.received++
		c.stateMutex.Unlock()

		if msg.Type == models.MessageTypeError {
			var errMsg models.ErrorMessage
			if err := msg.UnmarshalPayload(&errMsg); err == nil {
				c.logger.Warn().Str("code", errMsg.Code).Str("msg", errMsg.Message).Msg("Server error")
			}
		}
		handle(&msg)
	}
}

// disconnect closes the WebSocket connection
func (c *Connection) disconnect() {
	c.stateMutex.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.stateMutex.Unlock()
	c.logger.Debug().Msg("Connection disconnected")
}

// Close sends a close frame and drops the connection
func (c *Connection) Close() error {
	c.stateMutex.Lock()
	conn := c.conn
	c.stateMutex.Unlock()

	if conn != nil {
		conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(time.Second),
		)
	}
	c.disconnect()
	return nil
}
