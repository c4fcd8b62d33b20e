package polygon

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"options-flow/internal/observability"
)

// DefaultWSEndpoint is the options push feed.
const DefaultWSEndpoint = "wss://socket.polygon.io/options"

// ErrAuthFailed is returned when the push feed rejects the API key.
var ErrAuthFailed = errors.New("polygon websocket authentication failed")

// WSConfig configures WebSocket client behavior.
type WSConfig struct {
	// ReconnectDelay is initial delay before reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay is maximum delay between reconnect attempts.
	MaxReconnectDelay time.Duration
	// PingInterval is interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is timeout for writing messages.
	WriteTimeout time.Duration
	// AuthTimeout bounds the auth handshake.
	AuthTimeout time.Duration
	// BufferSize is the capacity of the trades channel.
	BufferSize int
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSConfig {
	return WSConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      10 * time.Second,
		AuthTimeout:       10 * time.Second,
		BufferSize:        10000,
	}
}

// WSClient streams raw trade events from the push feed.
// Each trade event is delivered as its own JSON object on Trades().
type WSClient struct {
	endpoint      string
	apiKey        string
	subscriptions []string
	config        WSConfig
	logger        zerolog.Logger

	conn   *websocket.Conn
	connMu sync.Mutex
	closed atomic.Bool

	trades chan json.RawMessage
	done   chan struct{}
	wg     sync.WaitGroup
}

// NewWSClient creates a push-feed client. Subscriptions are channel names such
// as "T.*" or "T.O:SPY251219C00500000"; an empty list subscribes to all trades.
func NewWSClient(endpoint, apiKey string, subscriptions []string, config *WSConfig, logger *zerolog.Logger) *WSClient {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	if endpoint == "" {
		endpoint = DefaultWSEndpoint
	}
	if len(subscriptions) == 0 {
		subscriptions = []string{"T.*"}
	}

	l := log.Logger
	if logger != nil {
		l = *logger
	}

	return &WSClient{
		endpoint:      endpoint,
		apiKey:        apiKey,
		subscriptions: subscriptions,
		config:        cfg,
		logger:        l.With().Str("component", "polygon_ws").Logger(),
		trades:        make(chan json.RawMessage, cfg.BufferSize),
		done:          make(chan struct{}),
	}
}

// Trades returns the channel of raw trade events. It is closed by Close.
func (c *WSClient) Trades() <-chan json.RawMessage {
	return c.trades
}

// Connect dials, authenticates and subscribes, then starts the read and ping loops.
// Later connection losses are recovered in the background.
func (c *WSClient) Connect(ctx context.Context) error {
	if c.closed.Load() {
		return fmt.Errorf("client closed")
	}

	if err := c.connect(ctx); err != nil {
		return err
	}

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()
	return nil
}

// connect establishes the connection and runs the auth/subscribe handshake.
func (c *WSClient) connect(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
	})

	c.connMu.Lock()
	defer c.connMu.Unlock()
	if c.closed.Load() {
		conn.Close()
		return fmt.Errorf("client closed")
	}
	c.conn = conn
	return nil
}

// handshake authenticates and subscribes on a fresh connection.
func (c *WSClient) handshake(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	if err := conn.WriteJSON(wsAction{Action: "auth", Params: c.apiKey}); err != nil {
		return fmt.Errorf("write auth: %w", err)
	}

	deadline := time.Now().Add(c.config.AuthTimeout)
	for {
		conn.SetReadDeadline(deadline)
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("read auth response: %w", err)
		}

		authenticated := false
		for _, ev := range splitEvents(message) {
			if ev.Ev != "status" {
				continue
			}
			switch ev.Status {
			case "auth_success":
				authenticated = true
			case "auth_failed":
				return fmt.Errorf("%w: %s", ErrAuthFailed, ev.Message)
			}
		}
		if authenticated {
			break
		}
	}

	conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	sub := wsAction{Action: "subscribe", Params: strings.Join(c.subscriptions, ",")}
	if err := conn.WriteJSON(sub); err != nil {
		return fmt.Errorf("write subscribe: %w", err)
	}

	c.logger.Info().Str("params", sub.Params).Msg("subscribed to push feed")
	return nil
}

// Close closes the WebSocket connection and the trades channel.
func (c *WSClient) Close() error {
	if c.closed.Swap(true) {
		return nil
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.wg.Wait()
	close(c.trades)
	return nil
}

// readLoop reads messages and dispatches trade events, reconnecting on failure.
func (c *WSClient) readLoop() {
	defer c.wg.Done()

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))
		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}
			c.logger.Warn().Err(err).Msg("push feed read failed, reconnecting")
			if !c.reconnect() {
				return
			}
			continue
		}

		c.handleMessage(message)
	}
}

// reconnect redials with exponential backoff until it succeeds or the client closes.
func (c *WSClient) reconnect() bool {
	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.connMu.Unlock()

	delay := c.config.ReconnectDelay
	for {
		select {
		case <-c.done:
			return false
		case <-time.After(delay):
		}

		observability.RecordWSReconnect()
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		err := c.connect(ctx)
		cancel()
		if err == nil {
			c.logger.Info().Msg("push feed reconnected")
			return true
		}
		if c.closed.Load() {
			return false
		}

		c.logger.Warn().Err(err).Dur("retry_in", delay).Msg("push feed reconnect failed")
		delay *= 2
		if delay > c.config.MaxReconnectDelay {
			delay = c.config.MaxReconnectDelay
		}
	}
}

// handleMessage dispatches trade events and logs status events.
func (c *WSClient) handleMessage(message []byte) {
	for _, ev := range splitEvents(message) {
		observability.RecordWSMessage(ev.Ev)

		switch ev.Ev {
		case "T":
			// Block until the consumer catches up; events are never dropped.
			select {
			case c.trades <- ev.Raw:
			case <-c.done:
				return
			}
		case "status":
			c.logger.Info().Str("status", ev.Status).Str("message", ev.Message).Msg("push feed status")
		}
	}
}

// pingLoop sends periodic ping frames to keep connection alive.
func (c *WSClient) pingLoop() {
	defer c.wg.Done()

	ticker := time.NewTicker(c.config.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.done:
			return
		case <-ticker.C:
			c.connMu.Lock()
			if c.conn != nil {
				c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
				// A failed ping surfaces as a read error in readLoop.
				_ = c.conn.WriteMessage(websocket.PingMessage, nil)
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsAction struct {
	Action string `json:"action"`
	Params string `json:"params"`
}

type wsEvent struct {
	Ev      string `json:"ev"`
	Status  string `json:"status"`
	Message string `json:"message"`

	Raw json.RawMessage `json:"-"`
}

// splitEvents decodes a frame holding either an array of events or a single event.
// Undecodable frames yield no events.
func splitEvents(message []byte) []wsEvent {
	var raws []json.RawMessage
	if err := json.Unmarshal(message, &raws); err != nil {
		raws = []json.RawMessage{message}
	}

	events := make([]wsEvent, 0, len(raws))
	for _, raw := range raws {
		var ev wsEvent
		if err := json.Unmarshal(raw, &ev); err != nil {
			continue
		}
		ev.Raw = raw
		events = append(events, ev)
	}
	return events
}
