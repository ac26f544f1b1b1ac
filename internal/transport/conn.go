package transport

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"tradeflow/config"
	"tradeflow/logger"
)

const (
	defaultHandshakeTimeout  = 10 * time.Second
	defaultHeartbeatInterval = 4 * time.Second
	defaultReconnectInterval = 3 * time.Second
	writeTimeout             = 5 * time.Second
)

// wireFrame is the broker frame envelope. Client frames carry an op
// (subscribe, unsubscribe, send); server frames carry topic and body only.
type wireFrame struct {
	Op          string          `json:"op,omitempty"`
	ID          string          `json:"id,omitempty"`
	Topic       string          `json:"topic,omitempty"`
	Destination string          `json:"destination,omitempty"`
	Body        json.RawMessage `json:"body,omitempty"`
}

// Conn owns the single physical websocket connection to the broker. It
// reconnects on unexpected closure at a fixed interval and re-emits the
// connected signal after every successful handshake so subscription replay
// can run. All inbound frames are delivered sequentially from one reader
// goroutine, preserving per-topic arrival order.
type Conn struct {
	cfg config.BrokerConfig
	log *logger.Entry

	mu       sync.Mutex
	writeMu  sync.Mutex
	state    State
	ws       *websocket.Conn
	lastErr  error
	attempts int
	closed   bool
	stop     chan struct{}

	onRaw       func([]byte)
	onConnected []func()
	onState     []func(State)
}

func NewConn(cfg config.BrokerConfig) *Conn {
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = defaultHandshakeTimeout
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = defaultHeartbeatInterval
	}
	if cfg.Reconnect.Interval <= 0 {
		cfg.Reconnect.Interval = defaultReconnectInterval
	}
	return &Conn{
		cfg:   cfg,
		log:   logger.GetLogger().WithComponent("transport"),
		state: StateDisconnected,
		stop:  make(chan struct{}),
	}
}

// OnFrame registers the consumer of raw inbound frames. Register before
// Connect; there is exactly one consumer (the message router).
func (c *Conn) OnFrame(fn func([]byte)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onRaw = fn
}

// OnConnected registers a callback invoked after every successful handshake,
// before any frame of the new session is delivered. The subscription
// registry uses it to replay the active topic set.
func (c *Conn) OnConnected(fn func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = append(c.onConnected, fn)
}

// OnStateChange registers a connection-state observer.
func (c *Conn) OnStateChange(fn func(State)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onState = append(c.onState, fn)
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// LastError returns the most recent transport failure, if any.
func (c *Conn) LastError() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Connect establishes the websocket and protocol handshake. On handshake
// failure the error is returned to the caller and, unless the channel was
// closed, the reconnect loop keeps retrying in the background at the
// configured interval.
func (c *Conn) Connect(ctx context.Context) error {
	c.mu.Lock()
	switch c.state {
	case StateClosed:
		c.mu.Unlock()
		return ErrClosed
	case StateConnected, StateConnecting, StateReconnecting:
		c.mu.Unlock()
		return nil
	}
	c.mu.Unlock()

	c.setState(StateConnecting)

	ws, err := c.dial(ctx)
	if err != nil {
		connErr := &ConnectionError{URL: c.cfg.URL, Err: err}
		c.recordError(connErr)
		c.log.WithError(err).WithField("url", c.cfg.URL).Warn("failed to connect to broker")
		c.setState(StateReconnecting)
		go c.reconnectLoop(ctx)
		return connErr
	}

	c.startSession(ctx, ws)
	return nil
}

// Disconnect tears down the socket, cancels any pending reconnect and
// transitions to Closed. It is idempotent.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stop)
	ws := c.ws
	c.ws = nil
	c.mu.Unlock()

	if ws != nil {
		deadline := time.Now().Add(writeTimeout)
		_ = ws.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""), deadline)
		ws.Close()
	}

	c.setState(StateClosed)
	c.log.Info("broker connection closed")
}

// Send publishes a payload to a broker destination. While not connected the
// frame is dropped: the failure is logged and ErrNotConnected returned.
func (c *Conn) Send(destination string, body json.RawMessage) error {
	return c.writeFrame(wireFrame{Op: "send", Destination: destination, Body: body})
}

// SendSubscribe issues a broker-side subscription for a topic.
func (c *Conn) SendSubscribe(topic, id string) error {
	return c.writeFrame(wireFrame{Op: "subscribe", Topic: topic, ID: id})
}

// SendUnsubscribe releases a broker-side subscription by its handle.
func (c *Conn) SendUnsubscribe(id string) error {
	return c.writeFrame(wireFrame{Op: "unsubscribe", ID: id})
}

func (c *Conn) writeFrame(f wireFrame) error {
	c.mu.Lock()
	ws := c.ws
	connected := c.state == StateConnected
	c.mu.Unlock()

	if !connected || ws == nil {
		c.log.WithFields(logger.Fields{"op": f.Op, "topic": f.Topic, "destination": f.Destination}).
			Warn("not connected; frame dropped")
		return ErrNotConnected
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	ws.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := ws.WriteJSON(f); err != nil {
		c.log.WithError(err).WithField("op", f.Op).Warn("failed to write frame")
		return err
	}
	return nil
}

func (c *Conn) dial(ctx context.Context) (*websocket.Conn, error) {
	dialer := websocket.Dialer{HandshakeTimeout: c.cfg.HandshakeTimeout}
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()
	ws, _, err := dialer.DialContext(dialCtx, c.cfg.URL, nil)
	return ws, err
}

// startSession installs a freshly dialed socket, announces Connected, fires
// the connected signal and starts the read and ping loops. The connected
// callbacks run before the read loop so replayed subscriptions precede any
// frame of the new session.
func (c *Conn) startSession(ctx context.Context, ws *websocket.Conn) {
	c.mu.Lock()
	c.ws = ws
	c.attempts = 0
	c.lastErr = nil
	connectedFns := make([]func(), len(c.onConnected))
	copy(connectedFns, c.onConnected)
	c.mu.Unlock()

	hb := c.cfg.HeartbeatInterval
	ws.SetReadDeadline(time.Now().Add(2 * hb))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(2 * hb))
	})

	c.setState(StateConnected)
	c.log.WithField("url", c.cfg.URL).Info("broker connection established")

	for _, fn := range connectedFns {
		fn()
	}

	pingCancel := c.startPingLoop(ctx, ws)
	go c.readLoop(ctx, ws, pingCancel)
}

func (c *Conn) readLoop(ctx context.Context, ws *websocket.Conn, pingCancel context.CancelFunc) {
	var readErr error
	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			readErr = err
			break
		}
		ws.SetReadDeadline(time.Now().Add(2 * c.cfg.HeartbeatInterval))

		c.mu.Lock()
		onRaw := c.onRaw
		c.mu.Unlock()
		if onRaw != nil {
			onRaw(msg)
		}
	}

	pingCancel()
	ws.Close()

	c.mu.Lock()
	closed := c.closed
	if c.ws == ws {
		c.ws = nil
	}
	c.mu.Unlock()

	if closed || ctx.Err() != nil {
		return
	}

	// Unexpected closure, including missed heartbeats surfacing as a read
	// deadline error.
	connErr := &ConnectionError{URL: c.cfg.URL, Err: readErr}
	c.recordError(connErr)
	c.log.WithError(readErr).Warn("broker connection lost")
	c.setState(StateReconnecting)
	c.reconnectLoop(ctx)
}

// reconnectLoop retries the original URL at the configured fixed interval.
// Zero max attempts retries indefinitely. Disconnect cancels the loop.
func (c *Conn) reconnectLoop(ctx context.Context) {
	for {
		if !c.waitReconnect(ctx) {
			return
		}

		c.mu.Lock()
		c.attempts++
		attempt := c.attempts
		max := c.cfg.Reconnect.MaxAttempts
		c.mu.Unlock()

		logger.IncrementReconnect()
		c.log.WithFields(logger.Fields{"attempt": attempt, "url": c.cfg.URL}).Info("reconnecting to broker")

		ws, err := c.dial(ctx)
		if err == nil {
			c.startSession(ctx, ws)
			return
		}

		connErr := &ConnectionError{URL: c.cfg.URL, Err: err}
		c.recordError(connErr)
		c.log.WithError(err).WithField("attempt", attempt).Warn("reconnect attempt failed")

		if max > 0 && attempt >= max {
			c.log.WithField("attempts", attempt).Error("reconnect attempts exhausted")
			c.setState(StateDisconnected)
			return
		}

		c.setState(StateReconnecting)
	}
}

// waitReconnect sleeps for the reconnect interval. It returns false when the
// channel is closed or the context is cancelled.
func (c *Conn) waitReconnect(ctx context.Context) bool {
	timer := time.NewTimer(c.cfg.Reconnect.Interval)
	defer timer.Stop()

	select {
	case <-c.stop:
		return false
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (c *Conn) startPingLoop(ctx context.Context, ws *websocket.Conn) context.CancelFunc {
	pingCtx, cancel := context.WithCancel(ctx)
	ticker := time.NewTicker(c.cfg.HeartbeatInterval)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-pingCtx.Done():
				return
			case <-c.stop:
				return
			case <-ticker.C:
				if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(time.Second)); err != nil {
					c.log.WithError(err).Warn("failed to send heartbeat ping")
					cancel()
					return
				}
			}
		}
	}()
	return cancel
}

// setState records the transition and notifies observers. Repeated
// Reconnecting states are reported once per retry attempt on purpose: each
// failed attempt is an observable transition.
func (c *Conn) setState(s State) {
	c.mu.Lock()
	c.state = s
	observers := make([]func(State), len(c.onState))
	copy(observers, c.onState)
	c.mu.Unlock()

	for _, fn := range observers {
		fn(s)
	}
}

func (c *Conn) recordError(err error) {
	c.mu.Lock()
	c.lastErr = err
	c.mu.Unlock()
}
