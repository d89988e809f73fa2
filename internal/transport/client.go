package transport

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/bazario/chatkit/internal/bus"
	"github.com/bazario/chatkit/internal/wire"
	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

var (
	// ErrNotConnected is returned by Send/Emit while the channel is down.
	// Callers fall back to the request path; nothing is queued silently.
	ErrNotConnected = errors.New("transport: not connected")

	// ErrAckTimeout is returned when the server does not acknowledge a
	// frame within the caller's timeout.
	ErrAckTimeout = errors.New("transport: ack timeout")

	// ErrConnectionLost is returned for sends that were in flight when the
	// connection dropped.
	ErrConnectionLost = errors.New("transport: connection lost")
)

// Handler processes one inbound event payload. Handlers run on the read
// loop in arrival order; a panicking handler is recovered and logged so it
// never breaks delivery of subsequent events.
type Handler func(payload json.RawMessage)

// Options configures the live channel client.
type Options struct {
	URL               string
	DialTimeout       time.Duration
	AckTimeout        time.Duration // default when Send gets timeout <= 0
	ReconnectAttempts uint64
	ReconnectDelay    time.Duration // fixed backoff between attempts
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.DialTimeout <= 0 {
		out.DialTimeout = 10 * time.Second
	}
	if out.AckTimeout <= 0 {
		out.AckTimeout = 10 * time.Second
	}
	if out.ReconnectAttempts == 0 {
		out.ReconnectAttempts = 5
	}
	if out.ReconnectDelay <= 0 {
		out.ReconnectDelay = 2 * time.Second
	}
	return out
}

type ackResult struct {
	ack *wire.Ack
	err error
}

// Client maintains the persistent bidirectional connection to the chat
// server: typed events out with acknowledgements, typed events in through
// registered handlers, automatic reconnection with bounded fixed backoff.
type Client struct {
	opts   Options
	bus    *bus.Bus
	logger *zap.Logger

	connected atomic.Bool
	seq       atomic.Uint64

	mu         sync.Mutex // guards conn, credential, closed, pending
	conn       *websocket.Conn
	credential string
	closed     bool
	pending    map[uint64]chan ackResult

	writeMu sync.Mutex

	hmu      sync.RWMutex
	handlers map[string][]Handler
}

// NewClient creates a live channel client. Connect must be called before use.
func NewClient(opts Options, b *bus.Bus, logger *zap.Logger) *Client {
	return &Client{
		opts:     opts.withDefaults(),
		bus:      b,
		logger:   logger,
		pending:  make(map[uint64]chan ackResult),
		handlers: make(map[string][]Handler),
	}
}

// Connect opens the authenticated connection and starts the read loop.
// The credential is validated client-side first so a dead token fails fast
// instead of burning the reconnect budget.
func (c *Client) Connect(ctx context.Context, credential string) error {
	if _, err := Identity(credential); err != nil {
		return err
	}

	c.mu.Lock()
	c.credential = credential
	c.closed = false
	c.mu.Unlock()

	return c.dial(ctx)
}

func (c *Client) dial(ctx context.Context) error {
	c.mu.Lock()
	credential := c.credential
	c.mu.Unlock()

	dialer := websocket.Dialer{HandshakeTimeout: c.opts.DialTimeout}
	header := http.Header{}
	header.Set("Authorization", "Bearer "+credential)

	conn, resp, err := dialer.DialContext(ctx, c.opts.URL, header)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	if err != nil {
		return fmt.Errorf("dial %s: %w", c.opts.URL, err)
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.connected.Store(true)

	go c.readLoop(conn)

	c.logger.Info("live channel connected", zap.String("url", c.opts.URL))
	c.bus.Publish(bus.Event{Kind: bus.KindTransportConnected, Timestamp: time.Now()})
	return nil
}

// Disconnect tears the connection down and stops reconnection.
func (c *Client) Disconnect() {
	c.mu.Lock()
	c.closed = true
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	c.connected.Store(false)
	if conn != nil {
		_ = conn.Close()
	}
	c.failPending(ErrConnectionLost)
	c.logger.Info("live channel disconnected")
}

// IsConnected reports whether the live channel is usable right now.
func (c *Client) IsConnected() bool {
	return c.connected.Load()
}

// On registers a handler for an inbound event. Handlers for the same event
// run in registration order, once per occurrence.
func (c *Client) On(event string, h Handler) {
	c.hmu.Lock()
	c.handlers[event] = append(c.handlers[event], h)
	c.hmu.Unlock()
}

// Send emits a typed event and waits for the server acknowledgement.
// A missing ack resolves to ErrAckTimeout after the timeout rather than
// hanging; sending while disconnected fails fast with ErrNotConnected.
func (c *Client) Send(event string, payload any, timeout time.Duration) (*wire.Ack, error) {
	if !c.connected.Load() {
		return nil, ErrNotConnected
	}
	if timeout <= 0 {
		timeout = c.opts.AckTimeout
	}

	seq := c.seq.Add(1)
	ch := make(chan ackResult, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, ErrNotConnected
	}
	c.pending[seq] = ch
	c.mu.Unlock()

	if err := c.write(event, seq, payload); err != nil {
		c.dropPending(seq)
		return nil, err
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case res := <-ch:
		if res.err != nil {
			return nil, res.err
		}
		return res.ack, nil
	case <-timer.C:
		c.dropPending(seq)
		return nil, ErrAckTimeout
	}
}

// Emit sends a fire-and-forget event that expects no acknowledgement, for
// best-effort signals like delivery receipts and typing state.
func (c *Client) Emit(event string, payload any) error {
	if !c.connected.Load() {
		return ErrNotConnected
	}
	return c.write(event, 0, payload)
}

func (c *Client) write(event string, seq uint64, payload any) error {
	data, err := wire.EncodeFrame(event, seq, payload)
	if err != nil {
		return err
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()

	c.mu.Lock()
	conn := c.conn
	c.mu.Unlock()
	if conn == nil {
		return ErrNotConnected
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", event, err)
	}
	return nil
}

func (c *Client) readLoop(conn *websocket.Conn) {
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			break
		}
		frame, err := wire.DecodeFrame(data)
		if err != nil {
			c.logger.Warn("malformed frame", zap.Error(err))
			continue
		}
		if frame.Event == wire.EventAck {
			c.resolveAck(frame.Payload)
			continue
		}
		c.dispatch(frame.Event, frame.Payload)
	}

	c.connected.Store(false)
	c.failPending(ErrConnectionLost)

	c.mu.Lock()
	closed := c.closed
	if c.conn == conn {
		c.conn = nil
	}
	c.mu.Unlock()

	if closed {
		return
	}

	c.logger.Warn("live channel dropped")
	c.bus.Publish(bus.Event{Kind: bus.KindTransportDisconnected, Timestamp: time.Now()})
	go c.reconnect()
}

func (c *Client) resolveAck(raw json.RawMessage) {
	var ack wire.Ack
	if err := wire.Decode(raw, &ack); err != nil {
		c.logger.Warn("malformed ack", zap.Error(err))
		return
	}
	c.mu.Lock()
	ch, ok := c.pending[ack.Seq]
	delete(c.pending, ack.Seq)
	c.mu.Unlock()
	if ok {
		ch <- ackResult{ack: &ack}
	}
}

func (c *Client) dispatch(event string, payload json.RawMessage) {
	c.hmu.RLock()
	hs := c.handlers[event]
	c.hmu.RUnlock()
	for _, h := range hs {
		c.invoke(event, h, payload)
	}
}

func (c *Client) invoke(event string, h Handler, payload json.RawMessage) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("event handler panicked",
				zap.String("event", event), zap.Any("panic", r))
		}
	}()
	h(payload)
}

func (c *Client) dropPending(seq uint64) {
	c.mu.Lock()
	delete(c.pending, seq)
	c.mu.Unlock()
}

func (c *Client) failPending(err error) {
	c.mu.Lock()
	for seq, ch := range c.pending {
		delete(c.pending, seq)
		ch <- ackResult{err: err}
	}
	c.mu.Unlock()
}

// reconnect retries the dial with fixed backoff until it succeeds or the
// bounded attempt budget is spent. Exhaustion publishes transport.down and
// leaves the client in fallback-only operation.
func (c *Client) reconnect() {
	bo := backoff.WithMaxRetries(
		backoff.NewConstantBackOff(c.opts.ReconnectDelay),
		c.opts.ReconnectAttempts,
	)

	err := backoff.Retry(func() error {
		c.mu.Lock()
		closed := c.closed
		c.mu.Unlock()
		if closed {
			return backoff.Permanent(ErrConnectionLost)
		}

		ctx, cancel := context.WithTimeout(context.Background(), c.opts.DialTimeout)
		defer cancel()
		return c.dial(ctx)
	}, bo)

	if err != nil {
		c.logger.Error("reconnect budget exhausted", zap.Error(err))
		c.bus.Publish(bus.Event{Kind: bus.KindTransportDown, Timestamp: time.Now()})
	}
}
