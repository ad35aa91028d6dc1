package binance

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

// WSClientConfig configures WebSocket client behavior.
type WSClientConfig struct {
	// ReconnectDelay is the initial delay before a reconnect attempt.
	ReconnectDelay time.Duration
	// MaxReconnectDelay caps the delay between reconnect attempts.
	// Delays grow exponentially with full jitter up to this cap.
	MaxReconnectDelay time.Duration
	// PingInterval is the interval for sending ping frames.
	PingInterval time.Duration
	// ReadTimeout is the timeout for reading messages.
	ReadTimeout time.Duration
	// WriteTimeout is the timeout for writing messages.
	WriteTimeout time.Duration
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// DefaultWSConfig returns default WebSocket configuration.
func DefaultWSConfig() WSClientConfig {
	return WSClientConfig{
		ReconnectDelay:    1 * time.Second,
		MaxReconnectDelay: 30 * time.Second,
		PingInterval:      3 * time.Minute,
		ReadTimeout:       5 * time.Minute,
		WriteTimeout:      10 * time.Second,
	}
}

// WSClientImpl implements StreamClient using gorilla/websocket against a
// combined-stream endpoint. Live SUBSCRIBE/UNSUBSCRIBE commands manage the
// stream set; after a reconnect every live stream is re-subscribed.
type WSClientImpl struct {
	endpoint string
	config   WSClientConfig
	log      *logrus.Entry

	conn      *websocket.Conn
	connMu    sync.Mutex
	closed    atomic.Bool
	requestID atomic.Uint64

	// subs maps stream name to delivery channel; stream names are stable
	// across reconnects, so this doubles as the resubscription set
	subs   map[string]chan StreamMessage
	subsMu sync.RWMutex

	// pendingAcks maps request ID to channel waiting for the command ack
	pendingAcks   map[uint64]chan error
	pendingAcksMu sync.Mutex

	// done signals shutdown
	done chan struct{}
	wg   sync.WaitGroup

	// reconnecting indicates reconnection in progress
	reconnecting atomic.Bool
}

var _ StreamClient = (*WSClientImpl)(nil)

// NewWSClient creates a new stream client and connects to the endpoint.
func NewWSClient(ctx context.Context, endpoint string, config *WSClientConfig) (*WSClientImpl, error) {
	cfg := DefaultWSConfig()
	if config != nil {
		cfg = *config
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	c := &WSClientImpl{
		endpoint:    endpoint,
		config:      cfg,
		log:         logger.WithField("component", "binance.ws"),
		subs:        make(map[string]chan StreamMessage),
		pendingAcks: make(map[uint64]chan error),
		done:        make(chan struct{}),
	}

	if err := c.connect(ctx); err != nil {
		return nil, err
	}

	c.wg.Add(1)
	go c.readLoop()

	c.wg.Add(1)
	go c.pingLoop()

	return c, nil
}

// connect establishes the WebSocket connection.
func (c *WSClientImpl) connect(ctx context.Context) error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, c.endpoint, nil)
	if err != nil {
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.conn = conn
	return nil
}

// Subscribe subscribes to one stream and returns its delivery channel.
func (c *WSClientImpl) Subscribe(ctx context.Context, stream string) (<-chan StreamMessage, error) {
	if c.closed.Load() {
		return nil, fmt.Errorf("client closed")
	}

	c.subsMu.RLock()
	_, exists := c.subs[stream]
	c.subsMu.RUnlock()
	if exists {
		return nil, fmt.Errorf("already subscribed to %s", stream)
	}

	if err := c.sendCommand(ctx, "SUBSCRIBE", []string{stream}); err != nil {
		return nil, err
	}

	// Large buffer absorbs bursts; the consumer applies its own
	// backpressure policy downstream
	ch := make(chan StreamMessage, 10000)
	c.subsMu.Lock()
	c.subs[stream] = ch
	c.subsMu.Unlock()

	return ch, nil
}

// Unsubscribe removes the stream subscription and closes its channel.
func (c *WSClientImpl) Unsubscribe(ctx context.Context, stream string) error {
	c.subsMu.Lock()
	ch, ok := c.subs[stream]
	if ok {
		delete(c.subs, stream)
	}
	c.subsMu.Unlock()

	if !ok {
		return nil // already gone, not an error
	}
	close(ch)

	if c.closed.Load() {
		return nil
	}
	return c.sendCommand(ctx, "UNSUBSCRIBE", []string{stream})
}

// Close closes the connection and all subscription channels.
func (c *WSClientImpl) Close() error {
	if c.closed.Swap(true) {
		return nil // Already closed
	}

	close(c.done)

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.conn.Close()
	}
	c.connMu.Unlock()

	c.subsMu.Lock()
	for stream, ch := range c.subs {
		close(ch)
		delete(c.subs, stream)
	}
	c.subsMu.Unlock()

	c.pendingAcksMu.Lock()
	for id, ch := range c.pendingAcks {
		close(ch)
		delete(c.pendingAcks, id)
	}
	c.pendingAcksMu.Unlock()

	c.wg.Wait()
	return nil
}

// sendCommand writes a SUBSCRIBE/UNSUBSCRIBE command and waits for its ack.
func (c *WSClientImpl) sendCommand(ctx context.Context, method string, params []string) error {
	reqID := c.requestID.Add(1)

	req := wsCommand{
		Method: method,
		Params: params,
		ID:     reqID,
	}

	ackCh := make(chan error, 1)
	c.pendingAcksMu.Lock()
	c.pendingAcks[reqID] = ackCh
	c.pendingAcksMu.Unlock()

	clearPending := func() {
		c.pendingAcksMu.Lock()
		delete(c.pendingAcks, reqID)
		c.pendingAcksMu.Unlock()
	}

	c.connMu.Lock()
	if c.conn == nil {
		c.connMu.Unlock()
		clearPending()
		return fmt.Errorf("not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteTimeout))
	err := c.conn.WriteJSON(req)
	c.connMu.Unlock()

	if err != nil {
		clearPending()
		return fmt.Errorf("write %s: %w", method, err)
	}

	select {
	case ackErr, ok := <-ackCh:
		if !ok {
			return fmt.Errorf("client closed")
		}
		if ackErr != nil {
			return fmt.Errorf("%s %v: %w", method, params, ackErr)
		}
		return nil
	case <-time.After(10 * time.Second):
		clearPending()
		return fmt.Errorf("%s ack timeout", method)
	case <-c.done:
		return fmt.Errorf("client closed")
	case <-ctx.Done():
		clearPending()
		return ctx.Err()
	}
}

// readLoop reads messages and dispatches them to subscribers.
func (c *WSClientImpl) readLoop() {
	defer c.wg.Done()

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = c.config.ReconnectDelay
	bo.MaxInterval = c.config.MaxReconnectDelay
	bo.Multiplier = 2
	bo.RandomizationFactor = 1 // full jitter
	bo.MaxElapsedTime = 0      // retry forever

	for !c.closed.Load() {
		c.connMu.Lock()
		conn := c.conn
		c.connMu.Unlock()

		if conn == nil {
			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		conn.SetReadDeadline(time.Now().Add(c.config.ReadTimeout))

		_, message, err := conn.ReadMessage()
		if err != nil {
			if c.closed.Load() {
				return
			}

			if !c.reconnecting.Swap(true) {
				go c.reconnect(bo.NextBackOff())
			}

			select {
			case <-c.done:
				return
			case <-time.After(100 * time.Millisecond):
				continue
			}
		}

		// Reset backoff on successful read
		bo.Reset()

		c.handleMessage(message)
	}
}

// reconnect attempts to reconnect and resubscribe.
func (c *WSClientImpl) reconnect(delay time.Duration) {
	defer c.reconnecting.Store(false)

	if c.closed.Load() {
		return
	}

	c.log.WithField("delay", delay).Warn("connection lost, reconnecting")

	select {
	case <-c.done:
		return
	case <-time.After(delay):
	}

	c.connMu.Lock()
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.connMu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := c.connect(ctx); err != nil {
		// Reconnect failed, readLoop will trigger the next attempt
		c.log.WithError(err).Warn("reconnect failed")
		return
	}

	c.resubscribeAll()
}

// resubscribeAll re-issues SUBSCRIBE for every live stream after reconnect.
// Stream names are stable, so existing delivery channels keep working.
func (c *WSClientImpl) resubscribeAll() {
	c.subsMu.RLock()
	streams := make([]string, 0, len(c.subs))
	for stream := range c.subs {
		streams = append(streams, stream)
	}
	c.subsMu.RUnlock()

	if len(streams) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := c.sendCommand(ctx, "SUBSCRIBE", streams); err != nil {
		c.log.WithError(err).WithField("streams", len(streams)).
			Error("resubscribe after reconnect failed")
		return
	}

	c.log.WithField("streams", len(streams)).Info("resubscribed after reconnect")
}

// handleMessage processes one incoming WebSocket message.
func (c *WSClientImpl) handleMessage(message []byte) {
	// Combined-stream payloads carry a stream field
	var env combinedEnvelope
	if err := json.Unmarshal(message, &env); err == nil && env.Stream != "" {
		c.dispatch(env.Stream, env.Data)
		return
	}

	// Otherwise this is a command ack or an error response
	var ack wsAck
	if err := json.Unmarshal(message, &ack); err == nil && ack.ID > 0 {
		c.handleAck(&ack)
		return
	}

	c.log.WithField("payload", string(message)).Debug("unhandled message")
}

// handleAck resolves a pending SUBSCRIBE/UNSUBSCRIBE command.
func (c *WSClientImpl) handleAck(ack *wsAck) {
	c.pendingAcksMu.Lock()
	ch, ok := c.pendingAcks[ack.ID]
	if ok {
		delete(c.pendingAcks, ack.ID)
	}
	c.pendingAcksMu.Unlock()

	if !ok {
		return
	}

	var err error
	if ack.Error != nil {
		err = fmt.Errorf("venue error %d: %s", ack.Error.Code, ack.Error.Msg)
	}
	select {
	case ch <- err:
	default:
	}
}

// dispatch delivers a payload to the stream's subscriber.
func (c *WSClientImpl) dispatch(stream string, data json.RawMessage) {
	c.subsMu.RLock()
	ch, ok := c.subs[stream]
	c.subsMu.RUnlock()

	if !ok {
		return
	}

	msg := StreamMessage{Stream: stream, Data: data}

	// Block until the consumer takes it - the consumer owns the drop policy
	select {
	case ch <- msg:
	case <-c.done:
	}
}

// pingLoop sends periodic ping frames to keep the connection alive.
func (c *WSClientImpl) pingLoop() {
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
				if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					// Connection might be dead, reader will handle reconnect
				}
			}
			c.connMu.Unlock()
		}
	}
}

// WebSocket message types

type wsCommand struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     uint64   `json:"id"`
}

type wsAck struct {
	Result json.RawMessage `json:"result"` // null on success
	ID     uint64          `json:"id"`
	Error  *wsError        `json:"error"`
}

type wsError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

type combinedEnvelope struct {
	Stream string          `json:"stream"`
	Data   json.RawMessage `json:"data"`
}
