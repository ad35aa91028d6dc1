package stub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"trading-lab/internal/binance"
)

// StreamClient implements binance.StreamClient for testing. Payloads are
// injected with Emit and delivered on the stream's channel.
type StreamClient struct {
	mu     sync.Mutex
	subs   map[string]chan binance.StreamMessage
	closed bool

	// SubscribeCalls records every Subscribe in order.
	SubscribeCalls []string
	// UnsubscribeCalls records every Unsubscribe in order.
	UnsubscribeCalls []string
	// SubscribeErr, when set, is returned by the next Subscribe.
	SubscribeErr error
}

// NewStreamClient creates a new stub stream client.
func NewStreamClient() *StreamClient {
	return &StreamClient{
		subs: make(map[string]chan binance.StreamMessage),
	}
}

// Subscribe registers the stream and returns its delivery channel.
func (c *StreamClient) Subscribe(_ context.Context, stream string) (<-chan binance.StreamMessage, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.SubscribeErr != nil {
		err := c.SubscribeErr
		c.SubscribeErr = nil
		return nil, err
	}
	if c.closed {
		return nil, fmt.Errorf("client closed")
	}
	if _, ok := c.subs[stream]; ok {
		return nil, fmt.Errorf("already subscribed to %s", stream)
	}

	ch := make(chan binance.StreamMessage, 256)
	c.subs[stream] = ch
	c.SubscribeCalls = append(c.SubscribeCalls, stream)
	return ch, nil
}

// Unsubscribe removes the stream and closes its channel.
func (c *StreamClient) Unsubscribe(_ context.Context, stream string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if ch, ok := c.subs[stream]; ok {
		close(ch)
		delete(c.subs, stream)
	}
	c.UnsubscribeCalls = append(c.UnsubscribeCalls, stream)
	return nil
}

// Close closes all stream channels.
func (c *StreamClient) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil
	}
	c.closed = true
	for stream, ch := range c.subs {
		close(ch)
		delete(c.subs, stream)
	}
	return nil
}

// Emit delivers a raw payload on the stream. Returns false when the stream
// has no subscriber.
func (c *StreamClient) Emit(stream string, data json.RawMessage) bool {
	c.mu.Lock()
	ch, ok := c.subs[stream]
	c.mu.Unlock()

	if !ok {
		return false
	}
	ch <- binance.StreamMessage{Stream: stream, Data: data}
	return true
}

// Subscribed reports whether the stream currently has a subscriber.
func (c *StreamClient) Subscribed(stream string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.subs[stream]
	return ok
}
