package binance

import (
	"context"
	"encoding/json"
)

// Combined-stream endpoints. Spot carries trade and aggTrade channels;
// markPrice and forceOrder exist only on the futures endpoint.
const (
	SpotStreamEndpoint    = "wss://stream.binance.com:9443/stream"
	FuturesStreamEndpoint = "wss://fstream.binance.com/stream"
)

// StreamClient defines the combined-stream subscription interface.
type StreamClient interface {
	// Subscribe subscribes to one stream (e.g. "btcusdt@aggTrade") and
	// returns the channel carrying its raw payloads. The subscription
	// survives reconnects until Unsubscribe or Close.
	Subscribe(ctx context.Context, stream string) (<-chan StreamMessage, error)

	// Unsubscribe removes the stream subscription and closes its channel.
	Unsubscribe(ctx context.Context, stream string) error

	// Close closes the connection and all subscription channels.
	Close() error
}

// StreamMessage is one raw combined-stream payload.
type StreamMessage struct {
	Stream string          // stream name the payload arrived on
	Data   json.RawMessage // event payload, schema depends on the channel
}
