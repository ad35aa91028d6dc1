package domain

import "github.com/shopspring/decimal"

// EventKind identifies the canonical market event type emitted by feed adapters.
type EventKind string

const (
	KindTrade           EventKind = "trade"
	KindAggregatedTrade EventKind = "aggregated_trade"
	KindFundingRate     EventKind = "funding_rate"
	KindLiquidation     EventKind = "liquidation"
	KindBarClose        EventKind = "bar_close"
)

// ValidKind reports whether k is one of the canonical event kinds.
func ValidKind(k EventKind) bool {
	switch k {
	case KindTrade, KindAggregatedTrade, KindFundingRate, KindLiquidation, KindBarClose:
		return true
	}
	return false
}

// Side is the taker side of a trade or liquidation order.
type Side string

const (
	SideBuy  Side = "buy"
	SideSell Side = "sell"
)

// MarketEvent is one normalized market data point. Events are value types:
// every subscriber receives its own copy, so no consumer can mutate another's
// view. Within one (symbol, kind) stream timestamps are strictly increasing.
type MarketEvent struct {
	Symbol    string          // exchange symbol, upper case (e.g. "BTCUSDT")
	Kind      EventKind       // canonical event kind
	Timestamp int64           // exchange-reported time, Unix ms
	Price     decimal.Decimal // trade/mark/bar-close price
	Quantity  decimal.Decimal // base quantity, zero when not applicable
	Side      Side            // taker side, empty when not applicable
}

// Key returns the (symbol, kind) stream identity of the event.
func (e MarketEvent) Key() StreamKey {
	return StreamKey{Symbol: e.Symbol, Kind: e.Kind}
}

// StreamKey identifies one upstream (symbol, kind) stream. Exactly one feed
// adapter exists per key at any time.
type StreamKey struct {
	Symbol string
	Kind   EventKind
}

func (k StreamKey) String() string {
	return k.Symbol + "/" + string(k.Kind)
}

// Bar is one aggregated OHLCV interval. Produced by the bar aggregator from
// trade ticks and by historical sources for backtests.
type Bar struct {
	Symbol     string
	OpenTime   int64 // interval start, Unix ms
	CloseTime  int64 // interval end, Unix ms
	Open       decimal.Decimal
	High       decimal.Decimal
	Low        decimal.Decimal
	Close      decimal.Decimal
	Volume     decimal.Decimal // base volume
	TradeCount int             // ticks aggregated into this bar
}

// CloseEvent converts the bar into its bar_close market event.
func (b Bar) CloseEvent() MarketEvent {
	return MarketEvent{
		Symbol:    b.Symbol,
		Kind:      KindBarClose,
		Timestamp: b.CloseTime,
		Price:     b.Close,
		Quantity:  b.Volume,
	}
}
