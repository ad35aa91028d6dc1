package binance

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Stream channel suffixes.
const (
	ChannelTrade      = "@trade"
	ChannelAggTrade   = "@aggTrade"
	ChannelMarkPrice  = "@markPrice"
	ChannelForceOrder = "@forceOrder"
	ChannelKline1m    = "@kline_1m"
)

// StreamName builds a combined-stream name from a symbol and channel suffix.
// Symbols are lower-cased on the wire: "BTCUSDT" + "@aggTrade" ->
// "btcusdt@aggTrade".
func StreamName(symbol, channel string) string {
	return strings.ToLower(symbol) + channel
}

// TradeEvent is a raw spot trade payload (@trade).
type TradeEvent struct {
	EventType    string `json:"e"` // "trade"
	EventTime    int64  `json:"E"` // ms
	Symbol       string `json:"s"`
	TradeID      int64  `json:"t"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	TradeTime    int64  `json:"T"` // ms
	IsBuyerMaker bool   `json:"m"`
}

// AggTradeEvent is a raw aggregated trade payload (@aggTrade).
type AggTradeEvent struct {
	EventType    string `json:"e"` // "aggTrade"
	EventTime    int64  `json:"E"` // ms
	Symbol       string `json:"s"`
	AggTradeID   int64  `json:"a"`
	Price        string `json:"p"`
	Quantity     string `json:"q"`
	FirstTradeID int64  `json:"f"`
	LastTradeID  int64  `json:"l"`
	TradeTime    int64  `json:"T"` // ms
	IsBuyerMaker bool   `json:"m"`
}

// MarkPriceEvent is a raw futures mark-price payload (@markPrice). The
// funding rate rides along with the mark price.
type MarkPriceEvent struct {
	EventType       string `json:"e"` // "markPriceUpdate"
	EventTime       int64  `json:"E"` // ms
	Symbol          string `json:"s"`
	MarkPrice       string `json:"p"`
	IndexPrice      string `json:"i"`
	FundingRate     string `json:"r"`
	NextFundingTime int64  `json:"T"` // ms
}

// ForceOrderEvent is a raw futures liquidation payload (@forceOrder).
type ForceOrderEvent struct {
	EventType string         `json:"e"` // "forceOrder"
	EventTime int64          `json:"E"` // ms
	Order     ForceOrderInfo `json:"o"`
}

// ForceOrderInfo is the order block of a liquidation event.
type ForceOrderInfo struct {
	Symbol        string `json:"s"`
	Side          string `json:"S"` // "BUY" | "SELL"
	OrderType     string `json:"o"`
	TimeInForce   string `json:"f"`
	OrigQuantity  string `json:"q"`
	Price         string `json:"p"`
	AvgPrice      string `json:"ap"`
	OrderStatus   string `json:"X"`
	LastFilledQty string `json:"l"`
	FilledQty     string `json:"z"`
	TradeTime     int64  `json:"T"` // ms
}

// KlineEvent is a raw candlestick payload (@kline_<interval>).
type KlineEvent struct {
	EventType string    `json:"e"` // "kline"
	EventTime int64     `json:"E"` // ms
	Symbol    string    `json:"s"`
	Kline     KlineInfo `json:"k"`
}

// KlineInfo is the candle block of a kline event. Closed is false while the
// interval is still forming.
type KlineInfo struct {
	OpenTime   int64  `json:"t"` // ms
	CloseTime  int64  `json:"T"` // ms
	Symbol     string `json:"s"`
	Interval   string `json:"i"`
	Open       string `json:"o"`
	Close      string `json:"c"`
	High       string `json:"h"`
	Low        string `json:"l"`
	Volume     string `json:"v"`
	TradeCount int    `json:"n"`
	Closed     bool   `json:"x"`
}

// ParseTradeEvent decodes a @trade payload.
func ParseTradeEvent(data json.RawMessage) (*TradeEvent, error) {
	var ev TradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse trade event: %w", err)
	}
	return &ev, nil
}

// ParseAggTradeEvent decodes an @aggTrade payload.
func ParseAggTradeEvent(data json.RawMessage) (*AggTradeEvent, error) {
	var ev AggTradeEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse aggTrade event: %w", err)
	}
	return &ev, nil
}

// ParseMarkPriceEvent decodes a @markPrice payload.
func ParseMarkPriceEvent(data json.RawMessage) (*MarkPriceEvent, error) {
	var ev MarkPriceEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse markPrice event: %w", err)
	}
	return &ev, nil
}

// ParseForceOrderEvent decodes a @forceOrder payload.
func ParseForceOrderEvent(data json.RawMessage) (*ForceOrderEvent, error) {
	var ev ForceOrderEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse forceOrder event: %w", err)
	}
	return &ev, nil
}

// ParseKlineEvent decodes a @kline payload.
func ParseKlineEvent(data json.RawMessage) (*KlineEvent, error) {
	var ev KlineEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, fmt.Errorf("parse kline event: %w", err)
	}
	return &ev, nil
}
