package feed

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-lab/internal/binance"
	"trading-lab/internal/binance/stub"
	"trading-lab/internal/domain"
)

func newTestAdapter(t *testing.T, kind domain.EventKind) (*BinanceAdapter, *stub.StreamClient) {
	t.Helper()
	client := stub.NewStreamClient()
	a, err := NewBinanceAdapter(domain.StreamKey{Symbol: "BTCUSDT", Kind: kind}, BinanceConfig{
		Dial: func(ctx context.Context, endpoint string) (binance.StreamClient, error) {
			return client, nil
		},
	})
	if err != nil {
		t.Fatalf("NewBinanceAdapter() error = %v", err)
	}
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	t.Cleanup(func() { a.Close() })
	return a, client
}

func receive(t *testing.T, ch <-chan domain.MarketEvent) domain.MarketEvent {
	t.Helper()
	select {
	case ev, ok := <-ch:
		if !ok {
			t.Fatal("events channel closed")
		}
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for event")
	}
	return domain.MarketEvent{}
}

func expectNone(t *testing.T, ch <-chan domain.MarketEvent) {
	t.Helper()
	select {
	case ev := <-ch:
		t.Fatalf("unexpected event: %+v", ev)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBinanceAdapterNormalizesTrade(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindTrade)

	client.Emit("btcusdt@trade", json.RawMessage(
		`{"e":"trade","E":1700000000100,"s":"BTCUSDT","t":42,"p":"50000.10","q":"0.250","T":1700000000099,"m":true}`))

	ev := receive(t, a.Events())
	if ev.Kind != domain.KindTrade || ev.Symbol != "BTCUSDT" {
		t.Errorf("event identity = %s/%s", ev.Symbol, ev.Kind)
	}
	if ev.Timestamp != 1700000000099 {
		t.Errorf("timestamp = %d, want trade time", ev.Timestamp)
	}
	if ev.Price.String() != "50000.1" || ev.Quantity.String() != "0.25" {
		t.Errorf("price/qty = %s/%s", ev.Price, ev.Quantity)
	}
	// Buyer was the maker, so the taker sold.
	if ev.Side != domain.SideSell {
		t.Errorf("side = %s, want sell", ev.Side)
	}
}

func TestBinanceAdapterNormalizesFundingRate(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindFundingRate)

	client.Emit("btcusdt@markPrice", json.RawMessage(
		`{"e":"markPriceUpdate","E":1700000000200,"s":"BTCUSDT","p":"50100.00","i":"50099.50","r":"-0.0001","T":1700000028800}`))

	ev := receive(t, a.Events())
	if ev.Kind != domain.KindFundingRate {
		t.Fatalf("kind = %s", ev.Kind)
	}
	if ev.Price.String() != "50100" {
		t.Errorf("mark price = %s", ev.Price)
	}
	if ev.Quantity.String() != "-0.0001" {
		t.Errorf("funding rate = %s", ev.Quantity)
	}
}

func TestBinanceAdapterNormalizesLiquidation(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindLiquidation)

	client.Emit("btcusdt@forceOrder", json.RawMessage(
		`{"e":"forceOrder","E":1700000000300,"o":{"s":"BTCUSDT","S":"SELL","o":"LIMIT","q":"2.0","p":"49900.00","ap":"49910.00","X":"FILLED","l":"2.0","z":"2.0","T":1700000000299}}`))

	ev := receive(t, a.Events())
	if ev.Kind != domain.KindLiquidation || ev.Side != domain.SideSell {
		t.Fatalf("event = %s side %s", ev.Kind, ev.Side)
	}
	// Average fill price wins over the order price when present.
	if ev.Price.String() != "49910" {
		t.Errorf("price = %s, want average fill price", ev.Price)
	}
	if ev.Quantity.String() != "2" {
		t.Errorf("quantity = %s", ev.Quantity)
	}
}

func TestBinanceAdapterWaitsForClosedCandle(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindBarClose)

	forming := `{"e":"kline","E":1700000000400,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"50000","c":"50050","h":"50060","l":"49990","v":"12.5","n":100,"x":false}}`
	closed := `{"e":"kline","E":1700000060400,"s":"BTCUSDT","k":{"t":1700000000000,"T":1700000059999,"s":"BTCUSDT","i":"1m","o":"50000","c":"50055","h":"50060","l":"49990","v":"13.1","n":104,"x":true}}`

	client.Emit("btcusdt@kline_1m", json.RawMessage(forming))
	expectNone(t, a.Events())

	client.Emit("btcusdt@kline_1m", json.RawMessage(closed))
	ev := receive(t, a.Events())
	if ev.Timestamp != 1700000059999 {
		t.Errorf("timestamp = %d, want candle close time", ev.Timestamp)
	}
	if ev.Price.String() != "50055" || ev.Quantity.String() != "13.1" {
		t.Errorf("close/volume = %s/%s", ev.Price, ev.Quantity)
	}
}

func TestBinanceAdapterDropsMalformedPayloads(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindTrade)

	client.Emit("btcusdt@trade", json.RawMessage(`{not json`))
	client.Emit("btcusdt@trade", json.RawMessage(
		`{"e":"trade","E":1,"s":"BTCUSDT","t":1,"p":"-5","q":"1","T":1,"m":false}`))
	client.Emit("btcusdt@trade", json.RawMessage(
		`{"e":"trade","E":2,"s":"BTCUSDT","t":2,"p":"100","q":"1","T":2,"m":false}`))

	ev := receive(t, a.Events())
	if ev.Timestamp != 2 {
		t.Errorf("timestamp = %d, want the one valid event", ev.Timestamp)
	}
}

func TestBinanceAdapterDropsRedeliveredTrades(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindTrade)

	first := `{"e":"trade","E":1000,"s":"BTCUSDT","t":10,"p":"100","q":"1","T":1000,"m":false}`
	client.Emit("btcusdt@trade", json.RawMessage(first))
	receive(t, a.Events())

	// Reconnect redelivery: same trade again, then an older one.
	client.Emit("btcusdt@trade", json.RawMessage(first))
	client.Emit("btcusdt@trade", json.RawMessage(
		`{"e":"trade","E":900,"s":"BTCUSDT","t":9,"p":"99","q":"1","T":900,"m":false}`))
	client.Emit("btcusdt@trade", json.RawMessage(
		`{"e":"trade","E":1100,"s":"BTCUSDT","t":11,"p":"101","q":"1","T":1100,"m":false}`))

	ev := receive(t, a.Events())
	if ev.Timestamp != 1100 {
		t.Errorf("timestamp = %d, want 1100 after dropping redeliveries", ev.Timestamp)
	}
}

func TestBinanceAdapterCloseEndsEvents(t *testing.T) {
	a, client := newTestAdapter(t, domain.KindTrade)

	if err := a.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if err := a.Close(); err != nil {
		t.Fatalf("second Close() error = %v", err)
	}
	if client.Subscribed("btcusdt@trade") {
		t.Error("stream still subscribed after close")
	}
}

func TestBinanceAdapterRejectsUnknownKind(t *testing.T) {
	_, err := NewBinanceAdapter(domain.StreamKey{Symbol: "BTCUSDT", Kind: "ticker"}, BinanceConfig{})
	if err == nil {
		t.Fatal("expected error for unsupported kind")
	}
}

func TestReplayAdapterEmitsInOrder(t *testing.T) {
	key := domain.StreamKey{Symbol: "BTCUSDT", Kind: domain.KindTrade}
	source := []domain.MarketEvent{
		tradeAt(1000), tradeAt(2000),
		{Symbol: "ETHUSDT", Kind: domain.KindTrade, Timestamp: 2500}, // other key, skipped
		tradeAt(1500), // regression, dropped
		tradeAt(3000),
	}

	a := NewReplayAdapter(key, source, 0)
	if err := a.Connect(context.Background()); err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer a.Close()

	var got []int64
	for ev := range a.Events() {
		got = append(got, ev.Timestamp)
	}
	want := []int64{1000, 2000, 3000}
	if len(got) != len(want) {
		t.Fatalf("timestamps = %v, want %v", got, want)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("timestamps = %v, want %v", got, want)
		}
	}
}

func tradeAt(ts int64) domain.MarketEvent {
	return domain.MarketEvent{
		Symbol:    "BTCUSDT",
		Kind:      domain.KindTrade,
		Timestamp: ts,
		Price:     decimal.NewFromInt(100),
		Quantity:  decimal.NewFromInt(1),
		Side:      domain.SideBuy,
	}
}
