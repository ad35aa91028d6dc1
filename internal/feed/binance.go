package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/binance"
	"trading-lab/internal/domain"
	"trading-lab/internal/observability"
)

// BinanceConfig configures Binance adapters created by BinanceFactory.
type BinanceConfig struct {
	// SpotEndpoint defaults to binance.SpotStreamEndpoint.
	SpotEndpoint string
	// FuturesEndpoint defaults to binance.FuturesStreamEndpoint.
	FuturesEndpoint string
	// WSConfig is passed through to the stream client.
	WSConfig *binance.WSClientConfig
	// Dial overrides stream client construction, used by tests.
	Dial func(ctx context.Context, endpoint string) (binance.StreamClient, error)
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
}

// BinanceFactory returns an adapter factory backed by Binance combined
// streams. Trade, aggregated-trade and bar kinds ride the spot endpoint;
// funding and liquidation kinds exist only on futures.
func BinanceFactory(cfg BinanceConfig) Factory {
	if cfg.SpotEndpoint == "" {
		cfg.SpotEndpoint = binance.SpotStreamEndpoint
	}
	if cfg.FuturesEndpoint == "" {
		cfg.FuturesEndpoint = binance.FuturesStreamEndpoint
	}
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, endpoint string) (binance.StreamClient, error) {
			return binance.NewWSClient(ctx, endpoint, cfg.WSConfig)
		}
	}
	return func(ctx context.Context, key domain.StreamKey) (Adapter, error) {
		a, err := NewBinanceAdapter(key, cfg)
		if err != nil {
			return nil, err
		}
		if err := a.Connect(ctx); err != nil {
			return nil, err
		}
		return a, nil
	}
}

// BinanceAdapter normalizes one Binance stream into MarketEvents. It owns its
// transport connection exclusively; reconnect and resubscribe live in the
// stream client underneath.
type BinanceAdapter struct {
	key      domain.StreamKey
	cfg      BinanceConfig
	log      *logrus.Entry
	endpoint string
	stream   string

	client binance.StreamClient
	events chan domain.MarketEvent
	guard  Guard

	done   chan struct{}
	closed atomic.Bool
}

var _ Adapter = (*BinanceAdapter)(nil)

// NewBinanceAdapter creates an unconnected adapter for the stream key.
func NewBinanceAdapter(key domain.StreamKey, cfg BinanceConfig) (*BinanceAdapter, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	endpoint, stream, err := routeKey(key, cfg)
	if err != nil {
		return nil, err
	}

	return &BinanceAdapter{
		key:      key,
		cfg:      cfg,
		log:      logger.WithField("component", "feed.binance").WithField("key", key.String()),
		endpoint: endpoint,
		stream:   stream,
		events:   make(chan domain.MarketEvent, 256),
		done:     make(chan struct{}),
	}, nil
}

// routeKey maps a stream key to its endpoint and combined-stream name.
func routeKey(key domain.StreamKey, cfg BinanceConfig) (endpoint, stream string, err error) {
	switch key.Kind {
	case domain.KindTrade:
		return cfg.SpotEndpoint, binance.StreamName(key.Symbol, binance.ChannelTrade), nil
	case domain.KindAggregatedTrade:
		return cfg.SpotEndpoint, binance.StreamName(key.Symbol, binance.ChannelAggTrade), nil
	case domain.KindBarClose:
		return cfg.SpotEndpoint, binance.StreamName(key.Symbol, binance.ChannelKline1m), nil
	case domain.KindFundingRate:
		return cfg.FuturesEndpoint, binance.StreamName(key.Symbol, binance.ChannelMarkPrice), nil
	case domain.KindLiquidation:
		return cfg.FuturesEndpoint, binance.StreamName(key.Symbol, binance.ChannelForceOrder), nil
	default:
		return "", "", fmt.Errorf("unsupported event kind %q", key.Kind)
	}
}

// Connect dials the endpoint, subscribes the stream and starts emission.
func (a *BinanceAdapter) Connect(ctx context.Context) error {
	if a.closed.Load() {
		return ErrClosed
	}

	client, err := a.cfg.Dial(ctx, a.endpoint)
	if err != nil {
		return fmt.Errorf("dial %s: %w", a.endpoint, err)
	}

	ch, err := client.Subscribe(ctx, a.stream)
	if err != nil {
		client.Close()
		return fmt.Errorf("subscribe %s: %w", a.stream, err)
	}

	a.client = client
	go a.pump(ch)

	a.log.Info("connected")
	return nil
}

// Events returns the emission channel.
func (a *BinanceAdapter) Events() <-chan domain.MarketEvent {
	return a.events
}

// Close tears down the connection. Idempotent.
func (a *BinanceAdapter) Close() error {
	if a.closed.Swap(true) {
		return nil
	}
	close(a.done)
	if a.client != nil {
		a.client.Close()
	}
	return nil
}

// pump normalizes raw payloads and emits them in order.
func (a *BinanceAdapter) pump(ch <-chan binance.StreamMessage) {
	defer close(a.events)

	for msg := range ch {
		ev, seq, err := a.normalize(msg.Data)
		if err != nil {
			observability.RecordEventDropped("malformed")
			a.log.WithError(err).Warn("dropping malformed payload")
			continue
		}
		if ev == nil {
			continue // not an emission point (e.g. forming candle)
		}
		if !a.guard.Admit(ev.Timestamp, seq) {
			observability.RecordEventDropped("out_of_order")
			continue
		}

		select {
		case a.events <- *ev:
			observability.RecordEventIngested(ev.Symbol, string(ev.Kind))
		case <-a.done:
			return
		}
	}
}

// normalize decodes one payload for the adapter's kind. The returned seq is
// the venue sequence number used for ordering, zero when the kind has none.
func (a *BinanceAdapter) normalize(data json.RawMessage) (*domain.MarketEvent, int64, error) {
	switch a.key.Kind {
	case domain.KindTrade:
		raw, err := binance.ParseTradeEvent(data)
		if err != nil {
			return nil, 0, err
		}
		price, qty, err := parsePriceQty(raw.Price, raw.Quantity)
		if err != nil {
			return nil, 0, err
		}
		return &domain.MarketEvent{
			Symbol:    a.key.Symbol,
			Kind:      domain.KindTrade,
			Timestamp: raw.TradeTime,
			Price:     price,
			Quantity:  qty,
			Side:      takerSide(raw.IsBuyerMaker),
		}, raw.TradeID, nil

	case domain.KindAggregatedTrade:
		raw, err := binance.ParseAggTradeEvent(data)
		if err != nil {
			return nil, 0, err
		}
		price, qty, err := parsePriceQty(raw.Price, raw.Quantity)
		if err != nil {
			return nil, 0, err
		}
		return &domain.MarketEvent{
			Symbol:    a.key.Symbol,
			Kind:      domain.KindAggregatedTrade,
			Timestamp: raw.TradeTime,
			Price:     price,
			Quantity:  qty,
			Side:      takerSide(raw.IsBuyerMaker),
		}, raw.AggTradeID, nil

	case domain.KindFundingRate:
		raw, err := binance.ParseMarkPriceEvent(data)
		if err != nil {
			return nil, 0, err
		}
		price, err := parsePositive(raw.MarkPrice)
		if err != nil {
			return nil, 0, err
		}
		// Quantity carries the funding rate for this kind; it may be
		// negative
		rate, err := decimal.NewFromString(raw.FundingRate)
		if err != nil {
			return nil, 0, fmt.Errorf("funding rate %q: %w", raw.FundingRate, err)
		}
		return &domain.MarketEvent{
			Symbol:    a.key.Symbol,
			Kind:      domain.KindFundingRate,
			Timestamp: raw.EventTime,
			Price:     price,
			Quantity:  rate,
		}, 0, nil

	case domain.KindLiquidation:
		raw, err := binance.ParseForceOrderEvent(data)
		if err != nil {
			return nil, 0, err
		}
		priceStr := raw.Order.AvgPrice
		if priceStr == "" || priceStr == "0" {
			priceStr = raw.Order.Price
		}
		price, qty, err := parsePriceQty(priceStr, raw.Order.FilledQty)
		if err != nil {
			return nil, 0, err
		}
		side := domain.SideBuy
		if raw.Order.Side == "SELL" {
			side = domain.SideSell
		}
		return &domain.MarketEvent{
			Symbol:    a.key.Symbol,
			Kind:      domain.KindLiquidation,
			Timestamp: raw.Order.TradeTime,
			Price:     price,
			Quantity:  qty,
			Side:      side,
		}, 0, nil

	case domain.KindBarClose:
		raw, err := binance.ParseKlineEvent(data)
		if err != nil {
			return nil, 0, err
		}
		if !raw.Kline.Closed {
			return nil, 0, nil // forming candle, wait for close
		}
		price, qty, err := parsePriceQty(raw.Kline.Close, raw.Kline.Volume)
		if err != nil {
			return nil, 0, err
		}
		return &domain.MarketEvent{
			Symbol:    a.key.Symbol,
			Kind:      domain.KindBarClose,
			Timestamp: raw.Kline.CloseTime,
			Price:     price,
			Quantity:  qty,
		}, 0, nil
	}

	return nil, 0, fmt.Errorf("unsupported event kind %q", a.key.Kind)
}

// takerSide maps the buyer-is-maker flag to the taker side: when the buyer
// was the maker, the taker sold.
func takerSide(isBuyerMaker bool) domain.Side {
	if isBuyerMaker {
		return domain.SideSell
	}
	return domain.SideBuy
}

// parsePriceQty decodes and validates a price/quantity pair. Prices must be
// positive; quantities must not be negative.
func parsePriceQty(priceStr, qtyStr string) (decimal.Decimal, decimal.Decimal, error) {
	price, err := parsePositive(priceStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	qty, err := decimal.NewFromString(qtyStr)
	if err != nil {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quantity %q: %w", qtyStr, err)
	}
	if qty.IsNegative() {
		return decimal.Zero, decimal.Zero, fmt.Errorf("quantity %q: negative", qtyStr)
	}
	return price, qty, nil
}

// parsePositive decodes a decimal that must be strictly positive.
func parsePositive(s string) (decimal.Decimal, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("price %q: %w", s, err)
	}
	if !d.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %q: not positive", s)
	}
	return d, nil
}
