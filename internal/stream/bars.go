package stream

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/feed"
	"trading-lab/internal/observability"
)

// DefaultBarInterval is the bar width used when none is configured.
const DefaultBarInterval = time.Minute

// BarAggregator derives bar_close events from the hub's trade stream for
// one symbol. It implements feed.Adapter so the hub can serve bar_close
// keys from it on venues (or recordings) without a native kline stream.
//
// A bar closes when the first trade of a later interval arrives; an
// interval with no trades produces no bar. The close of the final,
// still-open interval is never emitted. Closing on arrival rather than on
// the wall clock keeps bar emission a pure function of the trade
// sequence.
type BarAggregator struct {
	symbol     string
	intervalMs int64
	hub        *Hub
	log        *logrus.Entry

	events chan domain.MarketEvent
	subID  string
	cur    *domain.Bar

	done   chan struct{}
	closed atomic.Bool
}

var _ feed.Adapter = (*BarAggregator)(nil)

// NewBarAggregator creates an unconnected aggregator over hub trades for
// symbol. interval <= 0 uses DefaultBarInterval.
func NewBarAggregator(hub *Hub, symbol string, interval time.Duration, logger *logrus.Logger) *BarAggregator {
	if interval <= 0 {
		interval = DefaultBarInterval
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &BarAggregator{
		symbol:     symbol,
		intervalMs: interval.Milliseconds(),
		hub:        hub,
		log: logger.WithFields(logrus.Fields{
			"component": "bar_aggregator",
			"symbol":    symbol,
		}),
		events: make(chan domain.MarketEvent),
		done:   make(chan struct{}),
	}
}

// Connect subscribes to the symbol's trade stream and starts aggregation.
func (a *BarAggregator) Connect(ctx context.Context) error {
	if a.closed.Load() {
		return feed.ErrClosed
	}
	sub, err := a.hub.Subscribe(ctx, domain.StreamKey{Symbol: a.symbol, Kind: domain.KindTrade}, 0)
	if err != nil {
		return err
	}
	a.subID = sub.ID
	go a.run(sub)
	return nil
}

// Events returns the bar_close emission channel.
func (a *BarAggregator) Events() <-chan domain.MarketEvent {
	return a.events
}

// Close detaches from the trade stream and closes Events. Idempotent.
func (a *BarAggregator) Close() error {
	if !a.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(a.done)
	if a.subID != "" {
		a.hub.Unsubscribe(a.subID)
	}
	return nil
}

func (a *BarAggregator) run(sub Subscription) {
	defer close(a.events)
	for ev := range sub.Events {
		if ev.Kind != domain.KindTrade {
			continue
		}
		bucket := ev.Timestamp - ev.Timestamp%a.intervalMs
		switch {
		case a.cur == nil:
			a.cur = a.open(bucket, ev)
		case bucket > a.cur.OpenTime:
			if !a.emit(*a.cur) {
				return
			}
			a.cur = a.open(bucket, ev)
		case bucket < a.cur.OpenTime:
			// tick from an already-closed interval
			observability.RecordEventDropped("out_of_order")
		default:
			a.apply(ev)
		}
	}
}

func (a *BarAggregator) open(bucket int64, ev domain.MarketEvent) *domain.Bar {
	return &domain.Bar{
		Symbol:     a.symbol,
		OpenTime:   bucket,
		CloseTime:  bucket + a.intervalMs - 1,
		Open:       ev.Price,
		High:       ev.Price,
		Low:        ev.Price,
		Close:      ev.Price,
		Volume:     ev.Quantity,
		TradeCount: 1,
	}
}

func (a *BarAggregator) apply(ev domain.MarketEvent) {
	if ev.Price.GreaterThan(a.cur.High) {
		a.cur.High = ev.Price
	}
	if ev.Price.LessThan(a.cur.Low) {
		a.cur.Low = ev.Price
	}
	a.cur.Close = ev.Price
	a.cur.Volume = a.cur.Volume.Add(ev.Quantity)
	a.cur.TradeCount++
}

// emit sends the bar's close event, reporting false when the aggregator
// closed mid-send.
func (a *BarAggregator) emit(bar domain.Bar) bool {
	ev := bar.CloseEvent()
	select {
	case a.events <- ev:
		observability.RecordEventIngested(ev.Symbol, string(ev.Kind))
		return true
	case <-a.done:
		return false
	}
}
