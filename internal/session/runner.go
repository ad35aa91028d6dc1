package session

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/execution"
	"trading-lab/internal/observability"
	"trading-lab/internal/strategy"
	"trading-lab/internal/stream"
)

// DefaultEquityInterval is the equity sampling cadence when the config
// leaves it unset.
const DefaultEquityInterval = time.Minute

type commandKind int

const (
	cmdPause commandKind = iota
	cmdResume
	cmdStop
)

type command struct {
	kind  commandKind
	reply chan error
}

// runner is one session task. It owns the session's Account exclusively
// and processes its events strictly sequentially; everything outside the
// loop observes the session only through immutable snapshots.
type runner struct {
	id       string
	cfg      domain.SessionConfig
	acct     *Account
	provider strategy.Provider
	engine   *Engine
	log      *logrus.Entry

	sub    stream.Subscription
	subOK  bool
	events <-chan domain.MarketEvent

	cmds chan command
	done chan struct{}

	// Read by the engine's staleness loop while the runner owns the rest.
	status      atomic.Value // domain.SessionStatus
	lastEventAt atomic.Int64 // Unix ms

	createdAt int64
	startedAt int64
	stoppedAt int64
}

func newRunner(id string, cfg domain.SessionConfig, acct *Account, provider strategy.Provider, e *Engine) *runner {
	r := &runner{
		id:       id,
		cfg:      cfg,
		acct:     acct,
		provider: provider,
		engine:   e,
		log: e.log.WithFields(logrus.Fields{
			"session_id": id,
			"symbol":     cfg.Symbol,
		}),
		cmds: make(chan command),
		done: make(chan struct{}),
	}
	r.status.Store(domain.StatusCreated)
	return r
}

// attach wires the hub subscription in. A session without one stays active
// and simply accumulates no fills; the staleness gauge is its surface.
func (r *runner) attach(sub stream.Subscription) {
	r.sub = sub
	r.subOK = true
	r.events = sub.Events
}

func (r *runner) currentStatus() domain.SessionStatus {
	return r.status.Load().(domain.SessionStatus)
}

// loop drives the session until stop. Event processing, command handling,
// and equity sampling are serialized here; the Account is never touched
// from anywhere else.
func (r *runner) loop(ctx context.Context) {
	defer close(r.done)

	interval := time.Duration(r.cfg.EquityIntervalMs) * time.Millisecond
	if interval <= 0 {
		interval = DefaultEquityInterval
	}
	equityTick := time.NewTicker(interval)
	defer equityTick.Stop()

	for {
		select {
		case cmd := <-r.cmds:
			stop := r.handleCommand(cmd)
			if stop {
				return
			}
		case ev, ok := <-r.events:
			if !ok {
				// Hub shut the stream down. The session stays active with a
				// growing staleness metric rather than erroring out.
				r.events = nil
				r.subOK = false
				r.log.Warn("feed subscription closed, session continues without events")
				continue
			}
			if r.handleEvent(ctx, ev) {
				return
			}
		case <-equityTick.C:
			r.sampleEquity(ctx)
		case <-ctx.Done():
			r.stop(ctx)
			return
		}
	}
}

// handleCommand applies one lifecycle command, reporting true when the
// loop must exit.
func (r *runner) handleCommand(cmd command) bool {
	switch cmd.kind {
	case cmdPause:
		if r.currentStatus() == domain.StatusActive {
			r.status.Store(domain.StatusPaused)
			r.persist(context.Background())
			r.log.Info("session paused")
		}
		cmd.reply <- nil
	case cmdResume:
		if r.currentStatus() == domain.StatusPaused {
			r.status.Store(domain.StatusActive)
			r.persist(context.Background())
			r.log.Info("session resumed")
		}
		cmd.reply <- nil
	case cmdStop:
		r.stop(context.Background())
		cmd.reply <- nil
		return true
	}
	return false
}

// handleEvent advances the account for one market event. Reports true when
// an invariant violation forced the session down.
func (r *runner) handleEvent(ctx context.Context, ev domain.MarketEvent) bool {
	// Paused means "not trading", not "catch up later": events arriving
	// while paused are discarded outright.
	if r.currentStatus() != domain.StatusActive {
		return false
	}
	if ev.Symbol != r.cfg.Symbol {
		return false
	}
	if !ev.Price.IsPositive() || !domain.ValidKind(ev.Kind) {
		observability.RecordEventDropped("malformed")
		r.log.WithFields(logrus.Fields{
			"kind":  string(ev.Kind),
			"price": ev.Price.String(),
		}).Warn("discarding malformed market event")
		return false
	}

	start := time.Now()
	sig := r.provider.Evaluate(ctx, ev)
	change, err := r.acct.ApplyEvent(ev, sig)
	observability.DefaultMetrics.EventProcessingLatency.Observe(time.Since(start).Seconds())
	r.lastEventAt.Store(ev.Timestamp)

	if change.Opened != nil {
		observability.RecordPositionOpened()
		r.mirrorFill(ctx, change.Opened.Side, change.Opened.Quantity, false)
		r.emit(domain.SessionEvent{
			Type:      domain.EventPositionOpened,
			SessionID: r.id,
			Symbol:    r.cfg.Symbol,
			Timestamp: ev.Timestamp,
			Position:  change.Opened,
		})
		r.log.WithFields(logrus.Fields{
			"side":  string(change.Opened.Side),
			"price": change.Opened.EntryPrice.String(),
			"qty":   change.Opened.Quantity.String(),
		}).Info("position opened")
	}
	for i := range change.Closed {
		t := change.Closed[i]
		r.recordClose(ctx, &t)
	}
	if change.Opened != nil || len(change.Closed) > 0 {
		r.persist(ctx)
	}

	if err != nil {
		r.fail(ctx, err)
		return true
	}
	return false
}

// recordClose persists one closed trade and emits its session event.
func (r *runner) recordClose(ctx context.Context, t *domain.ClosedTrade) {
	observability.RecordTradeClosed(string(t.ExitReason))
	r.mirrorFill(ctx, t.Side, t.Quantity, true)
	if r.engine.trades != nil {
		if err := r.engine.trades.Append(ctx, t); err != nil {
			r.log.WithError(err).Error("append closed trade")
		}
	}
	r.emit(domain.SessionEvent{
		Type:      domain.EventPositionClosed,
		SessionID: r.id,
		Symbol:    r.cfg.Symbol,
		Timestamp: t.ExitTime,
		Trade:     t,
	})
	r.log.WithFields(logrus.Fields{
		"exit_reason": string(t.ExitReason),
		"exit_price":  t.ExitPrice.String(),
		"pnl":         t.RealizedPnl.String(),
	}).Info("position closed")
}

// mirrorFill routes a simulated fill through the execution gateway for
// live sessions. Retryable gateway errors are retried with backoff; a
// terminal failure never touches the simulated account, it is logged and
// surfaced as an alert.
func (r *runner) mirrorFill(ctx context.Context, side domain.PositionSide, qty decimal.Decimal, closing bool) {
	if r.cfg.Mode != domain.ModeLive || r.engine.gateway == nil {
		return
	}
	orderSide := execution.OrderSideBuy
	if (side == domain.Short) != closing {
		orderSide = execution.OrderSideSell
	}
	req := execution.OrderRequest{
		Symbol:        r.cfg.Symbol,
		Side:          orderSide,
		Type:          execution.OrderTypeMarket,
		Quantity:      qty,
		ClientOrderID: uuid.NewString(),
	}
	err := execution.Retry(ctx, func() error {
		_, err := r.engine.gateway.PlaceOrder(ctx, req)
		return err
	})
	if err != nil {
		var xe *execution.Error
		if errors.As(err, &xe) {
			observability.RecordGatewayError(string(xe.Kind))
		}
		r.log.WithError(err).WithField("side", orderSide).Error("live order failed")
		r.emit(domain.SessionEvent{
			Type:      domain.EventAlert,
			SessionID: r.id,
			Symbol:    r.cfg.Symbol,
			Timestamp: r.engine.now().UnixMilli(),
			Message:   "live order failed: " + err.Error(),
		})
		return
	}
	observability.RecordOrderPlaced("binance", orderSide)
}

func (r *runner) sampleEquity(ctx context.Context) {
	if r.currentStatus() != domain.StatusActive || r.acct.LastPrice().IsZero() {
		return
	}
	point := r.acct.EquityPoint(r.engine.now().UnixMilli())
	if r.engine.equity != nil {
		if err := r.engine.equity.Append(ctx, &point); err != nil {
			r.log.WithError(err).Error("append equity sample")
		}
	}
	r.emit(domain.SessionEvent{
		Type:      domain.EventEquitySample,
		SessionID: r.id,
		Symbol:    r.cfg.Symbol,
		Timestamp: point.Timestamp,
		Equity:    &point,
	})
}

// stop transitions the session to its terminal state: any open position is
// force-closed at the last known price with exit reason manual, the hub
// subscription is released, and the final snapshot is pushed.
func (r *runner) stop(ctx context.Context) {
	if r.currentStatus() == domain.StatusStopped {
		return
	}
	now := r.engine.now().UnixMilli()
	closed, err := r.acct.CloseAll(now, domain.ExitManual)
	for i := range closed {
		r.recordClose(ctx, &closed[i])
	}
	r.status.Store(domain.StatusStopped)
	r.stoppedAt = now
	if r.subOK {
		r.engine.hub.Unsubscribe(r.sub.ID)
		r.subOK = false
	}
	r.persist(ctx)
	if err != nil {
		r.logInvariant(err)
	}
	r.log.Info("session stopped")
}

// fail handles an invariant violation: the session is forced to stopped
// with full state logged for postmortem. Other sessions are unaffected.
func (r *runner) fail(ctx context.Context, err error) {
	r.logInvariant(err)
	r.status.Store(domain.StatusStopped)
	r.stoppedAt = r.engine.now().UnixMilli()
	if r.subOK {
		r.engine.hub.Unsubscribe(r.sub.ID)
		r.subOK = false
	}
	r.persist(ctx)
	r.emit(domain.SessionEvent{
		Type:      domain.EventAlert,
		SessionID: r.id,
		Symbol:    r.cfg.Symbol,
		Timestamp: r.stoppedAt,
		Message:   err.Error(),
	})
}

func (r *runner) logInvariant(err error) {
	var ie *InvariantError
	if !errors.As(err, &ie) {
		r.log.WithError(err).Error("session failed")
		return
	}
	observability.RecordInvariantViolation()
	r.log.WithFields(logrus.Fields{
		"initial_capital": ie.InitialCapital.String(),
		"current_capital": ie.CurrentCapital.String(),
		"open_notional":   ie.OpenNotional.String(),
		"realized_pnl":    ie.RealizedPnl.String(),
		"diff":            ie.Diff.String(),
	}).Error("capital invariant violated, stopping session")
}

// snapshot builds the immutable state record for the session store.
func (r *runner) snapshot() *domain.SessionSnapshot {
	s := &domain.SessionSnapshot{
		ID:          r.id,
		Name:        r.cfg.Name,
		Symbol:      r.cfg.Symbol,
		StrategyRef: r.cfg.StrategyRef,
		Mode:        r.cfg.Mode,
		Status:      r.currentStatus(),
		CreatedAt:   r.createdAt,
		StartedAt:   r.startedAt,
		StoppedAt:   r.stoppedAt,
	}
	r.acct.snapshotInto(s)
	return s
}

func (r *runner) persist(ctx context.Context) {
	r.engine.persistSnapshot(ctx, r.snapshot())
}

func (r *runner) emit(ev domain.SessionEvent) {
	r.engine.emit(ev)
}
