// Package session implements the trade-simulation engine: per-session
// account math, the event-processing state machine, and the engine that
// owns all live sessions.
package session

import (
	"fmt"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/idhash"
	"trading-lab/internal/strategy"
)

var (
	hundred = decimal.NewFromInt(100)
)

// Account is the single-threaded simulation core of one session: capital,
// open positions, and the closed-trade log. It is shared by the live
// session runner and the backtest engine and owns all monetary math.
//
// Invariant after every mutation:
//
//	currentCapital + Σ notionalAtEntry(open) == initialCapital + Σ realizedPnl(closed)
//
// Account is not safe for concurrent use; each session task owns one.
type Account struct {
	sessionID string
	symbol    string

	initialCapital decimal.Decimal
	currentCapital decimal.Decimal
	realizedPnl    decimal.Decimal
	totalFees      decimal.Decimal

	risk domain.RiskConfig
	fees domain.FeeConfig

	open   []domain.Position
	trades []domain.ClosedTrade
	wins   int
	losses int

	posSeq   int
	tradeSeq int

	lastPrice   decimal.Decimal
	fundingMark decimal.Decimal
	markFunding bool
	lastEventAt int64
}

// Change describes what one applied event did to the account.
type Change struct {
	Opened *domain.Position
	Closed []domain.ClosedTrade
}

// ValidateConfig checks a session config the way Create does, without
// building anything. All failures wrap ErrInvalidConfig.
func ValidateConfig(cfg domain.SessionConfig) error {
	if cfg.Symbol == "" {
		return fmt.Errorf("%w: symbol is required", ErrInvalidConfig)
	}
	if !cfg.InitialCapital.IsPositive() {
		return fmt.Errorf("%w: initial capital must be > 0, got %s", ErrInvalidConfig, cfg.InitialCapital)
	}
	if err := validatePct("stop loss", cfg.Risk.StopLossPct); err != nil {
		return err
	}
	if err := validatePct("take profit", cfg.Risk.TakeProfitPct); err != nil {
		return err
	}
	if err := validatePct("max position size", cfg.Risk.MaxPositionPct); err != nil {
		return err
	}
	if cfg.Risk.MaxOpenPositions < 0 {
		return fmt.Errorf("%w: max open positions must be >= 0", ErrInvalidConfig)
	}
	if cfg.Fees.EntryRate.IsNegative() || cfg.Fees.ExitRate.IsNegative() {
		return fmt.Errorf("%w: fee rates must be >= 0", ErrInvalidConfig)
	}
	if cfg.Fees.PriceIncrement.IsNegative() {
		return fmt.Errorf("%w: price increment must be >= 0, got %s", ErrInvalidConfig, cfg.Fees.PriceIncrement)
	}
	return nil
}

// validatePct requires 0 < pct <= 100 when pct is set; zero means unset.
func validatePct(name string, pct decimal.Decimal) error {
	if pct.IsZero() {
		return nil
	}
	if pct.IsNegative() || pct.GreaterThan(hundred) {
		return fmt.Errorf("%w: %s must be in (0, 100], got %s", ErrInvalidConfig, name, pct)
	}
	return nil
}

// NewAccount validates the config and creates an account funded with the
// initial capital. Unset risk and fee fields take their documented defaults.
func NewAccount(sessionID string, cfg domain.SessionConfig) (*Account, error) {
	if err := ValidateConfig(cfg); err != nil {
		return nil, err
	}

	risk := cfg.Risk
	if risk.MaxPositionPct.IsZero() {
		risk.MaxPositionPct = hundred
	}
	if risk.MaxOpenPositions == 0 {
		risk.MaxOpenPositions = 1
	}

	fees := cfg.Fees
	if fees.EntryRate.IsZero() && fees.ExitRate.IsZero() {
		fees.EntryRate = domain.DefaultCommissionRate
		fees.ExitRate = domain.DefaultCommissionRate
	}
	if fees.PriceIncrement.IsZero() {
		fees.PriceIncrement = domain.DefaultPriceIncrement
	}

	return &Account{
		sessionID:      sessionID,
		symbol:         cfg.Symbol,
		initialCapital: cfg.InitialCapital,
		currentCapital: cfg.InitialCapital,
		risk:           risk,
		fees:           fees,
		markFunding:    cfg.MarkOnFunding,
	}, nil
}

// ApplyEvent advances the account for one market event and the strategy's
// signal for it. Only trade-bearing kinds (trade, aggregated_trade,
// bar_close) move positions; funding_rate updates the equity mark when the
// session opted in, liquidation events carry no account semantics.
//
// The returned error is an *InvariantError and means the account is
// corrupt; callers must stop the session.
func (a *Account) ApplyEvent(ev domain.MarketEvent, sig strategy.Signal) (Change, error) {
	a.lastEventAt = ev.Timestamp

	switch ev.Kind {
	case domain.KindTrade, domain.KindAggregatedTrade, domain.KindBarClose:
	case domain.KindFundingRate:
		if a.markFunding {
			a.fundingMark = ev.Price
		}
		return Change{}, nil
	default:
		return Change{}, nil
	}

	a.lastPrice = ev.Price

	var ch Change
	// Exit checks run in fixed priority per position: stop-loss wins over
	// take-profit wins over an opposing signal wins over hold-time expiry.
	for i := len(a.open) - 1; i >= 0; i-- {
		p := a.open[i]
		var reason domain.ExitReason
		switch {
		case p.StopBreached(ev.Price):
			reason = domain.ExitStopLoss
		case p.TakeProfitBreached(ev.Price):
			reason = domain.ExitTakeProfit
		case opposes(sig, p.Side):
			reason = domain.ExitSignal
		case a.risk.MaxHoldTimeMs > 0 && ev.Timestamp-p.EntryTime >= a.risk.MaxHoldTimeMs:
			reason = domain.ExitMaxDuration
		default:
			continue
		}
		t, err := a.closeAt(i, ev.Price, ev.Timestamp, reason)
		if err != nil {
			return ch, err
		}
		ch.Closed = append(ch.Closed, *t)
	}

	// Entry is allowed while open positions stay below the cap. An event
	// that just closed a position waits for the next one, so a single tick
	// never flips a position.
	if len(ch.Closed) == 0 && sig != strategy.SignalNeutral && len(a.open) < a.risk.MaxOpenPositions {
		side := domain.Long
		if sig == strategy.SignalSell {
			side = domain.Short
		}
		// An unfundable entry (capital exhausted below the sizing floor)
		// is skipped, not an error; the session keeps watching exits.
		if p, err := a.openPosition(side, ev.Price, ev.Timestamp); err == nil {
			ch.Opened = p
		}
	}

	return ch, a.checkInvariant()
}

// opposes reports whether the signal closes a position of the given side.
func opposes(sig strategy.Signal, side domain.PositionSide) bool {
	return (side == domain.Long && sig == strategy.SignalSell) ||
		(side == domain.Short && sig == strategy.SignalBuy)
}

// openPosition sizes, funds, and opens one position at price. Stop and take
// levels are derived from the risk config here and frozen for the
// position's life.
func (a *Account) openPosition(side domain.PositionSide, price decimal.Decimal, ts int64) (*domain.Position, error) {
	budget := a.currentCapital.Mul(a.risk.MaxPositionPct).Div(hundred)
	if budget.GreaterThan(a.currentCapital) {
		budget = a.currentCapital
	}
	qty := budget.Div(price)
	if !qty.IsPositive() {
		return nil, ErrInsufficientCapital
	}

	notional := qty.Mul(price)
	entryFee := a.roundFee(a.fees.EntryRate.Mul(notional))
	debit := notional.Add(entryFee)

	a.posSeq++
	p := domain.Position{
		ID:              idhash.PositionID(a.sessionID, a.symbol, string(side), a.posSeq, ts),
		Side:            side,
		EntryPrice:      price,
		Quantity:        qty,
		NotionalAtEntry: debit,
		EntryFee:        entryFee,
		EntryTime:       ts,
	}
	if !a.risk.StopLossPct.IsZero() {
		off := price.Mul(a.risk.StopLossPct).Div(hundred)
		if side == domain.Long {
			p.StopLossPrice = price.Sub(off)
		} else {
			p.StopLossPrice = price.Add(off)
		}
	}
	if !a.risk.TakeProfitPct.IsZero() {
		off := price.Mul(a.risk.TakeProfitPct).Div(hundred)
		if side == domain.Long {
			p.TakeProfitPrice = price.Add(off)
		} else {
			p.TakeProfitPrice = price.Sub(off)
		}
	}

	a.currentCapital = a.currentCapital.Sub(debit)
	a.open = append(a.open, p)
	return &p, nil
}

// closeAt realizes the position at index i against price. The entry debit
// plus realized PnL is credited back, the trade is appended to the log.
func (a *Account) closeAt(i int, price decimal.Decimal, ts int64, reason domain.ExitReason) (*domain.ClosedTrade, error) {
	if i < 0 || i >= len(a.open) {
		return nil, ErrNoPosition
	}
	p := a.open[i]

	exitNotional := p.Quantity.Mul(price)
	exitFee := a.roundFee(a.fees.ExitRate.Mul(exitNotional))
	fees := p.EntryFee.Add(exitFee)
	gross := price.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Side.Direction())
	realized := gross.Sub(fees)

	a.currentCapital = a.currentCapital.Add(p.NotionalAtEntry).Add(realized)
	a.realizedPnl = a.realizedPnl.Add(realized)
	a.totalFees = a.totalFees.Add(fees)
	a.open = append(a.open[:i], a.open[i+1:]...)

	a.tradeSeq++
	entryNotional := p.EntryPrice.Mul(p.Quantity)
	t := domain.ClosedTrade{
		TradeID:        idhash.TradeID(a.sessionID, a.symbol, a.tradeSeq, p.EntryTime),
		SessionID:      a.sessionID,
		Symbol:         a.symbol,
		Side:           p.Side,
		Quantity:       p.Quantity,
		EntryPrice:     p.EntryPrice,
		ExitPrice:      price,
		EntryTime:      p.EntryTime,
		ExitTime:       ts,
		ExitReason:     reason,
		RealizedPnl:    realized,
		FeesPaid:       fees,
		HoldDurationMs: ts - p.EntryTime,
	}
	if entryNotional.IsPositive() {
		t.ReturnPct = realized.Div(entryNotional).Mul(hundred)
	}
	if t.Win() {
		a.wins++
	} else {
		a.losses++
	}
	a.trades = append(a.trades, t)
	return &t, nil
}

// CloseAll force-closes every open position at the last known price. Used
// by stop() and by backtests exhausting their range. A flat account is a
// no-op.
func (a *Account) CloseAll(ts int64, reason domain.ExitReason) ([]domain.ClosedTrade, error) {
	var closed []domain.ClosedTrade
	for len(a.open) > 0 {
		t, err := a.closeAt(len(a.open)-1, a.lastPrice, ts, reason)
		if err != nil {
			return closed, err
		}
		closed = append(closed, *t)
	}
	return closed, a.checkInvariant()
}

// roundFee rounds a raw fee half-up to the configured price increment.
func (a *Account) roundFee(raw decimal.Decimal) decimal.Decimal {
	inc := a.fees.PriceIncrement
	return raw.Div(inc).Round(0).Mul(inc)
}

// checkInvariant verifies capital conservation and returns an
// *InvariantError carrying full state when it does not hold.
func (a *Account) checkInvariant() error {
	openNotional := decimal.Zero
	for _, p := range a.open {
		openNotional = openNotional.Add(p.NotionalAtEntry)
	}
	lhs := a.currentCapital.Add(openNotional)
	rhs := a.initialCapital.Add(a.realizedPnl)
	if lhs.Equal(rhs) {
		return nil
	}
	return &InvariantError{
		SessionID:      a.sessionID,
		InitialCapital: a.initialCapital,
		CurrentCapital: a.currentCapital,
		OpenNotional:   openNotional,
		RealizedPnl:    a.realizedPnl,
		Diff:           lhs.Sub(rhs),
	}
}

// markPrice is the price used for mark-to-market: the funding mark when the
// session opted in and one arrived, otherwise the last trade price.
func (a *Account) markPrice() decimal.Decimal {
	if a.markFunding && !a.fundingMark.IsZero() {
		return a.fundingMark
	}
	return a.lastPrice
}

// Equity is current capital plus open positions marked at markPrice.
func (a *Account) Equity() decimal.Decimal {
	eq := a.currentCapital
	for _, p := range a.open {
		eq = eq.Add(p.MarkValue(a.markPrice()))
	}
	return eq
}

// EquityPoint samples the account into one equity-curve point at ts.
func (a *Account) EquityPoint(ts int64) domain.EquityPoint {
	upnl := decimal.Zero
	for _, p := range a.open {
		upnl = upnl.Add(p.UnrealizedPnl(a.markPrice()))
	}
	return domain.EquityPoint{
		SessionID:     a.sessionID,
		Timestamp:     ts,
		Equity:        a.Equity(),
		Cash:          a.currentCapital,
		UnrealizedPnl: upnl,
		OpenPositions: len(a.open),
	}
}

// CurrentCapital is the cash not allocated to open positions.
func (a *Account) CurrentCapital() decimal.Decimal { return a.currentCapital }

// LastPrice is the price of the last trade-bearing event, zero before any.
func (a *Account) LastPrice() decimal.Decimal { return a.lastPrice }

// LastEventAt is the exchange timestamp of the last applied event, Unix ms.
func (a *Account) LastEventAt() int64 { return a.lastEventAt }

// OpenPositions returns a copy of the open position set.
func (a *Account) OpenPositions() []domain.Position {
	out := make([]domain.Position, len(a.open))
	copy(out, a.open)
	return out
}

// Trades returns a copy of the closed-trade log.
func (a *Account) Trades() []domain.ClosedTrade {
	out := make([]domain.ClosedTrade, len(a.trades))
	copy(out, a.trades)
	return out
}

// snapshotInto fills the account-owned fields of a snapshot. Identity,
// status, and lifecycle timestamps belong to the runner.
func (a *Account) snapshotInto(s *domain.SessionSnapshot) {
	s.InitialCapital = a.initialCapital
	s.CurrentCapital = a.currentCapital
	s.RealizedPnl = a.realizedPnl
	s.TotalFees = a.totalFees
	s.Risk = a.risk
	s.Fees = a.fees
	s.OpenPositions = a.OpenPositions()
	s.TotalTrades = len(a.trades)
	s.WinningTrades = a.wins
	s.LosingTrades = a.losses
	s.LastPrice = a.lastPrice
	s.LastEventAt = a.lastEventAt
}
