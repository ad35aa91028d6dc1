package domain

import "github.com/shopspring/decimal"

// ClosedTrade is the immutable record of a completed position. Appended to
// the session's trade log at exit fill and never mutated afterwards.
// Corresponds to the closed_trades table in PostgreSQL.
type ClosedTrade struct {
	TradeID   string // deterministic hash, stable across replays
	SessionID string
	Symbol    string

	Side       PositionSide
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	ExitPrice  decimal.Decimal
	EntryTime  int64 // Unix ms
	ExitTime   int64 // Unix ms

	ExitReason  ExitReason
	RealizedPnl decimal.Decimal // direction * (exit-entry) * qty - fees
	FeesPaid    decimal.Decimal // entry fee + exit fee
	ReturnPct   decimal.Decimal // realized PnL as % of entry notional

	HoldDurationMs int64
}

// Win reports whether the trade realized a positive PnL.
func (t ClosedTrade) Win() bool {
	return t.RealizedPnl.IsPositive()
}

// ExitReason is the closed set of reasons a position was closed.
type ExitReason string

const (
	ExitSignal      ExitReason = "signal"       // opposing strategy signal
	ExitStopLoss    ExitReason = "stop_loss"    // stop-loss price breached
	ExitTakeProfit  ExitReason = "take_profit"  // take-profit price breached
	ExitManual      ExitReason = "manual"       // session stopped with open position
	ExitEndOfData   ExitReason = "end_of_data"  // backtest range exhausted
	ExitMaxDuration ExitReason = "max_duration" // max hold time exceeded
)
