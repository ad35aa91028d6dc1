package domain

import "github.com/shopspring/decimal"

// PositionSide is the direction of an open position.
type PositionSide string

const (
	Long  PositionSide = "long"
	Short PositionSide = "short"
)

// Direction returns +1 for long, -1 for short as a decimal multiplier.
func (s PositionSide) Direction() decimal.Decimal {
	if s == Short {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Position is one open position owned by exactly one session. Stop and take
// prices are derived from the risk config at entry and frozen for the
// position's life; zero values mean the trigger is disabled.
type Position struct {
	ID              string
	Side            PositionSide
	EntryPrice      decimal.Decimal
	Quantity        decimal.Decimal
	NotionalAtEntry decimal.Decimal // capital debited at entry: entry notional plus entry fee
	EntryFee        decimal.Decimal // charged on entry, part of FeesPaid at close
	EntryTime       int64           // Unix ms
	StopLossPrice   decimal.Decimal
	TakeProfitPrice decimal.Decimal
}

// UnrealizedPnl marks the position against price. Fees are excluded; they are
// realized only at close.
func (p Position) UnrealizedPnl(price decimal.Decimal) decimal.Decimal {
	if price.IsZero() {
		return decimal.Zero
	}
	return price.Sub(p.EntryPrice).Mul(p.Quantity).Mul(p.Side.Direction())
}

// MarkValue is the position's contribution to session equity at price: the
// entry notional plus unrealized PnL. The entry fee is spent and does not
// come back at close.
func (p Position) MarkValue(price decimal.Decimal) decimal.Decimal {
	return p.NotionalAtEntry.Sub(p.EntryFee).Add(p.UnrealizedPnl(price))
}

// StopBreached reports whether price crosses the frozen stop-loss level.
func (p Position) StopBreached(price decimal.Decimal) bool {
	if p.StopLossPrice.IsZero() {
		return false
	}
	if p.Side == Long {
		return price.LessThanOrEqual(p.StopLossPrice)
	}
	return price.GreaterThanOrEqual(p.StopLossPrice)
}

// TakeProfitBreached reports whether price crosses the frozen take-profit level.
func (p Position) TakeProfitBreached(price decimal.Decimal) bool {
	if p.TakeProfitPrice.IsZero() {
		return false
	}
	if p.Side == Long {
		return price.GreaterThanOrEqual(p.TakeProfitPrice)
	}
	return price.LessThanOrEqual(p.TakeProfitPrice)
}
