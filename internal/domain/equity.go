package domain

import "github.com/shopspring/decimal"

// EquityPoint is one sample of a session's equity curve.
// Corresponds to the equity_curve table in ClickHouse.
type EquityPoint struct {
	SessionID     string
	Timestamp     int64           // Unix ms
	Equity        decimal.Decimal // cash + mark-to-market of open positions
	Cash          decimal.Decimal // capital not allocated to positions
	UnrealizedPnl decimal.Decimal // mark-to-market component
	OpenPositions int
}
