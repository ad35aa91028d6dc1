package domain

import "github.com/shopspring/decimal"

// BacktestResult is the aggregate outcome of one backtest run.
// Corresponds to the backtest_results table in PostgreSQL; the per-trade log
// and equity curve are stored alongside keyed by RunID.
type BacktestResult struct {
	RunID       string
	Name        string
	Symbol      string
	StrategyRef string
	CreatedAt   int64 // Unix ms

	// Input range
	FirstBarTime int64
	LastBarTime  int64
	BarCount     int

	// Capital
	InitialCapital decimal.Decimal
	FinalEquity    decimal.Decimal
	TotalReturnPct decimal.Decimal
	FeesPaid       decimal.Decimal

	// Trade stats
	TotalTrades int
	Wins        int
	Losses      int
	WinRate     float64 // wins / total trades

	// Risk metrics, computed from per-bar equity returns
	ProfitFactor   float64 // gross profit / gross loss
	SharpeRatio    float64 // annualized
	MaxDrawdownPct float64 // worst peak-to-trough equity decline
	VolatilityPct  float64 // stddev of bar returns, annualized
}
