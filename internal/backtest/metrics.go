package backtest

import (
	"math"

	"github.com/montanaflynn/stats"
	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
)

const msPerYear = 365.25 * 24 * 60 * 60 * 1000

// computeMetrics fills the aggregate fields of a result from its trade log
// and equity curve. Sharpe and volatility are annualized from per-bar
// equity returns; a curve with fewer than three points reports zero for
// both.
func computeMetrics(res *domain.BacktestResult, trades []domain.ClosedTrade, equity []domain.EquityPoint, barIntervalMs int64) {
	res.TotalTrades = len(trades)

	grossProfit := decimal.Zero
	grossLoss := decimal.Zero
	for _, t := range trades {
		res.FeesPaid = res.FeesPaid.Add(t.FeesPaid)
		if t.Win() {
			res.Wins++
			grossProfit = grossProfit.Add(t.RealizedPnl)
		} else {
			res.Losses++
			grossLoss = grossLoss.Add(t.RealizedPnl.Abs())
		}
	}
	if res.TotalTrades > 0 {
		res.WinRate = float64(res.Wins) / float64(res.TotalTrades)
	}
	switch {
	case grossLoss.IsPositive():
		res.ProfitFactor, _ = grossProfit.Div(grossLoss).Float64()
	case grossProfit.IsPositive():
		res.ProfitFactor = math.Inf(1)
	}

	if res.InitialCapital.IsPositive() {
		res.TotalReturnPct = res.FinalEquity.Sub(res.InitialCapital).
			Div(res.InitialCapital).Mul(decimal.NewFromInt(100))
	}

	res.MaxDrawdownPct = maxDrawdownPct(equity)

	returns := barReturns(equity)
	if len(returns) < 2 || barIntervalMs <= 0 {
		return
	}
	mean, _ := stats.Mean(returns)
	stddev, _ := stats.StandardDeviationSample(returns)
	if stddev == 0 {
		return
	}
	annualize := math.Sqrt(msPerYear / float64(barIntervalMs))
	res.SharpeRatio = mean / stddev * annualize
	res.VolatilityPct = stddev * annualize * 100
}

// barReturns converts the equity curve into per-interval simple returns.
func barReturns(equity []domain.EquityPoint) []float64 {
	if len(equity) < 2 {
		return nil
	}
	out := make([]float64, 0, len(equity)-1)
	for i := 1; i < len(equity); i++ {
		prev, _ := equity[i-1].Equity.Float64()
		cur, _ := equity[i].Equity.Float64()
		if prev == 0 {
			continue
		}
		out = append(out, (cur-prev)/prev)
	}
	return out
}

// maxDrawdownPct is the worst peak-to-trough equity decline in percent.
func maxDrawdownPct(equity []domain.EquityPoint) float64 {
	var peak, worst float64
	for _, p := range equity {
		e, _ := p.Equity.Float64()
		if e > peak {
			peak = e
		}
		if peak > 0 {
			dd := (peak - e) / peak * 100
			if dd > worst {
				worst = dd
			}
		}
	}
	return worst
}
