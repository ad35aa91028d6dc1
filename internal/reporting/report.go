package reporting

import (
	"time"

	"trading-lab/internal/domain"
)

// Report is the rendered view of one backtest run: the aggregate result,
// the per-trade log, the equity curve, and a threshold-based verdict.
type Report struct {
	GeneratedAt time.Time

	Result domain.BacktestResult

	// Trade log (ordered by exit_time ASC, trade_id ASC)
	Trades []*domain.ClosedTrade

	// Equity curve (ordered by timestamp ASC)
	EquityCurve []*domain.EquityPoint

	// Derived trade statistics
	ExitBreakdown []ExitBreakdownRow
	BestTrade     *domain.ClosedTrade // highest realized PnL, nil if no trades
	WorstTrade    *domain.ClosedTrade // lowest realized PnL, nil if no trades
	AvgHoldMs     int64               // mean hold duration across trades

	Verdict *VerdictResult
}

// ExitBreakdownRow counts trades closed for one exit reason.
type ExitBreakdownRow struct {
	Reason domain.ExitReason
	Count  int
	Wins   int
}

// Build assembles a Report from already-loaded data. now is the report
// timestamp; pass a fixed clock for deterministic output.
func Build(result domain.BacktestResult, trades []*domain.ClosedTrade, equity []*domain.EquityPoint, thresholds Thresholds, now time.Time) *Report {
	r := &Report{
		GeneratedAt: now,
		Result:      result,
		Trades:      trades,
		EquityCurve: equity,
		Verdict:     Evaluate(result, thresholds),
	}

	if len(trades) == 0 {
		return r
	}

	counts := make(map[domain.ExitReason]*ExitBreakdownRow)
	var totalHold int64
	best, worst := trades[0], trades[0]
	for _, t := range trades {
		row, ok := counts[t.ExitReason]
		if !ok {
			row = &ExitBreakdownRow{Reason: t.ExitReason}
			counts[t.ExitReason] = row
		}
		row.Count++
		if t.Win() {
			row.Wins++
		}
		totalHold += t.HoldDurationMs
		if t.RealizedPnl.GreaterThan(best.RealizedPnl) {
			best = t
		}
		if t.RealizedPnl.LessThan(worst.RealizedPnl) {
			worst = t
		}
	}

	// Fixed presentation order, omitting reasons with no trades.
	order := []domain.ExitReason{
		domain.ExitTakeProfit,
		domain.ExitStopLoss,
		domain.ExitSignal,
		domain.ExitMaxDuration,
		domain.ExitEndOfData,
		domain.ExitManual,
	}
	for _, reason := range order {
		if row, ok := counts[reason]; ok {
			r.ExitBreakdown = append(r.ExitBreakdown, *row)
		}
	}

	r.BestTrade = best
	r.WorstTrade = worst
	r.AvgHoldMs = totalHold / int64(len(trades))
	return r
}
