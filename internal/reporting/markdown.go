package reporting

import (
	"fmt"
	"strings"
	"time"

	"trading-lab/internal/domain"
)

// RenderMarkdown renders report as Markdown string.
func RenderMarkdown(r *Report) string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("# Backtest Report: %s\n\n", r.Result.RunID))
	sb.WriteString(fmt.Sprintf("Generated: %s\n\n", r.GeneratedAt.Format(time.RFC3339)))

	// Run Summary
	sb.WriteString("## Run Summary\n\n")
	sb.WriteString("| Field | Value |\n")
	sb.WriteString("|-------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Name | %s |\n", r.Result.Name))
	sb.WriteString(fmt.Sprintf("| Symbol | %s |\n", r.Result.Symbol))
	sb.WriteString(fmt.Sprintf("| Strategy | %s |\n", r.Result.StrategyRef))
	sb.WriteString(fmt.Sprintf("| Bars | %d |\n", r.Result.BarCount))
	sb.WriteString(fmt.Sprintf("| Range | %s .. %s |\n",
		formatMs(r.Result.FirstBarTime), formatMs(r.Result.LastBarTime)))
	sb.WriteString(fmt.Sprintf("| Initial Capital | %s |\n", r.Result.InitialCapital.String()))
	sb.WriteString(fmt.Sprintf("| Final Equity | %s |\n", r.Result.FinalEquity.String()))
	sb.WriteString(fmt.Sprintf("| Fees Paid | %s |\n", r.Result.FeesPaid.String()))
	sb.WriteString("\n")

	// Performance
	sb.WriteString("## Performance\n\n")
	sb.WriteString("| Metric | Value |\n")
	sb.WriteString("|--------|-------|\n")
	sb.WriteString(fmt.Sprintf("| Total Return | %s%% |\n", r.Result.TotalReturnPct.StringFixed(2)))
	sb.WriteString(fmt.Sprintf("| Trades | %d (%d wins / %d losses) |\n",
		r.Result.TotalTrades, r.Result.Wins, r.Result.Losses))
	sb.WriteString(fmt.Sprintf("| Win Rate | %.1f%% |\n", r.Result.WinRate*100))
	sb.WriteString(fmt.Sprintf("| Profit Factor | %s |\n", formatRatio(r.Result.ProfitFactor)))
	sb.WriteString(fmt.Sprintf("| Sharpe Ratio | %s |\n", formatRatio(r.Result.SharpeRatio)))
	sb.WriteString(fmt.Sprintf("| Max Drawdown | %.2f%% |\n", r.Result.MaxDrawdownPct))
	sb.WriteString(fmt.Sprintf("| Volatility | %.2f%% |\n", r.Result.VolatilityPct))
	if r.Result.TotalTrades > 0 {
		sb.WriteString(fmt.Sprintf("| Avg Hold | %s |\n",
			(time.Duration(r.AvgHoldMs) * time.Millisecond).String()))
	}
	sb.WriteString("\n")

	// Exit Breakdown
	sb.WriteString("## Exit Breakdown\n\n")
	if len(r.ExitBreakdown) > 0 {
		sb.WriteString("| Reason | Trades | Wins |\n")
		sb.WriteString("|--------|--------|------|\n")
		for _, row := range r.ExitBreakdown {
			sb.WriteString(fmt.Sprintf("| %s | %d | %d |\n", row.Reason, row.Count, row.Wins))
		}
	} else {
		sb.WriteString("No trades executed.\n")
	}
	sb.WriteString("\n")

	// Extremes
	if r.BestTrade != nil && r.WorstTrade != nil {
		sb.WriteString("## Best / Worst Trades\n\n")
		sb.WriteString("| | Trade | Side | Entry | Exit | PnL | Exit Reason |\n")
		sb.WriteString("|---|-------|------|-------|------|-----|-------------|\n")
		for _, row := range []struct {
			label string
			trade *domain.ClosedTrade
		}{
			{"Best", r.BestTrade},
			{"Worst", r.WorstTrade},
		} {
			t := row.trade
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s |\n",
				row.label, shortID(t.TradeID), t.Side,
				t.EntryPrice.String(), t.ExitPrice.String(),
				t.RealizedPnl.String(), t.ExitReason))
		}
		sb.WriteString("\n")
	}

	// Verdict
	sb.WriteString(fmt.Sprintf("## Verdict: %s\n\n", r.Verdict.Verdict))
	sb.WriteString("| # | Criterion | Threshold | Actual | Status |\n")
	sb.WriteString("|---|-----------|-----------|--------|--------|\n")
	for i, c := range r.Verdict.Criteria {
		status := "FAIL"
		if c.Pass {
			status = "PASS"
		}
		sb.WriteString(fmt.Sprintf("| %d | %s | %s | %s | %s |\n",
			i+1, c.Name, c.Threshold, c.Actual, status))
	}
	sb.WriteString("\n")
	if r.Verdict.Verdict == VerdictGO {
		sb.WriteString("All criteria passed.\n\n")
	} else {
		sb.WriteString("NO-GO due to:\n")
		for _, c := range r.Verdict.Criteria {
			if !c.Pass {
				sb.WriteString(fmt.Sprintf("- %s (actual: %s, required: %s)\n",
					c.Name, c.Actual, c.Threshold))
			}
		}
		sb.WriteString("\n")
	}

	// Trade Log
	sb.WriteString("## Trade Log\n\n")
	if len(r.Trades) > 0 {
		sb.WriteString("| Trade | Side | Qty | Entry | Exit | Entry Time | Exit Time | PnL | Return | Fees | Reason |\n")
		sb.WriteString("|-------|------|-----|-------|------|------------|-----------|-----|--------|------|--------|\n")
		for _, t := range r.Trades {
			sb.WriteString(fmt.Sprintf("| %s | %s | %s | %s | %s | %s | %s | %s | %s%% | %s | %s |\n",
				shortID(t.TradeID), t.Side, t.Quantity.String(),
				t.EntryPrice.String(), t.ExitPrice.String(),
				formatMs(t.EntryTime), formatMs(t.ExitTime),
				t.RealizedPnl.String(), t.ReturnPct.StringFixed(2),
				t.FeesPaid.String(), t.ExitReason))
		}
	} else {
		sb.WriteString("No trades executed.\n")
	}
	sb.WriteString("\n")

	return sb.String()
}

func formatMs(ms int64) string {
	return time.UnixMilli(ms).UTC().Format("2006-01-02 15:04:05")
}

// shortID abbreviates a 64-char trade hash for table cells.
func shortID(id string) string {
	if len(id) > 12 {
		return id[:12]
	}
	return id
}
