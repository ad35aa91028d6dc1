package reporting

import (
	"fmt"
	"strings"

	"trading-lab/internal/domain"
)

// RenderTradesCSV renders the closed-trade log as CSV string.
func RenderTradesCSV(trades []*domain.ClosedTrade) string {
	var sb strings.Builder

	// Header
	sb.WriteString("trade_id,session_id,symbol,side,quantity,entry_price,exit_price,")
	sb.WriteString("entry_time,exit_time,exit_reason,realized_pnl,fees_paid,return_pct,hold_duration_ms\n")

	// Rows
	for _, t := range trades {
		sb.WriteString(fmt.Sprintf("%s,%s,%s,%s,%s,%s,%s,%d,%d,%s,%s,%s,%s,%d\n",
			t.TradeID,
			t.SessionID,
			t.Symbol,
			t.Side,
			t.Quantity.String(),
			t.EntryPrice.String(),
			t.ExitPrice.String(),
			t.EntryTime,
			t.ExitTime,
			t.ExitReason,
			t.RealizedPnl.String(),
			t.FeesPaid.String(),
			t.ReturnPct.String(),
			t.HoldDurationMs,
		))
	}

	return sb.String()
}

// RenderEquityCSV renders an equity curve as CSV string.
func RenderEquityCSV(points []*domain.EquityPoint) string {
	var sb strings.Builder

	sb.WriteString("session_id,timestamp,equity,cash,unrealized_pnl,open_positions\n")

	for _, p := range points {
		sb.WriteString(fmt.Sprintf("%s,%d,%s,%s,%s,%d\n",
			p.SessionID,
			p.Timestamp,
			p.Equity.String(),
			p.Cash.String(),
			p.UnrealizedPnl.String(),
			p.OpenPositions,
		))
	}

	return sb.String()
}
