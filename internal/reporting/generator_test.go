package reporting

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"trading-lab/internal/domain"
	"trading-lab/internal/storage"
	"trading-lab/internal/storage/memory"
)

func dec(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return d
}

func sampleResult() domain.BacktestResult {
	return domain.BacktestResult{
		RunID:          "run-1",
		Name:           "sma-cross",
		Symbol:         "BTCUSDT",
		StrategyRef:    "scripted:...",
		CreatedAt:      1700000000000,
		FirstBarTime:   1700000000000,
		LastBarTime:    1700003600000,
		BarCount:       60,
		InitialCapital: dec("10000"),
		FinalEquity:    dec("11000"),
		TotalReturnPct: dec("10"),
		FeesPaid:       dec("21"),
		TotalTrades:    12,
		Wins:           7,
		Losses:         5,
		WinRate:        7.0 / 12.0,
		ProfitFactor:   1.8,
		SharpeRatio:    1.1,
		MaxDrawdownPct: 8.5,
		VolatilityPct:  20.0,
	}
}

func sampleTrade(id string, pnl string, reason domain.ExitReason) *domain.ClosedTrade {
	return &domain.ClosedTrade{
		TradeID:        id,
		SessionID:      "run-1",
		Symbol:         "BTCUSDT",
		Side:           domain.Long,
		Quantity:       dec("1"),
		EntryPrice:     dec("100"),
		ExitPrice:      dec("110"),
		EntryTime:      1700000000000,
		ExitTime:       1700000600000,
		ExitReason:     reason,
		RealizedPnl:    dec(pnl),
		FeesPaid:       dec("0.21"),
		ReturnPct:      dec("9.8"),
		HoldDurationMs: 600000,
	}
}

func TestEvaluateGO(t *testing.T) {
	v := Evaluate(sampleResult(), DefaultThresholds())
	if v.Verdict != VerdictGO {
		t.Fatalf("verdict = %s, want GO: %+v", v.Verdict, v.Criteria)
	}
	if len(v.Criteria) != 6 {
		t.Fatalf("criteria count = %d, want 6", len(v.Criteria))
	}
	for _, c := range v.Criteria {
		if !c.Pass {
			t.Errorf("criterion %q failed: actual %s, threshold %s", c.Name, c.Actual, c.Threshold)
		}
	}
}

func TestEvaluateNOGO(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*domain.BacktestResult)
	}{
		{"too few trades", func(r *domain.BacktestResult) { r.TotalTrades = 5 }},
		{"negative return", func(r *domain.BacktestResult) { r.TotalReturnPct = dec("-3") }},
		{"low win rate", func(r *domain.BacktestResult) { r.WinRate = 0.2 }},
		{"low profit factor", func(r *domain.BacktestResult) { r.ProfitFactor = 0.9 }},
		{"low sharpe", func(r *domain.BacktestResult) { r.SharpeRatio = 0.1 }},
		{"deep drawdown", func(r *domain.BacktestResult) { r.MaxDrawdownPct = 40 }},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := sampleResult()
			tc.mutate(&r)
			v := Evaluate(r, DefaultThresholds())
			if v.Verdict != VerdictNOGO {
				t.Fatalf("verdict = %s, want NO-GO", v.Verdict)
			}
		})
	}
}

func TestEvaluateInfProfitFactor(t *testing.T) {
	r := sampleResult()
	r.ProfitFactor = math.Inf(1)

	v := Evaluate(r, DefaultThresholds())
	if v.Verdict != VerdictGO {
		t.Fatalf("verdict = %s, want GO", v.Verdict)
	}
	for _, c := range v.Criteria {
		if c.Name == "Profit factor" && c.Actual != "inf" {
			t.Errorf("profit factor rendered as %q, want inf", c.Actual)
		}
	}
}

func TestEvaluateZeroThresholdsFallBack(t *testing.T) {
	r := sampleResult()
	r.TotalTrades = 5 // below DefaultMinTrades

	v := Evaluate(r, Thresholds{})
	if v.Verdict != VerdictNOGO {
		t.Fatalf("zero-value thresholds should use defaults, got %s", v.Verdict)
	}
}

func TestBuildDerivedStats(t *testing.T) {
	trades := []*domain.ClosedTrade{
		sampleTrade("t1", "50", domain.ExitTakeProfit),
		sampleTrade("t2", "-20", domain.ExitStopLoss),
		sampleTrade("t3", "30", domain.ExitSignal),
		sampleTrade("t4", "-5", domain.ExitStopLoss),
	}
	now := time.Unix(1700010000, 0).UTC()

	r := Build(sampleResult(), trades, nil, DefaultThresholds(), now)

	if r.BestTrade.TradeID != "t1" {
		t.Errorf("best trade = %s, want t1", r.BestTrade.TradeID)
	}
	if r.WorstTrade.TradeID != "t2" {
		t.Errorf("worst trade = %s, want t2", r.WorstTrade.TradeID)
	}
	if r.AvgHoldMs != 600000 {
		t.Errorf("avg hold = %d, want 600000", r.AvgHoldMs)
	}

	want := []ExitBreakdownRow{
		{Reason: domain.ExitTakeProfit, Count: 1, Wins: 1},
		{Reason: domain.ExitStopLoss, Count: 2, Wins: 0},
		{Reason: domain.ExitSignal, Count: 1, Wins: 1},
	}
	if len(r.ExitBreakdown) != len(want) {
		t.Fatalf("breakdown rows = %d, want %d", len(r.ExitBreakdown), len(want))
	}
	for i, w := range want {
		if r.ExitBreakdown[i] != w {
			t.Errorf("breakdown[%d] = %+v, want %+v", i, r.ExitBreakdown[i], w)
		}
	}
}

func TestBuildNoTrades(t *testing.T) {
	r := Build(sampleResult(), nil, nil, DefaultThresholds(), time.Now())
	if r.BestTrade != nil || r.WorstTrade != nil {
		t.Error("expected nil best/worst trades")
	}
	if len(r.ExitBreakdown) != 0 {
		t.Errorf("breakdown rows = %d, want 0", len(r.ExitBreakdown))
	}
}

func TestGenerateFromStores(t *testing.T) {
	ctx := context.Background()
	results := memory.NewResultStore()
	trades := memory.NewTradeStore()
	equity := memory.NewEquityStore()

	res := sampleResult()
	if err := results.Put(ctx, &res); err != nil {
		t.Fatal(err)
	}
	if err := trades.Append(ctx, sampleTrade("t1", "50", domain.ExitTakeProfit)); err != nil {
		t.Fatal(err)
	}
	if err := equity.Append(ctx, &domain.EquityPoint{
		SessionID: "run-1",
		Timestamp: 1700000060000,
		Equity:    dec("10050"),
		Cash:      dec("10050"),
	}); err != nil {
		t.Fatal(err)
	}

	fixed := time.Unix(1700010000, 0).UTC()
	gen := NewGenerator(results, trades, equity).WithClock(func() time.Time { return fixed })

	r, err := gen.Generate(ctx, "run-1")
	if err != nil {
		t.Fatal(err)
	}
	if !r.GeneratedAt.Equal(fixed) {
		t.Errorf("generated at = %v, want %v", r.GeneratedAt, fixed)
	}
	if r.Result.RunID != "run-1" {
		t.Errorf("run id = %s", r.Result.RunID)
	}
	if len(r.Trades) != 1 || len(r.EquityCurve) != 1 {
		t.Errorf("trades=%d equity=%d, want 1 each", len(r.Trades), len(r.EquityCurve))
	}
	if r.Verdict == nil {
		t.Fatal("verdict missing")
	}

	if _, err := gen.Generate(ctx, "missing"); !errors.Is(err, storage.ErrNotFound) {
		t.Errorf("unknown run: err = %v, want ErrNotFound", err)
	}
}

func TestRenderMarkdown(t *testing.T) {
	trades := []*domain.ClosedTrade{sampleTrade("t1", "50", domain.ExitTakeProfit)}
	r := Build(sampleResult(), trades, nil, DefaultThresholds(), time.Unix(1700010000, 0).UTC())

	md := RenderMarkdown(r)

	for _, want := range []string{
		"# Backtest Report: run-1",
		"## Run Summary",
		"## Performance",
		"| Total Return | 10.00% |",
		"## Exit Breakdown",
		"## Verdict: GO",
		"All criteria passed.",
		"## Trade Log",
		"take_profit",
	} {
		if !strings.Contains(md, want) {
			t.Errorf("markdown missing %q", want)
		}
	}
}

func TestRenderMarkdownNOGOListsFailures(t *testing.T) {
	res := sampleResult()
	res.TotalTrades = 3
	r := Build(res, nil, nil, DefaultThresholds(), time.Now())

	md := RenderMarkdown(r)
	if !strings.Contains(md, "## Verdict: NO-GO") {
		t.Error("markdown missing NO-GO verdict")
	}
	if !strings.Contains(md, "Trade count (actual: 3") {
		t.Error("markdown missing failed criterion detail")
	}
}

func TestRenderTradesCSV(t *testing.T) {
	trades := []*domain.ClosedTrade{
		sampleTrade("t1", "50", domain.ExitTakeProfit),
		sampleTrade("t2", "-20", domain.ExitStopLoss),
	}

	out := RenderTradesCSV(trades)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3 (header + 2 rows)", len(lines))
	}
	if !strings.HasPrefix(lines[0], "trade_id,session_id,symbol,side,") {
		t.Errorf("unexpected header: %s", lines[0])
	}
	if !strings.Contains(lines[1], "t1,run-1,BTCUSDT,long,") {
		t.Errorf("unexpected row: %s", lines[1])
	}
}

func TestRenderEquityCSV(t *testing.T) {
	points := []*domain.EquityPoint{
		{SessionID: "run-1", Timestamp: 1, Equity: dec("10000"), Cash: dec("10000"), UnrealizedPnl: dec("0")},
	}

	out := RenderEquityCSV(points)
	lines := strings.Split(strings.TrimRight(out, "\n"), "\n")
	if len(lines) != 2 {
		t.Fatalf("lines = %d, want 2", len(lines))
	}
	if lines[1] != "run-1,1,10000,10000,0,0" {
		t.Errorf("unexpected row: %s", lines[1])
	}
}
