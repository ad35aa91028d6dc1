package reporting

import (
	"fmt"
	"math"

	"trading-lab/internal/domain"
)

// Verdict is the threshold evaluation outcome for a backtest run.
type Verdict string

const (
	VerdictGO   Verdict = "GO"
	VerdictNOGO Verdict = "NO-GO"
)

// CriterionResult is pass/fail for one threshold criterion.
type CriterionResult struct {
	Name      string
	Threshold string
	Actual    string
	Pass      bool
}

// VerdictResult is the full evaluation: GO only if every criterion passes.
type VerdictResult struct {
	Verdict  Verdict
	Criteria []CriterionResult
}

// Thresholds are the minimum acceptable metrics for a GO verdict.
// Zero-value fields fall back to the defaults below.
type Thresholds struct {
	MinTrades       int
	MinWinRate      float64 // fraction, 0.40 = 40%
	MinProfitFactor float64
	MinSharpe       float64
	MaxDrawdownPct  float64
}

// Default thresholds. Deliberately lenient: the verdict is a screen, not
// a trading decision.
const (
	DefaultMinTrades       = 10
	DefaultMinWinRate      = 0.40
	DefaultMinProfitFactor = 1.2
	DefaultMinSharpe       = 0.5
	DefaultMaxDrawdownPct  = 25.0
)

// DefaultThresholds returns the default screen thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		MinTrades:       DefaultMinTrades,
		MinWinRate:      DefaultMinWinRate,
		MinProfitFactor: DefaultMinProfitFactor,
		MinSharpe:       DefaultMinSharpe,
		MaxDrawdownPct:  DefaultMaxDrawdownPct,
	}
}

func (t Thresholds) withDefaults() Thresholds {
	if t.MinTrades == 0 {
		t.MinTrades = DefaultMinTrades
	}
	if t.MinWinRate == 0 {
		t.MinWinRate = DefaultMinWinRate
	}
	if t.MinProfitFactor == 0 {
		t.MinProfitFactor = DefaultMinProfitFactor
	}
	if t.MinSharpe == 0 {
		t.MinSharpe = DefaultMinSharpe
	}
	if t.MaxDrawdownPct == 0 {
		t.MaxDrawdownPct = DefaultMaxDrawdownPct
	}
	return t
}

// Evaluate checks a result against thresholds. GO requires ALL criteria
// to pass; any single failure yields NO-GO.
func Evaluate(r domain.BacktestResult, t Thresholds) *VerdictResult {
	t = t.withDefaults()

	criteria := []CriterionResult{
		{
			Name:      "Trade count",
			Threshold: fmt.Sprintf(">= %d", t.MinTrades),
			Actual:    fmt.Sprintf("%d", r.TotalTrades),
			Pass:      r.TotalTrades >= t.MinTrades,
		},
		{
			Name:      "Total return",
			Threshold: "> 0%",
			Actual:    fmt.Sprintf("%s%%", r.TotalReturnPct.StringFixed(2)),
			Pass:      r.TotalReturnPct.IsPositive(),
		},
		{
			Name:      "Win rate",
			Threshold: fmt.Sprintf(">= %.0f%%", t.MinWinRate*100),
			Actual:    fmt.Sprintf("%.1f%%", r.WinRate*100),
			Pass:      r.WinRate >= t.MinWinRate,
		},
		{
			Name:      "Profit factor",
			Threshold: fmt.Sprintf(">= %.2f", t.MinProfitFactor),
			Actual:    formatRatio(r.ProfitFactor),
			Pass:      r.ProfitFactor >= t.MinProfitFactor,
		},
		{
			Name:      "Sharpe ratio",
			Threshold: fmt.Sprintf(">= %.2f", t.MinSharpe),
			Actual:    formatRatio(r.SharpeRatio),
			Pass:      r.SharpeRatio >= t.MinSharpe,
		},
		{
			Name:      "Max drawdown",
			Threshold: fmt.Sprintf("<= %.0f%%", t.MaxDrawdownPct),
			Actual:    fmt.Sprintf("%.1f%%", r.MaxDrawdownPct),
			Pass:      r.MaxDrawdownPct <= t.MaxDrawdownPct,
		},
	}

	verdict := VerdictGO
	for _, c := range criteria {
		if !c.Pass {
			verdict = VerdictNOGO
			break
		}
	}

	return &VerdictResult{Verdict: verdict, Criteria: criteria}
}

// formatRatio handles the +Inf profit factor of loss-free runs.
func formatRatio(v float64) string {
	if math.IsInf(v, 1) {
		return "inf"
	}
	if math.IsNaN(v) {
		return "n/a"
	}
	return fmt.Sprintf("%.2f", v)
}
