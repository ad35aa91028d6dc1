package replay

import (
	"context"
	"fmt"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"trading-lab/internal/domain"
	"trading-lab/internal/strategy"
)

// Divergence is one field mismatch between the baseline run and a later
// run of the same input.
type Divergence struct {
	Run      int    // 1-based index of the diverging run
	Trade    int    // trade index, -1 for run-level fields
	Field    string // field name
	Expected string // baseline value
	Actual   string // diverging value
}

func (d Divergence) String() string {
	if d.Trade < 0 {
		return fmt.Sprintf("run %d: %s: want %s, got %s", d.Run, d.Field, d.Expected, d.Actual)
	}
	return fmt.Sprintf("run %d trade %d: %s: want %s, got %s", d.Run, d.Trade, d.Field, d.Expected, d.Actual)
}

// Report is the outcome of a determinism verification.
type Report struct {
	Runs        int
	Match       bool
	Baseline    *Outcome
	Divergences []Divergence
}

// Verifier re-runs one input repeatedly and diffs the outcomes.
type Verifier struct {
	runs int
	log  *logrus.Entry
}

// NewVerifier creates a verifier performing runs total executions
// (minimum 2).
func NewVerifier(runs int, logger *logrus.Logger) *Verifier {
	if runs < 2 {
		runs = 2
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Verifier{runs: runs, log: logger.WithField("component", "replay_verifier")}
}

// Verify runs the config over the events v.runs times and compares every
// run against the first. newProvider must return a fresh provider in its
// initial state for each run; sharing one instance would leak scripted
// state between runs and void the comparison.
//
// The comparison runs share nothing, so they execute concurrently; the
// diff happens sequentially afterwards to keep divergence order stable.
func (v *Verifier) Verify(ctx context.Context, cfg domain.SessionConfig, events []domain.MarketEvent, newProvider func() strategy.Provider) (*Report, error) {
	const sessionID = "replay-verify"

	baseline, err := Rerun(ctx, sessionID, cfg, events, newProvider())
	if err != nil {
		return nil, fmt.Errorf("baseline run: %w", err)
	}

	outcomes := make([]*Outcome, v.runs)
	outcomes[0] = baseline
	g, gctx := errgroup.WithContext(ctx)
	for run := 1; run < v.runs; run++ {
		g.Go(func() error {
			outcome, err := Rerun(gctx, sessionID, cfg, events, newProvider())
			if err != nil {
				return fmt.Errorf("run %d: %w", run+1, err)
			}
			outcomes[run] = outcome
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	report := &Report{Runs: v.runs, Match: true, Baseline: baseline}
	for run := 1; run < v.runs; run++ {
		report.Divergences = append(report.Divergences, diffOutcomes(run+1, baseline, outcomes[run])...)
	}
	report.Match = len(report.Divergences) == 0

	v.log.WithFields(logrus.Fields{
		"runs":        report.Runs,
		"trades":      len(baseline.Trades),
		"match":       report.Match,
		"divergences": len(report.Divergences),
	}).Info("determinism verification finished")
	return report, nil
}

// diffOutcomes compares one run against the baseline field by field.
// Decimal fields compare by value, ids byte for byte.
func diffOutcomes(run int, want, got *Outcome) []Divergence {
	var out []Divergence
	runLevel := func(field, expected, actual string) {
		out = append(out, Divergence{Run: run, Trade: -1, Field: field, Expected: expected, Actual: actual})
	}

	if !want.FinalCapital.Equal(got.FinalCapital) {
		runLevel("final_capital", want.FinalCapital.String(), got.FinalCapital.String())
	}
	if len(want.Trades) != len(got.Trades) {
		runLevel("trade_count", fmt.Sprint(len(want.Trades)), fmt.Sprint(len(got.Trades)))
		return out
	}

	for i := range want.Trades {
		w, g := want.Trades[i], got.Trades[i]
		tradeLevel := func(field, expected, actual string) {
			out = append(out, Divergence{Run: run, Trade: i, Field: field, Expected: expected, Actual: actual})
		}
		if w.TradeID != g.TradeID {
			tradeLevel("trade_id", w.TradeID, g.TradeID)
		}
		if w.Side != g.Side {
			tradeLevel("side", string(w.Side), string(g.Side))
		}
		if w.ExitReason != g.ExitReason {
			tradeLevel("exit_reason", string(w.ExitReason), string(g.ExitReason))
		}
		if !w.EntryPrice.Equal(g.EntryPrice) {
			tradeLevel("entry_price", w.EntryPrice.String(), g.EntryPrice.String())
		}
		if !w.ExitPrice.Equal(g.ExitPrice) {
			tradeLevel("exit_price", w.ExitPrice.String(), g.ExitPrice.String())
		}
		if !w.Quantity.Equal(g.Quantity) {
			tradeLevel("quantity", w.Quantity.String(), g.Quantity.String())
		}
		if !w.RealizedPnl.Equal(g.RealizedPnl) {
			tradeLevel("realized_pnl", w.RealizedPnl.String(), g.RealizedPnl.String())
		}
		if !w.FeesPaid.Equal(g.FeesPaid) {
			tradeLevel("fees_paid", w.FeesPaid.String(), g.FeesPaid.String())
		}
		if w.EntryTime != g.EntryTime {
			tradeLevel("entry_time", fmt.Sprint(w.EntryTime), fmt.Sprint(g.EntryTime))
		}
		if w.ExitTime != g.ExitTime {
			tradeLevel("exit_time", fmt.Sprint(w.ExitTime), fmt.Sprint(g.ExitTime))
		}
	}
	return out
}
