package reporting

import (
	"context"
	"time"

	"trading-lab/internal/storage"
)

// Generator produces reports from stored backtest data.
type Generator struct {
	results    storage.ResultStore
	trades     storage.TradeStore
	equity     storage.EquityStore
	thresholds Thresholds
	now        func() time.Time // Injectable clock for deterministic output
}

// NewGenerator creates a report generator over the given stores.
func NewGenerator(results storage.ResultStore, trades storage.TradeStore, equity storage.EquityStore) *Generator {
	return &Generator{
		results:    results,
		trades:     trades,
		equity:     equity,
		thresholds: DefaultThresholds(),
		now:        func() time.Time { return time.Now().UTC() },
	}
}

// WithClock sets a custom clock function for deterministic output.
func (g *Generator) WithClock(now func() time.Time) *Generator {
	g.now = now
	return g
}

// WithThresholds overrides the default verdict thresholds.
func (g *Generator) WithThresholds(t Thresholds) *Generator {
	g.thresholds = t
	return g
}

// Generate produces a report for one run. The trade log and equity curve
// are stored keyed by run id, so the run id doubles as the session id in
// those stores. Returns storage.ErrNotFound if the run does not exist.
func (g *Generator) Generate(ctx context.Context, runID string) (*Report, error) {
	result, err := g.results.Get(ctx, runID)
	if err != nil {
		return nil, err
	}

	trades, err := g.trades.ListBySession(ctx, runID)
	if err != nil {
		return nil, err
	}

	equity, err := g.equity.Range(ctx, runID, 0, 0)
	if err != nil {
		return nil, err
	}

	return Build(*result, trades, equity, g.thresholds, g.now()), nil
}
