// Package backtest runs a session config over a bounded historical bar
// sequence. It shares the account math and strategy boundary with the live
// engine, so a backtest is the same simulation driven by bar_close events
// instead of a live feed.
package backtest

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/session"
	"trading-lab/internal/strategy"
)

// Result is the full outcome of one run: the aggregate metrics plus the
// per-trade log and equity curve behind them.
type Result struct {
	domain.BacktestResult

	Trades      []domain.ClosedTrade
	EquityCurve []domain.EquityPoint
}

// Options configures an Engine.
type Options struct {
	// RunID overrides the generated run id. Fixing it makes trade ids
	// reproducible across runs of the same input.
	RunID string
	// Requirements overrides the data sufficiency thresholds.
	Requirements Requirements
	// Logger defaults to logrus.StandardLogger().
	Logger *logrus.Logger
	// Now stamps the result, defaults to time.Now.
	Now func() time.Time
}

// Engine executes backtests.
type Engine struct {
	opts Options
	log  *logrus.Entry
	now  func() time.Time
}

// NewEngine creates a backtest engine.
func NewEngine(opts Options) *Engine {
	logger := opts.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	now := opts.Now
	if now == nil {
		now = time.Now
	}
	return &Engine{
		opts: opts,
		log:  logger.WithField("component", "backtest"),
		now:  now,
	}
}

// Run replays bars through a fresh account for the config and returns the
// result. Bars must pass the sufficiency checks; any position still open
// after the final bar is closed there with exit reason end_of_data.
//
// Runs are deterministic: identical bars, config, and provider state yield
// an identical trade log and final capital.
func (e *Engine) Run(ctx context.Context, cfg domain.SessionConfig, bars []domain.Bar, provider strategy.Provider) (*Result, error) {
	if provider == nil {
		provider = strategy.Neutral{}
	}
	if err := CheckSufficiency(bars, e.opts.Requirements); err != nil {
		return nil, err
	}

	runID := e.opts.RunID
	if runID == "" {
		runID = uuid.NewString()
	}
	acct, err := session.NewAccount(runID, cfg)
	if err != nil {
		return nil, err
	}

	e.log.WithFields(logrus.Fields{
		"run_id":   runID,
		"symbol":   cfg.Symbol,
		"bars":     len(bars),
		"strategy": provider.ID(),
	}).Info("backtest started")

	equity := make([]domain.EquityPoint, 0, len(bars))
	var trades []domain.ClosedTrade
	for i := range bars {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("backtest cancelled: %w", err)
		}
		ev := bars[i].CloseEvent()
		if ev.Symbol == "" {
			ev.Symbol = cfg.Symbol
		}
		if !ev.Price.IsPositive() {
			e.log.WithField("open_time", bars[i].OpenTime).Warn("skipping bar with non-positive close")
			continue
		}
		sig := provider.Evaluate(ctx, ev)
		change, err := acct.ApplyEvent(ev, sig)
		if err != nil {
			return nil, fmt.Errorf("bar %d: %w", i, err)
		}
		trades = append(trades, change.Closed...)
		// Bar cadence doubles as the equity sampling cadence.
		equity = append(equity, acct.EquityPoint(bars[i].CloseTime))
	}

	last := bars[len(bars)-1]
	closed, err := acct.CloseAll(last.CloseTime, domain.ExitEndOfData)
	if err != nil {
		return nil, fmt.Errorf("close at end of data: %w", err)
	}
	if len(closed) > 0 {
		trades = append(trades, closed...)
		equity = append(equity, acct.EquityPoint(last.CloseTime))
	}

	res := &Result{
		BacktestResult: domain.BacktestResult{
			RunID:          runID,
			Name:           cfg.Name,
			Symbol:         cfg.Symbol,
			StrategyRef:    provider.ID(),
			CreatedAt:      e.now().UnixMilli(),
			FirstBarTime:   bars[0].OpenTime,
			LastBarTime:    last.CloseTime,
			BarCount:       len(bars),
			InitialCapital: cfg.InitialCapital,
			FinalEquity:    acct.Equity(),
		},
		Trades:      trades,
		EquityCurve: equity,
	}
	computeMetrics(&res.BacktestResult, trades, equity, barInterval(bars))

	e.log.WithFields(logrus.Fields{
		"run_id":       runID,
		"trades":       res.TotalTrades,
		"final_equity": res.FinalEquity.String(),
	}).Info("backtest finished")
	return res, nil
}

// barInterval infers the bar width from the first two bars, Unix ms.
func barInterval(bars []domain.Bar) int64 {
	if len(bars) < 2 {
		return time.Minute.Milliseconds()
	}
	d := bars[1].OpenTime - bars[0].OpenTime
	if d <= 0 {
		return time.Minute.Milliseconds()
	}
	return d
}
