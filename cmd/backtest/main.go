// Package main runs one backtest: historical bars from a CSV file driven
// through the session account, rendered as a markdown report with a
// threshold verdict. Results can optionally be persisted for cmd/report.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/backtest"
	"trading-lab/internal/domain"
	"trading-lab/internal/reporting"
	chstore "trading-lab/internal/storage/clickhouse"
	"trading-lab/internal/storage/migrations"
	pgstore "trading-lab/internal/storage/postgres"
	"trading-lab/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	barsFile := flag.String("bars", "", "Path to OHLCV CSV file (required)")
	symbol := flag.String("symbol", "", "Instrument symbol, e.g. BTCUSDT (required)")
	name := flag.String("name", "", "Run display name")
	strategyRef := flag.String("strategy", "neutral", "Strategy ref (neutral | scripted:...)")
	capital := flag.String("capital", "10000", "Initial capital")
	stopLoss := flag.String("stop-loss-pct", "0", "Stop-loss percent, 0 disables")
	takeProfit := flag.String("take-profit-pct", "0", "Take-profit percent, 0 disables")
	maxPosition := flag.String("max-position-pct", "100", "Max percent of capital per position")
	maxHold := flag.Duration("max-hold", 0, "Max position hold time, 0 unlimited")
	minBars := flag.Int("min-bars", backtest.DefaultMinBars, "Minimum bar count required")
	runID := flag.String("run-id", "", "Fixed run id for reproducible trade ids")
	outputDir := flag.String("output-dir", "output", "Directory for report files")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "Persist the result to PostgreSQL (optional)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "Persist the equity curve to ClickHouse (optional)")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level")

	flag.Parse()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	if *barsFile == "" || *symbol == "" {
		logger.Fatal("--bars and --symbol are required")
	}

	provider, err := strategy.ParseRef(*strategyRef)
	if err != nil {
		logger.Fatalf("Invalid strategy ref: %v", err)
	}

	bars, err := backtest.LoadBarsFile(*barsFile, *symbol)
	if err != nil {
		logger.Fatalf("Failed to load bars: %v", err)
	}
	logger.Infof("Loaded %d bars from %s", len(bars), *barsFile)

	cfg := domain.SessionConfig{
		Name:           *name,
		Symbol:         *symbol,
		StrategyRef:    *strategyRef,
		InitialCapital: mustDec(logger, "capital", *capital),
		Risk: domain.RiskConfig{
			StopLossPct:    mustDec(logger, "stop-loss-pct", *stopLoss),
			TakeProfitPct:  mustDec(logger, "take-profit-pct", *takeProfit),
			MaxPositionPct: mustDec(logger, "max-position-pct", *maxPosition),
			MaxHoldTimeMs:  maxHold.Milliseconds(),
		},
	}

	ctx := context.Background()
	engine := backtest.NewEngine(backtest.Options{
		RunID:        *runID,
		Requirements: backtest.Requirements{MinBars: *minBars},
		Logger:       logger,
	})

	start := time.Now()
	result, err := engine.Run(ctx, cfg, bars, provider)
	if err != nil {
		logger.Fatalf("Backtest failed: %v", err)
	}
	logger.Infof("Backtest %s completed in %v: %d trades, return %s%%",
		result.RunID, time.Since(start), result.TotalTrades, result.TotalReturnPct.StringFixed(2))

	report := reporting.Build(result.BacktestResult, tradePtrs(result.Trades),
		equityPtrs(result.EquityCurve), reporting.DefaultThresholds(), time.Now().UTC())

	if err := writeReport(*outputDir, result.RunID, report); err != nil {
		logger.Fatalf("Failed to write report: %v", err)
	}
	logger.Infof("Report written to %s/", *outputDir)
	logger.Infof("Verdict: %s", report.Verdict.Verdict)

	if *postgresDSN != "" {
		if err := persistResult(ctx, *postgresDSN, result); err != nil {
			logger.Fatalf("Failed to persist result: %v", err)
		}
		logger.Infof("Result %s persisted", result.RunID)
	}
	if *clickhouseDSN != "" {
		if err := persistEquity(ctx, *clickhouseDSN, result); err != nil {
			logger.Fatalf("Failed to persist equity curve: %v", err)
		}
		logger.Infof("Equity curve for %s persisted (%d points)", result.RunID, len(result.EquityCurve))
	}
}

// writeReport renders the markdown report and CSV exports to dir.
func writeReport(dir, runID string, report *reporting.Report) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create output directory: %w", err)
	}

	files := map[string]string{
		fmt.Sprintf("backtest_%s.md", runID):         reporting.RenderMarkdown(report),
		fmt.Sprintf("backtest_%s_trades.csv", runID): reporting.RenderTradesCSV(report.Trades),
		fmt.Sprintf("backtest_%s_equity.csv", runID): reporting.RenderEquityCSV(report.EquityCurve),
	}
	for name, content := range files {
		if err := os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
	}
	return nil
}

// persistResult stores the aggregate result, trade log and equity curve in
// PostgreSQL keyed by run id.
func persistResult(ctx context.Context, dsn string, result *backtest.Result) error {
	pool, err := pgstore.NewPool(ctx, dsn)
	if err != nil {
		return fmt.Errorf("connect to postgres: %w", err)
	}
	defer pool.Close()

	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		return fmt.Errorf("postgres migrations: %w", err)
	}

	if err := pgstore.NewResultStore(pool).Put(ctx, &result.BacktestResult); err != nil {
		return fmt.Errorf("store result: %w", err)
	}

	trades := pgstore.NewTradeStore(pool)
	for i := range result.Trades {
		if err := trades.Append(ctx, &result.Trades[i]); err != nil {
			return fmt.Errorf("store trade %s: %w", result.Trades[i].TradeID, err)
		}
	}

	return nil
}

// persistEquity stores the per-bar equity samples in ClickHouse keyed by
// run id, the same keying cmd/report reads them back with.
func persistEquity(ctx context.Context, dsn string, result *backtest.Result) error {
	conn, err := migrations.RunClickhouseMigrations(ctx, dsn)
	if err != nil {
		return fmt.Errorf("clickhouse migrations: %w", err)
	}
	defer conn.Close()

	equity := chstore.NewEquityStore(conn)
	for i := range result.EquityCurve {
		if err := equity.Append(ctx, &result.EquityCurve[i]); err != nil {
			return fmt.Errorf("store equity point %d: %w", i, err)
		}
	}
	return nil
}

func tradePtrs(trades []domain.ClosedTrade) []*domain.ClosedTrade {
	out := make([]*domain.ClosedTrade, len(trades))
	for i := range trades {
		out[i] = &trades[i]
	}
	return out
}

func equityPtrs(points []domain.EquityPoint) []*domain.EquityPoint {
	out := make([]*domain.EquityPoint, len(points))
	for i := range points {
		out[i] = &points[i]
	}
	return out
}

func mustDec(logger *logrus.Logger, flagName, value string) decimal.Decimal {
	d, err := decimal.NewFromString(value)
	if err != nil {
		logger.Fatalf("Invalid --%s %q: %v", flagName, value, err)
	}
	return d
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
