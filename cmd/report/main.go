// Package main regenerates backtest reports from stored runs. Results
// and trade logs come from PostgreSQL, equity curves from ClickHouse;
// each run renders to a markdown report plus CSV exports.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/reporting"
	"trading-lab/internal/storage"
	chstore "trading-lab/internal/storage/clickhouse"
	pgstore "trading-lab/internal/storage/postgres"
)

func main() {
	_ = godotenv.Load()

	runID := flag.String("run-id", "", "Report a single run (default: all stored runs)")
	outputDir := flag.String("output-dir", "output", "Directory for report files")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string (required)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (required)")
	minTrades := flag.Int("min-trades", reporting.DefaultMinTrades, "Verdict: minimum trade count")
	minWinRate := flag.Float64("min-win-rate", reporting.DefaultMinWinRate, "Verdict: minimum win rate")
	minProfitFactor := flag.Float64("min-profit-factor", reporting.DefaultMinProfitFactor, "Verdict: minimum profit factor")
	minSharpe := flag.Float64("min-sharpe", reporting.DefaultMinSharpe, "Verdict: minimum Sharpe ratio")
	maxDrawdown := flag.Float64("max-drawdown-pct", reporting.DefaultMaxDrawdownPct, "Verdict: maximum drawdown percent")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level")

	flag.Parse()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	if *postgresDSN == "" || *clickhouseDSN == "" {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required")
	}

	ctx := context.Background()

	pool, err := pgstore.NewPool(ctx, *postgresDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to PostgreSQL: %v", err)
	}
	defer pool.Close()

	conn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer conn.Close()

	results := pgstore.NewResultStore(pool)
	gen := reporting.NewGenerator(results, pgstore.NewTradeStore(pool), chstore.NewEquityStore(conn)).
		WithThresholds(reporting.Thresholds{
			MinTrades:       *minTrades,
			MinWinRate:      *minWinRate,
			MinProfitFactor: *minProfitFactor,
			MinSharpe:       *minSharpe,
			MaxDrawdownPct:  *maxDrawdown,
		})

	runIDs, err := resolveRuns(ctx, results, *runID)
	if err != nil {
		logger.Fatalf("Failed to list runs: %v", err)
	}
	if len(runIDs) == 0 {
		logger.Fatal("No stored backtest runs to report")
	}

	if err := os.MkdirAll(*outputDir, 0o755); err != nil {
		logger.Fatalf("Failed to create output directory: %v", err)
	}

	failed := 0
	for _, id := range runIDs {
		report, err := gen.Generate(ctx, id)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				logger.Errorf("Run %s not found", id)
			} else {
				logger.Errorf("Run %s: %v", id, err)
			}
			failed++
			continue
		}
		if err := writeRun(*outputDir, id, report); err != nil {
			logger.Errorf("Run %s: %v", id, err)
			failed++
			continue
		}
		logger.WithFields(logrus.Fields{
			"run_id":  id,
			"trades":  report.Result.TotalTrades,
			"verdict": report.Verdict.Verdict,
		}).Info("report written")
	}

	logger.Infof("Reported %d/%d runs to %s/", len(runIDs)-failed, len(runIDs), *outputDir)
	if failed > 0 {
		os.Exit(1)
	}
}

func resolveRuns(ctx context.Context, results storage.ResultStore, runID string) ([]string, error) {
	if runID != "" {
		return []string{runID}, nil
	}
	all, err := results.List(ctx)
	if err != nil {
		return nil, err
	}
	ids := make([]string, len(all))
	for i, r := range all {
		ids[i] = r.RunID
	}
	return ids, nil
}

func writeRun(dir, runID string, report *reporting.Report) error {
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

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
