// Package main verifies simulation determinism: it loads a recorded
// event range from the ClickHouse archive, re-runs a session config over
// it several times, and diffs every run against the first.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/replay"
	chstore "trading-lab/internal/storage/clickhouse"
	"trading-lab/internal/strategy"
)

func main() {
	_ = godotenv.Load()

	symbol := flag.String("symbol", "", "Instrument symbol (required)")
	kind := flag.String("kind", string(domain.KindTrade), "Recorded event kind to replay")
	fromTime := flag.String("from-time", "", "Range start (RFC3339), default 24h ago")
	toTime := flag.String("to-time", "", "Range end (RFC3339), default now")
	runs := flag.Int("runs", 3, "Total runs to compare (minimum 2)")
	strategyRef := flag.String("strategy", "neutral", "Strategy ref (neutral | scripted:...)")
	capital := flag.String("capital", "10000", "Initial capital")
	stopLoss := flag.String("stop-loss-pct", "0", "Stop-loss percent, 0 disables")
	takeProfit := flag.String("take-profit-pct", "0", "Take-profit percent, 0 disables")
	maxHold := flag.Duration("max-hold", 0, "Max position hold time, 0 unlimited")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (required)")
	outputJSON := flag.Bool("json", false, "Print the report as JSON")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level")

	flag.Parse()

	logger := logrus.New()
	logger.SetOutput(os.Stderr)
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	if *symbol == "" {
		logger.Fatal("--symbol is required")
	}
	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
	}
	eventKind := domain.EventKind(*kind)
	if !domain.ValidKind(eventKind) {
		logger.Fatalf("Unknown event kind %q", *kind)
	}

	from, to, err := parseRange(*fromTime, *toTime)
	if err != nil {
		logger.Fatalf("Invalid time range: %v", err)
	}

	// Parse once up front to reject bad refs before touching the
	// database; the verifier gets a fresh provider per run.
	if _, err := strategy.ParseRef(*strategyRef); err != nil {
		logger.Fatalf("Invalid strategy ref: %v", err)
	}
	ref := *strategyRef
	newProvider := func() strategy.Provider {
		p, _ := strategy.ParseRef(ref)
		return p
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %v, shutting down...", sig)
		cancel()
	}()

	conn, err := chstore.NewConn(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("Failed to connect to ClickHouse: %v", err)
	}
	defer conn.Close()
	archive := chstore.NewEventArchive(conn)

	events, err := replay.LoadEvents(ctx, archive, *symbol, eventKind, from, to)
	if err != nil {
		if errors.Is(err, replay.ErrNoEvents) {
			logger.Fatalf("No recorded %s events for %s in range", eventKind, *symbol)
		}
		logger.Fatalf("Failed to load events: %v", err)
	}
	logger.Infof("Loaded %d recorded events", len(events))

	cfg := domain.SessionConfig{
		Name:           "replay-verify",
		Symbol:         *symbol,
		StrategyRef:    ref,
		InitialCapital: mustDec(logger, "capital", *capital),
		Risk: domain.RiskConfig{
			StopLossPct:   mustDec(logger, "stop-loss-pct", *stopLoss),
			TakeProfitPct: mustDec(logger, "take-profit-pct", *takeProfit),
			MaxHoldTimeMs: maxHold.Milliseconds(),
		},
	}

	report, err := replay.NewVerifier(*runs, logger).Verify(ctx, cfg, events, newProvider)
	if err != nil {
		logger.Fatalf("Verification failed: %v", err)
	}

	if *outputJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(report); err != nil {
			logger.Fatalf("Failed to encode report: %v", err)
		}
	} else {
		printReport(report)
	}

	if !report.Match {
		os.Exit(1)
	}
}

func printReport(r *replay.Report) {
	fmt.Printf("Runs:          %d\n", r.Runs)
	fmt.Printf("Events:        %d\n", r.Baseline.Events)
	fmt.Printf("Trades:        %d\n", len(r.Baseline.Trades))
	fmt.Printf("Final capital: %s\n", r.Baseline.FinalCapital.String())
	if r.Match {
		fmt.Println("Result:        DETERMINISTIC")
		return
	}
	fmt.Printf("Result:        DIVERGED (%d differences)\n", len(r.Divergences))
	for _, d := range r.Divergences {
		fmt.Printf("  %s\n", d)
	}
}

// parseRange resolves the RFC3339 flags into Unix ms, defaulting to the
// trailing 24 hours.
func parseRange(fromStr, toStr string) (int64, int64, error) {
	now := time.Now()
	from := now.Add(-24 * time.Hour).UnixMilli()
	to := now.UnixMilli()

	if fromStr != "" {
		t, err := time.Parse(time.RFC3339, fromStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse from-time: %w", err)
		}
		from = t.UnixMilli()
	}
	if toStr != "" {
		t, err := time.Parse(time.RFC3339, toStr)
		if err != nil {
			return 0, 0, fmt.Errorf("parse to-time: %w", err)
		}
		to = t.UnixMilli()
	}
	if to < from {
		return 0, 0, fmt.Errorf("to-time precedes from-time")
	}
	return from, to, nil
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
