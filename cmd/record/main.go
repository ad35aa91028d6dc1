// Package main records live market events to the ClickHouse archive.
// One subscription per (symbol, kind) stream; events are batched and
// flushed on a size or time trigger so replays later see the exact
// recorded order.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/feed"
	"trading-lab/internal/observability"
	chstore "trading-lab/internal/storage/clickhouse"
	"trading-lab/internal/storage/migrations"
	"trading-lab/internal/stream"
)

const (
	defaultKinds    = "trade,aggregated_trade"
	subscribeBuffer = 4096
)

func main() {
	_ = godotenv.Load()

	symbols := flag.String("symbols", "", "Comma-separated symbols to record, e.g. BTCUSDT,ETHUSDT (required)")
	kinds := flag.String("kinds", defaultKinds, "Comma-separated event kinds (trade, aggregated_trade, funding_rate, liquidation, bar_close)")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string (required)")
	spotEndpoint := flag.String("spot-endpoint", os.Getenv("BINANCE_SPOT_ENDPOINT"), "Binance spot stream endpoint override")
	futuresEndpoint := flag.String("futures-endpoint", os.Getenv("BINANCE_FUTURES_ENDPOINT"), "Binance futures stream endpoint override")
	batchSize := flag.Int("batch-size", 500, "Events per archive batch")
	flushInterval := flag.Duration("flush-interval", 2*time.Second, "Max time between archive flushes")
	metricsAddr := flag.String("metrics-addr", ":9090", "Prometheus metrics HTTP address (empty to disable)")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level")

	flag.Parse()

	logger := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	keys, err := parseKeys(*symbols, *kinds)
	if err != nil {
		logger.Fatalf("Invalid stream selection: %v", err)
	}
	if *clickhouseDSN == "" {
		logger.Fatal("--clickhouse-dsn is required")
	}

	if *metricsAddr != "" {
		go func() {
			mux := http.NewServeMux()
			mux.Handle("/metrics", observability.Handler())
			mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(http.StatusOK)
				w.Write([]byte("ok"))
			})
			logger.Infof("Starting metrics server on %s", *metricsAddr)
			if err := http.ListenAndServe(*metricsAddr, mux); err != nil && err != http.ErrServerClosed {
				logger.Errorf("Metrics server error: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	conn, err := migrations.RunClickhouseMigrations(ctx, *clickhouseDSN)
	if err != nil {
		logger.Fatalf("ClickHouse migrations failed: %v", err)
	}
	defer conn.Close()
	archive := chstore.NewEventArchive(conn)

	hub := stream.NewHub(stream.Options{
		Factory: feed.BinanceFactory(feed.BinanceConfig{
			SpotEndpoint:    *spotEndpoint,
			FuturesEndpoint: *futuresEndpoint,
			Logger:          logger,
		}),
		Logger: logger,
	})

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %v, flushing and shutting down...", sig)
		cancel()
		select {
		case sig := <-sigCh:
			logger.Warnf("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	rec := &recorder{
		archive:  archive,
		batchCap: *batchSize,
		interval: *flushInterval,
		logger:   logger,
	}
	err = rec.run(ctx, hub, keys)

	hub.Close()
	close(done)

	if err != nil && err != context.Canceled {
		logger.Fatalf("Recorder error: %v", err)
	}
	logger.Infof("Recorded %d events (%d batches), shutdown complete", rec.recorded, rec.batches)
}

// recorder drains hub subscriptions into the event archive in batches.
type recorder struct {
	archive  *chstore.EventArchive
	batchCap int
	interval time.Duration
	logger   *logrus.Logger

	recorded uint64
	batches  uint64
}

func (r *recorder) run(ctx context.Context, hub *stream.Hub, keys []domain.StreamKey) error {
	merged := make(chan domain.MarketEvent, subscribeBuffer)
	var wg sync.WaitGroup

	for _, key := range keys {
		sub, err := hub.Subscribe(ctx, key, subscribeBuffer)
		if err != nil {
			return err
		}
		r.logger.Infof("Recording %s", key)
		wg.Add(1)
		go func(sub stream.Subscription) {
			defer wg.Done()
			for ev := range sub.Events {
				select {
				case merged <- ev:
				case <-ctx.Done():
					return
				}
			}
		}(sub)
	}

	// Close the merged channel once every subscription drains, so the
	// flush loop below can finish its final batch.
	go func() {
		<-ctx.Done()
		wg.Wait()
		close(merged)
	}()

	batch := make([]*domain.MarketEvent, 0, r.batchCap)
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	flush := func() error {
		if len(batch) == 0 {
			return nil
		}
		// Archive writes use a background context so a final flush
		// survives ctx cancellation.
		if err := r.archive.Append(context.Background(), batch); err != nil {
			return err
		}
		r.recorded += uint64(len(batch))
		r.batches++
		r.logger.WithFields(logrus.Fields{
			"events": len(batch),
			"total":  r.recorded,
		}).Debug("flushed event batch")
		batch = batch[:0]
		return nil
	}

	for {
		select {
		case ev, ok := <-merged:
			if !ok {
				return flush()
			}
			clone := ev
			batch = append(batch, &clone)
			if len(batch) >= r.batchCap {
				if err := flush(); err != nil {
					return err
				}
			}
		case <-ticker.C:
			if err := flush(); err != nil {
				return err
			}
		}
	}
}

// parseKeys expands symbol and kind lists into the cross product of
// stream keys, validating each kind.
func parseKeys(symbols, kinds string) ([]domain.StreamKey, error) {
	symList := splitList(symbols)
	if len(symList) == 0 {
		return nil, fmt.Errorf("at least one symbol is required")
	}
	kindList := splitList(kinds)
	if len(kindList) == 0 {
		kindList = splitList(defaultKinds)
	}

	keys := make([]domain.StreamKey, 0, len(symList)*len(kindList))
	for _, sym := range symList {
		for _, k := range kindList {
			kind := domain.EventKind(strings.ToLower(k))
			if !domain.ValidKind(kind) {
				return nil, fmt.Errorf("unknown event kind %q", k)
			}
			keys = append(keys, domain.StreamKey{Symbol: strings.ToUpper(sym), Kind: kind})
		}
	}
	return keys, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
