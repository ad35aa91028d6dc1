// Package main runs the paper-trading daemon: Binance feeds fanned out
// through the stream hub into the session engine, exposed over a small
// session HTTP API plus /health, /metrics and /status.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"trading-lab/internal/domain"
	"trading-lab/internal/feed"
	"trading-lab/internal/observability"
	"trading-lab/internal/session"
	"trading-lab/internal/storage"
	chstore "trading-lab/internal/storage/clickhouse"
	"trading-lab/internal/storage/memory"
	"trading-lab/internal/storage/migrations"
	pgstore "trading-lab/internal/storage/postgres"
	"trading-lab/internal/strategy"
	"trading-lab/internal/stream"
)

// Server holds the engine and request-serving state.
type Server struct {
	engine  *session.Engine
	logger  *logrus.Logger
	started time.Time
}

type serverStores struct {
	sessions storage.SessionStore
	trades   storage.TradeStore
	equity   storage.EquityStore
}

func main() {
	// Load .env file if exists
	_ = godotenv.Load()

	// Parse flags (env vars as defaults)
	listenAddr := flag.String("listen-addr", envOr("LISTEN_ADDR", ":8080"), "HTTP listen address")
	postgresDSN := flag.String("postgres-dsn", os.Getenv("POSTGRES_DSN"), "PostgreSQL connection string")
	clickhouseDSN := flag.String("clickhouse-dsn", os.Getenv("CLICKHOUSE_DSN"), "ClickHouse connection string")
	useMemory := flag.Bool("use-memory", false, "Use in-memory storage instead of PostgreSQL/ClickHouse")
	spotEndpoint := flag.String("spot-endpoint", os.Getenv("BINANCE_SPOT_WS"), "Binance spot combined-stream endpoint override")
	futuresEndpoint := flag.String("futures-endpoint", os.Getenv("BINANCE_FUTURES_WS"), "Binance futures combined-stream endpoint override")
	logLevel := flag.String("log-level", envOr("LOG_LEVEL", "info"), "Log level (debug, info, warn, error)")

	flag.Parse()

	// Setup logger
	logger := logrus.New()
	if level, err := logrus.ParseLevel(*logLevel); err == nil {
		logger.SetLevel(level)
	}

	if !*useMemory && (*postgresDSN == "" || *clickhouseDSN == "") {
		logger.Fatal("--postgres-dsn and --clickhouse-dsn are required (use --use-memory for in-memory storage)")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stores, cleanup, err := createStores(ctx, *postgresDSN, *clickhouseDSN, *useMemory)
	if err != nil {
		logger.Fatalf("Failed to create stores: %v", err)
	}
	defer cleanup()

	hub := stream.NewHub(stream.Options{
		Factory: feed.BinanceFactory(feed.BinanceConfig{
			SpotEndpoint:    *spotEndpoint,
			FuturesEndpoint: *futuresEndpoint,
			Logger:          logger,
		}),
		Logger: logger,
	})

	engine, err := session.NewEngine(session.Options{
		Hub:      hub,
		Sessions: stores.sessions,
		Trades:   stores.trades,
		Equity:   stores.equity,
		Resolver: strategy.ParseRef,
		Logger:   logger,
	})
	if err != nil {
		logger.Fatalf("Failed to create session engine: %v", err)
	}

	server := &Server{
		engine:  engine,
		logger:  logger,
		started: time.Now(),
	}

	// Log session transitions as they happen
	go server.consumeEvents()

	httpServer := &http.Server{
		Addr:    *listenAddr,
		Handler: server.routes(),
	}

	// Handle shutdown signals
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		sig := <-sigCh
		logger.Infof("Received signal %v, initiating graceful shutdown...", sig)
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Warnf("HTTP shutdown: %v", err)
		}

		// Wait for second signal for immediate shutdown
		select {
		case sig := <-sigCh:
			logger.Infof("Received second signal %v, forcing immediate shutdown", sig)
			os.Exit(1)
		case <-time.After(30 * time.Second):
			logger.Error("Graceful shutdown timed out after 30s, forcing exit")
			os.Exit(1)
		case <-done:
		}
	}()

	logger.Infof("Listening on %s", *listenAddr)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.Fatalf("HTTP server error: %v", err)
	}

	// Stop sessions first so final snapshots persist, then the hub.
	if err := engine.Close(); err != nil {
		logger.Warnf("Engine close: %v", err)
	}
	if err := hub.Close(); err != nil {
		logger.Warnf("Hub close: %v", err)
	}
	close(done)

	logger.Info("Shutdown complete")
}

// createStores creates all required stores and runs migrations.
func createStores(ctx context.Context, postgresDSN, clickhouseDSN string, useMemory bool) (*serverStores, func(), error) {
	if useMemory {
		stores := &serverStores{
			sessions: memory.NewSessionStore(),
			trades:   memory.NewTradeStore(),
			equity:   memory.NewEquityStore(),
		}
		return stores, func() {}, nil
	}

	// PostgreSQL: sessions, closed trades
	pool, err := pgstore.NewPool(ctx, postgresDSN)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := migrations.RunPostgresMigrations(ctx, pool); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("postgres migrations: %w", err)
	}

	// ClickHouse: equity curve
	chConn, err := migrations.RunClickhouseMigrations(ctx, clickhouseDSN)
	if err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("clickhouse migrations: %w", err)
	}

	stores := &serverStores{
		sessions: pgstore.NewSessionStore(pool),
		trades:   pgstore.NewTradeStore(pool),
		equity:   chstore.NewEquityStore(chConn),
	}

	cleanup := func() {
		chConn.Close()
		pool.Close()
	}

	return stores, cleanup, nil
}

// consumeEvents drains the engine's event stream into the log.
func (s *Server) consumeEvents() {
	for ev := range s.engine.Events() {
		log := s.logger.WithFields(logrus.Fields{
			"session": ev.SessionID,
			"symbol":  ev.Symbol,
		})
		switch ev.Type {
		case domain.EventPositionOpened:
			log.Infof("position opened: %s %s @ %s",
				ev.Position.Side, ev.Position.Quantity, ev.Position.EntryPrice)
		case domain.EventPositionClosed:
			log.Infof("position closed: %s pnl=%s reason=%s",
				ev.Trade.Side, ev.Trade.RealizedPnl, ev.Trade.ExitReason)
		case domain.EventAlert:
			log.Warn(ev.Message)
		}
	}
}

func (s *Server) routes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.Handle("GET /metrics", observability.Handler())
	mux.HandleFunc("GET /status", s.handleStatus)

	mux.HandleFunc("POST /sessions", s.handleCreate)
	mux.HandleFunc("GET /sessions", s.handleList)
	mux.HandleFunc("GET /sessions/{id}", s.handleGet)
	mux.HandleFunc("POST /sessions/{id}/pause", s.command(s.engine.Pause))
	mux.HandleFunc("POST /sessions/{id}/resume", s.command(s.engine.Resume))
	mux.HandleFunc("POST /sessions/{id}/stop", s.command(s.engine.Stop))
	mux.HandleFunc("DELETE /sessions/{id}", s.handleDelete)

	return mux
}

// createSessionRequest is the POST /sessions body. Decimal fields accept
// JSON numbers or strings.
type createSessionRequest struct {
	Name           string          `json:"name"`
	Symbol         string          `json:"symbol"`
	StrategyRef    string          `json:"strategy_ref"`
	Mode           string          `json:"mode"`
	InitialCapital decimal.Decimal `json:"initial_capital"`

	StopLossPct      decimal.Decimal `json:"stop_loss_pct"`
	TakeProfitPct    decimal.Decimal `json:"take_profit_pct"`
	MaxPositionPct   decimal.Decimal `json:"max_position_pct"`
	MaxOpenPositions int             `json:"max_open_positions"`
	MaxHoldTimeMs    int64           `json:"max_hold_time_ms"`

	EntryFeeRate   decimal.Decimal `json:"entry_fee_rate"`
	ExitFeeRate    decimal.Decimal `json:"exit_fee_rate"`
	PriceIncrement decimal.Decimal `json:"price_increment"`

	EquityIntervalMs int64 `json:"equity_interval_ms"`
	MarkOnFunding    bool  `json:"mark_on_funding"`
}

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	cfg := domain.SessionConfig{
		Name:           req.Name,
		Symbol:         req.Symbol,
		StrategyRef:    req.StrategyRef,
		Mode:           domain.SessionMode(req.Mode),
		InitialCapital: req.InitialCapital,
		Risk: domain.RiskConfig{
			StopLossPct:      req.StopLossPct,
			TakeProfitPct:    req.TakeProfitPct,
			MaxPositionPct:   req.MaxPositionPct,
			MaxOpenPositions: req.MaxOpenPositions,
			MaxHoldTimeMs:    req.MaxHoldTimeMs,
		},
		Fees: domain.FeeConfig{
			EntryRate:      req.EntryFeeRate,
			ExitRate:       req.ExitFeeRate,
			PriceIncrement: req.PriceIncrement,
		},
		EquityIntervalMs: req.EquityIntervalMs,
		MarkOnFunding:    req.MarkOnFunding,
	}

	snap, err := s.engine.Create(r.Context(), cfg)
	if err != nil {
		if errors.Is(err, session.ErrInvalidConfig) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Errorf("create session: %v", err)
		writeError(w, http.StatusInternalServerError, "create session failed")
		return
	}

	writeJSON(w, http.StatusCreated, toSessionResponse(snap))
}

func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	snaps, err := s.engine.List(r.Context())
	if err != nil {
		s.logger.Errorf("list sessions: %v", err)
		writeError(w, http.StatusInternalServerError, "list sessions failed")
		return
	}

	resp := make([]sessionResponse, 0, len(snaps))
	for _, snap := range snaps {
		resp = append(resp, toSessionResponse(snap))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleGet(w http.ResponseWriter, r *http.Request) {
	snap, err := s.engine.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		if errors.Is(err, session.ErrNotFound) {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		s.logger.Errorf("get session: %v", err)
		writeError(w, http.StatusInternalServerError, "get session failed")
		return
	}
	writeJSON(w, http.StatusOK, toSessionResponse(snap))
}

// command adapts an engine lifecycle method into a handler.
func (s *Server) command(fn func(id string) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := r.PathValue("id")
		if err := fn(id); err != nil {
			switch {
			case errors.Is(err, session.ErrNotFound):
				writeError(w, http.StatusNotFound, "session not found")
			case errors.Is(err, session.ErrTerminal):
				writeError(w, http.StatusConflict, err.Error())
			default:
				s.logger.Errorf("session command: %v", err)
				writeError(w, http.StatusInternalServerError, "command failed")
			}
			return
		}

		snap, err := s.engine.Get(r.Context(), id)
		if err != nil {
			writeError(w, http.StatusNotFound, "session not found")
			return
		}
		writeJSON(w, http.StatusOK, toSessionResponse(snap))
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	err := s.engine.Delete(r.Context(), r.PathValue("id"))
	switch {
	case err == nil:
		w.WriteHeader(http.StatusNoContent)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, storage.ErrNotFound):
		writeError(w, http.StatusNotFound, "session not found")
	case errors.Is(err, storage.ErrInvalidInput):
		writeError(w, http.StatusConflict, "session must be stopped before delete")
	default:
		s.logger.Errorf("delete session: %v", err)
		writeError(w, http.StatusInternalServerError, "delete session failed")
	}
}

// StatusResponse is the JSON response for /status endpoint.
type StatusResponse struct {
	Status   string         `json:"status"`
	Uptime   string         `json:"uptime"`
	Sessions map[string]int `json:"sessions"`
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	counts := map[string]int{}
	if snaps, err := s.engine.List(r.Context()); err == nil {
		for _, snap := range snaps {
			counts[string(snap.Status)]++
		}
	}

	writeJSON(w, http.StatusOK, StatusResponse{
		Status:   "running",
		Uptime:   time.Since(s.started).String(),
		Sessions: counts,
	})
}

// sessionResponse is the JSON shape of a session snapshot. Decimals are
// rendered as strings to keep exact values exact.
type sessionResponse struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	Symbol      string `json:"symbol"`
	StrategyRef string `json:"strategy_ref"`
	Mode        string `json:"mode"`
	Status      string `json:"status"`

	InitialCapital string `json:"initial_capital"`
	CurrentCapital string `json:"current_capital"`
	RealizedPnl    string `json:"realized_pnl"`
	TotalFees      string `json:"total_fees"`

	OpenPositions int `json:"open_positions"`
	TotalTrades   int `json:"total_trades"`
	WinningTrades int `json:"winning_trades"`
	LosingTrades  int `json:"losing_trades"`

	LastPrice   string `json:"last_price"`
	CreatedAt   int64  `json:"created_at"`
	StartedAt   int64  `json:"started_at,omitempty"`
	StoppedAt   int64  `json:"stopped_at,omitempty"`
	LastEventAt int64  `json:"last_event_at,omitempty"`
}

func toSessionResponse(snap *domain.SessionSnapshot) sessionResponse {
	return sessionResponse{
		ID:          snap.ID,
		Name:        snap.Name,
		Symbol:      snap.Symbol,
		StrategyRef: snap.StrategyRef,
		Mode:        string(snap.Mode),
		Status:      string(snap.Status),

		InitialCapital: snap.InitialCapital.String(),
		CurrentCapital: snap.CurrentCapital.String(),
		RealizedPnl:    snap.RealizedPnl.String(),
		TotalFees:      snap.TotalFees.String(),

		OpenPositions: len(snap.OpenPositions),
		TotalTrades:   snap.TotalTrades,
		WinningTrades: snap.WinningTrades,
		LosingTrades:  snap.LosingTrades,

		LastPrice:   snap.LastPrice.String(),
		CreatedAt:   snap.CreatedAt,
		StartedAt:   snap.StartedAt,
		StoppedAt:   snap.StoppedAt,
		LastEventAt: snap.LastEventAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
