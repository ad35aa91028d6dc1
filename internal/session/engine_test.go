package session

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"trading-lab/internal/domain"
	"trading-lab/internal/feed"
	"trading-lab/internal/storage"
	"trading-lab/internal/storage/memory"
	"trading-lab/internal/strategy"
	"trading-lab/internal/stream"
)

// pushAdapter is a manually driven feed.Adapter so engine tests control
// exactly when events reach the session.
type pushAdapter struct {
	events    chan domain.MarketEvent
	closeOnce sync.Once
}

func newPushAdapter() *pushAdapter {
	return &pushAdapter{events: make(chan domain.MarketEvent, 64)}
}

func (a *pushAdapter) Connect(context.Context) error { return nil }

func (a *pushAdapter) Events() <-chan domain.MarketEvent { return a.events }

func (a *pushAdapter) Push(ev domain.MarketEvent) { a.events <- ev }

func (a *pushAdapter) Close() error {
	a.closeOnce.Do(func() { close(a.events) })
	return nil
}

type engineFixture struct {
	engine   *Engine
	hub      *stream.Hub
	adapter  *pushAdapter
	sessions *memory.SessionStore
	trades   *memory.TradeStore
	equity   *memory.EquityStore
}

func newFixture(t *testing.T, steps []strategy.Step) *engineFixture {
	t.Helper()
	adapter := newPushAdapter()
	hub := stream.NewHub(stream.Options{
		Factory: func(context.Context, domain.StreamKey) (feed.Adapter, error) {
			return adapter, nil
		},
	})
	f := &engineFixture{
		hub:      hub,
		adapter:  adapter,
		sessions: memory.NewSessionStore(),
		trades:   memory.NewTradeStore(),
		equity:   memory.NewEquityStore(),
	}
	engine, err := NewEngine(Options{
		Hub:      hub,
		Sessions: f.sessions,
		Trades:   f.trades,
		Equity:   f.equity,
		Resolver: func(string) (strategy.Provider, error) {
			return strategy.NewScripted("test", steps), nil
		},
	})
	if err != nil {
		t.Fatalf("NewEngine: %v", err)
	}
	f.engine = engine
	t.Cleanup(func() {
		engine.Close()
		hub.Close()
	})
	return f
}

func (f *engineFixture) create(t *testing.T, cfg domain.SessionConfig) string {
	t.Helper()
	snap, err := f.engine.Create(context.Background(), cfg)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	return snap.ID
}

// waitSnapshot polls the stored snapshot until cond holds.
func (f *engineFixture) waitSnapshot(t *testing.T, id string, cond func(*domain.SessionSnapshot) bool) *domain.SessionSnapshot {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		snap, err := f.engine.Get(context.Background(), id)
		if err == nil && cond(snap) {
			return snap
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("timeout waiting for session snapshot condition")
	return nil
}

// Round trip through the full stack: hub delivery, scripted signals, store
// snapshots. Mirrors the account round-trip numbers.
func TestEngineRoundTrip(t *testing.T) {
	f := newFixture(t, []strategy.Step{
		{At: 1000, Signal: strategy.SignalBuy},
		{At: 2000, Signal: strategy.SignalSell},
	})
	id := f.create(t, baseConfig())

	f.adapter.Push(tradeEvent(1000, "100"))
	snap := f.waitSnapshot(t, id, func(s *domain.SessionSnapshot) bool { return len(s.OpenPositions) == 1 })
	if !snap.OpenPositions[0].EntryPrice.Equal(dec("100")) {
		t.Errorf("entry price = %s, want 100", snap.OpenPositions[0].EntryPrice)
	}

	f.adapter.Push(tradeEvent(2000, "110"))
	snap = f.waitSnapshot(t, id, func(s *domain.SessionSnapshot) bool { return s.TotalTrades == 1 })
	if !snap.CurrentCapital.Equal(dec("10979")) {
		t.Errorf("capital = %s, want 10979", snap.CurrentCapital)
	}
	if snap.WinningTrades != 1 {
		t.Errorf("winning trades = %d, want 1", snap.WinningTrades)
	}

	trades, err := f.trades.ListBySession(context.Background(), id)
	if err != nil {
		t.Fatalf("ListBySession: %v", err)
	}
	if len(trades) != 1 || trades[0].ExitReason != domain.ExitSignal {
		t.Fatalf("want one signal trade in the store, got %+v", trades)
	}
}

// stop() with an open position force-closes it at the last known price
// with exit reason manual, and a second stop is a silent no-op.
func TestEngineStopIsIdempotentAndForceCloses(t *testing.T) {
	f := newFixture(t, []strategy.Step{{At: 1000, Signal: strategy.SignalBuy}})
	id := f.create(t, baseConfig())

	f.adapter.Push(tradeEvent(1000, "100"))
	f.waitSnapshot(t, id, func(s *domain.SessionSnapshot) bool { return len(s.OpenPositions) == 1 })

	if err := f.engine.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	snap := f.waitSnapshot(t, id, func(s *domain.SessionSnapshot) bool { return s.Status == domain.StatusStopped })
	if len(snap.OpenPositions) != 0 {
		t.Errorf("open positions after stop = %d, want 0", len(snap.OpenPositions))
	}
	if snap.TotalTrades != 1 {
		t.Errorf("total trades = %d, want 1", snap.TotalTrades)
	}

	trades, _ := f.trades.ListBySession(context.Background(), id)
	if len(trades) != 1 || trades[0].ExitReason != domain.ExitManual {
		t.Fatalf("want one manual close, got %+v", trades)
	}

	if err := f.engine.Stop(id); err != nil {
		t.Errorf("second Stop: %v, want nil", err)
	}
	after, _ := f.engine.Get(context.Background(), id)
	if after.TotalTrades != 1 || !after.CurrentCapital.Equal(snap.CurrentCapital) {
		t.Error("second Stop changed session state")
	}
}

func TestEnginePauseResumeAfterStop(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, baseConfig())

	if err := f.engine.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	if err := f.engine.Pause(id); !errors.Is(err, ErrTerminal) {
		t.Errorf("Pause after stop = %v, want ErrTerminal", err)
	}
	if err := f.engine.Resume(id); !errors.Is(err, ErrTerminal) {
		t.Errorf("Resume after stop = %v, want ErrTerminal", err)
	}
}

func TestEngineDeleteOnlyWhenStopped(t *testing.T) {
	f := newFixture(t, nil)
	id := f.create(t, baseConfig())

	if err := f.engine.Delete(context.Background(), id); !errors.Is(err, storage.ErrInvalidInput) {
		t.Fatalf("Delete running = %v, want ErrInvalidInput", err)
	}
	if err := f.engine.Stop(id); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	f.waitSnapshot(t, id, func(s *domain.SessionSnapshot) bool { return s.Status == domain.StatusStopped })
	if err := f.engine.Delete(context.Background(), id); err != nil {
		t.Fatalf("Delete stopped: %v", err)
	}
	if _, err := f.engine.Get(context.Background(), id); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestEngineCreateValidation(t *testing.T) {
	f := newFixture(t, nil)
	cfg := baseConfig()
	cfg.InitialCapital = dec("0")
	if _, err := f.engine.Create(context.Background(), cfg); !errors.Is(err, ErrInvalidConfig) {
		t.Fatalf("Create = %v, want ErrInvalidConfig", err)
	}
	list, _ := f.engine.List(context.Background())
	if len(list) != 0 {
		t.Errorf("rejected session was persisted")
	}
}

func TestEngineUnknownSession(t *testing.T) {
	f := newFixture(t, nil)
	if err := f.engine.Pause("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Pause unknown = %v, want ErrNotFound", err)
	}
	if err := f.engine.Stop("nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Stop unknown = %v, want ErrNotFound", err)
	}
}

// Paused sessions discard events outright: the scripted BUY is never even
// evaluated until the session resumes, so a later event at a different
// price opens the position.
func TestPausedSessionDiscardsEvents(t *testing.T) {
	f := newFixture(t, []strategy.Step{{At: 1000, Signal: strategy.SignalBuy}})
	id := f.create(t, baseConfig())

	// Drive the runner directly so the pause/event interleaving is exact.
	f.engine.mu.Lock()
	r := f.engine.runners[id]
	f.engine.mu.Unlock()

	if err := f.engine.Pause(id); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if stopped := r.handleEvent(context.Background(), tradeEvent(1000, "100")); stopped {
		t.Fatal("paused event stopped the session")
	}
	if got := len(r.acct.OpenPositions()); got != 0 {
		t.Fatalf("paused event opened a position")
	}

	if err := f.engine.Resume(id); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	r.handleEvent(context.Background(), tradeEvent(2000, "120"))
	open := r.acct.OpenPositions()
	if len(open) != 1 {
		t.Fatalf("open positions = %d, want 1", len(open))
	}
	if !open[0].EntryPrice.Equal(dec("120")) {
		t.Errorf("entry price = %s, want 120 (post-resume event)", open[0].EntryPrice)
	}
}

// Closing the engine stops every session gracefully and closes the event
// stream.
func TestEngineClose(t *testing.T) {
	f := newFixture(t, nil)
	a := f.create(t, baseConfig())
	b := f.create(t, baseConfig())

	if err := f.engine.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	for _, id := range []string{a, b} {
		snap, err := f.engine.Get(context.Background(), id)
		if err != nil {
			t.Fatalf("Get %s: %v", id, err)
		}
		if snap.Status != domain.StatusStopped {
			t.Errorf("session %s status = %s, want stopped", id, snap.Status)
		}
	}
	// The event stream must be closed (draining terminates).
	for range f.engine.Events() {
	}
	if err := f.engine.Close(); err != nil {
		t.Errorf("second Close: %v", err)
	}
}

// A malformed event (non-positive price) is logged and discarded without
// touching the session.
func TestEngineDiscardsMalformedEvent(t *testing.T) {
	f := newFixture(t, []strategy.Step{{At: 1000, Signal: strategy.SignalBuy}})
	id := f.create(t, baseConfig())

	bad := tradeEvent(1000, "100")
	bad.Price = dec("0")
	f.adapter.Push(bad)
	f.adapter.Push(tradeEvent(2000, "105"))

	snap := f.waitSnapshot(t, id, func(s *domain.SessionSnapshot) bool { return len(s.OpenPositions) == 1 })
	if !snap.OpenPositions[0].EntryPrice.Equal(dec("105")) {
		t.Errorf("entry price = %s, want 105 (malformed tick skipped)", snap.OpenPositions[0].EntryPrice)
	}
}
